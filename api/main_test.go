package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
	"github.com/malbeclabs/lakeql/api/handlers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct{}

func (fakeRunner) RunTurn(context.Context, string, []workflow.Message) (*workflow.TurnResult, error) {
	return &workflow.TurnResult{Status: workflow.StatusDone, Summary: "ok"}, nil
}

type fakeSource struct{}

func (fakeSource) Describe(context.Context) (*catalog.Schema, error) {
	return &catalog.Schema{Tables: []catalog.Table{{Name: "sales", Columns: []catalog.Column{{Name: "region", Type: "String"}}}}}, nil
}

func (fakeSource) Ping(context.Context) error { return nil }

func TestRouter(t *testing.T) {
	srv, err := handlers.NewServer(nil, fakeRunner{}, fakeSource{}, fakeSource{})
	require.NoError(t, err)
	r := newRouter(srv, false)

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/healthz", "", http.StatusOK},
		{http.MethodGet, "/readyz", "", http.StatusOK},
		{http.MethodGet, "/api/version", "", http.StatusOK},
		{http.MethodGet, "/api/schema", "", http.StatusOK},
		{http.MethodPost, "/api/validate", `{"query":"SELECT region FROM sales"}`, http.StatusOK},
		{http.MethodPost, "/api/turn", `{"question":"regions?"}`, http.StatusOK},
		{http.MethodGet, "/api/turn", "", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/unknown", "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)
			assert.Equal(t, tt.want, rr.Code)
		})
	}
}
