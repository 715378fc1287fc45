package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/malbeclabs/lakeql/agent/pkg/validator"
)

type ValidateRequest struct {
	Query string `json:"query"`
}

// ValidateResponse reports whether a query would be allowed to run.
type ValidateResponse struct {
	Valid      bool     `json:"valid"`
	Kind       string   `json:"kind,omitempty"`
	Message    string   `json:"message,omitempty"`
	Keyword    string   `json:"keyword,omitempty"`
	Table      string   `json:"table,omitempty"`
	Column     string   `json:"column,omitempty"`
	Candidates []string `json:"candidates,omitempty"`
}

// PostValidate checks a query against the safety policy and the current
// schema without executing it.
func (s *Server) PostValidate(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ValidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}

	schema, err := s.catalog.Describe(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, internalError("Failed to load schema", err))
		return
	}

	resp := ValidateResponse{Valid: true}
	if err := validator.Validate(req.Query, schema); err != nil {
		var rej *validator.Rejection
		if !errors.As(err, &rej) {
			writeError(w, http.StatusInternalServerError, internalError("Failed to validate query", err))
			return
		}
		resp = ValidateResponse{
			Kind:       string(rej.Kind),
			Message:    rej.Error(),
			Keyword:    rej.Keyword,
			Table:      rej.Table,
			Column:     rej.Column,
			Candidates: rej.Candidates,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
