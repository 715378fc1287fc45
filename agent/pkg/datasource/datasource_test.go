package datasource

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_Defaults(t *testing.T) {
	t.Parallel()

	cfg := Config{Type: TypeClickHouse, ClickHouse: ClickHouseConfig{Addr: "localhost:9000"}}
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "default", cfg.ClickHouse.Database)
	assert.Equal(t, "default", cfg.ClickHouse.Username)
	assert.Equal(t, DefaultMaxResultRows, cfg.MaxResultRows)
	assert.Equal(t, DefaultQueryTimeout, cfg.QueryTimeout)

	bad := Config{Type: TypeSQLite, URL: "x.db", MaxResultRows: -1}
	assert.Error(t, bad.Validate())
}

func TestCollector(t *testing.T) {
	t.Parallel()

	c := NewCollector([]string{"a", "b"}, 2)
	assert.True(t, c.Add([]any{1, "x"}))
	assert.True(t, c.Add([]any{2, nil}))
	assert.False(t, c.Add([]any{3, "z"}))

	r := c.Result()
	assert.Equal(t, 2, r.Count)
	assert.True(t, r.Truncated)
	assert.Equal(t, []map[string]any{{"a": 1, "b": "x"}, {"a": 2, "b": nil}}, r.Rows)
}

func TestCollector_Empty(t *testing.T) {
	t.Parallel()

	r := NewCollector([]string{"a"}, 0).Result()
	assert.Equal(t, 0, r.Count)
	assert.NotNil(t, r.Rows)
	assert.False(t, r.Truncated)
}

func TestCollector_DuplicateColumns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		columns []string
		want    []string
	}{
		{"distinct", []string{"region", "total"}, []string{"region", "total"}},
		{"joined same name", []string{"region", "region"}, []string{"region", "region_2"}},
		{"three copies", []string{"id", "id", "id"}, []string{"id", "id_2", "id_3"}},
		{"suffix already taken", []string{"region", "region", "region_2"}, []string{"region", "region_3", "region_2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewCollector(tt.columns, 10)
			values := make([]any, len(tt.columns))
			for i := range values {
				values[i] = i
			}
			require.True(t, c.Add(values))

			r := c.Result()
			assert.Equal(t, tt.want, r.Columns)
			require.Len(t, r.Rows, 1)
			assert.Len(t, r.Rows[0], len(tt.columns), "no value is dropped")
			for i, col := range tt.want {
				assert.Equal(t, i, r.Rows[0][col])
			}
		})
	}
}

type stringer struct{}

func (stringer) String() string { return "str" }

func TestSanitizeValue(t *testing.T) {
	t.Parallel()

	s := "hello"
	var nilPtr *string
	f := 1.5
	pf := &f
	id := uuid.MustParse("6f1c2a4e-7d5b-4b7a-9a0e-1f2d3c4b5a69")
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"nan", math.NaN(), nil},
		{"inf", math.Inf(1), nil},
		{"float32 nan", float32(math.NaN()), nil},
		{"float", 2.5, 2.5},
		{"bytes", []byte("abc"), "abc"},
		{"pointer", &s, "hello"},
		{"double pointer", &pf, 1.5},
		{"nil pointer", nilPtr, nil},
		{"raw uuid", [16]byte(id), id.String()},
		{"uuid", id, id.String()},
		{"time", now, now},
		{"stringer", stringer{}, "str"},
		{"int", int64(7), int64(7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SanitizeValue(tt.in))
		})
	}
}

func TestTrimQuery(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "SELECT 1", TrimQuery("  SELECT 1 ;; \n"))
	assert.Equal(t, "SELECT ';'", TrimQuery("SELECT ';'"))
}

func TestErrorWrapping(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	assert.ErrorIs(t, ExecutionError(cause), workflow.ErrExecutionFailed)
	assert.ErrorIs(t, ExecutionError(cause), cause)
	assert.ErrorIs(t, SchemaError(cause), workflow.ErrSchemaUnavailable)
}

func TestPingWithRetry(t *testing.T) {
	t.Parallel()

	calls := 0
	err := PingWithRetry(t.Context(), nil, "test", func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("not ready")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPingWithRetry_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err := PingWithRetry(ctx, nil, "test", func(context.Context) error { return errors.New("down") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping test")
}
