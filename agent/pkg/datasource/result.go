package datasource

import (
	"database/sql"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
)

// Collector accumulates rows into a QueryResult, stopping at a row cap.
type Collector struct {
	max    int
	result *workflow.QueryResult
}

// NewCollector creates a collector for the given columns. A non-positive
// maxRows uses DefaultMaxResultRows. Repeated column names, as produced by
// joins selecting same-named columns, are suffixed (region, region_2) so
// every value keeps its own key.
func NewCollector(columns []string, maxRows int) *Collector {
	if maxRows <= 0 {
		maxRows = DefaultMaxResultRows
	}
	return &Collector{
		max: maxRows,
		result: &workflow.QueryResult{
			Columns: uniqueColumns(columns),
			Rows:    []map[string]any{},
		},
	}
}

func uniqueColumns(columns []string) []string {
	out := make([]string, len(columns))
	taken := make(map[string]bool, len(columns))
	for _, col := range columns {
		taken[col] = true
	}
	first := make(map[string]bool, len(columns))
	for i, col := range columns {
		if !first[col] {
			first[col] = true
			out[i] = col
			continue
		}
		name := col
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s_%d", col, n)
		}
		taken[name] = true
		out[i] = name
	}
	return out
}

// Add appends a row of values in column order. It returns false once the cap
// is reached, marking the result truncated; callers stop reading then.
func (c *Collector) Add(values []any) bool {
	if len(c.result.Rows) >= c.max {
		c.result.Truncated = true
		return false
	}
	row := make(map[string]any, len(c.result.Columns))
	for i, col := range c.result.Columns {
		if i < len(values) {
			row[col] = SanitizeValue(values[i])
		}
	}
	c.result.Rows = append(c.result.Rows, row)
	return true
}

// Result returns the collected result.
func (c *Collector) Result() *workflow.QueryResult {
	c.result.Count = len(c.result.Rows)
	return c.result
}

// CollectRows reads database/sql rows into a result.
func CollectRows(rows *sql.Rows, maxRows int) (*workflow.QueryResult, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}
	c := NewCollector(columns, maxRows)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		if !c.Add(values) {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return c.Result(), nil
}

// SanitizeValue converts a driver value into a JSON-safe value: pointers are
// dereferenced, NaN and Inf become nil, byte slices become strings and UUIDs
// are formatted.
func SanitizeValue(v any) any {
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		return SanitizeValue(rv.Elem().Interface())
	}

	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
		return x
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case uuid.UUID:
		return x.String()
	case time.Time:
		return x
	case fmt.Stringer:
		return x.String()
	}
	return v
}
