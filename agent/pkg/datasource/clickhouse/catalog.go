package clickhouse

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentSamples bounds the sample-value queries issued per describe.
const maxConcurrentSamples = 4

type columnRow struct {
	Table string
	Name  string
	Type  string
}

// Describe reads table columns and view definitions from the system tables.
func (s *Source) Describe(ctx context.Context) (*catalog.Schema, error) {
	var (
		columns  []columnRow
		viewDefs map[string]string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		columns, err = s.fetchColumns(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		viewDefs, err = s.fetchViews(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, datasource.SchemaError(err)
	}

	schema := &catalog.Schema{Database: s.cfg.Database}
	index := make(map[string]int)
	for _, c := range columns {
		i, ok := index[c.Table]
		if !ok {
			def, isView := viewDefs[c.Table]
			schema.Tables = append(schema.Tables, catalog.Table{Name: c.Table, View: isView, Definition: def})
			i = len(schema.Tables) - 1
			index[c.Table] = i
		}
		schema.Tables[i].Columns = append(schema.Tables[i].Columns, catalog.Column{Name: c.Name, Type: c.Type})
	}

	if s.cfg.SampleValues {
		s.fetchSamples(ctx, schema)
	}
	schema.Sort()
	return schema, nil
}

func (s *Source) fetchColumns(ctx context.Context) ([]columnRow, error) {
	start := time.Now()
	rows, err := s.cfg.Conn.Query(ctx, `
		SELECT
			table,
			name,
			type
		FROM system.columns
		WHERE database = $1
		  AND table NOT LIKE 'stg_%'
		  AND table NOT LIKE '.inner%'
		ORDER BY table, position
	`, s.cfg.Database)
	metrics.RecordDatasourceQuery(driverName, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns: %w", err)
	}
	defer rows.Close()

	var columns []columnRow
	for rows.Next() {
		var c columnRow
		if err := rows.Scan(&c.Table, &c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}

func (s *Source) fetchViews(ctx context.Context) (map[string]string, error) {
	start := time.Now()
	rows, err := s.cfg.Conn.Query(ctx, `
		SELECT
			name,
			as_select
		FROM system.tables
		WHERE database = $1
		  AND engine IN ('View', 'MaterializedView')
		  AND name NOT LIKE 'stg_%'
	`, s.cfg.Database)
	metrics.RecordDatasourceQuery(driverName, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch views: %w", err)
	}
	defer rows.Close()

	views := make(map[string]string)
	for rows.Next() {
		var name, asSelect string
		if err := rows.Scan(&name, &asSelect); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		views[name] = asSelect
	}
	return views, rows.Err()
}

// fetchSamples fills in distinct values for categorical columns of base
// tables. Failures only cost the hint, so they are logged and skipped.
func (s *Source) fetchSamples(ctx context.Context, schema *catalog.Schema) {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSamples)

	for ti := range schema.Tables {
		t := &schema.Tables[ti]
		if t.View {
			continue
		}
		for ci := range t.Columns {
			col := &t.Columns[ci]
			if !catalog.IsCategoricalType(col.Type) || catalog.ShouldSkipColumn(col.Name) {
				continue
			}
			g.Go(func() error {
				values, err := s.sampleColumn(gctx, t.Name, col.Name)
				if err != nil {
					if s.log != nil {
						s.log.Debug("clickhouse: failed to sample column", "table", t.Name, "column", col.Name, "error", err)
					}
					return nil
				}
				mu.Lock()
				col.Samples = values
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (s *Source) sampleColumn(ctx context.Context, table, column string) ([]string, error) {
	query := fmt.Sprintf(
		"SELECT DISTINCT toString(%s) AS v FROM %s.%s WHERE %s IS NOT NULL LIMIT %d",
		quoteIdent(column), quoteIdent(s.cfg.Database), quoteIdent(table), quoteIdent(column), s.cfg.MaxSampleValues+1,
	)
	start := time.Now()
	rows, err := s.cfg.Conn.Query(s.readOnlyContext(ctx), query)
	metrics.RecordDatasourceQuery(driverName, time.Since(start), err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// More distinct values than the limit means the column is not categorical.
	if len(values) > s.cfg.MaxSampleValues {
		return nil, nil
	}
	return values, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "\\`") + "`"
}
