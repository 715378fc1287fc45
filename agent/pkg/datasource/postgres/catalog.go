package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

type columnRow struct {
	Table string
	Name  string
	Type  string
}

// Describe reads tables, views and foreign keys of the configured schema.
func (s *Source) Describe(ctx context.Context) (*catalog.Schema, error) {
	var (
		columns  []columnRow
		viewDefs map[string]string
		rels     []catalog.Relationship
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
	g.Go(func() error {
		var err error
		rels, err = s.fetchRelationships(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, datasource.SchemaError(err)
	}

	schema := &catalog.Schema{Database: s.cfg.Schema, Relationships: rels}
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
	schema.Sort()
	return schema, nil
}

func (s *Source) query(ctx context.Context, what, sql string, args ...any) (pgx.Rows, error) {
	start := time.Now()
	rows, err := s.cfg.Pool.Query(ctx, sql, args...)
	metrics.RecordDatasourceQuery(driverName, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", what, err)
	}
	return rows, nil
}

func (s *Source) fetchColumns(ctx context.Context) ([]columnRow, error) {
	rows, err := s.query(ctx, "columns", `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position
	`, s.cfg.Schema)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[columnRow])
}

func (s *Source) fetchViews(ctx context.Context) (map[string]string, error) {
	rows, err := s.query(ctx, "views", `
		SELECT viewname, definition
		FROM pg_catalog.pg_views
		WHERE schemaname = $1
	`, s.cfg.Schema)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	views := make(map[string]string)
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, fmt.Errorf("failed to scan view: %w", err)
		}
		views[name] = def
	}
	return views, rows.Err()
}

func (s *Source) fetchRelationships(ctx context.Context) ([]catalog.Relationship, error) {
	rows, err := s.query(ctx, "foreign keys", `
		SELECT
			kcu.table_name,
			kcu.column_name,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema = $1
		ORDER BY kcu.table_name, kcu.column_name
	`, s.cfg.Schema)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[catalog.Relationship])
}
