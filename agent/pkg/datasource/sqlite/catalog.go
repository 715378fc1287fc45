package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
)

// Describe reads tables and views from sqlite_master and their columns and
// foreign keys from the table pragmas.
func (s *Source) Describe(ctx context.Context) (*catalog.Schema, error) {
	start := time.Now()
	schema, err := s.describe(ctx)
	metrics.RecordDatasourceQuery(driverName, time.Since(start), err)
	if err != nil {
		return nil, datasource.SchemaError(err)
	}
	schema.Sort()
	return schema, nil
}

func (s *Source) describe(ctx context.Context) (*catalog.Schema, error) {
	rows, err := s.cfg.DB.QueryContext(ctx, `
		SELECT name, type, COALESCE(sql, '')
		FROM sqlite_master
		WHERE type IN ('table', 'view')
		  AND name NOT LIKE 'sqlite_%'
		ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	schema := &catalog.Schema{Database: "main"}
	for rows.Next() {
		var name, kind, ddl string
		if err := rows.Scan(&name, &kind, &ddl); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		t := catalog.Table{Name: name, View: kind == "view"}
		if t.View {
			t.Definition = viewBody(ddl)
		}
		schema.Tables = append(schema.Tables, t)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range schema.Tables {
		t := &schema.Tables[i]
		if t.Columns, err = s.columns(ctx, t.Name); err != nil {
			return nil, err
		}
		if t.View {
			continue
		}
		rels, err := s.foreignKeys(ctx, t.Name)
		if err != nil {
			return nil, err
		}
		schema.Relationships = append(schema.Relationships, rels...)
	}
	return schema, nil
}

func (s *Source) columns(ctx context.Context, table string) ([]catalog.Column, error) {
	rows, err := s.cfg.DB.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch columns of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var cols []catalog.Column
	for rows.Next() {
		var c catalog.Column
		if err := rows.Scan(&c.Name, &c.Type); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

func (s *Source) foreignKeys(ctx context.Context, table string) ([]catalog.Relationship, error) {
	rows, err := s.cfg.DB.QueryContext(ctx, `SELECT "table", "from", COALESCE("to", '') FROM pragma_foreign_key_list(?)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch foreign keys of %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var rels []catalog.Relationship
	for rows.Next() {
		r := catalog.Relationship{FromTable: table}
		if err := rows.Scan(&r.ToTable, &r.FromColumn, &r.ToColumn); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		rels = append(rels, r)
	}
	return rels, rows.Err()
}

// viewBody strips "CREATE VIEW name AS" from a view's DDL.
func viewBody(ddl string) string {
	upper := strings.ToUpper(ddl)
	if i := strings.Index(upper, " AS "); i != -1 {
		return strings.TrimSpace(ddl[i+4:])
	}
	return ddl
}
