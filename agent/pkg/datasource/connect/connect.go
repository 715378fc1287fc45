package connect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource/clickhouse"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource/postgres"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource/sqlite"
)

// Open validates cfg and opens the data source it selects.
func Open(ctx context.Context, log *slog.Logger, cfg datasource.Config) (datasource.Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid datasource config: %w", err)
	}

	switch cfg.Type {
	case datasource.TypeClickHouse:
		return clickhouse.Open(ctx, log, cfg)
	case datasource.TypePostgres:
		return postgres.Open(ctx, log, cfg)
	case datasource.TypeSQLite:
		return sqlite.Open(ctx, log, cfg)
	}
	return nil, fmt.Errorf("unsupported datasource type %q", cfg.Type)
}
