package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
)

const driverName = "postgres"

// Config holds the configuration for a PostgreSQL source.
type Config struct {
	Logger *slog.Logger
	Pool   *pgxpool.Pool

	Schema        string // Schema to describe (default "public")
	MaxResultRows int
	QueryTimeout  time.Duration
}

// Validate checks the config and applies defaults.
func (cfg *Config) Validate() error {
	if cfg.Pool == nil {
		return fmt.Errorf("postgres pool is required")
	}
	if cfg.Schema == "" {
		cfg.Schema = "public"
	}
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = datasource.DefaultMaxResultRows
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = datasource.DefaultQueryTimeout
	}
	return nil
}

// Source runs queries inside read-only transactions and describes the
// schema from information_schema.
type Source struct {
	log *slog.Logger
	cfg Config
}

// New creates a source over an open pool.
func New(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{log: cfg.Logger, cfg: cfg}, nil
}

// Open creates a connection pool from a postgres:// URL.
func Open(ctx context.Context, log *slog.Logger, cfg datasource.Config) (*Source, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres config: %w", err)
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := datasource.PingWithRetry(ctx, log, driverName, pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}
	if log != nil {
		log.Info("datasource: connected to postgres", "host", poolConfig.ConnConfig.Host, "database", poolConfig.ConnConfig.Database)
	}

	return New(Config{
		Logger:        log,
		Pool:          pool,
		MaxResultRows: cfg.MaxResultRows,
		QueryTimeout:  cfg.QueryTimeout,
	})
}

func (s *Source) Dialect() string { return "PostgreSQL" }

func (s *Source) Ping(ctx context.Context) error { return s.cfg.Pool.Ping(ctx) }

func (s *Source) Close() error {
	s.cfg.Pool.Close()
	return nil
}

// Run executes a query in a read-only transaction that is always rolled back.
func (s *Source) Run(ctx context.Context, query string) (*workflow.QueryResult, error) {
	query = datasource.TrimQuery(query)

	start := time.Now()
	result, err := s.run(ctx, query)
	duration := time.Since(start)
	metrics.RecordDatasourceQuery(driverName, duration, err)
	if err != nil {
		return nil, datasource.ExecutionError(err)
	}
	if s.log != nil {
		s.log.Debug("postgres: query complete", "rows", result.Count, "truncated", result.Truncated, "duration", duration)
	}
	return result, nil
}

func (s *Source) run(ctx context.Context, query string) (*workflow.QueryResult, error) {
	tx, err := s.cfg.Pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	timeout := fmt.Sprintf("SET LOCAL statement_timeout = %d", s.cfg.QueryTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, timeout); err != nil {
		return nil, fmt.Errorf("failed to set statement timeout: %w", err)
	}

	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	c := datasource.NewCollector(columns, s.cfg.MaxResultRows)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		for i := range values {
			values[i] = normalize(values[i])
		}
		if !c.Add(values) {
			break
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return c.Result(), nil
}

// normalize converts pgx values without a useful text form.
func normalize(v any) any {
	switch x := v.(type) {
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		if f, err := x.Float64Value(); err == nil && f.Valid {
			return f.Float64
		}
	}
	return v
}
