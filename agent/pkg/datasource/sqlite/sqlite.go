package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"

	_ "modernc.org/sqlite" // SQLite driver
)

const driverName = "sqlite"

// Config holds the configuration for a SQLite source.
type Config struct {
	Logger *slog.Logger
	DB     *sql.DB

	MaxResultRows int
	QueryTimeout  time.Duration
}

// Validate checks the config and applies defaults.
func (cfg *Config) Validate() error {
	if cfg.DB == nil {
		return fmt.Errorf("sqlite db is required")
	}
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = datasource.DefaultMaxResultRows
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = datasource.DefaultQueryTimeout
	}
	return nil
}

// Source runs queries against a SQLite database file opened read-only.
type Source struct {
	log *slog.Logger
	cfg Config
}

// New creates a source over an open database.
func New(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{log: cfg.Logger, cfg: cfg}, nil
}

// ReadOnlyDSN builds a DSN that opens path read-only with query_only set on
// every connection.
func ReadOnlyDSN(path string) string {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "mode=ro&_pragma=query_only(1)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Open opens the database file at cfg.URL.
func Open(ctx context.Context, log *slog.Logger, cfg datasource.Config) (*Source, error) {
	db, err := sql.Open("sqlite", ReadOnlyDSN(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := datasource.PingWithRetry(ctx, log, driverName, db.PingContext); err != nil {
		_ = db.Close()
		return nil, err
	}
	if log != nil {
		log.Info("datasource: opened sqlite database", "path", cfg.URL)
	}
	return New(Config{
		Logger:        log,
		DB:            db,
		MaxResultRows: cfg.MaxResultRows,
		QueryTimeout:  cfg.QueryTimeout,
	})
}

func (s *Source) Dialect() string { return "SQLite" }

func (s *Source) Ping(ctx context.Context) error { return s.cfg.DB.PingContext(ctx) }

func (s *Source) Close() error { return s.cfg.DB.Close() }

// Run executes a query and returns up to MaxResultRows rows.
func (s *Source) Run(ctx context.Context, query string) (*workflow.QueryResult, error) {
	query = datasource.TrimQuery(query)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.run(ctx, query)
	duration := time.Since(start)
	metrics.RecordDatasourceQuery(driverName, duration, err)
	if err != nil {
		return nil, datasource.ExecutionError(err)
	}
	if s.log != nil {
		s.log.Debug("sqlite: query complete", "rows", result.Count, "truncated", result.Truncated, "duration", duration)
	}
	return result, nil
}

func (s *Source) run(ctx context.Context, query string) (*workflow.QueryResult, error) {
	rows, err := s.cfg.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return datasource.CollectRows(rows, s.cfg.MaxResultRows)
}
