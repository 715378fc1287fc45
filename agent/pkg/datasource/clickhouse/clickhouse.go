package clickhouse

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/agent/pkg/metrics"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
)

const driverName = "clickhouse"

// Config holds the configuration for a ClickHouse source.
type Config struct {
	Logger *slog.Logger
	Conn   driver.Conn

	Database        string
	MaxResultRows   int
	QueryTimeout    time.Duration
	SampleValues    bool
	MaxSampleValues int // Distinct values collected per categorical column (default 10)
}

// Validate checks the config and applies defaults.
func (cfg *Config) Validate() error {
	if cfg.Conn == nil {
		return fmt.Errorf("clickhouse connection is required")
	}
	if cfg.Database == "" {
		return fmt.Errorf("database is required")
	}
	if cfg.MaxResultRows <= 0 {
		cfg.MaxResultRows = datasource.DefaultMaxResultRows
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = datasource.DefaultQueryTimeout
	}
	if cfg.MaxSampleValues <= 0 {
		cfg.MaxSampleValues = 10
	}
	return nil
}

// Source runs read-only queries against ClickHouse and describes its schema.
type Source struct {
	log *slog.Logger
	cfg Config
}

// New creates a source over an open connection.
func New(cfg Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Source{log: cfg.Logger, cfg: cfg}, nil
}

// Open connects to ClickHouse and creates a source.
func Open(ctx context.Context, log *slog.Logger, cfg datasource.Config) (*Source, error) {
	ch := cfg.ClickHouse
	opts := &clickhouse.Options{
		Addr: []string{ch.Addr},
		Auth: clickhouse.Auth{
			Database: ch.Database,
			Username: ch.Username,
			Password: ch.Password,
		},
		DialTimeout:     5 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
	// ClickHouse Cloud requires TLS on the secure native port.
	if ch.Secure {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create clickhouse connection: %w", err)
	}
	if err := datasource.PingWithRetry(ctx, log, driverName, conn.Ping); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if log != nil {
		log.Info("datasource: connected to clickhouse", "addr", ch.Addr, "database", ch.Database, "secure", ch.Secure)
	}

	return New(Config{
		Logger:        log,
		Conn:          conn,
		Database:      ch.Database,
		MaxResultRows: cfg.MaxResultRows,
		QueryTimeout:  cfg.QueryTimeout,
		SampleValues:  cfg.SampleValues,
	})
}

func (s *Source) Dialect() string { return "ClickHouse" }

func (s *Source) Ping(ctx context.Context) error { return s.cfg.Conn.Ping(ctx) }

func (s *Source) Close() error { return s.cfg.Conn.Close() }

// readOnlyContext attaches per-query settings. readonly=2 rejects writes
// while still allowing the limit settings below to be applied.
func (s *Source) readOnlyContext(ctx context.Context) context.Context {
	return clickhouse.Context(ctx, clickhouse.WithSettings(clickhouse.Settings{
		"readonly":             2,
		"max_execution_time":   int(s.cfg.QueryTimeout.Seconds()),
		"max_result_rows":      s.cfg.MaxResultRows + 1,
		"result_overflow_mode": "break",
	}))
}

// Run executes a query and returns up to MaxResultRows rows.
func (s *Source) Run(ctx context.Context, query string) (*workflow.QueryResult, error) {
	query = datasource.TrimQuery(query)

	start := time.Now()
	result, err := s.run(s.readOnlyContext(ctx), query)
	duration := time.Since(start)
	metrics.RecordDatasourceQuery(driverName, duration, err)
	if err != nil {
		return nil, datasource.ExecutionError(err)
	}
	if s.log != nil {
		s.log.Debug("clickhouse: query complete", "rows", result.Count, "truncated", result.Truncated, "duration", duration)
	}
	return result, nil
}

func (s *Source) run(ctx context.Context, query string) (*workflow.QueryResult, error) {
	rows, err := s.cfg.Conn.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columnTypes := rows.ColumnTypes()
	columns := make([]string, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = ct.Name()
	}

	c := datasource.NewCollector(columns, s.cfg.MaxResultRows)
	for rows.Next() {
		// Scan into values typed by the column's driver type.
		values := make([]any, len(columnTypes))
		for i, ct := range columnTypes {
			values[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(values...); err != nil {
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
