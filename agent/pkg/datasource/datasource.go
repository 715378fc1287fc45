package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
)

// Type names a supported database engine.
type Type string

const (
	TypeClickHouse Type = "clickhouse"
	TypePostgres   Type = "postgres"
	TypeSQLite     Type = "sqlite"
)

const (
	DefaultMaxResultRows = 1000
	DefaultQueryTimeout  = 30 * time.Second
	DefaultPingAttempts  = 5
)

// Source is a queryable database that can also describe its own schema.
type Source interface {
	workflow.QueryExecutor
	workflow.SchemaCatalog

	// Dialect is the SQL dialect name used in prompts.
	Dialect() string
	Ping(ctx context.Context) error
	Close() error
}

// ClickHouseConfig holds the ClickHouse connection settings.
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
	Secure   bool
}

// Config selects and configures a data source.
type Config struct {
	Type Type

	// URL is the connection string for postgres and the database file path
	// for sqlite.
	URL        string
	ClickHouse ClickHouseConfig

	MaxResultRows int           // Rows returned per query before truncating (default 1000)
	QueryTimeout  time.Duration // Per-query execution limit (default 30s)
	SampleValues  bool          // Include distinct values of categorical columns in the schema
}

// Validate checks the config and applies defaults.
func (c *Config) Validate() error {
	switch c.Type {
	case TypeClickHouse:
		if c.ClickHouse.Addr == "" {
			return fmt.Errorf("clickhouse address is required")
		}
		if c.ClickHouse.Database == "" {
			c.ClickHouse.Database = "default"
		}
		if c.ClickHouse.Username == "" {
			c.ClickHouse.Username = "default"
		}
	case TypePostgres, TypeSQLite:
		if c.URL == "" {
			return fmt.Errorf("database url is required for %s", c.Type)
		}
	case "":
		return fmt.Errorf("datasource type is required")
	default:
		return fmt.Errorf("unsupported datasource type %q", c.Type)
	}
	if c.MaxResultRows < 0 {
		return fmt.Errorf("max result rows must not be negative")
	}
	if c.MaxResultRows == 0 {
		c.MaxResultRows = DefaultMaxResultRows
	}
	if c.QueryTimeout == 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	return nil
}

// PingWithRetry pings a freshly opened source with exponential backoff, so
// that a database still starting up does not fail the process.
func PingWithRetry(ctx context.Context, log *slog.Logger, name string, ping func(context.Context) error) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		if err := ping(ctx); err != nil {
			if log != nil {
				log.Warn("datasource: ping failed, retrying", "datasource", name, "attempt", attempt, "error", err)
			}
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(DefaultPingAttempts),
	)
	if err != nil {
		return fmt.Errorf("failed to ping %s: %w", name, err)
	}
	return nil
}

// TrimQuery removes surrounding whitespace and trailing semicolons.
func TrimQuery(query string) string {
	query = strings.TrimSpace(query)
	for strings.HasSuffix(query, ";") {
		query = strings.TrimSpace(strings.TrimSuffix(query, ";"))
	}
	return query
}

// ExecutionError marks err as a query execution failure.
func ExecutionError(err error) error {
	return fmt.Errorf("%w: %w", workflow.ErrExecutionFailed, err)
}

// SchemaError marks err as a schema lookup failure.
func SchemaError(err error) error {
	return fmt.Errorf("%w: %w", workflow.ErrSchemaUnavailable, err)
}
