// Package sampledata installs a small sales dataset into a database so the
// question-answering workflow can be tried end to end.
package sampledata

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver "pgx"
	"github.com/pressly/goose/v3"

	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	_ "modernc.org/sqlite" // database/sql driver "sqlite"
)

// slogGooseLogger adapts slog.Logger to goose.Logger interface
type slogGooseLogger struct {
	log *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.log.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Migrate applies all pending sample-data migrations.
func Migrate(ctx context.Context, log *slog.Logger, cfg datasource.Config) error {
	log.Info("running sample data migrations", "type", cfg.Type)
	return withGoose(log, cfg, func(db *sql.DB, dir string) error {
		if err := goose.UpContext(ctx, db, dir); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("sample data migrations completed successfully")
		return nil
	})
}

// Status logs the status of all sample-data migrations.
func Status(ctx context.Context, log *slog.Logger, cfg datasource.Config) error {
	log.Info("checking sample data migration status", "type", cfg.Type)
	return withGoose(log, cfg, func(db *sql.DB, dir string) error {
		return goose.StatusContext(ctx, db, dir)
	})
}

// Reset rolls back every sample-data migration.
func Reset(ctx context.Context, log *slog.Logger, cfg datasource.Config) error {
	log.Info("resetting sample data", "type", cfg.Type)
	return withGoose(log, cfg, func(db *sql.DB, dir string) error {
		if err := goose.DownToContext(ctx, db, dir, 0); err != nil {
			return fmt.Errorf("failed to roll back migrations: %w", err)
		}
		return nil
	})
}

// Version returns the currently applied migration version.
func Version(ctx context.Context, log *slog.Logger, cfg datasource.Config) (int64, error) {
	var version int64
	err := withGoose(log, cfg, func(db *sql.DB, _ string) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		version = v
		return err
	})
	return version, err
}

func withGoose(log *slog.Logger, cfg datasource.Config, fn func(db *sql.DB, dir string) error) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid datasource config: %w", err)
	}
	dialect, err := gooseDialect(cfg.Type)
	if err != nil {
		return err
	}

	db, err := newSQLDB(cfg)
	if err != nil {
		return fmt.Errorf("failed to create database connection for migrations: %w", err)
	}
	defer db.Close()

	goose.SetLogger(&slogGooseLogger{log: log})
	goose.SetBaseFS(MigrationsFS)
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	return fn(db, "migrations/"+string(cfg.Type))
}

func gooseDialect(t datasource.Type) (string, error) {
	switch t {
	case datasource.TypeClickHouse:
		return "clickhouse", nil
	case datasource.TypePostgres:
		return "postgres", nil
	case datasource.TypeSQLite:
		return "sqlite3", nil
	}
	return "", fmt.Errorf("unsupported datasource type %q", t)
}

// newSQLDB opens a writable database/sql connection for goose. The
// question-answering sources always open read-only connections instead.
func newSQLDB(cfg datasource.Config) (*sql.DB, error) {
	switch cfg.Type {
	case datasource.TypeClickHouse:
		options := &clickhouse.Options{
			Addr: []string{cfg.ClickHouse.Addr},
			Auth: clickhouse.Auth{
				Database: cfg.ClickHouse.Database,
				Username: cfg.ClickHouse.Username,
				Password: cfg.ClickHouse.Password,
			},
		}
		if cfg.ClickHouse.Secure {
			options.TLS = &tls.Config{}
		}
		return clickhouse.OpenDB(options), nil
	case datasource.TypePostgres:
		return sql.Open("pgx", cfg.URL)
	case datasource.TypeSQLite:
		return sql.Open("sqlite", cfg.URL)
	}
	return nil, fmt.Errorf("unsupported datasource type %q", cfg.Type)
}
