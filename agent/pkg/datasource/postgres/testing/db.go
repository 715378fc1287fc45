package pgtesting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// DBConfig holds the PostgreSQL test container configuration.
type DBConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *DBConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "test"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "postgres:16-alpine"
	}
	return nil
}

// DB represents a PostgreSQL test container.
type DB struct {
	log       *slog.Logger
	cfg       *DBConfig
	container *tcpg.PostgresContainer
}

// Close terminates the container.
func (db *DB) Close() {
	terminateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(terminateCtx); err != nil {
		db.log.Error("failed to terminate PostgreSQL container", "error", err)
	}
}

// NewDB starts a PostgreSQL container.
func NewDB(ctx context.Context, log *slog.Logger, cfg *DBConfig) (*DB, error) {
	if cfg == nil {
		cfg = &DBConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate PostgreSQL DB config: %w", err)
	}

	container, err := tcpg.Run(ctx,
		cfg.ContainerImage,
		tcpg.WithDatabase(cfg.Database),
		tcpg.WithUsername(cfg.Username),
		tcpg.WithPassword(cfg.Password),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}
	return &DB{log: log, cfg: cfg, container: container}, nil
}

// URL returns the connection URL for a database on the container.
func (db *DB) URL(ctx context.Context, database string) (string, error) {
	host, err := db.container.Host(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get PostgreSQL container host: %w", err)
	}
	port, err := db.container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return "", fmt.Errorf("failed to get PostgreSQL container port: %w", err)
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		db.cfg.Username, db.cfg.Password, host, port.Port(), database), nil
}

// NewTestDatabase creates a uniquely named database for one test and returns
// a pool connected to it. The database is dropped on cleanup.
func NewTestDatabase(t *testing.T, db *DB) (*pgxpool.Pool, string) {
	t.Helper()
	ctx := t.Context()

	databaseName := "test_" + strings.ReplaceAll(uuid.New().String(), "-", "")

	adminURL, err := db.URL(ctx, db.cfg.Database)
	require.NoError(t, err)
	admin, err := pgxpool.New(ctx, adminURL)
	require.NoError(t, err, "failed to create PostgreSQL admin pool")
	_, err = admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", databaseName))
	require.NoError(t, err, "failed to create test database")

	url, err := db.URL(ctx, databaseName)
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err, "failed to create PostgreSQL test pool")

	t.Cleanup(func() {
		pool.Close()
		_, _ = admin.Exec(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", databaseName))
		admin.Close()
	})
	return pool, url
}
