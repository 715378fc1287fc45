package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/malbeclabs/lakeql/agent/pkg/catalog"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/agent/pkg/redact"
	"github.com/malbeclabs/lakeql/agent/pkg/workflow"
)

const (
	DefaultAnthropicModel = anthropic.ModelClaudeHaiku4_5
	DefaultMaxTokens      = 4096
)

// Config holds the API configuration.
type Config struct {
	Datasource datasource.Config

	AnthropicModel anthropic.Model
	MaxTokens      int64

	MaxRetries     int
	RetryUnsafe    bool
	SchemaCacheTTL time.Duration

	Redact redact.Config
}

// Load reads the configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Datasource: datasource.Config{
			Type: datasource.Type(strings.ToLower(envOr("DATASOURCE_TYPE", string(datasource.TypeClickHouse)))),
			URL:  os.Getenv("DATABASE_URL"),
			ClickHouse: datasource.ClickHouseConfig{
				Addr:     envOr("CLICKHOUSE_ADDR_TCP", "localhost:9000"),
				Database: envOr("CLICKHOUSE_DATABASE", "default"),
				Username: envOr("CLICKHOUSE_USERNAME", "default"),
				Password: os.Getenv("CLICKHOUSE_PASSWORD"),
				Secure:   os.Getenv("CLICKHOUSE_SECURE") == "true",
			},
		},
		AnthropicModel: anthropic.Model(envOr("ANTHROPIC_MODEL", string(DefaultAnthropicModel))),
		MaxTokens:      DefaultMaxTokens,
		MaxRetries:     workflow.DefaultMaxRetries,
		RetryUnsafe:    os.Getenv("RETRY_UNSAFE") == "true",
		SchemaCacheTTL: catalog.DefaultCacheTTL,
		Redact: redact.Config{
			Mode: redact.Mode(strings.ToLower(envOr("REDACT_MODE", string(redact.ModePseudonymize)))),
		},
	}

	var err error
	if cfg.Datasource.MaxResultRows, err = envInt("MAX_RESULT_ROWS", datasource.DefaultMaxResultRows); err != nil {
		return nil, err
	}
	if cfg.Datasource.QueryTimeout, err = envDuration("QUERY_TIMEOUT", datasource.DefaultQueryTimeout); err != nil {
		return nil, err
	}
	if cfg.Datasource.SampleValues, err = envBool("SCHEMA_SAMPLE_VALUES", true); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = envInt("MAX_RETRIES", workflow.DefaultMaxRetries); err != nil {
		return nil, err
	}
	if cfg.SchemaCacheTTL, err = envDuration("SCHEMA_CACHE_TTL", catalog.DefaultCacheTTL); err != nil {
		return nil, err
	}
	if cfg.Redact.Names, err = envBool("REDACT_NAMES", false); err != nil {
		return nil, err
	}

	if err := cfg.Redact.Validate(); err != nil {
		return nil, fmt.Errorf("invalid REDACT_MODE: %w", err)
	}
	if err := cfg.Datasource.Validate(); err != nil {
		return nil, fmt.Errorf("invalid datasource config: %w", err)
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func envBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return b, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}
