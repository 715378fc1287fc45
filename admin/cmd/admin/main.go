package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"

	"github.com/malbeclabs/lakeql/admin/pkg/sampledata"
	"github.com/malbeclabs/lakeql/agent/pkg/datasource"
	"github.com/malbeclabs/lakeql/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Datasource configuration
	typeFlag := flag.String("type", string(datasource.TypeClickHouse), "Datasource type: clickhouse, postgres or sqlite (or set DATASOURCE_TYPE env var)")
	urlFlag := flag.String("database-url", "", "Postgres connection URL or SQLite file path (or set DATABASE_URL env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Commands
	migrateFlag := flag.Bool("migrate", false, "Install the sample sales dataset using goose migrations")
	migrateStatusFlag := flag.Bool("migrate-status", false, "Show sample dataset migration status")
	resetFlag := flag.Bool("reset", false, "Roll back all sample dataset migrations, dropping its tables and views")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	flag.Parse()

	log := logger.New(*verboseFlag)

	// Override flags with environment variables if set
	if v := os.Getenv("DATASOURCE_TYPE"); v != "" {
		*typeFlag = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		*urlFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_ADDR_TCP"); v != "" {
		*clickhouseAddrFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		*clickhouseDatabaseFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_USERNAME"); v != "" {
		*clickhouseUsernameFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		*clickhousePasswordFlag = v
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}

	cfg := datasource.Config{
		Type: datasource.Type(strings.ToLower(*typeFlag)),
		URL:  *urlFlag,
		ClickHouse: datasource.ClickHouseConfig{
			Addr:     *clickhouseAddrFlag,
			Database: *clickhouseDatabaseFlag,
			Username: *clickhouseUsernameFlag,
			Password: *clickhousePasswordFlag,
			Secure:   *clickhouseSecureFlag,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case *migrateFlag:
		return sampledata.Migrate(ctx, log, cfg)
	case *migrateStatusFlag:
		return sampledata.Status(ctx, log, cfg)
	case *resetFlag:
		if !*yesFlag && !confirm(fmt.Sprintf("This drops the sample tables from the %s database. Continue?", cfg.Type)) {
			log.Info("reset cancelled")
			return nil
		}
		return sampledata.Reset(ctx, log, cfg)
	}

	flag.Usage()
	return nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
