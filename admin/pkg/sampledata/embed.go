package sampledata

import "embed"

//go:embed migrations/clickhouse/*.sql migrations/postgres/*.sql migrations/sqlite/*.sql
var MigrationsFS embed.FS
