package store

import "embed"

// MigrationsFS embeds the sql-migrate migration files applied by Migrate.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS
