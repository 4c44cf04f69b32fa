package repository

import "embed"

// MigrationsFS содержит миграции схемы с корнем в MigrationsPath.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

const MigrationsPath = "migrations"
