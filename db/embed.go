// Package db provides the embedded database migrations.
package db

import "embed"

// Migrations holds the goose migrations applied at startup.
//
//go:embed migrations/*.sql
var Migrations embed.FS
