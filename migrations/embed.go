// Package migrations embeds SQL migrations for the local store.
package migrations

import "embed"

// FS holds the embedded migration files applied by internal/migrate.
//
//go:embed *.sql
var FS embed.FS
