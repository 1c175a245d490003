package migrations

import "embed"

// FS contains embedded SQLite migrations for roll user state.
//
//go:embed *.sql
var FS embed.FS
