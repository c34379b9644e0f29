// Package migrations holds the PostgreSQL schema for the care program store.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
