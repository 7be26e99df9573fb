// Package migrations holds the versioned database schema of the contact directory.
package migrations

import "embed"

// FS contains the goose migration files.
//
//go:embed *.sql
var FS embed.FS
