// Package migrations provides the embedded SQL schema migrations
// (order matters: 001, 002, ...).
package migrations

import "embed"

// Files holds every .sql file in this directory.
//
//go:embed *.sql
var Files embed.FS
