// Package db provides the embedded database schema.
package db

import _ "embed"

// Schema contains the idempotent DDL of every table the engine uses.
//
//go:embed migrations/001_schema.sql
var Schema string
