// Package db embeds the database schema and seed data.
package db

import _ "embed"

// Schema holds the idempotent DDL for catalog, cart, voucher, order, payment
// and API key tables.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedCatalog is the default demo catalog used by cmd/seed-db.
//
//go:embed seed/catalog.json
var SeedCatalog []byte
