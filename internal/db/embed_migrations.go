package db

import "embed"

// MigrationFS embeds the SQL migrations for the playback_leases and playback_heartbeats tables.
// Used by the migrate runner (cmd/migrate) and by integration tests.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
