// Copyright 2024-2026 Aiku AI

package migrations

import "embed"

// FS contains embedded SQLite migrations for mapping storage.
//
//go:embed *.sql
var FS embed.FS
