package migrations

import "embed"

// FS holds the SQL migration files for the mirror database.
//
//go:embed *.sql
var FS embed.FS
