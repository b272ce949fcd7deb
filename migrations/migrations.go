// Package migrations embeds the SQL schema files.
package migrations

import "embed"

// FS holds NNN_name.up.sql / NNN_name.down.sql pairs.
//
//go:embed *.sql
var FS embed.FS
