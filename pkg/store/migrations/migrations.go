// Package migrations embeds the versioned Postgres schema.
package migrations

import "embed"

//go:embed postgres/*.sql
var Postgres embed.FS
