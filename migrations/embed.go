// Package migrations embeds the refiner configuration schema.
package migrations

import "embed"

// FS holds the numbered SQL migrations applied by the migrate command.
//
//go:embed *.sql
var FS embed.FS
