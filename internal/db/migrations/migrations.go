// Package migrations embeds the SQL files goose applies at boot (§4.K,
// §4.M), following the standard goose embed.FS convention.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
