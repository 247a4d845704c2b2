// Package migrations holds the portal schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
