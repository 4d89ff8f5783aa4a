// Package migrations embeds the SQL schema applied by `api-gateway migrate`.
package migrations

import "embed"

// FS holds the ordered *.sql migration files.
//
//go:embed *.sql
var FS embed.FS

// Files lists migrations in the order they must be applied.
var Files = []string{
	"001_create_tasks.sql",
	"002_create_credits.sql",
}
