package migrations

import "github.com/uptrace/bun/migrate"

// Migrations holds the schema migrations, applied in file-name order.
var Migrations = migrate.NewMigrations()
