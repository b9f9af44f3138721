// Package migrations holds the embedded schema migrations for the indexer
// database. Migrations are additive and applied in version order at boot;
// a failure halts startup.
package migrations

import (
	"database/sql"
	_ "embed"

	"github.com/agentscan/registry-indexer/internal/db"
	"github.com/agentscan/registry-indexer/internal/logger"
)

//go:embed 001_chains.sql
var mig001 string

//go:embed 002_chain_sync_state.sql
var mig002 string

//go:embed 003_events.sql
var mig003 string

func all() []db.Migration {
	return []db.Migration{
		{
			ID:  "001_chains.sql",
			SQL: mig001,
		},
		{
			ID:  "002_chain_sync_state.sql",
			SQL: mig002,
		},
		{
			ID:  "003_events.sql",
			SQL: mig003,
		},
	}
}

// RunMigrations applies all migrations to the database at dbPath.
func RunMigrations(dbPath string) error {
	return db.RunMigrations(dbPath, all())
}

// RunMigrationsDB applies all migrations to an open database. Used by tests
// running against in-memory databases.
func RunMigrationsDB(log *logger.Logger, database *sql.DB) error {
	return db.RunMigrationsDB(log, database, all())
}
