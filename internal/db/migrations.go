package db

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/agentscan/registry-indexer/internal/logger"
	_ "github.com/mattn/go-sqlite3"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	upDownSeparator     = "-- +migrate Up"
	downMarker          = "-- +migrate Down"
	migrationDirections = 2
)

// Migration is one embedded schema migration. SQL holds a Down section
// followed by the "-- +migrate Up" separator and the Up section.
type Migration struct {
	ID  string
	SQL string
}

// RunMigrations applies all pending migrations in version order against the
// database at dbPath. Startup must halt if this returns an error.
func RunMigrations(dbPath string, migrations []Migration) error {
	db, err := NewSQLiteDB(dbPath)
	if err != nil {
		return fmt.Errorf("error creating DB %w", err)
	}
	defer db.Close()

	return RunMigrationsDB(logger.GetDefaultLogger(), db, migrations)
}

// RunMigrationsDB applies all pending migrations against an open database.
func RunMigrationsDB(log *logger.Logger, db *sql.DB, migrationsParam []Migration) error {
	migs := &migrate.MemoryMigrationSource{Migrations: []*migrate.Migration{}}

	for _, m := range migrationsParam {
		splitted := strings.Split(m.SQL, upDownSeparator)

		if len(splitted) < migrationDirections {
			return fmt.Errorf("migration %s missing '-- +migrate Up' separator", m.ID)
		}

		// splitted[0] = Down section (may include the Down marker)
		// splitted[1] = Up section
		downSQL := splitted[0]
		upSQL := strings.TrimSpace(splitted[1])

		if idx := strings.Index(downSQL, downMarker); idx != -1 {
			downSQL = strings.TrimSpace(downSQL[idx+len(downMarker):])
		} else {
			downSQL = strings.TrimSpace(downSQL)
		}

		migs.Migrations = append(migs.Migrations, &migrate.Migration{
			Id:   m.ID,
			Up:   []string{upSQL},
			Down: []string{downSQL},
		})
	}

	ids := make([]string, 0, len(migs.Migrations))
	for _, m := range migs.Migrations {
		ids = append(ids, m.Id)
	}

	log.Debugf("running migrations: %s", strings.Join(ids, ", "))

	nMigrations, err := migrate.Exec(db, "sqlite3", migs, migrate.Up)
	if err != nil {
		return fmt.Errorf("error executing migrations %s: %w", strings.Join(ids, ", "), err)
	}

	log.Infof("successfully ran %d migrations", nMigrations)
	return nil
}
