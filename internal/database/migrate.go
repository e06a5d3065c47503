package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/TobiSchelling/socialshares/internal/logging"
)

const migrationsTable = "schema_migrations"

func (db *DB) schema() schema {
	return schema{
		dialect:     db.dialect,
		content:     db.content,
		snapshot:    db.snapshot,
		ownsContent: db.dialect == SQLite,
	}
}

// ensureMigrationsTable creates the version bookkeeping table. Postgres cannot
// use PRAGMA user_version, so both dialects share a plain table.
func (db *DB) ensureMigrationsTable(ctx context.Context) error {
	ts := "TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP"
	if db.dialect == Postgres {
		ts = "TIMESTAMPTZ NOT NULL DEFAULT now()"
	}
	_, err := db.conn.ExecContext(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
    version INTEGER PRIMARY KEY,
    description TEXT NOT NULL,
    applied_at %s
)`, migrationsTable, ts))
	if err != nil {
		return fmt.Errorf("creating %s: %w", migrationsTable, err)
	}
	return nil
}

// getSchemaVersion returns the highest applied migration, 0 for none.
func (db *DB) getSchemaVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := db.conn.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(version) FROM %s", migrationsTable),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return int(version.Int64), nil
}

// tableExists reports whether the named table is present.
func (db *DB) tableExists(ctx context.Context, name string) (bool, error) {
	var exists bool
	var err error
	if db.dialect == Postgres {
		err = db.conn.QueryRowContext(ctx, "SELECT to_regclass($1) IS NOT NULL", name).Scan(&exists)
	} else {
		var count int
		err = db.conn.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
		).Scan(&count)
		exists = count > 0
	}
	if err != nil {
		return false, fmt.Errorf("checking for table %s: %w", name, err)
	}
	return exists, nil
}

// isLegacyDB returns true if the snapshot table exists but no migration has
// been recorded. This detects stores created before the migration system.
func (db *DB) isLegacyDB(ctx context.Context) (bool, error) {
	return db.tableExists(ctx, db.snapshot)
}

func (db *DB) recordVersion(ctx context.Context, exec interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, m Migration) error {
	_, err := exec.ExecContext(ctx,
		db.rebind(fmt.Sprintf("INSERT INTO %s (version, description) VALUES (?, ?)", migrationsTable)),
		m.Version, m.Description,
	)
	return err
}

// migrate brings the schema up to the latest version, one transaction per step.
func (db *DB) migrate(ctx context.Context) error {
	if err := db.ensureMigrationsTable(ctx); err != nil {
		return err
	}

	current, err := db.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	// Legacy store: tables exist but nothing was recorded.
	// Stamp as version 1 since the schema already matches migration 1.
	if current == 0 {
		legacy, err := db.isLegacyDB(ctx)
		if err != nil {
			return err
		}
		if legacy {
			db.log.WithField("table", db.snapshot).Info("detected legacy database, stamping as version 1")
			if err := db.recordVersion(ctx, db.conn, migrations[0]); err != nil {
				return fmt.Errorf("stamping legacy version: %w", err)
			}
			current = 1
		}
	}

	if current >= latestVersion() {
		return nil
	}

	s := db.schema()
	if !s.ownsContent {
		ok, err := db.tableExists(ctx, db.content)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("content table %s not found", db.content)
		}
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		db.log.WithFields(logging.Fields{"version": m.Version, "description": m.Description}).Info("applying migration")

		err := db.withTx(ctx, func(tx *sql.Tx) error {
			if err := m.Up(tx, s); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
			if err := db.recordVersion(ctx, tx, m); err != nil {
				return fmt.Errorf("recording version %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	return nil
}
