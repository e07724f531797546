package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cofferdb/coffer/internal/catalog"
)

const (
	schemaVersionMetaKey = "schema_version"
	createdAtMetaKey     = "created_at"
)

type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// CatalogMigrations derives the migration list from a catalog: one migration
// per catalog version, creating exactly the collections and indexes whose
// since tag names that version. Upgrades are additive only; nothing existing
// is dropped or rewritten.
func CatalogMigrations(cat catalog.Catalog) []Migration {
	migrations := make([]Migration, 0, cat.Version)
	for v := 1; v <= cat.Version; v++ {
		statements := statementsForVersion(cat, v)
		migrations = append(migrations, Migration{
			Version:     v,
			Description: fmt.Sprintf("catalog version %d", v),
			Up:          applyStatements(v, statements),
		})
	}
	return migrations
}

func statementsForVersion(cat catalog.Catalog, version int) []string {
	var statements []string
	for _, col := range cat.Collections {
		if col.EffectiveSince() == version {
			statements = append(statements, tableDDL(col))
		}
		if col.EffectiveSince() > version {
			continue
		}
		for _, idx := range col.Indexes {
			if idx.EffectiveSince() == version {
				statements = append(statements, indexDDL(col, idx))
			}
		}
	}
	return statements
}

func applyStatements(version int, statements []string) func(tx *sql.Tx) error {
	return func(tx *sql.Tx) error {
		for _, stmt := range statements {
			if _, err := tx.Exec(stmt); err != nil {
				return fmt.Errorf("apply migration v%d statement: %w", version, err)
			}
		}
		return nil
	}
}

// RunMigrations brings the store schema up to the newest migration version.
// Each pending migration runs in its own transaction together with its
// bookkeeping rows, so a failure leaves the store at the last fully applied
// version. A store already past the newest version fails with
// ErrSchemaTooNew.
func RunMigrations(db *sql.DB, migrations []Migration) error {
	if db == nil {
		return fmt.Errorf("run migrations: db is nil")
	}

	if err := ensureMigrationTables(db); err != nil {
		return err
	}

	ordered := make([]Migration, len(migrations))
	copy(ordered, migrations)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Version < ordered[j].Version })

	current, err := readSchemaVersion(db)
	if err != nil {
		return err
	}

	maxVersion := maxMigrationVersion(ordered)
	if current > maxVersion {
		return fmt.Errorf("%w: store=%d catalog=%d", ErrSchemaTooNew, current, maxVersion)
	}

	for _, migration := range ordered {
		if migration.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration v%d (%s): %w", migration.Version, migration.Description, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO schema_migrations(version, applied_at) VALUES (?, ?)`, migration.Version, nowUTCString()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record schema migration v%d: %w", migration.Version, err)
		}

		if _, err := tx.Exec(`INSERT OR REPLACE INTO store_meta(key, value) VALUES(?, ?)`, schemaVersionMetaKey, strconv.Itoa(migration.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update schema version v%d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", migration.Version, err)
		}
	}

	return nil
}

func ensureMigrationTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS store_meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS journal (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			target_type TEXT NOT NULL DEFAULT '',
			target_id TEXT NOT NULL DEFAULT '',
			result TEXT NOT NULL,
			details_json TEXT NOT NULL DEFAULT '{}',
			prev_hash TEXT NOT NULL,
			entry_hash TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`INSERT OR IGNORE INTO store_meta(key, value) VALUES('` + schemaVersionMetaKey + `', '0')`,
		`INSERT OR IGNORE INTO store_meta(key, value) VALUES('` + createdAtMetaKey + `', '` + nowUTCString() + `')`,
		`INSERT OR IGNORE INTO store_meta(key, value) VALUES('` + journalChainTipMetaKey + `', '')`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure migration tables: %w", err)
		}
	}
	return nil
}

func readSchemaVersion(db *sql.DB) (int, error) {
	var versionStr string
	if err := db.QueryRow(`SELECT value FROM store_meta WHERE key = ?`, schemaVersionMetaKey).Scan(&versionStr); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(versionStr)
	if err != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", versionStr, err)
	}
	return version, nil
}

func maxMigrationVersion(migrations []Migration) int {
	max := 0
	for _, migration := range migrations {
		if migration.Version > max {
			max = migration.Version
		}
	}
	return max
}

func nowUTCString() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
