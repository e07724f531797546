package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/cofferdb/coffer/internal/metrics"
	_ "modernc.org/sqlite"
)

const (
	pragmaJournalModeWAL     = `PRAGMA journal_mode=WAL`
	pragmaForeignKeysOn      = `PRAGMA foreign_keys=ON`
	pragmaBusyTimeout        = `PRAGMA busy_timeout=5000`
	pragmaWALAutocheckpoint0 = `PRAGMA wal_autocheckpoint=0`
)

// Store owns the single database handle for one store file and the catalog
// describing its collections. The handle opens lazily: constructing a Store
// touches nothing on disk.
type Store struct {
	path    string
	catalog catalog.Catalog

	mu     sync.Mutex
	db     *sql.DB
	closed bool
}

// New builds an unopened Store for the given file path and catalog. The
// catalog is validated here so every later operation can trust it.
func New(path string, cat catalog.Catalog) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("storage: empty path")
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return &Store{path: path, catalog: cat}, nil
}

// Open opens or creates the store file and applies pending catalog
// migrations. It is idempotent: once open, further calls return immediately,
// and concurrent callers block on the same in-flight attempt instead of
// racing to open twice. A failed attempt is not cached; the next call
// retries.
func (s *Store) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openLocked(ctx)
}

func (s *Store) openLocked(ctx context.Context) error {
	if s.closed {
		return ErrClosed
	}
	if s.db != nil {
		return nil
	}

	db, err := openDatabase(ctx, s.path, s.catalog)
	if err != nil {
		metrics.ObserveOpen(false)
		return &OpenError{Path: s.path, Err: err}
	}

	metrics.ObserveOpen(true)
	s.db = db
	return nil
}

func openDatabase(ctx context.Context, path string, cat catalog.Catalog) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)

	if err := configureSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := RunMigrations(db, CatalogMigrations(cat)); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureDBPermissions(path); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// handle returns the open database, triggering the lazy open on first use.
func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openLocked(ctx); err != nil {
		return nil, err
	}
	return s.db, nil
}

// Close releases the database handle. The Store is terminal afterwards;
// operations on a closed Store fail with ErrClosed.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	if s.db == nil {
		return nil
	}
	db := s.db
	s.db = nil
	return db.Close()
}

// DB exposes the underlying handle for maintenance surfaces (backup, status).
// Repositories and the seed loader go through the accessor primitives.
func (s *Store) DB(ctx context.Context) (*sql.DB, error) {
	return s.handle(ctx)
}

func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

func (s *Store) Catalog() catalog.Catalog {
	return s.catalog
}

// SchemaVersion reports the store's applied schema version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}
	return readSchemaVersion(db)
}

// CreatedAt reports the timestamp recorded when the store file was first
// initialized.
func (s *Store) CreatedAt(ctx context.Context) (string, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return "", err
	}
	var raw string
	if err := db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, createdAtMetaKey).Scan(&raw); err != nil {
		return "", fmt.Errorf("read store created_at: %w", err)
	}
	return raw, nil
}

func configureSQLite(ctx context.Context, db *sql.DB) error {
	pragmas := []string{pragmaJournalModeWAL, pragmaForeignKeysOn, pragmaBusyTimeout, pragmaWALAutocheckpoint0}
	for _, stmt := range pragmas {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("configure sqlite %q: %w", stmt, err)
		}
	}
	return nil
}

func ensureDBPermissions(path string) error {
	if err := os.Chmod(path, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set db file permissions: %w", err)
		}
	}

	walPath := path + "-wal"
	if err := os.Chmod(walPath, 0o600); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("set wal file permissions: %w", err)
		}
	}
	return nil
}
