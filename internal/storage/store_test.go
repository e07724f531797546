package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestNewValidatesCatalog(t *testing.T) {
	t.Parallel()

	_, err := New("", testCatalog())
	require.Error(t, err)

	bad := catalog.Catalog{Version: 1, Collections: []catalog.Collection{{Name: "Bad Name"}}}
	_, err = New(rawDBPath(t), bad)
	require.ErrorIs(t, err, catalog.ErrInvalid)
}

func TestOpenIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Open(ctx))
	require.NoError(t, store.Open(ctx))

	db1, err := store.DB(ctx)
	require.NoError(t, err)
	db2, err := store.DB(ctx)
	require.NoError(t, err)
	require.Same(t, db1, db2)
}

func TestConcurrentOpenSharesOneHandle(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	const callers = 8
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.Open(ctx)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoErrorf(t, err, "caller %d", i)
	}

	db, err := store.DB(ctx)
	require.NoError(t, err)
	require.NotNil(t, db)
}

func TestFailedOpenIsRetriedNotCached(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(blocker, []byte("not a directory"), 0o600))

	store, err := New(filepath.Join(blocker, "store.db"), testCatalog())
	require.NoError(t, err)

	ctx := context.Background()
	err = store.Open(ctx)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)

	// Clear the obstruction; the next Open must retry instead of replaying
	// the cached failure.
	require.NoError(t, os.Remove(blocker))
	require.NoError(t, store.Open(ctx))
	t.Cleanup(func() { _ = store.Close() })

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, testCatalog().Version, version)
}

func TestLazyOpenTriggersOnFirstAccess(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()

	// No explicit Open; the first primitive opens and migrates.
	doc, err := store.Get(ctx, "tasks", "absent")
	require.NoError(t, err)
	require.Nil(t, doc)

	version, err := store.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, testCatalog().Version, version)
}

func TestClosedStoreRejectsOperations(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Open(ctx))
	require.NoError(t, store.Close())

	require.ErrorIs(t, store.Open(ctx), ErrClosed)
	_, err := store.Get(ctx, "tasks", "t1")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, store.Put(ctx, "tasks", taskDoc("t1", "x", "open")), ErrClosed)
}

func TestOpenUpgradesAdditively(t *testing.T) {
	t.Parallel()

	path := rawDBPath(t)
	v1 := catalog.Catalog{
		Version: 1,
		Collections: []catalog.Collection{
			{Name: "tasks", IDPrefix: "task", Indexes: []catalog.Index{{Name: "by_status", Path: "status"}}},
		},
	}

	ctx := context.Background()
	first, err := New(path, v1)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, "tasks", taskDoc("task_1", "write spec", "open")))
	require.NoError(t, first.Close())

	second, err := New(path, testCatalog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close() })
	require.NoError(t, second.Open(ctx))

	version, err := second.SchemaVersion(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, version)

	// Existing data survives the upgrade.
	doc, err := second.Get(ctx, "tasks", "task_1")
	require.NoError(t, err)
	require.NotNil(t, doc)

	// The version 2 additions exist.
	n, err := second.Count(ctx, "uploads")
	require.NoError(t, err)
	require.Zero(t, n)

	db, err := second.DB(ctx)
	require.NoError(t, err)
	require.True(t, indexExists(t, db, "idx_uploads_by_state"))
}

func TestConcurrentReadsWhileWriteWithWAL(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "tasks", taskDoc("task_race", "initial", "open")))

	const readers = 8
	errCh := make(chan error, readers+1)
	var wg sync.WaitGroup

	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := store.ScanAll(ctx, "tasks"); err != nil {
					errCh <- err
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			doc := taskDoc("task_race", fmt.Sprintf("rev %d", i), "open")
			if err := store.Put(ctx, "tasks", doc); err != nil {
				errCh <- err
				return
			}
		}
	}()

	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
}

func TestWALFilePermissions0600OnUnix(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("permissions assertion is unix-specific")
	}

	path := rawDBPath(t)
	store, err := New(path, testCatalog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, "tasks", taskDoc("task_perm", "perm", "open")))

	walPath := path + "-wal"
	require.Eventually(t, func() bool {
		_, err := os.Stat(walPath)
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	info, err := os.Stat(walPath)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func testCatalog() catalog.Catalog {
	return catalog.Catalog{
		Version: 2,
		Collections: []catalog.Collection{
			{
				Name:     "tasks",
				IDPrefix: "task",
				Indexes:  []catalog.Index{{Name: "by_status", Path: "status"}},
			},
			{
				Name:    "uploads",
				Since:   2,
				Indexes: []catalog.Index{{Name: "by_state", Path: "state", Since: 2}},
			},
		},
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(rawDBPath(t), testCatalog())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func rawDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "store.db")
}

func taskDoc(id, title, status string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"title":%q,"status":%q}`, id, title, status))
}

func openRawTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", rawDBPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, table string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func indexExists(t *testing.T, db *sql.DB, index string) bool {
	t.Helper()
	var count int
	err := db.QueryRow(`SELECT COUNT(1) FROM sqlite_master WHERE type='index' AND name=?`, index).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func mustSchemaVersion(t *testing.T, db *sql.DB) int {
	t.Helper()
	var version int
	err := db.QueryRow(`SELECT value FROM store_meta WHERE key = 'schema_version'`).Scan(&version)
	require.NoError(t, err)
	return version
}
