package entity

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/cofferdb/coffer/internal/storage"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type Task struct {
	Meta
	Title    string `json:"title"`
	Status   string `json:"status"`
	Priority int    `json:"priority"`
	Done     bool   `json:"done"`
}

func TestNewRepositoryRejectsUnknownCollection(t *testing.T) {
	t.Parallel()

	store := newTaskStore(t)
	_, err := NewRepository[*Task](store, "missing")
	require.ErrorIs(t, err, storage.ErrUnknownCollection)
}

func TestCreateAssignsIDAndStampsTimestamps(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{Title: "write report", Status: "open", Priority: 3})
	require.NoError(t, err)
	require.Regexp(t, `^task_[0-9a-z]{8}_[0-9a-z]{4}$`, id)

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, id, got.ID)
	require.Equal(t, "write report", got.Title)
	require.Equal(t, 3, got.Priority)
	require.False(t, got.CreatedAt.IsZero())
	require.True(t, got.CreatedAt.Equal(got.UpdatedAt))
}

func TestCreateKeepsCallerAssignedID(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	rec := &Task{Title: "fixed id", Status: "open"}
	rec.ID = "task_fixed"
	id, err := repo.Create(ctx, rec)
	require.NoError(t, err)
	require.Equal(t, "task_fixed", id)

	got, err := repo.Get(ctx, "task_fixed")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "fixed id", got.Title)
}

func TestGetMissingReturnsZeroRecord(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	got, err := repo.Get(context.Background(), "task_absent")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpdatePreservesUntouchedFields(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{Title: "keep me", Status: "open", Priority: 7})
	require.NoError(t, err)
	created, err := repo.Get(ctx, id)
	require.NoError(t, err)

	updated, err := repo.Update(ctx, id, Patch{"status": "done"})
	require.NoError(t, err)
	require.Equal(t, "keep me", updated.Title)
	require.Equal(t, 7, updated.Priority)
	require.Equal(t, "done", updated.Status)
	require.Equal(t, id, updated.ID)
	require.True(t, updated.CreatedAt.Equal(created.CreatedAt))
	require.True(t, updated.UpdatedAt.After(updated.CreatedAt))
}

func TestUpdateAdvancesUpdatedAtStrictly(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{Title: "tick", Status: "open"})
	require.NoError(t, err)

	// Back-to-back updates must still move the timestamp forward even when
	// the wall clock reads the same instant.
	prev := time.Time{}
	for i := 0; i < 5; i++ {
		rec, err := repo.Update(ctx, id, Patch{"priority": i})
		require.NoError(t, err)
		require.True(t, rec.UpdatedAt.After(prev))
		prev = rec.UpdatedAt
	}
}

func TestUpdateMissingIDFails(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	_, err := repo.Update(context.Background(), "task_absent", Patch{"status": "done"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateRejectsUnknownPatchKey(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{Title: "strict", Status: "open"})
	require.NoError(t, err)

	_, err = repo.Update(ctx, id, Patch{"color": "red"})
	require.ErrorIs(t, err, ErrUnknownField)

	// The failed update must not have touched the record.
	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, got.CreatedAt.Equal(got.UpdatedAt))
}

func TestUpdateIgnoresReservedPatchKeys(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{Title: "guarded", Status: "open"})
	require.NoError(t, err)
	created, err := repo.Get(ctx, id)
	require.NoError(t, err)

	updated, err := repo.Update(ctx, id, Patch{
		"id":          "task_evil",
		"_created_at": "1999-01-01T00:00:00Z",
		"title":       "renamed",
	})
	require.NoError(t, err)
	require.Equal(t, id, updated.ID)
	require.True(t, updated.CreatedAt.Equal(created.CreatedAt))
	require.Equal(t, "renamed", updated.Title)
}

func TestDeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	id, err := repo.Create(ctx, &Task{Title: "doomed", Status: "open"})
	require.NoError(t, err)
	require.NoError(t, repo.Delete(ctx, id))
	require.NoError(t, repo.Delete(ctx, id))

	got, err := repo.Get(ctx, id)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestListFiltersSortsAndLimits(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	seedTasks(t, repo, []*Task{
		withID("task_a", &Task{Title: "a", Status: "open", Priority: 2}),
		withID("task_b", &Task{Title: "b", Status: "done", Priority: 9}),
		withID("task_c", &Task{Title: "c", Status: "open", Priority: 5}),
		withID("task_d", &Task{Title: "d", Status: "open", Priority: 1}),
	})

	records, err := repo.List(ctx, ListOptions[*Task]{
		SortBy: "-priority",
		Limit:  2,
		Filter: func(rec *Task) bool { return rec.Status == "open" },
	})
	require.NoError(t, err)
	require.Equal(t, []string{"task_c", "task_a"}, taskIDs(records))
}

func TestListStableSortKeepsScanOrderOnTies(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	seedTasks(t, repo, []*Task{
		withID("task_a", &Task{Title: "a", Status: "open", Priority: 1}),
		withID("task_b", &Task{Title: "b", Status: "open", Priority: 1}),
		withID("task_c", &Task{Title: "c", Status: "open", Priority: 0}),
		withID("task_d", &Task{Title: "d", Status: "open", Priority: 1}),
	})

	records, err := repo.List(ctx, ListOptions[*Task]{SortBy: "priority"})
	require.NoError(t, err)
	require.Equal(t, []string{"task_c", "task_a", "task_b", "task_d"}, taskIDs(records))
}

func TestListUnknownSortFieldFails(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	_, err := repo.List(context.Background(), ListOptions[*Task]{SortBy: "color"})
	require.ErrorIs(t, err, ErrUnknownField)
}

func TestFindByServesDeclaredIndex(t *testing.T) {
	t.Parallel()

	repo := newTaskRepo(t)
	ctx := context.Background()

	seedTasks(t, repo, []*Task{
		withID("task_a", &Task{Title: "a", Status: "open"}),
		withID("task_b", &Task{Title: "b", Status: "done"}),
		withID("task_c", &Task{Title: "c", Status: "open"}),
	})

	records, err := repo.FindBy(ctx, "by_status", "open")
	require.NoError(t, err)
	require.Equal(t, []string{"task_a", "task_c"}, taskIDs(records))

	_, err = repo.FindBy(ctx, "by_color", "red")
	require.ErrorIs(t, err, storage.ErrUnknownIndex)
}

func newTaskStore(t *testing.T) *storage.Store {
	t.Helper()
	cat := catalog.Catalog{
		Version: 1,
		Collections: []catalog.Collection{
			{
				Name:     "tasks",
				IDPrefix: "task",
				Indexes:  []catalog.Index{{Name: "by_status", Path: "status"}},
			},
		},
	}
	store, err := storage.New(filepath.Join(t.TempDir(), "store.db"), cat)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTaskRepo(t *testing.T) *Repository[*Task] {
	t.Helper()
	repo, err := NewRepository[*Task](newTaskStore(t), "tasks")
	require.NoError(t, err)
	return repo
}

func withID(id string, rec *Task) *Task {
	rec.ID = id
	return rec
}

func seedTasks(t *testing.T, repo *Repository[*Task], tasks []*Task) {
	t.Helper()
	for _, task := range tasks {
		_, err := repo.Create(context.Background(), task)
		require.NoError(t, err)
	}
}

func taskIDs(records []*Task) []string {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ID)
	}
	return ids
}
