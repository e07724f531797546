package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestJournalTipStartsEmpty(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	repo := NewJournalRepository(store)

	tip, err := repo.ChainTip(context.Background())
	require.NoError(t, err)
	require.Empty(t, tip)
}

func TestJournalAppendAndList(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	repo := NewJournalRepository(store)
	ctx := context.Background()

	appendTestEntries(t, repo,
		testJournalEntry("jrn_1", "record.put", "tasks", "task_1", "", "h1"),
		testJournalEntry("jrn_2", "record.delete", "tasks", "task_1", "h1", "h2"),
		testJournalEntry("jrn_3", "seed.run", "", "", "h2", "h3"),
	)

	entries, err := repo.List(ctx, JournalFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Equal(t, "jrn_1", entries[0].ID)
	require.Equal(t, "record.put", entries[0].Action)
	require.Equal(t, "tasks", entries[0].TargetType)
	require.Equal(t, "task_1", entries[0].TargetID)
	require.Equal(t, "{}", entries[0].DetailsJSON)
	require.Empty(t, entries[0].PrevHash)
	require.Equal(t, "h1", entries[0].EntryHash)
	require.False(t, entries[0].CreatedAt.IsZero())

	require.Equal(t, "jrn_2", entries[1].ID)
	require.Equal(t, "h1", entries[1].PrevHash)
	require.Equal(t, "jrn_3", entries[2].ID)
	require.Equal(t, "h2", entries[2].PrevHash)

	tip, err := repo.ChainTip(ctx)
	require.NoError(t, err)
	require.Equal(t, "h3", tip)
}

func TestJournalAppendStaleTipConflicts(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	repo := NewJournalRepository(store)
	ctx := context.Background()

	appendTestEntries(t, repo,
		testJournalEntry("jrn_1", "record.put", "tasks", "task_1", "", "h1"),
	)

	// Second writer still believes the tip is empty.
	stale := testJournalEntry("jrn_2", "record.put", "tasks", "task_2", "", "h2")
	err := repo.AppendWithTip(ctx, stale, "h2")
	require.ErrorIs(t, err, ErrJournalConflict)

	// The conflicting insert must have rolled back with the tip update.
	entries, err := repo.List(ctx, JournalFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)

	tip, err := repo.ChainTip(ctx)
	require.NoError(t, err)
	require.Equal(t, "h1", tip)
}

func TestJournalListFilters(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	repo := NewJournalRepository(store)
	ctx := context.Background()

	appendTestEntries(t, repo,
		testJournalEntry("jrn_1", "record.put", "tasks", "task_1", "", "h1"),
		testJournalEntry("jrn_2", "record.delete", "tasks", "task_1", "h1", "h2"),
		testJournalEntry("jrn_3", "record.put", "tasks", "task_2", "h2", "h3"),
	)

	byAction, err := repo.List(ctx, JournalFilter{Action: "record.put"})
	require.NoError(t, err)
	require.Len(t, byAction, 2)
	require.Equal(t, "jrn_1", byAction[0].ID)
	require.Equal(t, "jrn_3", byAction[1].ID)

	byTarget, err := repo.List(ctx, JournalFilter{TargetID: "task_1"})
	require.NoError(t, err)
	require.Len(t, byTarget, 2)

	limited, err := repo.List(ctx, JournalFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "jrn_1", limited[0].ID)

	cutoff := time.Now().UTC().Add(time.Hour)
	afterCutoff, err := repo.List(ctx, JournalFilter{Since: &cutoff})
	require.NoError(t, err)
	require.Empty(t, afterCutoff)
}

func TestJournalAppendValidatesEntry(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	repo := NewJournalRepository(store)
	ctx := context.Background()

	require.Error(t, repo.AppendWithTip(ctx, nil, "tip"))

	missingAction := testJournalEntry("jrn_1", "", "", "", "", "h1")
	require.Error(t, repo.AppendWithTip(ctx, missingAction, "h1"))

	missingHash := testJournalEntry("jrn_1", "record.put", "", "", "", "")
	require.Error(t, repo.AppendWithTip(ctx, missingHash, "h1"))
}

func TestJournalTableIsReservedFromCatalogs(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Open(ctx))

	db, err := store.DB(ctx)
	require.NoError(t, err)
	require.True(t, tableExists(t, db, "journal"))
}

func testJournalEntry(id, action, targetType, targetID, prevHash, entryHash string) *JournalEntry {
	return &JournalEntry{
		ID:         id,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Result:     "success",
		PrevHash:   prevHash,
		EntryHash:  entryHash,
	}
}

func appendTestEntries(t *testing.T, repo *JournalRepository, entries ...*JournalEntry) {
	t.Helper()
	for _, entry := range entries {
		require.NoError(t, repo.AppendWithTip(context.Background(), entry, entry.EntryHash))
	}
}
