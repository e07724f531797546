package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const journalChainTipMetaKey = "journal_chain_tip"

// JournalEntry is one row of the hash-chained operations journal. EntryHash
// covers the entry payload plus PrevHash, so the rows form a tamper-evident
// chain ending at the tip stored in store_meta.
type JournalEntry struct {
	ID          string
	Action      string
	TargetType  string
	TargetID    string
	Result      string
	DetailsJSON string
	PrevHash    string
	EntryHash   string
	CreatedAt   time.Time
}

type JournalFilter struct {
	Action   string
	TargetID string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// JournalRepository persists journal entries in the reserved journal table.
// It shares the store's handle and lazy open.
type JournalRepository struct {
	store *Store
}

func NewJournalRepository(store *Store) *JournalRepository {
	return &JournalRepository{store: store}
}

// AppendWithTip inserts the entry and advances the chain tip from
// entry.PrevHash to tip in one transaction. The tip update is a compare and
// swap: when another writer advanced the chain first, nothing is written and
// ErrJournalConflict is returned so the caller can reload the tip and retry.
func (r *JournalRepository) AppendWithTip(ctx context.Context, entry *JournalEntry, tip string) (err error) {
	defer observeOp("journal", "append", time.Now(), &err)

	if entry == nil {
		return fmt.Errorf("append journal entry: entry is nil")
	}
	if entry.ID == "" || entry.Action == "" || entry.EntryHash == "" {
		return fmt.Errorf("append journal entry: id, action and entry hash are required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if entry.DetailsJSON == "" {
		entry.DetailsJSON = "{}"
	}

	db, err := r.store.handle(ctx)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return &IOError{Op: "append", Collection: "journal", Err: err}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO journal(
			id, action, target_type, target_id, result, details_json, prev_hash, entry_hash, created_at
		)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.Action, entry.TargetType, entry.TargetID, entry.Result, entry.DetailsJSON, entry.PrevHash, entry.EntryHash, formatJournalTime(entry.CreatedAt))
	if err != nil {
		_ = tx.Rollback()
		return &IOError{Op: "append", Collection: "journal", Err: err}
	}

	res, err := tx.ExecContext(ctx, `UPDATE store_meta SET value = ? WHERE key = ? AND value = ?`, tip, journalChainTipMetaKey, entry.PrevHash)
	if err != nil {
		_ = tx.Rollback()
		return &IOError{Op: "append", Collection: "journal", Err: err}
	}
	moved, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return &IOError{Op: "append", Collection: "journal", Err: err}
	}
	if moved == 0 {
		_ = tx.Rollback()
		return fmt.Errorf("%w: expected tip %q", ErrJournalConflict, entry.PrevHash)
	}

	if err := tx.Commit(); err != nil {
		return &IOError{Op: "append", Collection: "journal", Err: err}
	}
	return nil
}

// List returns journal entries in append order, oldest first.
func (r *JournalRepository) List(ctx context.Context, filter JournalFilter) (entries []JournalEntry, err error) {
	defer observeOp("journal", "list", time.Now(), &err)

	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	db, err := r.store.handle(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, action, target_type, target_id, result, details_json, prev_hash, entry_hash, created_at
		FROM journal
		WHERE 1=1
	`
	args := make([]any, 0, 5)
	if filter.Action != "" {
		query += ` AND action = ? `
		args = append(args, filter.Action)
	}
	if filter.TargetID != "" {
		query += ` AND target_id = ? `
		args = append(args, filter.TargetID)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ? `
		args = append(args, formatJournalTime(*filter.Since))
	}
	if filter.Until != nil {
		query += ` AND created_at <= ? `
		args = append(args, formatJournalTime(*filter.Until))
	}
	query += ` ORDER BY rowid ASC LIMIT ? `
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &IOError{Op: "list", Collection: "journal", Err: err}
	}
	defer rows.Close()

	entries = []JournalEntry{}
	for rows.Next() {
		var (
			entry   JournalEntry
			created string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.TargetType,
			&entry.TargetID,
			&entry.Result,
			&entry.DetailsJSON,
			&entry.PrevHash,
			&entry.EntryHash,
			&created,
		); err != nil {
			return nil, &IOError{Op: "list", Collection: "journal", Err: fmt.Errorf("scan row: %w", err)}
		}
		entry.CreatedAt, err = parseJournalTime(created)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &IOError{Op: "list", Collection: "journal", Err: err}
	}
	return entries, nil
}

// ChainTip reads the stored tip of the journal chain. A store with no journal
// entries yet has an empty tip.
func (r *JournalRepository) ChainTip(ctx context.Context) (string, error) {
	db, err := r.store.handle(ctx)
	if err != nil {
		return "", err
	}

	var tip string
	err = db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, journalChainTipMetaKey).Scan(&tip)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", &IOError{Op: "chain_tip", Collection: "journal", Err: err}
	}
	return tip, nil
}

func formatJournalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseJournalTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse journal timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}
