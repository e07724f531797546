package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/cofferdb/coffer/internal/metrics"
)

// The accessor primitives below are each a single SQLite statement and
// therefore individually atomic. They are scoped to exactly one collection;
// cross-collection consistency is the caller's responsibility.

// Get returns the document stored under id, or nil with no error when the id
// is absent. Reads are total.
func (s *Store) Get(ctx context.Context, collection, id string) (doc json.RawMessage, err error) {
	defer observeOp(collection, "get", time.Now(), &err)

	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	var raw string
	err = db.QueryRowContext(ctx, `SELECT doc FROM `+quoteIdent(col.Name)+` WHERE pk = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, &IOError{Op: "get", Collection: collection, Err: err}
	}
	return json.RawMessage(raw), nil
}

// Put upserts a document keyed by the collection's declared primary-key
// field, overwriting any existing document under the same key.
func (s *Store) Put(ctx context.Context, collection string, doc json.RawMessage) (err error) {
	defer observeOp(collection, "put", time.Now(), &err)

	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	key, err := extractKey(col, doc)
	if err != nil {
		return err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO `+quoteIdent(col.Name)+`(pk, doc) VALUES(?, ?)
		ON CONFLICT(pk) DO UPDATE SET doc = excluded.doc
	`, key, string(doc))
	if err != nil {
		return &IOError{Op: "put", Collection: collection, Err: err}
	}
	return nil
}

// Delete removes the document under id. Deleting a missing id is a no-op.
func (s *Store) Delete(ctx context.Context, collection, id string) (err error) {
	defer observeOp(collection, "delete", time.Now(), &err)

	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM `+quoteIdent(col.Name)+` WHERE pk = ?`, id); err != nil {
		return &IOError{Op: "delete", Collection: collection, Err: err}
	}
	return nil
}

// ScanAll materializes every document in the collection in primary-key
// order.
func (s *Store) ScanAll(ctx context.Context, collection string) (docs []json.RawMessage, err error) {
	defer observeOp(collection, "scan_all", time.Now(), &err)

	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT doc FROM `+quoteIdent(col.Name)+` ORDER BY pk`)
	if err != nil {
		return nil, &IOError{Op: "scan_all", Collection: collection, Err: err}
	}
	docs, err = collectDocs(rows)
	if err != nil {
		return nil, &IOError{Op: "scan_all", Collection: collection, Err: err}
	}
	return docs, nil
}

// ScanIndex returns the documents whose indexed field equals value, served
// by a declared secondary index, in primary-key order.
func (s *Store) ScanIndex(ctx context.Context, collection, index string, value any) (docs []json.RawMessage, err error) {
	defer observeOp(collection, "scan_index", time.Now(), &err)

	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}
	idx, ok := col.Index(index)
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownIndex, collection, index)
	}
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT doc FROM `+quoteIdent(col.Name)+` WHERE `+docExtract(idx.Path)+` = ? ORDER BY pk`, value)
	if err != nil {
		return nil, &IOError{Op: "scan_index", Collection: collection, Err: err}
	}
	docs, err = collectDocs(rows)
	if err != nil {
		return nil, &IOError{Op: "scan_index", Collection: collection, Err: err}
	}
	return docs, nil
}

// Count reports the number of documents in the collection.
func (s *Store) Count(ctx context.Context, collection string) (n int64, err error) {
	defer observeOp(collection, "count", time.Now(), &err)

	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}

	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdent(col.Name)).Scan(&n); err != nil {
		return 0, &IOError{Op: "count", Collection: collection, Err: err}
	}
	return n, nil
}

func (s *Store) collection(name string) (catalog.Collection, error) {
	col, ok := s.catalog.Collection(name)
	if !ok {
		return catalog.Collection{}, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return col, nil
}

func extractKey(col catalog.Collection, doc json.RawMessage) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	value, ok := fields[col.KeyField()]
	if !ok {
		return "", fmt.Errorf("%w: field %q", ErrMissingPrimaryKey, col.KeyField())
	}
	key, ok := value.(string)
	if !ok || key == "" {
		return "", fmt.Errorf("%w: field %q must be a non-empty string", ErrMissingPrimaryKey, col.KeyField())
	}
	return key, nil
}

func collectDocs(rows *sql.Rows) ([]json.RawMessage, error) {
	defer rows.Close()

	var docs []json.RawMessage
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		docs = append(docs, json.RawMessage(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return docs, nil
}

func observeOp(collection, op string, start time.Time, errp *error) {
	metrics.ObserveOperation(collection, op, *errp == nil, time.Since(start))
}
