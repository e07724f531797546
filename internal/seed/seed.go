// Package seed populates collections with default records on first run. The
// idempotence check is deliberately coarse: any record in a collection, seeded
// or user-written, skips that collection, so one emptied on purpose reseeds on
// the next run.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/cofferdb/coffer/internal/entity"
	"github.com/cofferdb/coffer/internal/storage"
)

// Source yields the default documents for one collection.
type Source func(ctx context.Context) ([]json.RawMessage, error)

// Docs adapts a fixed set of raw documents to a Source.
func Docs(docs ...json.RawMessage) Source {
	return func(context.Context) ([]json.RawMessage, error) {
		return docs, nil
	}
}

// Records adapts typed default records to a Source.
func Records[T entity.Record](records ...T) Source {
	return func(context.Context) ([]json.RawMessage, error) {
		docs := make([]json.RawMessage, 0, len(records))
		for _, rec := range records {
			doc, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("seed: encode record: %w", err)
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}
}

// Result reports what Run did for one registered collection.
type Result struct {
	Collection string `json:"collection"`
	Created    int    `json:"created"`
	Skipped    bool   `json:"skipped"`
}

type registration struct {
	collection string
	source     Source
}

// Loader seeds registered collections through a store. Registrations run in
// order; a collection seeded by an earlier registration counts as populated
// for later ones.
type Loader struct {
	store         *storage.Store
	log           *slog.Logger
	registrations []registration
}

func NewLoader(store *storage.Store, log *slog.Logger) *Loader {
	if log == nil {
		log = slog.Default()
	}
	return &Loader{store: store, log: log}
}

// Register queues a source of default documents for a collection.
func (l *Loader) Register(collection string, source Source) {
	l.registrations = append(l.registrations, registration{collection: collection, source: source})
}

// Run seeds every registered collection whose record count is zero, creating
// the defaults through the store, and reports per-collection outcomes.
func (l *Loader) Run(ctx context.Context) ([]Result, error) {
	results := make([]Result, 0, len(l.registrations))
	for _, reg := range l.registrations {
		result, err := l.runOne(ctx, reg)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (l *Loader) runOne(ctx context.Context, reg registration) (Result, error) {
	result := Result{Collection: reg.collection}

	col, ok := l.store.Catalog().Collection(reg.collection)
	if !ok {
		return result, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, reg.collection)
	}

	existing, err := l.store.Count(ctx, reg.collection)
	if err != nil {
		return result, err
	}
	if existing > 0 {
		result.Skipped = true
		l.log.Debug("collection already populated, skipping seed",
			"collection", reg.collection,
			"records", existing)
		return result, nil
	}

	docs, err := reg.source(ctx)
	if err != nil {
		return result, fmt.Errorf("seed %s: %w", reg.collection, err)
	}
	for _, doc := range docs {
		if err := l.createDoc(ctx, col, doc); err != nil {
			return result, fmt.Errorf("seed %s: %w", reg.collection, err)
		}
		result.Created++
	}

	l.log.Info("seeded collection",
		"collection", reg.collection,
		"created", result.Created)
	return result, nil
}

// createDoc writes one default document with create semantics: a missing
// primary key is assigned from the collection's prefix and missing timestamps
// are stamped with one UTC instant.
func (l *Loader) createDoc(ctx context.Context, col catalog.Collection, doc json.RawMessage) error {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrInvalidDocument, err)
	}

	key := col.KeyField()
	if id, _ := fields[key].(string); id == "" {
		fields[key] = entity.NewID(col.Prefix())
	}

	created := fields[entity.FieldCreatedAt]
	if missingTimestamp(created) {
		created = time.Now().UTC().Format(time.RFC3339Nano)
		fields[entity.FieldCreatedAt] = created
	}
	if missingTimestamp(fields[entity.FieldUpdatedAt]) {
		fields[entity.FieldUpdatedAt] = created
	}

	stamped, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	return l.store.Put(ctx, col.Name, stamped)
}

// missingTimestamp treats absent, empty and zero-time values as unset. Typed
// records marshal unset time.Time fields as the zero instant, which must not
// survive as a creation time.
func missingTimestamp(v any) bool {
	s, ok := v.(string)
	if !ok {
		return v == nil
	}
	if s == "" {
		return true
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	return err == nil && ts.IsZero()
}
