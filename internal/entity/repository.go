// Package entity provides typed repositories over the document store. A
// repository binds an entity struct to one catalog collection and owns the
// reserved id and timestamp fields; everything else round-trips through the
// struct's JSON encoding.
package entity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/cofferdb/coffer/internal/storage"
)

// ErrUnknownField reports a patch key or sort key that is not a JSON field of
// the repository's entity type.
var ErrUnknownField = errors.New("entity: unknown field")

// Repository is a typed view of one collection. T must be a pointer to a
// struct embedding Meta; construction fails otherwise. All repositories of a
// store share its connection, so constructing several per collection is legal.
type Repository[T Record] struct {
	store      *storage.Store
	collection string
	prefix     string
	fields     map[string][]int
}

// NewRepository binds T to a collection declared in the store's catalog.
func NewRepository[T Record](store *storage.Store, collection string) (*Repository[T], error) {
	rt := reflect.TypeFor[T]()
	if rt.Kind() != reflect.Pointer || rt.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity: %s must be a pointer to a struct", rt)
	}
	col, ok := store.Catalog().Collection(collection)
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}
	return &Repository[T]{
		store:      store,
		collection: collection,
		prefix:     col.Prefix(),
		fields:     jsonFields(rt.Elem()),
	}, nil
}

// Collection returns the catalog collection name the repository is bound to.
func (r *Repository[T]) Collection() string {
	return r.collection
}

// ListOptions shape a List call. The zero value returns every record in
// primary-key order.
type ListOptions[T Record] struct {
	// SortBy names a JSON field to sort on; a leading "-" descends. Ties
	// keep their scan order.
	SortBy string
	// Limit caps the result after filtering and sorting; 0 means no cap.
	Limit int
	// Filter drops records it returns false for.
	Filter func(T) bool
}

// List scans the collection, then filters, sorts and limits per opts.
func (r *Repository[T]) List(ctx context.Context, opts ListOptions[T]) ([]T, error) {
	var compare func(a, b T) int
	if opts.SortBy != "" {
		field := strings.TrimPrefix(opts.SortBy, "-")
		index, ok := r.fields[field]
		if !ok {
			return nil, fmt.Errorf("%w: sort by %q", ErrUnknownField, field)
		}
		descending := strings.HasPrefix(opts.SortBy, "-")
		compare = func(a, b T) int {
			c := compareValues(r.fieldValue(a, index), r.fieldValue(b, index))
			if descending {
				c = -c
			}
			return c
		}
	}

	docs, err := r.store.ScanAll(ctx, r.collection)
	if err != nil {
		return nil, err
	}

	records := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := r.decode(doc)
		if err != nil {
			return nil, err
		}
		if opts.Filter != nil && !opts.Filter(rec) {
			continue
		}
		records = append(records, rec)
	}

	if compare != nil {
		sort.SliceStable(records, func(i, j int) bool { return compare(records[i], records[j]) < 0 })
	}
	if opts.Limit > 0 && len(records) > opts.Limit {
		records = records[:opts.Limit]
	}
	return records, nil
}

// Get returns the record with the given id, or the zero T and no error when
// it does not exist.
func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	doc, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		return zero, err
	}
	if doc == nil {
		return zero, nil
	}
	return r.decode(doc)
}

// Create stores rec and returns its id. A missing id is assigned from the
// collection's prefix; both timestamps are stamped with one UTC instant.
func (r *Repository[T]) Create(ctx context.Context, rec T) (string, error) {
	meta := rec.DocumentMeta()
	if meta.ID == "" {
		meta.ID = NewID(r.prefix)
	}
	now := time.Now().UTC()
	meta.CreatedAt = now
	meta.UpdatedAt = now

	doc, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("entity: encode %s: %w", r.collection, err)
	}
	if err := r.store.Put(ctx, r.collection, doc); err != nil {
		return "", err
	}
	return meta.ID, nil
}

// Update shallow-merges patch onto the stored document and writes it back,
// returning the merged record. The id and creation timestamp are never
// touched; the update timestamp moves strictly forward even when the clock
// has not. Last writer wins.
func (r *Repository[T]) Update(ctx context.Context, id string, patch Patch) (T, error) {
	var zero T
	if err := patch.validate(r.fields); err != nil {
		return zero, err
	}

	stored, err := r.store.Get(ctx, r.collection, id)
	if err != nil {
		return zero, err
	}
	if stored == nil {
		return zero, fmt.Errorf("%w: %s %q", storage.ErrNotFound, r.collection, id)
	}

	var doc map[string]any
	if err := json.Unmarshal(stored, &doc); err != nil {
		return zero, fmt.Errorf("entity: decode %s %q: %w", r.collection, id, err)
	}
	for key, value := range patch {
		if reservedFields[key] {
			continue
		}
		doc[key] = value
	}
	doc[FieldUpdatedAt] = nextUpdateTime(doc[FieldUpdatedAt]).Format(time.RFC3339Nano)

	merged, err := json.Marshal(doc)
	if err != nil {
		return zero, fmt.Errorf("entity: encode %s %q: %w", r.collection, id, err)
	}
	if err := r.store.Put(ctx, r.collection, merged); err != nil {
		return zero, err
	}
	return r.decode(merged)
}

// Delete removes the record with the given id. Deleting a missing id is not
// an error.
func (r *Repository[T]) Delete(ctx context.Context, id string) error {
	return r.store.Delete(ctx, r.collection, id)
}

// FindBy returns the records whose indexed field equals value, served by a
// declared secondary index.
func (r *Repository[T]) FindBy(ctx context.Context, index string, value any) ([]T, error) {
	docs, err := r.store.ScanIndex(ctx, r.collection, index, value)
	if err != nil {
		return nil, err
	}
	records := make([]T, 0, len(docs))
	for _, doc := range docs {
		rec, err := r.decode(doc)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Count reports the number of records in the collection.
func (r *Repository[T]) Count(ctx context.Context) (int64, error) {
	return r.store.Count(ctx, r.collection)
}

func (r *Repository[T]) decode(doc json.RawMessage) (T, error) {
	rec := reflect.New(reflect.TypeFor[T]().Elem()).Interface().(T)
	if err := json.Unmarshal(doc, rec); err != nil {
		var zero T
		return zero, fmt.Errorf("entity: decode %s: %w", r.collection, err)
	}
	return rec, nil
}

func (r *Repository[T]) fieldValue(rec T, index []int) any {
	v := reflect.ValueOf(rec).Elem()
	for _, i := range index {
		v = v.Field(i)
	}
	return v.Interface()
}

// nextUpdateTime returns now, or one nanosecond past the stored update time
// when the clock has not advanced beyond it.
func nextUpdateTime(prev any) time.Time {
	now := time.Now().UTC()
	s, ok := prev.(string)
	if !ok {
		return now
	}
	last, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return now
	}
	if now.After(last) {
		return now
	}
	return last.Add(time.Nanosecond)
}

// jsonFields maps the JSON field names of a struct type, embedded structs
// included, to their reflect field index paths.
func jsonFields(rt reflect.Type) map[string][]int {
	fields := make(map[string][]int)
	collectFields(rt, nil, fields)
	return fields
}

func collectFields(rt reflect.Type, index []int, fields map[string][]int) {
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.PkgPath != "" {
			continue
		}
		path := append(append([]int(nil), index...), i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			collectFields(f.Type, path, fields)
			continue
		}
		name := f.Name
		if tag, ok := f.Tag.Lookup("json"); ok {
			head, _, _ := strings.Cut(tag, ",")
			if head == "-" {
				continue
			}
			if head != "" {
				name = head
			}
		}
		fields[name] = path
	}
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case bv:
				return -1
			default:
				return 1
			}
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return float64(rv.Int()), true
	case rv.CanUint():
		return float64(rv.Uint()), true
	case rv.CanFloat():
		return rv.Float(), true
	}
	return 0, false
}
