// Package catalog declares the store schema: an ordered list of collection
// definitions plus a monotonically increasing catalog version. The storage
// engine derives its migrations from these definitions.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var ErrInvalid = errors.New("catalog: invalid definition")

// identRE matches safe SQL/JSON identifiers for collection, index, and field
// names. Everything the catalog names ends up inside DDL text, so the charset
// is deliberately narrow.
var identRE = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// reservedTables are table names the storage engine owns for itself.
var reservedTables = map[string]struct{}{
	"store_meta":        {},
	"schema_migrations": {},
	"journal":           {},
}

// Index declares a secondary index over one field of a collection's
// documents. Path is a dot-separated field path inside the JSON document.
type Index struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Unique bool   `yaml:"unique,omitempty"`
	Since  int    `yaml:"since,omitempty"`
}

// Collection defines one logical entity type: its physical collection name,
// the document field holding the primary key, the prefix used for generated
// ids, and any secondary indexes. Since tags the catalog version that
// introduced the collection; zero means version 1.
type Collection struct {
	Name       string  `yaml:"name"`
	PrimaryKey string  `yaml:"primary_key,omitempty"`
	IDPrefix   string  `yaml:"id_prefix,omitempty"`
	Since      int     `yaml:"since,omitempty"`
	Indexes    []Index `yaml:"indexes,omitempty"`
}

type Catalog struct {
	Version     int          `yaml:"version"`
	Collections []Collection `yaml:"collections"`
}

// KeyField returns the document field holding the primary key, defaulting
// to "id".
func (c Collection) KeyField() string {
	if c.PrimaryKey != "" {
		return c.PrimaryKey
	}
	return "id"
}

// Prefix returns the id prefix for generated record ids, defaulting to the
// collection name.
func (c Collection) Prefix() string {
	if c.IDPrefix != "" {
		return c.IDPrefix
	}
	return c.Name
}

// EffectiveSince normalizes an unset Since tag to the first catalog version.
func (c Collection) EffectiveSince() int {
	if c.Since <= 0 {
		return 1
	}
	return c.Since
}

func (i Index) EffectiveSince() int {
	if i.Since <= 0 {
		return 1
	}
	return i.Since
}

// Index looks up a declared index by name.
func (c Collection) Index(name string) (Index, bool) {
	for _, idx := range c.Indexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return Index{}, false
}

// Collection looks up a collection definition by name.
func (c Catalog) Collection(name string) (Collection, bool) {
	for _, col := range c.Collections {
		if col.Name == name {
			return col, true
		}
	}
	return Collection{}, false
}

// At returns the subset of the catalog visible at the given version:
// collections and indexes whose Since tag is at or below it. Declaration
// order is preserved.
func (c Catalog) At(version int) Catalog {
	out := Catalog{Version: version}
	for _, col := range c.Collections {
		if col.EffectiveSince() > version {
			continue
		}
		kept := col
		kept.Indexes = nil
		for _, idx := range col.Indexes {
			if idx.EffectiveSince() > version {
				continue
			}
			kept.Indexes = append(kept.Indexes, idx)
		}
		out.Collections = append(out.Collections, kept)
	}
	return out
}

// Validate checks the catalog invariants: a positive version, unique
// identifier-safe collection names, valid index names and paths, and Since
// tags that fall inside [1, Version] with indexes never predating their
// collection.
func (c Catalog) Validate() error {
	if c.Version < 1 {
		return fmt.Errorf("%w: version must be >= 1, got %d", ErrInvalid, c.Version)
	}
	if len(c.Collections) == 0 {
		return fmt.Errorf("%w: catalog declares no collections", ErrInvalid)
	}

	seen := map[string]struct{}{}
	for _, col := range c.Collections {
		if err := validateCollection(c.Version, col); err != nil {
			return err
		}
		if _, dup := seen[col.Name]; dup {
			return fmt.Errorf("%w: duplicate collection %q", ErrInvalid, col.Name)
		}
		seen[col.Name] = struct{}{}
	}
	return nil
}

func validateCollection(version int, col Collection) error {
	if !identRE.MatchString(col.Name) {
		return fmt.Errorf("%w: collection name %q is not a valid identifier", ErrInvalid, col.Name)
	}
	if _, reserved := reservedTables[col.Name]; reserved {
		return fmt.Errorf("%w: collection name %q is reserved", ErrInvalid, col.Name)
	}
	if strings.HasPrefix(col.Name, "sqlite_") {
		return fmt.Errorf("%w: collection name %q uses the sqlite_ prefix", ErrInvalid, col.Name)
	}
	if err := validateFieldPath(col.KeyField()); err != nil {
		return fmt.Errorf("%w: collection %q primary key: %v", ErrInvalid, col.Name, err)
	}
	if strings.Contains(col.KeyField(), ".") {
		return fmt.Errorf("%w: collection %q primary key %q must be a top-level field", ErrInvalid, col.Name, col.KeyField())
	}
	if col.IDPrefix != "" && !identRE.MatchString(col.IDPrefix) {
		return fmt.Errorf("%w: collection %q id prefix %q is not a valid identifier", ErrInvalid, col.Name, col.IDPrefix)
	}
	if col.EffectiveSince() > version {
		return fmt.Errorf("%w: collection %q since=%d exceeds catalog version %d", ErrInvalid, col.Name, col.EffectiveSince(), version)
	}

	seenIdx := map[string]struct{}{}
	for _, idx := range col.Indexes {
		if !identRE.MatchString(idx.Name) {
			return fmt.Errorf("%w: collection %q index name %q is not a valid identifier", ErrInvalid, col.Name, idx.Name)
		}
		if _, dup := seenIdx[idx.Name]; dup {
			return fmt.Errorf("%w: collection %q duplicate index %q", ErrInvalid, col.Name, idx.Name)
		}
		seenIdx[idx.Name] = struct{}{}

		if err := validateFieldPath(idx.Path); err != nil {
			return fmt.Errorf("%w: collection %q index %q: %v", ErrInvalid, col.Name, idx.Name, err)
		}
		if idx.EffectiveSince() > version {
			return fmt.Errorf("%w: collection %q index %q since=%d exceeds catalog version %d", ErrInvalid, col.Name, idx.Name, idx.EffectiveSince(), version)
		}
		if idx.EffectiveSince() < col.EffectiveSince() {
			return fmt.Errorf("%w: collection %q index %q since=%d predates its collection (since=%d)", ErrInvalid, col.Name, idx.Name, idx.EffectiveSince(), col.EffectiveSince())
		}
	}
	return nil
}

// fieldRE is looser than identRE: document fields may be mixed case and may
// carry the reserved leading underscore (_created_at, _updated_at).
var fieldRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateFieldPath(path string) error {
	if path == "" {
		return errors.New("field path is empty")
	}
	for _, segment := range strings.Split(path, ".") {
		if !fieldRE.MatchString(segment) {
			return fmt.Errorf("field path %q has invalid segment %q", path, segment)
		}
	}
	return nil
}
