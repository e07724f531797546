package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsWellFormedCatalog(t *testing.T) {
	t.Parallel()

	cat := testCatalog()
	require.NoError(t, cat.Validate())
}

func TestValidateRejectsDuplicateCollectionNames(t *testing.T) {
	t.Parallel()

	cat := Catalog{
		Version: 1,
		Collections: []Collection{
			{Name: "tasks"},
			{Name: "tasks"},
		},
	}
	err := cat.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "duplicate collection")
}

func TestValidateRejectsInvalidCollectionName(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "Tasks", "1tasks", "task-list", "task list"} {
		cat := Catalog{Version: 1, Collections: []Collection{{Name: name}}}
		require.ErrorIs(t, cat.Validate(), ErrInvalid, "name %q", name)
	}
}

func TestValidateRejectsReservedNames(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"store_meta", "schema_migrations", "sqlite_sequence"} {
		cat := Catalog{Version: 1, Collections: []Collection{{Name: name}}}
		require.ErrorIs(t, cat.Validate(), ErrInvalid, "name %q", name)
	}
}

func TestValidateRejectsNestedPrimaryKey(t *testing.T) {
	t.Parallel()

	cat := Catalog{Version: 1, Collections: []Collection{{Name: "tasks", PrimaryKey: "meta.id"}}}
	require.ErrorIs(t, cat.Validate(), ErrInvalid)
}

func TestValidateRejectsSinceBeyondVersion(t *testing.T) {
	t.Parallel()

	cat := Catalog{Version: 2, Collections: []Collection{{Name: "tasks", Since: 3}}}
	require.ErrorIs(t, cat.Validate(), ErrInvalid)

	cat = Catalog{
		Version: 2,
		Collections: []Collection{
			{Name: "tasks", Indexes: []Index{{Name: "by_status", Path: "status", Since: 3}}},
		},
	}
	require.ErrorIs(t, cat.Validate(), ErrInvalid)
}

func TestValidateRejectsIndexPredatingCollection(t *testing.T) {
	t.Parallel()

	cat := Catalog{
		Version: 3,
		Collections: []Collection{
			{Name: "uploads", Since: 2, Indexes: []Index{{Name: "by_state", Path: "state", Since: 1}}},
		},
	}
	require.ErrorIs(t, cat.Validate(), ErrInvalid)
}

func TestValidateRejectsBadIndexPath(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"", ".", "a..b", "a.", "9field", "sta tus"} {
		cat := Catalog{
			Version: 1,
			Collections: []Collection{
				{Name: "tasks", Indexes: []Index{{Name: "by_x", Path: path}}},
			},
		}
		require.ErrorIs(t, cat.Validate(), ErrInvalid, "path %q", path)
	}
}

func TestAtFiltersByVersion(t *testing.T) {
	t.Parallel()

	cat := testCatalog()

	v1 := cat.At(1)
	require.Len(t, v1.Collections, 1)
	require.Equal(t, "tasks", v1.Collections[0].Name)
	require.Len(t, v1.Collections[0].Indexes, 1)

	v2 := cat.At(2)
	require.Len(t, v2.Collections, 2)
	tasks, ok := v2.Collection("tasks")
	require.True(t, ok)
	require.Len(t, tasks.Indexes, 2)
}

func TestCollectionDefaults(t *testing.T) {
	t.Parallel()

	col := Collection{Name: "tasks"}
	require.Equal(t, "id", col.KeyField())
	require.Equal(t, "tasks", col.Prefix())
	require.Equal(t, 1, col.EffectiveSince())

	col = Collection{Name: "tasks", PrimaryKey: "slug", IDPrefix: "task", Since: 2}
	require.Equal(t, "slug", col.KeyField())
	require.Equal(t, "task", col.Prefix())
	require.Equal(t, 2, col.EffectiveSince())
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()

	_, err := Parse([]byte(`
version: 1
collections:
  - name: tasks
    indices:
      - name: by_status
        path: status
`))
	require.ErrorIs(t, err, ErrInvalid)
}

func TestLoadParsesCatalogFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 2
collections:
  - name: tasks
    id_prefix: task
    indexes:
      - name: by_status
        path: status
  - name: uploads
    since: 2
    indexes:
      - name: by_state
        path: state
        since: 2
`), 0o600))

	cat, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, cat.Version)
	require.Len(t, cat.Collections, 2)

	tasks, ok := cat.Collection("tasks")
	require.True(t, ok)
	require.Equal(t, "task", tasks.Prefix())

	idx, ok := tasks.Index("by_status")
	require.True(t, ok)
	require.Equal(t, "status", idx.Path)
}

func TestLoadMissingFileFails(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func testCatalog() Catalog {
	return Catalog{
		Version: 2,
		Collections: []Collection{
			{
				Name:     "tasks",
				IDPrefix: "task",
				Indexes: []Index{
					{Name: "by_status", Path: "status"},
					{Name: "by_owner", Path: "owner", Since: 2},
				},
			},
			{
				Name:  "uploads",
				Since: 2,
				Indexes: []Index{
					{Name: "by_state", Path: "state", Since: 2, Unique: false},
				},
			},
		},
	}
}
