package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/cofferdb/coffer/internal/storage"
	"github.com/cofferdb/coffer/internal/tui"
)

func newBrowseCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:     "browse",
		Short:   "Browse collections and records interactively",
		Example: `  coffer browse`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("browse does not accept positional arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				return tui.Run(tui.Options{
					Browser: &storeBrowser{store: env.store},
					IsTTY: func() bool {
						return isatty.IsTerminal(os.Stdout.Fd())
					},
				})
			})
		},
	}
}

// storeBrowser adapts an open store to the read-only surface the
// interactive browser renders.
type storeBrowser struct {
	store *storage.Store
}

func (b *storeBrowser) Collections(ctx context.Context) ([]tui.Collection, error) {
	cat := b.store.Catalog()
	collections := make([]tui.Collection, 0, len(cat.Collections))
	for _, col := range cat.Collections {
		count, err := b.store.Count(ctx, col.Name)
		if err != nil {
			return nil, err
		}
		collections = append(collections, tui.Collection{
			Name:     col.Name,
			KeyField: col.KeyField(),
			Count:    count,
		})
	}
	return collections, nil
}

func (b *storeBrowser) Records(ctx context.Context, collection string) ([]tui.Record, error) {
	docs, err := b.store.ScanAll(ctx, collection)
	if err != nil {
		return nil, err
	}
	keyField := "id"
	if col, ok := b.store.Catalog().Collection(collection); ok {
		keyField = col.KeyField()
	}
	records := make([]tui.Record, 0, len(docs))
	for _, doc := range docs {
		id, err := documentID(doc, keyField)
		if err != nil {
			return nil, err
		}
		records = append(records, tui.Record{ID: id, Preview: recordPreview(doc)})
	}
	return records, nil
}

func (b *storeBrowser) Document(ctx context.Context, collection, id string) (string, error) {
	doc, err := b.store.Get(ctx, collection, id)
	if err != nil {
		return "", err
	}
	if doc == nil {
		return "", fmt.Errorf("%w: %s %q", storage.ErrNotFound, collection, id)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return "", fmt.Errorf("render document: %w", err)
	}
	return buf.String(), nil
}

const previewLimit = 80

// recordPreview compacts a document to one line for the record listing.
func recordPreview(doc json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return ""
	}
	preview := buf.String()
	if runes := []rune(preview); len(runes) > previewLimit {
		preview = string(runes[:previewLimit]) + "..."
	}
	return preview
}
