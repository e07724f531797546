package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/cofferdb/coffer/internal/entity"
	"github.com/cofferdb/coffer/internal/journal"
	"github.com/cofferdb/coffer/internal/storage"
)

func newRecordsCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "records",
		Short: "Raw record operations on a collection",
	}
	cmd.AddCommand(
		newRecordsListCommand(deps),
		newRecordsShowCommand(deps),
		newRecordsPutCommand(deps),
		newRecordsRemoveCommand(deps),
	)
	return cmd
}

func newRecordsListCommand(deps commandDeps) *cobra.Command {
	var (
		index string
		value string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "ls <collection>",
		Short: "List records in a collection",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("records ls requires exactly one collection name")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if index == "" && value != "" {
				return usageErrorf("records ls --value requires --index")
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				collection := args[0]

				var (
					docs []json.RawMessage
					err  error
				)
				if index != "" {
					docs, err = env.store.ScanIndex(ctx, collection, index, value)
				} else {
					docs, err = env.store.ScanAll(ctx, collection)
				}
				if err != nil {
					return err
				}
				if limit > 0 && len(docs) > limit {
					docs = docs[:limit]
				}

				if deps.globals.JSON {
					return printJSON(deps.out, docs)
				}
				if deps.globals.Quiet {
					return nil
				}
				keyField := recordKeyField(env, collection)
				for _, doc := range docs {
					id, err := documentID(doc, keyField)
					if err != nil {
						return err
					}
					if _, err := fmt.Fprintln(deps.out, id); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&index, "index", "", "Filter through this declared index")
	cmd.Flags().StringVar(&value, "value", "", "Value to match on the index field")
	cmd.Flags().IntVar(&limit, "limit", 0, "Cap the number of records printed (0 means all)")
	return cmd
}

func newRecordsShowCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "show <collection> <id>",
		Short: "Print one record as JSON",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("records show requires a collection name and a record id")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				doc, err := env.store.Get(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if doc == nil {
					return fmt.Errorf("%w: %s %q", storage.ErrNotFound, args[0], args[1])
				}
				if deps.globals.JSON {
					return printJSON(deps.out, doc)
				}
				if deps.globals.Quiet {
					return nil
				}
				return printDocument(deps.out, doc)
			})
		},
	}
}

func newRecordsPutCommand(deps commandDeps) *cobra.Command {
	var (
		file     string
		assignID bool
	)

	cmd := &cobra.Command{
		Use:   "put <collection>",
		Short: "Insert or replace a record from a JSON document",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("records put requires exactly one collection name")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				collection := args[0]
				doc, err := readDocumentInput(cmd.InOrStdin(), file)
				if err != nil {
					return err
				}
				if assignID {
					doc, err = ensureDocumentID(env, collection, doc)
					if err != nil {
						return err
					}
				}
				if err := env.store.Put(ctx, collection, doc); err != nil {
					return err
				}

				id, err := documentID(doc, recordKeyField(env, collection))
				if err != nil {
					return err
				}
				err = recordJournal(ctx, env.store, journal.Event{
					Action:     journal.ActionRecordPut,
					TargetType: collection,
					TargetID:   id,
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"stored": id})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "stored record: %s\n", id)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Read the document from this file instead of stdin")
	cmd.Flags().BoolVar(&assignID, "assign-id", false, "Generate an id when the document has none")
	return cmd
}

func newRecordsRemoveCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <collection> <id>",
		Short: "Remove a record (no error when it is already gone)",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return usageErrorf("records rm requires a collection name and a record id")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				if err := env.store.Delete(ctx, args[0], args[1]); err != nil {
					return err
				}
				err := recordJournal(ctx, env.store, journal.Event{
					Action:     journal.ActionRecordDelete,
					TargetType: args[0],
					TargetID:   args[1],
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, map[string]any{"deleted": args[1]})
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "record removed: %s\n", args[1])
				return err
			})
		},
	}
}

func recordKeyField(env storeEnv, collection string) string {
	if col, ok := env.store.Catalog().Collection(collection); ok {
		return col.KeyField()
	}
	return "id"
}

func documentID(doc json.RawMessage, keyField string) (string, error) {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return "", fmt.Errorf("decode record: %w", err)
	}
	id, _ := fields[keyField].(string)
	return id, nil
}

func ensureDocumentID(env storeEnv, collection string, doc json.RawMessage) (json.RawMessage, error) {
	col, ok := env.store.Catalog().Collection(collection)
	if !ok {
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownCollection, collection)
	}
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrInvalidDocument, err)
	}
	key := col.KeyField()
	if id, _ := fields[key].(string); id == "" {
		fields[key] = entity.NewID(col.Prefix())
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return out, nil
}

func readDocumentInput(stdin io.Reader, file string) (json.RawMessage, error) {
	if file != "" && file != "-" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read document file: %w", err)
		}
		return json.RawMessage(data), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read document from stdin: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, usageErrorf("records put requires a document on stdin or --file")
	}
	return json.RawMessage(data), nil
}
