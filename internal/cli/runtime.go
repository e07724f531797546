package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/cofferdb/coffer/internal/config"
	"github.com/cofferdb/coffer/internal/journal"
	"github.com/cofferdb/coffer/internal/logging"
	"github.com/cofferdb/coffer/internal/storage"
)

// loadConfigFn is swapped out by tests that need a fixed config.
var loadConfigFn = config.Load

// storeEnv bundles what a store-backed command needs: the resolved config,
// the lazily opened store, and a logger honoring the logging config.
type storeEnv struct {
	cfg   config.Config
	store *storage.Store
	log   *slog.Logger
}

func withStore(cmdCtx context.Context, deps commandDeps, fn func(context.Context, storeEnv) error) error {
	ctx, cancel := commandContext(cmdCtx, deps)
	defer cancel()

	cfg, err := loadConfig(deps)
	if err != nil {
		return mapCommandError(fmt.Errorf("load config: %w", err))
	}

	catalogPath, err := catalogFilePath(cfg)
	if err != nil {
		return mapCommandError(err)
	}
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return mapCommandError(fmt.Errorf("load catalog: %w", err))
	}

	storePath, err := storeFilePath(cfg)
	if err != nil {
		return mapCommandError(err)
	}
	store, err := storage.New(storePath, cat)
	if err != nil {
		return mapCommandError(err)
	}
	defer store.Close()

	log, logCloser, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return mapCommandError(fmt.Errorf("set up logging: %w", err))
	}
	defer logCloser.Close()

	return mapCommandError(fn(ctx, storeEnv{cfg: cfg, store: store, log: log}))
}

// recordJournal appends one entry to the store's operations journal. The
// mutation it describes has already committed, so a failure here surfaces as
// a command error without undoing anything.
func recordJournal(ctx context.Context, store *storage.Store, event journal.Event) error {
	rec, err := journal.NewRecorder(storage.NewJournalRepository(store))
	if err != nil {
		return err
	}
	return rec.Record(ctx, event)
}

func commandContext(cmdCtx context.Context, deps commandDeps) (context.Context, context.CancelFunc) {
	if deps.globals != nil && deps.globals.Timeout > 0 {
		return context.WithTimeout(cmdCtx, deps.globals.Timeout)
	}
	return context.WithCancel(cmdCtx)
}

func loadConfig(deps commandDeps) (config.Config, error) {
	opts := config.LoadOptions{}
	if deps.globals != nil {
		if configPath := strings.TrimSpace(deps.globals.ConfigPath); configPath != "" {
			opts.ConfigPath = configPath
		}
		if storePath := strings.TrimSpace(deps.globals.StorePath); storePath != "" {
			opts.Flags.StorePath = &storePath
		}
		if catalogPath := strings.TrimSpace(deps.globals.CatalogPath); catalogPath != "" {
			opts.Flags.CatalogPath = &catalogPath
		}
	}
	return loadConfigFn(opts)
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

// printDocument renders a raw JSON document, indented in text mode so it is
// readable on a terminal.
func printDocument(w io.Writer, doc json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, doc, "", "  "); err != nil {
		return fmt.Errorf("render document: %w", err)
	}
	_, err := fmt.Fprintln(w, buf.String())
	return err
}
