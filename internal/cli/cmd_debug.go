package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cofferdb/coffer/internal/backup"
	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/cofferdb/coffer/internal/config"
	debugpkg "github.com/cofferdb/coffer/internal/debug"
	"github.com/cofferdb/coffer/internal/journal"
	"github.com/cofferdb/coffer/internal/storage"
)

func newDebugCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "debug",
		Short:   "Diagnostics helpers",
		Example: "  coffer debug bundle --output ./coffer-debug.json",
	}
	cmd.AddCommand(newDebugBundleCommand(deps))
	return cmd
}

func newDebugBundleCommand(deps commandDeps) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "bundle",
		Short: "Collect sanitized diagnostics into a JSON bundle",
		Example: "  coffer debug bundle --output ./coffer-debug.json\n" +
			"  coffer --json debug bundle --output ./coffer-debug.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("debug bundle does not accept positional arguments")
			}
			if strings.TrimSpace(outputPath) == "" {
				return usageErrorf("debug bundle requires --output")
			}

			ctx, cancel := commandContext(cmd.Context(), deps)
			defer cancel()

			bundle := debugpkg.NewBundle()
			bundle.Version = map[string]any{
				"version":    deps.build.Version,
				"commit":     deps.build.Commit,
				"build_time": deps.build.BuildTime,
			}
			collectDiagnostics(ctx, deps, &bundle)

			if err := debugpkg.WriteBundle(outputPath, bundle); err != nil {
				return mapCommandError(err)
			}
			if deps.globals.JSON {
				return printJSON(deps.out, map[string]any{
					"output":  outputPath,
					"healthy": bundle.Healthy(),
				})
			}
			if deps.globals.Quiet {
				return nil
			}
			_, err := fmt.Fprintf(deps.out, "debug bundle written: %s\n", outputPath)
			return mapCommandError(err)
		},
	}
	cmd.Flags().StringVar(&outputPath, "output", "", "Output JSON bundle path")
	return cmd
}

// collectDiagnostics runs every check best effort: a failing layer is
// recorded in the bundle instead of aborting the command.
func collectDiagnostics(ctx context.Context, deps commandDeps, bundle *debugpkg.Bundle) {
	cfg, err := loadConfig(deps)
	if err != nil {
		bundle.AddCheck("config", false, err.Error())
		return
	}
	bundle.AddCheck("config", true, "loaded")

	cat, catalogOK := checkCatalog(cfg, bundle)
	if catalogOK {
		checkStore(ctx, cfg, cat, bundle)
	}
	checkBackupDestination(ctx, cfg, bundle)
}

func checkCatalog(cfg config.Config, bundle *debugpkg.Bundle) (catalog.Catalog, bool) {
	catalogPath, err := catalogFilePath(cfg)
	if err != nil {
		bundle.AddCheck("catalog", false, err.Error())
		return catalog.Catalog{}, false
	}
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		bundle.AddCheck("catalog", false, err.Error())
		return catalog.Catalog{}, false
	}
	bundle.AddCheck("catalog", true,
		fmt.Sprintf("version %d, %d collections", cat.Version, len(cat.Collections)))
	return cat, true
}

func checkStore(ctx context.Context, cfg config.Config, cat catalog.Catalog, bundle *debugpkg.Bundle) {
	storePath, err := storeFilePath(cfg)
	if err != nil {
		bundle.AddCheck("store", false, err.Error())
		return
	}
	// Opening a missing store would create it, so stat first. Diagnostics
	// must never change what they examine.
	info, err := os.Stat(storePath)
	if err != nil {
		bundle.AddCheck("store", false, fmt.Sprintf("store file not found at %s", storePath))
		return
	}

	store, err := storage.New(storePath, cat)
	if err != nil {
		bundle.AddCheck("store", false, err.Error())
		return
	}
	defer store.Close()

	schema, err := store.SchemaVersion(ctx)
	if err != nil {
		bundle.AddCheck("store", false, err.Error())
		return
	}
	bundle.Store = map[string]any{
		"path":            storePath,
		"size_bytes":      info.Size(),
		"schema_version":  schema,
		"catalog_version": cat.Version,
	}
	bundle.AddCheck("store", true, fmt.Sprintf("open, schema version %d", schema))

	checkJournal(ctx, store, bundle)
}

func checkJournal(ctx context.Context, store *storage.Store, bundle *debugpkg.Bundle) {
	rec, err := journal.NewRecorder(storage.NewJournalRepository(store))
	if err != nil {
		bundle.AddCheck("journal", false, err.Error())
		return
	}
	result, err := rec.Verify(ctx)
	if err != nil {
		bundle.AddCheck("journal", false, err.Error())
		return
	}
	if !result.Valid {
		bundle.AddCheck("journal", false, result.Error)
		return
	}
	bundle.AddCheck("journal", true, fmt.Sprintf("chain intact, %d entries", result.EntryCount))
}

func checkBackupDestination(ctx context.Context, cfg config.Config, bundle *debugpkg.Bundle) {
	dest, err := newBackupDestination(ctx, cfg)
	if err != nil {
		bundle.AddCheck("backup_destination", false, err.Error())
		return
	}
	manifests, err := backup.List(ctx, dest)
	if err != nil {
		bundle.AddCheck("backup_destination", false, err.Error())
		return
	}
	bundle.Backup = map[string]any{
		"destination": cfg.Backup.Destination,
		"count":       len(manifests),
	}
	bundle.AddCheck("backup_destination", true,
		fmt.Sprintf("%s destination reachable, %d backups", cfg.Backup.Destination, len(manifests)))
}
