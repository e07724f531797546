package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/cofferdb/coffer/internal/journal"
	"github.com/cofferdb/coffer/internal/storage"
)

const defaultInitConfig = `[store]
path = ""
catalog_path = ""

[logging]
level = "info"
file = ""
max_size_mb = 10
max_files = 5

[backup]
destination = "local"
dir = ""
prefix = "coffer"

[seed]
dir = ""
`

func newInitCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store from a catalog and write a default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("init does not accept positional arguments")
			}

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
			configPath, err := configFilePath(deps.globals)
			if err != nil {
				return mapCommandError(err)
			}

			yes := deps.globals != nil && deps.globals.Yes
			if _, err := os.Stat(storePath); err == nil {
				if !yes {
					return usageErrorf("init target store already exists: %s (use --yes to overwrite)", storePath)
				}
				if err := removeStoreFiles(storePath); err != nil {
					return mapCommandError(err)
				}
			} else if !errors.Is(err, os.ErrNotExist) {
				return mapCommandError(err)
			}

			if err := os.MkdirAll(filepath.Dir(storePath), 0o700); err != nil {
				return mapCommandError(fmt.Errorf("init: create store directory: %w", err))
			}

			store, err := storage.New(storePath, cat)
			if err != nil {
				return mapCommandError(err)
			}
			defer store.Close()
			if err := store.Open(cmd.Context()); err != nil {
				return mapCommandError(err)
			}
			version, err := store.SchemaVersion(cmd.Context())
			if err != nil {
				return mapCommandError(err)
			}

			err = recordJournal(cmd.Context(), store, journal.Event{
				Action: journal.ActionStoreInit,
				Details: struct {
					CatalogVersion int `json:"catalog_version"`
					SchemaVersion  int `json:"schema_version"`
				}{CatalogVersion: cat.Version, SchemaVersion: version},
			})
			if err != nil {
				return mapCommandError(err)
			}

			if err := writeDefaultConfig(configPath, yes); err != nil {
				return mapCommandError(err)
			}

			if deps.globals.JSON {
				return printJSON(deps.out, map[string]any{
					"initialized":    true,
					"store_path":     storePath,
					"catalog_path":   catalogPath,
					"config_path":    configPath,
					"schema_version": version,
				})
			}
			if deps.globals.Quiet {
				return nil
			}
			if _, err := fmt.Fprintf(deps.out, "initialized store: %s (schema version %d)\n", storePath, version); err != nil {
				return mapCommandError(err)
			}
			if _, err := fmt.Fprintf(deps.out, "wrote config: %s\n", configPath); err != nil {
				return mapCommandError(err)
			}
			return nil
		},
	}
}

// removeStoreFiles clears the store file plus WAL sidecars before a forced
// re-init.
func removeStoreFiles(storePath string) error {
	for _, path := range []string{storePath, storePath + "-wal", storePath + "-shm"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("init: remove %s: %w", path, err)
		}
	}
	return nil
}

func writeDefaultConfig(path string, overwrite bool) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("init: config path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("init: create config directory: %w", err)
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("init: stat config path: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(defaultInitConfig), 0o600); err != nil {
		return fmt.Errorf("init: write config: %w", err)
	}
	return nil
}
