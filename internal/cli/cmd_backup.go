package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cofferdb/coffer/internal/backup"
	"github.com/cofferdb/coffer/internal/catalog"
	"github.com/cofferdb/coffer/internal/config"
	"github.com/cofferdb/coffer/internal/journal"
	"github.com/cofferdb/coffer/internal/storage"
)

func newBackupCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, and restore store backups",
	}
	cmd.AddCommand(
		newBackupCreateCommand(deps),
		newBackupListCommand(deps),
		newBackupRestoreCommand(deps),
	)
	return cmd
}

func newBackupCreateCommand(deps commandDeps) *cobra.Command {
	var passphrase string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the store into the configured backup destination",
		Example: "  coffer backup create\n" +
			"  coffer backup create --passphrase \"backup-pass\"",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup create does not accept positional arguments")
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				dest, err := newBackupDestination(ctx, env.cfg)
				if err != nil {
					return err
				}
				manifest, err := backup.NewService(env.store, dest, env.log).Create(ctx, backupPassphrase(passphrase))
				if err != nil {
					return err
				}
				err = recordJournal(ctx, env.store, journal.Event{
					Action:     journal.ActionBackupCreate,
					TargetType: "backup",
					TargetID:   manifest.ID,
					Details: struct {
						SizeBytes int64 `json:"size_bytes"`
						Encrypted bool  `json:"encrypted"`
					}{SizeBytes: manifest.SizeBytes, Encrypted: manifest.Encrypted},
				})
				if err != nil {
					return err
				}
				if deps.globals.JSON {
					return printJSON(deps.out, manifest)
				}
				if deps.globals.Quiet {
					return nil
				}
				_, err = fmt.Fprintf(deps.out, "backup created: %s (%d bytes)\n", manifest.ID, manifest.SizeBytes)
				return err
			})
		},
	}

	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Encrypt the backup payload with this passphrase")
	return cmd
}

func newBackupListCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List backups in the configured destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("backup ls does not accept positional arguments")
			}
			ctx, cancel := commandContext(cmd.Context(), deps)
			defer cancel()

			cfg, err := loadConfig(deps)
			if err != nil {
				return mapCommandError(fmt.Errorf("load config: %w", err))
			}
			src, err := newBackupDestination(ctx, cfg)
			if err != nil {
				return mapCommandError(err)
			}
			manifests, err := backup.List(ctx, src)
			if err != nil {
				return mapCommandError(err)
			}

			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, manifests))
			}
			if deps.globals.Quiet {
				return nil
			}
			for _, manifest := range manifests {
				if _, err := fmt.Fprintf(
					deps.out,
					"%s %s %d bytes\n",
					manifest.ID,
					manifest.CreatedAt,
					manifest.SizeBytes,
				); err != nil {
					return mapCommandError(err)
				}
			}
			return nil
		},
	}
}

func newBackupRestoreCommand(deps commandDeps) *cobra.Command {
	var (
		to         string
		force      bool
		passphrase string
	)

	cmd := &cobra.Command{
		Use:   "restore <backup-id>",
		Short: "Restore a backup into the store path",
		Example: "  coffer backup restore 2f6b2c4e-... --force\n" +
			"  coffer backup restore 2f6b2c4e-... --passphrase \"backup-pass\"",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usageErrorf("backup restore requires exactly one backup id")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd.Context(), deps)
			defer cancel()

			cfg, err := loadConfig(deps)
			if err != nil {
				return mapCommandError(fmt.Errorf("load config: %w", err))
			}
			src, err := newBackupDestination(ctx, cfg)
			if err != nil {
				return mapCommandError(err)
			}

			targetPath := strings.TrimSpace(to)
			if targetPath == "" {
				targetPath, err = storeFilePath(cfg)
				if err != nil {
					return mapCommandError(err)
				}
			}
			overwrite := force || (deps.globals != nil && deps.globals.Yes)

			manifest, err := backup.Restore(ctx, src, args[0], targetPath, backupPassphrase(passphrase), overwrite)
			if err != nil {
				return mapCommandError(err)
			}

			if err := journalRestore(ctx, cfg, targetPath, manifest); err != nil && !deps.globals.Quiet {
				fmt.Fprintf(deps.out, "warning: restore not journaled: %v\n", err)
			}

			if deps.globals.JSON {
				return mapCommandError(printJSON(deps.out, map[string]any{
					"restored":   manifest.ID,
					"store_path": targetPath,
				}))
			}
			if deps.globals.Quiet {
				return nil
			}
			_, err = fmt.Fprintf(deps.out, "restored backup %s to %s\n", manifest.ID, targetPath)
			return mapCommandError(err)
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Restore to this path instead of the configured store path")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing store file")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "Passphrase for an encrypted backup")
	return cmd
}

// journalRestore appends a restore marker to the journal of the restored
// store. Best effort: the restore itself already succeeded, and the restored
// snapshot may not open under the present catalog.
func journalRestore(ctx context.Context, cfg config.Config, targetPath string, manifest *backup.Manifest) error {
	catalogPath, err := catalogFilePath(cfg)
	if err != nil {
		return err
	}
	cat, err := catalog.Load(catalogPath)
	if err != nil {
		return err
	}
	store, err := storage.New(targetPath, cat)
	if err != nil {
		return err
	}
	defer store.Close()

	return recordJournal(ctx, store, journal.Event{
		Action:     journal.ActionBackupRestore,
		TargetType: "backup",
		TargetID:   manifest.ID,
		Details: struct {
			StorePath string `json:"store_path"`
		}{StorePath: targetPath},
	})
}

// backupPassphrase normalizes the flag value; whitespace-only means no
// encryption.
func backupPassphrase(flag string) []byte {
	trimmed := strings.TrimSpace(flag)
	if trimmed == "" {
		return nil
	}
	return []byte(trimmed)
}

func newBackupDestination(ctx context.Context, cfg config.Config) (backup.ObjectStorage, error) {
	if cfg.Backup.Destination == "s3" {
		return backup.NewS3Storage(ctx, backup.S3Config{
			Bucket:       cfg.Backup.Bucket,
			Region:       cfg.Backup.Region,
			Endpoint:     cfg.Backup.Endpoint,
			Prefix:       cfg.Backup.Prefix,
			UsePathStyle: cfg.Backup.PathStyle,
		})
	}
	dir, err := backupDirPath(cfg)
	if err != nil {
		return nil, err
	}
	return backup.NewLocalStorage(dir)
}
