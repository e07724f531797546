package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cofferdb/coffer/internal/journal"
	"github.com/cofferdb/coffer/internal/seed"
)

func newSeedCommand(deps commandDeps) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed collections from the configured directory of YAML seed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("seed does not accept positional arguments")
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				seedDir := strings.TrimSpace(dir)
				if seedDir == "" {
					seedDir = strings.TrimSpace(env.cfg.Seed.Dir)
				}
				if seedDir == "" {
					return usageErrorf("seed requires --dir or a [seed] dir in the config")
				}

				loader := seed.NewLoader(env.store, env.log)
				if err := loader.RegisterDir(seedDir); err != nil {
					return err
				}
				results, err := loader.Run(ctx)
				if err != nil {
					return err
				}

				var created, skipped int
				for _, result := range results {
					created += result.Created
					if result.Skipped {
						skipped++
					}
				}
				err = recordJournal(ctx, env.store, journal.Event{
					Action: journal.ActionSeedRun,
					Details: struct {
						Collections int `json:"collections"`
						Created     int `json:"created"`
						Skipped     int `json:"skipped"`
					}{Collections: len(results), Created: created, Skipped: skipped},
				})
				if err != nil {
					return err
				}

				if deps.globals.JSON {
					return printJSON(deps.out, results)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, result := range results {
					if result.Skipped {
						if _, err := fmt.Fprintf(deps.out, "skipped %s (already populated)\n", result.Collection); err != nil {
							return err
						}
						continue
					}
					if _, err := fmt.Fprintf(deps.out, "seeded %s: %d created\n", result.Collection, result.Created); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Directory of YAML seed files (overrides the config)")
	return cmd
}
