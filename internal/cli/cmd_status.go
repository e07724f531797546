package cli

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"
)

type statusPayload struct {
	StorePath      string           `json:"store_path"`
	SizeBytes      int64            `json:"size_bytes"`
	SchemaVersion  int              `json:"schema_version"`
	CatalogVersion int              `json:"catalog_version"`
	CreatedAt      string           `json:"created_at,omitempty"`
	Collections    map[string]int64 `json:"collections"`
}

func newStatusCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show schema version and per-collection record counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("status does not accept positional arguments")
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				version, err := env.store.SchemaVersion(ctx)
				if err != nil {
					return err
				}
				createdAt, err := env.store.CreatedAt(ctx)
				if err != nil {
					return err
				}

				cat := env.store.Catalog()
				counts := make(map[string]int64, len(cat.Collections))
				for _, col := range cat.Collections {
					n, err := env.store.Count(ctx, col.Name)
					if err != nil {
						return err
					}
					counts[col.Name] = n
				}

				payload := statusPayload{
					StorePath:      env.store.Path(),
					SizeBytes:      storeFileSize(env.store.Path()),
					SchemaVersion:  version,
					CatalogVersion: cat.Version,
					CreatedAt:      createdAt,
					Collections:    counts,
				}
				if deps.globals.JSON {
					return printJSON(deps.out, payload)
				}
				if deps.globals.Quiet {
					return nil
				}

				if _, err := fmt.Fprintf(
					deps.out,
					"store=%s size_bytes=%d schema_version=%d catalog_version=%d\n",
					payload.StorePath,
					payload.SizeBytes,
					payload.SchemaVersion,
					payload.CatalogVersion,
				); err != nil {
					return err
				}
				names := make([]string, 0, len(counts))
				for name := range counts {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					if _, err := fmt.Fprintf(deps.out, "%s=%d\n", name, counts[name]); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
}

// storeFileSize reports the main database file size; sidecar WAL bytes are
// not included. Zero when the file cannot be examined.
func storeFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
