package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cofferdb/coffer/internal/journal"
	"github.com/cofferdb/coffer/internal/storage"
)

type journalEntryPayload struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Action     string `json:"action"`
	TargetType string `json:"target_type,omitempty"`
	TargetID   string `json:"target_id,omitempty"`
	Result     string `json:"result"`
	Details    string `json:"details"`
	EntryHash  string `json:"entry_hash"`
}

type journalVerifyPayload struct {
	Valid      bool   `json:"valid"`
	EntryCount int    `json:"entry_count"`
	ChainTip   string `json:"chain_tip"`
	Error      string `json:"error,omitempty"`
}

func newJournalCommand(deps commandDeps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the hash-chained operations journal",
		Example: `  coffer journal ls
  coffer journal ls --action record.put --limit 20
  coffer journal verify`,
	}
	cmd.AddCommand(
		newJournalListCommand(deps),
		newJournalVerifyCommand(deps),
	)
	return cmd
}

func newJournalListCommand(deps commandDeps) *cobra.Command {
	var (
		action string
		target string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List journal entries in append order",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("journal ls does not accept positional arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit < 0 {
				return usageErrorf("journal ls --limit must not be negative")
			}
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				rec, err := journal.NewRecorder(storage.NewJournalRepository(env.store))
				if err != nil {
					return err
				}
				entries, err := rec.List(ctx, journal.Filter{
					Action:   action,
					TargetID: target,
					Limit:    limit,
				})
				if err != nil {
					return err
				}

				if deps.globals.JSON {
					payload := make([]journalEntryPayload, 0, len(entries))
					for _, entry := range entries {
						payload = append(payload, journalEntryPayload{
							ID:         entry.ID,
							Timestamp:  entry.Timestamp.UTC().Format(time.RFC3339),
							Action:     entry.Action,
							TargetType: entry.TargetType,
							TargetID:   entry.TargetID,
							Result:     entry.Result,
							Details:    entry.DetailsJSON,
							EntryHash:  entry.EntryHash,
						})
					}
					return printJSON(deps.out, payload)
				}
				if deps.globals.Quiet {
					return nil
				}
				for _, entry := range entries {
					_, err := fmt.Fprintf(
						deps.out,
						"%s action=%s target=%s/%s result=%s\n",
						entry.Timestamp.UTC().Format(time.RFC3339),
						entry.Action,
						entry.TargetType,
						entry.TargetID,
						entry.Result,
					)
					if err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "Only entries recorded for this action")
	cmd.Flags().StringVar(&target, "target", "", "Only entries touching this target id")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum entries to print")
	return cmd
}

func newJournalVerifyCommand(deps commandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute the hash chain and compare it to the stored tip",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 {
				return usageErrorf("journal verify does not accept positional arguments")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), deps, func(ctx context.Context, env storeEnv) error {
				rec, err := journal.NewRecorder(storage.NewJournalRepository(env.store))
				if err != nil {
					return err
				}
				result, err := rec.Verify(ctx)
				if err != nil {
					return err
				}

				if deps.globals.JSON {
					if err := printJSON(deps.out, journalVerifyPayload{
						Valid:      result.Valid,
						EntryCount: result.EntryCount,
						ChainTip:   result.ChainTip,
						Error:      result.Error,
					}); err != nil {
						return err
					}
				} else if !deps.globals.Quiet {
					_, err := fmt.Fprintf(
						deps.out,
						"valid=%t entries=%d chain_tip=%s error=%s\n",
						result.Valid,
						result.EntryCount,
						result.ChainTip,
						result.Error,
					)
					if err != nil {
						return err
					}
				}
				if !result.Valid {
					return &ExitError{
						Code: ExitCodeGeneric,
						Err:  fmt.Errorf("journal chain is not intact: %s", result.Error),
					}
				}
				return nil
			})
		},
	}
}
