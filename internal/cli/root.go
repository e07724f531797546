package cli

import (
	"io"
	"time"

	"github.com/spf13/cobra"
)

type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// GlobalOptions carries the persistent flags shared by every command.
type GlobalOptions struct {
	JSON        bool
	Quiet       bool
	Yes         bool
	Timeout     time.Duration
	StorePath   string
	CatalogPath string
	ConfigPath  string
}

type commandDeps struct {
	out     io.Writer
	build   BuildInfo
	globals *GlobalOptions
}

func NewRootCommand(out io.Writer, build BuildInfo) *cobra.Command {
	globals := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:           "coffer",
		Short:         "Coffer embedded document store CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageErrorf("%v", err)
	})

	flags := cmd.PersistentFlags()
	flags.BoolVar(&globals.JSON, "json", false, "Print machine-readable JSON output")
	flags.BoolVar(&globals.Quiet, "quiet", false, "Suppress non-essential output")
	flags.BoolVar(&globals.Yes, "yes", false, "Assume yes for destructive operations")
	flags.DurationVar(&globals.Timeout, "timeout", 0, "Abort the command after this duration (0 disables)")
	flags.StringVar(&globals.StorePath, "store", "", "Path of the store file")
	flags.StringVar(&globals.CatalogPath, "catalog", "", "Path of the catalog file")
	flags.StringVar(&globals.ConfigPath, "config", "", "Path of the config file")

	deps := commandDeps{out: out, build: build, globals: globals}
	cmd.AddCommand(
		newInitCommand(deps),
		newSeedCommand(deps),
		newStatusCommand(deps),
		newRecordsCommand(deps),
		newBrowseCommand(deps),
		newJournalCommand(deps),
		newBackupCommand(deps),
		newDebugCommand(deps),
		newVersionCommand(deps),
	)
	cmd.InitDefaultCompletionCmd()
	return cmd
}
