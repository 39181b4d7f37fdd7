package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	version   = "0.1.0"
	buildDate = "unknown"
)

type globalFlags struct {
	configPath string
	logLevel   string
	pretty     bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "qbo-backfill",
		Short: "Backfill upstream entity records into a relational sink",
		Long: `qbo-backfill walks a date range one UTC day at a time, pages through
every record updated in each day and upserts the whole batch into the
configured sink in a single transaction.

Configuration is read from struct defaults, an optional YAML file
(--config or QBO_CONFIG_PATH) and QBO_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.pretty, "pretty", false, "Human-readable console logs")

	root.AddCommand(newRunCmd(flags))
	root.AddCommand(newMigrateCmd(flags))
	root.AddCommand(newVersionCmd())

	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "qbo-backfill", version)
			fmt.Fprintln(out, "Go Version:", runtime.Version())
			fmt.Fprintln(out, "OS/Arch:", runtime.GOOS+"/"+runtime.GOARCH)
			fmt.Fprintln(out, "Build Date:", buildDate)
		},
	}
}
