// Command qbo-backfill extracts upstream entity records day by day over a
// date range and upserts them into the configured sink.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Sternrassler/qbo-backfill/pkg/config"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), "Error:", err)
		return exitCode(err)
	}
	return exitOK
}

func exitCode(err error) int {
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return exitConfigError
	}
	return exitFailure
}
