// Command fsync is the CLI client for the fsyncd daemon (spec.md §6): it
// dials an instance's advertised loopback RPC port and issues one request
// per invocation.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "fsync",
		Short:         "fsync CLI client",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.AddCommand(
		newListCmd(),
		newNavCmd(),
		newNewCmd(),
		newEntryCmd(),
		newTreeCmd(),
		newSyncCmd(),
		newConflictsCmd(),
	)

	return cmd
}
