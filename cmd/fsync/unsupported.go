package main

import (
	"github.com/spf13/cobra"

	"github.com/tonimelisma/fsync/internal/fserrors"
)

// unsupported builds the error every no-op command below returns: nav and
// new are interactive TUI/wizard surfaces (spec.md §1 Non-goals) that the
// subcommand tree still names per spec.md §6, rather than omitting.
func unsupported(what string) error {
	return fserrors.New(fserrors.ClassOther, what+" is not implemented in this client", nil)
}

func newNavCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "nav [path]",
		Short: "Interactive navigator (unsupported)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(*cobra.Command, []string) error {
			return unsupported("nav")
		},
	}
}

func newNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new [name]",
		Short: "Interactive instance setup wizard (unsupported)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(*cobra.Command, []string) error {
			return unsupported("new")
		},
	}

	cmd.Flags().String("local-dir", "", "local directory (unused; accepted for surface parity)")

	return cmd
}
