package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List configured instances",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := instances()
			if err != nil {
				return err
			}

			if len(names) == 0 {
				fmt.Println("no instances configured")

				return nil
			}

			for _, n := range names {
				fmt.Println(n)
			}

			return nil
		},
	}
}
