package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/fsync/internal/rpcserver"
)

func newConflictsCmd() *cobra.Command {
	var (
		instance string
		prefix   string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicting paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := dialInstance(cmd.Context(), instance)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Call(rpcserver.Request{Verb: rpcserver.VerbConflicts, Prefix: prefix, Limit: limit})
			if err != nil {
				return err
			}

			if resp.Err != "" {
				return fmt.Errorf("%s", resp.Err)
			}

			if len(resp.Conflicts) == 0 {
				fmt.Println("no conflicts")

				return nil
			}

			for _, p := range resp.Conflicts {
				fmt.Println(p)
			}

			return nil
		},
	}

	cmd.Flags().StringVar(&instance, "instance", defaultInstance, "instance name")
	cmd.Flags().StringVar(&prefix, "prefix", "/", "only list conflicts under this path")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of conflicts to list (0 = unlimited)")

	return cmd
}
