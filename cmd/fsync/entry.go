package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/fsync/internal/rpcserver"
)

func newEntryCmd() *cobra.Command {
	var instance string

	cmd := &cobra.Command{
		Use:   "entry [path]",
		Short: "Show the diff-tree entry for a path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 1 {
				path = args[0]
			}

			client, err := dialInstance(cmd.Context(), instance)
			if err != nil {
				return err
			}
			defer client.Close()

			resp, err := client.Call(rpcserver.Request{Verb: rpcserver.VerbEntryNode, Path: path})
			if err != nil {
				return err
			}

			if resp.Err != "" {
				return fmt.Errorf("%s", resp.Err)
			}

			printNode(*resp.Node)

			return nil
		},
	}

	cmd.Flags().StringVar(&instance, "instance", defaultInstance, "instance name")

	return cmd
}

func printNode(n rpcserver.NodeDTO) {
	fmt.Printf("%s  [%s]", n.Path, n.Presence)

	if n.Conflict != "" && n.Conflict != "none" {
		fmt.Printf("  conflict=%s", n.Conflict)
	}

	fmt.Println()

	if n.Local.Present {
		fmt.Printf("  local:  %s\n", describeMetadata(n.Local))
	}

	if n.Remote.Present {
		fmt.Printf("  remote: %s\n", describeMetadata(n.Remote))
	}
}

func describeMetadata(md rpcserver.MetadataDTO) string {
	if md.Kind == "directory" {
		return "directory"
	}

	return fmt.Sprintf("%s size=%d", md.Kind, md.Size)
}
