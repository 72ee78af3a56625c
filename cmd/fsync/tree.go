package main

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/fsync/internal/rpcserver"
)

func newTreeCmd() *cobra.Command {
	var instance string

	cmd := &cobra.Command{
		Use:   "tree [path]",
		Short: "Dump the diff tree rooted at a path",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "/"
			if len(args) == 1 {
				root = args[0]
			}

			client, err := dialInstance(cmd.Context(), instance)
			if err != nil {
				return err
			}
			defer client.Close()

			return dumpTree(cmd.Context(), client, root, 0)
		},
	}

	cmd.Flags().StringVar(&instance, "instance", defaultInstance, "instance name")

	return cmd
}

func dumpTree(ctx context.Context, client *rpcserver.Client, p string, depth int) error {
	resp, err := client.Call(rpcserver.Request{Verb: rpcserver.VerbEntryNode, Path: p})
	if err != nil {
		return err
	}

	if resp.Err != "" {
		return fmt.Errorf("%s: %s", p, resp.Err)
	}

	n := *resp.Node

	indent := strings.Repeat("  ", depth)
	conflict := ""

	if n.Conflict != "" && n.Conflict != "none" {
		conflict = " !" + n.Conflict
	}

	fmt.Printf("%s%s [%s]%s\n", indent, path.Base(n.Path), n.Presence, conflict)

	for _, child := range n.Children {
		if err := dumpTree(ctx, client, path.Join(p, child), depth+1); err != nil {
			return err
		}
	}

	return nil
}
