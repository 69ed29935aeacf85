package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/devkade/hackathon-starter/internal/client"
	"github.com/devkade/hackathon-starter/internal/domain/volume"
)

func newFilesCmd(api func() *client.API) *cobra.Command {
	return &cobra.Command{
		Use:   "files <conversation-id> [path]",
		Short: "List the files of a conversation, or print one file",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 2 {
				data, err := api().ReadFile(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			}

			nodes, err := api().Files(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(nodes) == 0 {
				fmt.Fprintln(out, "(empty)")
				return nil
			}
			printTree(out, nodes, 0)
			return nil
		},
	}
}

func printTree(w io.Writer, nodes []*volume.FileNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		if n.Type == volume.TypeDirectory {
			fmt.Fprintf(w, "%s%s/\n", indent, n.Name)
			printTree(w, n.Children, depth+1)
			continue
		}
		fmt.Fprintf(w, "%s%s  %s\n", indent, n.Name, humanize.IBytes(uint64(max(n.Size, 0))))
	}
}
