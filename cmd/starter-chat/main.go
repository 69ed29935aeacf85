// Command starter-chat is a terminal client for the conversation API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/devkade/hackathon-starter/internal/client"
)

const defaultServer = "http://localhost:8080"

func newRootCmd() *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:           "starter-chat",
		Short:         "Chat with a sandboxed coding agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if env := os.Getenv("STARTER_URL"); env != "" {
		server = env
	} else {
		server = defaultServer
	}
	cmd.PersistentFlags().StringVarP(&server, "server", "s", server, "API base URL (env STARTER_URL)")

	api := func() *client.API { return client.NewAPI(server) }
	cmd.AddCommand(newSendCmd(api))
	cmd.AddCommand(newShowCmd(api))
	cmd.AddCommand(newFilesCmd(api))
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
