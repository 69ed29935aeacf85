package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/devkade/hackathon-starter/internal/client"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
)

func newSendCmd(api func() *client.API) *cobra.Command {
	var (
		conversationID string
		interval       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "send [message|-]",
		Short: "Send a message and follow the conversation until the agent finishes",
		Long:  "Sends a message, starting a new conversation unless --conversation is given, and prints the conversation as it updates. Use - to read the message from stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := args[0]
			if message == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
				message = string(data)
			}
			if strings.TrimSpace(message) == "" {
				return errors.New("message is empty")
			}

			r := newRenderer(cmd.OutOrStdout(), isTerminal(os.Stdout))
			changed := make(chan struct{}, 1)
			ctl := client.NewController(api(),
				client.WithPollInterval(interval),
				client.WithOnChange(func(s client.State) {
					r.render(s)
					select {
					case changed <- struct{}{}:
					default:
					}
				}),
			)
			defer ctl.Close()

			ctx := cmd.Context()
			if conversationID != "" {
				if err := ctl.Open(ctx, conversationID); err != nil {
					return fmt.Errorf("open conversation: %w", err)
				}
			}
			if err := ctl.Submit(ctx, message); err != nil {
				return err
			}

			for !ctl.State().Status.IsTerminal() {
				select {
				case <-ctx.Done():
					fmt.Fprintf(cmd.ErrOrStderr(), "\ndetached; resume with: starter-chat show --watch %s\n", ctl.State().ConversationID)
					return nil
				case <-changed:
				}
			}

			s := ctl.State()
			if s.Status == conversation.StatusError {
				return fmt.Errorf("agent failed: %s", s.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&conversationID, "conversation", "", "continue this conversation")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "poll interval")
	return cmd
}
