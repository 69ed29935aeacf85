package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/devkade/hackathon-starter/internal/client"
	"github.com/devkade/hackathon-starter/internal/domain/conversation"
)

func newShowCmd(api func() *client.API) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "show <conversation-id>",
		Short: "Print a conversation",
		Long:  "Prints the conversation log and status. Use --watch to keep following it while the agent runs.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := newRenderer(cmd.OutOrStdout(), watch && isTerminal(os.Stdout))
			changed := make(chan struct{}, 1)

			opts := []client.Option{client.WithPollInterval(interval)}
			if watch {
				opts = append(opts, client.WithOnChange(func(s client.State) {
					r.render(s)
					select {
					case changed <- struct{}{}:
					default:
					}
				}))
			}
			ctl := client.NewController(api(), opts...)
			defer ctl.Close()

			ctx := cmd.Context()
			if err := ctl.Open(ctx, args[0]); err != nil {
				return err
			}
			if !watch {
				r.render(ctl.State())
				return nil
			}

			for ctl.State().Status == conversation.StatusRunning {
				select {
				case <-ctx.Done():
					return nil
				case <-changed:
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "follow the conversation until it finishes")
	cmd.Flags().DurationVar(&interval, "interval", client.DefaultPollInterval, "poll interval")
	return cmd
}
