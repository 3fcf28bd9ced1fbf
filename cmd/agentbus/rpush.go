package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/transport"
)

func newRPushCmd() *cobra.Command {
	var (
		channel   string
		fromStdin bool
	)

	cmd := &cobra.Command{
		Use:   "rpush <queue> [message...]",
		Short: "Append messages to a queue",
		Long: `Rpush appends messages to a Redis list in order. With --channel each
message is also announced on a pub/sub channel so monitors see it
without consuming it; the announcement is best-effort and never fails
the push.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue := args[0]
			messages := args[1:]

			if fromStdin {
				scanner := bufio.NewScanner(os.Stdin)
				scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
				for scanner.Scan() {
					line := strings.TrimRight(scanner.Text(), "\r")
					if line == "" {
						continue
					}
					messages = append(messages, line)
				}
				if err := scanner.Err(); err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}
			}
			if len(messages) == 0 {
				return fmt.Errorf("no messages to push (pass arguments or --stdin)")
			}

			ctx := cmdContext(cmd)
			client, err := dialClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			sender := transport.NewSender(client, transport.WithSenderLogger(newLogger()))

			if channel == "" {
				length, err := sender.SendMany(ctx, queue, messages...)
				if err != nil {
					return interrupted(ctx, err)
				}
				fmt.Printf("Pushed %d message(s) to %s (depth %d)\n", len(messages), queue, length)
				return nil
			}

			var depth int64
			var subscribers int64
			for _, msg := range messages {
				res, err := sender.SendWithPublish(ctx, queue, msg, channel)
				if err != nil {
					return interrupted(ctx, err)
				}
				depth = res.Length
				subscribers = res.Subscribers
				if res.PublishErr != nil {
					fmt.Fprintf(os.Stderr, "Notice: publish to %s failed: %v\n", channel, res.PublishErr)
				}
			}
			fmt.Printf("Pushed %d message(s) to %s (depth %d), announced on %s (%d subscriber(s))\n",
				len(messages), queue, depth, channel, subscribers)
			return nil
		},
	}

	cmd.Flags().StringVar(&channel, "channel", "", "Announce each message on this pub/sub channel")
	cmd.Flags().BoolVar(&fromStdin, "stdin", false, "Read messages from standard input, one per line")

	return cmd
}
