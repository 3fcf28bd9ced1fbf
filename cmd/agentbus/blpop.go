package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/transport"
)

func newBLPopCmd() *cobra.Command {
	var (
		timeoutSecs int
		count       int
		parse       bool
		continuous  bool
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "blpop <queue>...",
		Short: "Pop messages from a queue, blocking until one arrives",
		Long: `Blpop pops messages from the head of one or more queues, blocking up
to --timeout seconds for each. Several queues are checked in priority
order, first listed first. An expired wait is not an error: the command
prints a notice on stderr and exits 0 so orchestration scripts can poll
in a loop.

By default each payload prints raw, one per line. With --parse the full
receipt prints as JSON, including the decoded envelope when the payload
is a typed message.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			client, err := dialClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			recv := transport.NewReceiver(client, transport.WithReceiverLogger(newLogger()))
			timeout := time.Duration(timeoutSecs) * time.Second

			emit := func(r *transport.Received) error {
				if parse {
					return printJSON(r)
				}
				fmt.Println(r.Raw)
				return nil
			}

			if continuous {
				it := recv.Iter(args, timeout)
				for {
					r, err := it.Next(ctx)
					if err != nil {
						return interrupted(ctx, err)
					}
					if r == nil {
						return interrupted(ctx, nil)
					}
					if err := emit(r); err != nil {
						return err
					}
				}
			}

			got := 0
			for got < count {
				r, ok, err := recv.ReceiveAny(ctx, args, timeout)
				if err != nil {
					return interrupted(ctx, err)
				}
				if !ok {
					break
				}
				if err := emit(r); err != nil {
					return err
				}
				got++
			}

			if got == 0 && !quiet {
				fmt.Fprintf(os.Stderr, "Notice: no message within %ds on %v\n", timeoutSecs, args)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&timeoutSecs, "timeout", 0, "Seconds to wait per message (0 blocks indefinitely)")
	cmd.Flags().IntVar(&count, "count", 1, "Number of messages to pop")
	cmd.Flags().BoolVar(&parse, "parse", false, "Print the full receipt as JSON with the decoded envelope")
	cmd.Flags().BoolVar(&continuous, "continuous", false, "Keep popping until interrupted")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "Suppress the empty-wait notice")
	cmd.MarkFlagsMutuallyExclusive("count", "continuous")

	return cmd
}
