package main

import (
	"fmt"
	"os"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/session"
)

func newSweepCmd() *cobra.Command {
	var (
		schedule string
		once     bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove orphaned queues left by expired sessions",
		Long: `Sweep scans for session queues whose config record has expired and
deletes them. Config records carry a TTL, queues do not, so a session
that was never cleaned up leaves its lists behind once the config
expires. By default sweep runs once; with --schedule it keeps running
on a cron schedule until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			client, err := dialClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			log := newLogger()
			registry := session.NewRegistry(client, session.WithLogger(log))

			run := func() {
				swept, err := registry.SweepOrphans(ctx)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Notice: sweep failed: %v\n", err)
					return
				}
				fmt.Printf("Swept %d orphaned key(s)\n", swept)
			}

			if once || schedule == "" {
				swept, err := registry.SweepOrphans(ctx)
				if err != nil {
					return interrupted(ctx, err)
				}
				fmt.Printf("Swept %d orphaned key(s)\n", swept)
				return nil
			}

			c := cron.New()
			if _, err := c.AddFunc(schedule, run); err != nil {
				return fmt.Errorf("parse schedule %q: %w", schedule, err)
			}
			fmt.Printf("Sweeping on schedule %q, ctrl-c to stop\n", schedule)
			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			return errInterrupted
		},
	}

	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule for repeated sweeps (e.g. \"*/5 * * * *\")")
	cmd.Flags().BoolVar(&once, "once", false, "Run a single sweep and exit")
	cmd.MarkFlagsMutuallyExclusive("schedule", "once")

	return cmd
}
