package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/events"
	"github.com/szaher/agentbus/internal/session"
)

func newCleanupCmd() *cobra.Command {
	var (
		all     bool
		listAll bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup [prefix|session-id]",
		Short: "Remove a session's keys, or list and purge all sessions",
		Long: `Cleanup deletes every Redis key belonging to a session: its config
record, queues, streams, and control list. Stray queues matching the
namespace are swept even when the config record already expired.
Cleaning a session that is already gone prints a notice and exits 0.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			client, err := dialClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			log := newLogger()
			registry := session.NewRegistry(client,
				session.WithLogger(log),
				session.WithEmitter(events.NewPublishEmitter(client, log)),
			)

			switch {
			case listAll:
				sessions, err := registry.List(ctx)
				if err != nil {
					return interrupted(ctx, err)
				}
				if asJSON {
					return printJSON(sessions)
				}
				if len(sessions) == 0 {
					fmt.Println("No live sessions.")
					return nil
				}
				fmt.Printf("%-36s %-10s %-9s %s\n", "PREFIX", "MODE", "CHILDREN", "CREATED")
				fmt.Println(strings.Repeat("-", 80))
				for _, cfg := range sessions {
					fmt.Printf("%-36s %-10s %-9d %s\n", cfg.Prefix, cfg.Mode, cfg.MaxChildren, cfg.CreatedAt)
				}
				return nil

			case all:
				sessions, keys, err := registry.CleanupAll(ctx)
				if err != nil {
					return interrupted(ctx, err)
				}
				fmt.Printf("Removed %d session(s), %d key(s)\n", sessions, keys)
				return nil

			default:
				if len(args) == 0 {
					return fmt.Errorf("a session prefix is required unless --cleanup-all or --list-all is set")
				}
				deleted, err := registry.Cleanup(ctx, args[0])
				if errors.Is(err, session.ErrNotFound) {
					fmt.Fprintf(os.Stderr, "Notice: no session found for %q\n", args[0])
					return nil
				}
				if err != nil {
					return interrupted(ctx, err)
				}
				fmt.Printf("Removed %d key(s) for %s\n", deleted, args[0])
				return nil
			}
		},
	}

	cmd.Flags().BoolVar(&all, "cleanup-all", false, "Remove every live session")
	cmd.Flags().BoolVar(&listAll, "list-all", false, "List live sessions without removing anything")
	cmd.Flags().BoolVar(&asJSON, "json", false, "JSON output for --list-all")
	cmd.MarkFlagsMutuallyExclusive("cleanup-all", "list-all")

	return cmd
}
