package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/redisx"
	"github.com/szaher/agentbus/internal/session"
)

func newStatusCmd() *cobra.Command {
	var tail int64

	cmd := &cobra.Command{
		Use:   "status <prefix|session-id>",
		Short: "Show queue depths and recent activity for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			client, err := dialClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			registry := session.NewRegistry(client, session.WithLogger(newLogger()))
			cfg, err := registry.Get(ctx, args[0])
			if errors.Is(err, session.ErrNotFound) {
				fmt.Fprintf(os.Stderr, "Notice: no session found for %q\n", args[0])
				return nil
			}
			if err != nil {
				return interrupted(ctx, err)
			}

			fmt.Printf("Session %s (%s, %d children), created %s\n\n",
				cfg.Prefix, cfg.Mode, cfg.MaxChildren, cfg.CreatedAt)

			fmt.Printf("%-40s %s\n", "QUEUE", "DEPTH")
			fmt.Println(strings.Repeat("-", 48))
			queues := make([]string, 0, len(cfg.ParentToChildLists)+len(cfg.ChildToParentLists)+1)
			queues = append(queues, cfg.ParentToChildLists...)
			queues = append(queues, cfg.ChildToParentLists...)
			queues = append(queues, cfg.ControlList)
			for _, queue := range queues {
				depth, err := client.LLen(ctx, queue)
				if err != nil {
					return interrupted(ctx, err)
				}
				fmt.Printf("%-40s %d\n", queue, depth)
			}

			if err := printStreamTail(ctx, client, "Recent status events", cfg.StatusStream, tail); err != nil {
				return interrupted(ctx, err)
			}
			if err := printStreamTail(ctx, client, "Recent results", cfg.ResultStream, tail); err != nil {
				return interrupted(ctx, err)
			}
			return nil
		},
	}

	cmd.Flags().Int64Var(&tail, "tail", 5, "Stream entries to show per stream")

	return cmd
}

func printStreamTail(ctx context.Context, client *redisx.Client, title, stream string, count int64) error {
	entries, err := client.XRangeLast(ctx, stream, count)
	if err != nil {
		return err
	}
	fmt.Printf("\n%s (%s):\n", title, stream)
	if len(entries) == 0 {
		fmt.Println("  none")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("  %-15s %s\n", e.ID, formatValues(e.Values))
	}
	return nil
}

func formatValues(values map[string]interface{}) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, values[k]))
	}
	return strings.Join(parts, " ")
}
