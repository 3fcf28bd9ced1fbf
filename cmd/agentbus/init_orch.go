package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/events"
	"github.com/szaher/agentbus/internal/session"
)

func newInitOrchCmd() *cobra.Command {
	var (
		summonerMode bool
		maxChildren  int
		prefix       string
		sequence     int
		sessionID    string
		ttlSecs      int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "init-orch",
		Short: "Initialize an orchestration session namespace",
		Long: `Init-orch allocates a collision-free session namespace, derives its
queue and stream names, and persists the channel map under
{prefix}:config with a TTL so abandoned sessions expire on their own.

Normal mode numbers sessions {project}-{host}-NNN and gives every child
a private report queue. Summoner mode keys the namespace by a generated
session ID, shares one report queue across all children, and announces
the session on its monitor channel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !summonerMode {
				if sessionID != "" {
					return fmt.Errorf("--session-id requires --summoner-mode")
				}
			} else {
				if prefix != "" {
					return fmt.Errorf("--prefix only applies to normal mode")
				}
				if sequence != 0 {
					return fmt.Errorf("--sequence only applies to normal mode")
				}
			}

			ctx := cmdContext(cmd)
			client, err := dialClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			log := newLogger()
			settings, err := redisSettings()
			if err != nil {
				return err
			}
			registry := session.NewRegistry(client,
				session.WithLogger(log),
				session.WithTTL(settings.DefaultTTL),
				session.WithEmitter(events.NewPublishEmitter(client, log)),
			)

			opts := session.InitOptions{
				MaxChildren: maxChildren,
				Prefix:      prefix,
				Sequence:    sequence,
				SessionID:   sessionID,
				TTL:         time.Duration(ttlSecs) * time.Second,
			}
			if summonerMode {
				opts.Mode = session.ModeSummoner
			}

			cfg, err := registry.Initialize(ctx, opts)
			if err != nil {
				return interrupted(ctx, err)
			}

			if asJSON {
				return printJSON(cfg)
			}
			fmt.Printf("Initialized session %s (%s, %d children)\n\n", cfg.Prefix, cfg.Mode, cfg.MaxChildren)
			printConfig(cfg)
			fmt.Println()
			fmt.Println("Export for agent shells:")
			fmt.Printf("  export AGENTBUS_SESSION=%s\n", cfg.Prefix)
			fmt.Printf("  export AGENTBUS_SESSION_ID=%s\n", cfg.SessionID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&summonerMode, "summoner-mode", false, "Shared-report-queue topology keyed by session ID")
	cmd.Flags().IntVar(&maxChildren, "max-children", 0, "Child agent slots (default 9)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Namespace root instead of {project}-{host}")
	cmd.Flags().IntVar(&sequence, "sequence", 0, "Pin the session sequence number instead of probing")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Pin the summoner session ID instead of generating one")
	cmd.Flags().IntVar(&ttlSecs, "ttl", 0, "Session TTL in seconds (default from REDIS_TTL)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the channel map as JSON")

	return cmd
}

func printConfig(cfg *session.Config) {
	fmt.Printf("  %-15s %s\n", "session id:", cfg.SessionID)
	fmt.Printf("  %-15s %s\n", "config key:", cfg.ConfigKey())
	fmt.Printf("  %-15s %s\n", "task queues:", summarizeQueues(cfg.ParentToChildLists))
	fmt.Printf("  %-15s %s\n", "report queues:", summarizeQueues(cfg.ChildToParentLists))
	fmt.Printf("  %-15s %s\n", "control list:", cfg.ControlList)
	fmt.Printf("  %-15s %s\n", "status stream:", cfg.StatusStream)
	fmt.Printf("  %-15s %s\n", "result stream:", cfg.ResultStream)
	if cfg.MonitorChannel != "" {
		fmt.Printf("  %-15s %s\n", "monitor:", cfg.MonitorChannel)
	}
	fmt.Printf("  %-15s %s\n", "created:", cfg.CreatedAt)
}

func summarizeQueues(queues []string) string {
	switch len(queues) {
	case 0:
		return "-"
	case 1:
		return queues[0]
	default:
		return fmt.Sprintf("%s .. %s (%d)", queues[0], queues[len(queues)-1], len(queues))
	}
}
