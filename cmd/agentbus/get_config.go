package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/session"
)

func newGetConfigCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "get-config <prefix|session-id>",
		Short: "Print a session's channel map",
		Long: `Get-config looks up a session by its namespace prefix or, for summoner
sessions, by the bare session ID, and prints the stored channel map.
A missing session prints a notice and exits 0, so scripts can probe for
a live session without error handling.`,
		Args: cobra.ExactArgs(1),
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

			if asJSON {
				return printJSON(cfg)
			}
			fmt.Printf("Session %s (%s, %d children)\n\n", cfg.Prefix, cfg.Mode, cfg.MaxChildren)
			printConfig(cfg)
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the channel map as JSON")

	return cmd
}
