// Package main is the entry point for agentmon, the live terminal
// monitor for agentbus sessions.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/config"
	"github.com/szaher/agentbus/internal/monitor"
	"github.com/szaher/agentbus/internal/redisx"
	"github.com/szaher/agentbus/internal/secrets"
	"github.com/szaher/agentbus/internal/session"
)

// Version information set at build time.
var version = "0.4.0"

var errInterrupted = errors.New("interrupted")

func newRootCmd() *cobra.Command {
	var (
		flagHost     string
		flagPort     int
		flagDB       int
		flagPassword string
		patterns     []string
		interval     int
	)

	defaults := config.FromEnv()

	cmd := &cobra.Command{
		Use:   "agentmon",
		Short: "Live terminal monitor for agentbus sessions",
		Long: `Agentmon subscribes to session monitor channels and renders the
traffic as a live feed next to a pane of active sessions and their
queue depths. Feed entries can be filtered with an expression over
type, sender, queue, session, and content, and exported to JSON.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings := config.FromEnv()
			settings.Host = flagHost
			settings.Port = flagPort
			settings.DB = flagDB
			password, err := secrets.Resolve(flagPassword)
			if err != nil {
				return fmt.Errorf("resolve password: %w", err)
			}
			settings.Password = password

			client, err := redisx.Dial(ctx, settings)
			if err != nil {
				return err
			}
			defer client.Close()

			sub := client.PSubscribe(ctx, patterns...)
			defer sub.Close()

			deliveries := make(chan monitor.Delivery, 64)
			go func() {
				defer close(deliveries)
				for msg := range sub.Messages() {
					deliveries <- monitor.Delivery{Channel: msg.Channel, Payload: msg.Payload}
				}
			}()

			entries := make(chan monitor.Entry, 64)
			go monitor.Pump(ctx, deliveries, entries)

			scanner := monitor.NewScanner(session.NewRegistry(client), client)
			model := monitor.NewModel(entries, scanner.Scan,
				monitor.WithScanInterval(time.Duration(interval)*time.Second))

			program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := program.Run(); err != nil {
				if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
					return errInterrupted
				}
				return fmt.Errorf("run monitor: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flagHost, "host", defaults.Host, "Redis host")
	cmd.Flags().IntVar(&flagPort, "port", defaults.Port, "Redis port")
	cmd.Flags().IntVar(&flagDB, "db", defaults.DB, "Redis database number")
	cmd.Flags().StringVar(&flagPassword, "password", defaults.Password, "Redis password (literal, env(VAR), or file(PATH))")
	cmd.Flags().StringArrayVar(&patterns, "pattern", []string{"summoner:*:monitor"}, "Channel pattern to watch (repeatable)")
	cmd.Flags().IntVar(&interval, "interval", 2, "Seconds between session scans")

	return cmd
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		if errors.Is(err, errInterrupted) {
			fmt.Fprintln(os.Stderr, "\nInterrupted")
			os.Exit(130)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
