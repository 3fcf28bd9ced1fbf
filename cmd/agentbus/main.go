// Package main is the entry point for the agentbus CLI tool.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "0.4.0"
	commit  = "dev"
)

// Global flags.
var (
	flagHost      string
	flagPort      int
	flagDB        int
	flagPassword  string
	verbose       bool
	correlationID string
)

// errInterrupted marks a run cut short by SIGINT or SIGTERM so main can
// exit 130 the way shells expect.
var errInterrupted = errors.New("interrupted")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agentbus",
		Short: "Redis-backed messaging bus for agent orchestration",
		Long: `Agentbus moves typed JSON messages between a parent agent and its
children over Redis lists, with pub/sub announcements for monitoring.
It manages collision-free session namespaces, pushes and pops queue
messages, and cleans up sessions when orchestration ends.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaults := redisDefaults()
	root.PersistentFlags().StringVar(&flagHost, "host", defaults.Host, "Redis host")
	root.PersistentFlags().IntVar(&flagPort, "port", defaults.Port, "Redis port")
	root.PersistentFlags().IntVar(&flagDB, "db", defaults.DB, "Redis database number")
	root.PersistentFlags().StringVar(&flagPassword, "password", defaults.Password, "Redis password (literal, env(VAR), or file(PATH))")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging")
	root.PersistentFlags().StringVar(&correlationID, "correlation-id", "", "Set explicit correlation ID")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newRPushCmd())
	root.AddCommand(newBLPopCmd())
	root.AddCommand(newInitOrchCmd())
	root.AddCommand(newGetConfigCmd())
	root.AddCommand(newCleanupCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newDemoCmd())

	return root
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
