package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/scenario"
	"github.com/szaher/agentbus/internal/telemetry"
)

func newDemoCmd() *cobra.Command {
	var (
		children    int
		tasks       int
		tasksFile   string
		keep        bool
		showMetrics bool
		deadline    int
	)

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a self-contained orchestration round trip",
		Long: `Demo initializes a summoner session, starts in-process children, pushes
tasks through the real Redis queues, collects the reports, and cleans
the session up again. It exercises the full message path end to end,
which makes it a quick smoke test for a fresh Redis deployment.

Tasks come from --tasks-file when given, a YAML list of instructions,
otherwise --tasks synthetic ones are generated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			client, err := dialClient(ctx)
			if err != nil {
				return err
			}
			defer client.Close()

			specs := scenario.SyntheticTasks(tasks)
			if tasksFile != "" {
				specs, err = scenario.LoadTasks(tasksFile)
				if err != nil {
					return err
				}
			}

			metrics := telemetry.NewMetrics()
			opts := scenario.Options{
				Children: children,
				Tasks:    specs,
				Keep:     keep,
				Deadline: time.Duration(deadline) * time.Second,
				Log:      newLogger(),
				Metrics:  metrics,
			}

			result, err := scenario.Run(ctx, client, opts)
			if err != nil {
				return interrupted(ctx, err)
			}

			fmt.Printf("Session %s: %d sent, %d succeeded, %d failed, %d missing in %s\n",
				result.Prefix, result.Sent, result.Succeeded, result.Failed,
				result.Missing, result.Elapsed.Round(time.Millisecond))
			if keep {
				fmt.Printf("Session kept; inspect with: agentbus status %s\n", result.Prefix)
			} else {
				fmt.Printf("Cleaned up %d key(s)\n", result.CleanedKeys)
			}
			if showMetrics {
				fmt.Println()
				fmt.Print(metrics.Render())
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&children, "children", 2, "Child workers to start")
	cmd.Flags().IntVar(&tasks, "tasks", 4, "Synthetic tasks to generate")
	cmd.Flags().StringVar(&tasksFile, "tasks-file", "", "YAML file of tasks to run instead of synthetic ones")
	cmd.Flags().BoolVar(&keep, "keep", false, "Leave the session and its streams in place")
	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "Print collected metrics after the run")
	cmd.Flags().IntVar(&deadline, "deadline", 30, "Seconds to wait for all reports")

	return cmd
}
