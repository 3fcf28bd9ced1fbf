package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/szaher/agentbus/internal/config"
	"github.com/szaher/agentbus/internal/redisx"
	"github.com/szaher/agentbus/internal/secrets"
	"github.com/szaher/agentbus/internal/telemetry"
)

func redisDefaults() config.Redis {
	return config.FromEnv()
}

// redisSettings merges the connection flags over the environment
// defaults and resolves the password reference. The flags default to
// the env values, so only explicit overrides differ.
func redisSettings() (config.Redis, error) {
	cfg := config.FromEnv()
	cfg.Host = flagHost
	cfg.Port = flagPort
	cfg.DB = flagDB
	password, err := secrets.Resolve(flagPassword)
	if err != nil {
		return config.Redis{}, fmt.Errorf("resolve password: %w", err)
	}
	cfg.Password = password
	return cfg, nil
}

func dialClient(ctx context.Context) (*redisx.Client, error) {
	settings, err := redisSettings()
	if err != nil {
		return nil, err
	}
	return redisx.Dial(ctx, settings)
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	var redact []string
	if settings, err := redisSettings(); err == nil && settings.Password != "" {
		redact = append(redact, settings.Password)
	}
	return telemetry.NewLogger(os.Stderr, level, redact...)
}

// cmdContext returns the command context, tagged with the correlation ID
// when one was requested.
func cmdContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if correlationID != "" {
		ctx = telemetry.WithCorrelationID(ctx, correlationID)
	}
	return ctx
}

// interrupted translates a context cancellation caused by a signal into
// the sentinel main maps to exit code 130.
func interrupted(ctx context.Context, err error) error {
	if ctx.Err() != nil && (err == nil || errors.Is(err, context.Canceled)) {
		return errInterrupted
	}
	return err
}

// printJSON writes v to stdout, indented on terminals and compact when
// piped.
func printJSON(v interface{}) error {
	var (
		data []byte
		err  error
	)
	if isatty.IsTerminal(os.Stdout.Fd()) {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}
