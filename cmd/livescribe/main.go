package main

import (
	"fmt"
	"log/slog"
	"os"

	"livescribe/internal/bootstrap"
	"livescribe/internal/cli"
	"livescribe/internal/interaction"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	level := slog.LevelInfo
	if os.Getenv("LIVESCRIBE_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	events := &cli.LogSink{Logger: logger}
	onState := func(state interaction.State) {
		logger.Debug("interaction state changed",
			"phase", string(state.Phase),
			"mode", string(state.Mode))
	}

	services, err := bootstrap.Build(events, onState, logger)
	if err != nil {
		return fmt.Errorf("initializing services: %w", err)
	}

	deps := &cli.Dependencies{
		Services: services,
		Logger:   logger,
	}

	return cli.NewRootCmd(deps).Execute()
}
