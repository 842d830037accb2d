package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cubicler/cubicler/internal/broker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the broker",
	Long: `Starts the Cubicler broker.

Configuration sources are taken from CUBICLER_AGENTS_SOURCE,
CUBICLER_PROVIDERS_SOURCE and (optionally) CUBICLER_WEBHOOKS_SOURCE;
each is a file path or HTTP(S) URL. See the README for the full list
of CUBICLER_* variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd)
	},
}

func runStart(cmd *cobra.Command) error {
	settings, err := broker.SettingsFromEnv()
	if err != nil {
		return fmt.Errorf("reading settings: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return broker.New(settings, nil).Run(ctx)
}
