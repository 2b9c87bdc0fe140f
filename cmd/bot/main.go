package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/suspectuso/lesson-bot/internal/config"
	"github.com/suspectuso/lesson-bot/internal/storage"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "bot",
		Short:         "Daily lesson bot with TON subscriptions",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.serve(cmd.Context())
		},
	}

	rootCmd.AddCommand(fanoutCmd())
	rootCmd.AddCommand(migrateCmd())

	// Handle shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func fanoutCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "fanout",
		Short: "Send today's lessons now and exit",
		Long: `Run the daily fan-out once: generate one lesson per level present among
active subscribers and deliver it to each of them.

A day that already had a fan-out is skipped unless --force is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			a, err := newApp(cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.fanout(cmd.Context(), force)
			if err != nil {
				return fmt.Errorf("fan-out: %w", err)
			}

			sent, failed := a.queue.Stats()
			fmt.Fprintf(cmd.OutOrStdout(),
				"users=%d tiers=%d enqueued=%d sent=%d failed=%d generation_failures=%d skipped=%d\n",
				report.Users, report.Tiers, report.Delivered, sent, failed,
				report.GenerationFailures, report.SkippedUsers,
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "run even if today's fan-out already happened")

	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}

			// New applies pending migrations.
			store, err := storage.New(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer store.Close()

			log.Info("migrations applied", "path", cfg.DBPath)
			return nil
		},
	}
}

// setup loads .env and the environment, validates it and installs the logger.
func setup() (*config.Config, *slog.Logger, error) {
	// Load .env file
	envErr := godotenv.Load()

	cfg := config.Load()

	log := newLogger(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	if envErr != nil {
		log.Debug("no .env file found")
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}
