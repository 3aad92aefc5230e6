package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"giveawaybot/internal/app"
	"giveawaybot/internal/config"

	"github.com/spf13/cobra"
)

var (
	version = "dev"

	configPath string
	envPath    string
)

func main() {
	root := &cobra.Command{
		Use:           "giveawaybot",
		Short:         "Telegram giveaway and broadcast bot",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadEnvFile(envPath)
		},
		RunE: func(cmd *cobra.Command, args []string) error { return run() },
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	root.PersistentFlags().StringVar(&envPath, "env", ".env", "path to .env file (missing file is ignored)")

	root.AddCommand(runCmd(), migrateCmd(), checkCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (default)",
		RunE:  func(cmd *cobra.Command, args []string) error { return run() },
	}
}

func run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(configPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return err
	}
	return a.Err()
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database and apply the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.OpenStore(configPath)
			if err != nil {
				return err
			}
			fmt.Println("schema is up to date")
			return st.Close()
		},
	}
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewManager(configPath).Parse()
			if err != nil {
				return err
			}
			fmt.Printf("config ok\n")
			fmt.Printf("  admins:      %d\n", len(cfg.Telegram.AdminIDs))
			fmt.Printf("  channel:     %d\n", cfg.Telegram.ChannelID)
			fmt.Printf("  database:    %s\n", cfg.Storage.Path)
			fmt.Printf("  timezone:    %s\n", cfg.Giveaway.Timezone)
			fmt.Printf("  auto close:  %v (%s)\n", cfg.Giveaway.AutoClose, cfg.Giveaway.CloseSpec)
			fmt.Printf("  rates:       broadcast %.0f/s, announce %.0f/s, admin %.0f/s, burst %d\n",
				cfg.RateLimits.BroadcastRPS, cfg.RateLimits.AnnounceRPS, cfg.RateLimits.AdminRPS, cfg.RateLimits.Burst)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run:   func(cmd *cobra.Command, args []string) { fmt.Println("giveawaybot", version) },
	}
}
