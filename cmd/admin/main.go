package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"vibe-backend/internal/bootstrap"
	"vibe-backend/internal/shared/config"
	"vibe-backend/internal/shared/storage/db"
	"vibe-backend/internal/shared/telemetry"
)

var rootCmd = &cobra.Command{
	Use:           "admin",
	Short:         "Operational commands for the vibe backend",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply embedded database migrations",
	RunE:  runMigrate,
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute-stats",
	Short: "Refresh the aggregate view and rewrite the cached global summary",
	RunE:  runRecompute,
}

var migrateStatus bool

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print migration status instead of applying")
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(recomputeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("migrate: %w: DATABASE_URL", config.ErrMissingSetting)
	}

	ctx := cmd.Context()
	conn, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultCLIOptions()))
	if err != nil {
		return err
	}
	defer conn.Close()

	if migrateStatus {
		return db.MigrationStatus(ctx, conn)
	}
	if err := db.RunMigrations(ctx, conn); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	telemetry.Info("admin.migrated", nil)
	return nil
}

func runRecompute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("bootstrap build: %w", err)
	}
	defer app.Shutdown(context.WithoutCancel(ctx))

	summary, err := app.Stats.Recompute(ctx)
	if err != nil {
		return fmt.Errorf("recompute stats: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "total users: %d\n", summary.TotalUsers)
	telemetry.Info("admin.stats_recomputed", map[string]any{
		"total_users": summary.TotalUsers,
		"source":      summary.Source,
	})
	return nil
}
