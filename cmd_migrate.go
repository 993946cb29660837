package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/clinic-agent/server/internal/agent/graph/tools"
	"github.com/clinic-agent/server/internal/clinic"
	logx "github.com/clinic-agent/server/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations and seed the tool catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *migrator) error {
			if err := m.Up(ctx); err != nil {
				return err
			}
			n, err := tools.SeedCatalog(ctx, m.db, tools.NewRegistry(clinic.NewService(m.db, clinic.DefaultSchedule(time.UTC)), tools.Config{}))
			if err != nil {
				return fmt.Errorf("seed tool catalog: %w", err)
			}
			logx.Info().Int64("tools", n).Msg("tool catalog seeded")
			return m.report()
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *migrator) error {
			if err := m.Down(ctx); err != nil {
				return err
			}
			return m.report()
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *migrator) error {
			return m.report()
		})
	},
}

var migrateForceCmd = &cobra.Command{
	Use:   "force VERSION",
	Short: "Mark VERSION as applied and clear the dirty flag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version %q: %w", args[0], err)
		}
		return withMigrator(cmd.Context(), func(ctx context.Context, m *migrator) error {
			if err := m.Force(v); err != nil {
				return err
			}
			return m.report()
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd, migrateForceCmd)
}
