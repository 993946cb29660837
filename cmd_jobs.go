package main

import (
	"context"

	"github.com/spf13/cobra"

	logx "github.com/clinic-agent/server/pkg/logger"
)

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Appointment reminders",
}

var remindersRunOnceCmd = &cobra.Command{
	Use:   "run-once",
	Short: "Send the reminders due in the next 23 to 24 hours and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b *backend) error {
			rep, err := b.reminders.RunOnce(ctx)
			if err != nil {
				return err
			}
			logx.Info().Int("due", rep.Due).Int("sent", rep.Sent).Int("failed", rep.Failed).Msg("reminders done")
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Google Calendar mirror",
}

var syncRetryOnceCmd = &cobra.Command{
	Use:   "retry-once",
	Short: "Retry the queued calendar operations that are due and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBackend(cmd.Context(), func(ctx context.Context, b *backend) error {
			rep, err := b.syncer.RetryOnce(ctx)
			if err != nil {
				return err
			}
			logx.Info().
				Int("processed", rep.Processed).
				Int("synced", rep.Synced).
				Int("failed", rep.Failed).
				Int("permanent", rep.Permanent).
				Msg("calendar retry done")
			return nil
		})
	},
}

func init() {
	remindersCmd.AddCommand(remindersRunOnceCmd)
	syncCmd.AddCommand(syncRetryOnceCmd)
}

func withBackend(ctx context.Context, fn func(context.Context, *backend) error) error {
	cfg, err := loadJobsConfig()
	if err != nil {
		return err
	}
	b, err := newBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := b.Close(); err != nil {
			logx.Warn().Err(err).Msg("close database")
		}
	}()
	return fn(ctx, b)
}
