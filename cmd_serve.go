package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clinic-agent/server/internal/agent/graph/tools"
	"github.com/clinic-agent/server/internal/server"
	logx "github.com/clinic-agent/server/pkg/logger"
	pkgpostgres "github.com/clinic-agent/server/pkg/postgres"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the reminder scheduler and the calendar retry worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadAppConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

func serve(ctx context.Context, cfg AppConfig) error {
	a, err := newAgent(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logx.Warn().Err(err).Msg("close resources")
		}
	}()

	if n, err := tools.SeedCatalog(ctx, a.db, a.registry); err != nil {
		logx.Warn().Err(err).Msg("tool catalog not seeded, the compiled-in tools will be offered")
	} else if n > 0 {
		logx.Info().Int64("tools", n).Msg("tool catalog seeded")
	}

	srv := server.New(a.runner, server.Health{
		Database: func(ctx context.Context) error { return pkgpostgres.Ping(ctx, a.db) },
		Redis:    func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() },
	}, cfg.HTTP, a.loc)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return a.reminders.Run(gctx) })
	g.Go(func() error { return a.syncer.RunRetries(gctx, cfg.Jobs.Calendar.RetryInterval) })
	return g.Wait()
}
