package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/clinic-agent/server/internal/migration"
	logx "github.com/clinic-agent/server/pkg/logger"
)

type migrator struct {
	*migration.Migrator
	db *gorm.DB
}

func (m *migrator) report() error {
	v, dirty, err := m.Version()
	if err != nil {
		return err
	}
	logx.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	return nil
}

// withMigrator opens the database, runs fn and closes both. The migrator owns
// the connection pool, so closing it also closes db.
func withMigrator(ctx context.Context, fn func(context.Context, *migrator) error) error {
	pg, err := loadPostgresConfig()
	if err != nil {
		return err
	}
	db, err := pg.New(ctx)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, migration.DefaultTable)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logx.Warn().Err(err).Msg("close migrator")
		}
	}()
	return fn(ctx, &migrator{Migrator: m, db: db})
}
