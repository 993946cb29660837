// Package migration applies the embedded Postgres schema with golang-migrate.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	logx "github.com/clinic-agent/server/pkg/logger"
)

//go:embed sql/*.sql
var files embed.FS

const (
	sourcePath   = "sql"
	DefaultTable = "schema_migrations"
)

// Migration is one numbered schema step shipped with the binary.
type Migration struct {
	Version uint
	Name    string
	HasDown bool
}

type Migrator struct {
	m *migrate.Migrate
}

// New builds a migrator over an open Postgres handle. The migrator takes
// ownership of db and closes it in Close.
func New(db *sql.DB, table string) (*Migrator, error) {
	if db == nil {
		return nil, errors.New("migration: nil database")
	}
	if table == "" {
		table = DefaultTable
	}
	drv, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: table})
	if err != nil {
		return nil, fmt.Errorf("create postgres driver: %w", err)
	}
	src, err := iofs.New(files, sourcePath)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", drv)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return &Migrator{m: m}, nil
}

// Up applies every pending migration.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, m.m.Up)
}

// Down rolls back the latest migration.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, func() error { return m.m.Steps(-1) })
}

// Version returns the applied version; zero means an empty database.
func (m *Migrator) Version() (uint, bool, error) {
	v, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return v, dirty, nil
}

// Force marks version as applied and clears the dirty flag.
func (m *Migrator) Force(version int) error {
	return m.m.Force(version)
}

func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// run stops the migration at the next step boundary when ctx ends.
func (m *Migrator) run(ctx context.Context, step func() error) error {
	done := make(chan error, 1)
	go func() { done <- step() }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return err
		}
		return nil
	case <-ctx.Done():
		m.m.GracefulStop <- true
		<-done
		return ctx.Err()
	}
}

// Available lists the embedded migrations in version order.
func Available() ([]Migration, error) {
	entries, err := fs.ReadDir(files, sourcePath)
	if err != nil {
		return nil, err
	}
	byVersion := map[uint]*Migration{}
	for _, e := range entries {
		name := e.Name()
		prefix, rest, ok := strings.Cut(name, "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(prefix, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad migration file %q: %w", name, err)
		}
		mig, ok := byVersion[uint(v)]
		if !ok {
			mig = &Migration{Version: uint(v)}
			byVersion[uint(v)] = mig
		}
		switch {
		case strings.HasSuffix(rest, ".up.sql"):
			mig.Name = strings.TrimSuffix(rest, ".up.sql")
		case strings.HasSuffix(rest, ".down.sql"):
			mig.HasDown = true
		}
	}
	out := make([]Migration, 0, len(byVersion))
	for _, mig := range byVersion {
		out = append(out, *mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...any) {
	logx.Info().Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (migrateLogger) Verbose() bool { return false }
