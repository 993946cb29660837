package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/clinic-agent/server/internal/agent/graph"
	"github.com/clinic-agent/server/internal/agent/graph/conversations"
	"github.com/clinic-agent/server/internal/agent/graph/nodes"
	"github.com/clinic-agent/server/internal/agent/graph/tools"
	"github.com/clinic-agent/server/internal/agent/repo"
	"github.com/clinic-agent/server/internal/calendar"
	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/memory"
	"github.com/clinic-agent/server/internal/receptionist"
	"github.com/clinic-agent/server/internal/reminders"
	"github.com/clinic-agent/server/internal/session"
	"github.com/clinic-agent/server/internal/whatsapp"
	logx "github.com/clinic-agent/server/pkg/logger"
	pkgpostgres "github.com/clinic-agent/server/pkg/postgres"
)

// backend is the clinic side of the service: database, scheduling, reminders
// and the calendar mirror. The jobs commands use it on its own.
type backend struct {
	cfg       JobsConfig
	loc       *time.Location
	db        *gorm.DB
	clinic    *clinic.Service
	syncer    *calendar.Syncer
	reminders *reminders.Scheduler
}

func newBackend(ctx context.Context, cfg JobsConfig) (*backend, error) {
	loc, err := cfg.Clinic.Location()
	if err != nil {
		return nil, err
	}
	schedule, err := clinic.LoadSchedule(cfg.Clinic.ScheduleFile, loc)
	if err != nil {
		return nil, err
	}

	db, err := cfg.Postgres.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	logx.Info().Msg("Connected to Postgres successfully")

	svc := clinic.NewService(db, schedule, clinic.WithLookahead(cfg.Clinic.LookaheadDays))

	var events calendar.Events
	if cfg.Calendar.CredentialsFile != "" {
		g, err := calendar.NewGoogleEvents(ctx, calendar.GoogleConfig{
			CalendarID:      cfg.Calendar.CalendarID,
			CredentialsFile: cfg.Calendar.CredentialsFile,
			RatePerSecond:   cfg.Calendar.RatePerSecond,
		})
		if err != nil {
			_ = pkgpostgres.Close(db)
			return nil, fmt.Errorf("google calendar: %w", err)
		}
		events = g
	} else {
		logx.Warn().Msg("GOOGLE_CREDENTIALS_FILE not set, calendar changes will be queued as pending")
	}
	syncer := calendar.NewSyncer(db, svc, events, calendar.Config{
		RetryInterval: cfg.Calendar.RetryInterval,
		MaxAttempts:   cfg.Calendar.MaxAttempts,
		Location:      loc,
	})

	sched := reminders.New(svc, whatsapp.NewClient(cfg.WhatsApp), cfg.Reminders, loc)

	return &backend{cfg: cfg, loc: loc, db: db, clinic: svc, syncer: syncer, reminders: sched}, nil
}

func (b *backend) Close() error {
	return pkgpostgres.Close(b.db)
}

// agent is the backend plus everything the conversation graph needs.
type agent struct {
	*backend
	cfg      AppConfig
	rdb      *redis.Client
	registry *tools.Registry
	runner   graph.Runner
}

func newAgent(ctx context.Context, cfg AppConfig) (*agent, error) {
	b, err := newBackend(ctx, cfg.Jobs)
	if err != nil {
		return nil, err
	}
	a := &agent{backend: b, cfg: cfg}

	a.rdb, err = cfg.Redis.New(ctx)
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	logx.Info().Msg("Connected to Redis successfully")

	if err := a.buildGraph(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *agent) buildGraph(ctx context.Context) error {
	cfg := a.cfg

	client, err := nodes.NewGenAIClient(ctx, cfg.APIKey, cfg.BaseURL)
	if err != nil {
		return err
	}
	cms, err := nodes.NewChatModels(ctx, client, nodes.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Classifier: &cfg.Classifier,
		Response:   &cfg.Response,
	})
	if err != nil {
		return err
	}

	ttl := cfg.Conversation.TTL
	mm := conversations.NewMessagesManager(repo.NewRedisConversationRepository(a.rdb, ttl), cfg.Conversation)

	sessions := session.NewManager(a.db, a.clinic, session.Config{
		AdminPhone: cfg.AdminPhone,
		Timezone:   cfg.Jobs.Clinic.Timezone,
		Window:     cfg.Conversation.SessionWindow,
	})

	mem := memory.NewStore(a.db,
		memory.NewGenAIEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimensions),
		memory.Config{TopK: cfg.Episodic.TopK, MinSimilarity: cfg.Episodic.MinSimilarity},
	)

	lookahead := cfg.Jobs.Clinic.LookaheadDays
	a.registry = tools.NewRegistry(a.clinic, tools.Config{Lookahead: lookahead})

	desk := receptionist.New(a.clinic, receptionist.NewLLMExtractor(cms.Classifier), receptionist.Config{
		Suggestions: cfg.Prompt.SlotSuggestions,
		Lookahead:   lookahead,
	})

	a.runner, err = graph.NewRunner(ctx, &graph.GraphConfig{
		ChatModels:      cms,
		MessagesManager: mm,
		Flows:           repo.NewRedisFlowRepository(a.rdb, ttl),
		Sessions:        sessions,
		Memory:          mem,
		Practice:        a.clinic,
		Catalog:         tools.NewCatalog(a.db, a.registry, cfg.ToolCatalog),
		Registry:        a.registry,
		Receptionist:    desk,
		Calendar:        a.syncer,
		Settings: nodes.Settings{
			ClinicName:    cfg.Prompt.ClinicName,
			Location:      a.loc,
			ToolMaxCalls:  cfg.Conversation.Tools.MaxCalls,
			SummaryUseLLM: cfg.Episodic.SummaryUseLLM,
		},
	})
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	return nil
}

func (a *agent) Close() error {
	var errs []error
	if a.rdb != nil {
		errs = append(errs, a.rdb.Close())
	}
	errs = append(errs, a.backend.Close())
	return errors.Join(errs...)
}
