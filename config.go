package main

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/reminders"
	"github.com/clinic-agent/server/internal/server"
	"github.com/clinic-agent/server/internal/whatsapp"
	pkgpostgres "github.com/clinic-agent/server/pkg/postgres"
	pkgredis "github.com/clinic-agent/server/pkg/redis"
)

// AppConfig defines every configurable parameter of the service, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	AdminPhone string `envconfig:"ADMIN_PHONE_NUMBER"`

	// Infrastructure
	HTTP  server.Config
	Redis pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Agent configs
	Classifier   model.ClassifierModelConfig
	Response     model.ResponseModelConfig
	Embedding    model.EmbeddingConfig
	Episodic     model.EpisodicConfig
	Conversation model.ConversationConfig
	Prompt       model.ClinicPromptConfig
	ToolCatalog  time.Duration `envconfig:"TOOL_CATALOG_TTL" default:"5m"`

	// Clinic database, reminders and calendar
	Jobs JobsConfig
}

// JobsConfig is the subset needed by the background jobs, which run without
// Redis or the LLM.
type JobsConfig struct {
	Clinic    ClinicConfig
	Postgres  pkgpostgres.Config
	WhatsApp  whatsapp.Config
	Reminders reminders.Config
	Calendar  CalendarConfig
}

type ClinicConfig struct {
	Timezone      string `envconfig:"TIMEZONE" default:"America/Tijuana"`
	ScheduleFile  string `envconfig:"CLINIC_SCHEDULE_FILE"`
	LookaheadDays int    `envconfig:"SLOT_LOOKAHEAD_DAYS" default:"7"`
}

// Location loads the clinic time zone.
func (c ClinicConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

type CalendarConfig struct {
	CalendarID      string        `envconfig:"GOOGLE_CALENDAR_ID" default:"primary"`
	CredentialsFile string        `envconfig:"GOOGLE_CREDENTIALS_FILE"`
	RetryInterval   time.Duration `envconfig:"SYNC_RETRY_INTERVAL" default:"15m"`
	MaxAttempts     int           `envconfig:"SYNC_MAX_ATTEMPTS" default:"5"`
	RatePerSecond   float64       `envconfig:"CALENDAR_RATE_PER_SECOND" default:"10"`
}

func loadAppConfig() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process environment config: %w", err)
	}
	return cfg, nil
}

func loadJobsConfig() (JobsConfig, error) {
	var cfg JobsConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process environment config: %w", err)
	}
	return cfg, nil
}

func loadPostgresConfig() (pkgpostgres.Config, error) {
	var cfg pkgpostgres.Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process environment config: %w", err)
	}
	return cfg, nil
}
