package calendar

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/clinic"
	errx "github.com/clinic-agent/server/internal/core/error"
	"github.com/clinic-agent/server/internal/metrics"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// Appointments is the clinic store as seen by the syncer. *clinic.Service
// implements it.
type Appointments interface {
	AppointmentByID(ctx context.Context, id uint) (*clinic.Appointment, error)
	MarkSynced(ctx context.Context, id uint, eventID string) error
}

type Config struct {
	RetryInterval time.Duration
	MaxAttempts   int
	Location      *time.Location
}

// Syncer mirrors appointment changes to the calendar. With no Events client
// it only queues the changes as pending.
type Syncer struct {
	db     *gorm.DB
	appts  Appointments
	events Events
	cfg    Config
	now    func() time.Time
}

type Option func(*Syncer)

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

func NewSyncer(db *gorm.DB, appts Appointments, events Events, cfg Config, opts ...Option) *Syncer {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &Syncer{db: db, appts: appts, events: events, cfg: cfg, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Enabled reports whether a calendar client is configured.
func (s *Syncer) Enabled() bool { return s.events != nil }

// Sync mirrors one appointment change. A failure is queued for retry and
// returned; the appointment itself is never touched by a failed sync.
func (s *Syncer) Sync(ctx context.Context, appointmentID uint, action string) error {
	if !s.Enabled() {
		metrics.CalendarSync.WithLabelValues(string(StatusPending)).Inc()
		return s.enqueue(ctx, appointmentID, action, StatusPending, 0, "")
	}
	if err := s.apply(ctx, appointmentID, action); err != nil {
		metrics.CalendarSync.WithLabelValues(string(StatusError)).Inc()
		logx.Warn().Err(err).Uint("appointment_id", appointmentID).Str("action", action).Msg("calendar sync failed, queued for retry")
		if qerr := s.enqueue(ctx, appointmentID, action, StatusError, 1, err.Error()); qerr != nil {
			logx.Error().Err(qerr).Uint("appointment_id", appointmentID).Msg("failed to queue calendar retry")
		}
		return err
	}
	metrics.CalendarSync.WithLabelValues(string(StatusSynced)).Inc()
	logx.Info().Uint("appointment_id", appointmentID).Str("action", action).Msg("appointment mirrored to calendar")
	return nil
}

// apply makes the calendar match the appointment as it is stored now.
func (s *Syncer) apply(ctx context.Context, id uint, action string) error {
	a, err := s.appts.AppointmentByID(ctx, id)
	if err != nil {
		return err
	}
	switch {
	case action == model.ActionCancelled || a.Estado == clinic.StatusCancelled:
		if a.GoogleEventID == "" {
			return nil
		}
		if err := s.events.Delete(ctx, a.GoogleEventID); err != nil {
			return err
		}
		return s.appts.MarkSynced(ctx, id, "")
	case a.GoogleEventID == "":
		eventID, err := s.events.Insert(ctx, EventFor(a, s.cfg.Location))
		if err != nil {
			return err
		}
		return s.appts.MarkSynced(ctx, id, eventID)
	default:
		if err := s.events.Update(ctx, a.GoogleEventID, EventFor(a, s.cfg.Location)); err != nil {
			return err
		}
		return s.appts.MarkSynced(ctx, id, a.GoogleEventID)
	}
}

func (s *Syncer) enqueue(ctx context.Context, id uint, action string, status SyncStatus, attempts int, msg string) error {
	now := s.now().UTC()
	next := now
	rec := &SyncRecord{
		CitaID:       id,
		Accion:       action,
		Estado:       status,
		Intentos:     attempts,
		MaxIntentos:  s.cfg.MaxAttempts,
		ErrorMessage: msg,
	}
	if attempts > 0 {
		next = now.Add(s.cfg.RetryInterval)
		rec.UltimoIntento = &now
	}
	rec.SiguienteReintento = &next
	return errx.WrapDB(s.db.WithContext(ctx).Create(rec).Error)
}
