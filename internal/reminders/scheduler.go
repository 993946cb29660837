// Package reminders sends WhatsApp reminders for appointments due in the next day.
package reminders

import (
	"context"
	"fmt"
	"time"

	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/metrics"
	logx "github.com/clinic-agent/server/pkg/logger"
)

// Store is the clinic store as seen by the scheduler. *clinic.Service implements it.
type Store interface {
	DueReminders(ctx context.Context, from, to time.Time) ([]clinic.Appointment, error)
	RecordReminderAttempt(ctx context.Context, id uint, delivered bool, maxAttempts int) (int, error)
	Now() time.Time
}

// Sender delivers a WhatsApp message. *whatsapp.Client implements it.
type Sender interface {
	Send(ctx context.Context, to, text string) error
}

type Config struct {
	Interval    time.Duration `envconfig:"REMINDER_INTERVAL" default:"1h"`
	MaxAttempts int           `envconfig:"REMINDER_MAX_ATTEMPTS" default:"3"`
}

// The reminder window: appointments starting between 23 and 24 hours from now.
const (
	windowStart = 23 * time.Hour
	windowEnd   = 24 * time.Hour
)

type Scheduler struct {
	store  Store
	sender Sender
	cfg    Config
	loc    *time.Location
}

func New(store Store, sender Sender, cfg Config, loc *time.Location) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{store: store, sender: sender, cfg: cfg, loc: loc}
}

// Report counts the outcome of one sweep.
type Report struct {
	Due    int
	Sent   int
	Failed int
}

// RunOnce sends the reminders that are due now.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	now := s.store.Now()
	due, err := s.store.DueReminders(ctx, now.Add(windowStart), now.Add(windowEnd))
	if err != nil {
		return Report{}, err
	}
	rep := Report{Due: len(due)}
	for _, a := range due {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if a.Paciente == nil || a.Paciente.Telefono == "" {
			logx.Warn().Uint("appointment_id", a.ID).Msg("appointment without patient phone, skipping reminder")
			continue
		}

		sendErr := s.sender.Send(ctx, a.Paciente.Telefono, Message(a, s.loc))
		delivered := sendErr == nil
		attempts, err := s.store.RecordReminderAttempt(ctx, a.ID, delivered, s.cfg.MaxAttempts)
		if err != nil {
			logx.Error().Err(err).Uint("appointment_id", a.ID).Msg("failed to record reminder attempt")
		}

		if delivered {
			rep.Sent++
			metrics.Reminders.WithLabelValues("enviado").Inc()
			logx.Info().Uint("appointment_id", a.ID).Msg("reminder sent")
			continue
		}
		rep.Failed++
		status := "fallido"
		if attempts >= s.cfg.MaxAttempts {
			status = "descartado"
		}
		metrics.Reminders.WithLabelValues(status).Inc()
		logx.Warn().Err(sendErr).Uint("appointment_id", a.ID).Int("attempts", attempts).Msg("reminder not delivered")
	}

	logx.Info().Int("due", rep.Due).Int("sent", rep.Sent).Int("failed", rep.Failed).Msg("reminder sweep finished")
	return rep, nil
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	logx.Info().Dur("interval", s.cfg.Interval).Msg("reminder scheduler started")
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logx.Error().Err(err).Msg("reminder sweep failed")
		}
		select {
		case <-ctx.Done():
			logx.Info().Msg("reminder scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Message renders the reminder text for an appointment.
func Message(a clinic.Appointment, loc *time.Location) string {
	start := a.FechaHoraInicio.In(loc)
	end := a.FechaHoraFin.In(loc)
	patient, doctor := "", ""
	if a.Paciente != nil {
		patient = a.Paciente.NombreCompleto
	}
	if a.Doctor != nil {
		doctor = a.Doctor.NombreCompleto
	}
	return fmt.Sprintf(`🔔 Recordatorio de Cita

Hola %s!

Tienes una cita programada para:

📅 %s %d de %s, %d
🕐 %s a %s
👨‍⚕️ %s

💬 Si necesitas cancelar, responde "cancelar cita"

¡Te esperamos!`,
		patient,
		clinic.DayName(start.Weekday()), start.Day(), clinic.MonthName(start.Month()), start.Year(),
		start.Format("15:04"), end.Format("15:04"),
		doctor,
	)
}
