package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/clinic-agent/server/internal/clinic"
)

// Events is the subset of the calendar API the syncer needs.
type Events interface {
	Insert(ctx context.Context, ev *gcal.Event) (string, error)
	Update(ctx context.Context, eventID string, ev *gcal.Event) error
	Delete(ctx context.Context, eventID string) error
}

// GoogleEvents talks to one Google calendar, throttled by a token bucket.
type GoogleEvents struct {
	svc        *gcal.Service
	calendarID string
	limiter    *rate.Limiter
}

type GoogleConfig struct {
	CalendarID      string
	CredentialsFile string
	RatePerSecond   float64
}

// NewGoogleEvents builds a client from a service account credentials file.
func NewGoogleEvents(ctx context.Context, cfg GoogleConfig) (*GoogleEvents, error) {
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(gcal.CalendarEventsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	id := cfg.CalendarID
	if id == "" {
		id = "primary"
	}
	perSec := cfg.RatePerSecond
	if perSec <= 0 {
		perSec = 10
	}
	return &GoogleEvents{svc: svc, calendarID: id, limiter: rate.NewLimiter(rate.Limit(perSec), 1)}, nil
}

func (g *GoogleEvents) Insert(ctx context.Context, ev *gcal.Event) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	out, err := g.svc.Events.Insert(g.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return "", err
	}
	return out.Id, nil
}

func (g *GoogleEvents) Update(ctx context.Context, eventID string, ev *gcal.Event) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := g.svc.Events.Update(g.calendarID, eventID, ev).Context(ctx).Do()
	return err
}

// Delete removes an event. An event that is already gone counts as deleted.
func (g *GoogleEvents) Delete(ctx context.Context, eventID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}
	err := g.svc.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	if isGone(err) {
		return nil
	}
	return err
}

func isGone(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}

// EventFor renders an appointment as a calendar event in loc.
func EventFor(a *clinic.Appointment, loc *time.Location) *gcal.Event {
	if loc == nil {
		loc = time.UTC
	}
	patient, phone := "Paciente", ""
	if a.Paciente != nil {
		patient, phone = a.Paciente.NombreCompleto, a.Paciente.Telefono
	}
	doctor := ""
	if a.Doctor != nil {
		doctor = a.Doctor.NombreCompleto
	}
	desc := fmt.Sprintf("Paciente: %s\nTel: %s\nDoctor: %s\nTipo: %s\n", patient, phone, doctor, a.TipoConsulta)
	if a.MotivoConsulta != "" {
		desc += "Motivo: " + a.MotivoConsulta + "\n"
	}
	desc += fmt.Sprintf("\nID Cita: %d\nSistema: WhatsApp Agent", a.ID)

	return &gcal.Event{
		Summary:     "Consulta - " + patient,
		Description: desc,
		Start: &gcal.EventDateTime{
			DateTime: a.FechaHoraInicio.In(loc).Format(time.RFC3339),
			TimeZone: loc.String(),
		},
		End: &gcal.EventDateTime{
			DateTime: a.FechaHoraFin.In(loc).Format(time.RFC3339),
			TimeZone: loc.String(),
		},
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{
				"cita_id": strconv.FormatUint(uint64(a.ID), 10),
				"sistema": "whatsapp_agent",
			},
		},
		ColorId: "11",
	}
}
