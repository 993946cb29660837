package calendar_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gcal "google.golang.org/api/calendar/v3"
	"gorm.io/gorm"

	"github.com/clinic-agent/server/internal/agent/model"
	"github.com/clinic-agent/server/internal/calendar"
	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/clinic/clinictest"
)

type fakeEvents struct {
	fail    error
	seq     int
	inserts []*gcal.Event
	updates []string
	deletes []string
}

func (f *fakeEvents) Insert(_ context.Context, ev *gcal.Event) (string, error) {
	if f.fail != nil {
		return "", f.fail
	}
	f.seq++
	f.inserts = append(f.inserts, ev)
	return fmt.Sprintf("evt_%d", f.seq), nil
}

func (f *fakeEvents) Update(_ context.Context, id string, _ *gcal.Event) error {
	if f.fail != nil {
		return f.fail
	}
	f.updates = append(f.updates, id)
	return nil
}

func (f *fakeEvents) Delete(_ context.Context, id string) error {
	if f.fail != nil {
		return f.fail
	}
	f.deletes = append(f.deletes, id)
	return nil
}

type fixture struct {
	db     *gorm.DB
	svc    *clinic.Service
	appt   *clinic.Appointment
	now    *time.Time
	events *fakeEvents
	syncer *calendar.Syncer
}

func newFixture(t *testing.T, withEvents bool) *fixture {
	t.Helper()
	db := clinictest.NewDB(t, &calendar.SyncRecord{})
	clinictest.SeedDoctors(t, db)
	p := clinictest.SeedPatient(t, db, "María López", "+526640000001")
	now := clinictest.Monday(0, 7, 0)
	svc := clinictest.NewService(db, now)
	appt, err := svc.Book(context.Background(), clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(3, 10, 30)})
	require.NoError(t, err)

	f := &fixture{db: db, svc: svc, appt: appt, now: &now, events: &fakeEvents{}}
	var events calendar.Events
	if withEvents {
		events = f.events
	}
	f.syncer = calendar.NewSyncer(db, svc, events, calendar.Config{
		RetryInterval: 15 * time.Minute,
		MaxAttempts:   2,
		Location:      clinictest.Zone,
	}, calendar.WithClock(func() time.Time { return *f.now }))
	return f
}

func (f *fixture) records(t *testing.T) []calendar.SyncRecord {
	t.Helper()
	var out []calendar.SyncRecord
	require.NoError(t, f.db.Order("id").Find(&out).Error)
	return out
}

func TestSyncCreatesUpdatesAndDeletes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)

	require.NoError(t, f.syncer.Sync(ctx, f.appt.ID, model.ActionCreated))
	require.Len(t, f.events.inserts, 1)
	ev := f.events.inserts[0]
	assert.Equal(t, "Consulta - María López", ev.Summary)
	assert.Equal(t, "2026-10-22T10:30:00-08:00", ev.Start.DateTime)
	assert.Equal(t, fmt.Sprint(f.appt.ID), ev.ExtendedProperties.Private["cita_id"])

	stored, err := f.svc.AppointmentByID(ctx, f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", stored.GoogleEventID)
	assert.True(t, stored.SincronizadaGoogle)

	_, err = f.svc.Reschedule(ctx, f.appt.ID, clinictest.Monday(3, 12, 30))
	require.NoError(t, err)
	require.NoError(t, f.syncer.Sync(ctx, f.appt.ID, model.ActionRescheduled))
	assert.Equal(t, []string{"evt_1"}, f.events.updates)

	_, _, err = f.svc.Cancel(ctx, f.appt.ID, "no puede asistir")
	require.NoError(t, err)
	require.NoError(t, f.syncer.Sync(ctx, f.appt.ID, model.ActionCancelled))
	assert.Equal(t, []string{"evt_1"}, f.events.deletes)

	stored, err = f.svc.AppointmentByID(ctx, f.appt.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.GoogleEventID)
	assert.Empty(t, f.records(t))
}

func TestFailedSyncIsQueuedAndRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.events.fail = errors.New("calendar unavailable")

	require.Error(t, f.syncer.Sync(ctx, f.appt.ID, model.ActionCreated))
	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, calendar.StatusError, recs[0].Estado)
	assert.Equal(t, 1, recs[0].Intentos)
	require.NotNil(t, recs[0].SiguienteReintento)
	assert.True(t, recs[0].SiguienteReintento.Equal(f.now.Add(15*time.Minute)))

	// Not due yet.
	rep, err := f.syncer.RetryOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)

	*f.now = f.now.Add(16 * time.Minute)
	f.events.fail = nil
	rep, err = f.syncer.RetryOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, calendar.Report{Processed: 1, Synced: 1}, rep)

	recs = f.records(t)
	assert.Equal(t, calendar.StatusSynced, recs[0].Estado)
	assert.Equal(t, 2, recs[0].Intentos)

	stored, err := f.svc.AppointmentByID(ctx, f.appt.ID)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", stored.GoogleEventID)
}

func TestRetryGivesUpAtMaxAttempts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.events.fail = &googleError{code: http.StatusInternalServerError}

	require.Error(t, f.syncer.Sync(ctx, f.appt.ID, model.ActionCreated))
	*f.now = f.now.Add(20 * time.Minute)

	rep, err := f.syncer.RetryOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Permanent)

	recs := f.records(t)
	assert.Equal(t, calendar.StatusPermanent, recs[0].Estado)
	assert.Nil(t, recs[0].SiguienteReintento)

	*f.now = f.now.Add(time.Hour)
	rep, err = f.syncer.RetryOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)
}

func TestDisabledSyncerQueuesPending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	require.NoError(t, f.syncer.Sync(ctx, f.appt.ID, model.ActionCreated))
	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.Equal(t, calendar.StatusPending, recs[0].Estado)
	assert.Zero(t, recs[0].Intentos)

	rep, err := f.syncer.RetryOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Processed)
}

type googleError struct{ code int }

func (e *googleError) Error() string { return fmt.Sprintf("googleapi: %d", e.code) }
