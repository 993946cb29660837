package reminders_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/clinic/clinictest"
	"github.com/clinic-agent/server/internal/reminders"
)

type sent struct {
	to, text string
}

type fakeSender struct {
	mu   sync.Mutex
	fail bool
	out  []sent
}

func (f *fakeSender) Send(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("bridge down")
	}
	f.out = append(f.out, sent{to, text})
	return nil
}

func TestRunOnceSendsDueReminders(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	clinictest.SeedDoctors(t, db)
	p := clinictest.SeedPatient(t, db, "María López", "+526640000001")

	// Sunday 10:45; the reminder window is Monday 09:45 to 10:45.
	now := clinictest.Monday(-1, 10, 45)
	svc := clinictest.NewService(db, now)
	due, err := svc.Book(ctx, clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(0, 10, 30)})
	require.NoError(t, err)
	_, err = svc.Book(ctx, clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(0, 14, 30)})
	require.NoError(t, err)

	sender := &fakeSender{}
	s := reminders.New(svc, sender, reminders.Config{MaxAttempts: 3}, clinictest.Zone)

	rep, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, reminders.Report{Due: 1, Sent: 1}, rep)
	require.Len(t, sender.out, 1)
	assert.Equal(t, "+526640000001", sender.out[0].to)
	assert.Contains(t, sender.out[0].text, "🔔 Recordatorio de Cita")
	assert.Contains(t, sender.out[0].text, "Hola María López!")
	assert.Contains(t, sender.out[0].text, "📅 Lunes 19 de octubre, 2026")
	assert.Contains(t, sender.out[0].text, "🕐 10:30 a 11:30")

	stored, err := svc.AppointmentByID(ctx, due.ID)
	require.NoError(t, err)
	assert.True(t, stored.RecordatorioEnviado)
	assert.Equal(t, 1, stored.RecordatorioIntentos)
	require.NotNil(t, stored.RecordatorioFechaEnvio)

	// Already sent.
	rep, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Due)
}

func TestFailedRemindersGiveUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	clinictest.SeedDoctors(t, db)
	p := clinictest.SeedPatient(t, db, "María López", "+526640000001")
	svc := clinictest.NewService(db, clinictest.Monday(-1, 10, 45))
	appt, err := svc.Book(ctx, clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(0, 10, 30)})
	require.NoError(t, err)

	s := reminders.New(svc, &fakeSender{fail: true}, reminders.Config{MaxAttempts: 2}, clinictest.Zone)

	rep, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, reminders.Report{Due: 1, Failed: 1}, rep)

	rep, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)

	stored, err := svc.AppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, stored.RecordatorioEnviado)
	assert.Equal(t, 2, stored.RecordatorioIntentos)
	assert.Nil(t, stored.RecordatorioFechaEnvio)

	rep, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, rep.Due)
}

type emptyStore struct {
	mu     sync.Mutex
	sweeps int
}

func (e *emptyStore) DueReminders(context.Context, time.Time, time.Time) ([]clinic.Appointment, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sweeps++
	return nil, nil
}

func (e *emptyStore) RecordReminderAttempt(context.Context, uint, bool, int) (int, error) { return 0, nil }

func (e *emptyStore) Now() time.Time { return clinictest.Monday(0, 9, 0) }

func (e *emptyStore) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sweeps
}

func TestRunSweepsAtStartAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := &emptyStore{}
	s := reminders.New(store, &fakeSender{}, reminders.Config{Interval: 10 * time.Millisecond}, clinictest.Zone)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return store.count() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
