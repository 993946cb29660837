package clinic_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinic-agent/server/internal/clinic"
	"github.com/clinic-agent/server/internal/clinic/clinictest"
	errx "github.com/clinic-agent/server/internal/core/error"
)

func TestBookAlternatesDoctors(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	d1, d2 := clinictest.SeedDoctors(t, db)
	p := clinictest.SeedPatient(t, db, "María López", "+526640000001")
	svc := clinictest.NewService(db, clinictest.Monday(0, 7, 0))

	var got []uint
	for _, hour := range []int{9, 11, 13} {
		a, err := svc.Book(ctx, clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(0, hour, 30)})
		require.NoError(t, err)
		assert.Equal(t, clinic.StatusScheduled, a.Estado)
		assert.Equal(t, time.Hour, a.Duration())
		got = append(got, a.DoctorID)
	}
	assert.Equal(t, []uint{d1.ID, d2.ID, d1.ID}, got)

	var reloaded clinic.Doctor
	require.NoError(t, db.First(&reloaded, d1.ID).Error)
	assert.Equal(t, 2, reloaded.TotalCitasAsignadas)
}

func TestBookFallsBackToFreeDoctor(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	d1, d2 := clinictest.SeedDoctors(t, db)
	p1 := clinictest.SeedPatient(t, db, "María López", "+526640000001")
	p2 := clinictest.SeedPatient(t, db, "José Pérez", "+526640000002")
	p3 := clinictest.SeedPatient(t, db, "Lucía Díaz", "+526640000003")
	svc := clinictest.NewService(db, clinictest.Monday(0, 7, 0))

	// Doctor 2 is booked explicitly, which makes doctor 1 next in turn.
	_, err := svc.Book(ctx, clinic.Booking{PacienteID: p1.ID, Start: clinictest.Monday(0, 10, 30), DoctorID: &d2.ID})
	require.NoError(t, err)

	a, err := svc.Book(ctx, clinic.Booking{PacienteID: p2.ID, Start: clinictest.Monday(0, 10, 30)})
	require.NoError(t, err)
	assert.Equal(t, d1.ID, a.DoctorID)

	_, err = svc.Book(ctx, clinic.Booking{PacienteID: p3.ID, Start: clinictest.Monday(0, 10, 30)})
	require.Error(t, err)
	assert.Equal(t, http.StatusConflict, errx.StatusOf(err))
}

func TestBookValidation(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	clinictest.SeedDoctors(t, db)
	p := clinictest.SeedPatient(t, db, "María López", "+526640000001")
	svc := clinictest.NewService(db, clinictest.Monday(0, 12, 0))

	cases := map[string]clinic.Booking{
		"past":          {PacienteID: p.ID, Start: clinictest.Monday(0, 9, 30)},
		"closed day":    {PacienteID: p.ID, Start: clinictest.Monday(1, 9, 30)},
		"outside hours": {PacienteID: p.ID, Start: clinictest.Monday(0, 18, 0)},
		"bad type":      {PacienteID: p.ID, Start: clinictest.Monday(0, 14, 30), Tipo: "cirugia"},
	}
	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Book(ctx, b)
			require.Error(t, err)
			assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
		})
	}

	_, err := svc.Book(ctx, clinic.Booking{PacienteID: 999, Start: clinictest.Monday(0, 14, 30)})
	assert.Equal(t, http.StatusNotFound, errx.StatusOf(err))
}

func TestRescheduleAndCancel(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	clinictest.SeedDoctors(t, db)
	p := clinictest.SeedPatient(t, db, "María López", "+526640000001")
	svc := clinictest.NewService(db, clinictest.Monday(0, 7, 0))

	a, err := svc.Book(ctx, clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(0, 9, 30)})
	require.NoError(t, err)

	// Overlapping only with itself is not a conflict.
	moved, err := svc.Reschedule(ctx, a.ID, clinictest.Monday(0, 10, 0))
	require.NoError(t, err)
	assert.True(t, moved.FechaHoraInicio.Equal(clinictest.Monday(0, 10, 0)))
	assert.Equal(t, time.Hour, moved.Duration())

	_, _, err = svc.Cancel(ctx, a.ID, "no")
	assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))

	cancelled, already, err := svc.Cancel(ctx, a.ID, "viaje de trabajo")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, clinic.StatusCancelled, cancelled.Estado)

	_, already, err = svc.Cancel(ctx, a.ID, "viaje de trabajo")
	require.NoError(t, err)
	assert.True(t, already)

	_, err = svc.Reschedule(ctx, a.ID, clinictest.Monday(3, 9, 30))
	assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
}

func TestCompletedAppointmentsAreFinal(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	clinictest.SeedDoctors(t, db)
	p := clinictest.SeedPatient(t, db, "María López", "+526640000001")
	svc := clinictest.NewService(db, clinictest.Monday(0, 7, 0))

	a, err := svc.Book(ctx, clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(0, 9, 30)})
	require.NoError(t, err)
	require.NoError(t, db.Model(&clinic.Appointment{}).Where("id = ?", a.ID).Update("estado", clinic.StatusCompleted).Error)

	_, _, err = svc.Cancel(ctx, a.ID, "ya no lo necesito")
	assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
	_, err = svc.Reschedule(ctx, a.ID, clinictest.Monday(3, 9, 30))
	assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
	_, err = svc.Confirm(ctx, a.ID, "")
	assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
}

func TestCheckAvailabilityReasons(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	d1, _ := clinictest.SeedDoctors(t, db)
	p := clinictest.SeedPatient(t, db, "María López", "+526640000001")
	svc := clinictest.NewService(db, clinictest.Monday(0, 7, 0))

	_, err := svc.Book(ctx, clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(0, 9, 30), DoctorID: &d1.ID})
	require.NoError(t, err)

	hour := func(start time.Time) (time.Time, time.Time) { return start, start.Add(time.Hour) }

	s, e := hour(clinictest.Monday(1, 9, 30))
	assert.Equal(t, clinic.ReasonClosedDay, svc.CheckAvailability(ctx, d1.ID, s, e).Reason)
	s, e = hour(clinictest.Monday(0, 7, 30))
	assert.Equal(t, clinic.ReasonOutsideHours, svc.CheckAvailability(ctx, d1.ID, s, e).Reason)
	s, e = hour(clinictest.Monday(0, 10, 0))
	assert.Equal(t, clinic.ReasonBusy, svc.CheckAvailability(ctx, d1.ID, s, e).Reason)
	assert.Equal(t, clinic.ReasonNoDoctor, svc.CheckAvailability(ctx, 42, s, e).Reason)
	s, e = hour(clinictest.Monday(0, 11, 30))
	assert.True(t, svc.CheckAvailability(ctx, d1.ID, s, e).Available)
}

func TestPatientsAndHistory(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	d1, _ := clinictest.SeedDoctors(t, db)
	svc := clinictest.NewService(db, clinictest.Monday(0, 7, 0))

	p, err := svc.CreatePatient(ctx, clinic.NewPatient{NombreCompleto: " Carlos Núñez ", Telefono: "+526640000009"})
	require.NoError(t, err)
	assert.Equal(t, "Carlos Núñez", p.NombreCompleto)

	_, err = svc.CreatePatient(ctx, clinic.NewPatient{NombreCompleto: "Otro", Telefono: "+526640000009"})
	assert.Equal(t, http.StatusConflict, errx.StatusOf(err))

	found, err := svc.SearchPatients(ctx, "carlos", 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, p.ID, found[0].ID)

	_, err = svc.AddHistoryNote(ctx, p.ID, d1.ID, "ok")
	assert.Equal(t, http.StatusBadRequest, errx.StatusOf(err))
	_, err = svc.AddHistoryNote(ctx, p.ID, d1.ID, "Presión arterial normal")
	require.NoError(t, err)

	notes, err := svc.History(ctx, p.ID, 5)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "Presión arterial normal", notes[0].Nota)
}

func TestReminderAttempts(t *testing.T) {
	ctx := context.Background()
	db := clinictest.NewDB(t)
	clinictest.SeedDoctors(t, db)
	p := clinictest.SeedPatient(t, db, "María López", "+526640000001")
	now := clinictest.Monday(0, 9, 0)
	svc := clinictest.NewService(db, now)

	_, err := svc.Book(ctx, clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(3, 8, 30)})
	require.NoError(t, err)
	a, err := svc.Book(ctx, clinic.Booking{PacienteID: p.ID, Start: clinictest.Monday(0, 14, 30)})
	require.NoError(t, err)

	due, err := svc.DueReminders(ctx, now, now.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, a.ID, due[0].ID)
	require.NotNil(t, due[0].Paciente)

	for i := 1; i <= 2; i++ {
		n, err := svc.RecordReminderAttempt(ctx, a.ID, false, 3)
		require.NoError(t, err)
		assert.Equal(t, i, n)
	}
	due, err = svc.DueReminders(ctx, now, now.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Len(t, due, 1)

	n, err := svc.RecordReminderAttempt(ctx, a.ID, false, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	due, err = svc.DueReminders(ctx, now, now.Add(6*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, due)
}
