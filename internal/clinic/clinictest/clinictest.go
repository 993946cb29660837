// Package clinictest provides an in-memory clinic database for tests.
package clinictest

import (
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/clinic-agent/server/internal/clinic"
)

// Zone is a fixed UTC-8 zone so tests do not depend on the host tz database.
var Zone = time.FixedZone("PST", -8*3600)

// Monday returns 2026-10-19 (a Monday) at hh:mm in Zone, shifted by days.
func Monday(days, hh, mm int) time.Time {
	return time.Date(2026, time.October, 19+days, hh, mm, 0, 0, Zone)
}

// NewDB opens an isolated in-memory SQLite database with the clinic tables and
// any extra models migrated.
func NewDB(t testing.TB, extra ...any) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// Every pooled connection would otherwise see its own empty database.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	models := append(clinic.Models(), extra...)
	require.NoError(t, db.AutoMigrate(models...))
	return db
}

// SeedDoctors inserts two doctors in turn order.
func SeedDoctors(t testing.TB, db *gorm.DB) (clinic.Doctor, clinic.Doctor) {
	t.Helper()
	d1 := clinic.Doctor{PhoneNumber: "+526641111111", NombreCompleto: "Dra. Ana Ruiz", Especialidad: "Medicina general", OrdenTurno: 1, Activo: true}
	d2 := clinic.Doctor{PhoneNumber: "+526642222222", NombreCompleto: "Dr. Luis Mora", Especialidad: "Medicina general", OrdenTurno: 2, Activo: true}
	require.NoError(t, db.Create(&d1).Error)
	require.NoError(t, db.Create(&d2).Error)
	return d1, d2
}

// SeedPatient inserts a patient with the given phone.
func SeedPatient(t testing.TB, db *gorm.DB, name, phone string) clinic.Patient {
	t.Helper()
	p := clinic.Patient{NombreCompleto: name, Telefono: phone, Activo: true}
	require.NoError(t, db.Create(&p).Error)
	return p
}

// NewService builds a clinic service over db with the default schedule in Zone
// and a frozen clock.
func NewService(db *gorm.DB, now time.Time) *clinic.Service {
	return clinic.NewService(db, clinic.DefaultSchedule(Zone), clinic.WithClock(func() time.Time { return now }))
}

// SeedAppointment inserts a one-hour appointment with the given status,
// bypassing booking rules.
func SeedAppointment(t testing.TB, db *gorm.DB, doctorID, patientID uint, start time.Time, estado clinic.AppointmentStatus) clinic.Appointment {
	t.Helper()
	a := clinic.Appointment{
		DoctorID:        doctorID,
		PacienteID:      patientID,
		FechaHoraInicio: start.UTC(),
		FechaHoraFin:    start.Add(time.Hour).UTC(),
		TipoConsulta:    clinic.ConsultFollowUp,
		Estado:          estado,
	}
	require.NoError(t, db.Create(&a).Error)
	return a
}

// SeedNote inserts a history note written at when.
func SeedNote(t testing.TB, db *gorm.DB, doctorID, patientID uint, when time.Time, nota string) clinic.HistoryNote {
	t.Helper()
	n := clinic.HistoryNote{PacienteID: patientID, DoctorID: doctorID, Fecha: when.UTC(), Nota: nota}
	require.NoError(t, db.Create(&n).Error)
	return n
}
