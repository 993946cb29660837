package clinic

import (
	"context"
	"fmt"
	"strings"
	"time"

	errx "github.com/clinic-agent/server/internal/core/error"
)

const (
	recentPatientsLimit = 10
	recentNotesLimit    = 5
	// appointments scanned to rank recent patients
	recentScanLimit = 200
)

// Practice is a doctor's working context: today's agenda, recent patients,
// the latest history notes and a few counters.
type Practice struct {
	DoctorID      uint
	TodayCount    int
	WeekCount     int
	TotalPatients int
	Today         []Appointment
	Patients      []RecentPatient
	Notes         []PracticeNote
}

type RecentPatient struct {
	ID             uint
	NombreCompleto string
	LastVisit      time.Time
	Visits         int
}

type PracticeNote struct {
	HistoryNote
	PacienteNombre string
}

// Practice loads the working context of a doctor relative to the clinic clock.
func (s *Service) Practice(ctx context.Context, doctorID uint) (*Practice, error) {
	now := s.now()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	p := &Practice{DoctorID: doctorID}

	today, err := s.DoctorAppointments(ctx, doctorID, dayStart, dayStart.AddDate(0, 0, 1), "")
	if err != nil {
		return nil, err
	}
	p.Today = today
	for _, a := range today {
		if a.Estado != StatusCancelled && a.Estado != StatusNoShow {
			p.TodayCount++
		}
	}

	var week int64
	err = s.db.WithContext(ctx).Model(&Appointment{}).
		Where("doctor_id = ?", doctorID).
		Where("fecha_hora_inicio >= ? AND fecha_hora_inicio < ?", dayStart.UTC(), dayStart.AddDate(0, 0, 7).UTC()).
		Where("estado NOT IN ?", []AppointmentStatus{StatusCancelled, StatusNoShow}).
		Count(&week).Error
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	p.WeekCount = int(week)

	var patients int64
	err = s.db.WithContext(ctx).Model(&Appointment{}).
		Where("doctor_id = ?", doctorID).
		Distinct("paciente_id").
		Count(&patients).Error
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	p.TotalPatients = int(patients)

	if p.Patients, err = s.recentPatients(ctx, doctorID); err != nil {
		return nil, err
	}
	if p.Notes, err = s.recentNotes(ctx, doctorID); err != nil {
		return nil, err
	}
	return p, nil
}

// recentPatients ranks patients by their latest confirmed or completed visit.
func (s *Service) recentPatients(ctx context.Context, doctorID uint) ([]RecentPatient, error) {
	var appts []Appointment
	err := s.db.WithContext(ctx).Preload("Paciente").
		Where("doctor_id = ?", doctorID).
		Where("estado IN ?", []AppointmentStatus{StatusConfirmed, StatusCompleted}).
		Order("fecha_hora_inicio DESC").
		Limit(recentScanLimit).
		Find(&appts).Error
	if err != nil {
		return nil, errx.WrapDB(err)
	}

	var out []RecentPatient
	index := make(map[uint]int)
	for _, a := range appts {
		if i, ok := index[a.PacienteID]; ok {
			out[i].Visits++
			continue
		}
		if len(out) == recentPatientsLimit {
			continue
		}
		rp := RecentPatient{ID: a.PacienteID, LastVisit: a.FechaHoraInicio, Visits: 1}
		if a.Paciente != nil {
			rp.NombreCompleto = a.Paciente.NombreCompleto
		}
		index[a.PacienteID] = len(out)
		out = append(out, rp)
	}
	return out, nil
}

func (s *Service) recentNotes(ctx context.Context, doctorID uint) ([]PracticeNote, error) {
	var notes []HistoryNote
	err := s.db.WithContext(ctx).
		Where("doctor_id = ?", doctorID).
		Order("fecha DESC").
		Limit(recentNotesLimit).
		Find(&notes).Error
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	if len(notes) == 0 {
		return nil, nil
	}

	ids := make([]uint, 0, len(notes))
	for _, n := range notes {
		ids = append(ids, n.PacienteID)
	}
	var pats []Patient
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&pats).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	names := make(map[uint]string, len(pats))
	for _, p := range pats {
		names[p.ID] = p.NombreCompleto
	}

	out := make([]PracticeNote, 0, len(notes))
	for _, n := range notes {
		out = append(out, PracticeNote{HistoryNote: n, PacienteNombre: names[n.PacienteID]})
	}
	return out, nil
}

// Format renders the context for a model prompt, in loc.
func (p *Practice) Format(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Citas hoy: %d | Citas en los próximos 7 días: %d | Pacientes totales: %d\n",
		p.TodayCount, p.WeekCount, p.TotalPatients)

	fmt.Fprintf(&b, "AGENDA DE HOY (%d):\n", len(p.Today))
	if len(p.Today) == 0 {
		b.WriteString("- Sin citas agendadas\n")
	}
	for _, a := range p.Today {
		name := "Paciente"
		if a.Paciente != nil {
			name = a.Paciente.NombreCompleto
		}
		fmt.Fprintf(&b, "- %s %s (cita %d, %s)\n", a.FechaHoraInicio.In(loc).Format("15:04"), name, a.ID, a.Estado)
	}

	fmt.Fprintf(&b, "PACIENTES RECIENTES (%d):\n", len(p.Patients))
	if len(p.Patients) == 0 {
		b.WriteString("- Sin pacientes recientes\n")
	}
	for _, rp := range p.Patients {
		fmt.Fprintf(&b, "- %s (ID %d): %d citas, última %s\n", rp.NombreCompleto, rp.ID, rp.Visits, FormatDate(rp.LastVisit.In(loc)))
	}

	if len(p.Notes) > 0 {
		fmt.Fprintf(&b, "NOTAS RECIENTES (%d):\n", len(p.Notes))
		for _, n := range p.Notes {
			fmt.Fprintf(&b, "- %s (%s): %s\n", n.PacienteNombre, FormatDate(n.Fecha.In(loc)), preview(n.Nota, 80))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func preview(s string, max int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= max {
		return string(r)
	}
	return string(r[:max]) + "..."
}
