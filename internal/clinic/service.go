package clinic

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	errx "github.com/clinic-agent/server/internal/core/error"
	logx "github.com/clinic-agent/server/pkg/logger"
	"gorm.io/gorm"
)

// Service owns the clinic's relational data: doctors, patients, appointments
// and medical history.
type Service struct {
	db        *gorm.DB
	schedule  Schedule
	lookahead int
	now       func() time.Time
}

type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLookahead sets how many days ahead slots are offered.
func WithLookahead(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.lookahead = days
		}
	}
}

func NewService(db *gorm.DB, schedule Schedule, opts ...Option) *Service {
	s := &Service{db: db, schedule: schedule, lookahead: 7, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	inner := s.now
	s.now = func() time.Time { return inner().In(schedule.Location) }
	return s
}

// Schedule returns the opening hours the service books against.
func (s *Service) Schedule() Schedule { return s.schedule }

// Now returns the current time in the clinic zone.
func (s *Service) Now() time.Time { return s.now() }

// ===== Doctors =====

func (s *Service) DoctorByPhone(ctx context.Context, phone string) (*Doctor, error) {
	var d Doctor
	err := s.db.WithContext(ctx).Where("phone_number = ? AND activo = ?", phone, true).First(&d).Error
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return &d, nil
}

func (s *Service) DoctorByID(ctx context.Context, id uint) (*Doctor, error) {
	var d Doctor
	if err := s.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	return &d, nil
}

// ===== Patients =====

// NewPatient holds the fields accepted when registering a patient.
type NewPatient struct {
	NombreCompleto string
	Telefono       string
	Email          string
	DoctorID       *uint
}

func (s *Service) CreatePatient(ctx context.Context, in NewPatient) (*Patient, error) {
	name := strings.TrimSpace(in.NombreCompleto)
	phone := strings.TrimSpace(in.Telefono)
	if len([]rune(name)) < 2 {
		return nil, errx.Validation("el nombre del paciente debe tener al menos 2 caracteres")
	}
	if phone == "" {
		return nil, errx.Validation("el teléfono del paciente es obligatorio")
	}

	var existing int64
	if err := s.db.WithContext(ctx).Model(&Patient{}).Where("telefono = ?", phone).Count(&existing).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	if existing > 0 {
		return nil, errx.Conflict("ya existe un paciente registrado con este número de teléfono")
	}

	p := Patient{
		NombreCompleto: name,
		Telefono:       phone,
		Email:          strings.TrimSpace(in.Email),
		DoctorID:       in.DoctorID,
		Activo:         true,
	}
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	logx.Info().Uint("paciente_id", p.ID).Str("telefono", p.Telefono).Msg("patient registered")
	return &p, nil
}

func (s *Service) PatientByPhone(ctx context.Context, phone string) (*Patient, error) {
	var p Patient
	if err := s.db.WithContext(ctx).Where("telefono = ?", phone).First(&p).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	return &p, nil
}

func (s *Service) PatientByID(ctx context.Context, id uint) (*Patient, error) {
	var p Patient
	if err := s.db.WithContext(ctx).First(&p, id).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	return &p, nil
}

// SearchPatients matches name or phone fragments, or an exact numeric id.
func (s *Service) SearchPatients(ctx context.Context, term string, limit int) ([]Patient, error) {
	term = strings.TrimSpace(term)
	if len([]rune(term)) < 2 {
		return nil, errx.Validation("el término de búsqueda debe tener al menos 2 caracteres")
	}
	if limit <= 0 {
		limit = 10
	}
	like := "%" + strings.ToLower(term) + "%"
	q := s.db.WithContext(ctx).Where("activo = ?", true)
	if id, err := strconv.ParseUint(term, 10, 64); err == nil {
		q = q.Where("id = ? OR telefono LIKE ?", id, like)
	} else {
		q = q.Where("LOWER(nombre_completo) LIKE ? OR telefono LIKE ?", like, like)
	}
	var out []Patient
	if err := q.Order("nombre_completo ASC").Limit(limit).Find(&out).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	return out, nil
}

// ===== Appointments =====

// Booking describes a new appointment. DoctorID nil assigns by turn.
type Booking struct {
	PacienteID uint
	Start      time.Time
	Duration   time.Duration
	Tipo       ConsultationType
	Motivo     string
	DoctorID   *uint
}

// Book creates an appointment with status programada. The doctor is taken from
// the turn rotation, falling back to the next free doctor when the one whose
// turn it is is busy.
func (s *Service) Book(ctx context.Context, b Booking) (*Appointment, error) {
	if b.Duration <= 0 {
		b.Duration = s.schedule.SlotLength
	}
	if b.Tipo == "" {
		b.Tipo = ConsultFollowUp
	}
	if !b.Tipo.Valid() {
		return nil, errx.Validation(fmt.Sprintf("tipo de consulta inválido: %s", b.Tipo))
	}
	start := b.Start.In(s.schedule.Location)
	end := start.Add(b.Duration)
	if !start.After(s.now()) {
		return nil, errx.Validation("no se pueden agendar citas en fechas y horas pasadas")
	}
	if r := s.schedule.Check(start, end); r != "" {
		return nil, errx.Validation(reasonMessage(r))
	}

	var created Appointment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var patient Patient
		if err := tx.First(&patient, b.PacienteID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errx.NotFound(fmt.Sprintf("no se encontró paciente con ID %d", b.PacienteID))
			}
			return err
		}

		doctorID, err := s.pickDoctor(tx, b.DoctorID, start, end)
		if err != nil {
			return err
		}

		created = Appointment{
			DoctorID:        doctorID,
			PacienteID:      patient.ID,
			FechaHoraInicio: start.UTC(),
			FechaHoraFin:    end.UTC(),
			TipoConsulta:    b.Tipo,
			Estado:          StatusScheduled,
			MotivoConsulta:  strings.TrimSpace(b.Motivo),
		}
		if err := tx.Create(&created).Error; err != nil {
			return err
		}
		if err := recordAssignment(tx, doctorID, s.now()); err != nil {
			return err
		}
		return tx.Model(&Patient{}).Where("id = ?", patient.ID).Update("ultima_cita", start.UTC()).Error
	})
	if err != nil {
		return nil, errx.WrapDB(err)
	}

	logx.Info().
		Uint("cita_id", created.ID).
		Uint("doctor_id", created.DoctorID).
		Uint("paciente_id", created.PacienteID).
		Time("inicio", start).
		Msg("appointment booked")
	return s.AppointmentByID(ctx, created.ID)
}

func (s *Service) pickDoctor(tx *gorm.DB, requested *uint, start, end time.Time) (uint, error) {
	if requested != nil {
		var d Doctor
		if err := tx.Where("id = ? AND activo = ?", *requested, true).First(&d).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return 0, errx.Validation(reasonMessage(ReasonNoDoctor))
			}
			return 0, err
		}
		busy, err := hasConflict(tx, d.ID, start, end, 0)
		if err != nil {
			return 0, err
		}
		if busy {
			return 0, errx.Conflict(reasonMessage(ReasonBusy))
		}
		return d.ID, nil
	}

	doctors, err := activeDoctors(tx)
	if err != nil {
		return 0, err
	}
	if len(doctors) == 0 {
		return 0, errx.Validation(reasonMessage(ReasonNoDoctor))
	}
	last, err := lastAssigned(tx, true)
	if err != nil {
		return 0, err
	}
	for _, d := range rotate(doctors, last) {
		busy, err := hasConflict(tx, d.ID, start, end, 0)
		if err != nil {
			return 0, err
		}
		if !busy {
			return d.ID, nil
		}
	}
	return 0, errx.Conflict(reasonMessage(ReasonBusy))
}

func (s *Service) AppointmentByID(ctx context.Context, id uint) (*Appointment, error) {
	var a Appointment
	if err := s.db.WithContext(ctx).Preload("Doctor").Preload("Paciente").First(&a, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errx.NotFound(fmt.Sprintf("no se encontró la cita con ID %d", id))
		}
		return nil, errx.WrapDB(err)
	}
	return &a, nil
}

// Reschedule moves an appointment, keeping its duration and doctor.
func (s *Service) Reschedule(ctx context.Context, id uint, newStart time.Time) (*Appointment, error) {
	current, err := s.AppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	switch current.Estado {
	case StatusCompleted:
		return nil, errx.Validation("no se puede reagendar una cita completada")
	case StatusCancelled:
		return nil, errx.Validation("no se puede reagendar una cita cancelada")
	}

	start := newStart.In(s.schedule.Location)
	end := start.Add(current.Duration())
	if !start.After(s.now()) {
		return nil, errx.Validation("la nueva fecha y hora no puede ser en el pasado")
	}
	if r := s.schedule.Check(start, end); r != "" {
		return nil, errx.Validation(reasonMessage(r))
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		busy, err := hasConflict(tx, current.DoctorID, start, end, current.ID)
		if err != nil {
			return err
		}
		if busy {
			return errx.Conflict(reasonMessage(ReasonBusy))
		}
		return tx.Model(&Appointment{}).Where("id = ?", id).Updates(map[string]any{
			"fecha_hora_inicio":    start.UTC(),
			"fecha_hora_fin":       end.UTC(),
			"estado":               StatusScheduled,
			"recordatorio_enviado": false,
			"sincronizada_google":  false,
		}).Error
	})
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	logx.Info().Uint("cita_id", id).Time("inicio", start).Msg("appointment rescheduled")
	return s.AppointmentByID(ctx, id)
}

// Cancel marks an appointment as cancelled. Cancelling twice is reported
// through alreadyCancelled rather than an error.
func (s *Service) Cancel(ctx context.Context, id uint, motivo string) (appt *Appointment, alreadyCancelled bool, err error) {
	motivo = strings.TrimSpace(motivo)
	if len([]rune(motivo)) < 3 {
		return nil, false, errx.Validation("debe proporcionar un motivo de cancelación de al menos 3 caracteres")
	}
	current, err := s.AppointmentByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	switch current.Estado {
	case StatusCancelled:
		return current, true, nil
	case StatusCompleted:
		return nil, false, errx.Validation("no se puede cancelar una cita completada")
	}

	err = s.db.WithContext(ctx).Model(&Appointment{}).Where("id = ?", id).Updates(map[string]any{
		"estado":             StatusCancelled,
		"motivo_cancelacion": motivo,
	}).Error
	if err != nil {
		return nil, false, errx.WrapDB(err)
	}
	logx.Info().Uint("cita_id", id).Str("motivo", motivo).Msg("appointment cancelled")
	appt, err = s.AppointmentByID(ctx, id)
	return appt, false, err
}

// Confirm moves a scheduled appointment to confirmada.
func (s *Service) Confirm(ctx context.Context, id uint, notas string) (*Appointment, error) {
	current, err := s.AppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Estado != StatusScheduled && current.Estado != StatusConfirmed {
		return nil, errx.Validation(fmt.Sprintf("no se puede confirmar una cita en estado %s", current.Estado))
	}
	updates := map[string]any{"estado": StatusConfirmed}
	if n := strings.TrimSpace(notas); n != "" {
		updates["notas_privadas"] = n
	}
	if err := s.db.WithContext(ctx).Model(&Appointment{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	return s.AppointmentByID(ctx, id)
}

// DoctorAppointments lists a doctor's appointments in [from, to), optionally by status.
func (s *Service) DoctorAppointments(ctx context.Context, doctorID uint, from, to time.Time, estado AppointmentStatus) ([]Appointment, error) {
	q := s.db.WithContext(ctx).Preload("Paciente").
		Where("doctor_id = ?", doctorID).
		Where("fecha_hora_inicio >= ? AND fecha_hora_inicio < ?", from.UTC(), to.UTC())
	if estado != "" {
		q = q.Where("estado = ?", estado)
	}
	var out []Appointment
	if err := q.Order("fecha_hora_inicio ASC").Find(&out).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	return out, nil
}

// UpcomingForPatient lists future, non-cancelled appointments of a patient.
func (s *Service) UpcomingForPatient(ctx context.Context, patientID uint) ([]Appointment, error) {
	var out []Appointment
	err := s.db.WithContext(ctx).
		Where("paciente_id = ?", patientID).
		Where("estado IN ?", []AppointmentStatus{StatusScheduled, StatusConfirmed}).
		Where("fecha_hora_inicio > ?", s.now().UTC()).
		Order("fecha_hora_inicio ASC").
		Find(&out).Error
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return out, nil
}

// MarkSynced stores the calendar event id of an appointment.
func (s *Service) MarkSynced(ctx context.Context, id uint, eventID string) error {
	err := s.db.WithContext(ctx).Model(&Appointment{}).Where("id = ?", id).Updates(map[string]any{
		"google_event_id":     eventID,
		"sincronizada_google": eventID != "",
	}).Error
	return errx.WrapDB(err)
}

// ===== History =====

func (s *Service) History(ctx context.Context, patientID uint, limit int) ([]HistoryNote, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	var out []HistoryNote
	err := s.db.WithContext(ctx).Where("paciente_id = ?", patientID).Order("fecha DESC").Limit(limit).Find(&out).Error
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return out, nil
}

func (s *Service) AddHistoryNote(ctx context.Context, patientID, doctorID uint, nota string) (*HistoryNote, error) {
	nota = strings.TrimSpace(nota)
	if len([]rune(nota)) < 5 {
		return nil, errx.Validation("la nota debe tener al menos 5 caracteres")
	}
	if _, err := s.PatientByID(ctx, patientID); err != nil {
		return nil, err
	}
	h := HistoryNote{PacienteID: patientID, DoctorID: doctorID, Fecha: s.now().UTC(), Nota: nota}
	if err := s.db.WithContext(ctx).Create(&h).Error; err != nil {
		return nil, errx.WrapDB(err)
	}
	return &h, nil
}

func reasonMessage(r Reason) string {
	switch r {
	case ReasonClosedDay:
		return "la clínica no atiende ese día"
	case ReasonOutsideHours:
		return "el horario está fuera del horario de atención"
	case ReasonBusy:
		return "no hay disponibilidad en ese horario"
	case ReasonNoDoctor:
		return "no hay doctores disponibles"
	default:
		return "error del sistema al verificar disponibilidad"
	}
}
