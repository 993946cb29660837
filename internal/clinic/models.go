package clinic

import "time"

// AppointmentStatus mirrors the estado_cita enum of citas_medicas.
type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "programada"
	StatusConfirmed  AppointmentStatus = "confirmada"
	StatusInProgress AppointmentStatus = "en_curso"
	StatusCompleted  AppointmentStatus = "completada"
	StatusCancelled  AppointmentStatus = "cancelada"
	StatusNoShow     AppointmentStatus = "no_asistio"
)

// Valid reports whether s is a known status.
func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusInProgress, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// ConsultationType is the tipo_consulta of an appointment.
type ConsultationType string

const (
	ConsultFirstVisit ConsultationType = "primera_vez"
	ConsultFollowUp   ConsultationType = "seguimiento"
	ConsultUrgent     ConsultationType = "urgencia"
	ConsultReview     ConsultationType = "revision"
)

func (c ConsultationType) Valid() bool {
	switch c {
	case ConsultFirstVisit, ConsultFollowUp, ConsultUrgent, ConsultReview:
		return true
	}
	return false
}

type Doctor struct {
	ID                  uint   `gorm:"primaryKey"`
	PhoneNumber         string `gorm:"column:phone_number;size:30;uniqueIndex;not null"`
	NombreCompleto      string `gorm:"column:nombre_completo;size:200;not null"`
	Especialidad        string `gorm:"column:especialidad;size:100"`
	OrdenTurno          int    `gorm:"column:orden_turno;not null;default:1"`
	TotalCitasAsignadas int    `gorm:"column:total_citas_asignadas;not null;default:0"`
	Activo              bool   `gorm:"column:activo;not null;default:true"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (Doctor) TableName() string { return "doctores" }

type Patient struct {
	ID              uint       `gorm:"primaryKey"`
	DoctorID        *uint      `gorm:"column:doctor_id;index"`
	NombreCompleto  string     `gorm:"column:nombre_completo;size:200;not null"`
	Telefono        string     `gorm:"column:telefono;size:30;uniqueIndex;not null"`
	Email           string     `gorm:"column:email;size:200"`
	FechaNacimiento *time.Time `gorm:"column:fecha_nacimiento"`
	Alergias        string     `gorm:"column:alergias"`
	UltimaCita      *time.Time `gorm:"column:ultima_cita"`
	Activo          bool       `gorm:"column:activo;not null;default:true"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (Patient) TableName() string { return "pacientes" }

type Appointment struct {
	ID                     uint              `gorm:"primaryKey"`
	DoctorID               uint              `gorm:"column:doctor_id;not null;index"`
	PacienteID             uint              `gorm:"column:paciente_id;not null;index"`
	FechaHoraInicio        time.Time         `gorm:"column:fecha_hora_inicio;not null;index"`
	FechaHoraFin           time.Time         `gorm:"column:fecha_hora_fin;not null"`
	TipoConsulta           ConsultationType  `gorm:"column:tipo_consulta;size:20;not null;default:seguimiento"`
	Estado                 AppointmentStatus `gorm:"column:estado;size:20;not null;default:programada;index"`
	MotivoConsulta         string            `gorm:"column:motivo_consulta"`
	NotasPrivadas          string            `gorm:"column:notas_privadas"`
	MotivoCancelacion      string            `gorm:"column:motivo_cancelacion"`
	GoogleEventID          string            `gorm:"column:google_event_id;size:255"`
	SincronizadaGoogle     bool              `gorm:"column:sincronizada_google;not null;default:false"`
	RecordatorioEnviado    bool              `gorm:"column:recordatorio_enviado;not null;default:false"`
	RecordatorioFechaEnvio *time.Time        `gorm:"column:recordatorio_fecha_envio"`
	RecordatorioIntentos   int               `gorm:"column:recordatorio_intentos;not null;default:0"`
	CreatedAt              time.Time
	UpdatedAt              time.Time

	Doctor   *Doctor  `gorm:"foreignKey:DoctorID"`
	Paciente *Patient `gorm:"foreignKey:PacienteID"`
}

func (Appointment) TableName() string { return "citas_medicas" }

// Duration of the appointment.
func (a Appointment) Duration() time.Duration {
	return a.FechaHoraFin.Sub(a.FechaHoraInicio)
}

type HistoryNote struct {
	ID         uint      `gorm:"primaryKey"`
	PacienteID uint      `gorm:"column:paciente_id;not null;index"`
	DoctorID   uint      `gorm:"column:doctor_id;not null"`
	Fecha      time.Time `gorm:"column:fecha;not null"`
	Nota       string    `gorm:"column:nota;not null"`
}

func (HistoryNote) TableName() string { return "historiales_medicos" }

// TurnControl is the single-row table that remembers which doctor got the last appointment.
type TurnControl struct {
	ID                  uint      `gorm:"primaryKey"`
	UltimoDoctorID      *uint     `gorm:"column:ultimo_doctor_id"`
	CitasDesdeReset     int       `gorm:"column:citas_desde_reset;not null;default:0"`
	UltimaActualizacion time.Time `gorm:"column:ultima_actualizacion"`
}

func (TurnControl) TableName() string { return "control_turnos" }

// Models lists every table owned by this package, in dependency order.
func Models() []any {
	return []any{&Doctor{}, &Patient{}, &Appointment{}, &HistoryNote{}, &TurnControl{}}
}
