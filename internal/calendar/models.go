// Package calendar mirrors clinic appointments to Google Calendar. The
// database stays the source of truth: a failed mirror is queued and retried.
package calendar

import "time"

type SyncStatus string

const (
	StatusPending   SyncStatus = "pendiente"
	StatusSynced    SyncStatus = "sincronizada"
	StatusError     SyncStatus = "error"
	StatusRetrying  SyncStatus = "reintentando"
	StatusPermanent SyncStatus = "error_permanente"
)

// SyncRecord is one queued calendar operation.
type SyncRecord struct {
	ID                 uint       `gorm:"primaryKey"`
	CitaID             uint       `gorm:"column:cita_id;not null;index"`
	Accion             string     `gorm:"column:accion;size:20;not null"`
	GoogleEventID      string     `gorm:"column:google_event_id;size:255"`
	Estado             SyncStatus `gorm:"column:estado;size:20;not null;default:pendiente;index"`
	UltimoIntento      *time.Time `gorm:"column:ultimo_intento"`
	SiguienteReintento *time.Time `gorm:"column:siguiente_reintento;index"`
	Intentos           int        `gorm:"column:intentos;not null;default:0"`
	MaxIntentos        int        `gorm:"column:max_intentos;not null;default:5"`
	ErrorMessage       string     `gorm:"column:error_message"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (SyncRecord) TableName() string { return "sincronizacion_calendar" }
