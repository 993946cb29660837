package model

import (
	"time"

	"github.com/clinic-agent/server/internal/clinic"
)

// FlowStage is the receptionist's position in the booking conversation.
type FlowStage string

const (
	StageInitial        FlowStage = "inicial"
	StageAskingName     FlowStage = "solicitando_nombre"
	StageCollecting     FlowStage = "recolectando_slots"
	StageConfirming     FlowStage = "confirmando_cita"
	StageShowingOptions FlowStage = "mostrando_opciones"
	StageCompleted      FlowStage = "completado"
)

// Active reports whether an incoming message belongs to an open flow and
// should skip classification.
func (s FlowStage) Active() bool {
	switch s {
	case StageAskingName, StageCollecting, StageConfirming, StageShowingOptions:
		return true
	}
	return false
}

// FlowState is persisted per thread between messages. At holds minutes after
// midnight of an explicit time, -1 when none was given. AnyTime records that
// the patient has no time preference at all.
type FlowState struct {
	Stage     FlowStage     `json:"estado"`
	PatientID *uint         `json:"paciente_id,omitempty"`
	Date      *time.Time    `json:"fecha,omitempty"`
	Bucket    clinic.Bucket `json:"preferencia,omitempty"`
	At        int           `json:"hora"`
	AnyTime   bool          `json:"cualquier_hora,omitempty"`
	Options   []clinic.Slot `json:"opciones,omitempty"`
	Motivo    string        `json:"motivo,omitempty"`
	UpdatedAt time.Time     `json:"actualizado"`
}

// NewFlow returns an initial flow with no time preference.
func NewFlow() *FlowState {
	return &FlowState{Stage: StageInitial, At: -1}
}

// HasTime reports whether some time preference was collected.
func (f *FlowState) HasTime() bool {
	return f.AnyTime || f.Bucket != clinic.BucketAny || f.At >= 0
}

// ResetPreferences forgets the collected date and time.
func (f *FlowState) ResetPreferences() {
	f.Date = nil
	f.Bucket = clinic.BucketAny
	f.At = -1
	f.AnyTime = false
	f.Options = nil
}

// Preference converts the collected slots into a scheduling preference.
func (f *FlowState) Preference() clinic.Preference {
	return clinic.Preference{Date: f.Date, Bucket: f.Bucket, At: f.At}
}
