package clinic

import (
	"context"
	"time"

	logx "github.com/clinic-agent/server/pkg/logger"
	"gorm.io/gorm"
)

// Reason explains why a doctor cannot take an interval.
type Reason string

const (
	ReasonClosedDay    Reason = "dia_cerrado"
	ReasonNoDoctor     Reason = "doctor_no_existe"
	ReasonOutsideHours Reason = "fuera_de_horario"
	ReasonBusy         Reason = "ocupado"
	ReasonSystemError  Reason = "error_sistema"
)

// Availability is the outcome of CheckAvailability.
type Availability struct {
	Available bool   `json:"disponible"`
	Reason    Reason `json:"razon,omitempty"`
}

// CheckAvailability reports whether doctorID can take [start, end).
func (s *Service) CheckAvailability(ctx context.Context, doctorID uint, start, end time.Time) Availability {
	if r := s.schedule.Check(start, end); r != "" {
		return Availability{Reason: r}
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Doctor{}).Where("id = ? AND activo = ?", doctorID, true).Count(&count).Error; err != nil {
		logx.Error().Err(err).Uint("doctor_id", doctorID).Msg("availability: doctor lookup failed")
		return Availability{Reason: ReasonSystemError}
	}
	if count == 0 {
		return Availability{Reason: ReasonNoDoctor}
	}

	busy, err := hasConflict(s.db.WithContext(ctx), doctorID, start, end, 0)
	if err != nil {
		logx.Error().Err(err).Uint("doctor_id", doctorID).Msg("availability: conflict query failed")
		return Availability{Reason: ReasonSystemError}
	}
	if busy {
		return Availability{Reason: ReasonBusy}
	}
	return Availability{Available: true}
}

// hasConflict reports an overlap with any non-cancelled appointment of the doctor.
// excludeID skips the appointment being moved.
func hasConflict(db *gorm.DB, doctorID uint, start, end time.Time, excludeID uint) (bool, error) {
	q := db.Model(&Appointment{}).
		Where("doctor_id = ?", doctorID).
		Where("estado <> ?", StatusCancelled).
		Where("fecha_hora_inicio < ? AND fecha_hora_fin > ?", end.UTC(), start.UTC())
	if excludeID != 0 {
		q = q.Where("id <> ?", excludeID)
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}
