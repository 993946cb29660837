package clinic

import (
	"context"
	"time"

	errx "github.com/clinic-agent/server/internal/core/error"
	"gorm.io/gorm"
)

// DueReminders returns active appointments starting in [from, to] whose reminder
// has not been sent yet.
func (s *Service) DueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	var out []Appointment
	err := s.db.WithContext(ctx).
		Preload("Doctor").Preload("Paciente").
		Where("fecha_hora_inicio >= ? AND fecha_hora_inicio <= ?", from.UTC(), to.UTC()).
		Where("estado IN ?", []AppointmentStatus{StatusScheduled, StatusConfirmed}).
		Where("recordatorio_enviado = ?", false).
		Order("fecha_hora_inicio ASC").
		Find(&out).Error
	if err != nil {
		return nil, errx.WrapDB(err)
	}
	return out, nil
}

// RecordReminderAttempt bumps the attempt counter. A delivered reminder, or one
// that reached maxAttempts, is marked as sent so it is not retried.
func (s *Service) RecordReminderAttempt(ctx context.Context, id uint, delivered bool, maxAttempts int) (attempts int, err error) {
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var a Appointment
		if err := tx.Select("id", "recordatorio_intentos").First(&a, id).Error; err != nil {
			return err
		}
		attempts = a.RecordatorioIntentos + 1
		updates := map[string]any{"recordatorio_intentos": attempts}
		switch {
		case delivered:
			now := s.now().UTC()
			updates["recordatorio_enviado"] = true
			updates["recordatorio_fecha_envio"] = now
		case attempts >= maxAttempts:
			updates["recordatorio_enviado"] = true
		}
		return tx.Model(&Appointment{}).Where("id = ?", id).Updates(updates).Error
	})
	return attempts, errx.WrapDB(err)
}
