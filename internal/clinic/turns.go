package clinic

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const turnControlID = 1

// activeDoctors returns doctors in turn order.
func activeDoctors(db *gorm.DB) ([]Doctor, error) {
	var doctors []Doctor
	err := db.Where("activo = ?", true).Order("orden_turno ASC, id ASC").Find(&doctors).Error
	return doctors, err
}

// rotate orders doctors so that the one after last comes first. With no
// previous assignment the turn order is kept.
func rotate(doctors []Doctor, last *uint) []Doctor {
	if last == nil || len(doctors) < 2 {
		return doctors
	}
	idx := -1
	for i, d := range doctors {
		if d.ID == *last {
			idx = i
			break
		}
	}
	if idx < 0 {
		return doctors
	}
	out := make([]Doctor, 0, len(doctors))
	out = append(out, doctors[idx+1:]...)
	out = append(out, doctors[:idx+1]...)
	return out
}

func lastAssigned(db *gorm.DB, lock bool) (*uint, error) {
	var tc TurnControl
	q := db
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := q.Where("id = ?", turnControlID).Limit(1).Find(&tc).Error
	if err != nil {
		return nil, err
	}
	if tc.ID == 0 {
		return nil, nil
	}
	return tc.UltimoDoctorID, nil
}

// TurnOrder returns the active doctors starting with whoever takes the next appointment.
func (s *Service) TurnOrder(ctx context.Context) ([]Doctor, error) {
	db := s.db.WithContext(ctx)
	doctors, err := activeDoctors(db)
	if err != nil {
		return nil, err
	}
	last, err := lastAssigned(db, false)
	if err != nil {
		return nil, err
	}
	return rotate(doctors, last), nil
}

func recordAssignment(tx *gorm.DB, doctorID uint, now time.Time) error {
	tc := TurnControl{ID: turnControlID, UltimoDoctorID: &doctorID, CitasDesdeReset: 1, UltimaActualizacion: now.UTC()}
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]any{
			"ultimo_doctor_id":     doctorID,
			"citas_desde_reset":    gorm.Expr("control_turnos.citas_desde_reset + 1"),
			"ultima_actualizacion": now.UTC(),
		}),
	}).Create(&tc).Error
	if err != nil {
		return err
	}
	return tx.Model(&Doctor{}).Where("id = ?", doctorID).
		UpdateColumn("total_citas_asignadas", gorm.Expr("total_citas_asignadas + 1")).Error
}
