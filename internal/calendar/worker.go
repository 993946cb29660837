package calendar

import (
	"context"
	"time"

	errx "github.com/clinic-agent/server/internal/core/error"
	"github.com/clinic-agent/server/internal/metrics"
	logx "github.com/clinic-agent/server/pkg/logger"
)

const retryBatch = 100

// Report counts the outcome of one retry pass.
type Report struct {
	Processed int
	Synced    int
	Failed    int
	Permanent int
}

// RetryOnce processes the queued operations that are due.
func (s *Syncer) RetryOnce(ctx context.Context) (Report, error) {
	var rep Report
	if !s.Enabled() {
		logx.Debug().Msg("calendar disabled, skipping retry pass")
		return rep, nil
	}
	now := s.now().UTC()

	var due []SyncRecord
	err := s.db.WithContext(ctx).
		Where("estado IN ?", []SyncStatus{StatusError, StatusPending, StatusRetrying}).
		Where("siguiente_reintento IS NULL OR siguiente_reintento <= ?", now).
		Where("intentos < max_intentos").
		Order("id ASC").
		Limit(retryBatch).
		Find(&due).Error
	if err != nil {
		return rep, errx.WrapDB(err)
	}

	for _, rec := range due {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Processed++
		if err := s.mark(ctx, rec.ID, map[string]any{"estado": StatusRetrying}); err != nil {
			return rep, err
		}

		attempts := rec.Intentos + 1
		updates := map[string]any{"intentos": attempts, "ultimo_intento": now}
		applyErr := s.apply(ctx, rec.CitaID, rec.Accion)
		switch {
		case applyErr == nil:
			rep.Synced++
			updates["estado"] = StatusSynced
			updates["error_message"] = ""
			updates["siguiente_reintento"] = nil
		case attempts >= rec.MaxIntentos:
			rep.Permanent++
			updates["estado"] = StatusPermanent
			updates["error_message"] = applyErr.Error()
			updates["siguiente_reintento"] = nil
			logx.Error().Err(applyErr).Uint("appointment_id", rec.CitaID).Int("attempts", attempts).Msg("calendar sync gave up")
		default:
			rep.Failed++
			updates["estado"] = StatusError
			updates["error_message"] = applyErr.Error()
			updates["siguiente_reintento"] = now.Add(s.cfg.RetryInterval)
		}
		metrics.CalendarSync.WithLabelValues(string(updates["estado"].(SyncStatus))).Inc()
		if err := s.mark(ctx, rec.ID, updates); err != nil {
			return rep, err
		}
	}

	if rep.Processed > 0 {
		logx.Info().
			Int("processed", rep.Processed).
			Int("synced", rep.Synced).
			Int("failed", rep.Failed).
			Int("permanent", rep.Permanent).
			Msg("calendar retry pass finished")
	}
	return rep, nil
}

func (s *Syncer) mark(ctx context.Context, id uint, updates map[string]any) error {
	return errx.WrapDB(s.db.WithContext(ctx).Model(&SyncRecord{}).Where("id = ?", id).Updates(updates).Error)
}

// RunRetries runs a retry pass every interval until ctx is done.
func (s *Syncer) RunRetries(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = s.cfg.RetryInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logx.Info().Dur("interval", interval).Bool("enabled", s.Enabled()).Msg("calendar retry worker started")
	for {
		select {
		case <-ctx.Done():
			logx.Info().Msg("calendar retry worker stopped")
			return nil
		case <-ticker.C:
			if _, err := s.RetryOnce(ctx); err != nil && ctx.Err() == nil {
				logx.Error().Err(err).Msg("calendar retry pass failed")
			}
		}
	}
}
