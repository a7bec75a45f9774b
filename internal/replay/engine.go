package replay

import (
	"context"
	"vitals-station/internal/models"
	"vitals-station/internal/notify"
	"vitals-station/internal/repository"
	"vitals-station/internal/router"
	"vitals-station/internal/session"

	"go.uber.org/zap"
)

// Engine replays durably queued work against the remote store. It is the
// sole mechanism for eventual consistency: safe to invoke at any time, and
// it makes forward progress even when the remote store stays down. Bounded
// attempts stop retry storms without discarding data.
type Engine struct {
	sessions *repository.SessionRepository
	pending  *repository.PendingRepository
	history  *repository.HistoryRepository
	visits   router.VisitWriter
	manager  *session.Manager
	remoteUp router.Connectivity
	notifier notify.Notifier
	logger   *zap.Logger
}

// NewEngine creates a replay engine.
func NewEngine(
	sessions *repository.SessionRepository,
	pending *repository.PendingRepository,
	history *repository.HistoryRepository,
	visits router.VisitWriter,
	manager *session.Manager,
	remoteUp router.Connectivity,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		sessions: sessions,
		pending:  pending,
		history:  history,
		visits:   visits,
		manager:  manager,
		remoteUp: remoteUp,
		notifier: notifier,
		logger:   logger,
	}
}

// ReplayAll runs one replay pass over every idcard with pending work.
func (e *Engine) ReplayAll(ctx context.Context) error {
	idcards, err := e.pending.PendingIdcards()
	if err != nil {
		return err
	}
	if len(idcards) == 0 {
		return nil
	}

	if !e.remoteUp.Connected() {
		e.logger.Debug("Skipping replay pass, remote store down",
			zap.Int("pending_idcards", len(idcards)),
		)
		return nil
	}

	e.logger.Info("Starting replay pass", zap.Int("pending_idcards", len(idcards)))

	for _, idcard := range idcards {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		result, err := e.manager.Bind(ctx, idcard)
		if err != nil {
			// Person still unknown or remote flaked mid-pass; the rows
			// stay pending for the next pass.
			e.logger.Debug("Replay bind failed", zap.String("idcard", idcard), zap.Error(err))
			continue
		}
		if result.PendingVisit {
			continue
		}

		if err := e.pending.MarkCardTapsReplayed(idcard); err != nil {
			e.logger.Error("Failed to resolve pending card taps", zap.String("idcard", idcard), zap.Error(err))
		}

		if err := e.ReplayIdcard(ctx, idcard); err != nil {
			e.logger.Error("Replay failed for idcard", zap.String("idcard", idcard), zap.Error(err))
		}
	}

	return nil
}

// ReplayIdcard replays all pending measurements for one idcard in FIFO
// order using the current session's visit key. Each attempt is bounded by
// the row's max_attempts; rows that exhaust their budget are marked failed
// and kept for operator inspection.
func (e *Engine) ReplayIdcard(ctx context.Context, idcard string) error {
	sess, err := e.sessions.GetByIdcard(idcard)
	if err != nil {
		return err
	}
	if sess == nil || !sess.HasVisit() {
		return nil
	}

	items, err := e.pending.PendingMeasurements(idcard)
	if err != nil {
		return err
	}

	for _, item := range items {
		field, supported := router.FieldForDevice(item.DeviceType)
		if !supported {
			if err := e.pending.MarkMeasurementSkipped(item.ID, "device type has no visit column"); err != nil {
				e.logger.Error("Failed to mark measurement skipped", zap.Int64("id", item.ID), zap.Error(err))
			}
			e.history.Record(models.SyncHistory{
				SessionID:     &sess.ID,
				Idcard:        idcard,
				VisitNo:       sess.VisitNo,
				FieldsUpdated: []string{item.DeviceType},
				SyncStatus:    models.SyncSkipped,
				ErrorMessage:  strPtr("unsupported device type"),
			})
			continue
		}

		column := field
		if router.IsBloodPressure(item.DeviceType) {
			column, _ = e.visits.ResolveBloodPressureColumn(ctx, *sess.PcuCode, *sess.VisitNo)
		}

		attempt := item.AttemptCount + 1
		writeErr := e.visits.UpdateVisitField(ctx, *sess.PcuCode, *sess.VisitNo, column, item.Value)

		if writeErr == nil {
			if err := e.pending.RecordMeasurementAttempt(item.ID, attempt, models.StatusReplayed, nil); err != nil {
				e.logger.Error("Failed to mark measurement replayed", zap.Int64("id", item.ID), zap.Error(err))
			}
			e.history.Record(models.SyncHistory{
				SessionID:     &sess.ID,
				Idcard:        idcard,
				VisitNo:       sess.VisitNo,
				FieldsUpdated: []string{column},
				SyncStatus:    models.SyncReplaySuccess,
			})
			if err := e.sessions.SetField(sess.ID, field, item.Value); err != nil {
				e.logger.Error("Failed to echo replayed value", zap.String("field", field), zap.Error(err))
			}
			e.notifier.SessionUpdated(ctx, idcard, field)
			e.notifier.DataUpdated(ctx, idcard, field, item.Value)
			e.logger.Info("Replayed measurement",
				zap.String("idcard", idcard),
				zap.String("column", column),
				zap.Int("attempt", attempt),
			)
			continue
		}

		status := models.StatusPending
		syncStatus := models.SyncReplayPending
		if attempt >= item.MaxAttempts {
			status = models.StatusFailed
			syncStatus = models.SyncReplayFailed
		}
		message := writeErr.Error()
		if err := e.pending.RecordMeasurementAttempt(item.ID, attempt, status, &message); err != nil {
			e.logger.Error("Failed to record replay attempt", zap.Int64("id", item.ID), zap.Error(err))
		}
		e.history.Record(models.SyncHistory{
			SessionID:     &sess.ID,
			Idcard:        idcard,
			VisitNo:       sess.VisitNo,
			FieldsUpdated: []string{column},
			SyncStatus:    syncStatus,
			ErrorMessage:  &message,
		})
		e.logger.Warn("Replay attempt failed",
			zap.String("idcard", idcard),
			zap.String("column", column),
			zap.Int("attempt", attempt),
			zap.String("status", status),
			zap.Error(writeErr),
		)
	}

	return nil
}

func strPtr(s string) *string {
	return &s
}
