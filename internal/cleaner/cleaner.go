package cleaner

import (
	"vitals-station/internal/repository"

	"go.uber.org/zap"
)

// Cleaner evicts idle sessions and their audit trail on a schedule. Pending
// queues are never touched: queued remote writes must survive session
// eviction.
type Cleaner struct {
	sessions *repository.SessionRepository
	history  *repository.HistoryRepository
	logger   *zap.Logger
}

// NewCleaner creates a session cleaner.
func NewCleaner(sessions *repository.SessionRepository, history *repository.HistoryRepository, logger *zap.Logger) *Cleaner {
	return &Cleaner{
		sessions: sessions,
		history:  history,
		logger:   logger,
	}
}

// Sweep deletes audit rows of sessions idle longer than the timeout, then
// the sessions themselves. When nothing remains, one fresh placeholder is
// inserted so the station returns to a clean waiting state. Idempotent.
func (c *Cleaner) Sweep(idleTimeoutMinutes int) error {
	historyDeleted, err := c.history.DeleteForIdleSessions(idleTimeoutMinutes)
	if err != nil {
		return err
	}

	sessionsDeleted, err := c.sessions.DeleteIdle(idleTimeoutMinutes)
	if err != nil {
		return err
	}

	count, err := c.sessions.Count()
	if err != nil {
		return err
	}
	if count == 0 {
		if _, err := c.sessions.InsertPlaceholder(); err != nil {
			return err
		}
	}

	if historyDeleted > 0 || sessionsDeleted > 0 {
		c.logger.Info("Swept idle sessions",
			zap.Int64("sessions_deleted", sessionsDeleted),
			zap.Int64("history_deleted", historyDeleted),
			zap.Int("idle_timeout_minutes", idleTimeoutMinutes),
		)
	}

	return nil
}
