package repository

import (
	"database/sql"
	"fmt"
	"vitals-station/internal/models"

	"go.uber.org/zap"
)

// PendingRepository owns the pending_measurements and pending_cardreader
// queues. Rows are appended by the router and mutated only by the replay
// engine; nothing here ever deletes a non-pending row.
type PendingRepository struct {
	db          *sql.DB
	maxAttempts int
	logger      *zap.Logger
}

// NewPendingRepository creates a pending-work repository.
func NewPendingRepository(db *sql.DB, maxAttempts int, logger *zap.Logger) *PendingRepository {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &PendingRepository{
		db:          db,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// EnqueueMeasurement records a measurement that could not be committed
// remotely. idcard may be empty; a later identification back-fills it.
func (r *PendingRepository) EnqueueMeasurement(idcard, deviceType, value string, measuredAt, lastError *string) error {
	_, err := r.db.Exec(`
		INSERT INTO pending_measurements
			(idcard, device_type, value, measured_at, status, attempt_count, max_attempts, last_error)
		VALUES (?, ?, ?, ?, 'pending', 0, ?, ?)
	`, idcard, deviceType, value, measuredAt, r.maxAttempts, lastError)
	if err != nil {
		return fmt.Errorf("failed to enqueue measurement: %w", err)
	}
	return nil
}

// EnqueueCardTap records an identification event awaiting remote resolution.
func (r *PendingRepository) EnqueueCardTap(idcard string, timestamp *string) error {
	_, err := r.db.Exec(`
		INSERT INTO pending_cardreader (idcard, timestamp, status, attempt_count, max_attempts)
		VALUES (?, ?, 'pending', 0, ?)
	`, idcard, timestamp, r.maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to enqueue card tap: %w", err)
	}
	return nil
}

// PendingIdcards returns the distinct idcards with pending rows in either
// queue. Blank idcards are excluded: they cannot be bound until an
// identification back-fills them.
func (r *PendingRepository) PendingIdcards() ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT idcard FROM pending_cardreader WHERE status = 'pending' AND idcard != ''
		UNION
		SELECT DISTINCT idcard FROM pending_measurements WHERE status = 'pending' AND idcard IS NOT NULL AND idcard != ''
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending idcards: %w", err)
	}
	defer rows.Close()

	var idcards []string
	for rows.Next() {
		var idcard string
		if err := rows.Scan(&idcard); err != nil {
			return nil, fmt.Errorf("failed to scan idcard: %w", err)
		}
		idcards = append(idcards, idcard)
	}

	return idcards, rows.Err()
}

// PendingMeasurements returns the pending rows for an idcard in FIFO order.
func (r *PendingRepository) PendingMeasurements(idcard string) ([]models.PendingMeasurement, error) {
	rows, err := r.db.Query(`
		SELECT id, idcard, device_type, value, measured_at, status, attempt_count, max_attempts, last_error
		FROM pending_measurements
		WHERE idcard = ? AND status = 'pending'
		ORDER BY created_at ASC, id ASC
	`, idcard)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending measurements: %w", err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

// MeasurementsByStatus returns queue rows in a given state, oldest first.
// Read model for operator inspection.
func (r *PendingRepository) MeasurementsByStatus(status string) ([]models.PendingMeasurement, error) {
	rows, err := r.db.Query(`
		SELECT id, idcard, device_type, value, measured_at, status, attempt_count, max_attempts, last_error
		FROM pending_measurements
		WHERE status = ?
		ORDER BY created_at ASC, id ASC
	`, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query measurements: %w", err)
	}
	defer rows.Close()

	return scanMeasurements(rows)
}

func scanMeasurements(rows *sql.Rows) ([]models.PendingMeasurement, error) {
	var items []models.PendingMeasurement
	for rows.Next() {
		var (
			m          models.PendingMeasurement
			idcard     sql.NullString
			value      sql.NullString
			measuredAt sql.NullString
			lastError  sql.NullString
		)
		if err := rows.Scan(
			&m.ID, &idcard, &m.DeviceType, &value, &measuredAt,
			&m.Status, &m.AttemptCount, &m.MaxAttempts, &lastError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan measurement: %w", err)
		}
		m.Idcard = idcard.String
		m.Value = value.String
		if measuredAt.Valid {
			m.MeasuredAt = &measuredAt.String
		}
		if lastError.Valid {
			m.LastError = &lastError.String
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

// RecordMeasurementAttempt stores the outcome of one replay attempt.
// status must be pending, replayed or failed; a successful attempt clears
// the stored error.
func (r *PendingRepository) RecordMeasurementAttempt(id int64, attempt int, status string, lastError *string) error {
	if status == models.StatusReplayed {
		lastError = nil
	}
	_, err := r.db.Exec(`
		UPDATE pending_measurements
		SET status = ?, attempt_count = ?, last_error = ?, updated_at = datetime('now')
		WHERE id = ?
	`, status, attempt, lastError, id)
	if err != nil {
		return fmt.Errorf("failed to record measurement attempt: %w", err)
	}
	return nil
}

// MarkMeasurementSkipped permanently sidelines a row whose device type has
// no visit column. Skipped rows keep their payload and are never retried.
func (r *PendingRepository) MarkMeasurementSkipped(id int64, reason string) error {
	_, err := r.db.Exec(`
		UPDATE pending_measurements
		SET status = 'skipped', last_error = ?, updated_at = datetime('now')
		WHERE id = ?
	`, reason, id)
	if err != nil {
		return fmt.Errorf("failed to mark measurement skipped: %w", err)
	}
	return nil
}

// MarkCardTapsReplayed resolves all pending identification rows for idcard.
func (r *PendingRepository) MarkCardTapsReplayed(idcard string) error {
	_, err := r.db.Exec(`
		UPDATE pending_cardreader
		SET status = 'replayed', updated_at = datetime('now')
		WHERE idcard = ? AND status = 'pending'
	`, idcard)
	if err != nil {
		return fmt.Errorf("failed to mark card taps replayed: %w", err)
	}
	return nil
}

// ReassignBlankMeasurements back-fills idcard-less pending measurements once
// an identification event names the patient. This is the one path on which a
// pending row's association may change.
func (r *PendingRepository) ReassignBlankMeasurements(idcard string) (int64, error) {
	res, err := r.db.Exec(`
		UPDATE pending_measurements
		SET idcard = ?, updated_at = datetime('now')
		WHERE (idcard IS NULL OR idcard = '') AND status = 'pending'
	`, idcard)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign pending measurements: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteAll clears both queues. Part of the hard-reset path only.
func (r *PendingRepository) DeleteAll() error {
	if _, err := r.db.Exec(`DELETE FROM pending_measurements`); err != nil {
		return fmt.Errorf("failed to clear pending measurements: %w", err)
	}
	if _, err := r.db.Exec(`DELETE FROM pending_cardreader`); err != nil {
		return fmt.Errorf("failed to clear pending card taps: %w", err)
	}
	return nil
}
