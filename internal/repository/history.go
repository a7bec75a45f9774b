package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"vitals-station/internal/models"

	"go.uber.org/zap"
)

// HistoryRepository owns the append-only sync_history audit table and the
// raw ingest_log of inbound transport messages.
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a history repository.
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{
		db:     db,
		logger: logger,
	}
}

// Append inserts one audit row. The updated-field list is serialized as JSON.
func (r *HistoryRepository) Append(entry models.SyncHistory) error {
	fields, err := json.Marshal(entry.FieldsUpdated)
	if err != nil {
		return fmt.Errorf("failed to serialize updated fields: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO sync_history (session_id, idcard, visitno, fields_updated, sync_status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, entry.SessionID, entry.Idcard, entry.VisitNo, string(fields), entry.SyncStatus, entry.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to append sync history: %w", err)
	}
	return nil
}

// Record appends an audit row and only logs on failure. Audit writes must
// never fail the reconciliation path they describe.
func (r *HistoryRepository) Record(entry models.SyncHistory) {
	if err := r.Append(entry); err != nil {
		r.logger.Warn("Failed to append sync history",
			zap.String("idcard", entry.Idcard),
			zap.String("status", entry.SyncStatus),
			zap.Error(err),
		)
	}
}

// LogIngest records an inbound transport message. Same never-fail policy.
func (r *HistoryRepository) LogIngest(topic, deviceType, idcard, payload, status string, errorMessage *string) {
	_, err := r.db.Exec(`
		INSERT INTO ingest_log (topic, device_type, idcard, payload, status, error_message)
		VALUES (?, ?, ?, ?, ?, ?)
	`, topic, deviceType, idcard, payload, status, errorMessage)
	if err != nil {
		r.logger.Warn("Failed to log inbound message",
			zap.String("topic", topic),
			zap.Error(err),
		)
	}
}

// Recent returns the newest audit rows, newest first.
func (r *HistoryRepository) Recent(limit int) ([]models.SyncHistory, error) {
	rows, err := r.db.Query(`
		SELECT id, session_id, idcard, visitno, fields_updated, sync_status, error_message, sync_timestamp
		FROM sync_history
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync history: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncHistory
	for rows.Next() {
		var (
			e         models.SyncHistory
			sessionID sql.NullInt64
			idcard    sql.NullString
			visitno   sql.NullInt64
			fields    sql.NullString
			errMsg    sql.NullString
		)
		if err := rows.Scan(&e.ID, &sessionID, &idcard, &visitno, &fields, &e.SyncStatus, &errMsg, &e.SyncTimestamp); err != nil {
			return nil, fmt.Errorf("failed to scan sync history: %w", err)
		}
		if sessionID.Valid {
			e.SessionID = &sessionID.Int64
		}
		e.Idcard = idcard.String
		if visitno.Valid {
			e.VisitNo = &visitno.Int64
		}
		if fields.Valid && fields.String != "" {
			if err := json.Unmarshal([]byte(fields.String), &e.FieldsUpdated); err != nil {
				e.FieldsUpdated = []string{fields.String}
			}
		}
		if errMsg.Valid {
			e.ErrorMessage = &errMsg.String
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// DeleteForIdleSessions removes audit rows owned by sessions idle longer
// than the timeout. Run before the sessions themselves are evicted.
func (r *HistoryRepository) DeleteForIdleSessions(timeoutMinutes int) (int64, error) {
	cutoff := fmt.Sprintf("-%d minutes", timeoutMinutes)
	res, err := r.db.Exec(`
		DELETE FROM sync_history
		WHERE session_id IN (
			SELECT id FROM active_sessions
			WHERE COALESCE(last_update, session_start) < datetime('now', ?)
		)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle session history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteAll clears the audit table. Part of the hard-reset path only.
func (r *HistoryRepository) DeleteAll() error {
	if _, err := r.db.Exec(`DELETE FROM sync_history`); err != nil {
		return fmt.Errorf("failed to clear sync history: %w", err)
	}
	return nil
}
