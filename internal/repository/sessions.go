package repository

import (
	"database/sql"
	"fmt"
	"vitals-station/internal/database"
	"vitals-station/internal/models"

	"go.uber.org/zap"
)

// sessionFields are the measurement columns a device reading may target.
var sessionFields = map[string]bool{
	"weight":      true,
	"height":      true,
	"pressure":    true,
	"temperature": true,
	"pulse":       true,
}

// SessionRepository owns the active_sessions table.
type SessionRepository struct {
	db     *sql.DB
	caps   database.Capabilities
	logger *zap.Logger
}

// NewSessionRepository creates a session repository.
func NewSessionRepository(db *sql.DB, caps database.Capabilities, logger *zap.Logger) *SessionRepository {
	return &SessionRepository{
		db:     db,
		caps:   caps,
		logger: logger,
	}
}

const sessionColumns = `id, idcard, pid, pcucode, pcucodeperson, visitno, visitdate,
	weight, height, pressure, temperature, pulse, is_temp, session_start, last_update`

// placeholderWhere matches rows with no bound identity. The is_temp column
// is optional in older local stores; the capability probe at open decides
// which predicate applies.
func (r *SessionRepository) placeholderWhere() string {
	if r.caps.HasTempFlag {
		return `(is_temp = 1 OR idcard IS NULL OR idcard = '')`
	}
	return `(idcard IS NULL OR idcard = '')`
}

func scanSession(row *sql.Row) (*models.ActiveSession, error) {
	var (
		s             models.ActiveSession
		idcard        sql.NullString
		pid           sql.NullInt64
		pcucode       sql.NullString
		pcucodeperson sql.NullString
		visitno       sql.NullInt64
		visitdate     sql.NullString
		weight        sql.NullString
		height        sql.NullString
		pressure      sql.NullString
		temperature   sql.NullString
		pulse         sql.NullString
		isTemp        sql.NullInt64
		lastUpdate    sql.NullString
	)

	err := row.Scan(
		&s.ID, &idcard, &pid, &pcucode, &pcucodeperson, &visitno, &visitdate,
		&weight, &height, &pressure, &temperature, &pulse, &isTemp,
		&s.SessionStart, &lastUpdate,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	s.Idcard = idcard.String
	if pid.Valid {
		s.PID = &pid.Int64
	}
	if pcucode.Valid {
		s.PcuCode = &pcucode.String
	}
	if pcucodeperson.Valid {
		s.PcuCodePerson = &pcucodeperson.String
	}
	if visitno.Valid {
		s.VisitNo = &visitno.Int64
	}
	if visitdate.Valid {
		s.VisitDate = &visitdate.String
	}
	if weight.Valid {
		s.Weight = &weight.String
	}
	if height.Valid {
		s.Height = &height.String
	}
	if pressure.Valid {
		s.Pressure = &pressure.String
	}
	if temperature.Valid {
		s.Temperature = &temperature.String
	}
	if pulse.Valid {
		s.Pulse = &pulse.String
	}
	s.IsTemp = isTemp.Int64 != 0
	if lastUpdate.Valid {
		s.LastUpdate = &lastUpdate.String
	}

	return &s, nil
}

// Current returns the most recently updated session, or nil when the store
// is empty.
func (r *SessionRepository) Current() (*models.ActiveSession, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM active_sessions
		ORDER BY COALESCE(last_update, session_start) DESC, id DESC
		LIMIT 1
	`, sessionColumns)

	return scanSession(r.db.QueryRow(query))
}

// GetByIdcard returns the session bound to idcard, or nil.
func (r *SessionRepository) GetByIdcard(idcard string) (*models.ActiveSession, error) {
	query := fmt.Sprintf(`SELECT %s FROM active_sessions WHERE idcard = ? LIMIT 1`, sessionColumns)
	return scanSession(r.db.QueryRow(query, idcard))
}

// FindReusable locates the row a new identity should bind into: an explicit
// placeholder first, falling back to the most recently updated row.
func (r *SessionRepository) FindReusable() (*models.ActiveSession, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM active_sessions
		WHERE %s
		ORDER BY COALESCE(last_update, session_start) DESC, id DESC
		LIMIT 1
	`, sessionColumns, r.placeholderWhere())

	s, err := scanSession(r.db.QueryRow(query))
	if err != nil {
		return nil, err
	}
	if s != nil {
		return s, nil
	}

	return r.Current()
}

// InsertPlaceholder inserts a fresh unbound session and returns its id.
func (r *SessionRepository) InsertPlaceholder() (int64, error) {
	res, err := r.db.Exec(`
		INSERT INTO active_sessions (idcard, session_start, last_update, is_temp)
		VALUES (NULL, datetime('now'), datetime('now'), 1)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to insert placeholder session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read placeholder session id: %w", err)
	}
	return id, nil
}

// InsertBound inserts a session already carrying an identity. person and
// visit may be nil for a local-only bind.
func (r *SessionRepository) InsertBound(idcard string, person *models.Person, visit *models.Visit) (int64, error) {
	var (
		pid           interface{}
		pcucodeperson interface{}
		pcucode       interface{}
		visitno       interface{}
		visitdate     interface{}
	)
	if person != nil {
		pid = person.PID
		pcucodeperson = person.PcuCodePerson
	}
	if visit != nil {
		pcucode = visit.PcuCode
		visitno = visit.VisitNo
		visitdate = visit.VisitDate
	}

	res, err := r.db.Exec(`
		INSERT INTO active_sessions
			(idcard, pid, pcucode, pcucodeperson, visitno, visitdate, session_start, last_update, is_temp)
		VALUES (?, ?, ?, ?, ?, ?, datetime('now'), datetime('now'), 0)
	`, idcard, pid, pcucode, pcucodeperson, visitno, visitdate)
	if err != nil {
		return 0, fmt.Errorf("failed to insert session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read session id: %w", err)
	}
	return id, nil
}

// Rebind overwrites the identity of an existing row. Measurement values are
// cleared unless keepMeasurements is set; identity fields are always
// overwritten and the session clock restarts.
func (r *SessionRepository) Rebind(id int64, idcard string, person *models.Person, visit *models.Visit, keepMeasurements bool) error {
	var (
		pid           interface{}
		pcucodeperson interface{}
		pcucode       interface{}
		visitno       interface{}
		visitdate     interface{}
	)
	if person != nil {
		pid = person.PID
		pcucodeperson = person.PcuCodePerson
	}
	if visit != nil {
		pcucode = visit.PcuCode
		visitno = visit.VisitNo
		visitdate = visit.VisitDate
	}

	clear := ""
	if !keepMeasurements {
		clear = `weight = NULL, height = NULL, pressure = NULL, temperature = NULL, pulse = NULL,`
	}

	query := fmt.Sprintf(`
		UPDATE active_sessions
		SET idcard = ?, pid = ?, pcucode = ?, pcucodeperson = ?, visitno = ?, visitdate = ?,
			%s
			is_temp = 0, session_start = datetime('now'), last_update = datetime('now')
		WHERE id = ?
	`, clear)

	if _, err := r.db.Exec(query, idcard, pid, pcucode, pcucodeperson, visitno, visitdate, id); err != nil {
		return fmt.Errorf("failed to rebind session: %w", err)
	}
	return nil
}

// RefreshIdentity updates person/visit metadata in place without touching
// measurement values or the session start. Used when the same idcard is
// scanned again.
func (r *SessionRepository) RefreshIdentity(id int64, person *models.Person, visit *models.Visit) error {
	var (
		pid           interface{}
		pcucodeperson interface{}
		pcucode       interface{}
		visitno       interface{}
		visitdate     interface{}
	)
	if person != nil {
		pid = person.PID
		pcucodeperson = person.PcuCodePerson
	}
	if visit != nil {
		pcucode = visit.PcuCode
		visitno = visit.VisitNo
		visitdate = visit.VisitDate
	}

	_, err := r.db.Exec(`
		UPDATE active_sessions
		SET pid = ?, pcucode = ?, pcucodeperson = ?, visitno = ?, visitdate = ?,
			is_temp = 0, last_update = datetime('now')
		WHERE id = ?
	`, pid, pcucode, pcucodeperson, visitno, visitdate, id)
	if err != nil {
		return fmt.Errorf("failed to refresh session identity: %w", err)
	}
	return nil
}

// Touch marks a session bound and bumps its recency.
func (r *SessionRepository) Touch(id int64) error {
	if _, err := r.db.Exec(`
		UPDATE active_sessions SET is_temp = 0, last_update = datetime('now') WHERE id = ?
	`, id); err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// SetField writes a measurement value into a session row. field must be one
// of the known measurement columns.
func (r *SessionRepository) SetField(id int64, field string, value string) error {
	if !sessionFields[field] {
		return fmt.Errorf("unknown session field: %s", field)
	}

	query := fmt.Sprintf(`
		UPDATE active_sessions SET %s = ?, last_update = datetime('now') WHERE id = ?
	`, field)
	if _, err := r.db.Exec(query, value, id); err != nil {
		return fmt.Errorf("failed to set session field %s: %w", field, err)
	}
	return nil
}

// DeleteOthersWithIdcard removes any other row holding the same idcard, so
// a rebind never leaves a duplicate bound session behind.
func (r *SessionRepository) DeleteOthersWithIdcard(idcard string, keepID int64) error {
	if _, err := r.db.Exec(`DELETE FROM active_sessions WHERE idcard = ? AND id != ?`, idcard, keepID); err != nil {
		return fmt.Errorf("failed to delete duplicate sessions: %w", err)
	}
	return nil
}

// DeleteOtherPlaceholders removes unbound rows other than keepID.
func (r *SessionRepository) DeleteOtherPlaceholders(keepID int64) error {
	query := fmt.Sprintf(`DELETE FROM active_sessions WHERE %s AND id != ?`, r.placeholderWhere())
	if _, err := r.db.Exec(query, keepID); err != nil {
		return fmt.Errorf("failed to delete placeholder sessions: %w", err)
	}
	return nil
}

// DeleteAll clears the session table. Part of the hard-reset path.
func (r *SessionRepository) DeleteAll() error {
	if _, err := r.db.Exec(`DELETE FROM active_sessions`); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	return nil
}

// DeleteIdle removes sessions whose last activity is older than the timeout.
func (r *SessionRepository) DeleteIdle(timeoutMinutes int) (int64, error) {
	cutoff := fmt.Sprintf("-%d minutes", timeoutMinutes)
	res, err := r.db.Exec(`
		DELETE FROM active_sessions
		WHERE COALESCE(last_update, session_start) < datetime('now', ?)
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete idle sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Count returns the number of session rows.
func (r *SessionRepository) Count() (int64, error) {
	var n int64
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM active_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// All returns every session row, most recent first. Read model for the UI.
func (r *SessionRepository) All() ([]models.ActiveSession, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM active_sessions
		ORDER BY COALESCE(last_update, session_start) DESC, id DESC
	`, sessionColumns)

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.ActiveSession
	for rows.Next() {
		var (
			s             models.ActiveSession
			idcard        sql.NullString
			pid           sql.NullInt64
			pcucode       sql.NullString
			pcucodeperson sql.NullString
			visitno       sql.NullInt64
			visitdate     sql.NullString
			weight        sql.NullString
			height        sql.NullString
			pressure      sql.NullString
			temperature   sql.NullString
			pulse         sql.NullString
			isTemp        sql.NullInt64
			lastUpdate    sql.NullString
		)
		if err := rows.Scan(
			&s.ID, &idcard, &pid, &pcucode, &pcucodeperson, &visitno, &visitdate,
			&weight, &height, &pressure, &temperature, &pulse, &isTemp,
			&s.SessionStart, &lastUpdate,
		); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Idcard = idcard.String
		if pid.Valid {
			s.PID = &pid.Int64
		}
		if pcucode.Valid {
			s.PcuCode = &pcucode.String
		}
		if pcucodeperson.Valid {
			s.PcuCodePerson = &pcucodeperson.String
		}
		if visitno.Valid {
			s.VisitNo = &visitno.Int64
		}
		if visitdate.Valid {
			s.VisitDate = &visitdate.String
		}
		if weight.Valid {
			s.Weight = &weight.String
		}
		if height.Valid {
			s.Height = &height.String
		}
		if pressure.Valid {
			s.Pressure = &pressure.String
		}
		if temperature.Valid {
			s.Temperature = &temperature.String
		}
		if pulse.Valid {
			s.Pulse = &pulse.String
		}
		s.IsTemp = isTemp.Int64 != 0
		if lastUpdate.Valid {
			s.LastUpdate = &lastUpdate.String
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}
