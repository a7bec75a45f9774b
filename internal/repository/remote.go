package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"vitals-station/internal/models"

	"go.uber.org/zap"
)

// ErrPersonNotFound means the idcard has no person row in the remote store.
var ErrPersonNotFound = errors.New("person not found")

// ErrVisitNotFoundToday means the person exists but has no visit opened for
// the current day. Recoverable: the visit may appear later.
var ErrVisitNotFoundToday = errors.New("no visit found for today")

// visitColumns are the remote visit columns a measurement may target.
var visitColumns = map[string]bool{
	"weight":      true,
	"height":      true,
	"pressure":    true,
	"pressure2":   true,
	"temperature": true,
	"pulse":       true,
}

// RemoteVisitRepository reads person/visit rows from the remote store and
// applies measurement updates to the current day's visit. Every write is a
// targeted UPDATE on the visit natural key, so re-applying the same value
// is a no-op in effect.
type RemoteVisitRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRemoteVisitRepository creates a remote visit repository.
func NewRemoteVisitRepository(db *sql.DB, logger *zap.Logger) *RemoteVisitRepository {
	return &RemoteVisitRepository{
		db:     db,
		logger: logger,
	}
}

// FindPerson looks up a person by idcard.
func (r *RemoteVisitRepository) FindPerson(ctx context.Context, idcard string) (*models.Person, error) {
	var person models.Person
	err := r.db.QueryRowContext(ctx, `
		SELECT pid, pcucodeperson FROM person WHERE idcard = $1
	`, idcard).Scan(&person.PID, &person.PcuCodePerson)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrPersonNotFound
		}
		return nil, fmt.Errorf("failed to query person: %w", err)
	}
	return &person, nil
}

// FindTodayVisit returns the current day's visit for a person, highest visit
// number first.
func (r *RemoteVisitRepository) FindTodayVisit(ctx context.Context, person *models.Person) (*models.Visit, error) {
	var visit models.Visit
	err := r.db.QueryRowContext(ctx, `
		SELECT pcucode, visitno, visitdate
		FROM visit
		WHERE pcucodeperson = $1 AND pid = $2 AND visitdate = CURRENT_DATE
		ORDER BY visitno DESC
		LIMIT 1
	`, person.PcuCodePerson, person.PID).Scan(&visit.PcuCode, &visit.VisitNo, &visit.VisitDate)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrVisitNotFoundToday
		}
		return nil, fmt.Errorf("failed to query visit: %w", err)
	}
	return &visit, nil
}

// ResolveBloodPressureColumn picks the visit column for a blood-pressure
// reading: the second slot when the first already holds a value, supporting
// two readings per visit-day. Probe failures fall back to the first slot;
// the subsequent update carries the real error.
func (r *RemoteVisitRepository) ResolveBloodPressureColumn(ctx context.Context, pcucode string, visitno int64) (string, error) {
	var pressure, pressure2 sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT pressure, pressure2
		FROM visit
		WHERE pcucode = $1 AND visitno = $2 AND visitdate = CURRENT_DATE
		LIMIT 1
	`, pcucode, visitno).Scan(&pressure, &pressure2)
	if err != nil {
		return "pressure", nil
	}

	if pressure.Valid && strings.TrimSpace(pressure.String) != "" {
		return "pressure2", nil
	}
	return "pressure", nil
}

// UpdateVisitField writes one measurement into the current day's visit row.
func (r *RemoteVisitRepository) UpdateVisitField(ctx context.Context, pcucode string, visitno int64, column, value string) error {
	if !visitColumns[column] {
		return fmt.Errorf("unknown visit column: %s", column)
	}

	query := fmt.Sprintf(`
		UPDATE visit SET %s = $1, dateupdate = NOW()
		WHERE pcucode = $2 AND visitno = $3 AND visitdate = CURRENT_DATE
	`, column)
	if _, err := r.db.ExecContext(ctx, query, value, pcucode, visitno); err != nil {
		return fmt.Errorf("failed to update visit %s: %w", column, err)
	}
	return nil
}
