package session

import (
	"context"
	"errors"
	"fmt"
	"vitals-station/internal/models"
	"vitals-station/internal/repository"

	"go.uber.org/zap"
)

// RemoteDirectory is the slice of the remote store the manager needs to
// resolve an identity. The remote store is a capability that may fail with
// connectivity errors at any time.
type RemoteDirectory interface {
	FindPerson(ctx context.Context, idcard string) (*models.Person, error)
	FindTodayVisit(ctx context.Context, person *models.Person) (*models.Visit, error)
}

// BindResult reports the outcome of binding an idcard to the local session.
type BindResult struct {
	SessionID int64
	Person    *models.Person
	Visit     *models.Visit
	// PendingVisit means the identity resolved but no visit exists for
	// today. Recoverable: the caller queues the event for replay.
	PendingVisit bool
}

// Manager resolves "who is the active patient" and binds the local session
// row against remote person/visit lookups. It holds no state beyond its
// dependencies; session rows are borrowed by query, never cached.
type Manager struct {
	sessions *repository.SessionRepository
	remote   RemoteDirectory
	logger   *zap.Logger
}

// NewManager creates a session manager.
func NewManager(sessions *repository.SessionRepository, remote RemoteDirectory, logger *zap.Logger) *Manager {
	return &Manager{
		sessions: sessions,
		remote:   remote,
		logger:   logger,
	}
}

// ResolveIdentity looks up the person for an idcard and the current day's
// visit. A missing visit is reported as a nil visit, not an error; a missing
// person and connectivity failures surface as errors.
func (m *Manager) ResolveIdentity(ctx context.Context, idcard string) (*models.Person, *models.Visit, error) {
	person, err := m.remote.FindPerson(ctx, idcard)
	if err != nil {
		return nil, nil, err
	}

	visit, err := m.remote.FindTodayVisit(ctx, person)
	if err != nil {
		if errors.Is(err, repository.ErrVisitNotFoundToday) {
			return person, nil, nil
		}
		return nil, nil, err
	}

	return person, visit, nil
}

// Bind binds an idcard to the local session. Idempotent: a repeated scan of
// the already-bound idcard refreshes remote metadata in place without
// clearing captured vitals. Otherwise the reusable row is rebound, or a new
// row inserted when the store is empty.
func (m *Manager) Bind(ctx context.Context, idcard string) (*BindResult, error) {
	idcard = NormalizeIdcard(idcard)
	if idcard == "" {
		return nil, fmt.Errorf("cannot bind empty idcard")
	}

	person, visit, err := m.ResolveIdentity(ctx, idcard)
	if err != nil {
		return nil, err
	}

	current, err := m.sessions.Current()
	if err != nil {
		return nil, err
	}
	if current != nil && KindOf(current) == KindBound && NormalizeIdcard(current.Idcard) == idcard {
		if err := m.sessions.RefreshIdentity(current.ID, person, visit); err != nil {
			return nil, err
		}
		return &BindResult{
			SessionID:    current.ID,
			Person:       person,
			Visit:        visit,
			PendingVisit: visit == nil,
		}, nil
	}

	reuse, err := m.sessions.FindReusable()
	if err != nil {
		return nil, err
	}

	var sessionID int64
	if reuse != nil {
		if err := m.sessions.DeleteOthersWithIdcard(idcard, reuse.ID); err != nil {
			return nil, err
		}
		keep := KeepMeasurements(reuse, idcard)
		if err := m.sessions.Rebind(reuse.ID, idcard, person, visit, keep); err != nil {
			return nil, err
		}
		sessionID = reuse.ID
	} else {
		sessionID, err = m.sessions.InsertBound(idcard, person, visit)
		if err != nil {
			return nil, err
		}
	}

	m.logger.Info("Session bound",
		zap.String("idcard", idcard),
		zap.Int64("session_id", sessionID),
		zap.Bool("pending_visit", visit == nil),
	)

	return &BindResult{
		SessionID:    sessionID,
		Person:       person,
		Visit:        visit,
		PendingVisit: visit == nil,
	}, nil
}

// BindLocalOnly applies the same reuse and preserve rules with no remote
// lookup. Used when the remote store is known unreachable; the resulting
// session is locally valid but carries no remote identity.
func (m *Manager) BindLocalOnly(idcard string) (int64, error) {
	idcard = NormalizeIdcard(idcard)
	if idcard == "" {
		return 0, fmt.Errorf("cannot bind empty idcard")
	}

	existing, err := m.sessions.GetByIdcard(idcard)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		if err := m.sessions.Touch(existing.ID); err != nil {
			return 0, err
		}
		return existing.ID, nil
	}

	reuse, err := m.sessions.FindReusable()
	if err != nil {
		return 0, err
	}
	if reuse != nil {
		if err := m.sessions.DeleteOtherPlaceholders(reuse.ID); err != nil {
			return 0, err
		}
		if err := m.sessions.DeleteOthersWithIdcard(idcard, reuse.ID); err != nil {
			return 0, err
		}
		keep := KeepMeasurements(reuse, idcard)
		if err := m.sessions.Rebind(reuse.ID, idcard, nil, nil, keep); err != nil {
			return 0, err
		}
		m.logger.Info("Session bound locally",
			zap.String("idcard", idcard),
			zap.Int64("session_id", reuse.ID),
		)
		return reuse.ID, nil
	}

	id, err := m.sessions.InsertBound(idcard, nil, nil)
	if err != nil {
		return 0, err
	}
	m.logger.Info("Session bound locally",
		zap.String("idcard", idcard),
		zap.Int64("session_id", id),
	)
	return id, nil
}

// ActiveForEvent resolves the session a measurement event targets. With an
// idcard the bound session is looked up (nil when absent, the caller decides
// whether to auto-bind). Without one the most recently updated session wins;
// an empty store lazily gains a placeholder so a current session always
// exists once any event has been processed.
func (m *Manager) ActiveForEvent(idcard string) (*models.ActiveSession, error) {
	if idcard != "" {
		return m.sessions.GetByIdcard(idcard)
	}

	current, err := m.sessions.Current()
	if err != nil {
		return nil, err
	}
	if current != nil {
		return current, nil
	}

	if _, err := m.sessions.InsertPlaceholder(); err != nil {
		return nil, err
	}
	return m.sessions.Current()
}
