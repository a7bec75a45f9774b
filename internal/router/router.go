package router

import (
	"context"
	"errors"
	"vitals-station/internal/models"
	"vitals-station/internal/notify"
	"vitals-station/internal/repository"
	"vitals-station/internal/session"

	"go.uber.org/zap"
)

// Outcome statuses.
const (
	OutcomeSuccess = "success"
	OutcomePending = "pending"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
	OutcomeReset   = "reset"
)

// Event is a normalized inbound reading, transport-agnostic.
type Event struct {
	Idcard     string
	DeviceType string
	Value      string
	MeasuredAt string
}

// CombinedVitals carries several readings taken under one card scan.
type CombinedVitals struct {
	Weight        *string
	Height        *string
	BloodPressure *string
	Temperature   *string
	Pulse         *string
	MeasuredAt    string
}

func (c CombinedVitals) readings() []Event {
	var events []Event
	add := func(deviceType string, value *string) {
		if value != nil {
			events = append(events, Event{DeviceType: deviceType, Value: *value, MeasuredAt: c.MeasuredAt})
		}
	}
	add("weight", c.Weight)
	add("height", c.Height)
	add("bp", c.BloodPressure)
	add("temp", c.Temperature)
	add("pulse", c.Pulse)
	return events
}

// Outcome describes what happened to one routed event.
type Outcome struct {
	Status string
	Field  string
	Reason string
}

// VisitWriter is the remote write capability the router needs.
type VisitWriter interface {
	ResolveBloodPressureColumn(ctx context.Context, pcucode string, visitno int64) (string, error)
	UpdateVisitField(ctx context.Context, pcucode string, visitno int64, column, value string) error
}

// Connectivity reports the last known remote store state.
type Connectivity interface {
	Connected() bool
}

// Replayer replays queued work for one idcard. Implemented by the replay
// engine; invoked when an identification fully binds.
type Replayer interface {
	ReplayIdcard(ctx context.Context, idcard string) error
}

// Router maps normalized events onto the correct session and remote visit
// field. All failure modes degrade to queued or skipped outcomes; routing
// never returns an error to the transport layer.
type Router struct {
	sessions *repository.SessionRepository
	pending  *repository.PendingRepository
	history  *repository.HistoryRepository
	visits   VisitWriter
	manager  *session.Manager
	remoteUp Connectivity
	notifier notify.Notifier
	replayer Replayer
	logger   *zap.Logger
}

// NewRouter creates a vitals router.
func NewRouter(
	sessions *repository.SessionRepository,
	pending *repository.PendingRepository,
	history *repository.HistoryRepository,
	visits VisitWriter,
	manager *session.Manager,
	remoteUp Connectivity,
	notifier notify.Notifier,
	logger *zap.Logger,
) *Router {
	return &Router{
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

// SetReplayer wires the replay engine in after construction; router and
// engine reference each other only through this narrow interface.
func (r *Router) SetReplayer(replayer Replayer) {
	r.replayer = replayer
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// RouteMeasurement processes one single-field reading.
func (r *Router) RouteMeasurement(ctx context.Context, ev Event) Outcome {
	idcard := session.NormalizeIdcard(ev.Idcard)

	field, supported := FieldForDevice(ev.DeviceType)
	if !supported {
		r.history.Record(models.SyncHistory{
			Idcard:        idcard,
			FieldsUpdated: []string{ev.DeviceType},
			SyncStatus:    models.SyncSkipped,
			ErrorMessage:  strPtr("unsupported device type"),
		})
		r.logger.Info("Skipping unsupported device type", zap.String("device_type", ev.DeviceType))
		return Outcome{Status: OutcomeSkipped, Reason: "unsupported_device_type"}
	}

	sess, err := r.manager.ActiveForEvent(idcard)
	if err != nil {
		r.logger.Error("Failed to resolve session", zap.Error(err))
		return r.queueMeasurement(idcard, ev, nil, "session_not_found")
	}

	// A reading tagged with an unknown idcard gets one automatic
	// bind-and-retry before queueing.
	if sess == nil && idcard != "" {
		r.autoBind(ctx, idcard)
		sess, err = r.manager.ActiveForEvent(idcard)
		if err != nil {
			r.logger.Error("Failed to resolve session after bind", zap.Error(err))
			sess = nil
		}
	}

	if sess == nil {
		return r.queueMeasurement(idcard, ev, nil, "session_not_found")
	}

	// Local echo first: the UI must reflect the reading even when the
	// remote write stalls or fails.
	if err := r.sessions.SetField(sess.ID, field, ev.Value); err != nil {
		r.logger.Error("Failed to write local session field", zap.String("field", field), zap.Error(err))
	}

	if !sess.HasVisit() {
		out := r.queueMeasurement(idcard, ev, &sess.ID, "visit_not_found_today")
		r.notifier.SessionUpdated(ctx, idcard, field)
		r.notifier.DataUpdated(ctx, idcard, field, ev.Value)
		return out
	}

	if !r.remoteUp.Connected() {
		return r.queueFailedWrite(idcard, ev, sess, field, "remote store disconnected")
	}

	column, err := r.remoteColumn(ctx, sess, ev.DeviceType, field)
	if err == nil {
		err = r.visits.UpdateVisitField(ctx, *sess.PcuCode, *sess.VisitNo, column, ev.Value)
	}
	if err != nil {
		return r.queueFailedWrite(idcard, ev, sess, column, err.Error())
	}

	r.history.Record(models.SyncHistory{
		SessionID:     &sess.ID,
		Idcard:        idcard,
		VisitNo:       sess.VisitNo,
		FieldsUpdated: []string{column},
		SyncStatus:    models.SyncSuccess,
	})
	r.notifier.SessionUpdated(ctx, idcard, field)
	r.notifier.DataUpdated(ctx, idcard, field, ev.Value)

	r.logger.Info("Measurement committed",
		zap.String("idcard", idcard),
		zap.String("column", column),
		zap.String("value", ev.Value),
	)

	return Outcome{Status: OutcomeSuccess, Field: column}
}

// RouteCombined splits a multi-reading payload into independent single-field
// events. Partial success is expected; one failing field never blocks the
// rest.
func (r *Router) RouteCombined(ctx context.Context, idcard string, cv CombinedVitals) []Outcome {
	readings := cv.readings()
	if len(readings) == 0 {
		r.logger.Warn("Combined payload carries no vital readings", zap.String("idcard", idcard))
		return nil
	}

	outcomes := make([]Outcome, 0, len(readings))
	for _, ev := range readings {
		ev.Idcard = idcard
		outcomes = append(outcomes, r.RouteMeasurement(ctx, ev))
	}
	return outcomes
}

// RouteIdentification processes a card-scan event. An empty idcard is the
// hard-reset signal: all local state is cleared and one fresh placeholder
// session takes its place.
func (r *Router) RouteIdentification(ctx context.Context, idcard, timestamp string) Outcome {
	idcard = session.NormalizeIdcard(idcard)

	if idcard == "" {
		return r.reset(ctx)
	}

	if !r.remoteUp.Connected() {
		return r.bindOffline(ctx, idcard, timestamp, "remote store disconnected")
	}

	result, err := r.manager.Bind(ctx, idcard)
	if err != nil {
		if errors.Is(err, repository.ErrPersonNotFound) {
			r.history.Record(models.SyncHistory{
				Idcard:       idcard,
				SyncStatus:   models.SyncFailed,
				ErrorMessage: strPtr("person not found"),
			})
			r.logger.Warn("Unknown idcard scanned", zap.String("idcard", idcard))
			return Outcome{Status: OutcomeFailed, Reason: "person_not_found"}
		}
		// Connectivity failure mid-bind: degrade to the offline path.
		return r.bindOffline(ctx, idcard, timestamp, err.Error())
	}

	if result.PendingVisit {
		if err := r.pending.EnqueueCardTap(idcard, strPtr(timestamp)); err != nil {
			r.logger.Error("Failed to enqueue card tap", zap.Error(err))
		}
		r.notifier.SessionStarted(ctx, idcard)
		r.logger.Info("Session started, visit pending", zap.String("idcard", idcard))
		return Outcome{Status: OutcomePending, Reason: "visit_not_found_today"}
	}

	if n, err := r.pending.ReassignBlankMeasurements(idcard); err != nil {
		r.logger.Error("Failed to reassign pending measurements", zap.Error(err))
	} else if n > 0 {
		r.logger.Info("Reassigned pending measurements", zap.String("idcard", idcard), zap.Int64("count", n))
	}
	if err := r.pending.MarkCardTapsReplayed(idcard); err != nil {
		r.logger.Error("Failed to resolve pending card taps", zap.Error(err))
	}

	r.notifier.SessionStarted(ctx, idcard)
	r.logger.Info("Session started", zap.String("idcard", idcard))

	if r.replayer != nil {
		if err := r.replayer.ReplayIdcard(ctx, idcard); err != nil {
			r.logger.Error("Immediate replay failed", zap.String("idcard", idcard), zap.Error(err))
		}
	}

	return Outcome{Status: OutcomeSuccess}
}

// remoteColumn picks the remote visit column, applying the blood-pressure
// tie-break.
func (r *Router) remoteColumn(ctx context.Context, sess *models.ActiveSession, deviceType, field string) (string, error) {
	if !IsBloodPressure(deviceType) {
		return field, nil
	}
	return r.visits.ResolveBloodPressureColumn(ctx, *sess.PcuCode, *sess.VisitNo)
}

func (r *Router) autoBind(ctx context.Context, idcard string) {
	if r.remoteUp.Connected() {
		if _, err := r.manager.Bind(ctx, idcard); err == nil {
			r.notifier.SessionStarted(ctx, idcard)
			return
		} else if !errors.Is(err, repository.ErrPersonNotFound) {
			r.logger.Warn("Remote bind failed, falling back to local session",
				zap.String("idcard", idcard), zap.Error(err))
		}
	}
	if _, err := r.manager.BindLocalOnly(idcard); err != nil {
		r.logger.Error("Failed to bind local session", zap.String("idcard", idcard), zap.Error(err))
		return
	}
	r.notifier.SessionStarted(ctx, idcard)
}

func (r *Router) queueMeasurement(idcard string, ev Event, sessionID *int64, reason string) Outcome {
	if err := r.pending.EnqueueMeasurement(idcard, ev.DeviceType, ev.Value, strPtr(ev.MeasuredAt), strPtr(reason)); err != nil {
		r.logger.Error("Failed to enqueue measurement", zap.Error(err))
	}
	r.history.Record(models.SyncHistory{
		SessionID:     sessionID,
		Idcard:        idcard,
		FieldsUpdated: []string{ev.DeviceType},
		SyncStatus:    models.SyncReplayPending,
		ErrorMessage:  strPtr(reason),
	})
	r.logger.Info("Measurement queued for replay",
		zap.String("idcard", idcard),
		zap.String("device_type", ev.DeviceType),
		zap.String("reason", reason),
	)
	return Outcome{Status: OutcomePending, Reason: reason}
}

func (r *Router) queueFailedWrite(idcard string, ev Event, sess *models.ActiveSession, column, reason string) Outcome {
	if err := r.pending.EnqueueMeasurement(idcard, ev.DeviceType, ev.Value, strPtr(ev.MeasuredAt), strPtr(reason)); err != nil {
		r.logger.Error("Failed to enqueue measurement", zap.Error(err))
	}
	r.history.Record(models.SyncHistory{
		SessionID:     &sess.ID,
		Idcard:        idcard,
		VisitNo:       sess.VisitNo,
		FieldsUpdated: []string{column},
		SyncStatus:    models.SyncReplayPending,
		ErrorMessage:  strPtr(reason),
	})
	r.logger.Warn("Remote write failed, queued for replay",
		zap.String("idcard", idcard),
		zap.String("column", column),
		zap.String("error", reason),
	)
	return Outcome{Status: OutcomePending, Field: column, Reason: reason}
}

func (r *Router) bindOffline(ctx context.Context, idcard, timestamp, reason string) Outcome {
	if _, err := r.manager.BindLocalOnly(idcard); err != nil {
		r.logger.Error("Failed to bind local session", zap.String("idcard", idcard), zap.Error(err))
	}
	if err := r.pending.EnqueueCardTap(idcard, strPtr(timestamp)); err != nil {
		r.logger.Error("Failed to enqueue card tap", zap.Error(err))
	}
	if _, err := r.pending.ReassignBlankMeasurements(idcard); err != nil {
		r.logger.Error("Failed to reassign pending measurements", zap.Error(err))
	}
	r.notifier.SessionStarted(ctx, idcard)
	r.logger.Info("Session bound locally, identification queued",
		zap.String("idcard", idcard),
		zap.String("reason", reason),
	)
	return Outcome{Status: OutcomePending, Reason: "remote_disconnected"}
}

func (r *Router) reset(ctx context.Context) Outcome {
	if err := r.history.DeleteAll(); err != nil {
		r.logger.Error("Failed to clear sync history", zap.Error(err))
	}
	if err := r.pending.DeleteAll(); err != nil {
		r.logger.Error("Failed to clear pending queues", zap.Error(err))
	}
	if err := r.sessions.DeleteAll(); err != nil {
		r.logger.Error("Failed to clear sessions", zap.Error(err))
	}
	if _, err := r.sessions.InsertPlaceholder(); err != nil {
		r.logger.Error("Failed to insert placeholder session", zap.Error(err))
	}

	r.notifier.SessionStarted(ctx, "")
	r.notifier.SessionUpdated(ctx, "", "reset")
	r.logger.Info("Station reset, waiting for new session")

	return Outcome{Status: OutcomeReset}
}
