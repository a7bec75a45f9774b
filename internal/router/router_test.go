package router

import (
	"context"
	"sync"
	"testing"
	"vitals-station/internal/database"
	"vitals-station/internal/models"
	"vitals-station/internal/repository"
	"vitals-station/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeDirectory serves canned remote identity lookups.
type fakeDirectory struct {
	persons map[string]*models.Person
	visits  map[int64]*models.Visit
	err     error
}

func (f *fakeDirectory) FindPerson(ctx context.Context, idcard string) (*models.Person, error) {
	if f.err != nil {
		return nil, f.err
	}
	person, ok := f.persons[idcard]
	if !ok {
		return nil, repository.ErrPersonNotFound
	}
	return person, nil
}

func (f *fakeDirectory) FindTodayVisit(ctx context.Context, person *models.Person) (*models.Visit, error) {
	if f.err != nil {
		return nil, f.err
	}
	visit, ok := f.visits[person.PID]
	if !ok {
		return nil, repository.ErrVisitNotFoundToday
	}
	return visit, nil
}

type visitUpdate struct {
	PcuCode string
	VisitNo int64
	Column  string
	Value   string
}

// fakeVisits records remote writes and can fail selected columns.
type fakeVisits struct {
	mu          sync.Mutex
	bpColumn    string
	failColumns map[string]error
	updates     []visitUpdate
}

func (f *fakeVisits) ResolveBloodPressureColumn(ctx context.Context, pcucode string, visitno int64) (string, error) {
	if f.bpColumn != "" {
		return f.bpColumn, nil
	}
	return "pressure", nil
}

func (f *fakeVisits) UpdateVisitField(ctx context.Context, pcucode string, visitno int64, column, value string) error {
	if err := f.failColumns[column]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, visitUpdate{PcuCode: pcucode, VisitNo: visitno, Column: column, Value: value})
	return nil
}

type fakeConn struct{ up bool }

func (f *fakeConn) Connected() bool { return f.up }

// fakeNotifier counts published UI events.
type fakeNotifier struct {
	started int
	updated int
	data    int
}

func (f *fakeNotifier) SessionStarted(ctx context.Context, idcard string)            { f.started++ }
func (f *fakeNotifier) SessionUpdated(ctx context.Context, idcard, field string)     { f.updated++ }
func (f *fakeNotifier) DataUpdated(ctx context.Context, idcard, field, value string) { f.data++ }

type fakeReplayer struct {
	replayed []string
}

func (f *fakeReplayer) ReplayIdcard(ctx context.Context, idcard string) error {
	f.replayed = append(f.replayed, idcard)
	return nil
}

type routerFixture struct {
	router   *Router
	sessions *repository.SessionRepository
	pending  *repository.PendingRepository
	history  *repository.HistoryRepository
	visits   *fakeVisits
	conn     *fakeConn
	notifier *fakeNotifier
	remote   *fakeDirectory
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	db, caps, err := database.OpenLocal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := zap.NewNop()
	sessions := repository.NewSessionRepository(db, caps, logger)
	pending := repository.NewPendingRepository(db, 3, logger)
	history := repository.NewHistoryRepository(db, logger)

	remote := &fakeDirectory{
		persons: map[string]*models.Person{
			"1234567890123": {PID: 42, PcuCodePerson: "10001"},
		},
		visits: map[int64]*models.Visit{
			42: {PcuCode: "10001", VisitNo: 7, VisitDate: "2026-09-01"},
		},
	}
	manager := session.NewManager(sessions, remote, logger)

	visits := &fakeVisits{}
	conn := &fakeConn{up: true}
	notifier := &fakeNotifier{}

	rt := NewRouter(sessions, pending, history, visits, manager, conn, notifier, logger)

	return &routerFixture{
		router:   rt,
		sessions: sessions,
		pending:  pending,
		history:  history,
		visits:   visits,
		conn:     conn,
		notifier: notifier,
		remote:   remote,
	}
}

func (f *routerFixture) lastHistory(t *testing.T) models.SyncHistory {
	t.Helper()
	entries, err := f.history.Recent(1)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return entries[0]
}

func TestRouteMeasurement_UnsupportedDeviceSkipped(t *testing.T) {
	f := newRouterFixture(t)

	out := f.router.RouteMeasurement(context.Background(), Event{
		Idcard:     "1234567890123",
		DeviceType: "spo2",
		Value:      "98",
	})

	assert.Equal(t, OutcomeSkipped, out.Status)
	assert.Empty(t, f.visits.updates)

	// Never queued: a device with no visit column cannot be replayed.
	idcards, err := f.pending.PendingIdcards()
	require.NoError(t, err)
	assert.Empty(t, idcards)

	assert.Equal(t, models.SyncSkipped, f.lastHistory(t).SyncStatus)
}

func TestRouteMeasurement_SuccessCommitsAndEchoes(t *testing.T) {
	f := newRouterFixture(t)

	out := f.router.RouteMeasurement(context.Background(), Event{
		Idcard:     "1234567890123",
		DeviceType: "weight",
		Value:      "70.5",
	})

	assert.Equal(t, OutcomeSuccess, out.Status)
	require.Len(t, f.visits.updates, 1)
	assert.Equal(t, visitUpdate{PcuCode: "10001", VisitNo: 7, Column: "weight", Value: "70.5"}, f.visits.updates[0])

	sess, err := f.sessions.GetByIdcard("1234567890123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NotNil(t, sess.Weight)
	assert.Equal(t, "70.5", *sess.Weight)

	assert.Equal(t, models.SyncSuccess, f.lastHistory(t).SyncStatus)
	assert.NotZero(t, f.notifier.data)
}

func TestRouteMeasurement_AnonymousEventUsesCurrentSession(t *testing.T) {
	f := newRouterFixture(t)

	out := f.router.RouteMeasurement(context.Background(), Event{
		DeviceType: "weight",
		Value:      "70.5",
	})

	// No identity yet: echoed into the lazily created placeholder and queued
	// until an identification names the patient.
	assert.Equal(t, OutcomePending, out.Status)

	current, err := f.sessions.Current()
	require.NoError(t, err)
	require.NotNil(t, current)
	require.NotNil(t, current.Weight)
	assert.Equal(t, "70.5", *current.Weight)

	items, err := f.pending.PendingMeasurements("")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestRouteMeasurement_NoVisitTodayQueues(t *testing.T) {
	f := newRouterFixture(t)
	delete(f.remote.visits, 42)

	out := f.router.RouteMeasurement(context.Background(), Event{
		Idcard:     "1234567890123",
		DeviceType: "weight",
		Value:      "70.5",
	})

	assert.Equal(t, OutcomePending, out.Status)
	assert.Equal(t, "visit_not_found_today", out.Reason)
	assert.Empty(t, f.visits.updates)

	items, err := f.pending.PendingMeasurements("1234567890123")
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Local echo still happened.
	sess, err := f.sessions.GetByIdcard("1234567890123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NotNil(t, sess.Weight)
}

func TestRouteMeasurement_DisconnectedQueues(t *testing.T) {
	f := newRouterFixture(t)
	f.conn.up = false

	out := f.router.RouteMeasurement(context.Background(), Event{
		Idcard:     "1234567890123",
		DeviceType: "pulse",
		Value:      "72",
	})

	assert.Equal(t, OutcomePending, out.Status)
	assert.Empty(t, f.visits.updates)

	items, err := f.pending.PendingMeasurements("1234567890123")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "pulse", items[0].DeviceType)
	assert.Equal(t, models.SyncReplayPending, f.lastHistory(t).SyncStatus)
}

func TestRouteMeasurement_RemoteWriteFailureQueues(t *testing.T) {
	f := newRouterFixture(t)
	f.visits.failColumns = map[string]error{"weight": assert.AnError}

	out := f.router.RouteMeasurement(context.Background(), Event{
		Idcard:     "1234567890123",
		DeviceType: "weight",
		Value:      "70.5",
	})

	assert.Equal(t, OutcomePending, out.Status)

	items, err := f.pending.PendingMeasurements("1234567890123")
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestRouteMeasurement_BloodPressureTieBreak(t *testing.T) {
	f := newRouterFixture(t)
	f.visits.bpColumn = "pressure2"

	out := f.router.RouteMeasurement(context.Background(), Event{
		Idcard:     "1234567890123",
		DeviceType: "bp",
		Value:      "118/76",
	})

	assert.Equal(t, OutcomeSuccess, out.Status)
	require.Len(t, f.visits.updates, 1)
	assert.Equal(t, "pressure2", f.visits.updates[0].Column)

	// The local session has a single pressure field regardless of slot.
	sess, err := f.sessions.GetByIdcard("1234567890123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NotNil(t, sess.Pressure)
	assert.Equal(t, "118/76", *sess.Pressure)
}

func TestRouteCombined_PartialSuccess(t *testing.T) {
	f := newRouterFixture(t)
	f.visits.failColumns = map[string]error{"temperature": assert.AnError}

	weight := "70.5"
	temp := "36.8"
	pulse := "72"
	outcomes := f.router.RouteCombined(context.Background(), "1234567890123", CombinedVitals{
		Weight:      &weight,
		Temperature: &temp,
		Pulse:       &pulse,
	})

	require.Len(t, outcomes, 3)
	assert.Equal(t, OutcomeSuccess, outcomes[0].Status)
	assert.Equal(t, OutcomePending, outcomes[1].Status)
	assert.Equal(t, OutcomeSuccess, outcomes[2].Status)

	items, err := f.pending.PendingMeasurements("1234567890123")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "temp", items[0].DeviceType)
}

func TestRouteIdentification_Success(t *testing.T) {
	f := newRouterFixture(t)
	replayer := &fakeReplayer{}
	f.router.SetReplayer(replayer)

	out := f.router.RouteIdentification(context.Background(), "1234567890123", "2026-09-01T09:00:00Z")

	assert.Equal(t, OutcomeSuccess, out.Status)
	assert.Equal(t, []string{"1234567890123"}, replayer.replayed)
	assert.NotZero(t, f.notifier.started)

	sess, err := f.sessions.GetByIdcard("1234567890123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.True(t, sess.HasVisit())
}

func TestRouteIdentification_BackfillsBlankMeasurements(t *testing.T) {
	f := newRouterFixture(t)

	require.NoError(t, f.pending.EnqueueMeasurement("", "weight", "70.5", nil, nil))

	out := f.router.RouteIdentification(context.Background(), "1234567890123", "")
	assert.Equal(t, OutcomeSuccess, out.Status)

	items, err := f.pending.PendingMeasurements("1234567890123")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "weight", items[0].DeviceType)
}

func TestRouteIdentification_PersonNotFound(t *testing.T) {
	f := newRouterFixture(t)

	out := f.router.RouteIdentification(context.Background(), "9999999999999", "")

	assert.Equal(t, OutcomeFailed, out.Status)
	assert.Equal(t, "person_not_found", out.Reason)
	assert.Equal(t, models.SyncFailed, f.lastHistory(t).SyncStatus)
}

func TestRouteIdentification_OfflineBindsLocally(t *testing.T) {
	f := newRouterFixture(t)
	f.conn.up = false

	out := f.router.RouteIdentification(context.Background(), "1234567890123", "2026-09-01T09:00:00Z")

	assert.Equal(t, OutcomePending, out.Status)

	// Local session exists without remote identity; the card tap is queued.
	sess, err := f.sessions.GetByIdcard("1234567890123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.False(t, sess.HasVisit())

	idcards, err := f.pending.PendingIdcards()
	require.NoError(t, err)
	assert.Equal(t, []string{"1234567890123"}, idcards)
}

func TestRouteIdentification_NoVisitTodayQueuesTap(t *testing.T) {
	f := newRouterFixture(t)
	delete(f.remote.visits, 42)

	out := f.router.RouteIdentification(context.Background(), "1234567890123", "")

	assert.Equal(t, OutcomePending, out.Status)
	assert.Equal(t, "visit_not_found_today", out.Reason)

	idcards, err := f.pending.PendingIdcards()
	require.NoError(t, err)
	assert.Equal(t, []string{"1234567890123"}, idcards)
}

func TestRouteIdentification_EmptyIdcardResets(t *testing.T) {
	f := newRouterFixture(t)

	// Populate every table, then reset.
	f.router.RouteMeasurement(context.Background(), Event{Idcard: "1234567890123", DeviceType: "weight", Value: "70.5"})
	require.NoError(t, f.pending.EnqueueMeasurement("1234567890123", "pulse", "72", nil, nil))

	out := f.router.RouteIdentification(context.Background(), "", "")
	assert.Equal(t, OutcomeReset, out.Status)

	count, err := f.sessions.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	current, err := f.sessions.Current()
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Empty(t, current.Idcard)
	assert.Nil(t, current.Weight)

	idcards, err := f.pending.PendingIdcards()
	require.NoError(t, err)
	assert.Empty(t, idcards)

	entries, err := f.history.Recent(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRouteIdentification_ReaderArtifactResets(t *testing.T) {
	f := newRouterFixture(t)

	out := f.router.RouteIdentification(context.Background(), "StringIsNullOrEmpty", "")
	assert.Equal(t, OutcomeReset, out.Status)
}
