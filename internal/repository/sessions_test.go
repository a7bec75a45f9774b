package repository

import (
	"database/sql"
	"testing"
	"vitals-station/internal/database"
	"vitals-station/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openLocalStore(t *testing.T) (*sql.DB, database.Capabilities) {
	t.Helper()
	db, caps, err := database.OpenLocal(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, caps
}

func newSessionRepo(t *testing.T) (*SessionRepository, *sql.DB) {
	db, caps := openLocalStore(t)
	return NewSessionRepository(db, caps, zap.NewNop()), db
}

func TestSessionRepository_PlaceholderLifecycle(t *testing.T) {
	repo, _ := newSessionRepo(t)

	id, err := repo.InsertPlaceholder()
	require.NoError(t, err)
	require.NotZero(t, id)

	current, err := repo.Current()
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, id, current.ID)
	assert.Empty(t, current.Idcard)
	assert.True(t, current.IsTemp)
	assert.False(t, current.HasVisit())
}

func TestSessionRepository_GetByIdcard(t *testing.T) {
	repo, _ := newSessionRepo(t)

	_, err := repo.InsertBound("1234567890123", nil, nil)
	require.NoError(t, err)

	found, err := repo.GetByIdcard("1234567890123")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "1234567890123", found.Idcard)

	missing, err := repo.GetByIdcard("9999999999999")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSessionRepository_FindReusable_PrefersPlaceholder(t *testing.T) {
	repo, _ := newSessionRepo(t)

	_, err := repo.InsertBound("1234567890123", nil, nil)
	require.NoError(t, err)
	placeholderID, err := repo.InsertPlaceholder()
	require.NoError(t, err)

	reuse, err := repo.FindReusable()
	require.NoError(t, err)
	require.NotNil(t, reuse)
	assert.Equal(t, placeholderID, reuse.ID)
}

func TestSessionRepository_FindReusable_FallsBackToCurrent(t *testing.T) {
	repo, _ := newSessionRepo(t)

	boundID, err := repo.InsertBound("1234567890123", nil, nil)
	require.NoError(t, err)

	reuse, err := repo.FindReusable()
	require.NoError(t, err)
	require.NotNil(t, reuse)
	assert.Equal(t, boundID, reuse.ID)
}

func TestSessionRepository_Rebind_ClearsMeasurements(t *testing.T) {
	repo, _ := newSessionRepo(t)

	id, err := repo.InsertBound("1234567890123", nil, nil)
	require.NoError(t, err)
	require.NoError(t, repo.SetField(id, "weight", "70.5"))

	person := &models.Person{PID: 42, PcuCodePerson: "10001"}
	visit := &models.Visit{PcuCode: "10001", VisitNo: 7, VisitDate: "2026-09-01"}
	require.NoError(t, repo.Rebind(id, "9876543210987", person, visit, false))

	sess, err := repo.GetByIdcard("9876543210987")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Nil(t, sess.Weight)
	assert.False(t, sess.IsTemp)
	require.NotNil(t, sess.VisitNo)
	assert.Equal(t, int64(7), *sess.VisitNo)
	assert.True(t, sess.HasVisit())
}

func TestSessionRepository_Rebind_KeepsMeasurements(t *testing.T) {
	repo, _ := newSessionRepo(t)

	id, err := repo.InsertPlaceholder()
	require.NoError(t, err)
	require.NoError(t, repo.SetField(id, "weight", "70.5"))
	require.NoError(t, repo.SetField(id, "pressure", "120/80"))

	require.NoError(t, repo.Rebind(id, "1234567890123", nil, nil, true))

	sess, err := repo.GetByIdcard("1234567890123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NotNil(t, sess.Weight)
	assert.Equal(t, "70.5", *sess.Weight)
	require.NotNil(t, sess.Pressure)
	assert.Equal(t, "120/80", *sess.Pressure)
}

func TestSessionRepository_RefreshIdentity_PreservesVitals(t *testing.T) {
	repo, _ := newSessionRepo(t)

	id, err := repo.InsertBound("1234567890123", nil, nil)
	require.NoError(t, err)
	require.NoError(t, repo.SetField(id, "temperature", "36.8"))

	person := &models.Person{PID: 42, PcuCodePerson: "10001"}
	visit := &models.Visit{PcuCode: "10001", VisitNo: 3, VisitDate: "2026-09-01"}
	require.NoError(t, repo.RefreshIdentity(id, person, visit))

	sess, err := repo.GetByIdcard("1234567890123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.NotNil(t, sess.Temperature)
	assert.Equal(t, "36.8", *sess.Temperature)
	assert.True(t, sess.HasVisit())
}

func TestSessionRepository_SetField_RejectsUnknownColumn(t *testing.T) {
	repo, _ := newSessionRepo(t)

	id, err := repo.InsertPlaceholder()
	require.NoError(t, err)

	err = repo.SetField(id, "idcard", "oops")
	require.Error(t, err)
}

func TestSessionRepository_DeleteOthersWithIdcard(t *testing.T) {
	repo, _ := newSessionRepo(t)

	first, err := repo.InsertBound("1234567890123", nil, nil)
	require.NoError(t, err)
	second, err := repo.InsertBound("1234567890123", nil, nil)
	require.NoError(t, err)

	require.NoError(t, repo.DeleteOthersWithIdcard("1234567890123", second))

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	sess, err := repo.GetByIdcard("1234567890123")
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, second, sess.ID)
	assert.NotEqual(t, first, sess.ID)
}

func TestSessionRepository_DeleteIdle(t *testing.T) {
	repo, db := newSessionRepo(t)

	_, err := db.Exec(`
		INSERT INTO active_sessions (idcard, session_start, last_update)
		VALUES ('1234567890123', datetime('now', '-2 hours'), datetime('now', '-2 hours'))
	`)
	require.NoError(t, err)
	fresh, err := repo.InsertBound("9876543210987", nil, nil)
	require.NoError(t, err)

	deleted, err := repo.DeleteIdle(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.All()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh, remaining[0].ID)
}

func TestSessionRepository_DeleteAll(t *testing.T) {
	repo, _ := newSessionRepo(t)

	_, err := repo.InsertBound("1234567890123", nil, nil)
	require.NoError(t, err)
	_, err = repo.InsertPlaceholder()
	require.NoError(t, err)

	require.NoError(t, repo.DeleteAll())

	count, err := repo.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}
