package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-programme-api/internal/models"
)

func newRfcRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func rfcRows(id string, fieldID int64, state models.RequestState, requestedBy string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "field_id", "state", "snapshot", "requested_by", "decided_by", "created_at", "updated_at"}).
		AddRow(id, fieldID, int(state), []byte(`[]`), requestedBy, nil, time.Now(), time.Now())
}

func TestRfcRepositoryUpsertDraftInserts(t *testing.T) {
	db, mock, cleanup := newRfcRepoMock(t)
	defer cleanup()

	repo := NewRfcRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, field_id, state, snapshot, requested_by")).
		WithArgs(int64(10), "teacher-1", models.StateRequested).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO change_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	request, err := repo.UpsertDraft(context.Background(), 10, "teacher-1", []byte(`[]`))
	require.NoError(t, err)
	require.NotEmpty(t, request.ID)
	require.Equal(t, models.StateRequested, request.State)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRfcRepositoryUpsertDraftOverwrites(t *testing.T) {
	db, mock, cleanup := newRfcRepoMock(t)
	defer cleanup()

	repo := NewRfcRepository(db)
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, field_id, state, snapshot, requested_by")).
		WithArgs(int64(10), "teacher-1", models.StateRequested).
		WillReturnRows(rfcRows("rfc-1", 10, models.StateRequested, "teacher-1"))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET snapshot")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	request, err := repo.UpsertDraft(context.Background(), 10, "teacher-1", []byte(`[{"id":1}]`))
	require.NoError(t, err)
	require.Equal(t, "rfc-1", request.ID)
	require.Equal(t, []byte(`[{"id":1}]`), request.Snapshot)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRfcRepositoryTransitionConflict(t *testing.T) {
	db, mock, cleanup := newRfcRepoMock(t)
	defer cleanup()

	repo := NewRfcRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Transition(context.Background(), "rfc-1", models.StateSubmitted, models.StateAccepted, "admin-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRfcRepositoryTransitionUpdates(t *testing.T) {
	db, mock, cleanup := newRfcRepoMock(t)
	defer cleanup()

	repo := NewRfcRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE change_requests SET state")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Transition(context.Background(), "rfc-1", models.StateRequested, models.StateSubmitted, "teacher-1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRfcRepositoryListAppliesFilters(t *testing.T) {
	db, mock, cleanup := newRfcRepoMock(t)
	defer cleanup()

	repo := NewRfcRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, field_id, state, snapshot, requested_by")).
		WithArgs(int64(10), models.StateSubmitted, "teacher-1").
		WillReturnRows(rfcRows("rfc-1", 10, models.StateSubmitted, "teacher-1"))

	list, err := repo.List(context.Background(), models.ChangeRequestFilter{
		FieldID:     10,
		States:      []models.RequestState{models.StateSubmitted},
		RequestedBy: "teacher-1",
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "rfc-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRfcRepositoryCountByState(t *testing.T) {
	db, mock, cleanup := newRfcRepoMock(t)
	defer cleanup()

	repo := NewRfcRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM change_requests")).
		WithArgs(int64(10), models.StateSubmitted).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	count, err := repo.CountByState(context.Background(), 10, models.StateSubmitted)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRfcRepositoryRemoveMissing(t *testing.T) {
	db, mock, cleanup := newRfcRepoMock(t)
	defer cleanup()

	repo := NewRfcRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM change_requests")).
		WithArgs("rfc-404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Remove(context.Background(), "rfc-404")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
