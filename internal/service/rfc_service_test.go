package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-programme-api/internal/models"
	appErrors "github.com/noah-isme/course-programme-api/pkg/errors"
)

type rfcStoreStub struct {
	requests map[string]*models.ChangeRequest
	nextID   int
}

func newRfcStoreStub() *rfcStoreStub {
	return &rfcStoreStub{requests: make(map[string]*models.ChangeRequest)}
}

func (s *rfcStoreStub) add(fieldID int64, userID string, state models.RequestState, snapshot []byte) *models.ChangeRequest {
	s.nextID++
	request := &models.ChangeRequest{
		ID:          fmt.Sprintf("rfc-%d", s.nextID),
		FieldID:     fieldID,
		State:       state,
		Snapshot:    snapshot,
		RequestedBy: userID,
		CreatedAt:   time.Now().UTC().Add(time.Duration(s.nextID) * time.Second),
	}
	s.requests[request.ID] = request
	return request
}

func (s *rfcStoreStub) UpsertDraft(ctx context.Context, fieldID int64, userID string, snapshot []byte) (*models.ChangeRequest, error) {
	for _, r := range s.requests {
		if r.FieldID == fieldID && r.RequestedBy == userID && r.State == models.StateRequested {
			r.Snapshot = snapshot
			copied := *r
			return &copied, nil
		}
	}
	created := s.add(fieldID, userID, models.StateRequested, snapshot)
	copied := *created
	return &copied, nil
}

func (s *rfcStoreStub) GetByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	if r, ok := s.requests[id]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (s *rfcStoreStub) FindByUserAndState(ctx context.Context, fieldID int64, userID string, state models.RequestState) (*models.ChangeRequest, error) {
	var oldest *models.ChangeRequest
	for _, r := range s.requests {
		if r.FieldID != fieldID || r.RequestedBy != userID || r.State != state {
			continue
		}
		if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = r
		}
	}
	if oldest == nil {
		return nil, sql.ErrNoRows
	}
	copied := *oldest
	return &copied, nil
}

func (s *rfcStoreStub) FirstByState(ctx context.Context, fieldID int64, state models.RequestState) (*models.ChangeRequest, error) {
	var oldest *models.ChangeRequest
	for _, r := range s.requests {
		if r.FieldID != fieldID || r.State != state {
			continue
		}
		if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = r
		}
	}
	if oldest == nil {
		return nil, sql.ErrNoRows
	}
	copied := *oldest
	return &copied, nil
}

func (s *rfcStoreStub) CountByState(ctx context.Context, fieldID int64, state models.RequestState) (int, error) {
	count := 0
	for _, r := range s.requests {
		if r.FieldID == fieldID && r.State == state {
			count++
		}
	}
	return count, nil
}

func (s *rfcStoreStub) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	out := make([]models.ChangeRequest, 0, len(s.requests))
	for _, r := range s.requests {
		if filter.FieldID != 0 && r.FieldID != filter.FieldID {
			continue
		}
		if filter.RequestedBy != "" && r.RequestedBy != filter.RequestedBy {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *rfcStoreStub) Transition(ctx context.Context, id string, from, to models.RequestState, decidedBy string) error {
	r, ok := s.requests[id]
	if !ok || r.State != from {
		return sql.ErrNoRows
	}
	r.State = to
	r.DecidedBy = &decidedBy
	return nil
}

func (s *rfcStoreStub) Remove(ctx context.Context, id string) error {
	if _, ok := s.requests[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.requests, id)
	return nil
}

type programmeWriterStub struct {
	applied  []int64
	requests []string
	modules  [][]models.Module
	err      error
}

func (p *programmeWriterStub) ApplySnapshot(ctx context.Context, fieldID int64, requestID string, modules []models.Module) error {
	if p.err != nil {
		return p.err
	}
	p.applied = append(p.applied, fieldID)
	p.requests = append(p.requests, requestID)
	p.modules = append(p.modules, modules)
	return nil
}

func validSnapshot(t *testing.T) []byte {
	t.Helper()
	payload, err := EncodeSnapshot([]models.Module{{ID: 1, Name: "Module A"}})
	require.NoError(t, err)
	return payload
}

func TestRfcServiceDraftOverwritesExisting(t *testing.T) {
	store := newRfcStoreStub()
	audit := &auditStub{}
	svc := NewRfcService(store, &programmeWriterStub{}, audit, nil)
	teacher := models.NewActor("teacher-1", models.RoleTeacher)

	first, err := svc.Draft(context.Background(), teacher, 10, []models.Module{{ID: 1}})
	require.NoError(t, err)

	second, err := svc.Draft(context.Background(), teacher, 10, []models.Module{{ID: 1, Name: "renamed"}})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, store.requests, 1)
	require.Len(t, audit.logs, 2)
}

func TestRfcServiceCurrentProbeOrder(t *testing.T) {
	store := newRfcStoreStub()
	svc := NewRfcService(store, &programmeWriterStub{}, nil, nil)
	teacher := models.NewActor("teacher-1", models.RoleTeacher)

	otherSubmitted := store.add(10, "teacher-2", models.StateSubmitted, nil)

	// Only someone else's submitted request exists.
	current, err := svc.Current(context.Background(), teacher, 10)
	require.NoError(t, err)
	require.Equal(t, otherSubmitted.ID, current.ID)

	ownCancelled := store.add(10, "teacher-1", models.StateCancelled, nil)
	current, err = svc.Current(context.Background(), teacher, 10)
	require.NoError(t, err)
	require.Equal(t, ownCancelled.ID, current.ID)

	ownSubmitted := store.add(10, "teacher-1", models.StateSubmitted, nil)
	current, err = svc.Current(context.Background(), teacher, 10)
	require.NoError(t, err)
	require.Equal(t, ownSubmitted.ID, current.ID)

	ownDraft := store.add(10, "teacher-1", models.StateRequested, nil)
	current, err = svc.Current(context.Background(), teacher, 10)
	require.NoError(t, err)
	require.Equal(t, ownDraft.ID, current.ID)
}

func TestRfcServiceCurrentNoneFound(t *testing.T) {
	svc := NewRfcService(newRfcStoreStub(), &programmeWriterStub{}, nil, nil)
	current, err := svc.Current(context.Background(), models.NewActor("teacher-1", models.RoleTeacher), 10)
	require.NoError(t, err)
	require.Nil(t, current)
}

func TestRfcServiceSubmitWithoutDraft(t *testing.T) {
	svc := NewRfcService(newRfcStoreStub(), &programmeWriterStub{}, nil, nil)
	_, err := svc.Submit(context.Background(), models.NewActor("teacher-1", models.RoleTeacher), 10)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRfcServiceAcceptAppliesSnapshot(t *testing.T) {
	store := newRfcStoreStub()
	writer := &programmeWriterStub{}
	audit := &auditStub{}
	svc := NewRfcService(store, writer, audit, nil)
	admin := models.NewActor("admin-1", models.RoleAdmin)

	submitted := store.add(10, "teacher-1", models.StateSubmitted, validSnapshot(t))

	accepted, err := svc.Accept(context.Background(), admin, 10, "")
	require.NoError(t, err)
	require.Equal(t, models.StateAccepted, accepted.State)
	require.Equal(t, models.StateAccepted, store.requests[submitted.ID].State)
	require.Equal(t, []int64{10}, writer.applied)
	require.Equal(t, []string{submitted.ID}, writer.requests)
	require.Equal(t, "Module A", writer.modules[0][0].Name)
	require.Len(t, audit.logs, 1)
}

func TestRfcServiceAcceptTargetsCreator(t *testing.T) {
	store := newRfcStoreStub()
	writer := &programmeWriterStub{}
	svc := NewRfcService(store, writer, nil, nil)
	admin := models.NewActor("admin-1", models.RoleAdmin)

	older := store.add(10, "teacher-1", models.StateSubmitted, validSnapshot(t))
	newer := store.add(10, "teacher-2", models.StateSubmitted, validSnapshot(t))

	// Naming the creator decides their request even when it is not the oldest.
	accepted, err := svc.Accept(context.Background(), admin, 10, "teacher-2")
	require.NoError(t, err)
	require.Equal(t, newer.ID, accepted.ID)
	require.Equal(t, models.StateAccepted, store.requests[newer.ID].State)
	require.Equal(t, models.StateSubmitted, store.requests[older.ID].State)

	rejected, err := svc.Reject(context.Background(), admin, 10, "teacher-1")
	require.NoError(t, err)
	require.Equal(t, older.ID, rejected.ID)

	_, err = svc.Accept(context.Background(), admin, 10, "teacher-3")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRfcServiceAcceptRequiresEditAll(t *testing.T) {
	store := newRfcStoreStub()
	store.add(10, "teacher-1", models.StateSubmitted, validSnapshot(t))
	svc := NewRfcService(store, &programmeWriterStub{}, nil, nil)

	_, err := svc.Accept(context.Background(), models.NewActor("teacher-1", models.RoleTeacher), 10, "")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestRfcServiceAcceptUndecodableSnapshotKeepsState(t *testing.T) {
	store := newRfcStoreStub()
	writer := &programmeWriterStub{}
	svc := NewRfcService(store, writer, nil, nil)
	admin := models.NewActor("admin-1", models.RoleAdmin)

	submitted := store.add(10, "teacher-1", models.StateSubmitted, []byte(`{"not":"an array"}`))

	_, err := svc.Accept(context.Background(), admin, 10, "")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidSnapshot.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.StateSubmitted, store.requests[submitted.ID].State)
	require.Empty(t, writer.applied)
}

func TestRfcServiceRejectLeavesDataUntouched(t *testing.T) {
	store := newRfcStoreStub()
	writer := &programmeWriterStub{}
	svc := NewRfcService(store, writer, nil, nil)
	admin := models.NewActor("admin-1", models.RoleAdmin)

	submitted := store.add(10, "teacher-1", models.StateSubmitted, validSnapshot(t))

	rejected, err := svc.Reject(context.Background(), admin, 10, "")
	require.NoError(t, err)
	require.Equal(t, models.StateRejected, rejected.State)
	require.Equal(t, models.StateRejected, store.requests[submitted.ID].State)
	require.Empty(t, writer.applied)
}

func TestRfcServiceCancelDraftThenSubmitted(t *testing.T) {
	store := newRfcStoreStub()
	svc := NewRfcService(store, &programmeWriterStub{}, nil, nil)
	teacher := models.NewActor("teacher-1", models.RoleTeacher)

	draft := store.add(10, "teacher-1", models.StateRequested, nil)
	submitted := store.add(10, "teacher-1", models.StateSubmitted, nil)

	cancelled, err := svc.Cancel(context.Background(), teacher, 10, "")
	require.NoError(t, err)
	require.Equal(t, draft.ID, cancelled.ID)

	cancelled, err = svc.Cancel(context.Background(), teacher, 10, "")
	require.NoError(t, err)
	require.Equal(t, submitted.ID, cancelled.ID)

	_, err = svc.Cancel(context.Background(), teacher, 10, "")
	require.Error(t, err)
}

func TestRfcServiceCancelAnotherCreator(t *testing.T) {
	store := newRfcStoreStub()
	svc := NewRfcService(store, &programmeWriterStub{}, nil, nil)
	admin := models.NewActor("admin-1", models.RoleAdmin)

	submitted := store.add(10, "teacher-1", models.StateSubmitted, nil)

	// Plain editors cannot withdraw someone else's request.
	_, err := svc.Cancel(context.Background(), models.NewActor("teacher-2", models.RoleTeacher), 10, "teacher-1")
	require.Error(t, err)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
	require.Equal(t, models.StateSubmitted, store.requests[submitted.ID].State)

	cancelled, err := svc.Cancel(context.Background(), admin, 10, "teacher-1")
	require.NoError(t, err)
	require.Equal(t, submitted.ID, cancelled.ID)
	require.Equal(t, models.StateCancelled, store.requests[submitted.ID].State)
}

func TestRfcServiceReapply(t *testing.T) {
	store := newRfcStoreStub()
	writer := &programmeWriterStub{}
	svc := NewRfcService(store, writer, nil, nil)
	admin := models.NewActor("admin-1", models.RoleAdmin)

	accepted := store.add(10, "teacher-1", models.StateAccepted, validSnapshot(t))
	require.NoError(t, svc.Reapply(context.Background(), admin, accepted.ID))
	require.Equal(t, []int64{10}, writer.applied)

	draft := store.add(10, "teacher-2", models.StateRequested, validSnapshot(t))
	err := svc.Reapply(context.Background(), admin, draft.ID)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrPreconditionFailed.Code, appErrors.FromError(err).Code)
}

func TestRfcServiceReapplyClientRowsInsertOnce(t *testing.T) {
	ctx := context.Background()
	store := newRfcStoreStub()
	repo := newProgrammeRepoStub()
	module := repo.addModule(10, "Module A", 0)
	// The apply path persists the rewritten snapshot alongside the data; the
	// hook models the shared change_requests table.
	repo.onSnapshot = func(requestID string, snapshot []byte) {
		store.requests[requestID].Snapshot = snapshot
	}
	programme, _ := newTestProgrammeService(repo, nil)
	svc := NewRfcService(store, programme, nil, nil)
	admin := models.NewActor("admin-1", models.RoleAdmin)

	snapshot, err := EncodeSnapshot([]models.Module{{ID: module.id, Name: "Module A", Rows: []models.Row{{
		ID:    -1,
		Cells: []models.Cell{{Column: "session", Value: "Anatomy"}},
	}}}})
	require.NoError(t, err)
	accepted := store.add(10, "teacher-1", models.StateAccepted, snapshot)

	require.NoError(t, svc.Reapply(ctx, admin, accepted.ID))
	require.Len(t, repo.modules[module.id].rows, 1)

	// A second run sees the persisted id and updates in place.
	require.NoError(t, svc.Reapply(ctx, admin, accepted.ID))
	require.Len(t, repo.modules[module.id].rows, 1)
}

func TestRfcServiceListScoping(t *testing.T) {
	store := newRfcStoreStub()
	store.add(10, "teacher-1", models.StateRequested, nil)
	store.add(10, "teacher-2", models.StateSubmitted, nil)
	svc := NewRfcService(store, &programmeWriterStub{}, nil, nil)

	all, err := svc.List(context.Background(), models.NewActor("admin-1", models.RoleAdmin), models.ChangeRequestFilter{FieldID: 10})
	require.NoError(t, err)
	require.Len(t, all, 2)

	own, err := svc.List(context.Background(), models.NewActor("teacher-1", models.RoleTeacher), models.ChangeRequestFilter{FieldID: 10})
	require.NoError(t, err)
	require.Len(t, own, 1)
	require.Equal(t, "teacher-1", own[0].RequestedBy)

	_, err = svc.List(context.Background(), models.NewActor("student-1", models.RoleStudent), models.ChangeRequestFilter{FieldID: 10})
	require.Error(t, err)
}

func TestRfcServicePermissions(t *testing.T) {
	store := newRfcStoreStub()
	svc := NewRfcService(store, &programmeWriterStub{}, nil, nil)
	teacher := models.NewActor("teacher-1", models.RoleTeacher)
	admin := models.NewActor("admin-1", models.RoleAdmin)

	perms, err := svc.Permissions(context.Background(), teacher, 10)
	require.NoError(t, err)
	require.True(t, perms.CanAdd)
	require.False(t, perms.CanSubmit)
	require.False(t, perms.CanAccept)

	store.add(10, "teacher-1", models.StateRequested, nil)
	perms, err = svc.Permissions(context.Background(), teacher, 10)
	require.NoError(t, err)
	require.True(t, perms.CanSubmit)
	require.True(t, perms.CanCancel)

	store.add(10, "teacher-2", models.StateSubmitted, nil)
	perms, err = svc.Permissions(context.Background(), teacher, 10)
	require.NoError(t, err)
	require.False(t, perms.CanAdd)

	perms, err = svc.Permissions(context.Background(), admin, 10)
	require.NoError(t, err)
	require.True(t, perms.CanAccept)
	require.True(t, perms.CanReject)
}

func TestRfcServiceCanAddBlockedBySubmission(t *testing.T) {
	store := newRfcStoreStub()
	svc := NewRfcService(store, &programmeWriterStub{}, nil, nil)
	teacher := models.NewActor("teacher-1", models.RoleTeacher)

	canAdd, err := svc.CanAdd(context.Background(), teacher, 10)
	require.NoError(t, err)
	require.True(t, canAdd)

	store.add(10, "teacher-1", models.StateSubmitted, nil)
	canAdd, err = svc.CanAdd(context.Background(), teacher, 10)
	require.NoError(t, err)
	require.False(t, canAdd)

	canAdd, err = svc.CanAdd(context.Background(), models.NewActor("student-1", models.RoleStudent), 10)
	require.NoError(t, err)
	require.False(t, canAdd)
}
