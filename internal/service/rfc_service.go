package service

import (
	"context"
	"database/sql"
	"errors"

	"go.uber.org/zap"

	"github.com/noah-isme/course-programme-api/internal/models"
	appErrors "github.com/noah-isme/course-programme-api/pkg/errors"
)

type rfcStore interface {
	UpsertDraft(ctx context.Context, fieldID int64, userID string, snapshot []byte) (*models.ChangeRequest, error)
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
	FindByUserAndState(ctx context.Context, fieldID int64, userID string, state models.RequestState) (*models.ChangeRequest, error)
	FirstByState(ctx context.Context, fieldID int64, state models.RequestState) (*models.ChangeRequest, error)
	CountByState(ctx context.Context, fieldID int64, state models.RequestState) (int, error)
	List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
	Transition(ctx context.Context, id string, from, to models.RequestState, decidedBy string) error
	Remove(ctx context.Context, id string) error
}

// programmeWriter is the slice of the programme service the workflow needs to
// apply an accepted snapshot.
type programmeWriter interface {
	ApplySnapshot(ctx context.Context, fieldID int64, requestID string, modules []models.Module) error
}

// RfcNotifier fans workflow transitions out to interested parties. Delivery
// is best effort and never blocks or fails the transition.
type RfcNotifier interface {
	Notify(ctx context.Context, event models.RfcEvent, request *models.ChangeRequest)
}

// RfcPermissions is the per-actor action matrix the editor UI renders from.
type RfcPermissions struct {
	CanAdd    bool `json:"canadd"`
	CanSubmit bool `json:"cansubmit"`
	CanCancel bool `json:"cancancel"`
	CanAccept bool `json:"canaccept"`
	CanReject bool `json:"canreject"`
}

// RfcService drives the change-request workflow: drafting snapshots,
// submitting them for review, and the accept/reject/cancel decisions. All
// state changes go through optimistic transitions so concurrent actors
// cannot double-decide a request.
type RfcService struct {
	repo      rfcStore
	programme programmeWriter
	audit     auditLogger
	notifier  RfcNotifier
	logger    *zap.Logger
}

// RfcServiceOption configures the service.
type RfcServiceOption func(*RfcService)

// WithRfcNotifier attaches a transition notifier.
func WithRfcNotifier(notifier RfcNotifier) RfcServiceOption {
	return func(s *RfcService) {
		if notifier != nil {
			s.notifier = notifier
		}
	}
}

// NewRfcService constructs the service.
func NewRfcService(repo rfcStore, programme programmeWriter, audit auditLogger, logger *zap.Logger, opts ...RfcServiceOption) *RfcService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &RfcService{
		repo:      repo,
		programme: programme,
		audit:     audit,
		logger:    logger,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

// Required reports whether the actor's protected changes must go through the
// approval workflow. Edit-all actors write directly.
func (s *RfcService) Required(actor models.Actor) bool {
	return !actor.Can(models.CapabilityEditAll)
}

// CanAdd reports whether the actor may draft a change request on the field.
// Drafting needs the edit capability; an already-SUBMITTED request locks the
// field until someone decides it.
func (s *RfcService) CanAdd(ctx context.Context, actor models.Actor, fieldID int64) (bool, error) {
	if !actor.Can(models.CapabilityEdit) {
		return false, nil
	}
	submitted, err := s.repo.CountByState(ctx, fieldID, models.StateSubmitted)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to probe submitted requests")
	}
	return submitted == 0, nil
}

// Draft stores the actor's proposed modules as a REQUESTED change request.
// Repeated drafts by the same actor on the same field overwrite the snapshot
// in place rather than piling up requests.
func (s *RfcService) Draft(ctx context.Context, actor models.Actor, fieldID int64, modules []models.Module) (*models.ChangeRequest, error) {
	snapshot, err := EncodeSnapshot(modules)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode snapshot")
	}
	request, err := s.repo.UpsertDraft(ctx, fieldID, actor.ID, snapshot)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create change request")
	}
	s.emitAudit(ctx, actor.ID, models.AuditActionRfcCreate, request)
	return request, nil
}

// Current resolves which request the actor should be looking at. Probe
// order matters: the actor's own draft wins over their submitted request,
// which wins over their last cancelled one; failing all of those, anyone
// else's submitted request is surfaced because it locks the field.
func (s *RfcService) Current(ctx context.Context, actor models.Actor, fieldID int64) (*models.ChangeRequest, error) {
	probes := []func() (*models.ChangeRequest, error){
		func() (*models.ChangeRequest, error) {
			return s.repo.FindByUserAndState(ctx, fieldID, actor.ID, models.StateRequested)
		},
		func() (*models.ChangeRequest, error) {
			return s.repo.FindByUserAndState(ctx, fieldID, actor.ID, models.StateSubmitted)
		},
		func() (*models.ChangeRequest, error) {
			return s.repo.FindByUserAndState(ctx, fieldID, actor.ID, models.StateCancelled)
		},
		func() (*models.ChangeRequest, error) {
			return s.repo.FirstByState(ctx, fieldID, models.StateSubmitted)
		},
	}
	for _, probe := range probes {
		request, err := probe()
		if err == nil {
			return request, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve current request")
		}
	}
	return nil, nil
}

// Submit moves the actor's own draft into review. The whole field becomes
// read-only for editors until the request is decided.
func (s *RfcService) Submit(ctx context.Context, actor models.Actor, fieldID int64) (*models.ChangeRequest, error) {
	if !actor.Can(models.CapabilityEdit) {
		return nil, appErrors.ErrForbidden
	}
	request, err := s.repo.FindByUserAndState(ctx, fieldID, actor.ID, models.StateRequested)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no draft change request to submit")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load draft")
	}
	if err := s.transition(ctx, request, models.StateSubmitted, actor.ID); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor.ID, models.AuditActionRfcSubmit, request)
	s.notify(ctx, models.RfcEventSubmitted, request)
	return request, nil
}

// submittedRequest loads the field's request under review: the named
// creator's when requestedBy is set, the oldest one otherwise.
func (s *RfcService) submittedRequest(ctx context.Context, fieldID int64, requestedBy string) (*models.ChangeRequest, error) {
	if requestedBy != "" {
		return s.repo.FindByUserAndState(ctx, fieldID, requestedBy, models.StateSubmitted)
	}
	return s.repo.FirstByState(ctx, fieldID, models.StateSubmitted)
}

// Accept approves a submitted request on the field and applies its snapshot.
// requestedBy selects which creator's request to decide; empty means the
// oldest submitted one. The apply rewrites the stored snapshot with the
// persisted ids inside the same transaction, so a decided request can always
// be re-run safely.
func (s *RfcService) Accept(ctx context.Context, actor models.Actor, fieldID int64, requestedBy string) (*models.ChangeRequest, error) {
	if !actor.Can(models.CapabilityEditAll) {
		return nil, appErrors.ErrForbidden
	}
	request, err := s.submittedRequest(ctx, fieldID, requestedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no submitted change request to accept")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submitted request")
	}

	// Decode before transitioning: an undecodable snapshot must leave the
	// request SUBMITTED so the work stays visible and actionable.
	modules, err := DecodeSnapshot(request.Snapshot)
	if err != nil {
		s.logger.Error("refusing to accept change request with undecodable snapshot",
			zap.String("rfc_id", request.ID), zap.Error(err))
		return nil, appErrors.Clone(appErrors.ErrInvalidSnapshot, "")
	}

	if err := s.transition(ctx, request, models.StateAccepted, actor.ID); err != nil {
		return nil, err
	}
	if err := s.programme.ApplySnapshot(ctx, request.FieldID, request.ID, modules); err != nil {
		s.logger.Error("accepted change request failed to apply, reapply once the cause is fixed",
			zap.String("rfc_id", request.ID), zap.Error(err))
		return nil, err
	}
	s.emitAudit(ctx, actor.ID, models.AuditActionRfcAccept, request)
	s.notify(ctx, models.RfcEventAccepted, request)
	return request, nil
}

// Reject declines a submitted request on the field without touching programme
// data. requestedBy selects which creator's request; empty means the oldest.
// The editor can redraft afterwards.
func (s *RfcService) Reject(ctx context.Context, actor models.Actor, fieldID int64, requestedBy string) (*models.ChangeRequest, error) {
	if !actor.Can(models.CapabilityEditAll) {
		return nil, appErrors.ErrForbidden
	}
	request, err := s.submittedRequest(ctx, fieldID, requestedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no submitted change request to reject")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submitted request")
	}
	if err := s.transition(ctx, request, models.StateRejected, actor.ID); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor.ID, models.AuditActionRfcReject, request)
	s.notify(ctx, models.RfcEventRejected, request)
	return request, nil
}

// Cancel withdraws an in-flight request, draft or submitted. requestedBy
// names whose request to withdraw; empty means the actor's own. Withdrawing
// another creator's request needs the edit-all capability.
func (s *RfcService) Cancel(ctx context.Context, actor models.Actor, fieldID int64, requestedBy string) (*models.ChangeRequest, error) {
	target := requestedBy
	if target == "" {
		target = actor.ID
	}
	if target != actor.ID && !actor.Can(models.CapabilityEditAll) {
		return nil, appErrors.ErrForbidden
	}
	request, err := s.repo.FindByUserAndState(ctx, fieldID, target, models.StateRequested)
	if errors.Is(err, sql.ErrNoRows) {
		request, err = s.repo.FindByUserAndState(ctx, fieldID, target, models.StateSubmitted)
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no in-flight change request to cancel")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if err := s.transition(ctx, request, models.StateCancelled, actor.ID); err != nil {
		return nil, err
	}
	s.emitAudit(ctx, actor.ID, models.AuditActionRfcCancel, request)
	return request, nil
}

// Remove hard-deletes a request. Administrative cleanup only; the workflow
// itself never deletes.
func (s *RfcService) Remove(ctx context.Context, actor models.Actor, rfcID string) error {
	if !actor.Can(models.CapabilityEditAll) {
		return appErrors.ErrForbidden
	}
	request, err := s.repo.GetByID(ctx, rfcID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if err := s.repo.Remove(ctx, rfcID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to remove request")
	}
	s.emitAudit(ctx, actor.ID, models.AuditActionRfcRemove, request)
	return nil
}

// Reapply re-runs an ACCEPTED request's snapshot through the programme
// merge. The snapshot only carries persisted ids once an apply has gone
// through, so this is safe to repeat; it is the repair path when the
// original accept recorded the decision but failed mid-apply.
func (s *RfcService) Reapply(ctx context.Context, actor models.Actor, rfcID string) error {
	if !actor.Can(models.CapabilityEditAll) {
		return appErrors.ErrForbidden
	}
	request, err := s.repo.GetByID(ctx, rfcID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.ErrNotFound
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if request.State != models.StateAccepted {
		return appErrors.Clone(appErrors.ErrPreconditionFailed, "only accepted requests can be reapplied")
	}
	modules, err := DecodeSnapshot(request.Snapshot)
	if err != nil {
		return appErrors.Clone(appErrors.ErrInvalidSnapshot, "")
	}
	if err := s.programme.ApplySnapshot(ctx, request.FieldID, request.ID, modules); err != nil {
		return err
	}
	s.emitAudit(ctx, actor.ID, models.AuditActionRfcReapply, request)
	return nil
}

// Get returns one change request enforcing visibility: editors only see
// their own requests.
func (s *RfcService) Get(ctx context.Context, actor models.Actor, rfcID string) (*models.ChangeRequest, error) {
	request, err := s.repo.GetByID(ctx, rfcID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	if !actor.Can(models.CapabilityEditAll) && request.RequestedBy != actor.ID {
		return nil, appErrors.ErrForbidden
	}
	return request, nil
}

// List returns change requests the actor is allowed to see: edit-all actors
// see everything, editors only their own.
func (s *RfcService) List(ctx context.Context, actor models.Actor, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	switch {
	case actor.Can(models.CapabilityEditAll):
		// full access, no extra filters
	case actor.Can(models.CapabilityEdit):
		filter.RequestedBy = actor.ID
	default:
		return nil, appErrors.ErrForbidden
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list change requests")
	}
	return requests, nil
}

// Permissions computes the action matrix for the actor on the field.
func (s *RfcService) Permissions(ctx context.Context, actor models.Actor, fieldID int64) (RfcPermissions, error) {
	perms := RfcPermissions{}

	canAdd, err := s.CanAdd(ctx, actor, fieldID)
	if err != nil {
		return perms, err
	}
	perms.CanAdd = canAdd

	if actor.Can(models.CapabilityEdit) {
		if _, err := s.repo.FindByUserAndState(ctx, fieldID, actor.ID, models.StateRequested); err == nil {
			perms.CanSubmit = true
			perms.CanCancel = true
		} else if !errors.Is(err, sql.ErrNoRows) {
			return perms, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to probe draft")
		}
		if _, err := s.repo.FindByUserAndState(ctx, fieldID, actor.ID, models.StateSubmitted); err == nil {
			perms.CanCancel = true
		} else if !errors.Is(err, sql.ErrNoRows) {
			return perms, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to probe submitted draft")
		}
	}

	if actor.Can(models.CapabilityEditAll) {
		submitted, err := s.repo.CountByState(ctx, fieldID, models.StateSubmitted)
		if err != nil {
			return perms, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to probe submitted requests")
		}
		perms.CanAccept = submitted > 0
		perms.CanReject = submitted > 0
	}
	return perms, nil
}

// transition runs the optimistic state change and mutates the in-memory
// request on success. A lost race surfaces as a conflict.
func (s *RfcService) transition(ctx context.Context, request *models.ChangeRequest, to models.RequestState, decidedBy string) error {
	if err := s.repo.Transition(ctx, request.ID, request.State, to, decidedBy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "change request was decided concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to transition request")
	}
	request.State = to
	request.DecidedBy = &decidedBy
	return nil
}

func (s *RfcService) notify(ctx context.Context, event models.RfcEvent, request *models.ChangeRequest) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ctx, event, request)
}

func (s *RfcService) emitAudit(ctx context.Context, userID, action string, request *models.ChangeRequest) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "change_request",
		ResourceID: &request.ID,
		IPAddress:  "system",
		UserAgent:  "rfc-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
