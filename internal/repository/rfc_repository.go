package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-programme-api/internal/models"
)

// RfcRepository persists change-request workflow data. A partial unique index
// on (field_id, requested_by) over active states backs the single-active
// invariant; UpsertDraft additionally serialises concurrent drafting in a
// transaction so two creates never race into two REQUESTED rows.
type RfcRepository struct {
	db *sqlx.DB
}

// NewRfcRepository constructs the repository.
func NewRfcRepository(db *sqlx.DB) *RfcRepository {
	return &RfcRepository{db: db}
}

const rfcColumns = `id, field_id, state, snapshot, requested_by, decided_by, created_at, updated_at`

// UpsertDraft creates a REQUESTED request for (field, user) or, when one
// already exists, overwrites its snapshot in place. Re-drafting is an update,
// not a new record.
func (r *RfcRepository) UpsertDraft(ctx context.Context, fieldID int64, userID string, snapshot []byte) (*models.ChangeRequest, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin draft tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var existing models.ChangeRequest
	query := fmt.Sprintf(`SELECT %s FROM change_requests
	WHERE field_id = $1 AND requested_by = $2 AND state = $3
	ORDER BY created_at LIMIT 1 FOR UPDATE`, rfcColumns)
	err = tx.GetContext(ctx, &existing, query, fieldID, userID, models.StateRequested)
	now := time.Now().UTC()
	switch {
	case err == nil:
		const update = `UPDATE change_requests SET snapshot = $2, updated_at = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, existing.ID, snapshot, now); err != nil {
			return nil, fmt.Errorf("update draft %s: %w", existing.ID, err)
		}
		existing.Snapshot = snapshot
		existing.UpdatedAt = now
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit draft tx: %w", err)
		}
		return &existing, nil
	case err == sql.ErrNoRows:
		request := &models.ChangeRequest{
			ID:          uuid.NewString(),
			FieldID:     fieldID,
			State:       models.StateRequested,
			Snapshot:    snapshot,
			RequestedBy: userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		const insert = `INSERT INTO change_requests (id, field_id, state, snapshot, requested_by, decided_by, created_at, updated_at)
		VALUES (:id, :field_id, :state, :snapshot, :requested_by, :decided_by, :created_at, :updated_at)`
		if _, err := tx.NamedExecContext(ctx, insert, request); err != nil {
			return nil, fmt.Errorf("insert draft: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit draft tx: %w", err)
		}
		return request, nil
	default:
		return nil, fmt.Errorf("find draft: %w", err)
	}
}

// GetByID fetches a change request by identifier.
func (r *RfcRepository) GetByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_requests WHERE id = $1`, rfcColumns)
	var request models.ChangeRequest
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// FindByUserAndState returns the oldest request for (field, user) in the
// given state, or sql.ErrNoRows.
func (r *RfcRepository) FindByUserAndState(ctx context.Context, fieldID int64, userID string, state models.RequestState) (*models.ChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_requests
	WHERE field_id = $1 AND requested_by = $2 AND state = $3
	ORDER BY created_at LIMIT 1`, rfcColumns)
	var request models.ChangeRequest
	if err := r.db.GetContext(ctx, &request, query, fieldID, userID, state); err != nil {
		return nil, err
	}
	return &request, nil
}

// FirstByState returns the oldest request on the field in the given state
// regardless of creator, or sql.ErrNoRows.
func (r *RfcRepository) FirstByState(ctx context.Context, fieldID int64, state models.RequestState) (*models.ChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_requests
	WHERE field_id = $1 AND state = $2 ORDER BY created_at LIMIT 1`, rfcColumns)
	var request models.ChangeRequest
	if err := r.db.GetContext(ctx, &request, query, fieldID, state); err != nil {
		return nil, err
	}
	return &request, nil
}

// CountByState returns how many requests on the field are in the state.
func (r *RfcRepository) CountByState(ctx context.Context, fieldID int64, state models.RequestState) (int, error) {
	const query = `SELECT COUNT(*) FROM change_requests WHERE field_id = $1 AND state = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, fieldID, state); err != nil {
		return 0, fmt.Errorf("count requests in state %s: %w", state, err)
	}
	return count, nil
}

// List returns change requests matching the filter, newest first.
func (r *RfcRepository) List(ctx context.Context, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 4)
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM change_requests`, rfcColumns))

	conditions := make([]string, 0, 3)
	if filter.FieldID != 0 {
		args = append(args, filter.FieldID)
		conditions = append(conditions, fmt.Sprintf("field_id = $%d", len(args)))
	}
	if len(filter.States) > 0 {
		placeholders := make([]string, len(filter.States))
		for i, state := range filter.States {
			args = append(args, state)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("state IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequestedBy != "" {
		args = append(args, filter.RequestedBy)
		conditions = append(conditions, fmt.Sprintf("requested_by = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var requests []models.ChangeRequest
	if err := r.db.SelectContext(ctx, &requests, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	return requests, nil
}

// Transition moves the request from one state to another, recording the
// deciding actor. The optimistic state predicate makes races with a
// concurrent submit or cancel lose cleanly: zero rows affected surfaces as
// sql.ErrNoRows for the caller to treat as a state conflict.
func (r *RfcRepository) Transition(ctx context.Context, id string, from, to models.RequestState, decidedBy string) error {
	const query = `UPDATE change_requests SET state = $3, decided_by = $4, updated_at = $5
	WHERE id = $1 AND state = $2`
	result, err := r.db.ExecContext(ctx, query, id, from, to, decidedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("transition request %s to %s: %w", id, to, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Remove hard-deletes a request. Reserved for the explicit administrative
// remove action; workflow transitions never delete.
func (r *RfcRepository) Remove(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM change_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("remove request %s: %w", id, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check remove rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
