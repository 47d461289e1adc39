package dto

import (
	"time"

	"github.com/noah-isme/course-programme-api/internal/models"
)

// ChangeRequestResponse is the wire shape of a change request. The snapshot
// itself is not included; history endpoints expose the decoded modules.
type ChangeRequestResponse struct {
	ID          string    `json:"id"`
	FieldID     int64     `json:"field_id"`
	State       int       `json:"state"`
	StateLabel  string    `json:"state_label"`
	RequestedBy string    `json:"requested_by"`
	DecidedBy   *string   `json:"decided_by,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewChangeRequestResponse converts the model, returning nil for nil.
func NewChangeRequestResponse(request *models.ChangeRequest) *ChangeRequestResponse {
	if request == nil {
		return nil
	}
	return &ChangeRequestResponse{
		ID:          request.ID,
		FieldID:     request.FieldID,
		State:       int(request.State),
		StateLabel:  request.State.String(),
		RequestedBy: request.RequestedBy,
		DecidedBy:   request.DecidedBy,
		CreatedAt:   request.CreatedAt,
		UpdatedAt:   request.UpdatedAt,
	}
}

// ChangeRequestListResponse converts a slice of models.
func ChangeRequestListResponse(requests []models.ChangeRequest) []ChangeRequestResponse {
	out := make([]ChangeRequestResponse, 0, len(requests))
	for i := range requests {
		out = append(out, *NewChangeRequestResponse(&requests[i]))
	}
	return out
}

// ChangeRequestQuery mirrors the supported listing filters.
type ChangeRequestQuery struct {
	FieldID int64 `form:"fieldid"`
	State   *int  `form:"state"`
	Limit   int   `form:"limit"`
	Offset  int   `form:"offset"`
}

// HistoryResponse carries the decoded snapshot of one request alongside the
// field's request timeline.
type HistoryResponse struct {
	Modules  []models.Module         `json:"modules"`
	Requests []ChangeRequestResponse `json:"rfcs"`
}
