package models

import "time"

// RequestState captures workflow states for change requests. The numeric
// codes are stored as-is and must stay stable across releases.
type RequestState int

const (
	StateCancelled RequestState = 0
	StateRequested RequestState = 1
	StateSubmitted RequestState = 2
	StateAccepted  RequestState = 3
	StateRejected  RequestState = 4
)

// String returns the canonical label for the state.
func (s RequestState) String() string {
	switch s {
	case StateCancelled:
		return "CANCELLED"
	case StateRequested:
		return "REQUESTED"
	case StateSubmitted:
		return "SUBMITTED"
	case StateAccepted:
		return "ACCEPTED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// Active reports whether the state counts against the single-active-request
/// invariant: at most one REQUESTED or SUBMITTED request per (field, user).
func (s RequestState) Active() bool {
	return s == StateRequested || s == StateSubmitted
}

// ChangeRequest is a staged, approvable snapshot of proposed programme
// changes. RequestedBy is the drafting editor; DecidedBy records whoever
// accepted or rejected the request (nil while the request is in flight).
type ChangeRequest struct {
	ID          string       `db:"id" json:"id"`
	FieldID     int64        `db:"field_id" json:"field_id"`
	State       RequestState `db:"state" json:"state"`
	Snapshot    []byte       `db:"snapshot" json:"snapshot,omitempty"`
	RequestedBy string       `db:"requested_by" json:"requested_by"`
	DecidedBy   *string      `db:"decided_by" json:"decided_by,omitempty"`
	CreatedAt   time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at" json:"updated_at"`
}

// ChangeRequestFilter constrains listing queries.
type ChangeRequestFilter struct {
	FieldID     int64
	States      []RequestState
	RequestedBy string
	Limit       int
	Offset      int
}

// RfcEvent identifies a workflow transition for notification purposes.
type RfcEvent string

const (
	RfcEventSubmitted RfcEvent = "rfc_submitted"
	RfcEventAccepted  RfcEvent = "rfc_accepted"
	RfcEventRejected  RfcEvent = "rfc_rejected"
)
