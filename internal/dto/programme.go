package dto

import (
	"github.com/noah-isme/course-programme-api/internal/models"
)

// SaveProgrammeRequest is the payload the editor posts: the full module tree
// including deletion flags and negative ids for client-created records.
type SaveProgrammeRequest struct {
	Modules []models.Module `json:"modules" binding:"required"`
}

// SaveProgrammeResponse reports the save outcome. Request is populated only
// when the save was diverted into a change-request draft.
type SaveProgrammeResponse struct {
	Outcome string                   `json:"outcome"`
	Request *ChangeRequestResponse   `json:"request,omitempty"`
	Errors  []models.ValidationError `json:"errors,omitempty"`
}

// SortOrderRequest moves one record relative to another. A zero PrevID moves
// the record to the front of its parent.
type SortOrderRequest struct {
	Type     string `json:"type" binding:"required"`
	ModuleID int64  `json:"moduleid" binding:"required"`
	ID       int64  `json:"id" binding:"required"`
	PrevID   int64  `json:"previd"`
}

// ProgrammeResponse wraps the tree with derived column totals.
type ProgrammeResponse struct {
	Programme *models.Programme  `json:"programme"`
	Totals    map[string]float64 `json:"totals"`
	CanEdit   bool               `json:"canedit"`
}
