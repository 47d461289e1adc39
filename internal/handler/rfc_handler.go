package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-programme-api/internal/dto"
	"github.com/noah-isme/course-programme-api/internal/models"
	"github.com/noah-isme/course-programme-api/internal/service"
	appErrors "github.com/noah-isme/course-programme-api/pkg/errors"
	"github.com/noah-isme/course-programme-api/pkg/response"
)

type rfcService interface {
	Current(ctx context.Context, actor models.Actor, fieldID int64) (*models.ChangeRequest, error)
	Submit(ctx context.Context, actor models.Actor, fieldID int64) (*models.ChangeRequest, error)
	Accept(ctx context.Context, actor models.Actor, fieldID int64, requestedBy string) (*models.ChangeRequest, error)
	Reject(ctx context.Context, actor models.Actor, fieldID int64, requestedBy string) (*models.ChangeRequest, error)
	Cancel(ctx context.Context, actor models.Actor, fieldID int64, requestedBy string) (*models.ChangeRequest, error)
	Get(ctx context.Context, actor models.Actor, rfcID string) (*models.ChangeRequest, error)
	Remove(ctx context.Context, actor models.Actor, rfcID string) error
	Reapply(ctx context.Context, actor models.Actor, rfcID string) error
	List(ctx context.Context, actor models.Actor, filter models.ChangeRequestFilter) ([]models.ChangeRequest, error)
	Permissions(ctx context.Context, actor models.Actor, fieldID int64) (service.RfcPermissions, error)
}

type historyService interface {
	History(ctx context.Context, rfcID string) []models.Module
}

// RfcHandler exposes REST endpoints for the change-request workflow.
type RfcHandler struct {
	service   rfcService
	programme historyService
}

// NewRfcHandler constructs the handler.
func NewRfcHandler(service rfcService, programme historyService) *RfcHandler {
	return &RfcHandler{service: service, programme: programme}
}

func (h *RfcHandler) actor(c *gin.Context) (models.Actor, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return models.Actor{}, false
	}
	return claims.Actor(), true
}

// Current godoc
// @Summary Resolve the relevant change request for the actor on a field
// @Tags ChangeRequests
// @Produce json
// @Param fieldid path int true "Field instance ID"
// @Success 200 {object} response.Envelope
// @Router /programmes/{fieldid}/rfc [get]
func (h *RfcHandler) Current(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	fieldID, ok := fieldIDParam(c)
	if !ok {
		return
	}
	request, err := h.service.Current(c.Request.Context(), actor, fieldID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewChangeRequestResponse(request), nil)
}

// Permissions godoc
// @Summary Compute the workflow action matrix for the actor
// @Tags ChangeRequests
// @Produce json
// @Param fieldid path int true "Field instance ID"
// @Success 200 {object} response.Envelope
// @Router /programmes/{fieldid}/rfc/permissions [get]
func (h *RfcHandler) Permissions(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	fieldID, ok := fieldIDParam(c)
	if !ok {
		return
	}
	perms, err := h.service.Permissions(c.Request.Context(), actor, fieldID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, perms, nil)
}

func (h *RfcHandler) transition(c *gin.Context, fn func(ctx context.Context, actor models.Actor, fieldID int64) (*models.ChangeRequest, error)) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	fieldID, ok := fieldIDParam(c)
	if !ok {
		return
	}
	request, err := fn(c.Request.Context(), actor, fieldID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewChangeRequestResponse(request), nil)
}

// Submit godoc
// @Summary Submit the actor's draft for review
// @Tags ChangeRequests
// @Produce json
// @Param fieldid path int true "Field instance ID"
// @Success 200 {object} response.Envelope
// @Router /programmes/{fieldid}/rfc/submit [post]
func (h *RfcHandler) Submit(c *gin.Context) { h.transition(c, h.service.Submit) }

// Accept godoc
// @Summary Accept a submitted request on the field and apply its snapshot
// @Tags ChangeRequests
// @Produce json
// @Param fieldid path int true "Field instance ID"
// @Param userid query string false "Creator whose submitted request to accept; defaults to the oldest"
// @Success 200 {object} response.Envelope
// @Router /programmes/{fieldid}/rfc/accept [post]
func (h *RfcHandler) Accept(c *gin.Context) {
	requestedBy := c.Query("userid")
	h.transition(c, func(ctx context.Context, actor models.Actor, fieldID int64) (*models.ChangeRequest, error) {
		return h.service.Accept(ctx, actor, fieldID, requestedBy)
	})
}

// Reject godoc
// @Summary Reject a submitted request on the field
// @Tags ChangeRequests
// @Produce json
// @Param fieldid path int true "Field instance ID"
// @Param userid query string false "Creator whose submitted request to reject; defaults to the oldest"
// @Success 200 {object} response.Envelope
// @Router /programmes/{fieldid}/rfc/reject [post]
func (h *RfcHandler) Reject(c *gin.Context) {
	requestedBy := c.Query("userid")
	h.transition(c, func(ctx context.Context, actor models.Actor, fieldID int64) (*models.ChangeRequest, error) {
		return h.service.Reject(ctx, actor, fieldID, requestedBy)
	})
}

// Cancel godoc
// @Summary Withdraw an in-flight request
// @Tags ChangeRequests
// @Produce json
// @Param fieldid path int true "Field instance ID"
// @Param userid query string false "Creator whose request to withdraw; defaults to the actor's own"
// @Success 200 {object} response.Envelope
// @Router /programmes/{fieldid}/rfc/cancel [post]
func (h *RfcHandler) Cancel(c *gin.Context) {
	requestedBy := c.Query("userid")
	h.transition(c, func(ctx context.Context, actor models.Actor, fieldID int64) (*models.ChangeRequest, error) {
		return h.service.Cancel(ctx, actor, fieldID, requestedBy)
	})
}

// Remove godoc
// @Summary Hard-delete a change request
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 204
// @Router /rfcs/{id} [delete]
func (h *RfcHandler) Remove(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	if err := h.service.Remove(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Reapply godoc
// @Summary Re-apply an accepted request's snapshot
// @Description Repair path for an accept that recorded its decision but failed before the snapshot landed.
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 204
// @Router /rfcs/{id}/reapply [post]
func (h *RfcHandler) Reapply(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	if err := h.service.Reapply(c.Request.Context(), actor, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// List godoc
// @Summary List change requests visible to the actor
// @Tags ChangeRequests
// @Produce json
// @Param fieldid query int false "Field instance ID"
// @Param state query int false "Workflow state code"
// @Param limit query int false "Page size"
// @Param offset query int false "Page offset"
// @Success 200 {object} response.Envelope
// @Router /rfcs [get]
func (h *RfcHandler) List(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var query dto.ChangeRequestQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid query"))
		return
	}
	filter := models.ChangeRequestFilter{
		FieldID: query.FieldID,
		Limit:   query.Limit,
		Offset:  query.Offset,
	}
	if query.State != nil {
		filter.States = []models.RequestState{models.RequestState(*query.State)}
	}
	requests, err := h.service.List(c.Request.Context(), actor, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ChangeRequestListResponse(requests), nil)
}

// History godoc
// @Summary Decode a request's snapshot and list the field's request timeline
// @Tags ChangeRequests
// @Produce json
// @Param id path string true "Change request ID"
// @Success 200 {object} response.Envelope
// @Router /rfcs/{id}/history [get]
func (h *RfcHandler) History(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	rfcID := c.Param("id")
	request, err := h.service.Get(c.Request.Context(), actor, rfcID)
	if err != nil {
		response.Error(c, err)
		return
	}
	modules := h.programme.History(c.Request.Context(), rfcID)

	timeline, err := h.service.List(c.Request.Context(), actor, models.ChangeRequestFilter{FieldID: request.FieldID})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.HistoryResponse{
		Modules:  modules,
		Requests: dto.ChangeRequestListResponse(timeline),
	}, nil)
}
