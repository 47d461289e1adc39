package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/course-programme-api/internal/dto"
	"github.com/noah-isme/course-programme-api/internal/models"
	"github.com/noah-isme/course-programme-api/internal/service"
	appErrors "github.com/noah-isme/course-programme-api/pkg/errors"
	"github.com/noah-isme/course-programme-api/pkg/export"
	"github.com/noah-isme/course-programme-api/pkg/response"
)

type programmeService interface {
	GetData(ctx context.Context, fieldID int64) (*models.Programme, error)
	CanEdit(ctx context.Context, actor models.Actor, fieldID int64) (bool, error)
	ValidateData(modules []models.Module) []models.ValidationError
	ValidateWeights(modules []models.Module) []models.ValidationError
	Save(ctx context.Context, actor models.Actor, fieldID int64, modules []models.Module) (service.SaveOutcome, *models.ChangeRequest, error)
	UpdateSortOrder(ctx context.Context, actor models.Actor, kind string, moduleID, id, prevID int64) error
	ColumnTotals(modules []models.Module) map[string]float64
	CSVData(ctx context.Context, fieldID int64, disciplineNames, competencyNames map[int64]string) (export.Dataset, error)
}

type catalogNames interface {
	NamesByID(ctx context.Context, kind models.AssignmentKind) (map[int64]string, error)
}

// ProgrammeHandler exposes REST endpoints for programme data.
type ProgrammeHandler struct {
	service        programmeService
	catalog        catalogNames
	csv            *export.CSVExporter
	pdf            *export.PDFExporter
	exportsEnabled bool
}

// NewProgrammeHandler constructs the handler.
func NewProgrammeHandler(service programmeService, catalog catalogNames, exportsEnabled bool) *ProgrammeHandler {
	return &ProgrammeHandler{
		service:        service,
		catalog:        catalog,
		csv:            export.NewCSVExporter(),
		pdf:            export.NewPDFExporter(),
		exportsEnabled: exportsEnabled,
	}
}

func fieldIDParam(c *gin.Context) (int64, bool) {
	fieldID, err := strconv.ParseInt(c.Param("fieldid"), 10, 64)
	if err != nil || fieldID <= 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid field id"))
		return 0, false
	}
	return fieldID, true
}

// Get godoc
// @Summary Get the programme tree for a field instance
// @Tags Programmes
// @Produce json
// @Param fieldid path int true "Field instance ID"
// @Success 200 {object} response.Envelope
// @Router /programmes/{fieldid} [get]
func (h *ProgrammeHandler) Get(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fieldID, ok := fieldIDParam(c)
	if !ok {
		return
	}
	programme, err := h.service.GetData(c.Request.Context(), fieldID)
	if err != nil {
		response.Error(c, err)
		return
	}
	canEdit, err := h.service.CanEdit(c.Request.Context(), claims.Actor(), fieldID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.ProgrammeResponse{
		Programme: programme,
		Totals:    h.service.ColumnTotals(programme.Modules),
		CanEdit:   canEdit,
	}, nil)
}

// Save godoc
// @Summary Save the programme tree
// @Description Persists the posted module tree, or stages a change request when the actor's protected changes need approval.
// @Tags Programmes
// @Accept json
// @Produce json
// @Param fieldid path int true "Field instance ID"
// @Param payload body dto.SaveProgrammeRequest true "Programme payload"
// @Success 200 {object} response.Envelope
// @Router /programmes/{fieldid} [put]
func (h *ProgrammeHandler) Save(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	fieldID, ok := fieldIDParam(c)
	if !ok {
		return
	}
	var req dto.SaveProgrammeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid programme payload"))
		return
	}

	errs := h.service.ValidateData(req.Modules)
	errs = append(errs, h.service.ValidateWeights(req.Modules)...)
	if len(errs) > 0 {
		response.JSON(c, http.StatusBadRequest, dto.SaveProgrammeResponse{Errors: errs}, nil)
		return
	}

	outcome, request, err := h.service.Save(c.Request.Context(), claims.Actor(), fieldID, req.Modules)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.SaveProgrammeResponse{
		Outcome: string(outcome),
		Request: dto.NewChangeRequestResponse(request),
	}, nil)
}

// SortOrder godoc
// @Summary Move a row within its module
// @Tags Programmes
// @Accept json
// @Produce json
// @Param payload body dto.SortOrderRequest true "Sort move"
// @Success 204
// @Router /programmes/sortorder [post]
func (h *ProgrammeHandler) SortOrder(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.SortOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid sort payload"))
		return
	}
	err := h.service.UpdateSortOrder(c.Request.Context(), claims.Actor(), req.Type, req.ModuleID, req.ID, req.PrevID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// ExportCSV godoc
// @Summary Export the programme as CSV
// @Tags Programmes
// @Produce text/csv
// @Param fieldid path int true "Field instance ID"
// @Success 200 {string} string
// @Router /programmes/{fieldid}/export/csv [get]
func (h *ProgrammeHandler) ExportCSV(c *gin.Context) {
	dataset, ok := h.exportDataset(c)
	if !ok {
		return
	}
	payload, err := h.csv.Render(dataset)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=programme-%s.csv", c.Param("fieldid")))
	c.Data(http.StatusOK, "text/csv", payload)
}

// ExportPDF godoc
// @Summary Export the programme as PDF
// @Tags Programmes
// @Produce application/pdf
// @Param fieldid path int true "Field instance ID"
// @Success 200 {string} string
// @Router /programmes/{fieldid}/export/pdf [get]
func (h *ProgrammeHandler) ExportPDF(c *gin.Context) {
	dataset, ok := h.exportDataset(c)
	if !ok {
		return
	}
	payload, err := h.pdf.Render(dataset, fmt.Sprintf("Course programme %s", c.Param("fieldid")))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=programme-%s.pdf", c.Param("fieldid")))
	c.Data(http.StatusOK, "application/pdf", payload)
}

func (h *ProgrammeHandler) exportDataset(c *gin.Context) (export.Dataset, bool) {
	if !h.exportsEnabled {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "exports are disabled"))
		return export.Dataset{}, false
	}
	if claimsFromContext(c) == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return export.Dataset{}, false
	}
	fieldID, ok := fieldIDParam(c)
	if !ok {
		return export.Dataset{}, false
	}
	ctx := c.Request.Context()
	disciplines, err := h.catalog.NamesByID(ctx, models.KindDiscipline)
	if err != nil {
		response.Error(c, err)
		return export.Dataset{}, false
	}
	competencies, err := h.catalog.NamesByID(ctx, models.KindCompetency)
	if err != nil {
		response.Error(c, err)
		return export.Dataset{}, false
	}
	dataset, err := h.service.CSVData(ctx, fieldID, disciplines, competencies)
	if err != nil {
		response.Error(c, err)
		return export.Dataset{}, false
	}
	return dataset, true
}
