package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-programme-api/internal/dto"
	"github.com/noah-isme/course-programme-api/internal/middleware"
	"github.com/noah-isme/course-programme-api/internal/models"
	"github.com/noah-isme/course-programme-api/internal/service"
	appErrors "github.com/noah-isme/course-programme-api/pkg/errors"
	"github.com/noah-isme/course-programme-api/pkg/export"
)

type programmeServiceMock struct {
	programme     *models.Programme
	getErr        error
	canEdit       bool
	validateErrs  []models.ValidationError
	weightErrs    []models.ValidationError
	saveOutcome   service.SaveOutcome
	saveRequest   *models.ChangeRequest
	saveErr       error
	sortErr       error
	dataset       export.Dataset
	datasetErr    error
	saveCalled    bool
	sortCalled    bool
	lastFieldID   int64
	lastSortType  string
	lastSortID   int64
	lastSortPrev  int64
	lastSortValue int64
}

func (m *programmeServiceMock) GetData(ctx context.Context, fieldID int64) (*models.Programme, error) {
	m.lastFieldID = fieldID
	return m.programme, m.getErr
}

func (m *programmeServiceMock) CanEdit(ctx context.Context, actor models.Actor, fieldID int64) (bool, error) {
	return m.canEdit, nil
}

func (m *programmeServiceMock) ValidateData(modules []models.Module) []models.ValidationError {
	return m.validateErrs
}

func (m *programmeServiceMock) ValidateWeights(modules []models.Module) []models.ValidationError {
	return m.weightErrs
}

func (m *programmeServiceMock) Save(ctx context.Context, actor models.Actor, fieldID int64, modules []models.Module) (service.SaveOutcome, *models.ChangeRequest, error) {
	m.saveCalled = true
	m.lastFieldID = fieldID
	return m.saveOutcome, m.saveRequest, m.saveErr
}

func (m *programmeServiceMock) UpdateSortOrder(ctx context.Context, actor models.Actor, kind string, moduleID, id, prevID int64) error {
	m.sortCalled = true
	m.lastSortType = kind
	m.lastSortValue = moduleID
	m.lastSortID = id
	m.lastSortPrev = prevID
	return m.sortErr
}

func (m *programmeServiceMock) ColumnTotals(modules []models.Module) map[string]float64 {
	return map[string]float64{"cm": 4}
}

func (m *programmeServiceMock) CSVData(ctx context.Context, fieldID int64, disciplineNames, competencyNames map[int64]string) (export.Dataset, error) {
	return m.dataset, m.datasetErr
}

type catalogNamesMock struct {
	names map[int64]string
	err   error
}

func (m *catalogNamesMock) NamesByID(ctx context.Context, kind models.AssignmentKind) (map[int64]string, error) {
	return m.names, m.err
}

func programmeTestContext(t *testing.T, method, target string, body []byte, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var req *http.Request
	if body != nil {
		req, _ = http.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, target, nil)
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func TestProgrammeHandlerGet(t *testing.T) {
	mockSvc := &programmeServiceMock{
		programme: &models.Programme{FieldID: 10, Modules: []models.Module{{ID: 1, Name: "Module A"}}},
		canEdit:   true,
	}
	handler := NewProgrammeHandler(mockSvc, &catalogNamesMock{}, true)

	c, w := programmeTestContext(t, http.MethodGet, "/programmes/10", nil, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "fieldid", Value: "10"}}

	handler.Get(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(10), mockSvc.lastFieldID)
	assert.Contains(t, w.Body.String(), `"canedit":true`)
}

func TestProgrammeHandlerGetInvalidFieldID(t *testing.T) {
	handler := NewProgrammeHandler(&programmeServiceMock{}, &catalogNamesMock{}, true)

	c, w := programmeTestContext(t, http.MethodGet, "/programmes/abc", nil, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "fieldid", Value: "abc"}}

	handler.Get(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProgrammeHandlerGetUnauthorized(t *testing.T) {
	handler := NewProgrammeHandler(&programmeServiceMock{}, &catalogNamesMock{}, true)

	c, w := programmeTestContext(t, http.MethodGet, "/programmes/10", nil, nil)
	c.Params = gin.Params{{Key: "fieldid", Value: "10"}}

	handler.Get(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProgrammeHandlerSaveValidationErrors(t *testing.T) {
	mockSvc := &programmeServiceMock{
		validateErrs: []models.ValidationError{{Module: 1, Row: 2, Column: "weeks", Message: "must be a whole number"}},
	}
	handler := NewProgrammeHandler(mockSvc, &catalogNamesMock{}, true)

	payload, _ := json.Marshal(dto.SaveProgrammeRequest{Modules: []models.Module{{ID: 1, Name: "Module A"}}})
	c, w := programmeTestContext(t, http.MethodPut, "/programmes/10", payload, &models.JWTClaims{UserID: "teacher", Role: models.RoleTeacher})
	c.Params = gin.Params{{Key: "fieldid", Value: "10"}}

	handler.Save(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.saveCalled)
	assert.Contains(t, w.Body.String(), "must be a whole number")
}

func TestProgrammeHandlerSaveOutcomePassthrough(t *testing.T) {
	mockSvc := &programmeServiceMock{
		saveOutcome: service.SaveNewRfc,
		saveRequest: &models.ChangeRequest{ID: "rfc-1", FieldID: 10, State: models.StateRequested, RequestedBy: "teacher"},
	}
	handler := NewProgrammeHandler(mockSvc, &catalogNamesMock{}, true)

	payload, _ := json.Marshal(dto.SaveProgrammeRequest{Modules: []models.Module{{ID: 1, Name: "Module A"}}})
	c, w := programmeTestContext(t, http.MethodPut, "/programmes/10", payload, &models.JWTClaims{UserID: "teacher", Role: models.RoleTeacher})
	c.Params = gin.Params{{Key: "fieldid", Value: "10"}}

	handler.Save(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, mockSvc.saveCalled)
	assert.Contains(t, w.Body.String(), `"outcome":"newrfc"`)
	assert.Contains(t, w.Body.String(), "rfc-1")
}

func TestProgrammeHandlerSaveInvalidBody(t *testing.T) {
	mockSvc := &programmeServiceMock{}
	handler := NewProgrammeHandler(mockSvc, &catalogNamesMock{}, true)

	c, w := programmeTestContext(t, http.MethodPut, "/programmes/10", []byte(`{"modules":`), &models.JWTClaims{UserID: "teacher", Role: models.RoleTeacher})
	c.Params = gin.Params{{Key: "fieldid", Value: "10"}}

	handler.Save(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, mockSvc.saveCalled)
}

func TestProgrammeHandlerSortOrder(t *testing.T) {
	mockSvc := &programmeServiceMock{}
	handler := NewProgrammeHandler(mockSvc, &catalogNamesMock{}, true)

	payload, _ := json.Marshal(dto.SortOrderRequest{Type: "row", ModuleID: 5, ID: 2, PrevID: 1})
	c, w := programmeTestContext(t, http.MethodPost, "/programmes/sortorder", payload, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})

	handler.SortOrder(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, mockSvc.sortCalled)
	assert.Equal(t, "row", mockSvc.lastSortType)
	assert.Equal(t, int64(2), mockSvc.lastSortID)
	assert.Equal(t, int64(1), mockSvc.lastSortPrev)
}

func TestProgrammeHandlerSortOrderServiceError(t *testing.T) {
	mockSvc := &programmeServiceMock{sortErr: appErrors.ErrForbidden}
	handler := NewProgrammeHandler(mockSvc, &catalogNamesMock{}, true)

	payload, _ := json.Marshal(dto.SortOrderRequest{Type: "row", ModuleID: 5, ID: 2})
	c, w := programmeTestContext(t, http.MethodPost, "/programmes/sortorder", payload, &models.JWTClaims{UserID: "student", Role: models.RoleStudent})

	handler.SortOrder(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestProgrammeHandlerExportCSV(t *testing.T) {
	mockSvc := &programmeServiceMock{
		dataset: export.Dataset{
			Headers: []string{"module", "session"},
			Records: [][]string{{"Module A", "Intro"}},
		},
	}
	handler := NewProgrammeHandler(mockSvc, &catalogNamesMock{names: map[int64]string{1: "Radiology"}}, true)

	c, w := programmeTestContext(t, http.MethodGet, "/programmes/10/export/csv", nil, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "fieldid", Value: "10"}}

	handler.ExportCSV(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "programme-10.csv")
	assert.Contains(t, w.Body.String(), "Module A")
}

func TestProgrammeHandlerExportDisabled(t *testing.T) {
	handler := NewProgrammeHandler(&programmeServiceMock{}, &catalogNamesMock{}, false)

	c, w := programmeTestContext(t, http.MethodGet, "/programmes/10/export/csv", nil, &models.JWTClaims{UserID: "admin", Role: models.RoleAdmin})
	c.Params = gin.Params{{Key: "fieldid", Value: "10"}}

	handler.ExportCSV(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}
