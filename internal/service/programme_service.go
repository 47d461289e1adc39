package service

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/course-programme-api/internal/models"
	"github.com/noah-isme/course-programme-api/internal/repository"
	appErrors "github.com/noah-isme/course-programme-api/pkg/errors"
	"github.com/noah-isme/course-programme-api/pkg/export"
)

// SaveOutcome is the result code a save attempt reports back to the caller.
// The four literals are part of the service contract.
type SaveOutcome string

const (
	SaveOK           SaveOutcome = "ok"
	SaveNewRfc       SaveOutcome = "newrfc"
	SaveNotAllowed   SaveOutcome = "notallowed"
	SaveCannotAddRfc SaveOutcome = "cannotaddrfc"
)

type programmeRepository interface {
	repository.ProgrammeStore
	InTx(ctx context.Context, fn func(store repository.ProgrammeStore) error) error
}

// requestStore is the read-side view of the change-request workflow the
// programme service needs: the submitted-lock probe and snapshot lookup.
type requestStore interface {
	CountByState(ctx context.Context, fieldID int64, state models.RequestState) (int, error)
	GetByID(ctx context.Context, id string) (*models.ChangeRequest, error)
}

// requestGate routes saves that need approval into the change-request
// workflow. Bound after construction because the workflow service applies
// accepted snapshots back through this service.
type requestGate interface {
	Required(actor models.Actor) bool
	CanAdd(ctx context.Context, actor models.Actor, fieldID int64) (bool, error)
	Draft(ctx context.Context, actor models.Actor, fieldID int64, modules []models.Module) (*models.ChangeRequest, error)
}

type programmeCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string)
}

// ProgrammeService owns read/write access to programme data: tree loading
// with caching, validation, the idempotent merge, sort-order maintenance,
// totals and flattening for exports.
type ProgrammeService struct {
	repo     programmeRepository
	requests requestStore
	gate     requestGate
	cache    programmeCache
	audit    auditLogger
	logger   *zap.Logger
	cacheTTL time.Duration
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// NewProgrammeService constructs the service.
func NewProgrammeService(repo programmeRepository, requests requestStore, cache programmeCache, audit auditLogger, logger *zap.Logger, cacheTTL time.Duration) *ProgrammeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 10 * time.Minute
	}
	return &ProgrammeService{
		repo:     repo,
		requests: requests,
		cache:    cache,
		audit:    audit,
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

// BindRequestGate wires the change-request workflow in. Must be called before
// Save; the two services reference each other so binding happens post-build.
func (s *ProgrammeService) BindRequestGate(gate requestGate) {
	s.gate = gate
}

func programmeCacheKey(fieldID int64) string {
	return fmt.Sprintf("programme:%d", fieldID)
}

// GetData builds the full module/row/cell/assignment tree for the field
// instance. The tree is cached per field and invalidated on every write.
func (s *ProgrammeService) GetData(ctx context.Context, fieldID int64) (*models.Programme, error) {
	key := programmeCacheKey(fieldID)
	if s.cache != nil {
		var cached models.Programme
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return &cached, nil
		}
	}

	modules, err := s.repo.ListModules(ctx, fieldID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load programme modules")
	}
	for i := range modules {
		rows, err := s.repo.ListRows(ctx, modules[i].ID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load programme rows")
		}
		for j := range rows {
			if rows[j].Disciplines, err = s.repo.ListAssignments(ctx, rows[j].ID, models.KindDiscipline); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load discipline assignments")
			}
			if rows[j].Competencies, err = s.repo.ListAssignments(ctx, rows[j].ID, models.KindCompetency); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load competency assignments")
			}
		}
		modules[i].Rows = rows
	}

	programme := &models.Programme{FieldID: fieldID, Modules: modules}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, programme, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache programme", zap.Int64("field_id", fieldID), zap.Error(err))
		}
	}
	return programme, nil
}

// CanEdit reports whether the actor may write programme data directly. A
// SUBMITTED change request locks the programme for everyone; the approver
// acts through the accept/reject path, not through direct writes.
func (s *ProgrammeService) CanEdit(ctx context.Context, actor models.Actor, fieldID int64) (bool, error) {
	if !actor.Can(models.CapabilityEdit) && !actor.Can(models.CapabilityEditAll) {
		return false, nil
	}
	submitted, err := s.requests.CountByState(ctx, fieldID, models.StateSubmitted)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to probe submitted requests")
	}
	return submitted == 0, nil
}

// ValidateData checks every non-deleted cell against its column definition.
// Violations are collected, never thrown; empty values are always valid.
func (s *ProgrammeService) ValidateData(modules []models.Module) []models.ValidationError {
	var errs []models.ValidationError
	for _, module := range modules {
		if module.Deleted {
			continue
		}
		for _, row := range module.Rows {
			if row.Deleted {
				continue
			}
			for _, cell := range row.Cells {
				if msg := validateCell(cell); msg != "" {
					errs = append(errs, models.ValidationError{
						Module:  module.ID,
						Row:     row.ID,
						Column:  cell.Column,
						Message: msg,
					})
				}
			}
		}
	}
	return errs
}

func validateCell(cell models.Cell) string {
	col, ok := models.ColumnByKey(cell.Column)
	if !ok {
		return "unknown column"
	}
	raw := strings.TrimSpace(models.CellString(cell.Value))
	if raw == "" {
		return ""
	}
	switch col.Type {
	case models.ColumnTypeInt:
		if _, err := strconv.ParseInt(raw, 10, 64); err != nil {
			return "value must be an integer"
		}
	case models.ColumnTypeFloat:
		if _, err := strconv.ParseFloat(raw, 64); err != nil {
			return "value must be a number"
		}
	case models.ColumnTypeSelect:
		for _, opt := range col.Options {
			if raw == opt {
				return ""
			}
		}
		return fmt.Sprintf("value must be one of: %s", strings.Join(col.Options, ", "))
	}
	return ""
}

// ValidateWeights enforces the 100-percent rule per row and kind, with one
// point of tolerance to absorb rounding. Rows without assignments pass. This
// runs at the save gate only; the merge itself does not re-validate.
func (s *ProgrammeService) ValidateWeights(modules []models.Module) []models.ValidationError {
	var errs []models.ValidationError
	for _, module := range modules {
		if module.Deleted {
			continue
		}
		for _, row := range module.Rows {
			if row.Deleted {
				continue
			}
			for _, kind := range []models.AssignmentKind{models.KindDiscipline, models.KindCompetency} {
				assignments := row.Assignments(kind)
				if len(assignments) == 0 {
					continue
				}
				total := 0.0
				for _, a := range assignments {
					total += a.Percentage
				}
				if math.Abs(total-100) > 1 {
					errs = append(errs, models.ValidationError{
						Module:  module.ID,
						Row:     row.ID,
						Column:  string(kind),
						Message: fmt.Sprintf("%s percentages total %.1f, expected 100", kind, total),
					})
				}
			}
		}
	}
	return errs
}

// HasProtectedChanges reports whether the payload modifies any cell of a
// protected column. Comparison is loose on purpose: numeric strings and
// numbers representing the same value are not a change.
func (s *ProgrammeService) HasProtectedChanges(modules []models.Module) bool {
	for _, module := range modules {
		if module.Deleted {
			continue
		}
		for _, row := range module.Rows {
			if row.Deleted {
				continue
			}
			for _, cell := range row.Cells {
				col, ok := models.ColumnByKey(cell.Column)
				if !ok || col.CanEdit {
					continue
				}
				if !models.LooseEqual(cell.Value, cell.OldValue) {
					return true
				}
			}
		}
	}
	return false
}

// Save is the service boundary for persisting an edit session. Protected
// changes from an actor who needs approval are diverted into a change-request
// draft instead of a direct write.
func (s *ProgrammeService) Save(ctx context.Context, actor models.Actor, fieldID int64, modules []models.Module) (SaveOutcome, *models.ChangeRequest, error) {
	if s.gate != nil && s.gate.Required(actor) && s.HasProtectedChanges(modules) {
		canAdd, err := s.gate.CanAdd(ctx, actor, fieldID)
		if err != nil {
			return "", nil, err
		}
		if !canAdd {
			return SaveCannotAddRfc, nil, nil
		}
		request, err := s.gate.Draft(ctx, actor, fieldID, modules)
		if err != nil {
			return "", nil, err
		}
		return SaveNewRfc, request, nil
	}

	canEdit, err := s.CanEdit(ctx, actor, fieldID)
	if err != nil {
		return "", nil, err
	}
	if !canEdit {
		return SaveNotAllowed, nil, nil
	}

	if err := s.SetData(ctx, fieldID, modules); err != nil {
		return "", nil, err
	}
	s.emitAudit(ctx, actor.ID, models.AuditActionProgrammeWrite, fieldID)
	return SaveOK, nil, nil
}

// SetData merges an incoming module list into the persisted programme inside
// one transaction: negative ids create, deleted flags remove recursively,
// everything else updates in place. Re-applying the same payload with the
// same ids yields the same persisted tree.
func (s *ProgrammeService) SetData(ctx context.Context, fieldID int64, modules []models.Module) error {
	err := s.repo.InTx(ctx, func(store repository.ProgrammeStore) error {
		_, err := s.applyModules(ctx, store, fieldID, modules)
		return err
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist programme data")
	}
	if s.cache != nil {
		s.cache.Delete(ctx, programmeCacheKey(fieldID))
	}
	return nil
}

// ApplySnapshot runs a change request's decoded modules through the merge and,
// in the same transaction, rewrites the stored snapshot with the ids the merge
// allocated. Client-side rows (negative ids) therefore exist in the snapshot
// only until the first successful apply; every later apply sees persisted ids
// and updates in place instead of inserting again.
func (s *ProgrammeService) ApplySnapshot(ctx context.Context, fieldID int64, requestID string, modules []models.Module) error {
	err := s.repo.InTx(ctx, func(store repository.ProgrammeStore) error {
		applied, err := s.applyModules(ctx, store, fieldID, modules)
		if err != nil {
			return err
		}
		snapshot, err := EncodeSnapshot(applied)
		if err != nil {
			return err
		}
		return store.UpdateRequestSnapshot(ctx, requestID, snapshot)
	})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply change request snapshot")
	}
	if s.cache != nil {
		s.cache.Delete(ctx, programmeCacheKey(fieldID))
	}
	return nil
}

// applyModules is the merge itself. It returns the surviving tree with every
// id resolved to its persisted value.
func (s *ProgrammeService) applyModules(ctx context.Context, store repository.ProgrammeStore, fieldID int64, modules []models.Module) ([]models.Module, error) {
	applied := make([]models.Module, 0, len(modules))
	for _, module := range modules {
		if module.Deleted {
			if module.ID > 0 {
				if err := store.DeleteModule(ctx, module.ID); err != nil {
					return nil, err
				}
			}
			continue
		}

		moduleID := module.ID
		if moduleID <= 0 {
			id, err := store.InsertModule(ctx, fieldID, module.Name, module.SortOrder)
			if err != nil {
				return nil, err
			}
			moduleID = id
		} else {
			if err := store.UpdateModule(ctx, moduleID, module.Name, module.SortOrder); err != nil {
				return nil, err
			}
		}

		rows, err := s.mergeRows(ctx, store, moduleID, module.Rows)
		if err != nil {
			return nil, err
		}
		if err := store.RenumberRows(ctx, moduleID); err != nil {
			return nil, err
		}

		module.ID = moduleID
		module.Rows = rows
		applied = append(applied, module)
	}
	if err := store.RenumberModules(ctx, fieldID); err != nil {
		return nil, err
	}
	return applied, nil
}

func (s *ProgrammeService) mergeRows(ctx context.Context, store repository.ProgrammeStore, moduleID int64, rows []models.Row) ([]models.Row, error) {
	current, err := store.ListRows(ctx, moduleID)
	if err != nil {
		return nil, err
	}
	currentByID := make(map[int64]models.Row, len(current))
	for _, row := range current {
		currentByID[row.ID] = row
	}

	applied := make([]models.Row, 0, len(rows))
	for _, row := range rows {
		if row.Deleted {
			if row.ID > 0 {
				if err := store.DeleteRow(ctx, row.ID); err != nil {
					return nil, err
				}
			}
			continue
		}

		if row.ID <= 0 {
			id, err := store.InsertRow(ctx, moduleID, row)
			if err != nil {
				return nil, err
			}
			row.ID = id
			if err := s.replaceAssignments(ctx, store, row); err != nil {
				return nil, err
			}
			applied = append(applied, row)
			continue
		}

		persisted, ok := currentByID[row.ID]
		if !ok {
			// Stale id in the payload, most likely a row deleted by a
			// concurrent editor. Inserting would duplicate on re-apply.
			s.logger.Warn("skipping update for unknown row", zap.Int64("row_id", row.ID), zap.Int64("module_id", moduleID))
			continue
		}

		merged := mergeCells(persisted, row)
		if rowChanged(persisted, merged) {
			if err := store.UpdateRow(ctx, moduleID, merged); err != nil {
				return nil, err
			}
		}
		if err := s.replaceAssignments(ctx, store, row); err != nil {
			return nil, err
		}
		applied = append(applied, merged)
	}
	return applied, nil
}

// replaceAssignments makes the persisted assignment set for each kind equal
// to the payload: absentees are deleted, newcomers inserted, survivors get
// their percentage overwritten.
func (s *ProgrammeService) replaceAssignments(ctx context.Context, store repository.ProgrammeStore, row models.Row) error {
	for _, kind := range []models.AssignmentKind{models.KindDiscipline, models.KindCompetency} {
		incoming := row.Assignments(kind)
		existing, err := store.ListAssignments(ctx, row.ID, kind)
		if err != nil {
			return err
		}
		keep := make(map[int64]struct{}, len(incoming))
		for _, a := range incoming {
			keep[a.ID] = struct{}{}
		}
		for _, a := range existing {
			if _, ok := keep[a.ID]; !ok {
				if err := store.DeleteAssignment(ctx, row.ID, kind, a.ID); err != nil {
					return err
				}
			}
		}
		for _, a := range incoming {
			if err := store.SaveAssignment(ctx, row.ID, kind, a); err != nil {
				return err
			}
		}
	}
	return nil
}

// mergeCells overlays the payload's cells onto the persisted row so columns
// missing from the payload keep their stored value.
func mergeCells(persisted, incoming models.Row) models.Row {
	merged := incoming
	cells := make([]models.Cell, 0, len(persisted.Cells))
	for _, cur := range persisted.Cells {
		if in, ok := incoming.Cell(cur.Column); ok {
			cells = append(cells, models.Cell{Column: cur.Column, Value: in.Value, OldValue: cur.Value})
		} else {
			cells = append(cells, cur)
		}
	}
	merged.Cells = cells
	return merged
}

func rowChanged(persisted, incoming models.Row) bool {
	if persisted.SortOrder != incoming.SortOrder {
		return true
	}
	for _, cell := range incoming.Cells {
		cur, ok := persisted.Cell(cell.Column)
		if !ok {
			return true
		}
		if !models.LooseEqual(cell.Value, cur.Value) {
			return true
		}
	}
	return false
}

// UpdateSortOrder moves one row relative to prevID inside its module. A zero
// prevID moves the row to the front. The whole module is renumbered into a
// dense zero-based sequence under row locks; no two rows ever share a
// sortorder.
func (s *ProgrammeService) UpdateSortOrder(ctx context.Context, actor models.Actor, kind string, moduleID, id, prevID int64) error {
	if kind != "row" {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported sort type: %s", kind))
	}
	if !actor.Can(models.CapabilityEdit) && !actor.Can(models.CapabilityEditAll) {
		return appErrors.ErrForbidden
	}
	fieldID, err := s.repo.FieldOfModule(ctx, moduleID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, fmt.Sprintf("module %d not found", moduleID))
	}
	submitted, err := s.requests.CountByState(ctx, fieldID, models.StateSubmitted)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to probe submitted requests")
	}
	if submitted > 0 {
		return appErrors.ErrProgrammeLocked
	}

	err = s.repo.InTx(ctx, func(store repository.ProgrammeStore) error {
		if err := store.LockRows(ctx, moduleID); err != nil {
			return err
		}
		rows, err := store.ListRows(ctx, moduleID)
		if err != nil {
			return err
		}

		ordered := make([]int64, 0, len(rows))
		found := false
		for _, row := range rows {
			if row.ID == id {
				found = true
				continue
			}
			ordered = append(ordered, row.ID)
		}
		if !found {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("row %d not found in module %d", id, moduleID))
		}

		if prevID == 0 {
			ordered = append([]int64{id}, ordered...)
		} else {
			idx := -1
			for i, rowID := range ordered {
				if rowID == prevID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("anchor row %d not found in module %d", prevID, moduleID))
			}
			ordered = append(ordered[:idx+1], append([]int64{id}, ordered[idx+1:]...)...)
		}

		return store.UpdateRowSortOrders(ctx, moduleID, ordered)
	})
	if err != nil {
		return err
	}
	s.invalidateByModule(ctx, moduleID)
	return nil
}

// invalidateByModule drops the cache for the field owning the module. The
// module->field lookup is cheap enough to do inline.
func (s *ProgrammeService) invalidateByModule(ctx context.Context, moduleID int64) {
	if s.cache == nil {
		return
	}
	// Sort moves arrive with the field id unknown; flushing every cached
	// programme would be heavier than one lookup, so resolve it.
	fieldID, err := s.repo.FieldOfModule(ctx, moduleID)
	if err != nil {
		s.logger.Warn("failed to resolve field for cache invalidation", zap.Int64("module_id", moduleID), zap.Error(err))
		return
	}
	s.cache.Delete(ctx, programmeCacheKey(fieldID))
}

// ColumnTotals accumulates sum-flagged numeric columns across every live row
// of every live module. Non-numeric and unconfigured columns report 0.
func (s *ProgrammeService) ColumnTotals(modules []models.Module) map[string]float64 {
	totals := make(map[string]float64, len(models.Columns()))
	for _, col := range models.Columns() {
		totals[col.Key] = 0
	}
	for _, module := range modules {
		if module.Deleted {
			continue
		}
		for _, row := range module.Rows {
			if row.Deleted {
				continue
			}
			for _, cell := range row.Cells {
				col, ok := models.ColumnByKey(cell.Column)
				if !ok || !col.Sum {
					continue
				}
				raw := strings.TrimSpace(models.CellString(cell.Value))
				if raw == "" {
					continue
				}
				if f, err := strconv.ParseFloat(raw, 64); err == nil {
					totals[col.Key] += f
				}
			}
		}
	}
	return totals
}

// CSVData flattens the programme into positional records with fixed-width
// assignment slots, blank-padded when a row carries fewer assignments.
func (s *ProgrammeService) CSVData(ctx context.Context, fieldID int64, disciplineNames, competencyNames map[int64]string) (export.Dataset, error) {
	programme, err := s.GetData(ctx, fieldID)
	if err != nil {
		return export.Dataset{}, err
	}

	headers := []string{"module"}
	for _, col := range models.Columns() {
		headers = append(headers, col.Key)
	}
	for i := 1; i <= models.DisciplineSlots; i++ {
		headers = append(headers, fmt.Sprintf("discipline%d", i), fmt.Sprintf("discipline%d_pct", i))
	}
	for i := 1; i <= models.CompetencySlots; i++ {
		headers = append(headers, fmt.Sprintf("competency%d", i), fmt.Sprintf("competency%d_pct", i))
	}

	records := make([][]string, 0)
	for _, module := range programme.Modules {
		for _, row := range module.Rows {
			record := []string{module.Name}
			for _, col := range models.Columns() {
				cell, _ := row.Cell(col.Key)
				record = append(record, models.CellString(cell.Value))
			}
			record = append(record, assignmentSlots(row.Disciplines, models.DisciplineSlots, disciplineNames)...)
			record = append(record, assignmentSlots(row.Competencies, models.CompetencySlots, competencyNames)...)
			records = append(records, record)
		}
	}
	return export.Dataset{Headers: headers, Records: records}, nil
}

func assignmentSlots(assignments []models.Assignment, slots int, names map[int64]string) []string {
	out := make([]string, 0, slots*2)
	for i := 0; i < slots; i++ {
		if i < len(assignments) {
			a := assignments[i]
			name := names[a.ID]
			if name == "" {
				name = strconv.FormatInt(a.ID, 10)
			}
			out = append(out, name, strconv.FormatFloat(a.Percentage, 'f', -1, 64))
		} else {
			out = append(out, "", "")
		}
	}
	return out
}

// History decodes a stored change-request snapshot back into a module tree
// for display. A missing or undecodable snapshot yields an empty tree; the
// decode failure is logged loudly because it can hide submitted work.
func (s *ProgrammeService) History(ctx context.Context, rfcID string) []models.Module {
	request, err := s.requests.GetByID(ctx, rfcID)
	if err != nil {
		s.logger.Warn("history lookup failed", zap.String("rfc_id", rfcID), zap.Error(err))
		return []models.Module{}
	}
	modules, err := DecodeSnapshot(request.Snapshot)
	if err != nil {
		s.logger.Error("stored snapshot is not decodable, submitted work may be invisible",
			zap.String("rfc_id", rfcID), zap.Error(err))
		return []models.Module{}
	}
	return modules
}

func (s *ProgrammeService) emitAudit(ctx context.Context, userID, action string, fieldID int64) {
	if s.audit == nil {
		return
	}
	resourceID := strconv.FormatInt(fieldID, 10)
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "programme",
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "programme-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
