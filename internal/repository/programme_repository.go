package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-programme-api/internal/models"
)

// ProgrammeStore is the persistence contract the programme service works
// against. The same implementation backs both the connection pool and a
// transaction, so multi-row mutations run all-or-nothing.
type ProgrammeStore interface {
	ListModules(ctx context.Context, fieldID int64) ([]models.Module, error)
	FieldOfModule(ctx context.Context, moduleID int64) (int64, error)
	InsertModule(ctx context.Context, fieldID int64, name string, sortOrder int) (int64, error)
	UpdateModule(ctx context.Context, id int64, name string, sortOrder int) error
	DeleteModule(ctx context.Context, id int64) error

	ListRows(ctx context.Context, moduleID int64) ([]models.Row, error)
	LockRows(ctx context.Context, moduleID int64) error
	InsertRow(ctx context.Context, moduleID int64, row models.Row) (int64, error)
	UpdateRow(ctx context.Context, moduleID int64, row models.Row) error
	DeleteRow(ctx context.Context, id int64) error
	UpdateRowSortOrders(ctx context.Context, moduleID int64, orderedIDs []int64) error
	RenumberRows(ctx context.Context, moduleID int64) error
	RenumberModules(ctx context.Context, fieldID int64) error

	ListAssignments(ctx context.Context, rowID int64, kind models.AssignmentKind) ([]models.Assignment, error)
	SaveAssignment(ctx context.Context, rowID int64, kind models.AssignmentKind, a models.Assignment) error
	DeleteAssignment(ctx context.Context, rowID int64, kind models.AssignmentKind, catalogID int64) error

	UpdateRequestSnapshot(ctx context.Context, requestID string, snapshot []byte) error
}

// ProgrammeRepository persists programme modules, rows and weight assignments.
type ProgrammeRepository struct {
	db *sqlx.DB
	programmeStore
}

// NewProgrammeRepository constructs the repository.
func NewProgrammeRepository(db *sqlx.DB) *ProgrammeRepository {
	return &ProgrammeRepository{db: db, programmeStore: programmeStore{ext: db}}
}

// InTx runs fn against a transaction-scoped ProgrammeStore. The transaction
// commits only when fn returns nil.
func (r *ProgrammeRepository) InTx(ctx context.Context, fn func(store ProgrammeStore) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin programme tx: %w", err)
	}
	if err := fn(programmeStore{ext: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit programme tx: %w", err)
	}
	return nil
}

// programmeStore implements ProgrammeStore over either a pool or a tx.
type programmeStore struct {
	ext sqlx.ExtContext
}

// moduleRecord mirrors the programme_modules table.
type moduleRecord struct {
	ID        int64  `db:"id"`
	FieldID   int64  `db:"field_id"`
	Name      string `db:"name"`
	SortOrder int    `db:"sortorder"`
}

// rowRecord mirrors programme_rows: one typed column per catalog entry.
type rowRecord struct {
	ID         int64           `db:"id"`
	ModuleID   int64           `db:"module_id"`
	SortOrder  int             `db:"sortorder"`
	Session    sql.NullString  `db:"session"`
	Objective  sql.NullString  `db:"objective"`
	Weeks      sql.NullInt64   `db:"weeks"`
	CM         sql.NullFloat64 `db:"cm"`
	TD         sql.NullFloat64 `db:"td"`
	TP         sql.NullFloat64 `db:"tp"`
	Format     sql.NullString  `db:"format"`
	Evaluation sql.NullString  `db:"evaluation"`
}

type assignmentRecord struct {
	ID         int64   `db:"id"`
	RowID      int64   `db:"row_id"`
	CatalogID  int64   `db:"catalog_id"`
	Kind       string  `db:"kind"`
	Percentage float64 `db:"percentage"`
}

func (s programmeStore) ListModules(ctx context.Context, fieldID int64) ([]models.Module, error) {
	const query = `SELECT id, field_id, name, sortorder FROM programme_modules
	WHERE field_id = $1 ORDER BY sortorder, id`
	var records []moduleRecord
	if err := sqlx.SelectContext(ctx, s.ext, &records, query, fieldID); err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	modules := make([]models.Module, 0, len(records))
	for _, rec := range records {
		modules = append(modules, models.Module{ID: rec.ID, Name: rec.Name, SortOrder: rec.SortOrder})
	}
	return modules, nil
}

func (s programmeStore) FieldOfModule(ctx context.Context, moduleID int64) (int64, error) {
	const query = `SELECT field_id FROM programme_modules WHERE id = $1`
	var fieldID int64
	if err := sqlx.GetContext(ctx, s.ext, &fieldID, query, moduleID); err != nil {
		return 0, fmt.Errorf("field of module %d: %w", moduleID, err)
	}
	return fieldID, nil
}

func (s programmeStore) InsertModule(ctx context.Context, fieldID int64, name string, sortOrder int) (int64, error) {
	const query = `INSERT INTO programme_modules (field_id, name, sortorder)
	VALUES ($1, $2, $3) RETURNING id`
	var id int64
	if err := sqlx.GetContext(ctx, s.ext, &id, query, fieldID, name, sortOrder); err != nil {
		return 0, fmt.Errorf("insert module: %w", err)
	}
	return id, nil
}

func (s programmeStore) UpdateModule(ctx context.Context, id int64, name string, sortOrder int) error {
	const query = `UPDATE programme_modules SET name = $2, sortorder = $3 WHERE id = $1`
	if _, err := s.ext.ExecContext(ctx, query, id, name, sortOrder); err != nil {
		return fmt.Errorf("update module %d: %w", id, err)
	}
	return nil
}

// DeleteModule removes the module together with its rows and their
// assignments. Run inside InTx when other mutations accompany it.
func (s programmeStore) DeleteModule(ctx context.Context, id int64) error {
	const deleteAssignments = `DELETE FROM programme_assignments
	WHERE row_id IN (SELECT id FROM programme_rows WHERE module_id = $1)`
	if _, err := s.ext.ExecContext(ctx, deleteAssignments, id); err != nil {
		return fmt.Errorf("delete module %d assignments: %w", id, err)
	}
	if _, err := s.ext.ExecContext(ctx, `DELETE FROM programme_rows WHERE module_id = $1`, id); err != nil {
		return fmt.Errorf("delete module %d rows: %w", id, err)
	}
	if _, err := s.ext.ExecContext(ctx, `DELETE FROM programme_modules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete module %d: %w", id, err)
	}
	return nil
}

func (s programmeStore) ListRows(ctx context.Context, moduleID int64) ([]models.Row, error) {
	const query = `SELECT id, module_id, sortorder, session, objective, weeks, cm, td, tp, format, evaluation
	FROM programme_rows WHERE module_id = $1 ORDER BY sortorder, id`
	var records []rowRecord
	if err := sqlx.SelectContext(ctx, s.ext, &records, query, moduleID); err != nil {
		return nil, fmt.Errorf("list rows for module %d: %w", moduleID, err)
	}
	rows := make([]models.Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, recordToRow(rec))
	}
	return rows, nil
}

// LockRows takes row locks on the module's rows so concurrent renumbering
// cannot interleave. Only meaningful inside InTx.
func (s programmeStore) LockRows(ctx context.Context, moduleID int64) error {
	const query = `SELECT id FROM programme_rows WHERE module_id = $1 FOR UPDATE`
	var ids []int64
	if err := sqlx.SelectContext(ctx, s.ext, &ids, query, moduleID); err != nil {
		return fmt.Errorf("lock rows for module %d: %w", moduleID, err)
	}
	return nil
}

func (s programmeStore) InsertRow(ctx context.Context, moduleID int64, row models.Row) (int64, error) {
	rec := rowToRecord(moduleID, row)
	const query = `INSERT INTO programme_rows (module_id, sortorder, session, objective, weeks, cm, td, tp, format, evaluation)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`
	var id int64
	err := sqlx.GetContext(ctx, s.ext, &id, query,
		rec.ModuleID, rec.SortOrder, rec.Session, rec.Objective, rec.Weeks,
		rec.CM, rec.TD, rec.TP, rec.Format, rec.Evaluation)
	if err != nil {
		return 0, fmt.Errorf("insert row: %w", err)
	}
	return id, nil
}

func (s programmeStore) UpdateRow(ctx context.Context, moduleID int64, row models.Row) error {
	rec := rowToRecord(moduleID, row)
	const query = `UPDATE programme_rows SET sortorder = $2, session = $3, objective = $4, weeks = $5,
	cm = $6, td = $7, tp = $8, format = $9, evaluation = $10 WHERE id = $1`
	if _, err := s.ext.ExecContext(ctx, query,
		row.ID, rec.SortOrder, rec.Session, rec.Objective, rec.Weeks,
		rec.CM, rec.TD, rec.TP, rec.Format, rec.Evaluation); err != nil {
		return fmt.Errorf("update row %d: %w", row.ID, err)
	}
	return nil
}

func (s programmeStore) DeleteRow(ctx context.Context, id int64) error {
	if _, err := s.ext.ExecContext(ctx, `DELETE FROM programme_assignments WHERE row_id = $1`, id); err != nil {
		return fmt.Errorf("delete row %d assignments: %w", id, err)
	}
	if _, err := s.ext.ExecContext(ctx, `DELETE FROM programme_rows WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete row %d: %w", id, err)
	}
	return nil
}

func (s programmeStore) UpdateRowSortOrders(ctx context.Context, moduleID int64, orderedIDs []int64) error {
	const query = `UPDATE programme_rows SET sortorder = $3 WHERE id = $1 AND module_id = $2`
	for idx, id := range orderedIDs {
		if _, err := s.ext.ExecContext(ctx, query, id, moduleID, idx); err != nil {
			return fmt.Errorf("set sortorder %d on row %d: %w", idx, id, err)
		}
	}
	return nil
}

// RenumberRows rewrites the module's row sortorders into a dense zero-based
// sequence preserving the current relative order.
func (s programmeStore) RenumberRows(ctx context.Context, moduleID int64) error {
	const query = `UPDATE programme_rows SET sortorder = ranked.rn - 1
	FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY sortorder, id) AS rn
	      FROM programme_rows WHERE module_id = $1) ranked
	WHERE programme_rows.id = ranked.id`
	if _, err := s.ext.ExecContext(ctx, query, moduleID); err != nil {
		return fmt.Errorf("renumber rows for module %d: %w", moduleID, err)
	}
	return nil
}

// RenumberModules does the same for the field's module ordering.
func (s programmeStore) RenumberModules(ctx context.Context, fieldID int64) error {
	const query = `UPDATE programme_modules SET sortorder = ranked.rn - 1
	FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY sortorder, id) AS rn
	      FROM programme_modules WHERE field_id = $1) ranked
	WHERE programme_modules.id = ranked.id`
	if _, err := s.ext.ExecContext(ctx, query, fieldID); err != nil {
		return fmt.Errorf("renumber modules for field %d: %w", fieldID, err)
	}
	return nil
}

func (s programmeStore) ListAssignments(ctx context.Context, rowID int64, kind models.AssignmentKind) ([]models.Assignment, error) {
	const query = `SELECT id, row_id, catalog_id, kind, percentage FROM programme_assignments
	WHERE row_id = $1 AND kind = $2 ORDER BY catalog_id`
	var records []assignmentRecord
	if err := sqlx.SelectContext(ctx, s.ext, &records, query, rowID, string(kind)); err != nil {
		return nil, fmt.Errorf("list %s assignments for row %d: %w", kind, rowID, err)
	}
	assignments := make([]models.Assignment, 0, len(records))
	for _, rec := range records {
		assignments = append(assignments, models.Assignment{ID: rec.CatalogID, Percentage: rec.Percentage})
	}
	return assignments, nil
}

// SaveAssignment upserts the percentage for (row, kind, catalog entry).
func (s programmeStore) SaveAssignment(ctx context.Context, rowID int64, kind models.AssignmentKind, a models.Assignment) error {
	const query = `INSERT INTO programme_assignments (row_id, catalog_id, kind, percentage)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (row_id, catalog_id, kind) DO UPDATE SET percentage = EXCLUDED.percentage`
	if _, err := s.ext.ExecContext(ctx, query, rowID, a.ID, string(kind), a.Percentage); err != nil {
		return fmt.Errorf("save %s assignment %d on row %d: %w", kind, a.ID, rowID, err)
	}
	return nil
}

func (s programmeStore) DeleteAssignment(ctx context.Context, rowID int64, kind models.AssignmentKind, catalogID int64) error {
	const query = `DELETE FROM programme_assignments WHERE row_id = $1 AND catalog_id = $2 AND kind = $3`
	if _, err := s.ext.ExecContext(ctx, query, rowID, catalogID, string(kind)); err != nil {
		return fmt.Errorf("delete %s assignment %d on row %d: %w", kind, catalogID, rowID, err)
	}
	return nil
}

// UpdateRequestSnapshot rewrites a change request's stored snapshot. The
// snapshot-apply path calls this inside the same transaction as the data
// writes, so the stored snapshot and the programme tables never diverge.
func (s programmeStore) UpdateRequestSnapshot(ctx context.Context, requestID string, snapshot []byte) error {
	const query = `UPDATE change_requests SET snapshot = $2, updated_at = $3 WHERE id = $1`
	if _, err := s.ext.ExecContext(ctx, query, requestID, snapshot, time.Now().UTC()); err != nil {
		return fmt.Errorf("update snapshot for request %s: %w", requestID, err)
	}
	return nil
}

// recordToRow converts a persisted row into the cell-per-column shape used by
// the edit grid. OldValue mirrors the live value at load time.
func recordToRow(rec rowRecord) models.Row {
	cells := []models.Cell{
		{Column: "session", Value: nullString(rec.Session)},
		{Column: "objective", Value: nullString(rec.Objective)},
		{Column: "weeks", Value: nullInt(rec.Weeks)},
		{Column: "cm", Value: nullFloat(rec.CM)},
		{Column: "td", Value: nullFloat(rec.TD)},
		{Column: "tp", Value: nullFloat(rec.TP)},
		{Column: "format", Value: nullString(rec.Format)},
		{Column: "evaluation", Value: nullString(rec.Evaluation)},
	}
	for i := range cells {
		cells[i].OldValue = cells[i].Value
	}
	return models.Row{ID: rec.ID, SortOrder: rec.SortOrder, Cells: cells}
}

func rowToRecord(moduleID int64, row models.Row) rowRecord {
	rec := rowRecord{ID: row.ID, ModuleID: moduleID, SortOrder: row.SortOrder}
	for _, cell := range row.Cells {
		switch cell.Column {
		case "session":
			rec.Session = toNullString(cell.Value)
		case "objective":
			rec.Objective = toNullString(cell.Value)
		case "weeks":
			rec.Weeks = toNullInt(cell.Value)
		case "cm":
			rec.CM = toNullFloat(cell.Value)
		case "td":
			rec.TD = toNullFloat(cell.Value)
		case "tp":
			rec.TP = toNullFloat(cell.Value)
		case "format":
			rec.Format = toNullString(cell.Value)
		case "evaluation":
			rec.Evaluation = toNullString(cell.Value)
		}
	}
	return rec
}
