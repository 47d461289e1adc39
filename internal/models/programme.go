package models

import (
	"fmt"
	"strconv"
	"strings"
)

// ColumnType enumerates the value types a programme column can hold.
type ColumnType string

const (
	ColumnTypeInt    ColumnType = "int"
	ColumnTypeFloat  ColumnType = "float"
	ColumnTypeText   ColumnType = "text"
	ColumnTypeSelect ColumnType = "select"
)

// ColumnDefinition is a static catalog entry describing one programme column.
// Columns with CanEdit=false are protected: only an editall-capable approver
// may change them directly, everyone else goes through a change request.
type ColumnDefinition struct {
	Key     string     `json:"key"`
	Type    ColumnType `json:"type"`
	CanEdit bool       `json:"canedit"`
	Sum     bool       `json:"sum"`
	Options []string   `json:"options,omitempty"`
}

// Columns returns the fixed column schema of a programme row.
func Columns() []ColumnDefinition {
	return []ColumnDefinition{
		{Key: "session", Type: ColumnTypeText, CanEdit: true},
		{Key: "objective", Type: ColumnTypeText, CanEdit: true},
		{Key: "weeks", Type: ColumnTypeInt, CanEdit: true},
		{Key: "cm", Type: ColumnTypeFloat, Sum: true},
		{Key: "td", Type: ColumnTypeFloat, Sum: true},
		{Key: "tp", Type: ColumnTypeFloat, Sum: true},
		{Key: "format", Type: ColumnTypeSelect, CanEdit: true, Options: []string{"lecture", "seminar", "lab", "clinic"}},
		{Key: "evaluation", Type: ColumnTypeSelect, CanEdit: true, Options: []string{"written", "oral", "practical", "continuous"}},
	}
}

// ColumnByKey looks up a column definition in the catalog.
func ColumnByKey(key string) (ColumnDefinition, bool) {
	for _, col := range Columns() {
		if col.Key == key {
			return col, true
		}
	}
	return ColumnDefinition{}, false
}

// AssignmentKind distinguishes discipline from competency weightings.
type AssignmentKind string

const (
	KindDiscipline AssignmentKind = "discipline"
	KindCompetency AssignmentKind = "competency"
)

// Slot widths for flattened exports.
const (
	DisciplineSlots = 3
	CompetencySlots = 4
)

// Assignment links a row to a discipline or competency catalog entry with a
// relative weight. Percentages for one kind on one row should total 100, with
// one point of tolerance for rounding.
type Assignment struct {
	ID         int64   `json:"id"`
	Percentage float64 `json:"percentage"`
}

// Cell is one column's value for a row. Value is nullable and loosely typed:
// grid payloads deliver numbers both as JSON numbers and as numeric strings.
// OldValue carries the live value observed when the edit session loaded, used
// to detect changes to protected columns.
type Cell struct {
	Column   string `json:"column"`
	Value    any    `json:"value"`
	OldValue any    `json:"oldvalue,omitempty"`
}

// Row is one teaching-session entry. A non-positive ID marks a client-side
// row that has not been persisted yet; the server allocates the real id on
// first write.
type Row struct {
	ID           int64        `json:"id"`
	SortOrder    int          `json:"sortorder"`
	Deleted      bool         `json:"deleted,omitempty"`
	Cells        []Cell       `json:"cells"`
	Disciplines  []Assignment `json:"disciplines"`
	Competencies []Assignment `json:"competencies"`
}

// Cell returns the row's cell for the given column key, if present.
func (r *Row) Cell(key string) (Cell, bool) {
	for _, c := range r.Cells {
		if c.Column == key {
			return c, true
		}
	}
	return Cell{}, false
}

// Assignments returns the row's assignment list for the given kind.
func (r *Row) Assignments(kind AssignmentKind) []Assignment {
	if kind == KindCompetency {
		return r.Competencies
	}
	return r.Disciplines
}

// Module is a named, ordered group of rows. Module and row sortorders are
// dense zero-based sequences; any structural mutation renumbers them.
type Module struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	SortOrder int    `json:"sortorder"`
	Deleted   bool   `json:"deleted,omitempty"`
	Rows      []Row  `json:"rows"`
}

// Programme is the root aggregate for one field instance.
type Programme struct {
	FieldID int64    `json:"fieldid"`
	Modules []Module `json:"modules"`
}

// ValidationError reports a single cell-level constraint violation. These are
// collected, never thrown; the caller decides whether to block the save.
type ValidationError struct {
	Module  int64  `json:"module"`
	Row     int64  `json:"row"`
	Column  string `json:"column"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("module %d row %d column %s: %s", e.Module, e.Row, e.Column, e.Message)
}

// LooseEqual compares two cell values using coerced equality so that the
// numeric string "15" equals the number 15. Strict comparison would flag
// spurious protected-column changes because grid payloads mix numeric strings
// and numbers for the same column.
func LooseEqual(a, b any) bool {
	if isEmpty(a) && isEmpty(b) {
		return true
	}
	if isEmpty(a) || isEmpty(b) {
		return false
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return CellString(a) == CellString(b)
}

// CellString renders a cell value the way exports and comparisons expect:
// integral floats without a decimal point, nil as the empty string.
func CellString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// CatalogEntry is a discipline or competency catalog record.
type CatalogEntry struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Kind string `db:"kind" json:"kind"`
}
