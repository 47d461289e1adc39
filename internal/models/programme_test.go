package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooseEqual(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"numeric string equals number", "15", 15.0, true},
		{"integral float equals int", 15.0, 15, true},
		{"different numbers", "15", 16.0, false},
		{"trims whitespace", " 2.5 ", 2.5, true},
		{"both empty", nil, "", true},
		{"whitespace counts as empty", "   ", nil, true},
		{"empty versus value", nil, 0.0, false},
		{"plain strings", "lecture", "lecture", true},
		{"case sensitive strings", "lecture", "Lecture", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, LooseEqual(tc.a, tc.b))
		})
	}
}

func TestCellString(t *testing.T) {
	assert.Equal(t, "", CellString(nil))
	assert.Equal(t, "15", CellString(15.0))
	assert.Equal(t, "1.5", CellString(1.5))
	assert.Equal(t, "7", CellString(int64(7)))
	assert.Equal(t, "abc", CellString("abc"))
	assert.Equal(t, "true", CellString(true))
}

func TestColumnByKey(t *testing.T) {
	col, ok := ColumnByKey("cm")
	require.True(t, ok)
	assert.Equal(t, ColumnTypeFloat, col.Type)
	assert.True(t, col.Sum)
	assert.False(t, col.CanEdit)

	col, ok = ColumnByKey("format")
	require.True(t, ok)
	assert.Equal(t, ColumnTypeSelect, col.Type)
	assert.Contains(t, col.Options, "clinic")

	_, ok = ColumnByKey("mystery")
	assert.False(t, ok)
}

func TestRowAssignments(t *testing.T) {
	row := Row{
		Disciplines:  []Assignment{{ID: 1, Percentage: 100}},
		Competencies: []Assignment{{ID: 2, Percentage: 60}, {ID: 3, Percentage: 40}},
	}
	assert.Len(t, row.Assignments(KindDiscipline), 1)
	assert.Len(t, row.Assignments(KindCompetency), 2)
}

func TestActorCapabilities(t *testing.T) {
	admin := NewActor("admin", RoleAdmin)
	assert.True(t, admin.Can(CapabilityEditAll))

	teacher := NewActor("teacher", RoleTeacher)
	assert.True(t, teacher.Can(CapabilityEdit))
	assert.False(t, teacher.Can(CapabilityEditAll))

	student := NewActor("student", RoleStudent)
	assert.True(t, student.Can(CapabilityView))
	assert.False(t, student.Can(CapabilityEdit))
}
