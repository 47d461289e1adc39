package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-programme-api/internal/models"
)

func TestSnapshotRoundTrip(t *testing.T) {
	modules := []models.Module{
		{
			ID:   12,
			Name: "Anatomy",
			Rows: []models.Row{
				{
					ID: 7,
					Cells: []models.Cell{
						{Column: "session", Value: "Intro"},
						{Column: "cm", Value: 1.5},
					},
					Disciplines: []models.Assignment{{ID: 3, Percentage: 100}},
				},
			},
		},
	}

	payload, err := EncodeSnapshot(modules)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(payload)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, int64(12), decoded[0].ID)
	require.Len(t, decoded[0].Rows, 1)
	require.Equal(t, int64(7), decoded[0].Rows[0].ID)
	require.Len(t, decoded[0].Rows[0].Disciplines, 1)
}

func TestDecodeSnapshotRejectsNonArray(t *testing.T) {
	_, err := DecodeSnapshot([]byte(`{"modules": []}`))
	require.Error(t, err)
}

func TestDecodeSnapshotRejectsEmpty(t *testing.T) {
	_, err := DecodeSnapshot(nil)
	require.Error(t, err)

	_, err = DecodeSnapshot([]byte("   "))
	require.Error(t, err)
}

func TestEncodeSnapshotNilIsEmptyArray(t *testing.T) {
	payload, err := EncodeSnapshot(nil)
	require.NoError(t, err)

	decoded, err := DecodeSnapshot(payload)
	require.NoError(t, err)
	require.Empty(t, decoded)
}
