package repository

import (
	"database/sql"
	"strconv"
	"strings"

	"github.com/noah-isme/course-programme-api/internal/models"
)

// Conversions between loosely typed cell values and nullable SQL columns.
// Empty strings and nil both persist as NULL.

func nullString(v sql.NullString) any {
	if !v.Valid {
		return nil
	}
	return v.String
}

func nullInt(v sql.NullInt64) any {
	if !v.Valid {
		return nil
	}
	return v.Int64
}

func nullFloat(v sql.NullFloat64) any {
	if !v.Valid {
		return nil
	}
	return v.Float64
}

func toNullString(v any) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	s := models.CellString(v)
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func toNullInt(v any) sql.NullInt64 {
	s := models.CellString(v)
	if strings.TrimSpace(s) == "" {
		return sql.NullInt64{}
	}
	// Numeric strings may arrive as "3" or "3.0"; truncate the latter.
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return sql.NullInt64{Int64: i, Valid: true}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return sql.NullInt64{Int64: int64(f), Valid: true}
	}
	return sql.NullInt64{}
}

func toNullFloat(v any) sql.NullFloat64 {
	s := models.CellString(v)
	if strings.TrimSpace(s) == "" {
		return sql.NullFloat64{}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return sql.NullFloat64{Float64: f, Valid: true}
	}
	return sql.NullFloat64{}
}
