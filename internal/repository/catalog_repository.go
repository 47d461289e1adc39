package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/course-programme-api/internal/models"
)

// CatalogRepository reads the global discipline/competency catalog.
type CatalogRepository struct {
	db *sqlx.DB
}

// NewCatalogRepository constructs the repository.
func NewCatalogRepository(db *sqlx.DB) *CatalogRepository {
	return &CatalogRepository{db: db}
}

// ListByKind returns the catalog entries of one kind ordered by name.
func (r *CatalogRepository) ListByKind(ctx context.Context, kind models.AssignmentKind) ([]models.CatalogEntry, error) {
	const query = `SELECT id, name, kind FROM catalog_entries WHERE kind = $1 ORDER BY name`
	var entries []models.CatalogEntry
	if err := r.db.SelectContext(ctx, &entries, query, string(kind)); err != nil {
		return nil, fmt.Errorf("list %s catalog: %w", kind, err)
	}
	return entries, nil
}

// NamesByID returns a lookup map for rendering exports.
func (r *CatalogRepository) NamesByID(ctx context.Context, kind models.AssignmentKind) (map[int64]string, error) {
	entries, err := r.ListByKind(ctx, kind)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(entries))
	for _, entry := range entries {
		names[entry.ID] = entry.Name
	}
	return names, nil
}
