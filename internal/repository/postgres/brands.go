package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandviz/brandviz/internal/models"
)

type brandRepo struct {
	q sqlx.ExtContext
}

const brandColumns = `b.id, b.owner_id, b.name, b.slug, b.website, b.industry, b.description,
	b.competitors, b.keywords, b.region, b.auto_analysis, b.analysis_weekday,
	b.created_at, b.updated_at, b.deleted_at`

func (r *brandRepo) Create(ctx context.Context, brand *models.Brand) error {
	if brand.ID == uuid.Nil {
		brand.ID = uuid.New()
	}
	query := `
		INSERT INTO brands (id, owner_id, name, slug, website, industry, description,
			competitors, keywords, region, auto_analysis, analysis_weekday)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`
	err := sqlx.GetContext(ctx, r.q, brand, query,
		brand.ID, brand.OwnerID, brand.Name, brand.Slug, brand.Website, brand.Industry,
		brand.Description, nonNil(brand.Competitors), nonNil(brand.Keywords), brand.Region,
		brand.AutoAnalysis, brand.AnalysisWeekday,
	)
	return mapErr(err, "failed to create brand")
}

func (r *brandRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Brand, error) {
	var brand models.Brand
	query := `SELECT ` + brandColumns + ` FROM brands b WHERE b.id = $1 AND b.deleted_at IS NULL`
	if err := sqlx.GetContext(ctx, r.q, &brand, query, id); err != nil {
		return nil, mapErr(err, "failed to get brand")
	}
	return &brand, nil
}

func (r *brandRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]*models.Brand, error) {
	brands := []*models.Brand{}
	query := `
		SELECT ` + brandColumns + `
		FROM brands b
		JOIN memberships m ON m.brand_id = b.id AND m.deleted_at IS NULL
		WHERE m.user_id = $1 AND b.deleted_at IS NULL
		ORDER BY b.name`
	if err := sqlx.SelectContext(ctx, r.q, &brands, query, userID); err != nil {
		return nil, mapErr(err, "failed to list brands")
	}
	return brands, nil
}

func (r *brandRepo) ListScheduled(ctx context.Context, weekday int) ([]*models.Brand, error) {
	brands := []*models.Brand{}
	query := `
		SELECT ` + brandColumns + `
		FROM brands b
		WHERE b.deleted_at IS NULL AND b.auto_analysis AND b.analysis_weekday = $1
		ORDER BY b.created_at`
	if err := sqlx.SelectContext(ctx, r.q, &brands, query, weekday); err != nil {
		return nil, mapErr(err, "failed to list scheduled brands")
	}
	return brands, nil
}

func (r *brandRepo) Update(ctx context.Context, brand *models.Brand) error {
	query := `
		UPDATE brands SET name = $2, website = $3, industry = $4, description = $5,
			competitors = $6, keywords = $7, region = $8, auto_analysis = $9,
			analysis_weekday = $10, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING updated_at`
	err := sqlx.GetContext(ctx, r.q, brand, query,
		brand.ID, brand.Name, brand.Website, brand.Industry, brand.Description,
		nonNil(brand.Competitors), nonNil(brand.Keywords), brand.Region, brand.AutoAnalysis, brand.AnalysisWeekday,
	)
	return mapErr(err, "failed to update brand")
}

func (r *brandRepo) SoftDelete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE brands SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return mapErr(err, "failed to delete brand")
	}
	return affected(res, "failed to delete brand")
}

func (r *brandRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.q, &exists,
		`SELECT EXISTS (SELECT 1 FROM brands WHERE slug = $1 AND deleted_at IS NULL)`, slug)
	if err != nil {
		return false, mapErr(err, "failed to check slug")
	}
	return exists, nil
}
