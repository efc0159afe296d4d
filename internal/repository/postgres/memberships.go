package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandviz/brandviz/internal/models"
)

type membershipRepo struct {
	q sqlx.ExtContext
}

func (r *membershipRepo) Create(ctx context.Context, m *models.Membership) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	query := `
		INSERT INTO memberships (id, brand_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`
	err := sqlx.GetContext(ctx, r.q, m, query, m.ID, m.BrandID, m.UserID, m.Role)
	return mapErr(err, "failed to create membership")
}

func (r *membershipRepo) Get(ctx context.Context, brandID, userID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	query := `
		SELECT id, brand_id, user_id, role, created_at, deleted_at
		FROM memberships
		WHERE brand_id = $1 AND user_id = $2 AND deleted_at IS NULL`
	if err := sqlx.GetContext(ctx, r.q, &m, query, brandID, userID); err != nil {
		return nil, mapErr(err, "failed to get membership")
	}
	return &m, nil
}

func (r *membershipRepo) ListByBrand(ctx context.Context, brandID uuid.UUID) ([]*models.MemberView, error) {
	members := []*models.MemberView{}
	query := `
		SELECT m.id, m.brand_id, m.user_id, m.role, m.created_at, m.deleted_at, u.email, u.name
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.brand_id = $1 AND m.deleted_at IS NULL
		ORDER BY m.created_at`
	if err := sqlx.SelectContext(ctx, r.q, &members, query, brandID); err != nil {
		return nil, mapErr(err, "failed to list members")
	}
	return members, nil
}

func (r *membershipRepo) UpdateRole(ctx context.Context, brandID, userID uuid.UUID, role models.Role) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE memberships SET role = $3 WHERE brand_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		brandID, userID, role)
	if err != nil {
		return mapErr(err, "failed to update role")
	}
	return affected(res, "failed to update role")
}

func (r *membershipRepo) SoftDelete(ctx context.Context, brandID, userID uuid.UUID) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE memberships SET deleted_at = NOW() WHERE brand_id = $1 AND user_id = $2 AND deleted_at IS NULL`,
		brandID, userID)
	if err != nil {
		return mapErr(err, "failed to remove member")
	}
	return affected(res, "failed to remove member")
}

func (r *membershipRepo) SoftDeleteByBrand(ctx context.Context, brandID uuid.UUID) error {
	_, err := r.q.ExecContext(ctx,
		`UPDATE memberships SET deleted_at = NOW() WHERE brand_id = $1 AND deleted_at IS NULL`, brandID)
	return mapErr(err, "failed to remove brand members")
}

func (r *membershipRepo) CountOwners(ctx context.Context, brandID uuid.UUID) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, r.q, &n,
		`SELECT COUNT(*) FROM memberships WHERE brand_id = $1 AND role = 'owner' AND deleted_at IS NULL`, brandID)
	if err != nil {
		return 0, mapErr(err, "failed to count owners")
	}
	return n, nil
}
