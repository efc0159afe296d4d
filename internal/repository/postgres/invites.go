package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandviz/brandviz/internal/models"
)

type inviteRepo struct {
	q sqlx.ExtContext
}

const inviteColumns = `id, brand_id, email, role, token_hash, invited_by, status, expires_at, accepted_at, created_at`

func (r *inviteRepo) Create(ctx context.Context, invite *models.Invite) error {
	if invite.ID == uuid.Nil {
		invite.ID = uuid.New()
	}
	if invite.Status == "" {
		invite.Status = models.InvitePending
	}
	query := `
		INSERT INTO invites (id, brand_id, email, role, token_hash, invited_by, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`
	err := sqlx.GetContext(ctx, r.q, invite, query,
		invite.ID, invite.BrandID, invite.Email, invite.Role, invite.TokenHash,
		invite.InvitedBy, invite.Status, invite.ExpiresAt,
	)
	return mapErr(err, "failed to create invite")
}

func (r *inviteRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Invite, error) {
	return r.getOne(ctx, `SELECT `+inviteColumns+` FROM invites WHERE id = $1`, id)
}

func (r *inviteRepo) GetByTokenHash(ctx context.Context, hash string) (*models.Invite, error) {
	return r.getOne(ctx, `SELECT `+inviteColumns+` FROM invites WHERE token_hash = $1`, hash)
}

func (r *inviteRepo) FindPendingByEmail(ctx context.Context, brandID uuid.UUID, email string) (*models.Invite, error) {
	return r.getOne(ctx, `
		SELECT `+inviteColumns+` FROM invites
		WHERE brand_id = $1 AND LOWER(email) = LOWER($2) AND status = 'pending'`, brandID, email)
}

func (r *inviteRepo) getOne(ctx context.Context, query string, args ...interface{}) (*models.Invite, error) {
	var invite models.Invite
	if err := sqlx.GetContext(ctx, r.q, &invite, query, args...); err != nil {
		return nil, mapErr(err, "failed to get invite")
	}
	return &invite, nil
}

func (r *inviteRepo) ListPending(ctx context.Context, brandID uuid.UUID) ([]*models.Invite, error) {
	invites := []*models.Invite{}
	query := `SELECT ` + inviteColumns + ` FROM invites WHERE brand_id = $1 AND status = 'pending' ORDER BY created_at DESC`
	if err := sqlx.SelectContext(ctx, r.q, &invites, query, brandID); err != nil {
		return nil, mapErr(err, "failed to list invites")
	}
	return invites, nil
}

func (r *inviteRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.InviteStatus, acceptedAt *time.Time) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE invites SET status = $2, accepted_at = $3 WHERE id = $1`, id, status, acceptedAt)
	if err != nil {
		return mapErr(err, "failed to update invite")
	}
	return affected(res, "failed to update invite")
}
