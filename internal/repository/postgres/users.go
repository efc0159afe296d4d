package postgres

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandviz/brandviz/internal/models"
)

type userRepo struct {
	q sqlx.ExtContext
}

const userColumns = `id, email, name, password_hash, created_at, updated_at, deleted_at`

func (r *userRepo) Create(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	query := `
		INSERT INTO users (id, email, name, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`
	err := sqlx.GetContext(ctx, r.q, user, query, user.ID, strings.ToLower(user.Email), user.Name, user.PasswordHash)
	return mapErr(err, "failed to create user")
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND deleted_at IS NULL`
	if err := sqlx.GetContext(ctx, r.q, &user, query, id); err != nil {
		return nil, mapErr(err, "failed to get user by ID")
	}
	return &user, nil
}

func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE LOWER(email) = LOWER($1) AND deleted_at IS NULL`
	if err := sqlx.GetContext(ctx, r.q, &user, query, email); err != nil {
		return nil, mapErr(err, "failed to get user by email")
	}
	return &user, nil
}
