// Package postgres implements the repository contracts on PostgreSQL via sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/brandviz/brandviz/internal/repository"
)

// NewManager builds a repository manager on the pool. Repositories handed to
// WithinTx callbacks share a single *sqlx.Tx.
func NewManager(db *sqlx.DB) *repository.Manager {
	m := bind(db)
	m.TxRunner = func(ctx context.Context, fn func(repos *repository.Manager) error) error {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback() // Rollback on error

		if err := fn(bind(tx)); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	}
	return m
}

func bind(q sqlx.ExtContext) *repository.Manager {
	return &repository.Manager{
		Users:       &userRepo{q: q},
		Brands:      &brandRepo{q: q},
		Memberships: &membershipRepo{q: q},
		Invites:     &inviteRepo{q: q},
		Credits:     &creditRepo{q: q},
		Analyses:    &analysisRepo{q: q},
		Results:     &resultRepo{q: q},
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// mapErr converts driver errors into repository sentinels
func mapErr(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrNoRows):
		return repository.ErrNotFound
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, repository.ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func affected(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
