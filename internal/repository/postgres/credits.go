package postgres

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/brandviz/brandviz/internal/models"
)

type creditRepo struct {
	q sqlx.ExtContext
}

const creditColumns = `id, user_id, type, amount, balance_after, source_type, source_id, description, metadata, created_at`

func (r *creditRepo) LockAccount(ctx context.Context, userID uuid.UUID) error {
	var id uuid.UUID
	err := sqlx.GetContext(ctx, r.q, &id, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, userID)
	return mapErr(err, "failed to lock credit account")
}

func (r *creditRepo) Balance(ctx context.Context, userID uuid.UUID) (float64, error) {
	var balance float64
	err := sqlx.GetContext(ctx, r.q, &balance,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, mapErr(err, "failed to get credit balance")
	}
	return balance, nil
}

func (r *creditRepo) Insert(ctx context.Context, txn *models.CreditTransaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if len(txn.Metadata) == 0 {
		txn.Metadata = json.RawMessage(`{}`)
	}
	query := `
		INSERT INTO credit_transactions (id, user_id, type, amount, balance_after, source_type,
			source_id, description, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`
	err := sqlx.GetContext(ctx, r.q, txn, query,
		txn.ID, txn.UserID, txn.Type, txn.Amount, txn.BalanceAfter, txn.SourceType,
		txn.SourceID, txn.Description, string(txn.Metadata),
	)
	return mapErr(err, "failed to insert credit transaction")
}

func (r *creditRepo) GetBySource(ctx context.Context, typ models.CreditTransactionType, sourceType, sourceID string) (*models.CreditTransaction, error) {
	var txn models.CreditTransaction
	query := `
		SELECT ` + creditColumns + ` FROM credit_transactions
		WHERE type = $1 AND source_type = $2 AND source_id = $3`
	if err := sqlx.GetContext(ctx, r.q, &txn, query, typ, sourceType, sourceID); err != nil {
		return nil, mapErr(err, "failed to get credit transaction")
	}
	return &txn, nil
}

func (r *creditRepo) List(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*models.CreditTransaction, int, error) {
	var total int
	if err := sqlx.GetContext(ctx, r.q, &total,
		`SELECT COUNT(*) FROM credit_transactions WHERE user_id = $1`, userID); err != nil {
		return nil, 0, mapErr(err, "failed to count credit transactions")
	}

	txns := []*models.CreditTransaction{}
	query := `
		SELECT ` + creditColumns + ` FROM credit_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3`
	if err := sqlx.SelectContext(ctx, r.q, &txns, query, userID, limit, offset); err != nil {
		return nil, 0, mapErr(err, "failed to list credit transactions")
	}
	return txns, total, nil
}
