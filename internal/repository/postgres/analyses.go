package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/brandviz/brandviz/internal/models"
)

type analysisRepo struct {
	q sqlx.ExtContext
}

const analysisColumns = `id, brand_id, requested_by, models, stages, status, total_steps, completed_steps,
	failed_steps, credits_charged, credits_refunded, overall_score, resume_count, error,
	started_at, completed_at, created_at, updated_at`

func (r *analysisRepo) Create(ctx context.Context, a *models.Analysis) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.AnalysisPending
	}
	query := `
		INSERT INTO analyses (id, brand_id, requested_by, models, stages, status, total_steps, credits_charged)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`
	err := sqlx.GetContext(ctx, r.q, a, query,
		a.ID, a.BrandID, a.RequestedBy, a.Models, a.Stages, a.Status, a.TotalSteps, a.CreditsCharged,
	)
	return mapErr(err, "failed to create analysis")
}

func (r *analysisRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	return r.getOne(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = $1`, id)
}

func (r *analysisRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	return r.getOne(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = $1 FOR UPDATE`, id)
}

func (r *analysisRepo) GetActiveForBrand(ctx context.Context, brandID uuid.UUID) (*models.Analysis, error) {
	return r.getOne(ctx, `
		SELECT `+analysisColumns+` FROM analyses
		WHERE brand_id = $1 AND status IN ('pending', 'running')
		ORDER BY created_at DESC LIMIT 1`, brandID)
}

func (r *analysisRepo) LatestCompleted(ctx context.Context, brandID uuid.UUID) (*models.Analysis, error) {
	return r.getOne(ctx, `
		SELECT `+analysisColumns+` FROM analyses
		WHERE brand_id = $1 AND status = 'completed'
		ORDER BY completed_at DESC LIMIT 1`, brandID)
}

func (r *analysisRepo) getOne(ctx context.Context, query string, args ...interface{}) (*models.Analysis, error) {
	var a models.Analysis
	if err := sqlx.GetContext(ctx, r.q, &a, query, args...); err != nil {
		return nil, mapErr(err, "failed to get analysis")
	}
	return &a, nil
}

func (r *analysisRepo) ListByBrand(ctx context.Context, brandID uuid.UUID, limit int) ([]*models.Analysis, error) {
	return r.list(ctx, `
		SELECT `+analysisColumns+` FROM analyses
		WHERE brand_id = $1 ORDER BY created_at DESC LIMIT $2`, brandID, limit)
}

func (r *analysisRepo) ListCompleted(ctx context.Context, brandID uuid.UUID, limit int) ([]*models.Analysis, error) {
	return r.list(ctx, `
		SELECT `+analysisColumns+` FROM analyses
		WHERE brand_id = $1 AND status = 'completed'
		ORDER BY completed_at DESC LIMIT $2`, brandID, limit)
}

func (r *analysisRepo) ListStale(ctx context.Context, status models.AnalysisStatus, before time.Time) ([]*models.Analysis, error) {
	return r.list(ctx, `
		SELECT `+analysisColumns+` FROM analyses
		WHERE status = $1 AND updated_at < $2 ORDER BY updated_at`, status, before)
}

func (r *analysisRepo) list(ctx context.Context, query string, args ...interface{}) ([]*models.Analysis, error) {
	analyses := []*models.Analysis{}
	if err := sqlx.SelectContext(ctx, r.q, &analyses, query, args...); err != nil {
		return nil, mapErr(err, "failed to list analyses")
	}
	return analyses, nil
}

func (r *analysisRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from []models.AnalysisStatus, to models.AnalysisStatus, errMsg *string) (bool, error) {
	fromStrs := make(pq.StringArray, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}

	query := `
		UPDATE analyses SET status = $3, error = COALESCE($4, error), updated_at = NOW(),
			completed_at = CASE WHEN $3 IN ('completed', 'failed', 'cancelled') THEN NOW() ELSE completed_at END
		WHERE id = $1 AND status = ANY($2)`
	res, err := r.q.ExecContext(ctx, query, id, fromStrs, to, errMsg)
	if err != nil {
		return false, mapErr(err, "failed to transition analysis")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr(err, "failed to transition analysis")
	}
	return n > 0, nil
}

func (r *analysisRepo) MarkRunning(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE analyses SET status = 'running', started_at = COALESCE(started_at, NOW()), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')`, id)
	if err != nil {
		return false, mapErr(err, "failed to mark analysis running")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr(err, "failed to mark analysis running")
	}
	return n > 0, nil
}

func (r *analysisRepo) IncrementProgress(ctx context.Context, id uuid.UUID, completed, failed int) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE analyses SET completed_steps = completed_steps + $2, failed_steps = failed_steps + $3,
			updated_at = NOW()
		WHERE id = $1`, id, completed, failed)
	if err != nil {
		return mapErr(err, "failed to update analysis progress")
	}
	return affected(res, "failed to update analysis progress")
}

func (r *analysisRepo) AddRefund(ctx context.Context, id uuid.UUID, amount float64) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE analyses SET credits_refunded = credits_refunded + $2, updated_at = NOW()
		WHERE id = $1`, id, amount)
	if err != nil {
		return mapErr(err, "failed to record refund")
	}
	return affected(res, "failed to record refund")
}

func (r *analysisRepo) IncrementResume(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE analyses SET resume_count = resume_count + 1, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, "failed to record resume")
	}
	return affected(res, "failed to record resume")
}

func (r *analysisRepo) Finish(ctx context.Context, a *models.Analysis) error {
	query := `
		UPDATE analyses SET status = $2, overall_score = $3, error = $4,
			completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'running')
		RETURNING completed_at, updated_at`
	err := sqlx.GetContext(ctx, r.q, a, query, a.ID, a.Status, a.OverallScore, a.Error)
	return mapErr(err, "failed to finish analysis")
}
