package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/repository"
)

type resultRepo struct {
	q sqlx.ExtContext
}

const resultColumns = `id, analysis_id, brand_id, model, stage, prompt, response, brand_mentioned,
	position, sentiment, raw_score, weight, weighted_score, competitors, sources, summary,
	input_tokens, output_tokens, cost, error, created_at`

func (r *resultRepo) Create(ctx context.Context, res *models.AnalysisResult) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	query := `
		INSERT INTO analysis_results (id, analysis_id, brand_id, model, stage, prompt, response,
			brand_mentioned, position, sentiment, raw_score, weight, weighted_score, competitors,
			sources, summary, input_tokens, output_tokens, cost, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at`
	err := sqlx.GetContext(ctx, r.q, res, query,
		res.ID, res.AnalysisID, res.BrandID, res.Model, res.Stage, res.Prompt, res.Response,
		res.BrandMentioned, res.Position, res.Sentiment, res.RawScore, res.Weight, res.WeightedScore,
		nonNil(res.Competitors), nonNil(res.Sources), res.Summary, res.InputTokens, res.OutputTokens,
		res.Cost, res.Error,
	)
	return mapErr(err, "failed to store analysis result")
}

func (r *resultRepo) Exists(ctx context.Context, analysisID uuid.UUID, model models.AIModel, stage models.FunnelStage) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, r.q, &exists, `
		SELECT EXISTS (SELECT 1 FROM analysis_results WHERE analysis_id = $1 AND model = $2 AND stage = $3)`,
		analysisID, model, stage)
	if err != nil {
		return false, mapErr(err, "failed to check analysis result")
	}
	return exists, nil
}

func (r *resultRepo) ListByAnalysis(ctx context.Context, analysisID uuid.UUID) ([]*models.AnalysisResult, error) {
	results := []*models.AnalysisResult{}
	query := `SELECT ` + resultColumns + ` FROM analysis_results WHERE analysis_id = $1 ORDER BY model, stage`
	if err := sqlx.SelectContext(ctx, r.q, &results, query, analysisID); err != nil {
		return nil, mapErr(err, "failed to list analysis results")
	}
	return results, nil
}

func (r *resultRepo) ListByBrand(ctx context.Context, brandID uuid.UUID, filter repository.ResultFilter) ([]*models.AnalysisResult, int, error) {
	where := []string{"brand_id = $1"}
	args := []interface{}{brandID}
	if filter.Model != "" {
		args = append(args, filter.Model)
		where = append(where, fmt.Sprintf("model = $%d", len(args)))
	}
	if filter.Stage != "" {
		args = append(args, filter.Stage)
		where = append(where, fmt.Sprintf("stage = $%d", len(args)))
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := sqlx.GetContext(ctx, r.q, &total, `SELECT COUNT(*) FROM analysis_results WHERE `+clause, args...); err != nil {
		return nil, 0, mapErr(err, "failed to count analysis results")
	}

	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM analysis_results WHERE %s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		resultColumns, clause, len(args)-1, len(args))

	results := []*models.AnalysisResult{}
	if err := sqlx.SelectContext(ctx, r.q, &results, query, args...); err != nil {
		return nil, 0, mapErr(err, "failed to list analysis results")
	}
	return results, total, nil
}

func nonNil(a pq.StringArray) pq.StringArray {
	if a == nil {
		return pq.StringArray{}
	}
	return a
}
