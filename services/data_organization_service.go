// services/data_organization_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/cache"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/prompts"
	"github.com/brandviz/brandviz/internal/repository"
)

const (
	trendLength       = 30
	topCompetitorSize = 10
)

type dataOrganizationService struct {
	repos    *repository.Manager
	catalog  *prompts.Catalog
	cache    cache.Cache
	cacheTTL time.Duration
	logger   zerolog.Logger
}

func NewDataOrganizationService(repos *repository.Manager, catalog *prompts.Catalog, c cache.Cache, cacheTTL time.Duration, logger zerolog.Logger) DataOrganizationService {
	if c == nil {
		c = cache.Noop{}
	}
	return &dataOrganizationService{
		repos:    repos,
		catalog:  catalog,
		cache:    c,
		cacheTTL: cacheTTL,
		logger:   logger.With().Str("component", "data_organization").Logger(),
	}
}

func (s *dataOrganizationService) Dashboard(ctx context.Context, user *models.User, brandID uuid.UUID) (*Dashboard, error) {
	brand, _, err := authorize(ctx, s.repos, user, brandID, accessView)
	if err != nil {
		return nil, err
	}

	key := cache.DashboardKey(brandID)
	var cached Dashboard
	switch err := s.cache.GetJSON(ctx, key, &cached); {
	case err == nil:
		return s.withActive(ctx, brandID, &cached)
	case !errors.Is(err, cache.ErrCacheMiss):
		s.logger.Warn().Err(err).Str("brand_id", brandID.String()).Msg("dashboard cache read failed")
	}

	latest, err := s.repos.Analyses.LatestCompleted(ctx, brandID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load latest analysis: %w", err)
	}

	var results []*models.AnalysisResult
	if latest != nil {
		results, err = s.repos.Results.ListByAnalysis(ctx, latest.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to load results: %w", err)
		}
	}

	history, err := s.repos.Analyses.ListCompleted(ctx, brandID, trendLength)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis history: %w", err)
	}

	dashboard := BuildDashboard(brand, latest, results, history, s.catalog)
	if err := s.cache.SetJSON(ctx, key, dashboard, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("brand_id", brandID.String()).Msg("dashboard cache write failed")
	}
	return s.withActive(ctx, brandID, dashboard)
}

// withActive attaches the in-flight analysis. It is never cached: its progress
// moves with every step.
func (s *dataOrganizationService) withActive(ctx context.Context, brandID uuid.UUID, dashboard *Dashboard) (*Dashboard, error) {
	active, err := s.repos.Analyses.GetActiveForBrand(ctx, brandID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to load active analysis: %w", err)
	}
	dashboard.ActiveAnalysis = active
	return dashboard, nil
}

func (s *dataOrganizationService) InvalidateDashboard(ctx context.Context, brandID uuid.UUID) {
	if err := s.cache.Delete(ctx, cache.DashboardKey(brandID)); err != nil {
		s.logger.Warn().Err(err).Str("brand_id", brandID.String()).Msg("dashboard cache invalidation failed")
	}
}

func (s *dataOrganizationService) Matrix(ctx context.Context, user *models.User, brandID uuid.UUID, analysisID *uuid.UUID) (*Matrix, error) {
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessView); err != nil {
		return nil, err
	}

	var (
		analysis *models.Analysis
		err      error
	)
	if analysisID != nil {
		analysis, err = s.repos.Analyses.GetByID(ctx, *analysisID)
		if errors.Is(err, repository.ErrNotFound) || (err == nil && analysis.BrandID != brandID) {
			return nil, apperr.NotFound("analysis not found")
		}
	} else {
		analysis, err = s.repos.Analyses.LatestCompleted(ctx, brandID)
		if errors.Is(err, repository.ErrNotFound) {
			return BuildMatrix(nil, nil), nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}

	results, err := s.repos.Results.ListByAnalysis(ctx, analysis.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	return BuildMatrix(analysis, results), nil
}

func (s *dataOrganizationService) Logs(ctx context.Context, user *models.User, brandID uuid.UUID, query LogQuery) (*LogPage, error) {
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessView); err != nil {
		return nil, err
	}
	page, limit := normalizePage(query.Page, query.Limit)

	items, total, err := s.repos.Results.ListByBrand(ctx, brandID, repository.ResultFilter{
		Model:  query.Model,
		Stage:  query.Stage,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}
	return BuildLogs(items, total, page, limit), nil
}

// BuildMatrix lays the results of one analysis out as model × stage cells.
// Combinations without a stored result are absent from Cells.
func BuildMatrix(analysis *models.Analysis, results []*models.AnalysisResult) *Matrix {
	matrix := &Matrix{
		Models: []models.AIModel{},
		Stages: []models.FunnelStage{},
		Cells:  map[models.AIModel]map[models.FunnelStage]*MatrixCell{},
	}
	if analysis != nil {
		id := analysis.ID
		matrix.AnalysisID = &id
		for _, m := range analysis.Models {
			matrix.Models = append(matrix.Models, models.AIModel(m))
		}
		for _, st := range analysis.Stages {
			matrix.Stages = append(matrix.Stages, models.FunnelStage(st))
		}
	}

	for _, r := range results {
		row, ok := matrix.Cells[r.Model]
		if !ok {
			row = map[models.FunnelStage]*MatrixCell{}
			matrix.Cells[r.Model] = row
			if !slices.Contains(matrix.Models, r.Model) {
				matrix.Models = append(matrix.Models, r.Model)
			}
		}
		if !slices.Contains(matrix.Stages, r.Stage) {
			matrix.Stages = append(matrix.Stages, r.Stage)
		}
		row[r.Stage] = &MatrixCell{
			Model:          r.Model,
			Stage:          r.Stage,
			WeightedScore:  r.WeightedScore,
			RawScore:       r.RawScore,
			Weight:         r.Weight,
			BrandMentioned: r.BrandMentioned,
			Position:       r.Position,
			Sentiment:      r.Sentiment,
			Failed:         r.Failed(),
		}
	}
	return matrix
}

// OverallScore is Σ(stage average × stage weight) / Σ(weights of stages present),
// over successful results only. It is nil when no combination succeeded.
func OverallScore(results []*models.AnalysisResult, catalog *prompts.Catalog) *float64 {
	stageAvg := averageBy(results, func(r *models.AnalysisResult) string { return string(r.Stage) })
	if len(stageAvg) == 0 {
		return nil
	}

	var weighted, weights float64
	for stage, avg := range stageAvg {
		w := catalog.StageWeight(models.FunnelStage(stage))
		weighted += avg * w
		weights += w
	}
	if weights == 0 {
		return nil
	}
	score := round2(weighted / weights)
	return &score
}

// BuildDashboard aggregates the latest completed analysis. history holds completed
// analyses newest first, as the repository returns them.
func BuildDashboard(brand *models.Brand, latest *models.Analysis, results []*models.AnalysisResult, history []*models.Analysis, catalog *prompts.Catalog) *Dashboard {
	d := &Dashboard{
		Brand:          brand,
		Analysis:       latest,
		StageScores:    map[models.FunnelStage]float64{},
		ModelScores:    map[models.AIModel]float64{},
		Sentiment:      map[models.Sentiment]int{},
		TopCompetitors: []CompetitorCount{},
		Trend:          []TrendPoint{},
	}

	if latest != nil {
		d.OverallScore = latest.OverallScore
		if d.OverallScore == nil {
			d.OverallScore = OverallScore(results, catalog)
		}
	}

	for stage, avg := range averageBy(results, func(r *models.AnalysisResult) string { return string(r.Stage) }) {
		d.StageScores[models.FunnelStage(stage)] = round2(avg)
	}
	for model, avg := range averageBy(results, func(r *models.AnalysisResult) string { return string(r.Model) }) {
		d.ModelScores[models.AIModel(model)] = round2(avg)
	}

	var total, mentioned int
	competitorCounts := map[string]*CompetitorCount{}
	for _, r := range results {
		if r.Failed() {
			continue
		}
		total++
		if r.BrandMentioned {
			mentioned++
			d.Sentiment[r.Sentiment]++
		}
		for _, c := range r.Competitors {
			key := strings.ToLower(strings.TrimSpace(c))
			if key == "" || strings.EqualFold(key, brand.Name) {
				continue
			}
			if cc, ok := competitorCounts[key]; ok {
				cc.Mentions++
			} else {
				competitorCounts[key] = &CompetitorCount{Name: strings.TrimSpace(c), Mentions: 1}
			}
		}
	}
	if total > 0 {
		d.VisibilityRate = round2(float64(mentioned) / float64(total))
	}

	for _, cc := range competitorCounts {
		d.TopCompetitors = append(d.TopCompetitors, *cc)
	}
	sort.Slice(d.TopCompetitors, func(i, j int) bool {
		if d.TopCompetitors[i].Mentions != d.TopCompetitors[j].Mentions {
			return d.TopCompetitors[i].Mentions > d.TopCompetitors[j].Mentions
		}
		return d.TopCompetitors[i].Name < d.TopCompetitors[j].Name
	})
	if len(d.TopCompetitors) > topCompetitorSize {
		d.TopCompetitors = d.TopCompetitors[:topCompetitorSize]
	}

	for i := len(history) - 1; i >= 0; i-- {
		a := history[i]
		if a.OverallScore == nil {
			continue
		}
		date := a.CreatedAt
		if a.CompletedAt != nil {
			date = *a.CompletedAt
		}
		d.Trend = append(d.Trend, TrendPoint{AnalysisID: a.ID, Date: date, Score: *a.OverallScore})
	}
	return d
}

// BuildLogs wraps one page of results
func BuildLogs(items []*models.AnalysisResult, total, page, limit int) *LogPage {
	if items == nil {
		items = []*models.AnalysisResult{}
	}
	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	return &LogPage{Items: items, Page: page, Limit: limit, Total: total, TotalPages: totalPages}
}

// averageBy averages the weighted score of successful results grouped by key
func averageBy(results []*models.AnalysisResult, key func(*models.AnalysisResult) string) map[string]float64 {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range results {
		if r.Failed() {
			continue
		}
		k := key(r)
		sums[k] += r.WeightedScore
		counts[k]++
	}
	out := make(map[string]float64, len(sums))
	for k, sum := range sums {
		out[k] = sum / float64(counts[k])
	}
	return out
}
