// services/background_analysis_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/metrics"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/prompts"
	"github.com/brandviz/brandviz/internal/providers"
	"github.com/brandviz/brandviz/internal/repository"
)

const systemPrompt = `You are a knowledgeable, impartial assistant helping a consumer research products, services and brands. ` +
	`Answer the question as you normally would, naming specific brands where relevant, then report on your own answer in the requested JSON format.`

const (
	TriggerUser      = "user"
	TriggerScheduler = "scheduler"
	TriggerSweeper   = "stale-sweeper"

	maxResumes = 1
)

var errAnalysisInactive = errors.New("analysis is no longer active")

type backgroundAnalysisService struct {
	cfg        *config.Config
	repos      *repository.Manager
	catalog    *prompts.Catalog
	registry   providers.Registry
	scoring    ScoringService
	credits    CreditService
	data       DataOrganizationService
	dispatcher AnalysisDispatcher
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

func NewBackgroundAnalysisService(
	cfg *config.Config,
	repos *repository.Manager,
	catalog *prompts.Catalog,
	registry providers.Registry,
	scoring ScoringService,
	credits CreditService,
	data DataOrganizationService,
	dispatcher AnalysisDispatcher,
	m *metrics.Metrics,
	logger zerolog.Logger,
) BackgroundAnalysisService {
	return &backgroundAnalysisService{
		cfg:        cfg,
		repos:      repos,
		catalog:    catalog,
		registry:   registry,
		scoring:    scoring,
		credits:    credits,
		data:       data,
		dispatcher: dispatcher,
		metrics:    m,
		logger:     logger.With().Str("component", "analysis").Logger(),
	}
}

func (s *backgroundAnalysisService) StartAnalysis(ctx context.Context, user *models.User, brandID uuid.UUID, req AnalysisRequest) (*AnalysisView, error) {
	brand, _, err := authorize(ctx, s.repos, user, brandID, accessManage)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, user.ID, brand, req, TriggerUser)
}

func (s *backgroundAnalysisService) StartScheduled(ctx context.Context, brand *models.Brand) (*AnalysisView, error) {
	owner, err := s.repos.Users.GetByID(ctx, brand.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load owner of brand %s: %w", brand.ID, err)
	}
	return s.start(ctx, owner.ID, brand, AnalysisRequest{}, TriggerScheduler)
}

func (s *backgroundAnalysisService) start(ctx context.Context, requesterID uuid.UUID, brand *models.Brand, req AnalysisRequest, triggeredBy string) (*AnalysisView, error) {
	aiModels, err := s.resolveModels(req.Models)
	if err != nil {
		return nil, err
	}
	stages, err := s.resolveStages(req.Stages)
	if err != nil {
		return nil, err
	}

	cost := s.cfg.Analysis.CreditsPerModel * float64(len(aiModels))
	analysis := &models.Analysis{
		ID:             uuid.New(),
		BrandID:        brand.ID,
		RequestedBy:    requesterID,
		Models:         pq.StringArray{},
		Stages:         pq.StringArray{},
		Status:         models.AnalysisPending,
		TotalSteps:     len(aiModels) * len(stages),
		CreditsCharged: cost,
	}
	for _, m := range aiModels {
		analysis.Models = append(analysis.Models, string(m))
	}
	for _, st := range stages {
		analysis.Stages = append(analysis.Stages, string(st))
	}

	err = s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		if active, err := repos.Analyses.GetActiveForBrand(ctx, brand.ID); err == nil {
			return apperr.Conflict("analysis %s is already %s for this brand", active.ID, active.Status)
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("failed to check active analysis: %w", err)
		}

		if cost > 0 {
			_, err := s.credits.Debit(ctx, repos, LedgerEntry{
				UserID:      requesterID,
				Amount:      cost,
				SourceType:  SourceAnalysis,
				SourceID:    analysis.ID.String(),
				Description: fmt.Sprintf("Analysis of %s (%d models × %d stages)", brand.Name, len(aiModels), len(stages)),
				Metadata:    map[string]interface{}{"brand_id": brand.ID.String(), "models": analysis.Models},
			})
			if errors.Is(err, repository.ErrInsufficientCredits) {
				return apperr.Wrap(apperr.KindPaymentRequired, err, fmt.Sprintf("insufficient credits: this analysis costs %g credits", cost))
			}
			if err != nil {
				return err
			}
		}

		if err := repos.Analyses.Create(ctx, analysis); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Conflict("an analysis is already running for this brand")
			}
			return fmt.Errorf("failed to create analysis: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := s.logger.With().Str("analysis_id", analysis.ID.String()).Str("brand_id", brand.ID.String()).Logger()
	if err := s.dispatcher.DispatchAnalysis(ctx, analysis.ID, brand.ID, triggeredBy); err != nil {
		logger.Error().Err(err).Msg("failed to dispatch analysis, rolling back")
		msg := "failed to queue analysis"
		if _, terr := s.repos.Analyses.TransitionStatus(ctx, analysis.ID, []models.AnalysisStatus{models.AnalysisPending}, models.AnalysisFailed, &msg); terr != nil {
			logger.Error().Err(terr).Msg("failed to mark undispatched analysis as failed")
		}
		if _, rerr := s.refundModels(ctx, analysis, aiModels, "analysis could not be queued"); rerr != nil {
			logger.Error().Err(rerr).Msg("failed to refund undispatched analysis")
		}
		return nil, fmt.Errorf("failed to dispatch analysis: %w", err)
	}

	s.metrics.AnalysisEvent("started")
	s.data.InvalidateDashboard(ctx, brand.ID)
	logger.Info().
		Str("triggered_by", triggeredBy).
		Strs("models", analysis.Models).
		Strs("stages", analysis.Stages).
		Float64("credits", cost).
		Msg("analysis started")
	return newAnalysisView(analysis), nil
}

func (s *backgroundAnalysisService) resolveModels(names []string) ([]models.AIModel, error) {
	if len(names) == 0 {
		out := []models.AIModel{}
		for _, m := range models.AllModels {
			if _, ok := s.registry.Get(string(m)); ok {
				out = append(out, m)
			}
		}
		if len(out) == 0 {
			return nil, apperr.BadRequest("no AI models are configured")
		}
		return out, nil
	}

	out := make([]models.AIModel, 0, len(names))
	for _, name := range names {
		m, err := providers.ResolveModel(name)
		if err != nil {
			return nil, apperr.Validation(map[string]string{"models": fmt.Sprintf("unsupported model %q", name)})
		}
		if _, ok := s.registry.Get(string(m)); !ok {
			return nil, apperr.BadRequest("model %s is not configured", m)
		}
		if !slices.Contains(out, m) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *backgroundAnalysisService) resolveStages(names []string) ([]models.FunnelStage, error) {
	available := s.catalog.Stages()
	if len(names) == 0 {
		return available, nil
	}

	out := make([]models.FunnelStage, 0, len(names))
	for _, name := range names {
		stage := models.FunnelStage(strings.ToUpper(strings.TrimSpace(name)))
		if !stage.Valid() || !slices.Contains(available, stage) {
			return nil, apperr.Validation(map[string]string{"stages": fmt.Sprintf("unsupported stage %q", name)})
		}
		if !slices.Contains(out, stage) {
			out = append(out, stage)
		}
	}
	// keep funnel order regardless of request order
	slices.SortFunc(out, func(a, b models.FunnelStage) int {
		return slices.Index(models.AllStages, a) - slices.Index(models.AllStages, b)
	})
	return out, nil
}

func (s *backgroundAnalysisService) CancelAnalysis(ctx context.Context, user *models.User, brandID, analysisID uuid.UUID) (*AnalysisView, error) {
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessManage); err != nil {
		return nil, err
	}
	analysis, err := s.loadForBrand(ctx, brandID, analysisID)
	if err != nil {
		return nil, err
	}

	// RunStep stores results under the same row lock
	msg := "cancelled by user"
	var results []*models.AnalysisResult
	err = s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		locked, err := repos.Analyses.GetForUpdate(ctx, analysisID)
		if err != nil {
			return fmt.Errorf("failed to lock analysis: %w", err)
		}
		if !locked.Status.Active() {
			return apperr.Conflict("analysis is already %s", locked.Status)
		}
		if _, err := repos.Analyses.TransitionStatus(ctx, analysisID,
			[]models.AnalysisStatus{models.AnalysisPending, models.AnalysisRunning}, models.AnalysisCancelled, &msg); err != nil {
			return fmt.Errorf("failed to cancel analysis: %w", err)
		}
		results, err = repos.Results.ListByAnalysis(ctx, analysisID)
		if err != nil {
			return fmt.Errorf("failed to load results: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	started := map[models.AIModel]bool{}
	for _, r := range results {
		started[r.Model] = true
	}
	var untouched []models.AIModel
	for _, m := range analysis.Models {
		if !started[models.AIModel(m)] {
			untouched = append(untouched, models.AIModel(m))
		}
	}
	if _, err := s.refundModels(ctx, analysis, untouched, "analysis cancelled"); err != nil {
		return nil, err
	}

	s.metrics.AnalysisEvent("cancelled")
	s.data.InvalidateDashboard(ctx, brandID)
	s.logger.Info().Str("analysis_id", analysisID.String()).Str("user_id", user.ID.String()).Msg("analysis cancelled")
	return s.view(ctx, analysisID)
}

func (s *backgroundAnalysisService) GetAnalysis(ctx context.Context, user *models.User, brandID, analysisID uuid.UUID) (*AnalysisView, error) {
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessView); err != nil {
		return nil, err
	}
	analysis, err := s.loadForBrand(ctx, brandID, analysisID)
	if err != nil {
		return nil, err
	}
	return newAnalysisView(analysis), nil
}

func (s *backgroundAnalysisService) ListAnalyses(ctx context.Context, user *models.User, brandID uuid.UUID, limit int) ([]*AnalysisView, error) {
	if _, _, err := authorize(ctx, s.repos, user, brandID, accessView); err != nil {
		return nil, err
	}
	_, limit = normalizePage(1, limit)

	list, err := s.repos.Analyses.ListByBrand(ctx, brandID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	views := make([]*AnalysisView, 0, len(list))
	for _, a := range list {
		views = append(views, newAnalysisView(a))
	}
	return views, nil
}

func (s *backgroundAnalysisService) ScheduledBrands(ctx context.Context, weekday int) ([]*models.Brand, error) {
	brands, err := s.repos.Brands.ListScheduled(ctx, weekday)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled brands: %w", err)
	}
	return brands, nil
}

// MarkRunning moves a pending analysis to running. The returned analysis is
// no longer active when it was cancelled or failed in the meantime.
func (s *backgroundAnalysisService) MarkRunning(ctx context.Context, analysisID uuid.UUID) (*models.Analysis, error) {
	if _, err := s.repos.Analyses.MarkRunning(ctx, analysisID); err != nil {
		return nil, fmt.Errorf("failed to mark analysis running: %w", err)
	}
	analysis, err := s.repos.Analyses.GetByID(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis %s: %w", analysisID, err)
	}
	return analysis, nil
}

// RunStep processes one model × stage combination. Combinations that already
// have a result are skipped, so a resumed job never repeats paid work.
// Provider failures are stored as failed results rather than returned.
func (s *backgroundAnalysisService) RunStep(ctx context.Context, analysisID uuid.UUID, model models.AIModel, stage models.FunnelStage) (*StepOutcome, error) {
	started := time.Now()
	outcome := &StepOutcome{Model: model, Stage: stage}
	logger := s.logger.With().
		Str("analysis_id", analysisID.String()).
		Str("model", string(model)).
		Str("stage", string(stage)).
		Logger()

	analysis, err := s.repos.Analyses.GetByID(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis %s: %w", analysisID, err)
	}
	if !analysis.Status.Active() {
		outcome.Status = StepCancelled
		return outcome, nil
	}

	exists, err := s.repos.Results.Exists(ctx, analysisID, model, stage)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing result: %w", err)
	}
	if exists {
		logger.Debug().Msg("combination already processed, skipping")
		outcome.Status = StepSkipped
		return outcome, nil
	}

	brand, err := s.repos.Brands.GetByID(ctx, analysis.BrandID)
	if err != nil {
		return nil, fmt.Errorf("failed to load brand %s: %w", analysis.BrandID, err)
	}

	result := &models.AnalysisResult{
		AnalysisID:  analysisID,
		BrandID:     brand.ID,
		Model:       model,
		Stage:       stage,
		Sentiment:   models.SentimentNeutral,
		Competitors: pq.StringArray{},
		Sources:     pq.StringArray{},
	}

	callErr := s.callAndScore(ctx, brand, result)
	if callErr != nil {
		msg := callErr.Error()
		result.Error = &msg
		result.Weight = s.catalog.AbsentWeight()
		logger.Warn().Err(callErr).Msg("combination failed")
	}

	err = s.repos.WithinTx(ctx, func(repos *repository.Manager) error {
		current, err := repos.Analyses.GetForUpdate(ctx, analysisID)
		if err != nil {
			return err
		}
		if !current.Status.Active() {
			return errAnalysisInactive
		}
		if err := repos.Results.Create(ctx, result); err != nil {
			return err
		}
		completed, failed := 1, 0
		if callErr != nil {
			completed, failed = 0, 1
		}
		return repos.Analyses.IncrementProgress(ctx, analysisID, completed, failed)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		outcome.Status = StepSkipped
		return outcome, nil
	}
	if errors.Is(err, errAnalysisInactive) {
		// cancelled or failed while the provider call was in flight
		logger.Info().Msg("analysis no longer active, discarding result")
		outcome.Status = StepCancelled
		return outcome, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}

	outcome.Duration = time.Since(started)
	if callErr != nil {
		outcome.Status = StepFailed
		outcome.Error = callErr.Error()
	} else {
		outcome.Status = StepCompleted
		outcome.Score = result.WeightedScore
	}
	s.metrics.StepProcessed(string(model), outcome.Status)
	logger.Info().Str("status", outcome.Status).Float64("score", outcome.Score).Dur("duration", outcome.Duration).Msg("combination processed")
	return outcome, nil
}

// callAndScore renders the prompt, asks the assistant and fills the scored fields of result
func (s *backgroundAnalysisService) callAndScore(ctx context.Context, brand *models.Brand, result *models.AnalysisResult) error {
	prompt, err := s.catalog.Render(result.Stage, prompts.NewBrandContext(brand))
	if err != nil {
		return err
	}
	result.Prompt = prompt

	provider, ok := s.registry.Get(string(result.Model))
	if !ok {
		return fmt.Errorf("model %s is not configured", result.Model)
	}

	resp, err := provider.RunPrompt(ctx, systemPrompt, prompt)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", result.Model, err)
	}

	scored := s.scoring.Evaluate(result.Stage, resp.Response, brand)
	result.Response = resp.Response
	result.BrandMentioned = scored.BrandMentioned
	result.Position = scored.Position
	result.Sentiment = scored.Sentiment
	result.RawScore = scored.RawScore
	result.Weight = scored.Weight
	result.WeightedScore = scored.WeightedScore
	result.Competitors = scored.Competitors
	result.Sources = append(pq.StringArray{}, scored.Sources...)
	for _, c := range resp.Citations {
		if !slices.Contains(result.Sources, c) {
			result.Sources = append(result.Sources, c)
		}
	}
	result.Summary = scored.Summary
	result.InputTokens = resp.InputTokens
	result.OutputTokens = resp.OutputTokens
	result.Cost = resp.Cost
	return nil
}

// Finalize computes the overall score, refunds models that produced no usable
// answer and closes the analysis. An analysis that is no longer active is returned unchanged.
func (s *backgroundAnalysisService) Finalize(ctx context.Context, analysisID uuid.UUID) (*models.Analysis, error) {
	analysis, err := s.repos.Analyses.GetByID(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis %s: %w", analysisID, err)
	}
	if !analysis.Status.Active() {
		return analysis, nil
	}

	results, err := s.repos.Results.ListByAnalysis(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}

	failedModels := modelsWithoutSuccess(analysis, results)
	if _, err := s.refundModels(ctx, analysis, failedModels, "no successful responses"); err != nil {
		return nil, err
	}

	analysis.OverallScore = OverallScore(results, s.catalog)
	analysis.Status = models.AnalysisCompleted
	analysis.Error = nil
	if len(failedModels) == len(analysis.Models) {
		msg := "all model runs failed"
		analysis.Status = models.AnalysisFailed
		analysis.Error = &msg
	}

	if err := s.repos.Analyses.Finish(ctx, analysis); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to finish analysis: %w", err)
	}

	s.metrics.AnalysisEvent(string(analysis.Status))
	s.data.InvalidateDashboard(ctx, analysis.BrandID)

	final, err := s.repos.Analyses.GetByID(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload analysis: %w", err)
	}
	s.logger.Info().
		Str("analysis_id", analysisID.String()).
		Str("status", string(final.Status)).
		Int("completed_steps", final.CompletedSteps).
		Int("failed_steps", final.FailedSteps).
		Float64("credits_refunded", final.CreditsRefunded).
		Msg("analysis finalized")
	return final, nil
}

// SweepStale resumes running analyses that stopped making progress, once,
// and fails analyses that stalled again or never started.
func (s *backgroundAnalysisService) SweepStale(ctx context.Context, now time.Time) (*SweepReport, error) {
	report := &SweepReport{Resumed: []uuid.UUID{}, Failed: []uuid.UUID{}, Expired: []uuid.UUID{}}

	stalled, err := s.repos.Analyses.ListStale(ctx, models.AnalysisRunning, now.Add(-s.cfg.Analysis.StaleAfter))
	if err != nil {
		return nil, fmt.Errorf("failed to list stalled analyses: %w", err)
	}
	for _, a := range stalled {
		logger := s.logger.With().Str("analysis_id", a.ID.String()).Logger()
		if a.ResumeCount < maxResumes {
			if err := s.repos.Analyses.IncrementResume(ctx, a.ID); err != nil {
				return report, fmt.Errorf("failed to record resume: %w", err)
			}
			if err := s.dispatcher.DispatchAnalysis(ctx, a.ID, a.BrandID, TriggerSweeper); err != nil {
				logger.Error().Err(err).Msg("failed to resume analysis")
				continue
			}
			logger.Warn().Msg("stalled analysis resumed")
			report.Resumed = append(report.Resumed, a.ID)
			continue
		}

		if err := s.failAnalysis(ctx, a, models.AnalysisRunning, "analysis stalled"); err != nil {
			return report, err
		}
		report.Failed = append(report.Failed, a.ID)
	}

	expired, err := s.repos.Analyses.ListStale(ctx, models.AnalysisPending, now.Add(-s.cfg.Analysis.PendingExpiry))
	if err != nil {
		return report, fmt.Errorf("failed to list expired analyses: %w", err)
	}
	for _, a := range expired {
		if err := s.failAnalysis(ctx, a, models.AnalysisPending, "analysis never started"); err != nil {
			return report, err
		}
		report.Expired = append(report.Expired, a.ID)
	}
	return report, nil
}

func (s *backgroundAnalysisService) failAnalysis(ctx context.Context, a *models.Analysis, from models.AnalysisStatus, reason string) error {
	changed, err := s.repos.Analyses.TransitionStatus(ctx, a.ID, []models.AnalysisStatus{from}, models.AnalysisFailed, &reason)
	if err != nil {
		return fmt.Errorf("failed to fail analysis %s: %w", a.ID, err)
	}
	if !changed {
		return nil
	}

	results, err := s.repos.Results.ListByAnalysis(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}
	if _, err := s.refundModels(ctx, a, modelsWithoutSuccess(a, results), reason); err != nil {
		return err
	}

	s.metrics.AnalysisEvent("failed")
	s.data.InvalidateDashboard(ctx, a.BrandID)
	s.logger.Warn().Str("analysis_id", a.ID.String()).Str("reason", reason).Msg("analysis failed")
	return nil
}

// refundModels returns the per-model charge for each model, once per analysis and model
func (s *backgroundAnalysisService) refundModels(ctx context.Context, a *models.Analysis, aiModels []models.AIModel, reason string) (float64, error) {
	if len(aiModels) == 0 || len(a.Models) == 0 || a.CreditsCharged <= 0 {
		return 0, nil
	}
	perModel := a.CreditsCharged / float64(len(a.Models))

	var refunded float64
	for _, m := range aiModels {
		_, created, err := s.credits.Refund(ctx, LedgerEntry{
			UserID:      a.RequestedBy,
			Amount:      perModel,
			SourceType:  SourceAnalysis,
			SourceID:    a.ID.String() + ":" + string(m),
			Description: fmt.Sprintf("Refund for %s: %s", m, reason),
		})
		if err != nil {
			return refunded, fmt.Errorf("failed to refund %s for analysis %s: %w", m, a.ID, err)
		}
		if !created {
			continue
		}
		if err := s.repos.Analyses.AddRefund(ctx, a.ID, perModel); err != nil {
			return refunded, fmt.Errorf("failed to record refund: %w", err)
		}
		refunded += perModel
	}
	return refunded, nil
}

func (s *backgroundAnalysisService) loadForBrand(ctx context.Context, brandID, analysisID uuid.UUID) (*models.Analysis, error) {
	analysis, err := s.repos.Analyses.GetByID(ctx, analysisID)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && analysis.BrandID != brandID) {
		return nil, apperr.NotFound("analysis not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}
	return analysis, nil
}

func (s *backgroundAnalysisService) view(ctx context.Context, analysisID uuid.UUID) (*AnalysisView, error) {
	analysis, err := s.repos.Analyses.GetByID(ctx, analysisID)
	if err != nil {
		return nil, fmt.Errorf("failed to load analysis: %w", err)
	}
	return newAnalysisView(analysis), nil
}

func newAnalysisView(a *models.Analysis) *AnalysisView {
	return &AnalysisView{Analysis: a, Progress: round2(a.Progress())}
}

// modelsWithoutSuccess lists requested models with no successful result
func modelsWithoutSuccess(a *models.Analysis, results []*models.AnalysisResult) []models.AIModel {
	succeeded := map[models.AIModel]bool{}
	for _, r := range results {
		if !r.Failed() {
			succeeded[r.Model] = true
		}
	}
	var out []models.AIModel
	for _, m := range a.Models {
		if !succeeded[models.AIModel(m)] {
			out = append(out, models.AIModel(m))
		}
	}
	return out
}
