package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/billing"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/providers"
	providertest "github.com/brandviz/brandviz/internal/providers/testutil"
	"github.com/brandviz/brandviz/internal/testutil"
)

func result(model models.AIModel, stage models.FunnelStage, weighted float64, mentioned bool, sentiment models.Sentiment, competitors ...string) *models.AnalysisResult {
	return &models.AnalysisResult{
		Model:          model,
		Stage:          stage,
		WeightedScore:  weighted,
		RawScore:       weighted,
		BrandMentioned: mentioned,
		Sentiment:      sentiment,
		Competitors:    pq.StringArray(competitors),
	}
}

func failedResult(model models.AIModel, stage models.FunnelStage) *models.AnalysisResult {
	msg := "timeout"
	return &models.AnalysisResult{Model: model, Stage: stage, Error: &msg}
}

func TestOverallScore(t *testing.T) {
	catalog := testCatalog(t)

	t.Run("weighted by stage", func(t *testing.T) {
		results := []*models.AnalysisResult{
			result(models.ModelChatGPT, models.StageTOFU, 80, true, models.SentimentPositive),
			result(models.ModelClaude, models.StageTOFU, 60, true, models.SentimentPositive),
			result(models.ModelChatGPT, models.StageBOFU, 40, true, models.SentimentNeutral),
			failedResult(models.ModelClaude, models.StageBOFU),
		}
		// TOFU avg 70 × 2, BOFU 40 × 1, over weights 3
		got := OverallScore(results, catalog)
		if got == nil || *got != 60 {
			t.Errorf("OverallScore = %v, want 60", got)
		}
	})

	t.Run("nothing succeeded", func(t *testing.T) {
		results := []*models.AnalysisResult{failedResult(models.ModelChatGPT, models.StageTOFU)}
		if got := OverallScore(results, catalog); got != nil {
			t.Errorf("OverallScore = %v, want nil", *got)
		}
	})
}

func TestBuildMatrix(t *testing.T) {
	analysis := &models.Analysis{
		ID:     uuid.New(),
		Models: pq.StringArray{"chatgpt", "claude"},
		Stages: pq.StringArray{"TOFU", "MOFU"},
	}
	results := []*models.AnalysisResult{
		result(models.ModelChatGPT, models.StageTOFU, 80, true, models.SentimentPositive),
		failedResult(models.ModelClaude, models.StageMOFU),
	}

	m := BuildMatrix(analysis, results)
	if m.AnalysisID == nil || *m.AnalysisID != analysis.ID {
		t.Errorf("analysis id = %v", m.AnalysisID)
	}
	if len(m.Models) != 2 || len(m.Stages) != 2 {
		t.Errorf("models = %v stages = %v", m.Models, m.Stages)
	}
	if cell := m.Cells[models.ModelChatGPT][models.StageTOFU]; cell == nil || cell.WeightedScore != 80 || cell.Failed {
		t.Errorf("chatgpt TOFU cell = %+v", cell)
	}
	if cell := m.Cells[models.ModelClaude][models.StageMOFU]; cell == nil || !cell.Failed {
		t.Errorf("claude MOFU cell = %+v", cell)
	}
	if _, ok := m.Cells[models.ModelChatGPT][models.StageMOFU]; ok {
		t.Error("missing combinations must be absent")
	}

	empty := BuildMatrix(nil, nil)
	if empty.AnalysisID != nil || len(empty.Cells) != 0 {
		t.Errorf("empty matrix = %+v", empty)
	}
}

func TestBuildDashboard(t *testing.T) {
	catalog := testCatalog(t)
	brand := &models.Brand{ID: uuid.New(), Name: "Acme"}
	base := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)

	score := func(v float64) *float64 { return &v }
	latest := &models.Analysis{ID: uuid.New(), Status: models.AnalysisCompleted, OverallScore: score(72), CreatedAt: base.Add(48 * time.Hour)}
	older := &models.Analysis{ID: uuid.New(), Status: models.AnalysisCompleted, OverallScore: score(50), CreatedAt: base}
	history := []*models.Analysis{latest, older}

	results := []*models.AnalysisResult{
		result(models.ModelChatGPT, models.StageTOFU, 80, true, models.SentimentPositive, "Globex", "Initech"),
		result(models.ModelClaude, models.StageTOFU, 0, false, models.SentimentNeutral, "globex", "Acme"),
		result(models.ModelChatGPT, models.StageBOFU, 30, true, models.SentimentNegative, "Globex"),
		failedResult(models.ModelClaude, models.StageBOFU),
	}

	d := BuildDashboard(brand, latest, results, history, catalog)

	if d.OverallScore == nil || *d.OverallScore != 72 {
		t.Errorf("overall = %v, want stored 72", d.OverallScore)
	}
	if d.StageScores[models.StageTOFU] != 40 || d.StageScores[models.StageBOFU] != 30 {
		t.Errorf("stage scores = %v", d.StageScores)
	}
	if d.ModelScores[models.ModelChatGPT] != 55 || d.ModelScores[models.ModelClaude] != 0 {
		t.Errorf("model scores = %v", d.ModelScores)
	}
	if d.VisibilityRate != 0.67 {
		t.Errorf("visibility = %v, want 0.67", d.VisibilityRate)
	}
	if d.Sentiment[models.SentimentPositive] != 1 || d.Sentiment[models.SentimentNegative] != 1 || d.Sentiment[models.SentimentNeutral] != 0 {
		t.Errorf("sentiment = %v", d.Sentiment)
	}
	if len(d.TopCompetitors) != 2 || d.TopCompetitors[0].Name != "Globex" || d.TopCompetitors[0].Mentions != 3 {
		t.Errorf("competitors = %+v", d.TopCompetitors)
	}
	if len(d.Trend) != 2 || d.Trend[0].AnalysisID != older.ID || d.Trend[1].Score != 72 {
		t.Errorf("trend = %+v, want oldest first", d.Trend)
	}
}

func TestBuildLogs(t *testing.T) {
	page := BuildLogs(nil, 41, 2, 20)
	if page.TotalPages != 3 || page.Items == nil {
		t.Errorf("page = %+v", page)
	}
}

func TestDashboardCachesAndInvalidates(t *testing.T) {
	store := testutil.NewStore()
	cache := newMapCache()
	svc := NewDataOrganizationService(store.Manager(), testCatalog(t), cache, time.Minute, nopLogger)
	ctx := context.Background()

	owner := store.AddUser("owner@acme.test")
	brand := store.AddBrand(owner, "Acme")

	first, err := svc.Dashboard(ctx, owner, brand.ID)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if first.Analysis != nil || first.OverallScore != nil {
		t.Errorf("empty dashboard = %+v", first)
	}
	if cache.sets != 1 {
		t.Errorf("cache sets = %d, want 1", cache.sets)
	}

	if _, err := svc.Dashboard(ctx, owner, brand.ID); err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if cache.hits != 1 || cache.sets != 1 {
		t.Errorf("hits = %d sets = %d, want served from cache", cache.hits, cache.sets)
	}

	svc.InvalidateDashboard(ctx, brand.ID)
	if _, err := svc.Dashboard(ctx, owner, brand.ID); err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if cache.sets != 2 {
		t.Errorf("cache sets = %d, want rebuild after invalidation", cache.sets)
	}

	stranger := store.AddUser("stranger@other.test")
	if _, err := svc.Dashboard(ctx, stranger, brand.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("stranger err = %v, want not found", err)
	}
}

func TestDashboardShowsLiveProgress(t *testing.T) {
	store := testutil.NewStore()
	repos := store.Manager()
	cache := newMapCache()
	cfg := testConfig()
	catalog := testCatalog(t)
	ctx := context.Background()

	chatgpt := providertest.NewMockProvider("chatgpt")
	chatgpt.Reply = providertest.SampleReply(1, "positive")
	claude := providertest.NewMockProvider("claude")
	claude.Reply = providertest.SampleReply(2, "neutral")
	registry := providers.Registry{"chatgpt": chatgpt, "claude": claude}

	data := NewDataOrganizationService(repos, catalog, cache, 10*time.Minute, nopLogger)
	credits := NewCreditService(cfg, repos, billing.Disabled{}, &fakeMailer{}, nil, nopLogger)
	analysis := NewBackgroundAnalysisService(cfg, repos, catalog, registry, NewScoringService(catalog), credits, data, &fakeDispatcher{}, nil, nopLogger)

	owner := store.AddUser("owner@acme.test")
	brand := store.AddBrand(owner, "Acme")
	store.AddCredits(owner, 5)

	view, err := analysis.StartAnalysis(ctx, owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if _, err := analysis.MarkRunning(ctx, view.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	before, err := data.Dashboard(ctx, owner, brand.ID)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if before.ActiveAnalysis == nil || before.ActiveAnalysis.CompletedSteps != 0 {
		t.Fatalf("active analysis before steps = %+v", before.ActiveAnalysis)
	}

	for _, st := range []models.FunnelStage{models.StageTOFU, models.StageMOFU, models.StageBOFU} {
		if _, err := analysis.RunStep(ctx, view.ID, models.ModelChatGPT, st); err != nil {
			t.Fatalf("RunStep %s: %v", st, err)
		}
	}

	after, err := data.Dashboard(ctx, owner, brand.ID)
	if err != nil {
		t.Fatalf("Dashboard: %v", err)
	}
	if cache.hits != 1 {
		t.Errorf("cache hits = %d, want the second read served from cache", cache.hits)
	}
	if after.ActiveAnalysis == nil || after.ActiveAnalysis.CompletedSteps != 3 {
		t.Errorf("active analysis after steps = %+v, want 3 completed", after.ActiveAnalysis)
	}
}

func TestMatrixAndLogs(t *testing.T) {
	h := newAnalysisHarness(t)
	ctx := context.Background()
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	other := h.store.AddBrand(owner, "Globex")
	h.store.AddCredits(owner, 5)

	data := NewDataOrganizationService(h.store.Manager(), testCatalog(t), nil, time.Minute, nopLogger)

	empty, err := data.Matrix(ctx, owner, brand.ID, nil)
	if err != nil || empty.AnalysisID != nil {
		t.Fatalf("matrix before any analysis = %+v, %v", empty, err)
	}

	view, err := h.service.StartAnalysis(ctx, owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	h.runAll(t, view)

	matrix, err := data.Matrix(ctx, owner, brand.ID, nil)
	if err != nil {
		t.Fatalf("Matrix: %v", err)
	}
	if matrix.AnalysisID == nil || *matrix.AnalysisID != view.ID {
		t.Errorf("matrix analysis = %v", matrix.AnalysisID)
	}
	if len(matrix.Cells) != 2 || len(matrix.Cells[models.ModelClaude]) != 4 {
		t.Errorf("cells = %v", matrix.Cells)
	}

	if _, err := data.Matrix(ctx, owner, other.ID, &view.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("foreign analysis err = %v, want not found", err)
	}

	logs, err := data.Logs(ctx, owner, brand.ID, LogQuery{Page: 2, Limit: 3, Model: models.ModelChatGPT})
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if logs.Total != 4 || logs.TotalPages != 2 || len(logs.Items) != 1 {
		t.Errorf("logs = total %d pages %d items %d", logs.Total, logs.TotalPages, len(logs.Items))
	}
	for _, item := range logs.Items {
		if item.Model != models.ModelChatGPT {
			t.Errorf("unexpected model %s", item.Model)
		}
	}
}
