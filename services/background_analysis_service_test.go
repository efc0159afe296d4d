package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/models"
	providertest "github.com/brandviz/brandviz/internal/providers/testutil"
)

func TestStartAnalysisChargesAndDispatches(t *testing.T) {
	h := newAnalysisHarness(t)
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 5)

	view, err := h.service.StartAnalysis(context.Background(), owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}

	if view.Status != models.AnalysisPending {
		t.Errorf("status = %s, want pending", view.Status)
	}
	if len(view.Models) != 2 || view.Models[0] != "chatgpt" || view.Models[1] != "claude" {
		t.Errorf("models = %v, want configured models only", view.Models)
	}
	if len(view.Stages) != 4 || view.TotalSteps != 8 {
		t.Errorf("stages = %v total = %d, want 4 stages and 8 steps", view.Stages, view.TotalSteps)
	}
	if view.CreditsCharged != 2 {
		t.Errorf("credits charged = %v, want 2", view.CreditsCharged)
	}
	if got := h.store.BalanceOf(owner.ID); got != 3 {
		t.Errorf("balance = %v, want 3", got)
	}
	if len(h.dispatcher.calls) != 1 || h.dispatcher.calls[0].AnalysisID != view.ID || h.dispatcher.calls[0].TriggeredBy != TriggerUser {
		t.Errorf("unexpected dispatch calls %+v", h.dispatcher.calls)
	}
}

func TestStartAnalysisRejections(t *testing.T) {
	tests := []struct {
		name  string
		setup func(h *analysisHarness) (*models.User, *models.Brand, AnalysisRequest)
		want  apperr.Kind
	}{
		{
			name: "insufficient credits",
			setup: func(h *analysisHarness) (*models.User, *models.Brand, AnalysisRequest) {
				owner := h.store.AddUser("poor@acme.test")
				h.store.AddCredits(owner, 1)
				return owner, h.store.AddBrand(owner, "Acme"), AnalysisRequest{}
			},
			want: apperr.KindPaymentRequired,
		},
		{
			name: "viewer",
			setup: func(h *analysisHarness) (*models.User, *models.Brand, AnalysisRequest) {
				owner := h.store.AddUser("owner@acme.test")
				brand := h.store.AddBrand(owner, "Acme")
				viewer := h.store.AddUser("viewer@acme.test")
				h.store.AddMember(brand, viewer, models.RoleViewer)
				h.store.AddCredits(viewer, 10)
				return viewer, brand, AnalysisRequest{}
			},
			want: apperr.KindForbidden,
		},
		{
			name: "non member",
			setup: func(h *analysisHarness) (*models.User, *models.Brand, AnalysisRequest) {
				owner := h.store.AddUser("owner@acme.test")
				brand := h.store.AddBrand(owner, "Acme")
				return h.store.AddUser("stranger@other.test"), brand, AnalysisRequest{}
			},
			want: apperr.KindNotFound,
		},
		{
			name: "unconfigured model",
			setup: func(h *analysisHarness) (*models.User, *models.Brand, AnalysisRequest) {
				owner := h.store.AddUser("owner@acme.test")
				h.store.AddCredits(owner, 10)
				return owner, h.store.AddBrand(owner, "Acme"), AnalysisRequest{Models: []string{"gemini"}}
			},
			want: apperr.KindBadRequest,
		},
		{
			name: "unknown stage",
			setup: func(h *analysisHarness) (*models.User, *models.Brand, AnalysisRequest) {
				owner := h.store.AddUser("owner@acme.test")
				h.store.AddCredits(owner, 10)
				return owner, h.store.AddBrand(owner, "Acme"), AnalysisRequest{Stages: []string{"XOFU"}}
			},
			want: apperr.KindBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newAnalysisHarness(t)
			user, brand, req := tt.setup(h)

			_, err := h.service.StartAnalysis(context.Background(), user, brand.ID, req)
			if !apperr.IsKind(err, tt.want) {
				t.Fatalf("err = %v, want kind %v", err, tt.want)
			}
			if len(h.store.Analyses) != 0 {
				t.Error("no analysis should be created")
			}
			if len(h.dispatcher.calls) != 0 {
				t.Error("nothing should be dispatched")
			}
		})
	}
}

func TestStartAnalysisConflictWhileActive(t *testing.T) {
	h := newAnalysisHarness(t)
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 10)

	if _, err := h.service.StartAnalysis(context.Background(), owner, brand.ID, AnalysisRequest{}); err != nil {
		t.Fatalf("first StartAnalysis: %v", err)
	}
	_, err := h.service.StartAnalysis(context.Background(), owner, brand.ID, AnalysisRequest{})
	if !apperr.IsKind(err, apperr.KindConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if got := h.store.BalanceOf(owner.ID); got != 8 {
		t.Errorf("balance = %v, want only one charge", got)
	}
}

func TestStartAnalysisNormalizesRequest(t *testing.T) {
	h := newAnalysisHarness(t)
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 10)

	view, err := h.service.StartAnalysis(context.Background(), owner, brand.ID, AnalysisRequest{
		Models: []string{"gpt-4o", "ChatGPT", "sonnet"},
		Stages: []string{"bofu", "tofu", "BOFU"},
	})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if len(view.Models) != 2 || view.Models[0] != "chatgpt" || view.Models[1] != "claude" {
		t.Errorf("models = %v", view.Models)
	}
	if len(view.Stages) != 2 || view.Stages[0] != "TOFU" || view.Stages[1] != "BOFU" {
		t.Errorf("stages = %v, want funnel order", view.Stages)
	}
	if view.TotalSteps != 4 || view.CreditsCharged != 2 {
		t.Errorf("total = %d charged = %v", view.TotalSteps, view.CreditsCharged)
	}
}

func TestStartAnalysisDispatchFailureRefunds(t *testing.T) {
	h := newAnalysisHarness(t)
	h.dispatcher.err = errors.New("inngest unreachable")
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 5)

	if _, err := h.service.StartAnalysis(context.Background(), owner, brand.ID, AnalysisRequest{}); err == nil {
		t.Fatal("expected dispatch error")
	}
	if got := h.store.BalanceOf(owner.ID); got != 5 {
		t.Errorf("balance = %v, want full refund", got)
	}
	for _, a := range h.store.Analyses {
		if a.Status != models.AnalysisFailed {
			t.Errorf("status = %s, want failed", a.Status)
		}
		if a.CreditsRefunded != 2 {
			t.Errorf("credits refunded = %v, want 2", a.CreditsRefunded)
		}
	}
}

func TestAnalysisRunToCompletion(t *testing.T) {
	h := newAnalysisHarness(t)
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 5)

	view, err := h.service.StartAnalysis(context.Background(), owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	h.runAll(t, view)

	got, err := h.service.GetAnalysis(context.Background(), owner, brand.ID, view.ID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if got.Status != models.AnalysisCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedSteps != 8 || got.FailedSteps != 0 || got.Progress != 1 {
		t.Errorf("completed = %d failed = %d progress = %v", got.CompletedSteps, got.FailedSteps, got.Progress)
	}
	// position stages average (80 + 64) / 2, sentiment stages (80 + 40) / 2; TOFU weighs 2
	if got.OverallScore == nil || *got.OverallScore != 67.2 {
		t.Errorf("overall score = %v, want 67.2", got.OverallScore)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("expected start and completion timestamps")
	}
	if bal := h.store.BalanceOf(owner.ID); bal != 3 {
		t.Errorf("balance = %v, want 3", bal)
	}
	if len(h.store.Results) != 8 {
		t.Errorf("results = %d, want 8", len(h.store.Results))
	}
	for _, r := range h.store.Results {
		if len(r.Sources) != 1 || r.Sources[0] != "https://acme.example/reviews" {
			t.Errorf("sources = %v", r.Sources)
			break
		}
	}
}

func TestAnalysisRefundsFailedModel(t *testing.T) {
	h := newAnalysisHarness(t)
	h.claude.AlwaysFail = errProviderDown
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 5)

	view, err := h.service.StartAnalysis(context.Background(), owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	h.runAll(t, view)

	got, _ := h.service.GetAnalysis(context.Background(), owner, brand.ID, view.ID)
	if got.Status != models.AnalysisCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.CompletedSteps != 4 || got.FailedSteps != 4 {
		t.Errorf("completed = %d failed = %d", got.CompletedSteps, got.FailedSteps)
	}
	if got.CreditsRefunded != 1 {
		t.Errorf("credits refunded = %v, want 1", got.CreditsRefunded)
	}
	if got.OverallScore == nil || *got.OverallScore != 80 {
		t.Errorf("overall score = %v, want 80", got.OverallScore)
	}
	if bal := h.store.BalanceOf(owner.ID); bal != 4 {
		t.Errorf("balance = %v, want 4", bal)
	}

	// finalizing again must not refund twice
	if _, err := h.service.Finalize(context.Background(), view.ID); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	if bal := h.store.BalanceOf(owner.ID); bal != 4 {
		t.Errorf("balance after replay = %v, want 4", bal)
	}
}

func TestAnalysisAllModelsFail(t *testing.T) {
	h := newAnalysisHarness(t)
	h.chatgpt.AlwaysFail = errProviderDown
	h.claude.AlwaysFail = errProviderDown
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 5)

	view, err := h.service.StartAnalysis(context.Background(), owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	h.runAll(t, view)

	got, _ := h.service.GetAnalysis(context.Background(), owner, brand.ID, view.ID)
	if got.Status != models.AnalysisFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.Error == nil || *got.Error != "all model runs failed" {
		t.Errorf("error = %v", got.Error)
	}
	if got.OverallScore != nil {
		t.Errorf("overall score = %v, want nil", *got.OverallScore)
	}
	if bal := h.store.BalanceOf(owner.ID); bal != 5 {
		t.Errorf("balance = %v, want full refund", bal)
	}
}

func TestRunStepSkipsProcessedCombination(t *testing.T) {
	h := newAnalysisHarness(t)
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 5)
	ctx := context.Background()

	view, err := h.service.StartAnalysis(ctx, owner, brand.ID, AnalysisRequest{Models: []string{"chatgpt"}, Stages: []string{"TOFU"}})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if _, err := h.service.MarkRunning(ctx, view.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	first, err := h.service.RunStep(ctx, view.ID, models.ModelChatGPT, models.StageTOFU)
	if err != nil || first.Status != StepCompleted {
		t.Fatalf("first run = %+v, %v", first, err)
	}
	if first.Score != 80 {
		t.Errorf("score = %v, want 80", first.Score)
	}

	second, err := h.service.RunStep(ctx, view.ID, models.ModelChatGPT, models.StageTOFU)
	if err != nil || second.Status != StepSkipped {
		t.Fatalf("second run = %+v, %v", second, err)
	}
	if calls := h.chatgpt.Calls(); calls != 1 {
		t.Errorf("provider calls = %d, want 1", calls)
	}
	got, _ := h.service.GetAnalysis(ctx, owner, brand.ID, view.ID)
	if got.CompletedSteps != 1 {
		t.Errorf("completed = %d, want 1", got.CompletedSteps)
	}
}

func TestCancelAnalysis(t *testing.T) {
	h := newAnalysisHarness(t)
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 5)
	ctx := context.Background()

	view, err := h.service.StartAnalysis(ctx, owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if _, err := h.service.MarkRunning(ctx, view.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if _, err := h.service.RunStep(ctx, view.ID, models.ModelChatGPT, models.StageTOFU); err != nil {
		t.Fatalf("RunStep: %v", err)
	}

	cancelled, err := h.service.CancelAnalysis(ctx, owner, brand.ID, view.ID)
	if err != nil {
		t.Fatalf("CancelAnalysis: %v", err)
	}
	if cancelled.Status != models.AnalysisCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}
	// chatgpt already produced a result; only claude is refunded
	if cancelled.CreditsRefunded != 1 {
		t.Errorf("credits refunded = %v, want 1", cancelled.CreditsRefunded)
	}
	if bal := h.store.BalanceOf(owner.ID); bal != 4 {
		t.Errorf("balance = %v, want 4", bal)
	}

	step, err := h.service.RunStep(ctx, view.ID, models.ModelClaude, models.StageTOFU)
	if err != nil || step.Status != StepCancelled {
		t.Errorf("step after cancel = %+v, %v", step, err)
	}
	if h.claude.Calls() != 0 {
		t.Error("cancelled analysis must not call providers")
	}

	final, err := h.service.Finalize(ctx, view.ID)
	if err != nil || final.Status != models.AnalysisCancelled {
		t.Errorf("finalize after cancel = %v, %v", final, err)
	}

	if _, err := h.service.CancelAnalysis(ctx, owner, brand.ID, view.ID); !apperr.IsKind(err, apperr.KindConflict) {
		t.Errorf("second cancel err = %v, want conflict", err)
	}
}

func TestCancelDuringProviderCall(t *testing.T) {
	h := newAnalysisHarness(t)
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddCredits(owner, 5)
	ctx := context.Background()

	view, err := h.service.StartAnalysis(ctx, owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if _, err := h.service.MarkRunning(ctx, view.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}

	h.chatgpt.ReplyFunc = func(string) (string, error) {
		if _, err := h.service.CancelAnalysis(ctx, owner, brand.ID, view.ID); err != nil {
			t.Errorf("CancelAnalysis: %v", err)
		}
		return providertest.SampleReply(1, "positive"), nil
	}

	step, err := h.service.RunStep(ctx, view.ID, models.ModelChatGPT, models.StageTOFU)
	if err != nil {
		t.Fatalf("RunStep: %v", err)
	}
	if step.Status != StepCancelled {
		t.Errorf("step status = %s, want cancelled", step.Status)
	}
	if len(h.store.Results) != 0 {
		t.Errorf("results = %d, want the late reply discarded", len(h.store.Results))
	}

	got, err := h.service.GetAnalysis(ctx, owner, brand.ID, view.ID)
	if err != nil {
		t.Fatalf("GetAnalysis: %v", err)
	}
	if got.Status != models.AnalysisCancelled || got.CompletedSteps != 0 {
		t.Errorf("analysis = %s completed %d, want cancelled with no progress", got.Status, got.CompletedSteps)
	}
	// no model produced a stored result, so both are refunded
	if got.CreditsRefunded != 2 {
		t.Errorf("credits refunded = %v, want 2", got.CreditsRefunded)
	}
	if bal := h.store.BalanceOf(owner.ID); bal != 5 {
		t.Errorf("balance = %v, want 5", bal)
	}
}

func TestCancelAnalysisWrongBrand(t *testing.T) {
	h := newAnalysisHarness(t)
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	other := h.store.AddBrand(owner, "Globex")
	h.store.AddCredits(owner, 5)
	ctx := context.Background()

	view, err := h.service.StartAnalysis(ctx, owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if _, err := h.service.CancelAnalysis(ctx, owner, other.ID, view.ID); !apperr.IsKind(err, apperr.KindNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestSweepStale(t *testing.T) {
	h := newAnalysisHarness(t)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	h.store.Now = func() time.Time { return now }
	ctx := context.Background()

	owner := h.store.AddUser("owner@acme.test")
	running := h.store.AddBrand(owner, "Acme")
	pending := h.store.AddBrand(owner, "Globex")
	h.store.AddCredits(owner, 10)

	stalled, err := h.service.StartAnalysis(ctx, owner, running.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if _, err := h.service.MarkRunning(ctx, stalled.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	stuck, err := h.service.StartAnalysis(ctx, owner, pending.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}
	if got := h.store.BalanceOf(owner.ID); got != 6 {
		t.Fatalf("balance = %v, want 6", got)
	}

	now = now.Add(3 * time.Hour)
	report, err := h.service.SweepStale(ctx, now)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if len(report.Resumed) != 1 || report.Resumed[0] != stalled.ID {
		t.Errorf("resumed = %v", report.Resumed)
	}
	if len(report.Failed) != 0 || len(report.Expired) != 0 {
		t.Errorf("unexpected failures %+v", report)
	}
	last := h.dispatcher.calls[len(h.dispatcher.calls)-1]
	if last.AnalysisID != stalled.ID || last.TriggeredBy != TriggerSweeper {
		t.Errorf("last dispatch = %+v", last)
	}

	now = now.Add(4 * time.Hour)
	report, err = h.service.SweepStale(ctx, now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0] != stalled.ID {
		t.Errorf("failed = %v", report.Failed)
	}
	if len(report.Expired) != 1 || report.Expired[0] != stuck.ID {
		t.Errorf("expired = %v", report.Expired)
	}

	a := h.store.Analyses[stalled.ID]
	if a.Status != models.AnalysisFailed || a.Error == nil || *a.Error != "analysis stalled" {
		t.Errorf("stalled analysis = %s %v", a.Status, a.Error)
	}
	b := h.store.Analyses[stuck.ID]
	if b.Status != models.AnalysisFailed || b.Error == nil || *b.Error != "analysis never started" {
		t.Errorf("pending analysis = %s %v", b.Status, b.Error)
	}
	if got := h.store.BalanceOf(owner.ID); got != 10 {
		t.Errorf("balance = %v, want everything refunded", got)
	}
}

func TestScheduledAnalyses(t *testing.T) {
	h := newAnalysisHarness(t)
	ctx := context.Background()
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	h.store.AddBrand(owner, "Globex")
	h.store.AddCredits(owner, 5)

	wednesday := 2
	h.store.Brands[brand.ID].AutoAnalysis = true
	h.store.Brands[brand.ID].AnalysisWeekday = &wednesday

	brands, err := h.service.ScheduledBrands(ctx, wednesday)
	if err != nil {
		t.Fatalf("ScheduledBrands: %v", err)
	}
	if len(brands) != 1 || brands[0].ID != brand.ID {
		t.Fatalf("scheduled = %v", brands)
	}
	if other, _ := h.service.ScheduledBrands(ctx, 3); len(other) != 0 {
		t.Errorf("thursday = %v, want none", other)
	}

	view, err := h.service.StartScheduled(ctx, brands[0])
	if err != nil {
		t.Fatalf("StartScheduled: %v", err)
	}
	if view.RequestedBy != owner.ID {
		t.Errorf("requested by = %s, want owner", view.RequestedBy)
	}
	if h.dispatcher.calls[0].TriggeredBy != TriggerScheduler {
		t.Errorf("triggered by = %s", h.dispatcher.calls[0].TriggeredBy)
	}
}

func TestListAnalyses(t *testing.T) {
	h := newAnalysisHarness(t)
	ctx := context.Background()
	owner := h.store.AddUser("owner@acme.test")
	brand := h.store.AddBrand(owner, "Acme")
	viewer := h.store.AddUser("viewer@acme.test")
	h.store.AddMember(brand, viewer, models.RoleViewer)
	h.store.AddCredits(owner, 5)

	view, err := h.service.StartAnalysis(ctx, owner, brand.ID, AnalysisRequest{})
	if err != nil {
		t.Fatalf("StartAnalysis: %v", err)
	}

	list, err := h.service.ListAnalyses(ctx, viewer, brand.ID, 0)
	if err != nil {
		t.Fatalf("ListAnalyses: %v", err)
	}
	if len(list) != 1 || list[0].ID != view.ID {
		t.Errorf("list = %v", list)
	}
	if _, err := h.service.CancelAnalysis(ctx, viewer, brand.ID, view.ID); !apperr.IsKind(err, apperr.KindForbidden) {
		t.Errorf("viewer cancel err = %v, want forbidden", err)
	}
}
