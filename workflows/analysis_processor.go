// workflows/analysis_processor.go
package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/services"
)

const EventAnalysisRequested = "brand/analysis.requested"

type AnalysisRequestedEvent struct {
	AnalysisID  string `json:"analysis_id"`
	BrandID     string `json:"brand_id"`
	TriggeredBy string `json:"triggered_by"`
}

type AnalysisProcessor struct {
	analysisService services.BackgroundAnalysisService
	slack           *SlackNotifier
	client          inngestgo.Client
	logger          zerolog.Logger
}

func NewAnalysisProcessor(analysisService services.BackgroundAnalysisService, slack *SlackNotifier, logger zerolog.Logger) *AnalysisProcessor {
	return &AnalysisProcessor{
		analysisService: analysisService,
		slack:           slack,
		logger:          logger.With().Str("workflow", "run-brand-analysis").Logger(),
	}
}

func (p *AnalysisProcessor) SetClient(client inngestgo.Client) {
	p.client = client
}

// RunBrandAnalysis executes every model × stage combination of a queued
// analysis as its own durable step, then finalizes the score.
func (p *AnalysisProcessor) RunBrandAnalysis() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:      "run-brand-analysis",
			Name:    "Run Brand Analysis - Model x Funnel Stage Matrix",
			Retries: inngestgo.IntPtr(3),
		},
		inngestgo.EventTrigger(EventAnalysisRequested, nil),
		func(ctx context.Context, input inngestgo.Input[AnalysisRequestedEvent]) (any, error) {
			evt := input.Event.Data
			result, err := p.run(ctx, evt)
			if err != nil {
				p.logger.Error().Err(err).Str("analysis_id", evt.AnalysisID).Msg("analysis run failed")
				if slackErr := p.slack.ReportPipelineFailure(ctx, "run-brand-analysis", evt.BrandID, evt.AnalysisID, "step error", err); slackErr != nil {
					p.logger.Warn().Err(slackErr).Msg("slack alert failed")
				}
				return nil, err
			}
			return result, nil
		},
	)
	if err != nil {
		panic("failed to create run-brand-analysis function: " + err.Error())
	}

	return fn
}

func (p *AnalysisProcessor) run(ctx context.Context, evt AnalysisRequestedEvent) (map[string]interface{}, error) {
	analysisID, err := uuid.Parse(evt.AnalysisID)
	if err != nil {
		return nil, fmt.Errorf("invalid analysis id %q: %w", evt.AnalysisID, err)
	}

	analysis, err := step.Run(ctx, "mark-running", func(ctx context.Context) (*models.Analysis, error) {
		return p.analysisService.MarkRunning(ctx, analysisID)
	})
	if err != nil {
		return nil, fmt.Errorf("mark running failed: %w", err)
	}
	if !analysis.Status.Active() {
		p.logger.Info().Str("analysis_id", evt.AnalysisID).Str("status", string(analysis.Status)).Msg("analysis no longer active, skipping")
		return map[string]interface{}{
			"analysis_id": evt.AnalysisID,
			"status":      analysis.Status,
			"message":     "analysis no longer active",
		}, nil
	}

	counts := map[string]int{}
	stopped := false
	for _, model := range analysis.Models {
		for _, stage := range analysis.Stages {
			m, s := models.AIModel(model), models.FunnelStage(stage)
			outcome, err := step.Run(ctx, stepName(m, s), func(ctx context.Context) (*services.StepOutcome, error) {
				return p.analysisService.RunStep(ctx, analysisID, m, s)
			})
			if err != nil {
				return nil, fmt.Errorf("step %s failed: %w", stepName(m, s), err)
			}
			counts[outcome.Status]++
			if outcome.Status == services.StepCancelled {
				stopped = true
				break
			}
		}
		if stopped {
			break
		}
	}

	final, err := step.Run(ctx, "finalize", func(ctx context.Context) (*models.Analysis, error) {
		return p.analysisService.Finalize(ctx, analysisID)
	})
	if err != nil {
		return nil, fmt.Errorf("finalize failed: %w", err)
	}

	return map[string]interface{}{
		"analysis_id":   evt.AnalysisID,
		"brand_id":      evt.BrandID,
		"triggered_by":  evt.TriggeredBy,
		"status":        final.Status,
		"overall_score": final.OverallScore,
		"steps":         counts,
	}, nil
}

func stepName(model models.AIModel, stage models.FunnelStage) string {
	return fmt.Sprintf("run-%s-%s", model, stage)
}

// InngestDispatcher queues analyses as inngest events
type InngestDispatcher struct {
	client inngestgo.Client
}

func NewInngestDispatcher(client inngestgo.Client) *InngestDispatcher {
	return &InngestDispatcher{client: client}
}

func (d *InngestDispatcher) DispatchAnalysis(ctx context.Context, analysisID, brandID uuid.UUID, triggeredBy string) error {
	if _, err := d.client.Send(ctx, analysisEvent(analysisID, brandID, triggeredBy)); err != nil {
		return fmt.Errorf("failed to send %s event: %w", EventAnalysisRequested, err)
	}
	return nil
}

func analysisEvent(analysisID, brandID uuid.UUID, triggeredBy string) inngestgo.Event {
	return inngestgo.Event{
		Name: EventAnalysisRequested,
		Data: map[string]interface{}{
			"analysis_id":  analysisID.String(),
			"brand_id":     brandID.String(),
			"triggered_by": triggeredBy,
		},
	}
}
