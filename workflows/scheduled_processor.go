// workflows/scheduled_processor.go
package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"
	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/apperr"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/services"
)

type ScheduledProcessor struct {
	analysisService services.BackgroundAnalysisService
	slack           *SlackNotifier
	client          inngestgo.Client
	logger          zerolog.Logger
	now             func() time.Time
}

func NewScheduledProcessor(analysisService services.BackgroundAnalysisService, slack *SlackNotifier, logger zerolog.Logger) *ScheduledProcessor {
	return &ScheduledProcessor{
		analysisService: analysisService,
		slack:           slack,
		logger:          logger.With().Str("component", "scheduler").Logger(),
		now:             time.Now,
	}
}

func (p *ScheduledProcessor) SetClient(client inngestgo.Client) {
	p.client = client
}

// mondayFirst converts Go's Sunday-based weekday to Monday = 0
func mondayFirst(t time.Time) int {
	return int((t.Weekday() + 6) % 7)
}

func (p *ScheduledProcessor) DailyScheduledAnalyses() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:   "daily-scheduled-analyses",
			Name: "Daily Scheduled Brand Analyses - Weekly Cycle",
		},
		inngestgo.CronTrigger("0 2 * * *"), // Every day at 2 AM UTC
		func(ctx context.Context, input inngestgo.Input[any]) (any, error) {
			now := p.now()
			dayOfWeek := mondayFirst(now)

			brands, err := step.Run(ctx, "get-scheduled-brands", func(ctx context.Context) ([]*models.Brand, error) {
				return p.analysisService.ScheduledBrands(ctx, dayOfWeek)
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get scheduled brands for DOW %d: %w", dayOfWeek, err)
			}

			started, skipped, failed := 0, 0, 0
			for _, brand := range brands {
				brand := brand
				// one step per brand so a retry only repeats the brands that did not start
				view, err := step.Run(ctx, fmt.Sprintf("start-analysis-%s", brand.ID), func(ctx context.Context) (*services.AnalysisView, error) {
					view, err := p.analysisService.StartScheduled(ctx, brand)
					if err != nil && scheduleSkippable(err) {
						p.logger.Info().Err(err).Str("brand_id", brand.ID.String()).Msg("scheduled analysis skipped")
						return nil, nil
					}
					return view, err
				})
				if err != nil {
					failed++
					p.logger.Warn().Err(err).Str("brand_id", brand.ID.String()).Msg("scheduled analysis not started")
					if slackErr := p.slack.ReportPipelineFailure(ctx, "daily-scheduled-analyses", brand.ID.String(), "", "start failed", err); slackErr != nil {
						p.logger.Warn().Err(slackErr).Msg("slack alert failed")
					}
					continue
				}
				if view == nil {
					skipped++
					continue
				}
				started++
			}

			p.logger.Info().Int("dow", dayOfWeek).Int("brands", len(brands)).Int("started", started).Msg("scheduled analyses triggered")

			return map[string]interface{}{
				"execution_date":     now.Format("2006-01-02"),
				"weekday":            now.Weekday().String(),
				"dow_value":          dayOfWeek,
				"total_brands_found": len(brands),
				"brands_started":     started,
				"brands_skipped":     skipped,
				"brands_failed":      failed,
				"message":            fmt.Sprintf("Started %d scheduled analyses for %s (DOW %d)", started, now.Weekday().String(), dayOfWeek),
			}, nil
		},
	)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to create daily scheduled analyses function")
	}

	return fn
}

// scheduleSkippable reports start errors that are expected for a brand and
// must not fail the step: no credits left, or an analysis already running.
func scheduleSkippable(err error) bool {
	return apperr.IsKind(err, apperr.KindPaymentRequired) || apperr.IsKind(err, apperr.KindConflict)
}
