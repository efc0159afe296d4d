// workflows/monitoring.go
package workflows

import (
	"context"
	"fmt"

	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"

	"github.com/brandviz/brandviz/services"
)

// StaleAnalysisSweeper resumes or fails analyses whose job stopped reporting
// progress, and expires analyses that were never picked up.
func (p *ScheduledProcessor) StaleAnalysisSweeper() inngestgo.ServableFunction {
	fn, err := inngestgo.CreateFunction(
		p.client,
		inngestgo.FunctionOpts{
			ID:   "stale-analysis-sweeper",
			Name: "Sweep Stale Brand Analyses",
		},
		inngestgo.CronTrigger("0 * * * *"), // hourly
		func(ctx context.Context, input inngestgo.Input[any]) (any, error) {
			now := p.now()
			report, err := step.Run(ctx, "sweep-stale-analyses", func(ctx context.Context) (*services.SweepReport, error) {
				return p.analysisService.SweepStale(ctx, now)
			})
			if err != nil {
				if slackErr := p.slack.ReportPipelineFailure(ctx, "stale-analysis-sweeper", "", "", "sweep failed", err); slackErr != nil {
					p.logger.Warn().Err(slackErr).Msg("slack alert failed")
				}
				return nil, err
			}

			if n := len(report.Failed) + len(report.Expired); n > 0 {
				alert := fmt.Errorf("%d analyses failed as stale, %d expired before starting", len(report.Failed), len(report.Expired))
				if slackErr := p.slack.ReportError(ctx, alert); slackErr != nil {
					p.logger.Warn().Err(slackErr).Msg("slack alert failed")
				}
			}

			p.logger.Info().
				Int("resumed", len(report.Resumed)).
				Int("failed", len(report.Failed)).
				Int("expired", len(report.Expired)).
				Msg("stale analysis sweep finished")

			return map[string]interface{}{
				"swept_at": now.UTC(),
				"resumed":  report.Resumed,
				"failed":   report.Failed,
				"expired":  report.Expired,
				"message":  sweepSummary(report),
			}, nil
		},
	)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to create stale analysis sweeper function")
	}

	return fn
}

func sweepSummary(r *services.SweepReport) string {
	total := len(r.Resumed) + len(r.Failed) + len(r.Expired)
	if total == 0 {
		return "No stale analyses found"
	}
	return fmt.Sprintf("Resumed %d, failed %d, expired %d stale analyses", len(r.Resumed), len(r.Failed), len(r.Expired))
}
