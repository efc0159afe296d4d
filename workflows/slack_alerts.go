package workflows

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type SlackPayload struct {
	Text string `json:"text"`
}

// SlackNotifier posts pipeline alerts to an incoming webhook. A notifier
// without a webhook URL, or a nil notifier, drops every alert.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		now: time.Now,
	}
}

// Enabled reports whether alerts are delivered anywhere
func (n *SlackNotifier) Enabled() bool {
	return n != nil && n.webhookURL != ""
}

// ReportError posts an error message to the analysis-alerts channel.
func (n *SlackNotifier) ReportError(ctx context.Context, err error) error {
	if err == nil || !n.Enabled() {
		return nil
	}

	message := fmt.Sprintf(
		":rotating_light: *Brand Analysis Error*\n"+
			"*Time:* %s\n"+
			"*Error:* ```%s```",
		n.now().UTC().Format(time.RFC3339),
		err.Error(),
	)

	body, err := json.Marshal(SlackPayload{Text: message})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}

	return nil
}

// ReportPipelineFailure reports a failed pipeline run with its brand context.
func (n *SlackNotifier) ReportPipelineFailure(ctx context.Context, pipeline, brandID, analysisID, reason string, err error) error {
	if err == nil {
		return nil
	}

	if pipeline == "" {
		pipeline = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if analysisID == "" {
		analysisID = "none"
	}

	reportErr := fmt.Errorf(
		"pipeline failed: pipeline=%s reason=%s brand_id=%s analysis_id=%s error=%v",
		pipeline,
		reason,
		brandID,
		analysisID,
		err,
	)

	return n.ReportError(ctx, reportErr)
}
