package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesRecordedMetrics(t *testing.T) {
	m := New()
	m.ObserveLLMCall("claude", 2*time.Second, errors.New("boom"))
	m.AnalysisEvent("started")
	m.CreditsDebited(3)
	m.HTTPRequest("/api/brand/{id}", 404)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`brandviz_llm_call_errors_total{provider="claude"} 1`,
		`brandviz_analyses_total{event="started"} 1`,
		`brandviz_credits_debited_total 3`,
		`brandviz_http_requests_total{route="/api/brand/{id}",status="4xx"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveLLMCall("chatgpt", time.Second, nil)
	m.AnalysisEvent("failed")
	m.StepProcessed("gemini", "ok")
	m.CreditsRefunded(1)
}
