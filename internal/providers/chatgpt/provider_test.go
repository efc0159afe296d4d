package chatgpt_test

import (
	"context"
	"errors"
	"testing"

	"github.com/openai/openai-go/option"

	"github.com/brandviz/brandviz/internal/providers/chatgpt"
	"github.com/brandviz/brandviz/internal/providers/common"
	"github.com/brandviz/brandviz/internal/providers/testutil"
)

func newTestProvider(t *testing.T, server *testutil.MockOpenAIServer) *chatgpt.Provider {
	t.Helper()
	cfg := testutil.SampleConfig()
	return chatgpt.NewProvider(cfg, "gpt-4.1", testutil.NewMockCostService(),
		option.WithBaseURL(server.URL()+"/v1/"),
		option.WithMaxRetries(0),
	)
}

func TestProviderMetadata(t *testing.T) {
	provider := chatgpt.NewProvider(testutil.SampleConfig(), "gpt-4.1", testutil.NewMockCostService())

	if provider.Name() != "chatgpt" {
		t.Errorf("Name() = %s, want chatgpt", provider.Name())
	}
	if provider.Model() != "gpt-4.1" {
		t.Errorf("Model() = %s, want gpt-4.1", provider.Model())
	}
}

func TestRunPrompt(t *testing.T) {
	server := testutil.NewMockOpenAIServer()
	defer server.Close()
	server.Content = `{"brand_mentioned": true, "position": 1}`
	server.PromptTokens, server.CompletionTokens = 120, 40

	provider := newTestProvider(t, server)
	resp, err := provider.RunPrompt(context.Background(), "be concise", "best payroll tools?")
	if err != nil {
		t.Fatalf("RunPrompt: %v", err)
	}

	if resp.Response != server.Content {
		t.Errorf("Response = %q", resp.Response)
	}
	if resp.InputTokens != 120 || resp.OutputTokens != 40 {
		t.Errorf("tokens = %d/%d", resp.InputTokens, resp.OutputTokens)
	}
	if resp.Cost != 0.0015 {
		t.Errorf("Cost = %v, want mock cost", resp.Cost)
	}
	if server.LastModel != "gpt-4.1" {
		t.Errorf("request model = %s", server.LastModel)
	}
	if server.Requests != 1 {
		t.Errorf("expected one request, got %d", server.Requests)
	}
}

func TestRunPromptErrorCarriesStatus(t *testing.T) {
	server := testutil.NewMockOpenAIServer()
	defer server.Close()
	server.StatusCode = 401

	provider := newTestProvider(t, server)
	_, err := provider.RunPrompt(context.Background(), "", "hello")
	if err == nil {
		t.Fatal("expected error")
	}

	var pe *common.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ProviderError, got %T", err)
	}
	if pe.StatusCode != 401 || pe.Retryable() {
		t.Errorf("unexpected provider error %+v", pe)
	}
}

func TestRunPromptEmptyContent(t *testing.T) {
	server := testutil.NewMockOpenAIServer()
	defer server.Close()
	server.Content = "   "

	provider := newTestProvider(t, server)
	_, err := provider.RunPrompt(context.Background(), "", "hello")
	if !errors.Is(err, common.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}
