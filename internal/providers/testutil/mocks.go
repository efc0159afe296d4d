package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/brandviz/brandviz/internal/providers/common"
)

// MockCostService is a mock implementation of CostService for testing
type MockCostService struct {
	CalculateCostFunc func(provider, model string, inputTokens, outputTokens int) float64
}

func (m *MockCostService) CalculateCost(provider, model string, inputTokens, outputTokens int) float64 {
	if m.CalculateCostFunc != nil {
		return m.CalculateCostFunc(provider, model, inputTokens, outputTokens)
	}
	return 0.0015 // Default mock cost
}

// NewMockCostService creates a new mock cost service
func NewMockCostService() *MockCostService {
	return &MockCostService{}
}

// MockProvider is a scripted AIProvider
type MockProvider struct {
	ProviderName string
	Reply        string
	// Errors are returned by successive calls before Reply is served
	Errors     []error
	AlwaysFail error
	// ReplyFunc, when set, computes the reply from the prompt
	ReplyFunc func(prompt string) (string, error)

	mu      sync.Mutex
	calls   int
	Prompts []string
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{ProviderName: name, Reply: "{}"}
}

func (m *MockProvider) Name() string  { return m.ProviderName }
func (m *MockProvider) Model() string { return m.ProviderName + "-test" }

func (m *MockProvider) RunPrompt(ctx context.Context, system, prompt string) (*common.AIResponse, error) {
	m.mu.Lock()
	m.calls++
	m.Prompts = append(m.Prompts, prompt)
	var err error
	if m.AlwaysFail != nil {
		err = m.AlwaysFail
	} else if len(m.Errors) > 0 {
		err = m.Errors[0]
		m.Errors = m.Errors[1:]
	}
	reply, replyFunc := m.Reply, m.ReplyFunc
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if replyFunc != nil {
		reply, err = replyFunc(prompt)
		if err != nil {
			return nil, err
		}
	}
	return &common.AIResponse{Response: reply, Model: m.Model(), InputTokens: 10, OutputTokens: 20, Cost: 0.0015}, nil
}

func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockOpenAIServer serves the chat completions endpoint
type MockOpenAIServer struct {
	Server           *httptest.Server
	Content          string
	PromptTokens     int
	CompletionTokens int
	StatusCode       int

	mu        sync.Mutex
	Requests  int
	LastModel string
}

func NewMockOpenAIServer() *MockOpenAIServer {
	mock := &MockOpenAIServer{Content: "{}"}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		mock.mu.Lock()
		mock.Requests++
		mock.LastModel = body.Model
		mock.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if mock.StatusCode >= 400 {
			w.WriteHeader(mock.StatusCode)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"error": map[string]interface{}{"message": "mock failure", "type": "invalid_request_error"},
			})
			return
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   body.Model,
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": mock.Content},
			}},
			"usage": map[string]interface{}{
				"prompt_tokens":     mock.PromptTokens,
				"completion_tokens": mock.CompletionTokens,
				"total_tokens":      mock.PromptTokens + mock.CompletionTokens,
			},
		})
	})

	mock.Server = httptest.NewServer(mux)
	return mock
}

func (m *MockOpenAIServer) URL() string { return m.Server.URL }
func (m *MockOpenAIServer) Close()      { m.Server.Close() }

// MockAnthropicServer serves the messages endpoint
type MockAnthropicServer struct {
	Server       *httptest.Server
	Text         string
	InputTokens  int
	OutputTokens int
	StatusCode   int

	mu         sync.Mutex
	LastSystem string
}

func NewMockAnthropicServer() *MockAnthropicServer {
	mock := &MockAnthropicServer{Text: "{}"}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model  string `json:"model"`
			System []struct {
				Text string `json:"text"`
			} `json:"system"`
		}
		json.NewDecoder(r.Body).Decode(&body)

		mock.mu.Lock()
		if len(body.System) > 0 {
			mock.LastSystem = body.System[0].Text
		}
		mock.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if mock.StatusCode >= 400 {
			w.WriteHeader(mock.StatusCode)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"type":  "error",
				"error": map[string]interface{}{"type": "overloaded_error", "message": "mock failure"},
			})
			return
		}

		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         body.Model,
			"stop_reason":   "end_turn",
			"stop_sequence": nil,
			"content":       []map[string]interface{}{{"type": "text", "text": mock.Text}},
			"usage": map[string]interface{}{
				"input_tokens":  mock.InputTokens,
				"output_tokens": mock.OutputTokens,
			},
		})
	})

	mock.Server = httptest.NewServer(mux)
	return mock
}

func (m *MockAnthropicServer) URL() string { return m.Server.URL }
func (m *MockAnthropicServer) Close()      { m.Server.Close() }
