package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/providers/common"
)

// Provider implements the AIProvider interface for Gemini via the Generative Language API
type Provider struct {
	client      *genai.Client
	model       string
	jsonOutput  bool
	costService common.CostService
}

func NewProvider(ctx context.Context, cfg *config.Config, model string, costService common.CostService, opts ...option.ClientOption) (*Provider, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("Gemini API key is empty in config")
	}

	clientOpts := append([]option.ClientOption{option.WithAPIKey(cfg.GeminiAPIKey)}, opts...)
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	return &Provider{
		client:      client,
		model:       model,
		costService: costService,
	}, nil
}

// WithJSONOutput asks the model to answer with application/json
func (p *Provider) WithJSONOutput() *Provider {
	p.jsonOutput = true
	return p
}

func (p *Provider) Name() string {
	return "gemini"
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) Close() error {
	return p.client.Close()
}

func (p *Provider) RunPrompt(ctx context.Context, system, prompt string) (*common.AIResponse, error) {
	model := p.client.GenerativeModel(p.model)
	model.SetTemperature(0.2)
	model.SetMaxOutputTokens(2000)
	if p.jsonOutput {
		model.ResponseMIMEType = "application/json"
	}
	if system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(system)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		pe := &common.ProviderError{Provider: p.Name(), Err: err}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.Code
		}
		return nil, pe
	}

	text := strings.TrimSpace(extractResponseText(resp))
	if text == "" {
		return nil, common.ErrEmptyResponse
	}

	var inputTokens, outputTokens int
	if resp.UsageMetadata != nil {
		inputTokens = int(resp.UsageMetadata.PromptTokenCount)
		outputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	return &common.AIResponse{
		Response:     text,
		Model:        p.model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         p.costService.CalculateCost(p.Name(), p.model, inputTokens, outputTokens),
		Citations:    citationURIs(resp),
	}, nil
}

func extractResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}

	var textParts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			textParts = append(textParts, string(text))
		}
	}
	return strings.Join(textParts, "")
}

func citationURIs(resp *genai.GenerateContentResponse) []string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].CitationMetadata == nil {
		return nil
	}

	var uris []string
	for _, src := range resp.Candidates[0].CitationMetadata.CitationSources {
		if src != nil && src.URI != nil && *src.URI != "" {
			uris = append(uris, *src.URI)
		}
	}
	return uris
}
