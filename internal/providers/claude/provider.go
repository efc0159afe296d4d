package claude

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/providers/common"
)

// Provider implements the AIProvider interface for Claude via the Anthropic messages API
type Provider struct {
	client      *anthropic.Client
	model       string
	costService common.CostService
}

func NewProvider(cfg *config.Config, model string, costService common.CostService, opts ...option.RequestOption) *Provider {
	clientOpts := append([]option.RequestOption{option.WithAPIKey(cfg.AnthropicAPIKey)}, opts...)
	client := anthropic.NewClient(clientOpts...)

	return &Provider{
		client:      &client,
		model:       model,
		costService: costService,
	}
}

func (p *Provider) Name() string {
	return "claude"
}

func (p *Provider) Model() string {
	return p.model
}

func (p *Provider) RunPrompt(ctx context.Context, system, prompt string) (*common.AIResponse, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 2000,
		Messages: []anthropic.MessageParam{{
			Content: []anthropic.ContentBlockParamUnion{{
				OfText: &anthropic.TextBlockParam{Text: prompt},
			}},
			Role: anthropic.MessageParamRoleUser,
		}},
		Temperature: anthropic.Float(0.2),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		pe := &common.ProviderError{Provider: p.Name(), Err: err}
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.StatusCode
		}
		return nil, pe
	}

	text := strings.TrimSpace(extractResponseText(*response))
	if text == "" {
		return nil, common.ErrEmptyResponse
	}

	inputTokens := int(response.Usage.InputTokens)
	outputTokens := int(response.Usage.OutputTokens)
	return &common.AIResponse{
		Response:     text,
		Model:        p.model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         p.costService.CalculateCost(p.Name(), p.model, inputTokens, outputTokens),
	}, nil
}

func extractResponseText(response anthropic.Message) string {
	var textParts []string

	for _, block := range response.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			textParts = append(textParts, variant.Text)
		}
	}

	return strings.Join(textParts, "")
}
