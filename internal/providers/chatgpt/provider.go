package chatgpt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/providers/common"
)

const azureAPIVersion = "2024-12-01-preview"

// Provider implements the AIProvider interface for ChatGPT via the OpenAI chat completions API
type Provider struct {
	client      *openai.Client
	model       string
	deployment  string
	schema      interface{}
	costService common.CostService
}

// NewProvider creates a new ChatGPT provider. Azure OpenAI is used when the
// endpoint, key and deployment are all configured.
func NewProvider(cfg *config.Config, model string, costService common.CostService, opts ...option.RequestOption) *Provider {
	if cfg == nil {
		cfg = &config.Config{}
	}

	var clientOpts []option.RequestOption
	deployment := ""
	if cfg.AzureOpenAIEndpoint != "" && cfg.AzureOpenAIKey != "" && cfg.AzureOpenAIDeploymentName != "" {
		clientOpts = append(clientOpts,
			azure.WithEndpoint(cfg.AzureOpenAIEndpoint, azureAPIVersion),
			azure.WithAPIKey(cfg.AzureOpenAIKey),
		)
		deployment = cfg.AzureOpenAIDeploymentName
	} else {
		clientOpts = append(clientOpts, option.WithAPIKey(cfg.OpenAIAPIKey))
	}
	clientOpts = append(clientOpts, opts...)

	client := openai.NewClient(clientOpts...)
	return &Provider{
		client:      &client,
		model:       model,
		deployment:  deployment,
		costService: costService,
	}
}

// WithReplySchema requests structured output matching schema
func (p *Provider) WithReplySchema(schema interface{}) *Provider {
	p.schema = schema
	return p
}

// Name returns the name of this provider
func (p *Provider) Name() string {
	return "chatgpt"
}

func (p *Provider) Model() string {
	return p.model
}

// RunPrompt sends one system + user exchange and returns the assistant text
func (p *Provider) RunPrompt(ctx context.Context, system, prompt string) (*common.AIResponse, error) {
	modelParam := openai.ChatModel(p.model)
	if p.deployment != "" {
		modelParam = openai.ChatModel(p.deployment)
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       modelParam,
		Temperature: openai.Float(0.2),
		MaxTokens:   openai.Int(2000),
	}
	if p.schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        "stage_reply",
					Description: openai.String("Brand visibility assessment of the answer"),
					Schema:      p.schema,
					Strict:      openai.Bool(false),
				},
			},
		}
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError(err)
	}

	if len(response.Choices) == 0 {
		return nil, fmt.Errorf("no response choices returned: %w", common.ErrEmptyResponse)
	}

	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		return nil, common.ErrEmptyResponse
	}

	inputTokens := int(response.Usage.PromptTokens)
	outputTokens := int(response.Usage.CompletionTokens)
	return &common.AIResponse{
		Response:     content,
		Model:        p.model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Cost:         p.costService.CalculateCost(p.Name(), p.model, inputTokens, outputTokens),
	}, nil
}

func wrapError(err error) error {
	pe := &common.ProviderError{Provider: "chatgpt", Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}
