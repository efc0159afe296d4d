package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/brandviz/brandviz/internal/config"
	"github.com/brandviz/brandviz/internal/metrics"
	"github.com/brandviz/brandviz/internal/models"
	"github.com/brandviz/brandviz/internal/prompts"
	"github.com/brandviz/brandviz/internal/providers/chatgpt"
	"github.com/brandviz/brandviz/internal/providers/claude"
	"github.com/brandviz/brandviz/internal/providers/common"
	"github.com/brandviz/brandviz/internal/providers/gemini"
)

// ResolveModel maps a model name or alias to the BrandViz assistant it belongs to
func ResolveModel(modelName string) (models.AIModel, error) {
	modelLower := strings.ToLower(strings.TrimSpace(modelName))

	switch {
	case modelLower == "":
		return "", fmt.Errorf("model name is empty")
	case strings.Contains(modelLower, "chatgpt"), strings.Contains(modelLower, "openai"),
		strings.HasPrefix(modelLower, "gpt"), strings.HasPrefix(modelLower, "o1"), strings.HasPrefix(modelLower, "o3"):
		return models.ModelChatGPT, nil
	case strings.Contains(modelLower, "claude"), strings.Contains(modelLower, "sonnet"),
		strings.Contains(modelLower, "opus"), strings.Contains(modelLower, "haiku"), strings.Contains(modelLower, "anthropic"):
		return models.ModelClaude, nil
	case strings.Contains(modelLower, "gemini"):
		return models.ModelGemini, nil
	}
	return "", fmt.Errorf("unsupported model: %s", modelName)
}

// NewProvider creates the appropriate AI provider based on the model name.
// BrandViz identifiers use the configured vendor model; vendor model names are used as given.
func NewProvider(ctx context.Context, modelName string, cfg *config.Config, costService common.CostService) (AIProvider, error) {
	aiModel, err := ResolveModel(modelName)
	if err != nil {
		return nil, err
	}

	vendorModel := strings.TrimSpace(modelName)
	if models.AIModel(strings.ToLower(vendorModel)) == aiModel {
		vendorModel = cfg.ModelName(aiModel)
	}

	switch aiModel {
	case models.ModelChatGPT:
		if cfg.OpenAIAPIKey == "" && cfg.AzureOpenAIKey == "" {
			return nil, fmt.Errorf("OpenAI API key is empty in config")
		}
		return chatgpt.NewProvider(cfg, vendorModel, costService).WithReplySchema(prompts.ReplySchemaObject()), nil

	case models.ModelClaude:
		if cfg.AnthropicAPIKey == "" {
			return nil, fmt.Errorf("Anthropic API key is empty in config")
		}
		return claude.NewProvider(cfg, vendorModel, costService), nil

	case models.ModelGemini:
		p, err := gemini.NewProvider(ctx, cfg, vendorModel, costService)
		if err != nil {
			return nil, err
		}
		return p.WithJSONOutput(), nil
	}

	return nil, fmt.Errorf("unsupported model: %s", modelName)
}

// NewRegistry builds a resilient provider for every assistant that has credentials.
// Assistants without credentials are logged and left out.
func NewRegistry(ctx context.Context, cfg *config.Config, costService common.CostService, m *metrics.Metrics, logger zerolog.Logger) Registry {
	registry := Registry{}
	for _, aiModel := range models.AllModels {
		p, err := NewProvider(ctx, string(aiModel), cfg, costService)
		if err != nil {
			logger.Warn().Err(err).Str("model", string(aiModel)).Msg("assistant disabled")
			continue
		}
		registry[string(aiModel)] = NewResilient(p, ResilientOptions{
			RequestsPerSecond: cfg.Analysis.ProviderRPS,
			Burst:             cfg.Analysis.ProviderBurst,
			CallTimeout:       cfg.Analysis.CallTimeout,
		}, m, logger)
		logger.Info().Str("model", string(aiModel)).Str("vendor_model", p.Model()).Msg("assistant enabled")
	}
	return registry
}
