package testutil

import (
	"strconv"

	"github.com/brandviz/brandviz/internal/config"
)

// SampleConfig returns a test configuration
func SampleConfig() *config.Config {
	return &config.Config{
		OpenAIAPIKey:    "test-openai-key",
		AnthropicAPIKey: "test-anthropic-key",
		GeminiAPIKey:    "test-gemini-key",
		Analysis: config.AnalysisConfig{
			ChatGPTModel:    "gpt-4.1",
			ClaudeModel:     "claude-sonnet-4-20250514",
			GeminiModel:     "gemini-1.5-flash",
			ProviderRPS:     100,
			ProviderBurst:   10,
			CreditsPerModel: 1,
		},
	}
}

// SampleReply returns a well-formed stage reply naming the brand at position
func SampleReply(position int, sentiment string) string {
	if position == 0 {
		return `{"brand_mentioned": false, "position": 0, "sentiment": "neutral", "score": 0, "competitors": ["Globex"], "summary": "Globex is popular."}`
	}
	return `{"brand_mentioned": true, "position": ` + strconv.Itoa(position) + `, "sentiment": "` + sentiment +
		`", "score": 80, "competitors": ["Globex", "Initech"], "summary": "Acme is a strong choice, see https://acme.example/reviews."}`
}
