package common

import "strings"

type costService struct{}

func NewCostService() CostService {
	return &costService{}
}

// Cost per 1M tokens
var costPerToken = map[string]struct{ input, output float64 }{
	"gpt-4.1":                   {input: 2.00, output: 8.00},
	"gpt-4.1-mini":              {input: 0.40, output: 1.60},
	"gpt-4o":                    {input: 2.50, output: 10.00},
	"gpt-4o-mini":               {input: 0.15, output: 0.60},
	"gpt-5":                     {input: 1.25, output: 10.00},
	"gpt-5-mini":                {input: 0.25, output: 2.00},
	"claude-sonnet-4-20250514":  {input: 3.00, output: 15.00},
	"claude-3-5-haiku-20241022": {input: 0.80, output: 4.00},
	"claude-opus-4-20250514":    {input: 15.00, output: 75.00},
	"gemini-1.5-flash":          {input: 0.075, output: 0.30},
	"gemini-1.5-pro":            {input: 1.25, output: 5.00},
	"gemini-2.0-flash":          {input: 0.10, output: 0.40},
}

// Fallback rates when the exact model is unknown
var defaultCostByProvider = map[string]string{
	"chatgpt": "gpt-4.1",
	"claude":  "claude-sonnet-4-20250514",
	"gemini":  "gemini-1.5-flash",
}

func (s *costService) CalculateCost(provider string, model string, inputTokens int, outputTokens int) float64 {
	modelKey := strings.ToLower(strings.TrimSpace(model))
	modelCosts, exists := costPerToken[modelKey]
	if !exists {
		// Try prefix match (e.g. dated or suffixed variants), longest key wins
		best := ""
		for k := range costPerToken {
			if strings.HasPrefix(modelKey, k) && len(k) > len(best) {
				best = k
			}
		}
		if best != "" {
			modelCosts = costPerToken[best]
		} else {
			modelCosts = costPerToken[defaultModelFor(provider)]
		}
	}

	inputCost := (float64(inputTokens) / 1_000_000.0) * modelCosts.input
	outputCost := (float64(outputTokens) / 1_000_000.0) * modelCosts.output
	return inputCost + outputCost
}

func defaultModelFor(provider string) string {
	if m, ok := defaultCostByProvider[strings.ToLower(provider)]; ok {
		return m
	}
	return "gpt-4.1"
}
