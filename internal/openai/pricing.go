package openai

import (
	"strings"

	"testmend/internal/llm"
)

// modelRates holds dollar prices per one million tokens.
type modelRates struct {
	input       float64
	cachedInput float64
	output      float64
}

var pricing = map[string]modelRates{
	"o4-mini":     {input: 1.100, cachedInput: 0.275, output: 4.400},
	"o3-mini":     {input: 1.100, cachedInput: 0.550, output: 4.400},
	"gpt-4o":      {input: 2.500, cachedInput: 1.250, output: 10.000},
	"gpt-4o-mini": {input: 0.150, cachedInput: 0.075, output: 0.600},
}

// Cost returns the dollar cost of one call for the given model. Unknown
// models cost zero; the ledger still records their token counts.
func Cost(model string, usage llm.Usage) float64 {
	rates, ok := pricing[strings.ToLower(strings.TrimSpace(model))]
	if !ok {
		return 0
	}
	regularInput := usage.PromptTokens - usage.CachedPromptTokens
	if regularInput < 0 {
		regularInput = 0
	}
	const million = 1_000_000
	return float64(regularInput)*rates.input/million +
		float64(usage.CachedPromptTokens)*rates.cachedInput/million +
		float64(usage.CompletionTokens)*rates.output/million
}
