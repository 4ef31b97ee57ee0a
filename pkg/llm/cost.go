package llm

import "strings"

// charsPerToken is the approximate number of characters per token for
// English text. Used only when the provider omits usage — an exact count
// would need a tokenizer dependency for a value that only feeds a cost
// estimate.
const charsPerToken = 4

// EstimateTokens returns an approximate token count (~4 chars/token,
// rounded up). len() counts bytes, so multi-byte content overestimates —
// the safe direction for a cost estimate.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// modelCost is USD per million tokens.
type modelCost struct {
	inputPerM  float64
	outputPerM float64
}

// modelCosts is keyed by model name prefix; unknown models estimate at the
// default rate.
var modelCosts = map[string]modelCost{
	"gpt-4o":        {2.50, 10.00},
	"gpt-4o-mini":   {0.15, 0.60},
	"gpt-4.1":       {2.00, 8.00},
	"gpt-4.1-mini":  {0.40, 1.60},
	"o3-mini":       {1.10, 4.40},
	"claude-sonnet": {3.00, 15.00},
	"claude-haiku":  {0.80, 4.00},
}

var defaultCost = modelCost{1.00, 4.00}

// EstimateCost returns the estimated USD cost of a call for the given
// model and token counts. Prefix lookups prefer the longest match, so
// "gpt-4o-mini-2024…" prices as gpt-4o-mini, not gpt-4o.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	cost, ok := modelCosts[model]
	if !ok {
		best := ""
		for prefix, c := range modelCosts {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
				best = prefix
				cost = c
				ok = true
			}
		}
	}
	if !ok {
		cost = defaultCost
	}
	return float64(promptTokens)/1e6*cost.inputPerM + float64(completionTokens)/1e6*cost.outputPerM
}
