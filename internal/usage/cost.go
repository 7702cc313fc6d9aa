// Package usage tracks token consumption and cost across pipeline runs.
// The pipeline core only sees the narrow Ledger interface and assumes
// nothing about atomicity; concurrent processes may lose updates.
package usage

import (
	"math"

	"github.com/reqforge/reqforge/internal/model"
)

// Estimate computes the USD cost of the given usage from per-million-token
// prices. The second return is false when no estimate is possible (zero
// usage or unconfigured prices).
func Estimate(u model.TokenUsage, pricing model.PricingConfig) (float64, bool) {
	if u.PromptTokens == 0 && u.CompletionTokens == 0 {
		return 0, false
	}
	if pricing.InputPerMTokensUSD <= 0 && pricing.OutputPerMTokensUSD <= 0 {
		return 0, false
	}

	cost := float64(u.PromptTokens)*(pricing.InputPerMTokensUSD/1_000_000.0) +
		float64(u.CompletionTokens)*(pricing.OutputPerMTokensUSD/1_000_000.0)

	// Round to 8 decimal places so estimates serialize stably.
	return math.Round(cost*1e8) / 1e8, true
}
