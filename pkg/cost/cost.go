// Package cost implements token estimation, per-call cost calculation, and
// every ledger-derived aggregate: usage ranges, invoice previews, and session
// stats. No derived total is ever stored; everything here is recomputed from
// ledger events on demand.
package cost

import (
	"math"

	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/types"
)

// EstimateTokens is the deterministic token heuristic used by the router and
// by providers that do not report usage: task-type base tokens multiplied by
// the lane and risk factors, integer-rounded.
func EstimateTokens(cfg *config.Config, taskType, lane string, risk types.RiskLevel) int {
	base := 4000
	if entry, ok := cfg.ModelStack.TaskTypeMap[taskType]; ok && entry.BaseTokens > 0 {
		base = entry.BaseTokens
	}

	laneFactor := 1.0
	if l, ok := cfg.LanePolicy.Lanes[lane]; ok && l.TokenFactor > 0 {
		laneFactor = l.TokenFactor
	}

	riskFactor := 1.0
	if r, ok := cfg.RiskPolicy.RiskLevels[risk]; ok && r.TokenFactor > 0 {
		riskFactor = r.TokenFactor
	}

	return int(math.Round(float64(base) * laneFactor * riskFactor))
}

// ExpectedCostUSD prices expected tokens against the average of the model's
// input and output per-1k rates.
func ExpectedCostUSD(cfg *config.Config, model string, expectedTokens int) float64 {
	rate, ok := cfg.Pricing.ModelPricingUSDPer1K[model]
	if !ok {
		return 0
	}
	avg := (rate.Input + rate.Output) / 2
	return float64(expectedTokens) / 1000 * avg
}

// Breakdown is the full cost record of a single LLM call
type Breakdown struct {
	Model                   string  `json:"model"`
	TokensIn                int     `json:"tokens_in"`
	TokensOut               int     `json:"tokens_out"`
	ProviderCostUSD         float64 `json:"provider_cost_usd"`
	CreditsAppliedUSD       float64 `json:"credits_applied_usd"`
	BillableProviderCostUSD float64 `json:"billable_provider_cost_usd"`
	Markup                  float64 `json:"markup"`
	OurChargeUSD            float64 `json:"our_charge_usd"`
}

// CalculateCost prices one call: provider cost from per-1k rates, credits
// applied up to the remaining balance, and markup chosen from the billing
// plan keyed by the model's tier (premium_reasoning bills as premium).
func CalculateCost(cfg *config.Config, model, billingPlan string, tokensIn, tokensOut int, creditsRemaining float64) Breakdown {
	b := Breakdown{Model: model, TokensIn: tokensIn, TokensOut: tokensOut}

	if rate, ok := cfg.Pricing.ModelPricingUSDPer1K[model]; ok {
		b.ProviderCostUSD = float64(tokensIn)/1000*rate.Input + float64(tokensOut)/1000*rate.Output
	}

	b.CreditsAppliedUSD = math.Min(b.ProviderCostUSD, math.Max(creditsRemaining, 0))
	b.BillableProviderCostUSD = b.ProviderCostUSD - b.CreditsAppliedUSD

	tier := config.BillingTier(cfg.ModelStack.ModelTiers[model])
	if plan, ok := cfg.Pricing.BillingPlans[billingPlan]; ok {
		b.Markup = plan.PaygMarkup[tier]
	}
	b.OurChargeUSD = b.BillableProviderCostUSD * (1 + b.Markup)

	return b
}

// Payload returns the breakdown as a ledger event payload
func (b Breakdown) Payload() map[string]interface{} {
	return map[string]interface{}{
		"model":                      b.Model,
		"tokens_in":                  b.TokensIn,
		"tokens_out":                 b.TokensOut,
		"provider_cost_usd":          b.ProviderCostUSD,
		"credits_applied_usd":        b.CreditsAppliedUSD,
		"billable_provider_cost_usd": b.BillableProviderCostUSD,
		"markup":                     b.Markup,
		"our_charge_usd":             b.OurChargeUSD,
	}
}
