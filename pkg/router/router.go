// Package router implements deterministic model selection. Decide is a pure
// function of its inputs: same task type, lane, risk, budget and policy set
// always produce the same decision. No randomness, no I/O.
package router

import (
	"fmt"

	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/cost"
	"github.com/trcoder/trcoder/pkg/types"
)

// Input carries everything Decide looks at
type Input struct {
	TaskType        string
	Lane            string
	Risk            types.RiskLevel
	BudgetRemaining *float64
	ContextBudget   int
}

// Decide selects a model for a task. Selection order: lane override for the
// task type, then the model stack's task-type map, then the configured
// default. Downgrade applies only when the risk level allows it and the lane
// is biased toward cheaper models; the downgrade never drops below the risk
// level's minimum tier.
func Decide(cfg *config.Config, in Input) *types.RouterDecision {
	d := &types.RouterDecision{}

	lane := cfg.LanePolicy.Lanes[in.Lane]
	riskEntry := cfg.RiskPolicy.RiskLevels[in.Risk]

	// 1. Base model
	selected := cfg.ModelStack.DefaultModel
	switch {
	case lane != nil && lane.ModelOverrides[in.TaskType] != "":
		selected = lane.ModelOverrides[in.TaskType]
		d.Reasons = append(d.Reasons, fmt.Sprintf("lane %s overrides %s to %s", in.Lane, in.TaskType, selected))
	default:
		if entry, ok := cfg.ModelStack.TaskTypeMap[in.TaskType]; ok && entry.Model != "" {
			selected = entry.Model
			d.Reasons = append(d.Reasons, fmt.Sprintf("task type %s maps to %s", in.TaskType, selected))
		} else {
			d.Reasons = append(d.Reasons, fmt.Sprintf("no mapping for task type %s, using default %s", in.TaskType, selected))
		}
	}

	// 2. Downgrade
	downgradeAllowed := riskEntry == nil || riskEntry.DowngradeAllowed
	if !downgradeAllowed {
		d.Constraints = append(d.Constraints, fmt.Sprintf("risk %s forbids downgrade", in.Risk))
	}
	if downgradeAllowed && lane != nil && lane.DowngradeBias {
		if cheaper := cheapestEligible(cfg, selected, riskEntry); cheaper != "" && cheaper != selected {
			d.Reasons = append(d.Reasons, fmt.Sprintf("downgraded %s to %s under lane bias", selected, cheaper))
			selected = cheaper
			d.DowngradeApplied = true
		}
	}
	d.SelectedModel = selected

	// 3-4. Expected tokens and cost
	d.ExpectedTokens = cost.EstimateTokens(cfg, in.TaskType, in.Lane, in.Risk)
	d.ExpectedCostUSD = cost.ExpectedCostUSD(cfg, selected, d.ExpectedTokens)

	// 5. Budget check. The caller pauses the run; the selection stands.
	if in.BudgetRemaining != nil && d.ExpectedCostUSD > *in.BudgetRemaining {
		d.BudgetViolation = true
		d.Constraints = append(d.Constraints, fmt.Sprintf("expected cost %.6f exceeds remaining budget %.6f", d.ExpectedCostUSD, *in.BudgetRemaining))
	}

	if in.ContextBudget > 0 && d.ExpectedTokens > in.ContextBudget {
		d.Constraints = append(d.Constraints, fmt.Sprintf("expected tokens %d exceed context budget %d", d.ExpectedTokens, in.ContextBudget))
	}

	// 6. Fallback chain, deduped, selected model first, self-entries removed
	// from the tail.
	d.FallbackChain = buildChain(cfg, selected)

	return d
}

// cheapestEligible returns the cheapest model in the fallback chain whose
// tier is at or above the risk level's minimum, or "" when none qualifies.
func cheapestEligible(cfg *config.Config, selected string, riskEntry *config.RiskEntry) string {
	minTier := 0
	if riskEntry != nil {
		minTier = config.TierRank(riskEntry.MinAllowedTier)
	}

	candidates := append([]string{selected}, cfg.ModelStack.FallbackChains[selected]...)

	best := ""
	bestCost := 0.0
	for _, model := range candidates {
		if config.TierRank(cfg.ModelStack.ModelTiers[model]) < minTier {
			continue
		}
		rate, ok := cfg.Pricing.ModelPricingUSDPer1K[model]
		if !ok {
			continue
		}
		avg := (rate.Input + rate.Output) / 2
		if best == "" || avg < bestCost {
			best = model
			bestCost = avg
		}
	}
	return best
}

func buildChain(cfg *config.Config, selected string) []string {
	chain := []string{selected}
	seen := map[string]bool{selected: true}
	for _, model := range cfg.ModelStack.FallbackChains[selected] {
		if seen[model] {
			continue
		}
		seen[model] = true
		chain = append(chain, model)
	}
	return chain
}
