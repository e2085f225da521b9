package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/trcoder/trcoder/pkg/types"
)

// ValidationError aggregates every cross-validation failure found in one pass
// so operators can fix a broken policy set in a single edit.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Problems, "; "))
}

// Validate cross-checks the loaded policy set: every referenced model must be
// priced and tiered, every lane and risk entry must reference valid verify
// modes, and every gate named by a verify mode must have a command.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.ModelStack == nil || c.LanePolicy == nil || c.RiskPolicy == nil ||
		c.Pricing == nil || c.VerifyGates == nil {
		return errors.New("invalid configuration: missing policy section")
	}

	priced := func(model string) bool {
		_, ok := c.Pricing.ModelPricingUSDPer1K[model]
		return ok
	}

	checkModel := func(where, model string) {
		if !priced(model) {
			add("%s references unpriced model %q", where, model)
		}
		if _, ok := c.ModelStack.ModelTiers[model]; !ok {
			add("%s references model %q with no tier", where, model)
		}
		if _, ok := c.ModelStack.ModelProviders[model]; !ok {
			add("%s references model %q with no provider mapping", where, model)
		}
	}

	if c.ModelStack.DefaultModel == "" {
		add("model stack has no default model")
	} else {
		checkModel("default_model", c.ModelStack.DefaultModel)
	}

	for taskType, entry := range c.ModelStack.TaskTypeMap {
		if entry == nil || entry.Model == "" {
			add("task type %q has no model", taskType)
			continue
		}
		checkModel(fmt.Sprintf("task type %q", taskType), entry.Model)
		if entry.BaseTokens <= 0 {
			add("task type %q has non-positive base tokens", taskType)
		}
	}

	for model, chain := range c.ModelStack.FallbackChains {
		checkModel("fallback chain key", model)
		for _, fb := range chain {
			checkModel(fmt.Sprintf("fallback chain for %q", model), fb)
		}
	}

	for model, tier := range c.ModelStack.ModelTiers {
		if TierRank(tier) < 0 {
			add("model %q has unknown tier %q", model, tier)
		}
	}

	if len(c.LanePolicy.Lanes) == 0 {
		add("lane policy defines no lanes")
	}
	if _, ok := c.LanePolicy.Lanes[c.LanePolicy.DefaultLane]; !ok {
		add("default lane %q is not defined", c.LanePolicy.DefaultLane)
	}
	for name, lane := range c.LanePolicy.Lanes {
		if lane == nil {
			add("lane %q is empty", name)
			continue
		}
		if !types.ValidVerifyMode(lane.VerifyMode) {
			add("lane %q has unknown verify mode %q", name, lane.VerifyMode)
		}
		if lane.TokenFactor <= 0 {
			add("lane %q has non-positive token factor", name)
		}
		for taskType, model := range lane.ModelOverrides {
			checkModel(fmt.Sprintf("lane %q override for %q", name, taskType), model)
		}
	}

	if _, ok := c.RiskPolicy.RiskLevels[types.RiskLevel(c.RiskPolicy.DefaultRisk)]; !ok {
		add("default risk %q is not defined", c.RiskPolicy.DefaultRisk)
	}
	for level, entry := range c.RiskPolicy.RiskLevels {
		if entry == nil {
			add("risk level %q is empty", level)
			continue
		}
		if !types.ValidVerifyMode(entry.VerifyStrictness) {
			add("risk level %q has unknown verify strictness %q", level, entry.VerifyStrictness)
		}
		if TierRank(entry.MinAllowedTier) < 0 {
			add("risk level %q has unknown minimum tier %q", level, entry.MinAllowedTier)
		}
		if entry.TokenFactor <= 0 {
			add("risk level %q has non-positive token factor", level)
		}
	}

	for name, plan := range c.Pricing.BillingPlans {
		if plan == nil {
			add("billing plan %q is empty", name)
			continue
		}
		for _, tier := range []string{TierEconomy, TierStandard, TierPremium} {
			if _, ok := plan.PaygMarkup[tier]; !ok {
				add("billing plan %q has no markup for tier %q", name, tier)
			}
		}
	}

	for mode, entry := range c.VerifyGates.Modes {
		if !types.ValidVerifyMode(mode) {
			add("verify gates define unknown mode %q", mode)
		}
		if entry == nil {
			continue
		}
		for _, gate := range entry.Gates {
			if _, ok := c.VerifyGates.Commands[gate]; !ok {
				add("verify mode %q names gate %q with no command", mode, gate)
			}
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
