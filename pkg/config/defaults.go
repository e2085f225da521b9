package config

import (
	"encoding/json"
)

func defaultModelStackJSON() []byte {
	stack := &ModelStack{
		DefaultModel: "claude-sonnet-4-5",
		TaskTypeMap: map[string]*TaskTypeEntry{
			"feature":  {Model: "claude-sonnet-4-5", BaseTokens: 9000},
			"bugfix":   {Model: "claude-sonnet-4-5", BaseTokens: 6000},
			"refactor": {Model: "claude-opus-4-1", BaseTokens: 12000},
			"test":     {Model: "claude-haiku-4-5", BaseTokens: 5000},
			"docs":     {Model: "gpt-4o-mini", BaseTokens: 3000},
			"chore":    {Model: "gpt-4o-mini", BaseTokens: 2500},
		},
		FallbackChains: map[string][]string{
			"claude-opus-4-1":   {"claude-sonnet-4-5", "gpt-4o"},
			"claude-sonnet-4-5": {"gpt-4o", "gemini-2.0-flash"},
			"claude-haiku-4-5":  {"gpt-4o-mini", "gemini-2.0-flash"},
			"gpt-4o":            {"claude-sonnet-4-5", "gemini-2.0-flash"},
			"gpt-4o-mini":       {"claude-haiku-4-5", "gemini-2.0-flash"},
			"gemini-2.0-flash":  {"gpt-4o-mini"},
		},
		ModelTiers: map[string]string{
			"claude-opus-4-1":   TierPremiumReasoning,
			"claude-sonnet-4-5": TierPremium,
			"claude-haiku-4-5":  TierStandard,
			"gpt-4o":            TierPremium,
			"gpt-4o-mini":       TierStandard,
			"gemini-2.0-flash":  TierEconomy,
		},
		ModelProviders: map[string]string{
			"claude-opus-4-1":   "anthropic",
			"claude-sonnet-4-5": "anthropic",
			"claude-haiku-4-5":  "anthropic",
			"gpt-4o":            "openai",
			"gpt-4o-mini":       "openai",
			"gemini-2.0-flash":  "google",
		},
		Providers: map[string]*ProviderSpec{
			"anthropic": defaultProviderSpec(),
			"openai":    defaultProviderSpec(),
			"google":    defaultProviderSpec(),
			"mock":      defaultProviderSpec(),
		},
	}

	data, err := json.MarshalIndent(stack, "", "  ")
	if err != nil {
		panic(err)
	}
	return append(data, '\n')
}

func defaultProviderSpec() *ProviderSpec {
	return &ProviderSpec{
		RPM:                60,
		MaxRetries:         3,
		BaseDelayMS:        500,
		MaxDelayMS:         8000,
		JitterFactor:       0.2,
		FailureThreshold:   5,
		RecoveryTimeMS:     30000,
		HalfOpenProbes:     2,
		RequestTimeoutSecs: 120,
	}
}

const defaultLanePolicyYAML = `default_lane: balanced
lanes:
  speed:
    downgrade_bias: true
    verify_mode: targeted
    token_factor: 0.7
    fix_loop_iterations: 1
    model_overrides:
      docs: gpt-4o-mini
      chore: gpt-4o-mini
    context_budgets:
      max_files: 12
      max_lines: 1500
      graph_depth: 1
      top_k: 8
      hydrate: false
  balanced:
    downgrade_bias: false
    verify_mode: standard
    token_factor: 1.0
    fix_loop_iterations: 2
    model_overrides: {}
    context_budgets:
      max_files: 24
      max_lines: 4000
      graph_depth: 2
      top_k: 12
      hydrate: true
  quality:
    downgrade_bias: false
    verify_mode: strict
    token_factor: 1.4
    fix_loop_iterations: 3
    model_overrides:
      feature: claude-opus-4-1
      refactor: claude-opus-4-1
    context_budgets:
      max_files: 40
      max_lines: 8000
      graph_depth: 3
      top_k: 20
      hydrate: true
  cost-saver:
    downgrade_bias: true
    verify_mode: targeted
    token_factor: 0.6
    fix_loop_iterations: 1
    model_overrides:
      feature: claude-haiku-4-5
      bugfix: claude-haiku-4-5
      test: gemini-2.0-flash
    context_budgets:
      max_files: 10
      max_lines: 1200
      graph_depth: 1
      top_k: 6
      hydrate: false
`

const defaultRiskPolicyYAML = `default_risk: standard
risk_levels:
  low:
    downgrade_allowed: true
    min_allowed_tier: economy
    verify_strictness: targeted
    token_factor: 0.9
    confirmation_required: false
  standard:
    downgrade_allowed: true
    min_allowed_tier: standard
    verify_strictness: standard
    token_factor: 1.0
    confirmation_required: false
  high:
    downgrade_allowed: false
    min_allowed_tier: premium
    verify_strictness: strict
    token_factor: 1.3
    confirmation_required: true
high_risk_task_types:
  - migration
  - security
high_risk_path_patterns:
  - "*migrations*"
  - "*auth*"
  - "*secrets*"
  - "*.sql"
`

const defaultPricingYAML = `model_pricing_usd_per_1k:
  claude-opus-4-1:
    input: 0.015
    output: 0.075
  claude-sonnet-4-5:
    input: 0.003
    output: 0.015
  claude-haiku-4-5:
    input: 0.0008
    output: 0.004
  gpt-4o:
    input: 0.0025
    output: 0.01
  gpt-4o-mini:
    input: 0.00015
    output: 0.0006
  gemini-2.0-flash:
    input: 0.0001
    output: 0.0004
billing_plans:
  free:
    monthly_price_usd: 0
    minimum_monthly_charge_usd: 0
    included_credits_usd: 5
    payg_markup:
      economy: 0.5
      standard: 0.4
      premium: 0.3
  pro:
    monthly_price_usd: 20
    minimum_monthly_charge_usd: 20
    included_credits_usd: 25
    payg_markup:
      economy: 0.3
      standard: 0.25
      premium: 0.2
  team:
    monthly_price_usd: 100
    minimum_monthly_charge_usd: 100
    included_credits_usd: 150
    payg_markup:
      economy: 0.2
      standard: 0.15
      premium: 0.1
`

const defaultPermissionsYAML = `allow:
  - "git status*"
  - "git diff*"
  - "git log*"
  - "git rev-parse*"
  - "git remote*"
  - "git show*"
  - "ls*"
  - "cat *"
  - "grep *"
  - "rg *"
  - "find *"
  - "go build*"
  - "go test*"
  - "go vet*"
  - "npm test*"
  - "npm run lint*"
  - "npx tsc*"
  - "pytest*"
  - "make test*"
  - "make lint*"
ask:
  - "npm install*"
  - "pip install*"
  - "go get*"
  - "docker *"
  - "make *"
deny:
  - "rm -rf*"
  - "sudo *"
  - "git push*"
  - "git reset --hard*"
  - "curl *"
  - "wget *"
  - "* > /dev/*"
  - "chmod 777*"
`

const defaultVerifyGatesYAML = `modes:
  targeted:
    gates:
      - unit
  standard:
    gates:
      - unit
      - lint
  strict:
    gates:
      - unit
      - lint
      - build
      - typecheck
commands:
  unit: "go test ./..."
  lint: "make lint"
  build: "go build ./..."
  typecheck: "go vet ./..."
`
