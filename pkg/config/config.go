// Package config loads and cross-validates the TRCODER policy files: model
// stack, lane policy, risk policy, pricing, command permissions, and verify
// gates. Configuration is loaded once at startup and passed by explicit
// dependency into the components that need it.
package config

import (
	"github.com/trcoder/trcoder/pkg/permission"
	"github.com/trcoder/trcoder/pkg/types"
)

// Config is the fully loaded and validated policy set
type Config struct {
	ModelStack  *ModelStack      `json:"model_stack"`
	LanePolicy  *LanePolicy      `json:"lane_policy"`
	RiskPolicy  *RiskPolicy      `json:"risk_policy"`
	Pricing     *Pricing         `json:"pricing"`
	Permissions permission.Rules `json:"permissions"`
	VerifyGates *VerifyGates     `json:"verify_gates"`
}

// ModelStack maps task types to models and models to fallback chains
// (model-stack.v2.json).
type ModelStack struct {
	DefaultModel   string                    `json:"default_model"`
	TaskTypeMap    map[string]*TaskTypeEntry `json:"task_type_map"`
	FallbackChains map[string][]string       `json:"fallback_chains"`
	ModelTiers     map[string]string         `json:"model_tiers"`
	ModelProviders map[string]string         `json:"model_providers"`
	Providers      map[string]*ProviderSpec  `json:"providers"`
}

// TaskTypeEntry binds a task type to a model and a token baseline
type TaskTypeEntry struct {
	Model      string `json:"model"`
	BaseTokens int    `json:"base_tokens"`
}

// ProviderSpec tunes the resilience wrappers around one provider
type ProviderSpec struct {
	RPM                int     `json:"rpm"`
	MaxRetries         int     `json:"max_retries"`
	BaseDelayMS        int     `json:"base_delay_ms"`
	MaxDelayMS         int     `json:"max_delay_ms"`
	JitterFactor       float64 `json:"jitter_factor"`
	FailureThreshold   int     `json:"failure_threshold"`
	RecoveryTimeMS     int     `json:"recovery_time_ms"`
	HalfOpenProbes     int     `json:"half_open_probes"`
	RequestTimeoutSecs int     `json:"request_timeout_secs"`
}

// LanePolicy parameterizes lanes (lane-policy.v1.yaml)
type LanePolicy struct {
	DefaultLane string           `yaml:"default_lane" json:"default_lane"`
	Lanes       map[string]*Lane `yaml:"lanes" json:"lanes"`
}

// Lane is one speed/quality/cost tradeoff profile
type Lane struct {
	ModelOverrides    map[string]string `yaml:"model_overrides" json:"model_overrides"`
	DowngradeBias     bool              `yaml:"downgrade_bias" json:"downgrade_bias"`
	VerifyMode        string            `yaml:"verify_mode" json:"verify_mode"`
	TokenFactor       float64           `yaml:"token_factor" json:"token_factor"`
	FixLoopIterations int               `yaml:"fix_loop_iterations" json:"fix_loop_iterations"`
	ContextBudgets    ContextBudgets    `yaml:"context_budgets" json:"context_budgets"`
}

// ContextBudgets bounds context packs built under a lane
type ContextBudgets struct {
	MaxFiles   int  `yaml:"max_files" json:"max_files"`
	MaxLines   int  `yaml:"max_lines" json:"max_lines"`
	GraphDepth int  `yaml:"graph_depth" json:"graph_depth"`
	TopK       int  `yaml:"top_k" json:"top_k"`
	Hydrate    bool `yaml:"hydrate" json:"hydrate"`
}

// RiskPolicy gates downgrades and confirmations (risk-policy.v1.yaml)
type RiskPolicy struct {
	DefaultRisk          string                         `yaml:"default_risk" json:"default_risk"`
	RiskLevels           map[types.RiskLevel]*RiskEntry `yaml:"risk_levels" json:"risk_levels"`
	HighRiskTaskTypes    []string                       `yaml:"high_risk_task_types" json:"high_risk_task_types"`
	HighRiskPathPatterns []string                       `yaml:"high_risk_path_patterns" json:"high_risk_path_patterns"`
}

// RiskEntry tunes one risk level
type RiskEntry struct {
	DowngradeAllowed     bool    `yaml:"downgrade_allowed" json:"downgrade_allowed"`
	MinAllowedTier       string  `yaml:"min_allowed_tier" json:"min_allowed_tier"`
	VerifyStrictness     string  `yaml:"verify_strictness" json:"verify_strictness"`
	TokenFactor          float64 `yaml:"token_factor" json:"token_factor"`
	ConfirmationRequired bool    `yaml:"confirmation_required" json:"confirmation_required"`
}

// Pricing holds per-model rates and billing plans (pricing.v1.yaml)
type Pricing struct {
	ModelPricingUSDPer1K map[string]*ModelRate   `yaml:"model_pricing_usd_per_1k" json:"model_pricing_usd_per_1k"`
	BillingPlans         map[string]*BillingPlan `yaml:"billing_plans" json:"billing_plans"`
}

// ModelRate is the per-1k-token price of a model
type ModelRate struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// BillingPlan is one subscription plan
type BillingPlan struct {
	MonthlyPriceUSD         float64            `yaml:"monthly_price_usd" json:"monthly_price_usd"`
	MinimumMonthlyChargeUSD float64            `yaml:"minimum_monthly_charge_usd" json:"minimum_monthly_charge_usd"`
	IncludedCreditsUSD      float64            `yaml:"included_credits_usd" json:"included_credits_usd"`
	PaygMarkup              map[string]float64 `yaml:"payg_markup" json:"payg_markup"`
}

// VerifyGates names gate commands and which gates each mode runs
// (verify.gates.yaml).
type VerifyGates struct {
	Modes    map[string]*VerifyModeEntry `yaml:"modes" json:"modes"`
	Commands map[string]string           `yaml:"commands" json:"commands"`
}

// VerifyModeEntry lists the gates one verify mode executes
type VerifyModeEntry struct {
	Gates []string `yaml:"gates" json:"gates"`
}

// Model tiers, cheapest first. premium_reasoning bills as premium.
const (
	TierEconomy          = "economy"
	TierStandard         = "standard"
	TierPremium          = "premium"
	TierPremiumReasoning = "premium_reasoning"
)

var tierRank = map[string]int{
	TierEconomy:          0,
	TierStandard:         1,
	TierPremium:          2,
	TierPremiumReasoning: 3,
}

// TierRank returns the ordinal of a tier name, -1 when unknown
func TierRank(tier string) int {
	if r, ok := tierRank[tier]; ok {
		return r
	}
	return -1
}

// BillingTier maps a model tier to the tier used for markup lookup
func BillingTier(tier string) string {
	if tier == TierPremiumReasoning {
		return TierPremium
	}
	return tier
}
