package cost

import (
	"sort"
	"time"

	"github.com/trcoder/trcoder/pkg/config"
	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

// Usage is the ledger-derived aggregate for a time range
type Usage struct {
	Start             time.Time      `json:"start"`
	End               time.Time      `json:"end"`
	Calls             int            `json:"calls"`
	ProviderCostTotal float64        `json:"provider_cost_total"`
	ChargedTotal      float64        `json:"charged_total"`
	CreditsUsed       float64        `json:"credits_used"`
	BillableTotal     float64        `json:"billable_total"`
	EffectiveMarkup   float64        `json:"effective_markup"`
	ByModelTaskType   []*UsageDriver `json:"by_model_task_type"`
	TopDrivers        []*UsageDriver `json:"top_drivers"`
}

// UsageDriver is the aggregate for one (model, task type) pair
type UsageDriver struct {
	Model           string  `json:"model"`
	TaskType        string  `json:"task_type"`
	Calls           int     `json:"calls"`
	ProviderCostUSD float64 `json:"provider_cost_usd"`
	ChargedUSD      float64 `json:"charged_usd"`
	TokensIn        int     `json:"tokens_in"`
	TokensOut       int     `json:"tokens_out"`
}

// ComputeUsageForRange scans LLM_CALL_FINISHED events in [start, end), sums
// the cost fields, groups by (model, task_type), and returns the top 5
// drivers by provider cost. Ranges are additive: adjoining ranges sum to the
// covering range for every total.
func ComputeUsageForRange(store storage.Store, start, end time.Time) (*Usage, error) {
	events, err := store.ListEventsInRange(start, end)
	if err != nil {
		return nil, err
	}

	usage := &Usage{Start: start, End: end}
	groups := make(map[[2]string]*UsageDriver)

	for _, e := range events {
		if e.EventType != types.EventLLMCallFinished {
			continue
		}
		usage.Calls++
		usage.ProviderCostTotal += numField(e.Payload, "provider_cost_usd")
		usage.ChargedTotal += numField(e.Payload, "our_charge_usd")
		usage.CreditsUsed += numField(e.Payload, "credits_applied_usd")
		usage.BillableTotal += numField(e.Payload, "billable_provider_cost_usd")

		key := [2]string{strField(e.Payload, "model"), strField(e.Payload, "task_type")}
		d, ok := groups[key]
		if !ok {
			d = &UsageDriver{Model: key[0], TaskType: key[1]}
			groups[key] = d
		}
		d.Calls++
		d.ProviderCostUSD += numField(e.Payload, "provider_cost_usd")
		d.ChargedUSD += numField(e.Payload, "our_charge_usd")
		d.TokensIn += int(numField(e.Payload, "tokens_in"))
		d.TokensOut += int(numField(e.Payload, "tokens_out"))
	}

	for _, d := range groups {
		usage.ByModelTaskType = append(usage.ByModelTaskType, d)
	}
	sort.Slice(usage.ByModelTaskType, func(i, j int) bool {
		a, b := usage.ByModelTaskType[i], usage.ByModelTaskType[j]
		if a.ProviderCostUSD != b.ProviderCostUSD {
			return a.ProviderCostUSD > b.ProviderCostUSD
		}
		if a.Model != b.Model {
			return a.Model < b.Model
		}
		return a.TaskType < b.TaskType
	})

	top := usage.ByModelTaskType
	if len(top) > 5 {
		top = top[:5]
	}
	usage.TopDrivers = top

	if usage.BillableTotal > 0 {
		usage.EffectiveMarkup = usage.ChargedTotal/usage.BillableTotal - 1
	}

	return usage, nil
}

// MonthRange returns the local-time boundaries of the month containing t
func MonthRange(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 1, 0)
}

// DayRange returns the local-time boundaries of the day containing t
func DayRange(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}

// UsageForMonth computes usage with local-time month boundaries
func UsageForMonth(store storage.Store, t time.Time) (*Usage, error) {
	start, end := MonthRange(t)
	return ComputeUsageForRange(store, start, end)
}

// UsageForDay computes usage with local-time day boundaries
func UsageForDay(store storage.Store, t time.Time) (*Usage, error) {
	start, end := DayRange(t)
	return ComputeUsageForRange(store, start, end)
}

// InvoicePreview adds the plan's base price to usage and enforces the
// minimum monthly charge.
type InvoicePreview struct {
	Plan            string  `json:"plan"`
	MonthlyPriceUSD float64 `json:"monthly_price_usd"`
	UsageChargedUSD float64 `json:"usage_charged_usd"`
	MinimumUSD      float64 `json:"minimum_usd"`
	TotalUSD        float64 `json:"total_usd"`
	Usage           *Usage  `json:"usage"`
}

// PreviewInvoice computes the current month's invoice from the ledger plus
// the billing plan's fixed price and minimum.
func PreviewInvoice(cfg *config.Config, store storage.Store, billingPlan string, now time.Time) (*InvoicePreview, error) {
	usage, err := UsageForMonth(store, now)
	if err != nil {
		return nil, err
	}

	preview := &InvoicePreview{
		Plan:            billingPlan,
		UsageChargedUSD: usage.ChargedTotal,
		Usage:           usage,
	}
	if plan, ok := cfg.Pricing.BillingPlans[billingPlan]; ok {
		preview.MonthlyPriceUSD = plan.MonthlyPriceUSD
		preview.MinimumUSD = plan.MinimumMonthlyChargeUSD
	}

	preview.TotalUSD = preview.MonthlyPriceUSD + preview.UsageChargedUSD
	if preview.TotalUSD < preview.MinimumUSD {
		preview.TotalUSD = preview.MinimumUSD
	}

	return preview, nil
}

// SessionStats is the per-run summary recomputed from the ledger
type SessionStats struct {
	RunID              string              `json:"run_id"`
	ElapsedSeconds     float64             `json:"elapsed_seconds"`
	TasksCompleted     int                 `json:"tasks_completed"`
	TasksTotal         int                 `json:"tasks_total"`
	CostToDateUSD      float64             `json:"cost_to_date_usd"`
	BudgetRemainingUSD float64             `json:"budget_remaining_usd"`
	PerModel           []*ModelSessionStat `json:"per_model"`
}

// ModelSessionStat is the per-model breakdown inside session stats
type ModelSessionStat struct {
	Model            string  `json:"model"`
	Calls            int     `json:"calls"`
	ProviderTotalUSD float64 `json:"provider_total_usd"`
	ChargedTotalUSD  float64 `json:"charged_total_usd"`
}

// ComputeSessionStats derives run session stats from the run's ledger tail
func ComputeSessionStats(store storage.Store, run *types.Run, tasksTotal int) (*SessionStats, error) {
	events, err := store.TailEventsForRun(run.ID, 0)
	if err != nil {
		return nil, err
	}

	stats := &SessionStats{
		RunID:          run.ID,
		ElapsedSeconds: time.Since(run.CreatedAt).Seconds(),
		TasksTotal:     tasksTotal,
	}

	perModel := make(map[string]*ModelSessionStat)
	for _, e := range events {
		switch e.EventType {
		case types.EventTaskCompleted:
			stats.TasksCompleted++
		case types.EventLLMCallFinished:
			stats.CostToDateUSD += numField(e.Payload, "our_charge_usd")
			model := strField(e.Payload, "model")
			m, ok := perModel[model]
			if !ok {
				m = &ModelSessionStat{Model: model}
				perModel[model] = m
			}
			m.Calls++
			m.ProviderTotalUSD += numField(e.Payload, "provider_cost_usd")
			m.ChargedTotalUSD += numField(e.Payload, "our_charge_usd")
		}
	}

	for _, m := range perModel {
		stats.PerModel = append(stats.PerModel, m)
	}
	sort.Slice(stats.PerModel, func(i, j int) bool {
		return stats.PerModel[i].Model < stats.PerModel[j].Model
	})

	if run.BudgetCapUSD > 0 {
		stats.BudgetRemainingUSD = run.BudgetCapUSD - stats.CostToDateUSD
	}

	return stats, nil
}

// Payload field helpers. Ledger payloads round-trip through JSON, so every
// number arrives as float64 and ints written by Go code may still be ints.

func numField(payload map[string]interface{}, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func strField(payload map[string]interface{}, key string) string {
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}
