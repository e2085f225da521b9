package cost

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

func newStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func appendCall(t *testing.T, store storage.Store, id string, ts time.Time, model, taskType string, provider, charged float64) {
	t.Helper()
	err := store.AppendEvent(&types.LedgerEvent{
		EventID:   id,
		TS:        ts,
		OrgID:     "org-1",
		UserID:    "user-1",
		ProjectID: "proj-1",
		RunID:     "run-1",
		EventType: types.EventLLMCallFinished,
		Payload: map[string]interface{}{
			"model":                      model,
			"task_type":                  taskType,
			"tokens_in":                  1000,
			"tokens_out":                 500,
			"provider_cost_usd":          provider,
			"our_charge_usd":             charged,
			"credits_applied_usd":        0.0,
			"billable_provider_cost_usd": provider,
		},
	})
	require.NoError(t, err)
}

// TestComputeUsageForRange tests totals, grouping, and range boundaries
func TestComputeUsageForRange(t *testing.T) {
	store := newStore(t)
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	appendCall(t, store, "e1", base, "big-model", "feature", 0.10, 0.125)
	appendCall(t, store, "e2", base.Add(time.Hour), "big-model", "feature", 0.20, 0.25)
	appendCall(t, store, "e3", base.Add(2*time.Hour), "small-model", "docs", 0.01, 0.011)

	// Non-call events must not count.
	require.NoError(t, store.AppendEvent(&types.LedgerEvent{
		EventID: "e4", TS: base, OrgID: "org-1", EventType: types.EventRunStarted,
	}))

	usage, err := ComputeUsageForRange(store, base.Add(-time.Minute), base.Add(3*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, usage.Calls)
	assert.InDelta(t, 0.31, usage.ProviderCostTotal, 1e-9)
	assert.InDelta(t, 0.386, usage.ChargedTotal, 1e-9)
	require.Len(t, usage.ByModelTaskType, 2)
	assert.Equal(t, "big-model", usage.ByModelTaskType[0].Model, "sorted by provider cost descending")
	assert.Equal(t, 2, usage.ByModelTaskType[0].Calls)
	assert.Equal(t, 2000, usage.ByModelTaskType[0].TokensIn)
}

// TestUsageRangesAreAdditive tests that adjoining ranges sum to the covering
// range for every total
func TestUsageRangesAreAdditive(t *testing.T) {
	store := newStore(t)
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		appendCall(t, store, fmt.Sprintf("e%d", i), base.Add(time.Duration(i)*time.Hour),
			"big-model", "feature", 0.05, 0.06)
	}

	mid := base.Add(5 * time.Hour)
	end := base.Add(10 * time.Hour)

	left, err := ComputeUsageForRange(store, base, mid)
	require.NoError(t, err)
	right, err := ComputeUsageForRange(store, mid, end)
	require.NoError(t, err)
	whole, err := ComputeUsageForRange(store, base, end)
	require.NoError(t, err)

	assert.Equal(t, whole.Calls, left.Calls+right.Calls)
	assert.InDelta(t, whole.ProviderCostTotal, left.ProviderCostTotal+right.ProviderCostTotal, 1e-9)
	assert.InDelta(t, whole.ChargedTotal, left.ChargedTotal+right.ChargedTotal, 1e-9)
	assert.InDelta(t, whole.BillableTotal, left.BillableTotal+right.BillableTotal, 1e-9)
}

// TestUsageTopDrivers tests the top-5 cut
func TestUsageTopDrivers(t *testing.T) {
	store := newStore(t)
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 7; i++ {
		appendCall(t, store, fmt.Sprintf("e%d", i), base,
			fmt.Sprintf("model-%d", i), "feature", float64(i)*0.01, float64(i)*0.012)
	}

	usage, err := ComputeUsageForRange(store, base.Add(-time.Minute), base.Add(time.Minute))
	require.NoError(t, err)

	assert.Len(t, usage.ByModelTaskType, 7)
	assert.Len(t, usage.TopDrivers, 5)
	assert.Equal(t, "model-6", usage.TopDrivers[0].Model)
}

// TestPreviewInvoice tests base price plus usage and the monthly minimum
func TestPreviewInvoice(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

	t.Run("minimum applies when usage is low", func(t *testing.T) {
		store := newStore(t)
		appendCall(t, store, "e1", now, "big-model", "feature", 0.10, 0.125)

		preview, err := PreviewInvoice(cfg, store, "standard", now)
		require.NoError(t, err)
		assert.Equal(t, 20.0, preview.MonthlyPriceUSD)
		assert.InDelta(t, 0.125, preview.UsageChargedUSD, 1e-9)
		assert.Equal(t, 25.0, preview.TotalUSD, "20.125 is lifted to the 25 minimum")
	})

	t.Run("usage above the minimum is charged in full", func(t *testing.T) {
		store := newStore(t)
		appendCall(t, store, "e1", now, "big-model", "feature", 8.0, 10.0)

		preview, err := PreviewInvoice(cfg, store, "standard", now)
		require.NoError(t, err)
		assert.InDelta(t, 30.0, preview.TotalUSD, 1e-9)
	})

	t.Run("events outside the month are excluded", func(t *testing.T) {
		store := newStore(t)
		appendCall(t, store, "e1", now.AddDate(0, -1, 0), "big-model", "feature", 8.0, 10.0)

		preview, err := PreviewInvoice(cfg, store, "standard", now)
		require.NoError(t, err)
		assert.Equal(t, 0.0, preview.UsageChargedUSD)
	})
}

// TestComputeSessionStats tests the per-run ledger projection
func TestComputeSessionStats(t *testing.T) {
	store := newStore(t)
	now := time.Now()

	run := &types.Run{
		ID:           "run-1",
		ProjectID:    "proj-1",
		BudgetCapUSD: 1.0,
		CreatedAt:    now.Add(-time.Minute),
	}

	appendCall(t, store, "e1", now, "big-model", "feature", 0.10, 0.125)
	appendCall(t, store, "e2", now, "small-model", "docs", 0.01, 0.011)
	require.NoError(t, store.AppendEvent(&types.LedgerEvent{
		EventID: "e3", TS: now, OrgID: "org-1", RunID: "run-1",
		EventType: types.EventTaskCompleted,
	}))

	stats, err := ComputeSessionStats(store, run, 3)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.TasksCompleted)
	assert.Equal(t, 3, stats.TasksTotal)
	assert.InDelta(t, 0.136, stats.CostToDateUSD, 1e-9)
	assert.InDelta(t, 1.0-0.136, stats.BudgetRemainingUSD, 1e-9)
	require.Len(t, stats.PerModel, 2)
	assert.Equal(t, "big-model", stats.PerModel[0].Model, "sorted by model name")
	assert.Greater(t, stats.ElapsedSeconds, 0.0)
}
