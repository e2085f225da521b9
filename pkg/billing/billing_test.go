package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewManager(store)
}

var org1 = types.Identity{OrgID: "org-1", UserID: "user-1", BillingPlan: "standard"}

// TestCreditBalanceIsLedgerDerived tests grants minus consumption with no
// stored balance
func TestCreditBalanceIsLedgerDerived(t *testing.T) {
	m := newManager(t)

	balance, err := m.CreditBalance("org-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, balance)

	require.NoError(t, m.GrantCredits(org1, 10.0, "signup bonus"))
	require.NoError(t, m.GrantCredits(org1, 5.0, "promo"))
	require.NoError(t, m.RecordConsumption(org1, "run-1", 3.5))

	balance, err = m.CreditBalance("org-1")
	require.NoError(t, err)
	assert.InDelta(t, 11.5, balance, 1e-9)

	// Another org's ledger does not interfere.
	other := types.Identity{OrgID: "org-2"}
	require.NoError(t, m.GrantCredits(other, 100.0, "unrelated"))
	balance, err = m.CreditBalance("org-1")
	require.NoError(t, err)
	assert.InDelta(t, 11.5, balance, 1e-9)
}

// TestCreditBalanceFloorsAtZero tests over-consumption clamping
func TestCreditBalanceFloorsAtZero(t *testing.T) {
	m := newManager(t)

	require.NoError(t, m.GrantCredits(org1, 1.0, "small"))
	require.NoError(t, m.RecordConsumption(org1, "run-1", 5.0))

	balance, err := m.CreditBalance("org-1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, balance)
}

// TestGrantCreditsRejectsNonPositive tests grant validation
func TestGrantCreditsRejectsNonPositive(t *testing.T) {
	m := newManager(t)

	assert.Error(t, m.GrantCredits(org1, 0, "zero"))
	assert.Error(t, m.GrantCredits(org1, -5, "negative"))

	events, err := m.store.AllEvents()
	require.NoError(t, err)
	assert.Empty(t, events)
}

// TestRecordConsumptionZeroIsNoOp tests that zero consumption writes nothing
func TestRecordConsumptionZeroIsNoOp(t *testing.T) {
	m := newManager(t)

	require.NoError(t, m.RecordConsumption(org1, "run-1", 0))
	events, err := m.store.AllEvents()
	require.NoError(t, err)
	assert.Empty(t, events)
}

// TestTransactions tests the oldest-first movement list
func TestTransactions(t *testing.T) {
	m := newManager(t)

	require.NoError(t, m.GrantCredits(org1, 10.0, "signup"))
	require.NoError(t, m.RecordConsumption(org1, "run-1", 2.0))

	txns, err := m.Transactions("org-1")
	require.NoError(t, err)
	require.Len(t, txns, 2)
	assert.Equal(t, types.EventCreditGranted, txns[0].Type)
	assert.Equal(t, 10.0, txns[0].AmountUSD)
	assert.Equal(t, "signup", txns[0].Reason)
	assert.Equal(t, types.EventCreditConsumed, txns[1].Type)
}

// TestHandleWebhookIdempotency tests exactly-once processing by provider
// event id
func TestHandleWebhookIdempotency(t *testing.T) {
	m := newManager(t)

	require.NoError(t, m.HandleWebhook("evt_1", "credit_grant", org1, 25.0))

	err := m.HandleWebhook("evt_1", "credit_grant", org1, 25.0)
	assert.ErrorIs(t, err, ErrDuplicateWebhook)

	balance, err := m.CreditBalance("org-1")
	require.NoError(t, err)
	assert.Equal(t, 25.0, balance, "the replay granted nothing")
}

// TestHandleWebhookEventTypes tests the event type dispatch
func TestHandleWebhookEventTypes(t *testing.T) {
	m := newManager(t)

	assert.Error(t, m.HandleWebhook("", "credit_grant", org1, 5.0), "missing id rejected")
	assert.NoError(t, m.HandleWebhook("evt_renew", "subscription_renewed", org1, 0))
	assert.NoError(t, m.HandleWebhook("evt_unknown", "something_else", org1, 0))

	events, err := m.store.AllEvents()
	require.NoError(t, err)
	assert.Empty(t, events, "only credit_grant writes to the ledger")
}

// TestStaticGateway tests plan lookup and default fallback
func TestStaticGateway(t *testing.T) {
	g := &StaticGateway{
		Plans:       map[string]string{"org-1": "pro"},
		DefaultPlan: "standard",
	}

	plan, err := g.CurrentPlan("org-1")
	require.NoError(t, err)
	assert.Equal(t, "pro", plan)

	plan, err = g.CurrentPlan("org-2")
	require.NoError(t, err)
	assert.Equal(t, "standard", plan)

	empty := &StaticGateway{}
	_, err = empty.CurrentPlan("org-3")
	assert.Error(t, err)
}
