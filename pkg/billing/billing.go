// Package billing manages credit grants and the subscription contract. The
// subscription workflow itself (checkout, renewal) lives with the external
// payment provider; this package holds the ledger-derived credit state and
// the idempotent webhook entry point.
package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/trcoder/trcoder/pkg/log"
	"github.com/trcoder/trcoder/pkg/storage"
	"github.com/trcoder/trcoder/pkg/types"
)

// ErrDuplicateWebhook is returned when a provider event id is replayed
var ErrDuplicateWebhook = errors.New("webhook event already processed")

// webhookSeenTTL bounds the in-memory replay window. The ledger's duplicate
// check backstops anything older.
const webhookSeenTTL = 24 * time.Hour

// Gateway is the contract with the external subscription provider. The core
// never talks to the payment API directly.
type Gateway interface {
	// CurrentPlan returns the active billing plan id for an org
	CurrentPlan(orgID string) (string, error)
}

// StaticGateway answers CurrentPlan from a fixed map. Used in development
// and tests, and as the fallback when no payment provider is configured.
type StaticGateway struct {
	Plans       map[string]string
	DefaultPlan string
}

func (g *StaticGateway) CurrentPlan(orgID string) (string, error) {
	if plan, ok := g.Plans[orgID]; ok {
		return plan, nil
	}
	if g.DefaultPlan != "" {
		return g.DefaultPlan, nil
	}
	return "", fmt.Errorf("no plan for org %s", orgID)
}

// Transaction is one credit movement derived from the ledger
type Transaction struct {
	EventID   string    `json:"event_id"`
	TS        time.Time `json:"ts"`
	Type      string    `json:"type"`
	AmountUSD float64   `json:"amount_usd"`
	Reason    string    `json:"reason,omitempty"`
}

// Manager derives credit state from the ledger and guards the webhook
// surface against replays.
type Manager struct {
	store  storage.Store
	logger zerolog.Logger
	seen   *gocache.Cache
}

// NewManager creates a billing manager
func NewManager(store storage.Store) *Manager {
	return &Manager{
		store:  store,
		logger: log.WithComponent("billing"),
		seen:   gocache.New(webhookSeenTTL, 10*time.Minute),
	}
}

// GrantCredits appends a CREDIT_GRANTED event for an identity. The balance
// is never stored; it is recomputed from the ledger on demand.
func (m *Manager) GrantCredits(identity types.Identity, amountUSD float64, reason string) error {
	if amountUSD <= 0 {
		return fmt.Errorf("credit grant must be positive, got %f", amountUSD)
	}

	event := &types.LedgerEvent{
		EventID:   uuid.New().String(),
		TS:        time.Now(),
		OrgID:     identity.OrgID,
		UserID:    identity.UserID,
		EventType: types.EventCreditGranted,
		Payload: map[string]interface{}{
			"amount_usd": amountUSD,
			"reason":     reason,
		},
	}
	if err := m.store.AppendEvent(event); err != nil {
		return err
	}

	m.logger.Info().
		Str("org_id", identity.OrgID).
		Float64("amount_usd", amountUSD).
		Str("reason", reason).
		Msg("credits granted")
	return nil
}

// CreditBalance recomputes an org's remaining credits: grants minus
// consumption, floored at zero.
func (m *Manager) CreditBalance(orgID string) (float64, error) {
	events, err := m.store.AllEvents()
	if err != nil {
		return 0, err
	}

	var balance float64
	for _, e := range events {
		if e.OrgID != orgID {
			continue
		}
		switch e.EventType {
		case types.EventCreditGranted:
			balance += amountField(e, "amount_usd")
		case types.EventCreditConsumed:
			balance -= amountField(e, "amount_usd")
		}
	}
	if balance < 0 {
		balance = 0
	}
	return balance, nil
}

// Transactions lists an org's credit movements, oldest first
func (m *Manager) Transactions(orgID string) ([]*Transaction, error) {
	events, err := m.store.AllEvents()
	if err != nil {
		return nil, err
	}

	var txns []*Transaction
	for _, e := range events {
		if e.OrgID != orgID {
			continue
		}
		if e.EventType != types.EventCreditGranted && e.EventType != types.EventCreditConsumed {
			continue
		}
		reason, _ := e.Payload["reason"].(string)
		txns = append(txns, &Transaction{
			EventID:   e.EventID,
			TS:        e.TS,
			Type:      e.EventType,
			AmountUSD: amountField(e, "amount_usd"),
			Reason:    reason,
		})
	}
	return txns, nil
}

// RecordConsumption appends a CREDIT_CONSUMED event for credits applied to a
// model call. Zero amounts are a no-op.
func (m *Manager) RecordConsumption(identity types.Identity, runID string, amountUSD float64) error {
	if amountUSD <= 0 {
		return nil
	}
	event := &types.LedgerEvent{
		EventID:   uuid.New().String(),
		TS:        time.Now(),
		OrgID:     identity.OrgID,
		UserID:    identity.UserID,
		RunID:     runID,
		EventType: types.EventCreditConsumed,
		Payload: map[string]interface{}{
			"amount_usd": amountUSD,
		},
	}
	return m.store.AppendEvent(event)
}

// HandleWebhook processes one payment-provider event exactly once. The
// provider's own event id is the idempotency key; replays within the TTL
// window return ErrDuplicateWebhook.
func (m *Manager) HandleWebhook(providerEventID, eventType string, identity types.Identity, amountUSD float64) error {
	if providerEventID == "" {
		return fmt.Errorf("webhook event id required")
	}
	if _, dup := m.seen.Get(providerEventID); dup {
		return ErrDuplicateWebhook
	}
	m.seen.Set(providerEventID, struct{}{}, gocache.DefaultExpiration)

	switch eventType {
	case "credit_grant":
		return m.GrantCredits(identity, amountUSD, "webhook:"+providerEventID)
	case "subscription_renewed":
		m.logger.Info().
			Str("org_id", identity.OrgID).
			Str("provider_event_id", providerEventID).
			Msg("subscription renewed")
		return nil
	default:
		m.logger.Warn().
			Str("event_type", eventType).
			Msg("ignoring unknown webhook event type")
		return nil
	}
}

func amountField(e *types.LedgerEvent, key string) float64 {
	if v, ok := e.Payload[key].(float64); ok {
		return v
	}
	return 0
}
