package orchestrator

import (
	"context"

	"github.com/trcoder/trcoder/pkg/cost"
	"github.com/trcoder/trcoder/pkg/provider"
	"github.com/trcoder/trcoder/pkg/redact"
	"github.com/trcoder/trcoder/pkg/router"
	"github.com/trcoder/trcoder/pkg/types"
)

// ChatRequest is the one-turn chat body. History rides along; the server
// keeps no conversation state.
type ChatRequest struct {
	Messages []provider.ChatMessage `json:"messages"`
	Lane     string                 `json:"lane,omitempty"`
}

// ChatResponse is the routed chat answer with its cost record
type ChatResponse struct {
	Content      string  `json:"content"`
	Model        string  `json:"model"`
	TokensIn     int     `json:"tokens_in"`
	TokensOut    int     `json:"tokens_out"`
	OurChargeUSD float64 `json:"our_charge_usd"`
}

// Chat routes a one-turn conversation through the router and provider layer.
// Outbound message content is redacted before it reaches the model; the call
// is billed through the same ledger path as patch generation.
func (o *Orchestrator) Chat(ctx context.Context, identity types.Identity, projectID string, req *ChatRequest) (*ChatResponse, error) {
	if len(req.Messages) == 0 {
		return nil, newError(KindValidation, "messages are required")
	}

	lane := req.Lane
	if lane == "" {
		lane = o.cfg.LanePolicy.DefaultLane
	}

	decision := router.Decide(o.cfg, router.Input{
		TaskType: "chat",
		Lane:     lane,
		Risk:     types.RiskLevel(o.cfg.RiskPolicy.DefaultRisk),
	})

	messages := make([]provider.ChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = provider.ChatMessage{Role: m.Role, Content: redact.String(m.Content)}
	}

	o.appendLedger(identity, projectID, "", "", "", types.EventLLMCallStarted, map[string]interface{}{
		"model": decision.SelectedModel,
		"kind":  "chat",
	})

	resp, resolution, err := o.factory.Chat(ctx, decision.SelectedModel, &provider.ChatRequest{
		Messages: messages,
	})
	if err != nil {
		return nil, newError(KindProviderUnavailable, "chat failed: %v", err)
	}

	tokensIn, tokensOut := resp.Usage.TokensIn, resp.Usage.TokensOut
	if !resp.Usage.Reported {
		tokensIn = decision.ExpectedTokens / 2
		tokensOut = decision.ExpectedTokens - tokensIn
	}

	credits, err := o.billing.CreditBalance(identity.OrgID)
	if err != nil {
		credits = 0
	}
	breakdown := cost.CalculateCost(o.cfg, resolution.Model, identity.BillingPlan, tokensIn, tokensOut, credits)

	payload := breakdown.Payload()
	payload["task_type"] = "chat"
	payload["lane"] = lane
	o.appendLedger(identity, projectID, "", "", "", types.EventLLMCallFinished, payload)
	o.billing.RecordConsumption(identity, "", breakdown.CreditsAppliedUSD)

	return &ChatResponse{
		Content:      resp.Content,
		Model:        resolution.Model,
		TokensIn:     tokensIn,
		TokensOut:    tokensOut,
		OurChargeUSD: breakdown.OurChargeUSD,
	}, nil
}
