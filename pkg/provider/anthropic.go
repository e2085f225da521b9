package provider

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens = 8192

// Anthropic implements Provider on top of the Claude Messages API
type Anthropic struct {
	client sdk.Client
}

// NewAnthropic constructs an Anthropic provider from an API key
func NewAnthropic(apiKey string) (*Anthropic, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	return &Anthropic{client: sdk.NewClient(option.WithAPIKey(apiKey))}, nil
}

func (a *Anthropic) Name() string {
	return "anthropic"
}

func (a *Anthropic) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokensOr(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		if m.Role == RoleAssistant {
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		} else {
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, a.wrapError(err)
	}

	var content string
	for _, block := range msg.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return &ChatResponse{
		Content: content,
		Model:   req.Model,
		Usage: Usage{
			TokensIn:  int(msg.Usage.InputTokens),
			TokensOut: int(msg.Usage.OutputTokens),
			Reported:  msg.Usage.InputTokens != 0 || msg.Usage.OutputTokens != 0,
		},
	}, nil
}

func (a *Anthropic) GeneratePatch(ctx context.Context, req *PatchRequest) (*PatchResult, error) {
	resp, err := a.Chat(ctx, patchChatRequest(req))
	if err != nil {
		return nil, err
	}
	return parsePatchResponse(resp), nil
}

func (a *Anthropic) HealthCheck(ctx context.Context) error {
	_, err := a.client.Models.List(ctx, sdk.ModelListParams{})
	if err != nil {
		return a.wrapError(err)
	}
	return nil
}

func (a *Anthropic) wrapError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		return statusError(a.Name(), apierr.StatusCode, err)
	}
	// Transport faults are retryable.
	return newError(a.Name(), KindProvider, true, err)
}

func maxTokensOr(requested int) int {
	if requested > 0 {
		return requested
	}
	return defaultMaxTokens
}
