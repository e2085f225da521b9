package provider

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAI implements Provider via the Chat Completions API
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI constructs an OpenAI provider from an API key
func NewOpenAI(apiKey string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	return &OpenAI{client: openai.NewClient(apiKey)}, nil
}

func (o *OpenAI) Name() string {
	return "openai"
}

func (o *OpenAI) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		return nil, o.wrapError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, newError(o.Name(), KindProvider, false, errors.New("empty completion"))
	}

	return &ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Model:   req.Model,
		Usage: Usage{
			TokensIn:  resp.Usage.PromptTokens,
			TokensOut: resp.Usage.CompletionTokens,
			Reported:  resp.Usage.TotalTokens > 0,
		},
	}, nil
}

func (o *OpenAI) GeneratePatch(ctx context.Context, req *PatchRequest) (*PatchResult, error) {
	resp, err := o.Chat(ctx, patchChatRequest(req))
	if err != nil {
		return nil, err
	}
	return parsePatchResponse(resp), nil
}

func (o *OpenAI) HealthCheck(ctx context.Context) error {
	_, err := o.client.ListModels(ctx)
	if err != nil {
		return o.wrapError(err)
	}
	return nil
}

func (o *OpenAI) wrapError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError(o.Name(), apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return statusError(o.Name(), reqErr.HTTPStatusCode, err)
	}
	return newError(o.Name(), KindProvider, true, err)
}
