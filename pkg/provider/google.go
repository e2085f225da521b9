package provider

import (
	"context"
	"errors"

	"google.golang.org/genai"
)

// Google implements Provider via the Gemini API
type Google struct {
	client *genai.Client
}

// NewGoogle constructs a Google provider from an API key
func NewGoogle(ctx context.Context, apiKey string) (*Google, error) {
	if apiKey == "" {
		return nil, errors.New("google api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return &Google{client: client}, nil
}

func (g *Google) Name() string {
	return "google"
}

func (g *Google) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var contents []*genai.Content
	for _, m := range req.Messages {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, g.wrapError(err)
	}

	out := &ChatResponse{
		Content: resp.Text(),
		Model:   req.Model,
	}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			TokensIn:  int(resp.UsageMetadata.PromptTokenCount),
			TokensOut: int(resp.UsageMetadata.CandidatesTokenCount),
			Reported:  true,
		}
	}
	return out, nil
}

func (g *Google) GeneratePatch(ctx context.Context, req *PatchRequest) (*PatchResult, error) {
	resp, err := g.Chat(ctx, patchChatRequest(req))
	if err != nil {
		return nil, err
	}
	return parsePatchResponse(resp), nil
}

func (g *Google) HealthCheck(ctx context.Context) error {
	_, err := g.client.Models.List(ctx, nil)
	if err != nil {
		return g.wrapError(err)
	}
	return nil
}

func (g *Google) wrapError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusError(g.Name(), apiErr.Code, err)
	}
	return newError(g.Name(), KindProvider, true, err)
}
