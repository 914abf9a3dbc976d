package classify

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiBackend serves gemini-* models through the Google GenAI API.
type GeminiBackend struct {
	client *genai.Client
}

// NewGeminiBackend creates the client once; it is reused for every request
// in a run.
func NewGeminiBackend(ctx context.Context, apiKey string) (*GeminiBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiBackend{client: client}, nil
}

func (g *GeminiBackend) ClassifyFrame(ctx context.Context, req VisionRequest) (*VisionResponse, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleModel),
		Temperature:       genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens:   int32(req.TokenLimit),
		ResponseMIMEType:  "application/json",
	}

	parts := []*genai.Part{
		genai.NewPartFromBytes(req.Image, req.ImageMIME),
		genai.NewPartFromText(req.UserMessage),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	return parseVisionJSON(resp.Text())
}

func (g *GeminiBackend) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleModel),
		Temperature:       genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens:   int32(req.TokenLimit),
	}

	contents := []*genai.Content{genai.NewContentFromText(req.UserMessage, genai.RoleUser)}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty model response")
	}
	return text, nil
}

func (g *GeminiBackend) Close() error {
	// The genai client manages its resources automatically.
	return nil
}
