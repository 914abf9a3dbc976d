package classify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// OpenAIBackend serves gpt-* models through an OpenAI-compatible
// chat-completions endpoint. The token-parameter name is resolved once
// from the model capability registry and carried on every request.
type OpenAIBackend struct {
	baseURL    string
	apiKey     string
	tokenParam TokenParam
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOpenAIBackend(baseURL, apiKey, model string, logger *slog.Logger) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}

	return &OpenAIBackend{
		baseURL:    baseURL,
		apiKey:     apiKey,
		tokenParam: CapabilitiesFor(model).TokenParam,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIBackend) ClassifyFrame(ctx context.Context, req VisionRequest) (*VisionResponse, error) {
	imageURL := fmt.Sprintf("data:%s;base64,%s", req.ImageMIME, base64.StdEncoding.EncodeToString(req.Image))

	body := map[string]any{
		"model": req.Model,
		"messages": []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: []map[string]any{
				{"type": "text", "text": req.UserMessage},
				{"type": "image_url", "image_url": map[string]any{"url": imageURL}},
			}},
		},
		"temperature":     req.Temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	body[string(c.tokenParam)] = req.TokenLimit

	content, err := c.complete(ctx, body)
	if err != nil {
		return nil, err
	}
	return parseVisionJSON(content)
}

func (c *OpenAIBackend) GenerateText(ctx context.Context, req TextRequest) (string, error) {
	body := map[string]any{
		"model": req.Model,
		"messages": []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.UserMessage},
		},
		"temperature": req.Temperature,
	}
	body[string(c.tokenParam)] = req.TokenLimit

	content, err := c.complete(ctx, body)
	if err != nil {
		return "", err
	}
	if content == "" {
		return "", fmt.Errorf("empty model response")
	}
	return content, nil
}

func (c *OpenAIBackend) complete(ctx context.Context, body map[string]any) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal chat payload: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("cannot parse chat response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("chat response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func (c *OpenAIBackend) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
