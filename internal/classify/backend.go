package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/genai"
)

// VisionRequest is one frame-classification request to an external vision
// model.
type VisionRequest struct {
	Model       string
	System      string
	UserMessage string
	Image       []byte
	ImageMIME   string
	TokenLimit  int
	Temperature float64
}

// VisionResponse is the structured classification the model returns.
type VisionResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Note       string  `json:"note,omitempty"`
}

// TextRequest is a text-generation request (narrative report mode).
type TextRequest struct {
	Model       string
	System      string
	UserMessage string
	TokenLimit  int
	Temperature float64
}

// Backend is the narrow contract to an external model service. Backends
// are safe for concurrent use within one pipeline run.
type Backend interface {
	ClassifyFrame(ctx context.Context, req VisionRequest) (*VisionResponse, error)
	GenerateText(ctx context.Context, req TextRequest) (string, error)
	Close() error
}

// APIError is a non-2xx response from a model endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("model request failed: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for rate limiting (429), server errors (5xx)
// and nothing else; client errors are permanent.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Transient reports whether an external-call error is worth retrying:
// network errors, HTTP 429 and HTTP 5xx.
func Transient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return genaiErr.Code == 429 || genaiErr.Code >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// parseVisionJSON validates a model reply against the structured response
// contract. Markdown code fences around the JSON are tolerated.
func parseVisionJSON(text string) (*VisionResponse, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var resp VisionResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("non-JSON model response: %w", err)
	}
	if resp.Label == "" {
		return nil, fmt.Errorf("model response missing label")
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, fmt.Errorf("model confidence %f outside [0,1]", resp.Confidence)
	}
	return &resp, nil
}
