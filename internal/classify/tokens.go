package classify

import "strings"

// TokenParam is the wire name a model family expects for its output-length
// cap.
type TokenParam string

const (
	TokenParamMaxTokens           TokenParam = "max_tokens"
	TokenParamMaxCompletionTokens TokenParam = "max_completion_tokens"
)

// ModelCapabilities describes per-model-family request quirks, resolved
// once when a backend is constructed instead of at each call site.
type ModelCapabilities struct {
	TokenParam TokenParam
}

// capabilityRegistry maps model-name prefixes to their capabilities.
// Longest matching prefix wins; unknown prefixes default to max_tokens.
var capabilityRegistry = []struct {
	prefix string
	caps   ModelCapabilities
}{
	{prefix: "gpt-5", caps: ModelCapabilities{TokenParam: TokenParamMaxCompletionTokens}},
	{prefix: "o1", caps: ModelCapabilities{TokenParam: TokenParamMaxCompletionTokens}},
	{prefix: "gpt-4", caps: ModelCapabilities{TokenParam: TokenParamMaxTokens}},
	{prefix: "gemini", caps: ModelCapabilities{TokenParam: TokenParamMaxTokens}},
}

// CapabilitiesFor resolves the capabilities for a configured model name.
func CapabilitiesFor(model string) ModelCapabilities {
	best := ModelCapabilities{TokenParam: TokenParamMaxTokens}
	bestLen := -1
	for _, entry := range capabilityRegistry {
		if strings.HasPrefix(model, entry.prefix) && len(entry.prefix) > bestLen {
			best = entry.caps
			bestLen = len(entry.prefix)
		}
	}
	return best
}

// IsGeminiModel reports whether the model is served by the Gemini backend;
// everything else goes through the OpenAI-compatible backend.
func IsGeminiModel(model string) bool {
	return strings.HasPrefix(model, "gemini")
}
