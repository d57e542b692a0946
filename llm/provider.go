package llm

import (
	"net/http"
	"sync"
)

// Prompt is a system/user message pair. Every pipeline call is a single
// exchange; there is no multi-turn history.
type Prompt struct {
	System string
	User   string
}

// Request is the provider-facing call description built by the dispatcher.
type Request struct {
	// Model is the concrete model identifier to send to the provider.
	Model string

	Prompt Prompt

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int

	// Temperature is nil to use the provider default. Providers whose model
	// rejects temperature (reasoning models) drop it silently.
	Temperature *float64

	// TopP is nil to use the provider default.
	TopP *float64

	// TopK is nil to use the provider default. Only Gemini accepts it.
	TopK *int

	// ReasoningEffort is a hint for reasoning-capable models. Empty = unset.
	ReasoningEffort string

	// Search enables the provider's live-search tool when available.
	Search bool

	// WantJSON marks that the prompt asked for JSON output, enabling
	// provider-side response cleanup (fence stripping, balanced extraction).
	WantJSON bool
}

// Response contains the normalized result of a provider call.
type Response struct {
	// Text is the generated output. Never empty on success; an empty body
	// is surfaced as an error by the dispatcher.
	Text string

	// Citations lists source URLs returned by search-enabled providers.
	Citations []string

	// Model is the model the provider reports having used.
	Model string

	// Usage contains token consumption when the provider reports it.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string
}

// TokenUsage represents token consumption details for a call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Provider defines the interface for model provider implementations.
// Parameter quirks (max_completion_tokens, temperature-less reasoning
// models, safety settings) belong inside the variant, never in the
// dispatcher.
type Provider interface {
	// Name returns the provider family identifier ("openai", "anthropic",
	// "gemini", "perplexity").
	Name() string

	// BuildURL constructs the full API endpoint URL. baseURL overrides the
	// provider default when non-empty; req is available for providers that
	// encode the model in the path.
	BuildURL(baseURL string, req Request) string

	// SetHeaders adds provider-specific auth headers to the request.
	SetHeaders(httpReq *http.Request)

	// BuildRequestBody creates the JSON request body for the provider.
	BuildRequestBody(req Request) ([]byte, error)

	// ParseResponse extracts the normalized response from provider JSON.
	ParseResponse(body []byte, req Request) (*Response, error)
}

// providerRegistry holds registered providers.
var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered provider names.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	return names
}
