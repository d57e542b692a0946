package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/curbtheory/curbside/llm"
)

// PerplexityProvider implements the Perplexity chat completions API.
// Perplexity models search the live web inherently; the Search flag has no
// extra wiring here.
type PerplexityProvider struct{}

func init() {
	llm.RegisterProvider(&PerplexityProvider{})
}

// Name returns the provider identifier.
func (p *PerplexityProvider) Name() string {
	return "perplexity"
}

// BuildURL constructs the chat completions endpoint.
func (p *PerplexityProvider) BuildURL(baseURL string, _ llm.Request) string {
	if baseURL == "" {
		baseURL = "https://api.perplexity.ai"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds Perplexity authentication headers.
func (p *PerplexityProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("PERPLEXITY_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type perplexityRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	Temperature *float64        `json:"temperature,omitempty"`
	TopP        *float64        `json:"top_p,omitempty"`
	TopK        *int            `json:"top_k,omitempty"`
	MaxTokens   *int            `json:"max_tokens,omitempty"`
}

// BuildRequestBody creates the Perplexity request body (OpenAI-compatible
// message shape plus top_k).
func (p *PerplexityProvider) BuildRequestBody(req llm.Request) ([]byte, error) {
	var messages []openAIMessage
	if req.Prompt.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.Prompt.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt.User})

	body := perplexityRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		TopK:        req.TopK,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = &req.MaxTokens
	}

	return json.Marshal(body)
}

type perplexityResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Citations     []string `json:"citations"`
	SearchResults []struct {
		URL string `json:"url"`
	} `json:"search_results"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ParseResponse extracts content and citations from a Perplexity response.
// Older responses carry a top-level citations array; newer ones use
// search_results. Both are honored.
func (p *PerplexityProvider) ParseResponse(body []byte, _ llm.Request) (*llm.Response, error) {
	var resp perplexityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("parse perplexity response: %w", err))
	}

	if len(resp.Choices) == 0 {
		return nil, llm.NewFatalError(fmt.Errorf("no choices in perplexity response"))
	}

	citations := resp.Citations
	if len(citations) == 0 {
		for _, sr := range resp.SearchResults {
			if sr.URL != "" {
				citations = append(citations, sr.URL)
			}
		}
	}

	return &llm.Response{
		Text:      resp.Choices[0].Message.Content,
		Citations: citations,
		Model:     resp.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: resp.Choices[0].FinishReason,
	}, nil
}
