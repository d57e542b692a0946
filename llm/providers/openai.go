// Package providers implements model provider adapters.
package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/curbtheory/curbside/llm"
)

// OpenAIProvider implements the OpenAI chat completions API.
type OpenAIProvider struct{}

func init() {
	llm.RegisterProvider(&OpenAIProvider{})
}

// Name returns the provider identifier.
func (o *OpenAIProvider) Name() string {
	return "openai"
}

// BuildURL constructs the chat completions endpoint.
func (o *OpenAIProvider) BuildURL(baseURL string, _ llm.Request) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}
	return baseURL + "/chat/completions"
}

// SetHeaders adds OpenAI authentication headers.
func (o *OpenAIProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model               string          `json:"model"`
	Messages            []openAIMessage `json:"messages"`
	Temperature         *float64        `json:"temperature,omitempty"`
	TopP                *float64        `json:"top_p,omitempty"`
	MaxTokens           *int            `json:"max_tokens,omitempty"`
	MaxCompletionTokens *int            `json:"max_completion_tokens,omitempty"`
	ReasoningEffort     string          `json:"reasoning_effort,omitempty"`
	WebSearchOptions    *struct{}       `json:"web_search_options,omitempty"`
}

// isReasoningModel reports whether the model is in OpenAI's reasoning
// family. Those models reject temperature/top_p and use
// max_completion_tokens instead of max_tokens.
func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	return strings.HasPrefix(m, "o1") ||
		strings.HasPrefix(m, "o3") ||
		strings.HasPrefix(m, "o4") ||
		strings.HasPrefix(m, "gpt-5")
}

// BuildRequestBody creates the OpenAI request body. Reasoning-model
// parameter quirks live here, not in the dispatcher.
func (o *OpenAIProvider) BuildRequestBody(req llm.Request) ([]byte, error) {
	var messages []openAIMessage
	if req.Prompt.System != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.Prompt.System})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt.User})

	body := openAIRequest{
		Model:    req.Model,
		Messages: messages,
	}

	if isReasoningModel(req.Model) {
		if req.MaxTokens > 0 {
			body.MaxCompletionTokens = &req.MaxTokens
		}
		body.ReasoningEffort = req.ReasoningEffort
	} else {
		body.Temperature = req.Temperature
		body.TopP = req.TopP
		if req.MaxTokens > 0 {
			body.MaxTokens = &req.MaxTokens
		}
	}

	if req.Search {
		body.WebSearchOptions = &struct{}{}
	}

	return json.Marshal(body)
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role        string `json:"role"`
			Content     string `json:"content"`
			Annotations []struct {
				Type        string `json:"type"`
				URLCitation struct {
					URL string `json:"url"`
				} `json:"url_citation"`
			} `json:"annotations"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// ParseResponse extracts content and citations from an OpenAI response.
func (o *OpenAIProvider) ParseResponse(body []byte, _ llm.Request) (*llm.Response, error) {
	var resp openAIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("parse openai response: %w", err))
	}

	if len(resp.Choices) == 0 {
		return nil, llm.NewFatalError(fmt.Errorf("no choices in openai response"))
	}

	choice := resp.Choices[0]
	var citations []string
	for _, ann := range choice.Message.Annotations {
		if ann.Type == "url_citation" && ann.URLCitation.URL != "" {
			citations = append(citations, ann.URLCitation.URL)
		}
	}

	return &llm.Response{
		Text:      choice.Message.Content,
		Citations: citations,
		Model:     resp.Model,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: choice.FinishReason,
	}, nil
}
