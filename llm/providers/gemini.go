package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/curbtheory/curbside/llm"
)

// GeminiProvider implements the Gemini generateContent API.
type GeminiProvider struct{}

func init() {
	llm.RegisterProvider(&GeminiProvider{})
}

// Name returns the provider identifier.
func (g *GeminiProvider) Name() string {
	return "gemini"
}

// BuildURL constructs the generateContent endpoint. The model is part of
// the path for this API.
func (g *GeminiProvider) BuildURL(baseURL string, req llm.Request) string {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return fmt.Sprintf("%s/models/%s:generateContent", baseURL, req.Model)
}

// SetHeaders adds the Gemini API key header.
func (g *GeminiProvider) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		req.Header.Set("x-goog-api-key", apiKey)
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty"`
	TopK            *int     `json:"topK,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent        `json:"contents"`
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
	SafetySettings    []geminiSafetySetting  `json:"safetySettings"`
	Tools             []geminiTool           `json:"tools,omitempty"`
}

// permissiveSafetySettings disables Gemini's content filters. Traffic,
// event, and nightlife briefings trip the default thresholds constantly.
func permissiveSafetySettings() []geminiSafetySetting {
	categories := []string{
		"HARM_CATEGORY_HARASSMENT",
		"HARM_CATEGORY_HATE_SPEECH",
		"HARM_CATEGORY_SEXUALLY_EXPLICIT",
		"HARM_CATEGORY_DANGEROUS_CONTENT",
	}
	settings := make([]geminiSafetySetting, len(categories))
	for i, cat := range categories {
		settings[i] = geminiSafetySetting{Category: cat, Threshold: "BLOCK_NONE"}
	}
	return settings
}

// BuildRequestBody creates the generateContent request body.
func (g *GeminiProvider) BuildRequestBody(req llm.Request) ([]byte, error) {
	body := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt.User}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			TopK:            req.TopK,
			MaxOutputTokens: req.MaxTokens,
		},
		SafetySettings: permissiveSafetySettings(),
	}

	if req.Prompt.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.Prompt.System}}}
	}

	if req.Search {
		body.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
	}

	return json.Marshal(body)
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason      string `json:"finishReason"`
		GroundingMetadata struct {
			GroundingChunks []struct {
				Web struct {
					URI string `json:"uri"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// ParseResponse extracts text from a Gemini response. When the prompt
// requested JSON, the output is cleaned: fences stripped, first balanced
// object/array extracted, validated by parse. Cleanup failure falls back
// to the raw text.
func (g *GeminiProvider) ParseResponse(body []byte, req llm.Request) (*llm.Response, error) {
	var resp geminiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, llm.NewFatalError(fmt.Errorf("parse gemini response: %w", err))
	}

	if len(resp.Candidates) == 0 {
		return nil, llm.NewFatalError(fmt.Errorf("no candidates in gemini response"))
	}

	candidate := resp.Candidates[0]
	var text string
	for _, part := range candidate.Content.Parts {
		text += part.Text
	}

	if req.WantJSON {
		if cleaned := llm.CleanModelJSON(text); cleaned != "" {
			text = cleaned
		}
	}

	var citations []string
	for _, chunk := range candidate.GroundingMetadata.GroundingChunks {
		if chunk.Web.URI != "" {
			citations = append(citations, chunk.Web.URI)
		}
	}

	return &llm.Response{
		Text:      text,
		Citations: citations,
		Model:     resp.ModelVersion,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		},
		FinishReason: candidate.FinishReason,
	}, nil
}
