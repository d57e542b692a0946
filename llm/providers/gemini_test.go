package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curbtheory/curbside/llm"
)

func TestGeminiProvider_BuildURL(t *testing.T) {
	p := &GeminiProvider{}

	got := p.BuildURL("", llm.Request{Model: "gemini-2.5-flash"})
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:generateContent",
		got)

	got = p.BuildURL("http://127.0.0.1:9999/", llm.Request{Model: "gemini-2.5-flash"})
	assert.Equal(t, "http://127.0.0.1:9999/models/gemini-2.5-flash:generateContent", got)
}

func TestGeminiProvider_BuildRequestBody(t *testing.T) {
	p := &GeminiProvider{}
	temp := 0.4
	topK := 40

	body, err := p.BuildRequestBody(llm.Request{
		Model:       "gemini-2.5-flash",
		Prompt:      llm.Prompt{System: "be terse", User: "traffic?"},
		MaxTokens:   1000,
		Temperature: &temp,
		TopK:        &topK,
		Search:      true,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))

	gen := got["generationConfig"].(map[string]any)
	assert.Equal(t, 0.4, gen["temperature"])
	assert.Equal(t, float64(40), gen["topK"])
	assert.Equal(t, float64(1000), gen["maxOutputTokens"])

	assert.Contains(t, got, "systemInstruction")

	// All four harm categories disabled.
	settings := got["safetySettings"].([]any)
	require.Len(t, settings, 4)
	for _, s := range settings {
		assert.Equal(t, "BLOCK_NONE", s.(map[string]any)["threshold"])
	}

	tools := got["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Contains(t, tools[0].(map[string]any), "google_search")
}

func TestGeminiProvider_BuildRequestBody_NoSearch(t *testing.T) {
	p := &GeminiProvider{}

	body, err := p.BuildRequestBody(llm.Request{
		Model:  "gemini-2.5-flash",
		Prompt: llm.Prompt{User: "traffic?"},
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.NotContains(t, got, "tools")
	assert.NotContains(t, got, "systemInstruction")
}

func TestGeminiProvider_ParseResponse(t *testing.T) {
	p := &GeminiProvider{}

	t.Run("concatenates parts", func(t *testing.T) {
		body := `{
			"candidates": [{
				"content": {"parts": [{"text": "stage "}, {"text": "downtown"}]},
				"finishReason": "STOP"
			}],
			"modelVersion": "gemini-2.5-flash"
		}`

		resp, err := p.ParseResponse([]byte(body), llm.Request{})
		require.NoError(t, err)
		assert.Equal(t, "stage downtown", resp.Text)
		assert.Equal(t, "STOP", resp.FinishReason)
	})

	t.Run("cleans fenced json when requested", func(t *testing.T) {
		body := `{
			"candidates": [{
				"content": {"parts": [{"text": "` + "```json\\n{\\\"a\\\":1}\\n```" + `"}]}
			}]
		}`

		resp, err := p.ParseResponse([]byte(body), llm.Request{WantJSON: true})
		require.NoError(t, err)
		assert.Equal(t, `{"a":1}`, resp.Text)
	})

	t.Run("cleanup failure falls back to raw text", func(t *testing.T) {
		body := `{
			"candidates": [{
				"content": {"parts": [{"text": "no json here at all"}]}
			}]
		}`

		resp, err := p.ParseResponse([]byte(body), llm.Request{WantJSON: true})
		require.NoError(t, err)
		assert.Equal(t, "no json here at all", resp.Text)
	})

	t.Run("grounding chunks become citations", func(t *testing.T) {
		body := `{
			"candidates": [{
				"content": {"parts": [{"text": "busy tonight"}]},
				"groundingMetadata": {
					"groundingChunks": [
						{"web": {"uri": "https://example.com/a"}},
						{"web": {"uri": ""}}
					]
				}
			}]
		}`

		resp, err := p.ParseResponse([]byte(body), llm.Request{})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://example.com/a"}, resp.Citations)
	})

	t.Run("no candidates is fatal", func(t *testing.T) {
		_, err := p.ParseResponse([]byte(`{"candidates":[]}`), llm.Request{})
		require.Error(t, err)
		assert.True(t, llm.IsFatal(err))
	})
}
