package providers

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curbtheory/curbside/llm"
)

func TestPerplexityProvider_BuildURL(t *testing.T) {
	p := &PerplexityProvider{}
	assert.Equal(t, "https://api.perplexity.ai/chat/completions", p.BuildURL("", llm.Request{}))
	assert.Equal(t, "http://127.0.0.1:9999/chat/completions", p.BuildURL("http://127.0.0.1:9999", llm.Request{}))
}

func TestPerplexityProvider_BuildRequestBody(t *testing.T) {
	p := &PerplexityProvider{}
	topK := 10

	body, err := p.BuildRequestBody(llm.Request{
		Model:     "sonar-pro",
		Prompt:    llm.Prompt{System: "be terse", User: "traffic?"},
		MaxTokens: 300,
		TopK:      &topK,
	})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "sonar-pro", got["model"])
	assert.Equal(t, float64(10), got["top_k"])
	assert.Equal(t, float64(300), got["max_tokens"])
	assert.Len(t, got["messages"].([]any), 2)
}

func TestPerplexityProvider_ParseResponse(t *testing.T) {
	p := &PerplexityProvider{}

	t.Run("top-level citations preferred", func(t *testing.T) {
		body := `{
			"model": "sonar-pro",
			"choices": [{"message": {"content": "roads clear"}, "finish_reason": "stop"}],
			"citations": ["https://example.com/a"],
			"search_results": [{"url": "https://example.com/b"}]
		}`

		resp, err := p.ParseResponse([]byte(body), llm.Request{})
		require.NoError(t, err)
		assert.Equal(t, "roads clear", resp.Text)
		assert.Equal(t, []string{"https://example.com/a"}, resp.Citations)
	})

	t.Run("search_results fallback", func(t *testing.T) {
		body := `{
			"choices": [{"message": {"content": "roads clear"}}],
			"search_results": [{"url": "https://example.com/b"}]
		}`

		resp, err := p.ParseResponse([]byte(body), llm.Request{})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://example.com/b"}, resp.Citations)
	})

	t.Run("no choices is fatal", func(t *testing.T) {
		_, err := p.ParseResponse([]byte(`{"choices":[]}`), llm.Request{})
		require.Error(t, err)
		assert.True(t, llm.IsFatal(err))
	})
}
