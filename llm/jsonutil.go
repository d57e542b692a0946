package llm

import (
	"encoding/json"
	"strings"
)

// JSON cleanup for model output. Gemini in particular wraps JSON in fenced
// code blocks and pads it with prose; callers that asked for JSON want the
// first balanced object or array, validated by an actual parse.

// CleanModelJSON extracts a parseable JSON object or array from raw model
// output. It strips fenced code blocks, scans for the first balanced
// `{...}` or `[...]`, and validates the candidate by parsing. Returns ""
// when no valid JSON is found; callers fall back to the raw text.
func CleanModelJSON(raw string) string {
	s := StripFences(raw)

	candidate := extractBalanced(s)
	if candidate == "" {
		return ""
	}
	if !json.Valid([]byte(candidate)) {
		// Models commonly leave trailing commas; one repair pass is cheap.
		repaired := stripTrailingCommas(candidate)
		if !json.Valid([]byte(repaired)) {
			return ""
		}
		return repaired
	}
	return candidate
}

// StripFences removes markdown code fences (``` or ```json) wrapping the
// content, leaving the inner text. Text without fences is returned as-is.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}

	// Drop the opening fence line (``` or ```json etc.).
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		trimmed = trimmed[idx+1:]
	} else {
		return s
	}

	// Drop the closing fence if present.
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

// extractBalanced returns the first balanced {...} or [...] substring,
// respecting string literals and escapes. Returns "" when none is found.
func extractBalanced(s string) string {
	start := -1
	var open, close byte
	for i := 0; i < len(s); i++ {
		if s[i] == '{' {
			start, open, close = i, '{', '}'
			break
		}
		if s[i] == '[' {
			start, open, close = i, '[', ']'
			break
		}
	}
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
			// Brackets inside string values don't count.
		case ch == open:
			depth++
		case ch == close:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

// stripTrailingCommas removes `,` immediately preceding `}` or `]`,
// outside of string literals.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			b.WriteByte(ch)
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			b.WriteByte(ch)
			continue
		}
		if ch == '"' {
			inString = !inString
			b.WriteByte(ch)
			continue
		}
		if !inString && ch == ',' {
			// Look ahead past whitespace for a closer.
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(ch)
	}
	return b.String()
}
