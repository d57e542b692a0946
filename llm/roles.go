package llm

import "strings"

// Role identifies a logical producer in the generation pipeline. Roles are
// resolved to concrete model identifiers at configuration time; nothing in
// this package hardcodes a model.
type Role string

const (
	RoleStrategist     Role = "strategist"
	RoleBriefer        Role = "briefer"
	RoleConsolidator   Role = "consolidator"
	RoleVenueGenerator Role = "venue_generator"
	RoleHoliday        Role = "holiday"
)

// Roles lists every dispatchable role.
func Roles() []Role {
	return []Role{RoleStrategist, RoleBriefer, RoleConsolidator, RoleVenueGenerator, RoleHoliday}
}

// RoleConfig holds the per-role model parameters read from configuration.
// Pointer fields distinguish "unset, use provider default" from an explicit
// zero; providers omit unset parameters from the request body.
type RoleConfig struct {
	// Model is the concrete model identifier (e.g. "gpt-5-mini",
	// "claude-haiku-4-5", "gemini-2.5-flash", "sonar-pro").
	Model string

	// MaxTokens limits response length. 0 uses the provider default.
	MaxTokens int

	// Temperature controls randomness. nil uses the provider default.
	Temperature *float64

	// TopP is nucleus sampling. nil uses the provider default.
	TopP *float64

	// TopK limits sampling candidates. nil uses the provider default.
	// Only Gemini-family models accept it; others ignore it.
	TopK *int

	// ReasoningEffort is a hint for reasoning-capable models
	// ("low", "medium", "high"). Empty means unset.
	ReasoningEffort string

	// SearchEnabled turns on the provider's live-search tool when the
	// provider supports one. Default on for briefer and consolidator.
	SearchEnabled bool
}

// ProviderForModel maps a model identifier prefix to a provider family name.
// Unknown prefixes return "".
func ProviderForModel(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"),
		strings.HasPrefix(m, "o1"),
		strings.HasPrefix(m, "o3"),
		strings.HasPrefix(m, "o4"),
		strings.HasPrefix(m, "chatgpt"):
		return "openai"
	case strings.HasPrefix(m, "claude"):
		return "anthropic"
	case strings.HasPrefix(m, "gemini"):
		return "gemini"
	case strings.HasPrefix(m, "sonar"),
		strings.HasPrefix(m, "pplx"),
		strings.HasPrefix(m, "perplexity"):
		return "perplexity"
	default:
		return ""
	}
}
