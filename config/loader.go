package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/curbtheory/curbside/llm"
)

// Loader handles configuration loading with layered precedence.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load loads configuration with layered precedence:
// 1. Defaults
// 2. YAML file (when path is non-empty)
// 3. Environment variables (STRATEGY_<ROLE>*, DATABASE_URL, ...)
func (l *Loader) Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		fileCfg, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config file", "path", path)
		cfg.Merge(fileCfg)
	}

	l.applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto cfg.
func (l *Loader) applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Addr = ":" + v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("DATABASE_NOTIFY_URL"); v != "" {
		cfg.Database.NotifyURL = v
	}
	if v := os.Getenv("BLOCKS_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Blocks.Concurrency = n
		} else {
			l.logger.Warn("Invalid BLOCKS_CONCURRENCY, keeping default", "value", v)
		}
	}
	if v := os.Getenv("BLOCKS_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Blocks.Timeout = time.Duration(n) * time.Millisecond
		} else {
			l.logger.Warn("Invalid BLOCKS_TIMEOUT_MS, keeping default", "value", v)
		}
	}

	for _, role := range llm.Roles() {
		l.applyRoleEnv(cfg, string(role))
	}
}

// roleEnvKey builds the environment key for a role setting, e.g.
// ("venue_generator", "MAX_TOKENS") -> "STRATEGY_VENUE_GENERATOR_MAX_TOKENS".
func roleEnvKey(role, suffix string) string {
	key := "STRATEGY_" + strings.ToUpper(role)
	if suffix != "" {
		key += "_" + suffix
	}
	return key
}

func (l *Loader) applyRoleEnv(cfg *Config, role string) {
	rs := cfg.Roles[role]
	changed := false

	if v := os.Getenv(roleEnvKey(role, "")); v != "" {
		rs.Model = v
		changed = true
	}
	if v := os.Getenv(roleEnvKey(role, "MAX_TOKENS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rs.MaxTokens = n
			changed = true
		} else {
			l.logger.Warn("Invalid role max tokens", "role", role, "value", v)
		}
	}
	if v := os.Getenv(roleEnvKey(role, "TEMPERATURE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rs.Temperature = &f
			changed = true
		} else {
			l.logger.Warn("Invalid role temperature", "role", role, "value", v)
		}
	}
	if v := os.Getenv(roleEnvKey(role, "TOP_P")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rs.TopP = &f
			changed = true
		} else {
			l.logger.Warn("Invalid role top_p", "role", role, "value", v)
		}
	}
	if v := os.Getenv(roleEnvKey(role, "TOP_K")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			rs.TopK = &n
			changed = true
		} else {
			l.logger.Warn("Invalid role top_k", "role", role, "value", v)
		}
	}
	if v := os.Getenv(roleEnvKey(role, "REASONING_EFFORT")); v != "" {
		rs.ReasoningEffort = v
		changed = true
	}
	if v := os.Getenv(roleEnvKey(role, "SEARCH")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			rs.Search = &b
			changed = true
		} else {
			l.logger.Warn("Invalid role search flag", "role", role, "value", v)
		}
	}

	if changed {
		cfg.Roles[role] = rs
	}
}

// Describe returns a one-line summary of configured roles for startup logs.
func Describe(cfg *Config) string {
	if len(cfg.Roles) == 0 {
		return "no roles configured"
	}
	parts := make([]string, 0, len(cfg.Roles))
	for _, role := range llm.Roles() {
		if rs, ok := cfg.Roles[string(role)]; ok {
			parts = append(parts, fmt.Sprintf("%s=%s", role, rs.Model))
		}
	}
	return strings.Join(parts, " ")
}
