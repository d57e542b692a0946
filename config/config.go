// Package config provides configuration loading for the curbside service.
// Defaults are overlaid by an optional YAML file, then by environment
// variables; configuration is fixed for the lifetime of the process.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/curbtheory/curbside/llm"
	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server   ServerConfig            `yaml:"server"`
	Database DatabaseConfig          `yaml:"database"`
	Blocks   BlocksConfig            `yaml:"blocks"`
	Roles    map[string]RoleSettings `yaml:"roles"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address (default ":8080").
	Addr string `yaml:"addr"`
	// ReadHeaderTimeout bounds header reads on inbound connections.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
}

// DatabaseConfig configures Postgres connectivity.
type DatabaseConfig struct {
	// URL is the pooled connection string used for regular queries.
	URL string `yaml:"url"`
	// NotifyURL is the session-pinned connection string for LISTEN/NOTIFY.
	// Empty means derive it from URL (rewriting pooler hosts).
	NotifyURL string `yaml:"notify_url"`
}

// BlocksConfig configures the bounded worker pool for heavy generation jobs.
type BlocksConfig struct {
	// Concurrency is the maximum number of jobs running at once.
	Concurrency int `yaml:"concurrency"`
	// Timeout is the per-job wall-clock deadline.
	Timeout time.Duration `yaml:"timeout"`
}

// RoleSettings holds per-role model parameters. Pointer fields distinguish
// "unset" from explicit zero so providers can omit defaults.
type RoleSettings struct {
	Model           string   `yaml:"model"`
	MaxTokens       int      `yaml:"max_tokens"`
	Temperature     *float64 `yaml:"temperature"`
	TopP            *float64 `yaml:"top_p"`
	TopK            *int     `yaml:"top_k"`
	ReasoningEffort string   `yaml:"reasoning_effort"`
	// Search enables the provider's live-search tool. nil = role default
	// (on for briefer and consolidator).
	Search *bool `yaml:"search"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
		},
		Blocks: BlocksConfig{
			Concurrency: 4,
			Timeout:     30 * time.Second,
		},
		Roles: make(map[string]RoleSettings),
	}
}

// searchDefaultRoles are search-enabled unless explicitly disabled.
var searchDefaultRoles = map[string]bool{
	string(llm.RoleBriefer):      true,
	string(llm.RoleConsolidator): true,
}

// RoleConfigs converts configured role settings into dispatcher form,
// applying the search-enabled defaults.
func (c *Config) RoleConfigs() map[llm.Role]llm.RoleConfig {
	out := make(map[llm.Role]llm.RoleConfig, len(c.Roles))
	for name, rs := range c.Roles {
		search := searchDefaultRoles[name]
		if rs.Search != nil {
			search = *rs.Search
		}
		out[llm.Role(name)] = llm.RoleConfig{
			Model:           rs.Model,
			MaxTokens:       rs.MaxTokens,
			Temperature:     rs.Temperature,
			TopP:            rs.TopP,
			TopK:            rs.TopK,
			ReasoningEffort: rs.ReasoningEffort,
			SearchEnabled:   search,
		}
	}
	return out
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url is required (DATABASE_URL)")
	}
	if c.Blocks.Concurrency < 1 {
		return fmt.Errorf("blocks.concurrency must be at least 1")
	}
	if c.Blocks.Timeout <= 0 {
		return fmt.Errorf("blocks.timeout must be positive")
	}
	for name, rs := range c.Roles {
		if rs.Model == "" {
			return fmt.Errorf("role %s: model is required", name)
		}
		if llm.ProviderForModel(rs.Model) == "" {
			return fmt.Errorf("role %s: unrecognized model %q", name, rs.Model)
		}
	}
	return nil
}

// Merge overlays non-zero fields of other onto c.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.Server.Addr != "" {
		c.Server.Addr = other.Server.Addr
	}
	if other.Server.ReadHeaderTimeout != 0 {
		c.Server.ReadHeaderTimeout = other.Server.ReadHeaderTimeout
	}
	if other.Database.URL != "" {
		c.Database.URL = other.Database.URL
	}
	if other.Database.NotifyURL != "" {
		c.Database.NotifyURL = other.Database.NotifyURL
	}
	if other.Blocks.Concurrency != 0 {
		c.Blocks.Concurrency = other.Blocks.Concurrency
	}
	if other.Blocks.Timeout != 0 {
		c.Blocks.Timeout = other.Blocks.Timeout
	}
	for name, rs := range other.Roles {
		merged := c.Roles[name]
		if rs.Model != "" {
			merged.Model = rs.Model
		}
		if rs.MaxTokens != 0 {
			merged.MaxTokens = rs.MaxTokens
		}
		if rs.Temperature != nil {
			merged.Temperature = rs.Temperature
		}
		if rs.TopP != nil {
			merged.TopP = rs.TopP
		}
		if rs.TopK != nil {
			merged.TopK = rs.TopK
		}
		if rs.ReasoningEffort != "" {
			merged.ReasoningEffort = rs.ReasoningEffort
		}
		if rs.Search != nil {
			merged.Search = rs.Search
		}
		c.Roles[name] = merged
	}
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{Roles: make(map[string]RoleSettings)}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}
