// Package config loads the per-tenant behavioral configuration described
// in spec.md §4.9: debounce timing, typing-indicator simulation, natural
// delay jitter, and the LLM-facing tenant profile (communication style,
// project description, target audience). Grounded on the donor's
// internal/config package: plain structs decoded with gopkg.in/yaml.v3,
// defaults and clamps applied once, right after decode.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TenantConfig is one tenant's complete behavioral profile.
type TenantConfig struct {
	WaitTimeBeforeReplyingMS int    `yaml:"wait_time_before_replying_ms"`
	CheckIntervalMS          int    `yaml:"check_interval_ms"`
	TypingIndicatorEnabled   bool   `yaml:"typing_indicator_enabled"`
	MinTypingDurationMS      int    `yaml:"min_typing_duration_ms"`
	MaxTypingDurationMS      int    `yaml:"max_typing_duration_ms"`
	NaturalDelaysEnabled     bool   `yaml:"natural_delays_enabled"`
	DelayVariancePercent     int    `yaml:"delay_variance_percent"`
	NaturalizeEnabled        bool   `yaml:"naturalize_enabled"`
	CommunicationStyle       string `yaml:"communication_style"`
	ProjectDescription       string `yaml:"project_description"`
	TargetAudience           string `yaml:"target_audience"`
}

// Bounds, mirroring SPEC_FULL.md §4.9's tenant config defaults/clamps.
const (
	defaultWaitMS  = 60000
	minWaitMS      = 100
	maxWaitMS      = 120000
	defaultCheckMS = 5000

	defaultMinTypingMS = 1000
	defaultMaxTypingMS = 8000

	defaultVariancePercent = 20
	minVariancePercent     = 0
	maxVariancePercent     = 100
)

// Default returns a TenantConfig with every field at its documented
// default, suitable as a base before decoding tenant overrides on top.
func Default() TenantConfig {
	return TenantConfig{
		WaitTimeBeforeReplyingMS: defaultWaitMS,
		CheckIntervalMS:          defaultCheckMS,
		TypingIndicatorEnabled:   true,
		MinTypingDurationMS:      defaultMinTypingMS,
		MaxTypingDurationMS:      defaultMaxTypingMS,
		NaturalDelaysEnabled:     true,
		DelayVariancePercent:     defaultVariancePercent,
		NaturalizeEnabled:        false,
	}
}

// Load reads and decodes a tenant config file, applying defaults for any
// zero-valued field and clamping every bounded field (spec.md §4.9).
func Load(path string) (TenantConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TenantConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML bytes into a TenantConfig, applying the same
// defaulting and clamping Load does.
func Parse(data []byte) (TenantConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return TenantConfig{}, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.applyDefaultsAndClamps()
	return cfg, nil
}

func (c *TenantConfig) applyDefaultsAndClamps() {
	if c.WaitTimeBeforeReplyingMS == 0 {
		c.WaitTimeBeforeReplyingMS = defaultWaitMS
	}
	c.WaitTimeBeforeReplyingMS = clamp(c.WaitTimeBeforeReplyingMS, minWaitMS, maxWaitMS)

	if c.CheckIntervalMS == 0 {
		c.CheckIntervalMS = defaultCheckMS
	}
	if c.MinTypingDurationMS == 0 {
		c.MinTypingDurationMS = defaultMinTypingMS
	}
	if c.MaxTypingDurationMS == 0 {
		c.MaxTypingDurationMS = defaultMaxTypingMS
	}
	if c.MaxTypingDurationMS < c.MinTypingDurationMS {
		c.MaxTypingDurationMS = c.MinTypingDurationMS
	}
	if c.DelayVariancePercent == 0 {
		c.DelayVariancePercent = defaultVariancePercent
	}
	c.DelayVariancePercent = clamp(c.DelayVariancePercent, minVariancePercent, maxVariancePercent)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
