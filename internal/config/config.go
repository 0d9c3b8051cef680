package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// GuardConfig holds loop-guard tuning: dedup cache size, backoff curve and
// per-project daily ceilings.
type GuardConfig struct {
	DedupCacheSize    int     `json:"dedup_cache_size"`
	DedupTTLSeconds   int     `json:"dedup_ttl_seconds"`
	BackoffBaseMs     int64   `json:"backoff_base_ms"`
	BackoffMaxMs      int64   `json:"backoff_max_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	BackoffJitter     bool    `json:"backoff_jitter"`
	DailyQuestionCap  int     `json:"daily_question_cap"`
	DailyExploreCap   int     `json:"daily_explore_cap"`
}

// BudgetConfig holds the context token budget and pruning thresholds.
type BudgetConfig struct {
	MaxContextTokens   int `json:"max_context_tokens"`
	PruneProtectTurns  int `json:"prune_protect_turns"`
	PruneProtectTokens int `json:"prune_protect_tokens"`
	PruneMinimumTokens int `json:"prune_minimum_tokens"`
}

// Config represents runtime configuration
type Config struct {
	MaxSteps          int          `json:"max_steps"`
	HistoryWindow     int          `json:"history_window"`
	MaxBatchSize      int          `json:"max_batch_size"`
	AuxLLMTimeoutSecs int          `json:"aux_llm_timeout_seconds"`
	Budget            BudgetConfig `json:"budget"`
	Guard             GuardConfig  `json:"guard"`
	LogLevel          string       `json:"log_level"` // debug, info, warn, error, none
	LogPath           string       `json:"-"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		MaxSteps:          20,
		HistoryWindow:     6,
		MaxBatchSize:      10,
		AuxLLMTimeoutSecs: 30,
		Budget: BudgetConfig{
			MaxContextTokens:   100_000,
			PruneProtectTurns:  2,
			PruneProtectTokens: 10_000,
			PruneMinimumTokens: 5_000,
		},
		Guard: GuardConfig{
			DedupCacheSize:    256,
			DedupTTLSeconds:   1800,
			BackoffBaseMs:     1000,
			BackoffMaxMs:      60_000,
			BackoffMultiplier: 2.0,
			BackoffJitter:     true,
			DailyQuestionCap:  50,
			DailyExploreCap:   200,
		},
		LogLevel: "info",
	}
}

// AuxLLMTimeout returns the bounded timeout for auxiliary LLM calls
// (compaction and large-result compression).
func (c *Config) AuxLLMTimeout() time.Duration {
	if c.AuxLLMTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.AuxLLMTimeoutSecs) * time.Second
}

// Load reads configuration from path, filling unset fields with defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.normalize()
	return cfg, nil
}

// Save writes configuration to path as indented JSON.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// normalize clamps nonsensical values back to defaults
func (c *Config) normalize() {
	def := DefaultConfig()
	if c.MaxSteps <= 0 {
		c.MaxSteps = def.MaxSteps
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = def.HistoryWindow
	}
	if c.MaxBatchSize <= 0 || c.MaxBatchSize > def.MaxBatchSize {
		c.MaxBatchSize = def.MaxBatchSize
	}
	if c.Budget.MaxContextTokens <= 0 {
		c.Budget.MaxContextTokens = def.Budget.MaxContextTokens
	}
	if c.Budget.PruneProtectTurns <= 0 {
		c.Budget.PruneProtectTurns = def.Budget.PruneProtectTurns
	}
	if c.Budget.PruneProtectTokens <= 0 {
		c.Budget.PruneProtectTokens = def.Budget.PruneProtectTokens
	}
	if c.Budget.PruneMinimumTokens <= 0 {
		c.Budget.PruneMinimumTokens = def.Budget.PruneMinimumTokens
	}
	if c.Guard.DedupCacheSize <= 0 {
		c.Guard.DedupCacheSize = def.Guard.DedupCacheSize
	}
	if c.Guard.BackoffBaseMs <= 0 {
		c.Guard.BackoffBaseMs = def.Guard.BackoffBaseMs
	}
	if c.Guard.BackoffMaxMs < c.Guard.BackoffBaseMs {
		c.Guard.BackoffMaxMs = def.Guard.BackoffMaxMs
	}
	if c.Guard.BackoffMultiplier < 1 {
		c.Guard.BackoffMultiplier = def.Guard.BackoffMultiplier
	}
	if c.Guard.DailyQuestionCap < 0 {
		c.Guard.DailyQuestionCap = def.Guard.DailyQuestionCap
	}
	if c.Guard.DailyExploreCap < 0 {
		c.Guard.DailyExploreCap = def.Guard.DailyExploreCap
	}
}
