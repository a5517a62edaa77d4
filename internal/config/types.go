package config

import (
	"time"

	"alertpipe/internal/notify"
)

// Config is the full daemon configuration.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
// The file may be JSON or YAML; both go through the same strict decoder.
type Config struct {
	Logging LoggingConfig `json:"logging"`
	Ingest  IngestConfig  `json:"ingest,omitempty"`

	// Channels maps channel name -> per-channel profile.
	Channels map[string]ChannelConfig `json:"channels"`

	// Severities maps severity name -> routing/dedup rules.
	Severities map[string]SeverityConfig `json:"severities"`

	Circuit CircuitConfig  `json:"circuit,omitempty"`
	Dedup   DedupConfig    `json:"dedup,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// IngestConfig controls the daemon's HTTP ingest endpoint.
type IngestConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8480"
}

// ChannelConfig is one channel's static profile plus its transport settings.
type ChannelConfig struct {
	// Kind selects the sender implementation: "webhook", "telegram", "journal".
	Kind string `json:"kind"`

	Labels   []string `json:"labels,omitempty"`
	Priority int      `json:"priority,omitempty"`

	// MaxBytes is the hard size ceiling for the wire-ready payload.
	// 0 means unlimited.
	MaxBytes int `json:"max_bytes,omitempty"`
	// Degrade picks the over-ceiling strategy: "truncate", "tiered", "reject".
	Degrade string `json:"degrade,omitempty"`

	RatePerSec int `json:"rate_per_sec,omitempty"`

	// Fallback names the next channel to try when this one is exhausted.
	// Chains are validated cycle-free at load time.
	Fallback string `json:"fallback,omitempty"`

	Retry RetryConfig `json:"retry,omitempty"`

	// webhook
	URL       string `json:"url,omitempty"`
	AuthToken string `json:"auth_token,omitempty"` // do not log
	Timeout   string `json:"timeout,omitempty"`

	// telegram
	BotToken string `json:"bot_token,omitempty"` // do not log
	ChatID   int64  `json:"chat_id,omitempty"`
}

type RetryConfig struct {
	MaxAttempts    int     `json:"max_attempts,omitempty"`
	InitialBackoff string  `json:"initial_backoff,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty"`
	MaxBackoff     string  `json:"max_backoff,omitempty"`
	Jitter         float64 `json:"jitter,omitempty"`
}

// SeverityConfig is one severity's routing table and dedup window.
type SeverityConfig struct {
	RequiredLabels []string `json:"required_labels,omitempty"`
	PreferredOrder []string `json:"preferred_order,omitempty"`
	DedupTTL       string   `json:"dedup_ttl,omitempty"`
}

// CircuitConfig tunes the per-channel circuit breaker.
type CircuitConfig struct {
	FailureThreshold int    `json:"failure_threshold,omitempty"`
	SuccessThreshold int    `json:"success_threshold,omitempty"`
	OpenTimeout      string `json:"open_timeout,omitempty"`
}

// DedupConfig tunes the suppression cache.
type DedupConfig struct {
	MaxEntries int    `json:"max_entries,omitempty"`
	DefaultTTL string `json:"default_ttl,omitempty"`
	SweepEvery string `json:"sweep_every,omitempty"`
	// Persist enables cross-restart suppress-state via the storage section.
	Persist bool `json:"persist,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./alertpipe_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ---- compiled views ----

// Profile compiles a ChannelConfig into the pipeline's domain profile.
// Duration strings were validated at load; parse errors here fall back to
// defaults rather than failing a request.
func (c ChannelConfig) Profile(name string) notify.ChannelProfile {
	initial, _ := ParseDurationOrDefault("retry.initial_backoff", c.Retry.InitialBackoff, 500*time.Millisecond)
	maxB, _ := ParseDurationOrDefault("retry.max_backoff", c.Retry.MaxBackoff, 10*time.Second)

	strategy := notify.Strategy(c.Degrade)
	if strategy == "" {
		strategy = notify.StrategyTruncate
	}

	attempts := c.Retry.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}

	return notify.ChannelProfile{
		Name:       name,
		Labels:     append([]string(nil), c.Labels...),
		Priority:   c.Priority,
		MaxBytes:   c.MaxBytes,
		Strategy:   strategy,
		RatePerSec: c.RatePerSec,
		Fallback:   c.Fallback,
		Retry: notify.RetryPolicy{
			MaxAttempts:    attempts,
			InitialBackoff: initial,
			Multiplier:     c.Retry.Multiplier,
			MaxBackoff:     maxB,
			Jitter:         c.Retry.Jitter,
		},
	}
}

// DedupTTLFor resolves the dedup window for a severity, falling back to the
// config-wide default.
func (c *Config) DedupTTLFor(sev notify.Severity) time.Duration {
	def, _ := ParseDurationOrDefault("dedup.default_ttl", c.Dedup.DefaultTTL, 5*time.Minute)
	sc, ok := c.Severities[string(sev)]
	if !ok {
		return def
	}
	ttl, err := ParseDurationField("severities.dedup_ttl", sc.DedupTTL)
	if err != nil || ttl <= 0 {
		return def
	}
	return ttl
}

// MaxDedupTTL is the largest configured window; the sweeper uses 2x this as
// its staleness cutoff.
func (c *Config) MaxDedupTTL() time.Duration {
	max, _ := ParseDurationOrDefault("dedup.default_ttl", c.Dedup.DefaultTTL, 5*time.Minute)
	for _, sc := range c.Severities {
		if ttl, err := ParseDurationField("severities.dedup_ttl", sc.DedupTTL); err == nil && ttl > max {
			max = ttl
		}
	}
	return max
}
