package config

import (
	"fmt"
	"strings"
)

var knownKinds = map[string]bool{
	"webhook":  true,
	"telegram": true,
	"journal":  true,
}

var knownStrategies = map[string]bool{
	"":         true, // defaults to truncate
	"truncate": true,
	"tiered":   true,
	"reject":   true,
}

// Validate rejects configurations the pipeline cannot safely run with.
// It runs at startup and before every hot-reload commit, so a broken edit
// keeps the previous snapshot instead of poisoning live routing.
func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("config: at least one channel is required")
	}

	for name, ch := range c.Channels {
		if !knownKinds[strings.ToLower(strings.TrimSpace(ch.Kind))] {
			return fmt.Errorf("config: channel %q: unknown kind %q", name, ch.Kind)
		}
		if !knownStrategies[strings.ToLower(strings.TrimSpace(ch.Degrade))] {
			return fmt.Errorf("config: channel %q: unknown degrade strategy %q", name, ch.Degrade)
		}
		if ch.Fallback != "" {
			if _, ok := c.Channels[ch.Fallback]; !ok {
				return fmt.Errorf("config: channel %q: fallback %q does not exist", name, ch.Fallback)
			}
		}
		if _, err := ParseDurationField(fmt.Sprintf("channels.%s.retry.initial_backoff", name), ch.Retry.InitialBackoff); err != nil {
			return err
		}
		if _, err := ParseDurationField(fmt.Sprintf("channels.%s.retry.max_backoff", name), ch.Retry.MaxBackoff); err != nil {
			return err
		}
		if ch.Retry.Jitter < 0 || ch.Retry.Jitter >= 1 {
			if ch.Retry.Jitter != 0 {
				return fmt.Errorf("config: channel %q: jitter must be in [0, 1)", name)
			}
		}
	}

	// The fallback chain is a linked list, not a graph: a cycle here would
	// spin delivery forever, so it is a startup error, never a runtime one.
	if err := c.checkFallbackCycles(); err != nil {
		return err
	}

	for name, sc := range c.Severities {
		if _, err := ParseDurationField(fmt.Sprintf("severities.%s.dedup_ttl", name), sc.DedupTTL); err != nil {
			return err
		}
		for _, ref := range sc.PreferredOrder {
			if _, ok := c.Channels[ref]; !ok {
				return fmt.Errorf("config: severity %q: preferred_order references unknown channel %q", name, ref)
			}
		}
	}

	if _, err := ParseDurationField("dedup.default_ttl", c.Dedup.DefaultTTL); err != nil {
		return err
	}
	if _, err := ParseDurationField("dedup.sweep_every", c.Dedup.SweepEvery); err != nil {
		return err
	}
	if _, err := ParseDurationField("circuit.open_timeout", c.Circuit.OpenTimeout); err != nil {
		return err
	}
	return nil
}

func (c *Config) checkFallbackCycles() error {
	for start := range c.Channels {
		seen := map[string]bool{start: true}
		cur := c.Channels[start].Fallback
		for cur != "" {
			if seen[cur] {
				return fmt.Errorf("config: fallback cycle detected starting at channel %q (revisits %q)", start, cur)
			}
			seen[cur] = true
			next, ok := c.Channels[cur]
			if !ok {
				break // dangling ref already reported above
			}
			cur = next.Fallback
		}
	}
	return nil
}
