// Package notify holds the shared domain types of the delivery pipeline.
//
// It is the "kit" package: every stage (sanitize, authz, selector, shape,
// dedup, deliver) speaks these types, and none of them import each other.
package notify

import "time"

// Severity ranks an alert. Channel selection, dedup TTLs and shaping all key
// off it.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Action is one operator-performable step offered alongside an alert.
// Hidden actions are dropped from the payload entirely, never rendered
// disabled.
type Action struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Content is the raw alert content bundle carried by a request.
type Content struct {
	AlertName string   `json:"alert"`
	Summary   string   `json:"summary,omitempty"`
	RootCause string   `json:"root_cause,omitempty"`
	DetailURL string   `json:"detail_url,omitempty"`
	Actions   []Action `json:"actions,omitempty"`
}

// Clone returns a deep copy. The pipeline works on copies so the caller's
// request is never mutated.
func (c Content) Clone() Content {
	cp := c
	if len(c.Actions) > 0 {
		cp.Actions = append([]Action(nil), c.Actions...)
	}
	return cp
}

// NotificationRequest is one inbound "tell this human about this alert".
// Treated as immutable by the pipeline.
type NotificationRequest struct {
	Recipient     string   `json:"recipient"`
	Channels      []string `json:"channels"`
	Severity      Severity `json:"severity"`
	Content       Content  `json:"content"`
	CorrelationID string   `json:"correlation_id,omitempty"`
}

// Strategy picks how oversized content is degraded to fit a channel ceiling.
type Strategy string

const (
	StrategyTruncate Strategy = "truncate"
	StrategyTiered   Strategy = "tiered"
	StrategyReject   Strategy = "reject"
)

// RetryPolicy controls per-channel retry behavior.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	// Jitter is the +/- fraction applied to each computed backoff (0.3 means
	// the sleep lands anywhere in [0.7d, 1.3d]).
	Jitter float64
}

// ChannelProfile is the static per-channel config the pipeline consumes.
type ChannelProfile struct {
	Name       string
	Labels     []string
	Priority   int
	MaxBytes   int
	Strategy   Strategy
	RatePerSec int
	Fallback   string // next channel when this one is exhausted ("" = none)
	Retry      RetryPolicy
}

// HasLabels reports whether the profile's label set is a superset of want.
func (p ChannelProfile) HasLabels(want []string) bool {
	if len(want) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(p.Labels))
	for _, l := range p.Labels {
		set[l] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// Status is the final per-channel verdict of a delivery attempt chain.
type Status string

const (
	StatusDelivered          Status = "delivered"
	StatusFailed             Status = "failed"
	StatusSkippedDuplicate   Status = "skipped-duplicate"
	StatusSkippedCircuitOpen Status = "skipped-circuit-open"
)

// DeliveryOutcome records what happened on one channel.
type DeliveryOutcome struct {
	Channel  string        `json:"channel"`
	Attempts int           `json:"attempts"`
	Status   Status        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}
