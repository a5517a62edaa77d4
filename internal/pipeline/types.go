package pipeline

import (
	"time"

	"alertpipe/internal/notify"
	"alertpipe/internal/sanitize"
)

// Result is the structured, per-request answer. It is always populated, even
// when Submit also returns an error: failure detail lives in Outcomes, never
// in a panic or a bare error string.
type Result struct {
	CorrelationID string    `json:"correlation_id"`
	At            time.Time `json:"at"`

	Delivered bool `json:"delivered"`

	// Suppressed is set when the dedup window swallowed the send.
	Suppressed      bool   `json:"suppressed,omitempty"`
	SuppressReason  string `json:"suppress_reason,omitempty"`
	SuppressedCount int    `json:"suppressed_count,omitempty"`

	// Unverified: the recipient could not be resolved, authorization was
	// bypassed and the payload says so. Callers should disclaim.
	Unverified bool `json:"unverified,omitempty"`

	// Findings report what the sanitizer redacted (patterns and counts only,
	// never values).
	Findings []sanitize.Finding `json:"findings,omitempty"`

	// Warnings flag degraded processing (fail-open routing, oracle errors)
	// for audit. None of them block delivery.
	Warnings []string `json:"warnings,omitempty"`

	Outcomes []notify.DeliveryOutcome `json:"outcomes,omitempty"`
}
