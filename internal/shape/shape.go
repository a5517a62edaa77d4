// Package shape degrades alert content to fit a channel's hard size ceiling.
//
// Size is always measured on the final wire-ready encoding (the JSON body a
// sender will transmit), never on an intermediate representation. Shaping
// runs after sanitization and authorization, so redacted secrets and hidden
// actions never consume size budget.
package shape

import (
	"encoding/json"
	"errors"
	"fmt"

	"alertpipe/internal/notify"
)

// ErrOverLimit is returned by the "reject" strategy, and by the others when
// even the most aggressive degradation cannot fit the ceiling.
var ErrOverLimit = errors.New("shape: payload exceeds channel ceiling")

const truncationMarker = "…[truncated]"

// Payload is the wire form of a shaped notification.
type Payload struct {
	CorrelationID string          `json:"correlation_id"`
	Alert         string          `json:"alert"`
	Severity      notify.Severity `json:"severity"`
	Summary       string          `json:"summary,omitempty"`
	RootCause     string          `json:"root_cause,omitempty"`
	Actions       []notify.Action `json:"actions,omitempty"`
	DetailURL     string          `json:"detail_url,omitempty"`
	Unverified    bool            `json:"unverified,omitempty"`
	Truncated     bool            `json:"truncated,omitempty"`
}

// Input is the post-sanitization, post-authorization content to encode.
type Input struct {
	CorrelationID string
	Severity      notify.Severity
	Content       notify.Content
	// Unverified propagates the authorizer's fail-open flag so the recipient
	// side can disclaim.
	Unverified bool
}

// Shaped carries the final encoding plus what was done to get there.
type Shaped struct {
	Body    []byte
	Size    int
	Reduced bool // some degradation was applied
}

// Shape encodes in and, if the encoding exceeds ceiling, degrades it
// according to strategy. ceiling <= 0 means unlimited.
func Shape(in Input, ceiling int, strategy notify.Strategy) (Shaped, error) {
	p := Payload{
		CorrelationID: in.CorrelationID,
		Alert:         in.Content.AlertName,
		Severity:      in.Severity,
		Summary:       in.Content.Summary,
		RootCause:     in.Content.RootCause,
		Actions:       append([]notify.Action(nil), in.Content.Actions...),
		DetailURL:     in.Content.DetailURL,
		Unverified:    in.Unverified,
	}

	body, err := json.Marshal(p)
	if err != nil {
		return Shaped{}, fmt.Errorf("shape: encode: %w", err)
	}
	if ceiling <= 0 || len(body) <= ceiling {
		return Shaped{Body: body, Size: len(body)}, nil
	}

	switch strategy {
	case notify.StrategyTruncate:
		return truncate(p, ceiling)
	case notify.StrategyTiered:
		return tiered(p, ceiling)
	case notify.StrategyReject:
		return Shaped{}, fmt.Errorf("%w: %d > %d bytes", ErrOverLimit, len(body), ceiling)
	default:
		// Unknown strategy is a per-channel configuration error.
		return Shaped{}, fmt.Errorf("shape: unknown strategy %q", strategy)
	}
}

// truncate trims the longest free-text field first, appending a marker, and
// repeats until the encoding fits. If free text alone is not enough it sheds
// trailing actions (keeping at least one).
func truncate(p Payload, ceiling int) (Shaped, error) {
	p.Truncated = true
	for {
		body, err := json.Marshal(p)
		if err != nil {
			return Shaped{}, fmt.Errorf("shape: encode: %w", err)
		}
		if len(body) <= ceiling {
			return Shaped{Body: body, Size: len(body), Reduced: true}, nil
		}
		over := len(body) - ceiling

		switch {
		case len(p.Summary) >= len(p.RootCause) && p.Summary != "":
			p.Summary = shrink(p.Summary, over)
		case p.RootCause != "":
			p.RootCause = shrink(p.RootCause, over)
		case len(p.Actions) > 1:
			p.Actions = p.Actions[:len(p.Actions)-1]
		default:
			return Shaped{}, fmt.Errorf("%w: %d > %d bytes after truncation", ErrOverLimit, len(body), ceiling)
		}
	}
}

// tiered replaces the content with a fixed-size header: alert name, severity,
// primary hypothesis and at least one recommended action, plus a reference
// link to full detail. Those four fields survive any ceiling this side of
// absurd; only the hypothesis text shrinks.
func tiered(p Payload, ceiling int) (Shaped, error) {
	hypothesis := p.RootCause
	if hypothesis == "" {
		hypothesis = p.Summary
	}
	var action []notify.Action
	if len(p.Actions) > 0 {
		action = p.Actions[:1]
	}

	hdr := Payload{
		CorrelationID: p.CorrelationID,
		Alert:         p.Alert,
		Severity:      p.Severity,
		Summary:       hypothesis,
		Actions:       action,
		DetailURL:     p.DetailURL,
		Unverified:    p.Unverified,
		Truncated:     true,
	}

	for {
		body, err := json.Marshal(hdr)
		if err != nil {
			return Shaped{}, fmt.Errorf("shape: encode: %w", err)
		}
		if len(body) <= ceiling {
			return Shaped{Body: body, Size: len(body), Reduced: true}, nil
		}
		if hdr.Summary == "" {
			return Shaped{}, fmt.Errorf("%w: tiered header alone is %d > %d bytes", ErrOverLimit, len(body), ceiling)
		}
		hdr.Summary = shrink(hdr.Summary, len(body)-ceiling)
	}
}

// shrink removes at least over bytes from the end of s (rune-safe) and
// appends the truncation marker. Returns "" once nothing useful is left.
func shrink(s string, over int) string {
	if over < 16 {
		over = 16
	}
	keep := len(s) - over - len(truncationMarker)
	if keep <= 0 {
		return ""
	}
	// Back up to a rune boundary.
	for keep > 0 && s[keep]&0xC0 == 0x80 {
		keep--
	}
	if keep <= 0 {
		return ""
	}
	return s[:keep] + truncationMarker
}
