// Package transport defines the narrow seam between the delivery executor
// and concrete channel senders (webhook, telegram, journal, ...).
//
// Senders transmit an already-shaped, wire-ready payload. Rendering into
// channel-native markup is a downstream concern and not done here.
package transport

import (
	"context"
	"fmt"
	"sync"

	"alertpipe/internal/notify"
)

// Payload is the shaped message handed to a sender.
type Payload struct {
	CorrelationID string
	Severity      notify.Severity
	// Body is the final wire-ready encoding produced by the shaper. Senders
	// transmit it as-is; its size was already validated against the channel
	// ceiling.
	Body []byte
}

// Sender delivers one payload to one recipient over one channel.
// Implementations must honor ctx and return rather than panic.
type Sender interface {
	Send(ctx context.Context, recipient string, p Payload) error
}

// SendError carries an HTTP-ish status code so the executor can classify
// transient (timeout, 5xx, 429) vs permanent (other 4xx) failures.
type SendError struct {
	StatusCode int
	Err        error
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("send failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("send failed (status %d)", e.StatusCode)
}

func (e *SendError) Unwrap() error { return e.Err }

// Registry maps channel names to senders. Safe for concurrent use; the
// daemon rebuilds entries on config reload.
type Registry struct {
	mu      sync.RWMutex
	senders map[string]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: map[string]Sender{}}
}

func (r *Registry) Register(name string, s Sender) {
	if name == "" || s == nil {
		return
	}
	r.mu.Lock()
	r.senders[name] = s
	r.mu.Unlock()
}

func (r *Registry) Lookup(name string) (Sender, bool) {
	r.mu.RLock()
	s, ok := r.senders[name]
	r.mu.RUnlock()
	return s, ok
}

// Names returns the registered channel names (unordered).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.senders))
	for n := range r.senders {
		out = append(out, n)
	}
	return out
}
