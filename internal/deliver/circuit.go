package deliver

import (
	"strings"
	"sync"
	"time"
)

// Phase is the circuit breaker state for one channel.
type Phase string

const (
	PhaseClosed   Phase = "closed"
	PhaseOpen     Phase = "open"
	PhaseHalfOpen Phase = "half-open"
)

// Thresholds tune the per-channel circuit breaker. Read from config per
// request so hot reloads apply.
type Thresholds struct {
	// FailureThreshold consecutive failures flip Closed -> Open.
	FailureThreshold int
	// SuccessThreshold consecutive Half-Open successes flip back to Closed.
	SuccessThreshold int
	// OpenTimeout is how long an Open circuit blocks before allowing one
	// Half-Open probe.
	OpenTimeout time.Duration
}

func (t Thresholds) withDefaults() Thresholds {
	if t.FailureThreshold <= 0 {
		t.FailureThreshold = 5
	}
	if t.SuccessThreshold <= 0 {
		t.SuccessThreshold = 1
	}
	if t.OpenTimeout <= 0 {
		t.OpenTimeout = time.Minute
	}
	return t
}

// circuit tracks one channel. Transitions:
//   - Closed -> Open after FailureThreshold consecutive failures.
//   - Open -> Half-Open once OpenTimeout has elapsed since the last failure.
//   - Half-Open -> Closed after SuccessThreshold consecutive successes.
//   - Any Half-Open failure reopens immediately.
type circuit struct {
	phase       Phase
	fails       int
	successes   int // half-open only
	lastFailure time.Time
}

// Breaker is the process-wide circuit store, keyed by channel name. It is
// injected into the executor (not ambient state) so test scenarios stay
// isolated. Channel I/O never happens under its lock.
type Breaker struct {
	mu  sync.Mutex
	m   map[string]*circuit
	now func() time.Time
}

type BreakerOption func(*Breaker)

// WithBreakerClock injects a manual clock (tests).
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = now }
}

func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{m: map[string]*circuit{}, now: time.Now}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Breaker) get(key string) *circuit {
	st := b.m[key]
	if st == nil {
		st = &circuit{phase: PhaseClosed}
		b.m[key] = st
	}
	return st
}

// Allow reports whether an attempt on key may proceed right now. An Open
// circuit whose timeout elapsed transitions to Half-Open and admits one
// probe.
func (b *Breaker) Allow(key string, th Thresholds) (bool, Phase) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, PhaseClosed
	}
	th = th.withDefaults()

	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(key)

	switch st.phase {
	case PhaseOpen:
		if b.now().Sub(st.lastFailure) >= th.OpenTimeout {
			st.phase = PhaseHalfOpen
			st.successes = 0
			return true, PhaseHalfOpen
		}
		return false, PhaseOpen
	case PhaseHalfOpen:
		return true, PhaseHalfOpen
	default:
		return true, PhaseClosed
	}
}

// RecordSuccess feeds a successful send into the circuit.
func (b *Breaker) RecordSuccess(key string, th Thresholds) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	th = th.withDefaults()

	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(key)

	switch st.phase {
	case PhaseHalfOpen:
		st.successes++
		if st.successes >= th.SuccessThreshold {
			*st = circuit{phase: PhaseClosed}
		}
	default:
		st.fails = 0
	}
}

// RecordFailure feeds an exhausted delivery into the circuit.
func (b *Breaker) RecordFailure(key string, th Thresholds) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	th = th.withDefaults()

	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.get(key)
	now := b.now()

	switch st.phase {
	case PhaseHalfOpen:
		// One failed probe reopens immediately.
		st.phase = PhaseOpen
		st.successes = 0
		st.lastFailure = now
	case PhaseOpen:
		st.lastFailure = now
	default:
		st.fails++
		st.lastFailure = now
		if st.fails >= th.FailureThreshold {
			st.phase = PhaseOpen
		}
	}
}

// Phase returns the current phase for key (Closed for unknown keys).
func (b *Breaker) Phase(key string) Phase {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.m[key]
	if st == nil {
		return PhaseClosed
	}
	return st.phase
}

// Snapshot reports total and currently-open circuits, for status surfaces.
func (b *Breaker) Snapshot() (total, open int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	total = len(b.m)
	for _, st := range b.m {
		if st.phase == PhaseOpen {
			open++
		}
	}
	return total, open
}
