// Package deliver executes channel sends under retry, per-channel circuit
// breaking and fallback chaining.
package deliver

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"alertpipe/internal/eventbus"
	"alertpipe/internal/notify"
	"alertpipe/internal/transport"
	logx "alertpipe/pkg/logx"
)

const defaultSendTimeout = 10 * time.Second

// Request is one delivery job: an ordered primary channel list plus the
// hooks needed to walk fallback chains lazily.
type Request struct {
	CorrelationID string
	Recipient     string
	// Channels is the selector's ordered output.
	Channels []notify.ChannelProfile
	// ProfileOf resolves a fallback reference to its profile. Unknown names
	// fail only that step of the chain.
	ProfileOf func(name string) (notify.ChannelProfile, bool)
	// Payload shapes content for one channel. Shaping errors (reject
	// strategy, unknown strategy) fail that channel without touching its
	// circuit.
	Payload func(ch notify.ChannelProfile) (transport.Payload, error)
	// Thresholds for the circuit breaker, snapshotted from config.
	Thresholds Thresholds
}

// Executor wraps sends in retry + circuit + fallback. It is safe for
// concurrent use; independent requests run in parallel workers and only the
// breaker and limiter maps are shared. Channel I/O happens outside any lock.
type Executor struct {
	senders *transport.Registry
	breaker *Breaker
	log     logx.Logger
	bus     eventbus.Bus

	// sleep is the retry pause, injectable so tests observe the computed
	// backoff instead of waiting it out. Must honor ctx.
	sleep func(ctx context.Context, d time.Duration) error

	sendTimeout time.Duration

	limiters *limiterPool
}

type ExecutorOption func(*Executor)

// WithSleep replaces the retry pause (tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

func WithBus(bus eventbus.Bus) ExecutorOption {
	return func(e *Executor) { e.bus = bus }
}

func WithSendTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) { e.sendTimeout = d }
}

func NewExecutor(senders *transport.Registry, breaker *Breaker, log logx.Logger, opts ...ExecutorOption) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	if breaker == nil {
		breaker = NewBreaker()
	}
	e := &Executor{
		senders:     senders,
		breaker:     breaker,
		log:         log,
		sleep:       sleepCtx,
		sendTimeout: defaultSendTimeout,
		limiters:    newLimiterPool(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Breaker exposes the injected circuit store (status surfaces, tests).
func (e *Executor) Breaker() *Breaker { return e.breaker }

// Deliver walks the channel list in order; a failed or skipped channel
// advances to its fallback before the next primary is considered. The first
// successful send wins. When everything is exhausted the full outcome list
// comes back with delivered=false — never an abort.
//
// A cancelled ctx abandons remaining retries and fallback steps immediately
// and returns whatever outcomes were gathered; sends already dispatched are
// not undone (at-least-once).
func (e *Executor) Deliver(ctx context.Context, req Request) (outcomes []notify.DeliveryOutcome, delivered bool) {
	visited := map[string]bool{}

	for _, primary := range req.Channels {
		ch, ok := primary, true
		for ok {
			if visited[ch.Name] {
				break
			}
			visited[ch.Name] = true

			out, sent := e.attemptChannel(ctx, ch, req)
			outcomes = append(outcomes, out)
			if sent {
				return outcomes, true
			}
			if ctx.Err() != nil {
				return outcomes, false
			}

			// Walk the fallback chain. Cycles were rejected at config load;
			// visited guards against stale references anyway.
			if ch.Fallback == "" || req.ProfileOf == nil {
				break
			}
			next, found := req.ProfileOf(ch.Fallback)
			if !found {
				if !visited[ch.Fallback] {
					visited[ch.Fallback] = true
					outcomes = append(outcomes, notify.DeliveryOutcome{
						Channel: ch.Fallback,
						Status:  notify.StatusFailed,
						Error:   "unknown fallback channel",
					})
				}
				break
			}
			ch, ok = next, true
		}
	}
	return outcomes, false
}

// attemptChannel runs the full retry loop for one channel.
func (e *Executor) attemptChannel(ctx context.Context, ch notify.ChannelProfile, req Request) (notify.DeliveryOutcome, bool) {
	start := time.Now()
	out := notify.DeliveryOutcome{Channel: ch.Name, Status: notify.StatusFailed}

	if allowed, phase := e.breaker.Allow(ch.Name, req.Thresholds); !allowed {
		out.Status = notify.StatusSkippedCircuitOpen
		out.Error = "circuit open"
		out.Duration = time.Since(start)
		e.publish("notify.circuit_open", ch.Name, req, "")
		e.log.Debug("channel skipped, circuit open",
			logx.String("channel", ch.Name), logx.String("phase", string(phase)))
		return out, false
	}

	sender, ok := e.senders.Lookup(ch.Name)
	if !ok {
		// Configuration error: fail this channel only, no circuit accounting.
		out.Error = "no sender registered for channel"
		out.Duration = time.Since(start)
		return out, false
	}

	payload, err := req.Payload(ch)
	if err != nil {
		// Shaping/config error, not channel health.
		out.Error = err.Error()
		out.Duration = time.Since(start)
		return out, false
	}

	maxAttempts := ch.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	lim := e.limiters.get(ch.Name, ch.RatePerSec)

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out.Attempts = attempt

		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				out.Error = err.Error()
				out.Duration = time.Since(start)
				return out, false
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.sendTimeout)
		err := sender.Send(callCtx, req.Recipient, payload)
		cancel()

		if err == nil {
			e.breaker.RecordSuccess(ch.Name, req.Thresholds)
			out.Status = notify.StatusDelivered
			out.Error = ""
			out.Duration = time.Since(start)
			e.publish("notify.sent", ch.Name, req, "")
			return out, true
		}
		lastErr = err
		e.log.Debug("send failed",
			logx.String("channel", ch.Name), logx.Int("attempt", attempt),
			logx.Int("max", maxAttempts), logx.Err(err))

		if ctx.Err() != nil {
			break
		}
		if !retryable(err) {
			// Permanent: abort retries, straight to fallback. Not a channel
			// health signal, so no circuit failure.
			out.Error = lastErr.Error()
			out.Duration = time.Since(start)
			e.publish("notify.failed", ch.Name, req, lastErr.Error())
			return out, false
		}
		if attempt >= maxAttempts {
			break
		}
		if err := e.sleep(ctx, backoffDelay(ch.Retry, attempt)); err != nil {
			break
		}
	}

	// Retry exhaustion (or cancellation mid-loop). Only genuine exhaustion
	// feeds circuit accounting.
	if ctx.Err() == nil {
		e.breaker.RecordFailure(ch.Name, req.Thresholds)
	}
	if lastErr != nil {
		out.Error = lastErr.Error()
		e.publish("notify.failed", ch.Name, req, lastErr.Error())
	}
	out.Duration = time.Since(start)
	return out, false
}

func (e *Executor) publish(typ, channel string, req Request, errStr string) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.DeliveryEvent{
		CorrelationID: req.CorrelationID,
		Channel:       channel,
		Recipient:     req.Recipient,
		Error:         errStr,
	}})
}

// backoffDelay computes the pause before the NEXT attempt:
// min(maxBackoff, initial * multiplier^(attempt-1)), jittered by (1 +/- j).
func backoffDelay(p notify.RetryPolicy, attempt int) time.Duration {
	base := p.InitialBackoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	maxD := p.MaxBackoff
	if maxD <= 0 {
		maxD = 10 * time.Second
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(base)
	for i := 1; i < attempt; i++ {
		d *= mult
		if d >= float64(maxD) {
			d = float64(maxD)
			break
		}
	}

	j := p.Jitter
	if j <= 0 || j >= 1 {
		j = 0.3
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	d *= 1 - j + rng.Float64()*2*j

	out := time.Duration(d)
	if out < 0 {
		return 0
	}
	if out > maxD {
		return maxD
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// limiterPool caches per-channel token buckets and rebuilds one when its
// configured rate changes on hot reload.
type limiterPool struct {
	mu sync.Mutex
	m  map[string]*limiterEntry
}

type limiterEntry struct {
	rate int
	lim  *rate.Limiter
}

func newLimiterPool() *limiterPool {
	return &limiterPool{m: map[string]*limiterEntry{}}
}

func (p *limiterPool) get(name string, perSec int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ent := p.m[name]
	if ent == nil || ent.rate != perSec {
		// Burst = rate per sec, so short spikes don't block too hard.
		ent = &limiterEntry{rate: perSec, lim: rate.NewLimiter(rate.Limit(perSec), perSec)}
		p.m[name] = ent
	}
	return ent.lim
}
