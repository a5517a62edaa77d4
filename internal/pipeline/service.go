package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"alertpipe/internal/authz"
	"alertpipe/internal/config"
	"alertpipe/internal/dedup"
	"alertpipe/internal/deliver"
	"alertpipe/internal/eventbus"
	"alertpipe/internal/notify"
	"alertpipe/internal/sanitize"
	"alertpipe/internal/selector"
	"alertpipe/internal/shape"
	"alertpipe/internal/transport"
	logx "alertpipe/pkg/logx"
)

var (
	// ErrNotDelivered is the only failure surfaced to the caller: every
	// channel and fallback was exhausted. The Result carries the complete
	// per-channel history.
	ErrNotDelivered = errors.New("pipeline: operator not notified")

	ErrInvalidRequest = errors.New("pipeline: invalid request")
	ErrNoConfig       = errors.New("pipeline: no configuration loaded")
)

const historyCap = 200

// Service is the facade. One Submit is one full request/response cycle.
// Safe for concurrent use; the circuit breaker and dedup cache are the only
// shared mutable state and both guard their own locking.
type Service struct {
	cfgm   *config.Manager
	exec   *deliver.Executor
	cache  *dedup.Cache
	oracle authz.Oracle
	log    logx.Logger
	bus    eventbus.Bus
	now    func() time.Time

	// Recent results for operational introspection.
	hmu     sync.Mutex
	history []Result
}

func New(cfgm *config.Manager, exec *deliver.Executor, cache *dedup.Cache, oracle authz.Oracle, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfgm:   cfgm,
		exec:   exec,
		cache:  cache,
		oracle: oracle,
		log:    log,
		bus:    bus,
		now:    time.Now,
	}
}

// Submit runs the whole pipeline for one request. The returned Result is
// always meaningful; err is non-nil only for invalid input, missing config,
// or total exhaustion (ErrNotDelivered).
func (s *Service) Submit(ctx context.Context, req notify.NotificationRequest) (Result, error) {
	res := Result{At: s.now()}

	if req.Recipient == "" || req.Content.AlertName == "" || len(req.Channels) == 0 {
		return res, fmt.Errorf("%w: recipient, alert name and at least one channel are required", ErrInvalidRequest)
	}

	res.CorrelationID = req.CorrelationID
	if res.CorrelationID == "" {
		res.CorrelationID = uuid.NewString()
	}

	cfg := s.cfgm.Get()
	if cfg == nil {
		return res, ErrNoConfig
	}

	// Copy-on-write from here: the caller's request is never touched.
	content := req.Content.Clone()

	// 1) Sanitize before anything measures or filters, so redacted bytes
	// never count against a ceiling.
	res.Findings = sanitizeContent(&content)

	// 2) Authorize: hidden actions are gone before shaping, so they never
	// consume size budget either.
	ares := authz.Filter(ctx, s.oracle, req.Recipient, content.Actions, s.log)
	content.Actions = ares.Visible
	res.Unverified = ares.Unverified
	if ares.Degraded {
		res.Warnings = append(res.Warnings, "authorization degraded: oracle error, failing open")
		s.publish("notify.degraded", res.CorrelationID, "", req.Recipient, "oracle error")
	}

	// 3) Resolve requested channels against config. Unknown names fail only
	// themselves.
	requested := make([]notify.ChannelProfile, 0, len(req.Channels))
	for _, name := range req.Channels {
		cc, ok := cfg.Channels[name]
		if !ok {
			res.Warnings = append(res.Warnings, fmt.Sprintf("unknown channel %q", name))
			res.Outcomes = append(res.Outcomes, notify.DeliveryOutcome{
				Channel: name,
				Status:  notify.StatusFailed,
				Error:   "unknown channel",
			})
			continue
		}
		requested = append(requested, cc.Profile(name))
	}
	if len(requested) == 0 {
		return res, fmt.Errorf("%w: no requested channel is configured", ErrNotDelivered)
	}

	// 4) Severity routing.
	rule := selector.Rule{}
	if sc, ok := cfg.Severities[string(req.Severity)]; ok {
		rule.RequiredLabels = sc.RequiredLabels
		rule.PreferredOrder = sc.PreferredOrder
	}
	sel := selector.Select(rule, requested)
	if sel.FailedOpen {
		res.Warnings = append(res.Warnings, "severity label filter matched no channel; failing open to all requested")
		s.log.Warn("channel label filter failed open",
			logx.String("severity", string(req.Severity)),
			logx.String("correlation_id", res.CorrelationID))
	}

	// 5) Dedup. The fingerprint covers the full requested channel set:
	// {email} and {email, slack} are distinct sends.
	fp := dedup.Fingerprint(content.AlertName, req.Recipient, req.Channels)
	decision := s.cache.ShouldSend(ctx, fp, cfg.DedupTTLFor(req.Severity))
	if !decision.Allow {
		res.Suppressed = true
		res.SuppressReason = decision.Reason
		res.SuppressedCount = decision.Suppressed
		for _, ch := range sel.Channels {
			res.Outcomes = append(res.Outcomes, notify.DeliveryOutcome{
				Channel: ch.Name,
				Status:  notify.StatusSkippedDuplicate,
				Error:   decision.Reason,
			})
		}
		s.publish("notify.deduped", res.CorrelationID, "", req.Recipient, decision.Reason)
		s.appendHistory(res)
		return res, nil
	}

	// 6) Shape lazily per channel (fallback channels included) and deliver.
	in := shape.Input{
		CorrelationID: res.CorrelationID,
		Severity:      req.Severity,
		Content:       content,
		Unverified:    res.Unverified,
	}
	outcomes, delivered := s.exec.Deliver(ctx, deliver.Request{
		CorrelationID: res.CorrelationID,
		Recipient:     req.Recipient,
		Channels:      sel.Channels,
		ProfileOf: func(name string) (notify.ChannelProfile, bool) {
			cc, ok := cfg.Channels[name]
			if !ok {
				return notify.ChannelProfile{}, false
			}
			return cc.Profile(name), true
		},
		Payload: func(ch notify.ChannelProfile) (transport.Payload, error) {
			shaped, err := shape.Shape(in, ch.MaxBytes, ch.Strategy)
			if err != nil {
				return transport.Payload{}, err
			}
			return transport.Payload{
				CorrelationID: res.CorrelationID,
				Severity:      req.Severity,
				Body:          shaped.Body,
			}, nil
		},
		Thresholds: circuitThresholds(cfg),
	})
	res.Outcomes = append(res.Outcomes, outcomes...)
	res.Delivered = delivered
	s.appendHistory(res)

	if !delivered {
		return res, fmt.Errorf("%w: %d channel(s) exhausted", ErrNotDelivered, len(res.Outcomes))
	}
	return res, nil
}

// History returns a copy of the recent results ring.
func (s *Service) History() []Result {
	s.hmu.Lock()
	out := append([]Result(nil), s.history...)
	s.hmu.Unlock()
	return out
}

func (s *Service) appendHistory(r Result) {
	s.hmu.Lock()
	s.history = append(s.history, r)
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.hmu.Unlock()
}

func (s *Service) publish(typ, cid, channel, recipient, reason string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.DeliveryEvent{
		CorrelationID: cid,
		Channel:       channel,
		Recipient:     recipient,
		Reason:        reason,
	}})
}

// sanitizeContent redacts every free-text field and merges the per-field
// findings into one list (counts summed per pattern).
func sanitizeContent(c *notify.Content) []sanitize.Finding {
	merged := map[string]*sanitize.Finding{}
	var order []string

	scrub := func(text string) string {
		clean, findings := sanitize.Sanitize(text)
		for _, f := range findings {
			if got, ok := merged[f.Pattern]; ok {
				got.Count += f.Count
				continue
			}
			cp := f
			merged[f.Pattern] = &cp
			order = append(order, f.Pattern)
		}
		return clean
	}

	c.AlertName = scrub(c.AlertName)
	c.Summary = scrub(c.Summary)
	c.RootCause = scrub(c.RootCause)
	for i := range c.Actions {
		c.Actions[i].Title = scrub(c.Actions[i].Title)
		c.Actions[i].Description = scrub(c.Actions[i].Description)
	}

	if len(order) == 0 {
		return nil
	}
	out := make([]sanitize.Finding, 0, len(order))
	for _, p := range order {
		out = append(out, *merged[p])
	}
	return out
}

func circuitThresholds(cfg *config.Config) deliver.Thresholds {
	timeout, _ := config.ParseDurationOrDefault("circuit.open_timeout", cfg.Circuit.OpenTimeout, time.Minute)
	return deliver.Thresholds{
		FailureThreshold: cfg.Circuit.FailureThreshold,
		SuccessThreshold: cfg.Circuit.SuccessThreshold,
		OpenTimeout:      timeout,
	}
}
