// Package dedup suppresses repeat sends of semantically identical
// notifications within a severity-dependent window.
//
// The cache is a process-wide shared resource injected into the pipeline (not
// ambient global state), so independent test scenarios don't interfere.
package dedup

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"alertpipe/internal/storage"
	logx "alertpipe/pkg/logx"
)

// Fingerprint returns the stable identity hash of one notification:
// alert identity + recipient + sorted channel set.
//
// The channel set is part of the identity on purpose: {email} and
// {email, slack} for the same alert/recipient are distinct sends.
func Fingerprint(alert, recipient string, channels []string) string {
	chs := append([]string(nil), channels...)
	sort.Strings(chs)

	h := fnv.New64a()
	_, _ = h.Write([]byte(alert))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(recipient))
	for _, c := range chs {
		_, _ = h.Write([]byte{'|'})
		_, _ = h.Write([]byte(c))
	}
	return fmt.Sprintf("%x", h.Sum64())
}

// Dedup decision reasons.
const (
	ReasonFirstSeen  = "first-seen"
	ReasonTTLExpired = "ttl-expired"
	ReasonDuplicate  = "duplicate-within-ttl"
)

// Decision is the allow/deny verdict for one fingerprint.
type Decision struct {
	Allow      bool
	Reason     string
	Suppressed int // times this fingerprint was suppressed in the current window
}

type entry struct {
	lastSent   time.Time
	suppressed int
}

// Cache is the capacity-bounded suppress-state. Eviction is
// least-recently-sent; an independent sweep removes stale entries so memory
// stays bounded under any load.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry

	maxEntries int
	now        func() time.Time
	log        logx.Logger

	// Optional cross-restart persistence (best-effort, asynchronous writes).
	store     storage.Store
	persistCh chan persistWrite
}

type persistWrite struct {
	key   string
	until time.Time
}

type Option func(*Cache)

// WithClock injects a manual clock (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithStore enables best-effort persistence of suppress-state.
func WithStore(st storage.Store) Option {
	return func(c *Cache) { c.store = st }
}

func WithLogger(log logx.Logger) Option {
	return func(c *Cache) { c.log = log }
}

func NewCache(maxEntries int, opts ...Option) *Cache {
	if maxEntries <= 0 {
		maxEntries = 2000
	}
	c := &Cache{
		entries:    map[string]*entry{},
		maxEntries: maxEntries,
		now:        time.Now,
		log:        logx.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.store != nil {
		c.persistCh = make(chan persistWrite, 1024)
	}
	return c
}

// ShouldSend decides whether a notification with this fingerprint may go out
// under the given TTL. An allowed send re-arms the window; a repeat within
// the window is denied and counted.
func (c *Cache) ShouldSend(ctx context.Context, fp string, ttl time.Duration) Decision {
	if fp == "" || ttl <= 0 {
		return Decision{Allow: true, Reason: ReasonFirstSeen}
	}
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[fp]
	if ok && now.Sub(e.lastSent) < ttl {
		e.suppressed++
		d := Decision{Reason: ReasonDuplicate, Suppressed: e.suppressed}
		c.mu.Unlock()
		return d
	}
	reason := ReasonFirstSeen
	if ok {
		// Window elapsed: treat as fresh, reset timer and counter.
		reason = ReasonTTLExpired
	}
	c.mu.Unlock()

	// Cross-restart check before arming a fresh window (bounded; never on the
	// repeat path, which is already answered from memory).
	if reason == ReasonFirstSeen && c.store != nil {
		cctx, cancel := context.WithTimeout(ctx, 25*time.Millisecond)
		until, found, err := c.store.GetDedup(cctx, fp)
		cancel()
		if err == nil && found && now.Before(until) {
			c.mu.Lock()
			c.entries[fp] = &entry{lastSent: until.Add(-ttl), suppressed: 1}
			c.mu.Unlock()
			return Decision{Reason: ReasonDuplicate, Suppressed: 1}
		}
	}

	c.mu.Lock()
	c.entries[fp] = &entry{lastSent: now}
	c.evictLocked(now)
	c.mu.Unlock()

	// Persist the new window asynchronously (best-effort).
	if c.persistCh != nil {
		select {
		case c.persistCh <- persistWrite{key: fp, until: now.Add(ttl)}:
		default:
		}
	}

	return Decision{Allow: true, Reason: reason}
}

// evictLocked drops least-recently-sent entries until within capacity.
func (c *Cache) evictLocked(now time.Time) {
	_ = now
	for len(c.entries) > c.maxEntries {
		var (
			oldestKey string
			oldest    time.Time
			set       bool
		)
		for k, e := range c.entries {
			if !set || e.lastSent.Before(oldest) {
				oldestKey, oldest, set = k, e.lastSent, true
			}
		}
		if oldestKey == "" {
			return
		}
		delete(c.entries, oldestKey)
	}
}

// Sweep removes entries whose last send is older than olderThan.
// It runs on an independent low-priority timer and never blocks foreground
// delivery for long: one pass under the lock over a bounded map.
func (c *Cache) Sweep(olderThan time.Duration) int {
	if olderThan <= 0 {
		return 0
	}
	now := c.now()
	removed := 0

	c.mu.Lock()
	for k, e := range c.entries {
		if now.Sub(e.lastSent) > olderThan {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.log.Debug("dedup sweep", logx.Int("removed", removed))
	}
	return removed
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RunPersist drains asynchronous persistence writes until ctx is done.
// No-op when the cache has no store.
func (c *Cache) RunPersist(ctx context.Context) {
	if c.persistCh == nil || c.store == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case w := <-c.persistCh:
			cctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
			_ = c.store.PutDedup(cctx, w.key, w.until)
			cancel()
		}
	}
}
