package dedup

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	logx "alertpipe/pkg/logx"
)

// Sweeper periodically evicts stale cache entries on a cron schedule.
//
// olderThan is read per tick so hot config reloads (new TTL tables) take
// effect without restarting the sweeper.
type Sweeper struct {
	c *cron.Cron
}

// StartSweeper schedules cache.Sweep(olderThan()) every interval.
func StartSweeper(cache *Cache, interval time.Duration, olderThan func() time.Duration, log logx.Logger) (*Sweeper, error) {
	if interval <= 0 {
		interval = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	c := cron.New()
	spec := fmt.Sprintf("@every %s", interval)
	_, err := c.AddFunc(spec, func() {
		cutoff := olderThan()
		if cutoff <= 0 {
			return
		}
		cache.Sweep(cutoff)
	})
	if err != nil {
		return nil, fmt.Errorf("dedup: schedule sweep: %w", err)
	}
	c.Start()
	log.Debug("dedup sweeper started", logx.Duration("interval", interval))
	return &Sweeper{c: c}, nil
}

// Stop halts the schedule; a sweep in flight finishes on its own goroutine.
func (s *Sweeper) Stop() {
	if s == nil || s.c == nil {
		return
	}
	s.c.Stop()
}
