// Package supervisor manages named background goroutines tied to a shared
// context: panic recovery, optional restart with backoff, graceful wait.
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "alertpipe/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger
	wg     sync.WaitGroup
}

func New(ctx context.Context, log logx.Logger) *Supervisor {
	if ctx == nil {
		ctx = context.Background()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cctx, cancel := context.WithCancel(ctx)
	return &Supervisor{ctx: cctx, cancel: cancel, log: log}
}

// Go runs fn once. A panic is recovered and logged, never propagated.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(name, fn); err != nil && s.ctx.Err() == nil {
			s.log.Error("goroutine failed", logx.String("name", name), logx.Err(err))
		}
	}()
}

// GoRestart reruns fn with a jitter-free exponential backoff until it returns
// nil/context.Canceled or the supervisor context ends.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, base, max time.Duration) {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := base
		for {
			err := s.run(name, fn)
			if s.ctx.Err() != nil || err == nil || err == context.Canceled {
				return
			}
			s.log.Warn("goroutine exited; restarting",
				logx.String("name", name), logx.Err(err), logx.Duration("backoff", backoff))
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > max {
				backoff = max
			}
		}
	}()
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", name, r)
			s.log.Error("goroutine panicked",
				logx.String("name", name), logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	return fn(s.ctx)
}

// Cancel stops all goroutines.
func (s *Supervisor) Cancel() { s.cancel() }

// Wait blocks until every goroutine finished or ctx expires.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
