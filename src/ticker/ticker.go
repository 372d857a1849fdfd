// Package ticker implements PeriodicTicker (spec.md §4.2): it repeatedly
// invokes a unit of work, sleeping retryInterval after a "no progress"
// result before retrying, and is cancellable mid-sleep.
package ticker

import (
	"context"
	"sync"
	"time"

	"github.com/l2privacy/client-sync/src/utils/logger"
	"github.com/sirupsen/logrus"
)

// Fn is the unit of work a PeriodicTicker drives. It returns true if it
// made progress (re-invoke immediately) or false if it didn't (sleep
// interval before retrying).
type Fn func(ctx context.Context) (progressed bool, err error)

// PeriodicTicker wraps Fn and interval as described in spec.md §4.2.
type PeriodicTicker struct {
	fn       Fn
	interval time.Duration
	log      *logrus.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a PeriodicTicker. It does not start running until Start is called.
func New(name string, fn Fn, interval time.Duration) *PeriodicTicker {
	return &PeriodicTicker{
		fn:       fn,
		interval: interval,
		log:      logger.NewSublogger("ticker." + name),
	}
}

// Start begins the loop. Calling Start while already running is a no-op.
func (self *PeriodicTicker) Start(ctx context.Context) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.running {
		return
	}
	self.running = true

	runCtx, cancel := context.WithCancel(ctx)
	self.cancel = cancel
	self.done = make(chan struct{})

	go self.loop(runCtx)
}

func (self *PeriodicTicker) loop(ctx context.Context) {
	defer close(self.done)

	for {
		if ctx.Err() != nil {
			return
		}

		progressed, err := self.fn(ctx)
		if err != nil {
			self.log.WithError(err).Debug("Tick failed")
		}

		if progressed {
			continue
		}

		timer := time.NewTimer(self.interval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// Stop cancels the sleep and waits for the in-flight Fn invocation to finish.
func (self *PeriodicTicker) Stop() {
	self.mu.Lock()
	if !self.running {
		self.mu.Unlock()
		return
	}
	self.running = false
	cancel := self.cancel
	done := self.done
	self.mu.Unlock()

	cancel()
	<-done
}
