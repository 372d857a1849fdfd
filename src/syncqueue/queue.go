// Package syncqueue implements SerialQueue: a single-consumer FIFO that
// serializes arbitrary asynchronous work. Every database-touching operation
// in the synchronizer is funneled through one of these, so that background
// ticks and foreground simulation/query work never touch the DB
// concurrently (spec.md §4.1, §5).
package syncqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/deque"
	"github.com/l2privacy/client-sync/src/utils/logger"
	"github.com/sirupsen/logrus"
)

// Task is a unit of work submitted to a SerialQueue.
type Task func(ctx context.Context) (any, error)

// Future is the handle returned by Put. Wait blocks until the task has run
// and returns its outcome.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

// Wait blocks until the task this future was issued for has completed, or
// ctx is cancelled first.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type submission struct {
	task   Task
	future *Future
}

// SerialQueue runs at most one Task at a time, in submission order. A task
// failure (error or panic) never poisons the queue; the next task still
// runs.
type SerialQueue struct {
	log *logrus.Entry

	mu       sync.Mutex
	pending  deque.Deque[*submission]
	wakeup   chan struct{}
	stopped  bool
	draining chan struct{}

	workerDone chan struct{}
}

// New creates a SerialQueue and starts its single worker goroutine.
func New(name string) *SerialQueue {
	self := &SerialQueue{
		log:        logger.NewSublogger("queue." + name),
		wakeup:     make(chan struct{}, 1),
		draining:   make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	go self.run()
	return self
}

// Put enqueues task, to be run once every previously submitted task has
// finished. The returned Future resolves with task's outcome.
func (self *SerialQueue) Put(task Task) *Future {
	future := &Future{done: make(chan struct{})}

	self.mu.Lock()
	if self.stopped {
		self.mu.Unlock()
		future.err = fmt.Errorf("queue stopped, refusing submission")
		close(future.done)
		return future
	}
	self.pending.PushBack(&submission{task: task, future: future})
	self.mu.Unlock()

	select {
	case self.wakeup <- struct{}{}:
	default:
	}

	return future
}

// End refuses further submissions, then waits for the tasks already queued
// to drain.
func (self *SerialQueue) End(ctx context.Context) error {
	self.mu.Lock()
	if self.stopped {
		self.mu.Unlock()
		return nil
	}
	self.stopped = true
	self.mu.Unlock()

	close(self.draining)

	select {
	case <-self.workerDone:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (self *SerialQueue) run() {
	defer close(self.workerDone)

	for {
		task, future, ok := self.pop()
		if !ok {
			select {
			case <-self.wakeup:
				continue
			case <-self.draining:
				// Drain whatever is left, then quit.
				task, future, ok = self.pop()
				if !ok {
					return
				}
			}
		}

		self.runOne(task, future)
	}
}

func (self *SerialQueue) pop() (Task, *Future, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.pending.Len() == 0 {
		return nil, nil, false
	}
	s := self.pending.PopFront()
	return s.task, s.future, true
}

func (self *SerialQueue) runOne(task Task, future *Future) {
	defer func() {
		if p := recover(); p != nil {
			self.log.WithField("panic", p).Error("Task panicked")
			future.err = fmt.Errorf("task panicked: %v", p)
			close(future.done)
		}
	}()

	result, err := task(context.Background())
	if err != nil {
		self.log.WithError(err).Debug("Task failed")
	}
	future.result, future.err = result, err
	close(future.done)
}
