package ticker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodicTickerLoopsWhileProgressing(t *testing.T) {
	var calls atomic.Int32
	tk := New("test", func(ctx context.Context) (bool, error) {
		n := calls.Add(1)
		return n < 5, nil
	}, time.Hour)

	tk.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 5 }, time.Second, time.Millisecond)
	tk.Stop()
}

func TestPeriodicTickerStartIsIdempotent(t *testing.T) {
	var calls atomic.Int32
	tk := New("test", func(ctx context.Context) (bool, error) {
		calls.Add(1)
		return false, nil
	}, time.Hour)

	tk.Start(context.Background())
	tk.Start(context.Background())
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	tk.Stop()
}

func TestPeriodicTickerStopWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	tk := New("test", func(ctx context.Context) (bool, error) {
		close(started)
		time.Sleep(20 * time.Millisecond)
		close(finished)
		return false, nil
	}, time.Hour)

	tk.Start(context.Background())
	<-started
	tk.Stop()

	select {
	case <-finished:
	default:
		t.Fatal("Stop returned before in-flight fn finished")
	}
}
