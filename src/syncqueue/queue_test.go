package syncqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialQueueRunsInFIFOOrder(t *testing.T) {
	q := New("test")
	defer q.End(context.Background())

	var order []int
	var mu atomic.Int32
	for i := 0; i < 5; i++ {
		i := i
		q.Put(func(ctx context.Context) (any, error) {
			mu.Add(1)
			order = append(order, i)
			return nil, nil
		})
	}

	future := q.Put(func(ctx context.Context) (any, error) { return "done", nil })
	result, err := future.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestSerialQueueFailureDoesNotPoisonQueue(t *testing.T) {
	q := New("test")
	defer q.End(context.Background())

	f1 := q.Put(func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	})
	f2 := q.Put(func(ctx context.Context) (any, error) {
		return "still works", nil
	})

	_, err := f1.Wait(context.Background())
	assert.Error(t, err)

	result, err := f2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still works", result)
}

func TestSerialQueuePanicDoesNotPoisonQueue(t *testing.T) {
	q := New("test")
	defer q.End(context.Background())

	f1 := q.Put(func(ctx context.Context) (any, error) {
		panic("oh no")
	})
	f2 := q.Put(func(ctx context.Context) (any, error) {
		return "still works", nil
	})

	_, err := f1.Wait(context.Background())
	assert.Error(t, err)

	result, err := f2.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "still works", result)
}

func TestSerialQueueEndDrainsThenRefuses(t *testing.T) {
	q := New("test")

	var ran atomic.Bool
	q.Put(func(ctx context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
		return nil, nil
	})

	err := q.End(context.Background())
	require.NoError(t, err)
	assert.True(t, ran.Load())

	future := q.Put(func(ctx context.Context) (any, error) { return nil, nil })
	_, err = future.Wait(context.Background())
	assert.Error(t, err)
}
