package slotlock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SerializesSameSlot(t *testing.T) {
	l := NewLocal(0)
	slotID := uuid.New()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					cur := atomic.LoadInt32(&maxInside)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInside, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.held())
}

func TestLocal_DifferentSlotsDoNotBlock(t *testing.T) {
	l := NewLocal(0)
	a, b := uuid.New(), uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- l.WithSlotLock(context.Background(), a, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := l.WithSlotLock(ctx, b, func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)
}

func TestLocal_WaitBound(t *testing.T) {
	l := NewLocal(20 * time.Millisecond)
	slotID := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = l.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	called := false
	err := l.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
		called = true
		return nil
	})
	close(release)

	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, called)
}
