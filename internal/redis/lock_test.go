package redisclient

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Needs a reachable Redis; set REDIS_TEST_ADDR to run.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb, err := NewRedisClient(context.Background(), addr, "", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestLockKey(t *testing.T) {
	id := uuid.MustParse("7b0c8f4e-8a51-4a57-9d38-3f1a8b4c2e10")
	assert.Equal(t, "lock:slot:7b0c8f4e-8a51-4a57-9d38-3f1a8b4c2e10", lockKey(id))
}

func TestRedisSlotLocker_SerializesSameSlot(t *testing.T) {
	rdb := newTestClient(t)
	locker := NewRedisSlotLocker(rdb, 2*time.Second, 5*time.Second)
	slotID := uuid.New()

	var inside, overlaps int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
				if atomic.AddInt32(&inside, 1) > 1 {
					atomic.AddInt32(&overlaps, 1)
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, overlaps)
}

func TestRedisSlotLocker_GivesUpAfterWait(t *testing.T) {
	rdb := newTestClient(t)
	locker := NewRedisSlotLocker(rdb, 2*time.Second, 30*time.Millisecond)
	slotID := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered
	defer close(release)

	err := locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotAcquired)
}

func TestOutOfTime(t *testing.T) {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	bounded := &redisSlotLocker{wait: 30 * time.Millisecond}
	deadline := now.Add(bounded.wait)
	assert.False(t, bounded.outOfTime(deadline, 5*time.Millisecond, now))
	assert.True(t, bounded.outOfTime(deadline, 30*time.Millisecond, now))
	assert.True(t, bounded.outOfTime(deadline, 5*time.Millisecond, now.Add(time.Second)))

	unbounded := &redisSlotLocker{}
	assert.False(t, unbounded.outOfTime(now, maxRetryDelay, now.Add(time.Hour)))
}

func TestRedisSlotLocker_ZeroWaitHonoursContext(t *testing.T) {
	rdb := newTestClient(t)
	locker := NewRedisSlotLocker(rdb, 2*time.Second, 0)
	slotID := uuid.New()

	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := locker.WithSlotLock(ctx, slotID, func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrLockNotAcquired)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	// Without a deadline the caller queues until the holder lets go.
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	err = locker.WithSlotLock(context.Background(), slotID, func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}
