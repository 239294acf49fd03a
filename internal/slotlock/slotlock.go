// Package slotlock serializes read-check-write sequences per slot. Operations
// on the same slot run one at a time; different slots never contend.
package slotlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotAcquired = errors.New("slot lock not acquired")

// Locker guards a critical section for one slot.
type Locker interface {
	WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error
}

// Local is an in-process keyed mutex. Entries are reference counted so the
// map only holds slots that currently have a holder or a waiter.
type Local struct {
	wait time.Duration

	mu    sync.Mutex
	slots map[uuid.UUID]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewLocal returns a Local locker. A positive wait bounds how long a caller
// queues behind the current holder; zero means wait until ctx is done.
func NewLocal(wait time.Duration) *Local {
	return &Local{
		wait:  wait,
		slots: make(map[uuid.UUID]*entry),
	}
}

func (l *Local) WithSlotLock(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	e := l.ref(slotID)
	defer l.unref(slotID)

	waitCtx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case e.sem <- struct{}{}:
	case <-waitCtx.Done():
		return fmt.Errorf("%w: slot %s: %v", ErrNotAcquired, slotID, waitCtx.Err())
	}
	defer func() { <-e.sem }()

	return fn(ctx)
}

func (l *Local) ref(slotID uuid.UUID) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.slots[slotID]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.slots[slotID] = e
	}
	e.refs++
	return e
}

func (l *Local) unref(slotID uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.slots[slotID]
	e.refs--
	if e.refs == 0 {
		delete(l.slots, slotID)
	}
}

// held reports how many slots have holders or waiters.
func (l *Local) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
