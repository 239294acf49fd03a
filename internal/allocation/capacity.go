package allocation

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

// capacityTracker answers capacity questions with aggregate queries against
// the token store rather than a maintained counter. Callers hold the slot
// lock when the answer feeds a write.
type capacityTracker struct {
	tokens TokenStore
}

func (c capacityTracker) admitted(ctx context.Context, slotID uuid.UUID) (int, error) {
	n, err := c.tokens.CountTokens(ctx, slotID, AdmittedStatuses)
	if err != nil {
		return 0, fmt.Errorf("count admitted tokens: %w", err)
	}
	return n, nil
}

func (c capacityTracker) waitlisted(ctx context.Context, slotID uuid.UUID) (int, error) {
	n, err := c.tokens.CountTokens(ctx, slotID, []Status{StatusWaitlist})
	if err != nil {
		return 0, fmt.Errorf("count waitlisted tokens: %w", err)
	}
	return n, nil
}

// hasRoom reports whether one more token can be admitted to slot.
func (c capacityTracker) hasRoom(ctx context.Context, slot *clinic.Slot) (bool, error) {
	if slot.MaxCapacity < 1 {
		return false, fmt.Errorf("%w: slot %s has capacity %d", ErrInvalidCapacity, slot.ID, slot.MaxCapacity)
	}
	n, err := c.admitted(ctx, slot.ID)
	if err != nil {
		return false, err
	}
	return n < slot.MaxCapacity, nil
}

// nextArrival is the 1-based creation order of the next token in the slot.
// Tokens are never deleted, so the count only grows.
func (c capacityTracker) nextArrival(ctx context.Context, slotID uuid.UUID) (int64, error) {
	n, err := c.tokens.CountTokens(ctx, slotID, nil)
	if err != nil {
		return 0, fmt.Errorf("count slot tokens: %w", err)
	}
	return int64(n) + 1, nil
}
