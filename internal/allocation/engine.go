package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/slotlock"
)

// Engine is the only writer of token status, priority and sequence. Every
// mutation of a slot runs under that slot's lock and inside one store
// transaction, so concurrent calls on the same slot are serialized and calls
// on different slots proceed in parallel.
type Engine struct {
	slots    SlotStore
	tokens   TokenStore
	locker   slotlock.Locker
	capacity capacityTracker
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Engine)

// WithClock replaces time.Now, mainly for tests and simulations.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func NewEngine(slots SlotStore, tokens TokenStore, locker slotlock.Locker, log zerolog.Logger, opts ...Option) *Engine {
	e := &Engine{
		slots:    slots,
		tokens:   tokens,
		locker:   locker,
		capacity: capacityTracker{tokens: tokens},
		now:      time.Now,
		log:      log.With().Str("component", "allocation").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type AllocateRequest struct {
	SlotID      uuid.UUID
	PatientName string
	Phone       *string
	Source      Source
}

// Allocate books a patient into a slot, or waitlists them when the slot is
// full. The returned token carries its sequence when admitted.
func (e *Engine) Allocate(ctx context.Context, req AllocateRequest) (*Token, error) {
	name := strings.TrimSpace(req.PatientName)
	if name == "" {
		return nil, ErrPatientNameRequired
	}
	if !req.Source.Bookable() {
		return nil, fmt.Errorf("%w: %q cannot be allocated directly", ErrInvalidSource, req.Source)
	}

	slot, err := e.slots.FindSlot(ctx, req.SlotID)
	if err != nil {
		return nil, err
	}
	if slot.MaxCapacity < 1 {
		return nil, fmt.Errorf("%w: slot %s has capacity %d", ErrInvalidCapacity, slot.ID, slot.MaxCapacity)
	}

	var token *Token
	err = e.inSlot(ctx, slot.ID, func(ctx context.Context) error {
		room, err := e.capacity.hasRoom(ctx, slot)
		if err != nil {
			return err
		}
		arrival, err := e.capacity.nextArrival(ctx, slot.ID)
		if err != nil {
			return err
		}
		score, err := Score(req.Source, arrival)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		t := &Token{
			SlotID:        slot.ID,
			PatientName:   name,
			Phone:         req.Phone,
			Source:        req.Source,
			Status:        StatusWaitlist,
			PriorityScore: score,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		event := EventTokenWaitlisted
		if room {
			t.Status = StatusBooked
			event = EventTokenBooked
		}

		if err := e.tokens.CreateToken(ctx, t); err != nil {
			return err
		}
		if err := e.recordEvent(ctx, event, t, ""); err != nil {
			return err
		}
		if err := e.resequence(ctx, slot.ID); err != nil {
			return err
		}

		token, err = e.tokens.GetToken(ctx, t.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.log.Info().
		Str("token_id", token.ID.String()).
		Str("slot_id", slot.ID.String()).
		Str("source", string(token.Source)).
		Str("status", string(token.Status)).
		Int64("priority_score", token.PriorityScore).
		Msg("token allocated")
	return token, nil
}

// Cancel moves a non-terminal token to cancelled and promotes at most one
// waitlisted token into the freed capacity.
func (e *Engine) Cancel(ctx context.Context, tokenID uuid.UUID) (*Outcome, error) {
	return e.release(ctx, tokenID, StatusCancelled, EventTokenCancelled)
}

// MarkNoShow is Cancel for a patient who never arrived.
func (e *Engine) MarkNoShow(ctx context.Context, tokenID uuid.UUID) (*Outcome, error) {
	return e.release(ctx, tokenID, StatusNoShow, EventTokenNoShow)
}

func (e *Engine) release(ctx context.Context, tokenID uuid.UUID, to Status, event string) (*Outcome, error) {
	current, err := e.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	slot, err := e.slots.FindSlot(ctx, current.SlotID)
	if err != nil {
		return nil, err
	}

	var out Outcome
	err = e.inSlot(ctx, slot.ID, func(ctx context.Context) error {
		// Re-read under the lock; the status may have moved since.
		t, err := e.tokens.GetToken(ctx, tokenID)
		if err != nil {
			return err
		}
		if t.Status.Terminal() {
			return fmt.Errorf("%w: %w: token %s is %s", ErrTokenAlreadyFinalized, ErrInvalidStateTransition, t.ID, t.Status)
		}

		previous := t.Status
		updated, err := e.tokens.UpdateTokenStatus(ctx, t.ID, previous, to, e.now().UTC())
		if err != nil {
			return err
		}
		if err := e.recordEvent(ctx, event, updated, previous); err != nil {
			return err
		}

		promoted, err := e.promote(ctx, slot.ID, slot.MaxCapacity)
		if err != nil {
			return err
		}
		if err := e.resequence(ctx, slot.ID); err != nil {
			return err
		}

		if out.Token, err = e.tokens.GetToken(ctx, t.ID); err != nil {
			return err
		}
		if promoted != nil {
			if out.Promoted, err = e.tokens.GetToken(ctx, promoted.ID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := e.log.Info().
		Str("token_id", tokenID.String()).
		Str("slot_id", slot.ID.String()).
		Str("status", string(to))
	if out.Promoted != nil {
		ev = ev.Str("promoted_token_id", out.Promoted.ID.String())
	}
	ev.Msg("token released")
	return &out, nil
}

// promote books the highest-priority waitlisted token when the slot has room.
// It runs inside the caller's slot transaction and never promotes more than
// one token.
func (e *Engine) promote(ctx context.Context, slotID uuid.UUID, maxCapacity int) (*Token, error) {
	admitted, err := e.capacity.admitted(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if admitted >= maxCapacity {
		return nil, nil
	}

	waiting, err := e.tokens.ListTokens(ctx, TokenFilter{
		SlotIDs:  []uuid.UUID{slotID},
		Statuses: []Status{StatusWaitlist},
		Limit:    1,
	})
	if err != nil {
		return nil, fmt.Errorf("find waitlist head: %w", err)
	}
	if len(waiting) == 0 {
		return nil, nil
	}

	promoted, err := e.tokens.UpdateTokenStatus(ctx, waiting[0].ID, StatusWaitlist, StatusBooked, e.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("promote token %s: %w", waiting[0].ID, err)
	}
	if err := e.recordEvent(ctx, EventTokenPromoted, promoted, StatusWaitlist); err != nil {
		return nil, err
	}
	return promoted, nil
}

// resequence ranks the slot's admitted tokens 1..K by priority and clears the
// sequence of everything else still active. Only changed rows are written, so
// running it twice is a no-op.
func (e *Engine) resequence(ctx context.Context, slotID uuid.UUID) error {
	active, err := e.tokens.ListTokens(ctx, TokenFilter{
		SlotIDs:  []uuid.UUID{slotID},
		Statuses: ActiveStatuses,
	})
	if err != nil {
		return fmt.Errorf("list active tokens: %w", err)
	}

	now := e.now().UTC()
	rank := 0
	for _, t := range active {
		var want *int
		if t.Status.Admitted() {
			rank++
			n := rank
			want = &n
		}
		if sameSequence(t.SequenceInSlot, want) {
			continue
		}
		if err := e.tokens.SetSequence(ctx, t.ID, want, now); err != nil {
			return fmt.Errorf("set sequence of token %s: %w", t.ID, err)
		}
	}
	return nil
}

func sameSequence(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Reallocate makes one promotion attempt for a slot and re-sequences it.
// Clinic-flow transitions free capacity without promoting; this is how the
// waitlist catches up afterwards. It returns the promoted token, if any.
func (e *Engine) Reallocate(ctx context.Context, slotID uuid.UUID) (*Token, error) {
	slot, err := e.slots.FindSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}

	var promoted *Token
	err = e.inSlot(ctx, slot.ID, func(ctx context.Context) error {
		p, err := e.promote(ctx, slot.ID, slot.MaxCapacity)
		if err != nil {
			return err
		}
		if err := e.resequence(ctx, slot.ID); err != nil {
			return err
		}
		if p != nil {
			promoted, err = e.tokens.GetToken(ctx, p.ID)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if promoted != nil {
		e.log.Info().
			Str("slot_id", slot.ID.String()).
			Str("promoted_token_id", promoted.ID.String()).
			Msg("slot reallocated")
	}
	return promoted, nil
}

// inSlot runs fn holding the slot's lock, inside a transaction that also holds
// the store-level lock on the slot row.
func (e *Engine) inSlot(ctx context.Context, slotID uuid.UUID, fn func(ctx context.Context) error) error {
	err := e.locker.WithSlotLock(ctx, slotID, func(ctx context.Context) error {
		return e.tokens.WithTx(ctx, func(ctx context.Context) error {
			if err := e.tokens.LockSlot(ctx, slotID); err != nil {
				return err
			}
			return fn(ctx)
		})
	})
	if errors.Is(err, slotlock.ErrNotAcquired) {
		e.log.Warn().Str("slot_id", slotID.String()).Msg("slot busy, lock not acquired")
	}
	return err
}

func (e *Engine) GetToken(ctx context.Context, id uuid.UUID) (*Token, error) {
	return e.tokens.GetToken(ctx, id)
}

// ListTokens returns tokens in priority order.
func (e *Engine) ListTokens(ctx context.Context, f TokenFilter) ([]Token, error) {
	tokens, err := e.tokens.ListTokens(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list tokens: %w", err)
	}
	return tokens, nil
}

func (e *Engine) SlotSummary(ctx context.Context, slotID uuid.UUID) (*SlotSummary, error) {
	slot, err := e.slots.FindSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}

	admitted, err := e.capacity.admitted(ctx, slotID)
	if err != nil {
		return nil, err
	}
	waitlisted, err := e.capacity.waitlisted(ctx, slotID)
	if err != nil {
		return nil, err
	}
	active, err := e.tokens.ListTokens(ctx, TokenFilter{
		SlotIDs:  []uuid.UUID{slotID},
		Statuses: ActiveStatuses,
	})
	if err != nil {
		return nil, fmt.Errorf("list active tokens: %w", err)
	}

	return &SlotSummary{
		Slot:       *slot,
		Admitted:   admitted,
		Waitlisted: waitlisted,
		Active:     active,
	}, nil
}
