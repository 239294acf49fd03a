package allocation

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// clinicFlow lists the forward moves a patient makes through the clinic.
var clinicFlow = map[Status]Status{
	StatusBooked:         StatusCheckedIn,
	StatusCheckedIn:      StatusInConsultation,
	StatusInConsultation: StatusCompleted,
}

func (e *Engine) CheckIn(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	return e.advance(ctx, tokenID, StatusCheckedIn)
}

func (e *Engine) StartConsultation(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	return e.advance(ctx, tokenID, StatusInConsultation)
}

func (e *Engine) Complete(ctx context.Context, tokenID uuid.UUID) (*Token, error) {
	return e.advance(ctx, tokenID, StatusCompleted)
}

// advance moves a token one step along the clinic flow. It re-sequences the
// slot but never promotes; Reallocate does that.
func (e *Engine) advance(ctx context.Context, tokenID uuid.UUID, to Status) (*Token, error) {
	current, err := e.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	var token *Token
	err = e.inSlot(ctx, current.SlotID, func(ctx context.Context) error {
		t, err := e.tokens.GetToken(ctx, tokenID)
		if err != nil {
			return err
		}
		if next, ok := clinicFlow[t.Status]; !ok || next != to {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, t.Status, to)
		}

		previous := t.Status
		updated, err := e.tokens.UpdateTokenStatus(ctx, t.ID, previous, to, e.now().UTC())
		if err != nil {
			return err
		}
		if err := e.recordEvent(ctx, EventTokenStatusChanged, updated, previous); err != nil {
			return err
		}
		if err := e.resequence(ctx, t.SlotID); err != nil {
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
		Str("status", string(token.Status)).
		Msg("token status changed")
	return token, nil
}
