package allocation

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

var (
	ErrSlotNotFound           = clinic.ErrSlotNotFound
	ErrInvalidCapacity        = clinic.ErrInvalidCapacity
	ErrTokenNotFound          = errors.New("token not found")
	ErrTokenAlreadyFinalized  = errors.New("token already cancelled, no-show, or completed")
	ErrInvalidStateTransition = errors.New("invalid status transition")
	ErrNoSlotAvailable        = errors.New("no slot found for doctor on the given date")
	ErrInvalidSource          = errors.New("invalid token source")
	ErrPatientNameRequired    = errors.New("patient name is required")
)

// SlotStore is the read side of the slot collaborator the engine needs.
type SlotStore interface {
	FindSlot(ctx context.Context, id uuid.UUID) (*clinic.Slot, error)
	FindSlotsForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]clinic.Slot, error)
}

// TokenStore contains all token persistence the engine needs. Methods called
// with a ctx produced by WithTx run inside that transaction.
type TokenStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	// LockSlot takes the store-level lock on a slot's row for the rest of the
	// transaction.
	LockSlot(ctx context.Context, slotID uuid.UUID) error

	CreateToken(ctx context.Context, t *Token) error
	GetToken(ctx context.Context, id uuid.UUID) (*Token, error)

	// UpdateTokenStatus moves a token from one status to another and fails
	// with ErrTokenNotFound when the token is not currently in from.
	UpdateTokenStatus(ctx context.Context, id uuid.UUID, from, to Status, at time.Time) (*Token, error)
	SetSequence(ctx context.Context, id uuid.UUID, seq *int, at time.Time) error

	// CountTokens counts a slot's tokens in the given statuses; nil means all.
	CountTokens(ctx context.Context, slotID uuid.UUID, statuses []Status) (int, error)

	// ListTokens orders by priority score descending, then creation time.
	ListTokens(ctx context.Context, f TokenFilter) ([]Token, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
