package clinic

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound     = errors.New("doctor not found")
	ErrSlotNotFound       = errors.New("slot not found")
	ErrDoctorNameRequired = errors.New("doctor name is required")
	ErrNoTemplates        = errors.New("doctor needs at least one default slot")
	ErrInvalidTemplate    = errors.New("invalid slot template")
	ErrInvalidCapacity    = errors.New("slot capacity must be at least 1")
	ErrInvalidDate        = errors.New("invalid date")
)

// Repository is the doctor roster and Slot Store.
type Repository interface {
	CreateDoctor(ctx context.Context, d *Doctor) error
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	ListDoctors(ctx context.Context) ([]Doctor, error)

	// EnsureSlot inserts s unless a slot already exists for the same
	// (doctor, date, start time); either way the stored slot is returned.
	EnsureSlot(ctx context.Context, s Slot) (*Slot, error)
	FindSlot(ctx context.Context, id uuid.UUID) (*Slot, error)
	FindSlotsForDoctorOnDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error)
	ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error)

	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}
