package allocation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

// Source is the intake channel a token arrived through.
type Source string

const (
	SourceOnline    Source = "online"
	SourceWalkin    Source = "walkin"
	SourcePriority  Source = "priority"
	SourceFollowup  Source = "followup"
	SourceEmergency Source = "emergency"
)

// BookableSources are the channels Allocate accepts. Emergency tokens only
// enter through InsertEmergency.
var BookableSources = []Source{SourceOnline, SourceWalkin, SourcePriority, SourceFollowup}

func ParseSource(raw string) (Source, error) {
	s := Source(raw)
	switch s {
	case SourceOnline, SourceWalkin, SourcePriority, SourceFollowup, SourceEmergency:
		return s, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
}

func (s Source) Bookable() bool {
	for _, b := range BookableSources {
		if s == b {
			return true
		}
	}
	return false
}

type Status string

const (
	StatusBooked         Status = "booked"
	StatusWaitlist       Status = "waitlist"
	StatusCheckedIn      Status = "checked_in"
	StatusInConsultation Status = "in_consultation"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusNoShow         Status = "no_show"
)

var (
	// ActiveStatuses are every non-terminal status.
	ActiveStatuses = []Status{StatusBooked, StatusWaitlist, StatusCheckedIn, StatusInConsultation}

	// AdmittedStatuses count against a slot's capacity.
	AdmittedStatuses = []Status{StatusBooked, StatusCheckedIn, StatusInConsultation}
)

func ParseStatus(raw string) (Status, error) {
	s := Status(raw)
	switch s {
	case StatusBooked, StatusWaitlist, StatusCheckedIn, StatusInConsultation,
		StatusCompleted, StatusCancelled, StatusNoShow:
		return s, nil
	}
	return "", fmt.Errorf("invalid status %q", raw)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

func (s Status) Admitted() bool {
	return s == StatusBooked || s == StatusCheckedIn || s == StatusInConsultation
}

// Metadata is the closed set of optional facts attached to a token.
type Metadata struct {
	EmergencyReason string `json:"emergencyReason,omitempty"`
}

// Token is one patient's claim on a slot. Status, PriorityScore and
// SequenceInSlot are written only by the Engine.
type Token struct {
	ID             uuid.UUID
	SlotID         uuid.UUID
	PatientName    string
	Phone          *string
	Source         Source
	Status         Status
	PriorityScore  int64
	SequenceInSlot *int // nil unless the token is admitted
	Metadata       *Metadata
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TokenFilter narrows ListTokens. Nil slices mean "any".
type TokenFilter struct {
	SlotIDs  []uuid.UUID
	Statuses []Status
	Limit    int
}

type EventLog struct {
	ID        int64
	EventType string
	TokenID   *uuid.UUID
	SlotID    *uuid.UUID
	Payload   []byte
	CreatedAt time.Time
}

// Outcome is the result of a capacity-freeing operation.
type Outcome struct {
	Token    *Token
	Promoted *Token
}

// SlotSummary is the capacity tracker's view of one slot.
type SlotSummary struct {
	Slot       clinic.Slot
	Admitted   int
	Waitlisted int
	Active     []Token
}

func (s SlotSummary) Remaining() int {
	if r := s.Slot.MaxCapacity - s.Admitted; r > 0 {
		return r
	}
	return 0
}
