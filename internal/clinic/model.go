package clinic

import (
	"time"

	"github.com/google/uuid"
)

// SlotTemplate is one entry of a doctor's recurring day. Times are wall-clock
// "HH:MM" in the clinic's reference offset.
type SlotTemplate struct {
	StartTime   string `json:"startTime" yaml:"start_time"`
	EndTime     string `json:"endTime" yaml:"end_time"`
	MaxCapacity int    `json:"maxCapacity" yaml:"max_capacity"`
}

type Doctor struct {
	ID           uuid.UUID
	Name         string
	DefaultSlots []SlotTemplate
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Slot is a doctor's capacity unit for one calendar date. Date is always UTC
// midnight of that calendar date (see NormalizeDate).
type Slot struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        time.Time
	StartTime   string
	EndTime     string
	MaxCapacity int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// SlotFilter narrows ListSlots. Zero values mean "any".
type SlotFilter struct {
	Date     *time.Time
	DoctorID *uuid.UUID
}
