package allocation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

type EmergencyRequest struct {
	DoctorID        uuid.UUID
	Date            time.Time // calendar date, normalized by the caller
	PreferredSlotID *uuid.UUID
	PatientName     string
	Phone           *string
	Reason          string
}

// InsertEmergency admits an emergency patient ahead of everyone else. The
// token is booked even into a full slot; if that leaves the slot over
// capacity, only the new token is moved to the waitlist. Existing admitted
// tokens are never displaced.
func (e *Engine) InsertEmergency(ctx context.Context, req EmergencyRequest) (*Token, error) {
	name := strings.TrimSpace(req.PatientName)
	if name == "" {
		return nil, ErrPatientNameRequired
	}

	slot, err := e.emergencySlot(ctx, req)
	if err != nil {
		return nil, err
	}
	if slot.MaxCapacity < 1 {
		return nil, fmt.Errorf("%w: slot %s has capacity %d", ErrInvalidCapacity, slot.ID, slot.MaxCapacity)
	}

	var token *Token
	err = e.inSlot(ctx, slot.ID, func(ctx context.Context) error {
		arrival, err := e.capacity.nextArrival(ctx, slot.ID)
		if err != nil {
			return err
		}
		score, err := Score(SourceEmergency, arrival)
		if err != nil {
			return err
		}

		now := e.now().UTC()
		t := &Token{
			SlotID:        slot.ID,
			PatientName:   name,
			Phone:         req.Phone,
			Source:        SourceEmergency,
			Status:        StatusBooked,
			PriorityScore: score,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			t.Metadata = &Metadata{EmergencyReason: reason}
		}

		if err := e.tokens.CreateToken(ctx, t); err != nil {
			return err
		}
		if err := e.recordEvent(ctx, EventEmergencyInserted, t, ""); err != nil {
			return err
		}

		admitted, err := e.capacity.admitted(ctx, slot.ID)
		if err != nil {
			return err
		}
		if admitted > slot.MaxCapacity {
			demoted, err := e.tokens.UpdateTokenStatus(ctx, t.ID, StatusBooked, StatusWaitlist, now)
			if err != nil {
				return fmt.Errorf("waitlist emergency token: %w", err)
			}
			if err := e.recordEvent(ctx, EventEmergencyWaitlisted, demoted, StatusBooked); err != nil {
				return err
			}
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

	e.log.Warn().
		Str("token_id", token.ID.String()).
		Str("slot_id", slot.ID.String()).
		Str("doctor_id", req.DoctorID.String()).
		Str("status", string(token.Status)).
		Msg("emergency inserted")
	return token, nil
}

// emergencySlot picks the preferred slot when it exists and belongs to the
// doctor, otherwise the doctor's earliest slot on the date.
func (e *Engine) emergencySlot(ctx context.Context, req EmergencyRequest) (*clinic.Slot, error) {
	if req.PreferredSlotID != nil {
		slot, err := e.slots.FindSlot(ctx, *req.PreferredSlotID)
		switch {
		case err == nil && slot.DoctorID == req.DoctorID:
			return slot, nil
		case err != nil && !errors.Is(err, ErrSlotNotFound):
			return nil, err
		}
		e.log.Debug().
			Str("preferred_slot_id", req.PreferredSlotID.String()).
			Msg("preferred slot unusable, falling back to earliest slot")
	}

	slots, err := e.slots.FindSlotsForDoctorOnDate(ctx, req.DoctorID, req.Date)
	if err != nil {
		return nil, fmt.Errorf("find doctor slots: %w", err)
	}
	if len(slots) == 0 {
		return nil, fmt.Errorf("%w: doctor %s on %s", ErrNoSlotAvailable, req.DoctorID, clinic.FormatDate(req.Date))
	}
	return &slots[0], nil
}
