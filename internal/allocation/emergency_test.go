package allocation

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

func twoSlots(capacity int) []clinic.SlotTemplate {
	return []clinic.SlotTemplate{
		{StartTime: "09:00", EndTime: "10:00", MaxCapacity: capacity},
		{StartTime: "10:00", EndTime: "11:00", MaxCapacity: capacity},
	}
}

func TestInsertEmergency_FullSlotWaitlistsOnlyTheNewToken(t *testing.T) {
	f := newFixture(t, twoSlots(2)...)
	ctx := context.Background()
	first := f.slots[0]

	a := f.allocate(t, first, "A", SourceWalkin)
	b := f.allocate(t, first, "B", SourceOnline)

	tok, err := f.engine.InsertEmergency(ctx, EmergencyRequest{
		DoctorID:    f.doctor.ID,
		Date:        f.date,
		PatientName: "E",
		Reason:      "chest pain",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, tok.SlotID, "falls back to the earliest slot")
	assert.Equal(t, SourceEmergency, tok.Source)
	assert.Equal(t, StatusWaitlist, tok.Status)
	assert.Nil(t, tok.SequenceInSlot)
	require.NotNil(t, tok.Metadata)
	assert.Equal(t, "chest pain", tok.Metadata.EmergencyReason)

	assert.Equal(t, StatusBooked, f.get(t, a.ID).Status)
	assert.Equal(t, StatusBooked, f.get(t, b.ID).Status)

	summary, err := f.engine.SlotSummary(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Admitted)
	assert.Equal(t, 1, summary.Waitlisted)

	// The emergency heads the waitlist and is the next promotion.
	out, err := f.engine.Cancel(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Promoted)
	assert.Equal(t, tok.ID, out.Promoted.ID)
	assert.Equal(t, 1, seqOf(t, out.Promoted))
}

func TestInsertEmergency_RoomJumpsTheQueue(t *testing.T) {
	f := newFixture(t, twoSlots(3)...)
	ctx := context.Background()
	first := f.slots[0]

	f.allocate(t, first, "A", SourcePriority)
	f.allocate(t, first, "B", SourceOnline)

	tok, err := f.engine.InsertEmergency(ctx, EmergencyRequest{
		DoctorID:    f.doctor.ID,
		Date:        f.date,
		PatientName: "E",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, tok.Status)
	assert.Nil(t, tok.Metadata)
	assert.Equal(t, []string{"E:booked:1", "A:booked:2", "B:booked:3"}, f.board(t, first))
}

func TestInsertEmergency_PreferredSlot(t *testing.T) {
	f := newFixture(t, twoSlots(1)...)
	ctx := context.Background()
	second := f.slots[1]

	tok, err := f.engine.InsertEmergency(ctx, EmergencyRequest{
		DoctorID:        f.doctor.ID,
		Date:            f.date,
		PreferredSlotID: &second.ID,
		PatientName:     "E",
	})
	require.NoError(t, err)
	assert.Equal(t, second.ID, tok.SlotID)

	// Unknown preferred slot falls back to the earliest one.
	missing := uuid.New()
	tok, err = f.engine.InsertEmergency(ctx, EmergencyRequest{
		DoctorID:        f.doctor.ID,
		Date:            f.date,
		PreferredSlotID: &missing,
		PatientName:     "F",
	})
	require.NoError(t, err)
	assert.Equal(t, f.slots[0].ID, tok.SlotID)
}

func TestInsertEmergency_PreferredSlotOfAnotherDoctor(t *testing.T) {
	f := newFixture(t, twoSlots(1)...)
	ctx := context.Background()

	other, err := f.clinic.CreateDoctor(ctx, "Dr. Pillai", []clinic.SlotTemplate{
		{StartTime: "08:00", EndTime: "09:00", MaxCapacity: 4},
	})
	require.NoError(t, err)
	otherSlots, err := f.clinic.GenerateSlots(ctx, f.date, &other.ID)
	require.NoError(t, err)
	require.Len(t, otherSlots, 1)

	tok, err := f.engine.InsertEmergency(ctx, EmergencyRequest{
		DoctorID:        f.doctor.ID,
		Date:            f.date,
		PreferredSlotID: &otherSlots[0].ID,
		PatientName:     "E",
	})
	require.NoError(t, err)
	assert.Equal(t, f.slots[0].ID, tok.SlotID)
	assert.Equal(t, StatusBooked, tok.Status)

	n, err := f.tokens.CountTokens(ctx, otherSlots[0].ID, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestInsertEmergency_NoSlot(t *testing.T) {
	f := newFixture(t, twoSlots(1)...)
	ctx := context.Background()

	_, err := f.engine.InsertEmergency(ctx, EmergencyRequest{
		DoctorID:    f.doctor.ID,
		Date:        f.date.AddDate(0, 0, 1),
		PatientName: "E",
	})
	assert.ErrorIs(t, err, ErrNoSlotAvailable)

	_, err = f.engine.InsertEmergency(ctx, EmergencyRequest{
		DoctorID:    uuid.New(),
		Date:        f.date,
		PatientName: "E",
	})
	assert.ErrorIs(t, err, ErrNoSlotAvailable)

	_, err = f.engine.InsertEmergency(ctx, EmergencyRequest{DoctorID: f.doctor.ID, Date: f.date})
	assert.ErrorIs(t, err, ErrPatientNameRequired)
}
