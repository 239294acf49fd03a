package allocation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/db"
	"github.com/hackgods/opd-token-allocation/internal/slotlock"
)

// testClock advances one millisecond per reading so creation times are
// strictly increasing.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fixture struct {
	engine *Engine
	clinic *clinic.Service
	tokens *SQLiteTokenRepository
	doctor *clinic.Doctor
	date   time.Time
	slots  []clinic.Slot
}

func newFixture(t *testing.T, templates ...clinic.SlotTemplate) *fixture {
	t.Helper()
	ctx := context.Background()

	conn, err := db.OpenSQLite(filepath.Join(t.TempDir(), "opd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	repo := clinic.NewSQLiteRepository(conn)
	svc := clinic.NewService(repo, time.UTC, zerolog.Nop())

	doctor, err := svc.CreateDoctor(ctx, "Dr. Rao", templates)
	require.NoError(t, err)

	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)
	slots, err := svc.GenerateSlots(ctx, date, &doctor.ID)
	require.NoError(t, err)

	tokens := NewSQLiteTokenRepository(conn)
	clock := &testClock{t: time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)}
	engine := NewEngine(repo, tokens, slotlock.NewLocal(0), zerolog.Nop(), WithClock(clock.Now))

	return &fixture{engine: engine, clinic: svc, tokens: tokens, doctor: doctor, date: date, slots: slots}
}

func (f *fixture) allocate(t *testing.T, slot clinic.Slot, name string, source Source) *Token {
	t.Helper()
	tok, err := f.engine.Allocate(context.Background(), AllocateRequest{
		SlotID:      slot.ID,
		PatientName: name,
		Source:      source,
	})
	require.NoError(t, err)
	return tok
}

func (f *fixture) get(t *testing.T, id uuid.UUID) *Token {
	t.Helper()
	tok, err := f.engine.GetToken(context.Background(), id)
	require.NoError(t, err)
	return tok
}

// board returns "name:status:seq" for the slot's active tokens in list order.
func (f *fixture) board(t *testing.T, slot clinic.Slot) []string {
	t.Helper()
	active, err := f.engine.ListTokens(context.Background(), TokenFilter{
		SlotIDs:  []uuid.UUID{slot.ID},
		Statuses: ActiveStatuses,
	})
	require.NoError(t, err)

	out := make([]string, 0, len(active))
	for _, tok := range active {
		seq := "-"
		if tok.SequenceInSlot != nil {
			seq = fmt.Sprint(*tok.SequenceInSlot)
		}
		out = append(out, fmt.Sprintf("%s:%s:%s", tok.PatientName, tok.Status, seq))
	}
	return out
}

func seqOf(t *testing.T, tok *Token) int {
	t.Helper()
	require.NotNil(t, tok.SequenceInSlot, "token %s has no sequence", tok.PatientName)
	return *tok.SequenceInSlot
}

func tpl(capacity int) clinic.SlotTemplate {
	return clinic.SlotTemplate{StartTime: "09:00", EndTime: "10:00", MaxCapacity: capacity}
}

func TestAllocate_BooksUntilFullThenWaitlists(t *testing.T) {
	f := newFixture(t, tpl(2))
	slot := f.slots[0]

	a := f.allocate(t, slot, "A", SourceOnline)
	b := f.allocate(t, slot, "B", SourceOnline)
	c := f.allocate(t, slot, "C", SourceOnline)

	assert.Equal(t, StatusBooked, a.Status)
	assert.Equal(t, 1, seqOf(t, a))
	assert.Equal(t, StatusBooked, b.Status)
	assert.Equal(t, 2, seqOf(t, b))
	assert.Equal(t, StatusWaitlist, c.Status)
	assert.Nil(t, c.SequenceInSlot)
}

func TestAllocate_Validation(t *testing.T) {
	f := newFixture(t, tpl(2))
	ctx := context.Background()

	tests := []struct {
		name    string
		req     AllocateRequest
		wantErr error
	}{
		{"blank name", AllocateRequest{SlotID: f.slots[0].ID, PatientName: " ", Source: SourceOnline}, ErrPatientNameRequired},
		{"emergency source", AllocateRequest{SlotID: f.slots[0].ID, PatientName: "A", Source: SourceEmergency}, ErrInvalidSource},
		{"unknown source", AllocateRequest{SlotID: f.slots[0].ID, PatientName: "A", Source: "vip"}, ErrInvalidSource},
		{"missing slot", AllocateRequest{SlotID: uuid.New(), PatientName: "A", Source: SourceOnline}, ErrSlotNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Allocate(ctx, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAllocate_SequenceFollowsPriority(t *testing.T) {
	f := newFixture(t, tpl(5))
	slot := f.slots[0]

	walkin := f.allocate(t, slot, "walkin", SourceWalkin)
	online := f.allocate(t, slot, "online", SourceOnline)
	followup := f.allocate(t, slot, "followup", SourceFollowup)
	priority := f.allocate(t, slot, "priority", SourcePriority)

	assert.Equal(t, 1, seqOf(t, f.get(t, priority.ID)))
	assert.Equal(t, 2, seqOf(t, f.get(t, followup.ID)))
	assert.Equal(t, 3, seqOf(t, f.get(t, online.ID)))
	assert.Equal(t, 4, seqOf(t, f.get(t, walkin.ID)))

	assert.Equal(t, []string{
		"priority:booked:1",
		"followup:booked:2",
		"online:booked:3",
		"walkin:booked:4",
	}, f.board(t, slot))
}

func TestAllocate_FIFOWithinSource(t *testing.T) {
	f := newFixture(t, tpl(3))
	slot := f.slots[0]

	first := f.allocate(t, slot, "first", SourceFollowup)
	second := f.allocate(t, slot, "second", SourceFollowup)

	assert.Greater(t, first.PriorityScore, second.PriorityScore)
	assert.Less(t, seqOf(t, f.get(t, first.ID)), seqOf(t, f.get(t, second.ID)))
}

func TestAllocate_ConcurrentNeverExceedsCapacity(t *testing.T) {
	const capacity, callers = 4, 20

	f := newFixture(t, tpl(capacity))
	slot := f.slots[0]
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.engine.Allocate(ctx, AllocateRequest{
				SlotID:      slot.ID,
				PatientName: fmt.Sprintf("P%02d", i),
				Source:      BookableSources[i%len(BookableSources)],
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	summary, err := f.engine.SlotSummary(ctx, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, capacity, summary.Admitted)
	assert.Equal(t, callers-capacity, summary.Waitlisted)
	assert.Equal(t, 0, summary.Remaining())

	// Sequences of admitted tokens are exactly 1..capacity in list order.
	want := 1
	for _, tok := range summary.Active {
		if tok.Status == StatusWaitlist {
			assert.Nil(t, tok.SequenceInSlot)
			continue
		}
		assert.Equal(t, want, seqOf(t, &tok))
		want++
	}
	assert.Equal(t, capacity+1, want)
}

func TestCancel_ScenarioPromotesWaitlistedToken(t *testing.T) {
	f := newFixture(t, tpl(2))
	slot := f.slots[0]
	ctx := context.Background()

	a := f.allocate(t, slot, "A", SourceOnline)
	b := f.allocate(t, slot, "B", SourceOnline)
	c := f.allocate(t, slot, "C", SourceWalkin)
	require.Equal(t, StatusWaitlist, c.Status)

	out, err := f.engine.Cancel(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Token.Status)
	assert.Nil(t, out.Token.SequenceInSlot)
	require.NotNil(t, out.Promoted)
	assert.Equal(t, c.ID, out.Promoted.ID)
	assert.Equal(t, StatusBooked, out.Promoted.Status)

	assert.Equal(t, 1, seqOf(t, f.get(t, b.ID)))
	assert.Equal(t, 2, seqOf(t, f.get(t, c.ID)))
}

func TestCancel_PromotedPriorityOutranksEarlierBooking(t *testing.T) {
	f := newFixture(t, tpl(2))
	slot := f.slots[0]
	ctx := context.Background()

	a := f.allocate(t, slot, "A", SourceOnline)
	b := f.allocate(t, slot, "B", SourceOnline)
	c := f.allocate(t, slot, "C", SourcePriority)

	_, err := f.engine.Cancel(ctx, a.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, seqOf(t, f.get(t, c.ID)))
	assert.Equal(t, 2, seqOf(t, f.get(t, b.ID)))
}

func TestCancel_PromotesExactlyOneHighestPriority(t *testing.T) {
	f := newFixture(t, tpl(1))
	slot := f.slots[0]
	ctx := context.Background()

	booked := f.allocate(t, slot, "booked", SourceOnline)
	f.allocate(t, slot, "walkin", SourceWalkin)
	f.allocate(t, slot, "online", SourceOnline)
	f.allocate(t, slot, "followup", SourceFollowup)

	out, err := f.engine.Cancel(ctx, booked.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Promoted)
	assert.Equal(t, "followup", out.Promoted.PatientName)

	assert.Equal(t, []string{
		"followup:booked:1",
		"online:waitlist:-",
		"walkin:waitlist:-",
	}, f.board(t, slot))
}

func TestCancel_WaitlistedTokenPromotesNothingWhenFull(t *testing.T) {
	f := newFixture(t, tpl(1))
	slot := f.slots[0]
	ctx := context.Background()

	f.allocate(t, slot, "A", SourceOnline)
	b := f.allocate(t, slot, "B", SourceOnline)
	f.allocate(t, slot, "C", SourceOnline)

	out, err := f.engine.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Token.Status)
	assert.Nil(t, out.Promoted)
	assert.Equal(t, []string{"A:booked:1", "C:waitlist:-"}, f.board(t, slot))
}

func TestMarkNoShow_PromotesLikeCancel(t *testing.T) {
	f := newFixture(t, tpl(1))
	slot := f.slots[0]
	ctx := context.Background()

	a := f.allocate(t, slot, "A", SourceWalkin)
	b := f.allocate(t, slot, "B", SourceWalkin)

	out, err := f.engine.MarkNoShow(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, out.Token.Status)
	require.NotNil(t, out.Promoted)
	assert.Equal(t, b.ID, out.Promoted.ID)
	assert.Equal(t, 1, seqOf(t, out.Promoted))
}

func TestRelease_Errors(t *testing.T) {
	f := newFixture(t, tpl(2))
	slot := f.slots[0]
	ctx := context.Background()

	_, err := f.engine.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrTokenNotFound)

	a := f.allocate(t, slot, "A", SourceOnline)
	_, err = f.engine.Cancel(ctx, a.ID)
	require.NoError(t, err)

	_, err = f.engine.Cancel(ctx, a.ID)
	assert.ErrorIs(t, err, ErrTokenAlreadyFinalized)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	_, err = f.engine.MarkNoShow(ctx, a.ID)
	assert.ErrorIs(t, err, ErrTokenAlreadyFinalized)
}

func TestReallocate_Idempotent(t *testing.T) {
	f := newFixture(t, tpl(3))
	slot := f.slots[0]
	ctx := context.Background()

	f.allocate(t, slot, "A", SourceWalkin)
	f.allocate(t, slot, "B", SourcePriority)
	f.allocate(t, slot, "C", SourceOnline)
	f.allocate(t, slot, "D", SourceFollowup)

	before := f.board(t, slot)
	for i := 0; i < 2; i++ {
		promoted, err := f.engine.Reallocate(ctx, slot.ID)
		require.NoError(t, err)
		assert.Nil(t, promoted)
	}
	assert.Equal(t, before, f.board(t, slot))
	assert.Equal(t, []string{"B:booked:1", "D:waitlist:-", "C:booked:2", "A:booked:3"}, before)

	_, err := f.engine.Reallocate(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrSlotNotFound)
}

func TestClinicFlow(t *testing.T) {
	f := newFixture(t, tpl(2))
	slot := f.slots[0]
	ctx := context.Background()

	a := f.allocate(t, slot, "A", SourceOnline)
	b := f.allocate(t, slot, "B", SourceOnline)
	c := f.allocate(t, slot, "C", SourceOnline)

	_, err := f.engine.StartConsultation(ctx, a.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)
	_, err = f.engine.CheckIn(ctx, c.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition, "waitlisted tokens cannot check in")

	tok, err := f.engine.CheckIn(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, tok.Status)
	assert.Equal(t, 1, seqOf(t, tok))

	tok, err = f.engine.StartConsultation(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInConsultation, tok.Status)

	tok, err = f.engine.Complete(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, tok.Status)
	assert.Nil(t, tok.SequenceInSlot)

	// Completion re-sequences but does not promote.
	assert.Equal(t, []string{"B:booked:1", "C:waitlist:-"}, f.board(t, slot))

	_, err = f.engine.Cancel(ctx, a.ID)
	assert.ErrorIs(t, err, ErrTokenAlreadyFinalized)
	_, err = f.engine.CheckIn(ctx, a.ID)
	assert.ErrorIs(t, err, ErrInvalidStateTransition)

	// A checked-in patient can still be cancelled.
	_, err = f.engine.CheckIn(ctx, b.ID)
	require.NoError(t, err)
	out, err := f.engine.Cancel(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, out.Promoted)
	assert.Equal(t, c.ID, out.Promoted.ID)
}

func TestReallocate_PromotesAfterCompletion(t *testing.T) {
	f := newFixture(t, tpl(1))
	slot := f.slots[0]
	ctx := context.Background()

	a := f.allocate(t, slot, "A", SourceOnline)
	b := f.allocate(t, slot, "B", SourceWalkin)
	c := f.allocate(t, slot, "C", SourceFollowup)

	for _, step := range []func(context.Context, uuid.UUID) (*Token, error){
		f.engine.CheckIn, f.engine.StartConsultation, f.engine.Complete,
	} {
		_, err := step(ctx, a.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"C:waitlist:-", "B:waitlist:-"}, f.board(t, slot))

	promoted, err := f.engine.Reallocate(ctx, slot.ID)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, c.ID, promoted.ID)
	assert.Equal(t, []string{"C:booked:1", "B:waitlist:-"}, f.board(t, slot))
	assert.Equal(t, StatusWaitlist, f.get(t, b.ID).Status)
}

func TestEvents_RecordedPerTransition(t *testing.T) {
	f := newFixture(t, tpl(1))
	slot := f.slots[0]
	ctx := context.Background()

	a := f.allocate(t, slot, "A", SourceOnline)
	f.allocate(t, slot, "B", SourceOnline)
	_, err := f.engine.Cancel(ctx, a.ID)
	require.NoError(t, err)

	events, err := f.tokens.ListEvents(ctx, slot.ID)
	require.NoError(t, err)

	var types []string
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{EventTokenBooked, EventTokenWaitlisted, EventTokenCancelled, EventTokenPromoted}, types)
	assert.Contains(t, string(events[2].Payload), `"previousStatus":"booked"`)
}
