// Package simulation drives a full OPD day through the allocation engine: it
// books every slot past capacity, cancels, marks a no-show, inserts an
// emergency and reports the resulting boards. It only uses the engine's
// public operations.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

// MinDoctors is how many doctors a simulated day needs.
const MinDoctors = 3

const (
	emergencyPatient = "Emergency Patient Alpha"
	emergencyReason  = "Simulated emergency"
	defaultPhone     = "9876543210"
	emergencyPhone   = "9999999999"
)

var sourceCycle = []allocation.Source{
	allocation.SourceOnline,
	allocation.SourceWalkin,
	allocation.SourcePriority,
	allocation.SourceFollowup,
}

type Options struct {
	Date time.Time // calendar date; today when zero

	// Overflow is how many tokens past capacity each slot receives.
	Overflow int

	// Roster supplies doctors when fewer than MinDoctors exist. Defaults to
	// DefaultRoster.
	Roster *Roster
}

type Runner struct {
	clinic *clinic.Service
	engine *allocation.Engine
	log    zerolog.Logger
}

func NewRunner(clinicSvc *clinic.Service, engine *allocation.Engine, log zerolog.Logger) *Runner {
	return &Runner{
		clinic: clinicSvc,
		engine: engine,
		log:    log.With().Str("component", "simulation").Logger(),
	}
}

type issued struct {
	id     uuid.UUID
	source allocation.Source
	label  string
	name   string
}

// Run plays one OPD day. Per-step engine failures are recorded in the report
// rather than aborting the day; failures to set the day up are returned.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	date := opts.Date
	if date.IsZero() {
		date = r.clinic.Today()
	}
	date = clinic.NormalizeDate(date, time.UTC)

	roster := DefaultRoster()
	if opts.Roster != nil {
		roster = *opts.Roster
	}

	doctors, err := r.ensureDoctors(ctx, roster)
	if err != nil {
		return nil, err
	}

	slots, err := r.clinic.GenerateSlots(ctx, date, nil)
	if err != nil {
		return nil, fmt.Errorf("generate slots: %w", err)
	}

	names := make(map[uuid.UUID]string, len(doctors))
	for _, d := range doctors {
		names[d.ID] = d.Name
	}
	sort.SliceStable(slots, func(i, j int) bool {
		if ni, nj := names[slots[i].DoctorID], names[slots[j].DoctorID]; ni != nj {
			return ni < nj
		}
		return slots[i].StartTime < slots[j].StartTime
	})
	label := func(s clinic.Slot) string {
		return fmt.Sprintf("%s %s-%s", names[s.DoctorID], s.StartTime, s.EndTime)
	}

	report := &Report{
		Date:    date,
		Doctors: doctors,
		Slots:   len(slots),
	}

	r.log.Info().
		Str("date", clinic.FormatDate(date)).
		Int("doctors", len(doctors)).
		Int("slots", len(slots)).
		Msg("simulation started")

	var tokens []issued
	phone := defaultPhone
	for _, slot := range slots {
		for i := 0; i < slot.MaxCapacity+opts.Overflow; i++ {
			source := sourceCycle[i%len(sourceCycle)]
			name := fmt.Sprintf("Patient-%s-%s-%d", names[slot.DoctorID], slot.StartTime, i+1)
			action := Action{Kind: ActionAllocate, Patient: name, Source: source, Slot: label(slot)}

			t, err := r.engine.Allocate(ctx, allocation.AllocateRequest{
				SlotID:      slot.ID,
				PatientName: name,
				Phone:       &phone,
				Source:      source,
			})
			if err != nil {
				action.Err = err.Error()
			} else {
				action.Status = t.Status
				tokens = append(tokens, issued{id: t.ID, source: source, label: action.Slot, name: name})
			}
			report.Actions = append(report.Actions, action)
		}
	}

	for _, t := range pick(tokens, allocation.SourceOnline, 2) {
		out, err := r.engine.Cancel(ctx, t.id)
		report.Actions = append(report.Actions, released(ActionCancel, t, out, err))
	}
	for _, t := range pick(tokens, allocation.SourceWalkin, 1) {
		out, err := r.engine.MarkNoShow(ctx, t.id)
		report.Actions = append(report.Actions, released(ActionNoShow, t, out, err))
	}

	if first := firstSlotOf(slots, doctors); first != nil {
		action := Action{Kind: ActionEmergency, Patient: emergencyPatient, Source: allocation.SourceEmergency, Slot: label(*first)}
		ePhone := emergencyPhone
		t, err := r.engine.InsertEmergency(ctx, allocation.EmergencyRequest{
			DoctorID:        first.DoctorID,
			Date:            date,
			PreferredSlotID: &first.ID,
			PatientName:     emergencyPatient,
			Phone:           &ePhone,
			Reason:          emergencyReason,
		})
		if err != nil {
			action.Err = err.Error()
		} else {
			action.Status = t.Status
			action.Slot = slotLabel(slots, t.SlotID, label)
		}
		report.Actions = append(report.Actions, action)
	}

	if err := r.summarize(ctx, report, slots, label); err != nil {
		return nil, err
	}

	r.log.Info().Int("actions", len(report.Actions)).Msg("simulation finished")
	return report, nil
}

// ensureDoctors tops the roster up to MinDoctors from the given roster and
// returns every doctor sorted by name.
func (r *Runner) ensureDoctors(ctx context.Context, roster Roster) ([]clinic.Doctor, error) {
	doctors, err := r.clinic.ListDoctors(ctx)
	if err != nil {
		return nil, err
	}

	if len(doctors) < MinDoctors {
		existing := make(map[string]bool, len(doctors))
		for _, d := range doctors {
			existing[d.Name] = true
		}
		for _, rd := range roster.Doctors {
			if len(doctors) >= MinDoctors {
				break
			}
			if existing[rd.Name] {
				continue
			}
			d, err := r.clinic.CreateDoctor(ctx, rd.Name, rd.Slots)
			if err != nil {
				return nil, fmt.Errorf("create roster doctor %q: %w", rd.Name, err)
			}
			doctors = append(doctors, *d)
		}
	}
	if len(doctors) == 0 {
		return nil, errors.New("simulation needs at least one doctor")
	}

	sort.SliceStable(doctors, func(i, j int) bool { return doctors[i].Name < doctors[j].Name })
	return doctors, nil
}

func (r *Runner) summarize(ctx context.Context, report *Report, slots []clinic.Slot, label func(clinic.Slot) string) error {
	ids := make([]uuid.UUID, len(slots))
	for i, s := range slots {
		ids[i] = s.ID
	}

	all, err := r.engine.ListTokens(ctx, allocation.TokenFilter{SlotIDs: ids})
	if err != nil {
		return err
	}
	report.Summary = make(map[allocation.Status]map[allocation.Source]int)
	for _, t := range all {
		if report.Summary[t.Status] == nil {
			report.Summary[t.Status] = make(map[allocation.Source]int)
		}
		report.Summary[t.Status][t.Source]++
	}

	for _, s := range slots {
		sum, err := r.engine.SlotSummary(ctx, s.ID)
		if err != nil {
			return fmt.Errorf("summarize slot %s: %w", s.ID, err)
		}
		report.Boards = append(report.Boards, Board{
			Label:      label(s),
			Capacity:   s.MaxCapacity,
			Admitted:   sum.Admitted,
			Waitlisted: sum.Waitlisted,
			Tokens:     sum.Active,
		})
	}
	return nil
}

func pick(tokens []issued, source allocation.Source, n int) []issued {
	var out []issued
	for _, t := range tokens {
		if len(out) == n {
			break
		}
		if t.source == source {
			out = append(out, t)
		}
	}
	return out
}

func released(kind string, t issued, out *allocation.Outcome, err error) Action {
	a := Action{Kind: kind, Patient: t.name, Source: t.source, Slot: t.label}
	if err != nil {
		a.Err = err.Error()
		return a
	}
	a.Status = out.Token.Status
	if out.Promoted != nil {
		a.Promoted = out.Promoted.PatientName
	}
	return a
}

// firstSlotOf returns the earliest slot of the first doctor (by name) that has
// one on the day.
func firstSlotOf(slots []clinic.Slot, doctors []clinic.Doctor) *clinic.Slot {
	for _, d := range doctors {
		for i := range slots {
			if slots[i].DoctorID == d.ID {
				return &slots[i]
			}
		}
	}
	return nil
}

func slotLabel(slots []clinic.Slot, id uuid.UUID, label func(clinic.Slot) string) string {
	for _, s := range slots {
		if s.ID == id {
			return label(s)
		}
	}
	return id.String()
}
