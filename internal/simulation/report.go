package simulation

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

const (
	ActionAllocate  = "allocate"
	ActionCancel    = "cancel"
	ActionNoShow    = "no_show"
	ActionEmergency = "emergency"
)

// Action is one step the scenario took, in the order it took it.
type Action struct {
	Kind     string            `json:"action"`
	Patient  string            `json:"patient"`
	Source   allocation.Source `json:"source"`
	Slot     string            `json:"slot"`
	Status   allocation.Status `json:"status,omitempty"`
	Promoted string            `json:"promoted,omitempty"`
	Err      string            `json:"error,omitempty"`
}

func (a Action) String() string {
	s := fmt.Sprintf("%s %q source=%s slot=%q", a.Kind, a.Patient, a.Source, a.Slot)
	if a.Err != "" {
		return s + " error=" + strconv.Quote(a.Err)
	}
	s += " status=" + string(a.Status)
	if a.Promoted != "" {
		s += fmt.Sprintf(" promoted=%q", a.Promoted)
	}
	return s
}

// Board is a slot's end-of-day view.
type Board struct {
	Label      string
	Capacity   int
	Admitted   int
	Waitlisted int
	Tokens     []allocation.Token
}

type Report struct {
	Date    time.Time
	Doctors []clinic.Doctor
	Slots   int
	Actions []Action
	Summary map[allocation.Status]map[allocation.Source]int
	Boards  []Board
}

var (
	statusOrder = []allocation.Status{
		allocation.StatusBooked,
		allocation.StatusWaitlist,
		allocation.StatusCheckedIn,
		allocation.StatusInConsultation,
		allocation.StatusCompleted,
		allocation.StatusCancelled,
		allocation.StatusNoShow,
	}
	sourceOrder = []allocation.Source{
		allocation.SourceEmergency,
		allocation.SourcePriority,
		allocation.SourceFollowup,
		allocation.SourceOnline,
		allocation.SourceWalkin,
	}
)

// WriteText renders the report for terminals and golden files. Output is
// deterministic for a given scenario: no ids or timestamps.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder

	names := make([]string, len(r.Doctors))
	for i, d := range r.Doctors {
		names[i] = d.Name
	}

	fmt.Fprintf(&b, "OPD day simulation %s\n", clinic.FormatDate(r.Date))
	fmt.Fprintf(&b, "doctors: %d (%s)\n", len(r.Doctors), strings.Join(names, ", "))
	fmt.Fprintf(&b, "slots: %d\n", r.Slots)

	b.WriteString("\nactions:\n")
	for _, a := range r.Actions {
		b.WriteString("  " + a.String() + "\n")
	}

	b.WriteString("\nsummary:\n")
	for _, status := range statusOrder {
		bySource := r.Summary[status]
		if len(bySource) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %s:", status)
		for _, source := range sourceOrder {
			if n := bySource[source]; n > 0 {
				fmt.Fprintf(&b, " %s=%d", source, n)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("\nboard:\n")
	for _, board := range r.Boards {
		fmt.Fprintf(&b, "  %s capacity=%d admitted=%d waitlist=%d\n",
			board.Label, board.Capacity, board.Admitted, board.Waitlisted)
		for _, t := range board.Tokens {
			seq := "-"
			if t.SequenceInSlot != nil {
				seq = strconv.Itoa(*t.SequenceInSlot)
			}
			fmt.Fprintf(&b, "    %s %s (%s, %s)\n", seq, t.PatientName, t.Source, t.Status)
		}
	}

	_, err := io.WriteString(w, b.String())
	return err
}
