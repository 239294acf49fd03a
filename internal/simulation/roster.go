package simulation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

// Roster is the set of doctors a simulation creates when the clinic has fewer
// than MinDoctors on record.
type Roster struct {
	Doctors []RosterDoctor `yaml:"doctors"`
}

type RosterDoctor struct {
	Name  string                `yaml:"name"`
	Slots []clinic.SlotTemplate `yaml:"slots"`
}

// DefaultRoster is used when no roster file is given.
func DefaultRoster() Roster {
	return Roster{Doctors: []RosterDoctor{
		{Name: "Dr. Rajesh Kumar", Slots: []clinic.SlotTemplate{
			{StartTime: "09:00", EndTime: "10:00", MaxCapacity: 5},
			{StartTime: "10:00", EndTime: "11:00", MaxCapacity: 5},
			{StartTime: "11:00", EndTime: "12:00", MaxCapacity: 5},
		}},
		{Name: "Dr. Priya Nair", Slots: []clinic.SlotTemplate{
			{StartTime: "09:00", EndTime: "10:00", MaxCapacity: 4},
			{StartTime: "10:00", EndTime: "11:00", MaxCapacity: 4},
		}},
		{Name: "Dr. Suresh Menon", Slots: []clinic.SlotTemplate{
			{StartTime: "10:00", EndTime: "11:00", MaxCapacity: 6},
			{StartTime: "11:00", EndTime: "12:00", MaxCapacity: 6},
		}},
	}}
}

// LoadRoster reads a YAML roster file.
func LoadRoster(path string) (Roster, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Roster{}, fmt.Errorf("read roster file: %w", err)
	}
	return ParseRoster(bytes.NewReader(data))
}

// ParseRoster decodes a roster and rejects unknown fields, so a typo such as
// "max_capcity" fails loudly instead of producing a zero capacity.
func ParseRoster(r io.Reader) (Roster, error) {
	var roster Roster
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&roster); err != nil {
		return Roster{}, fmt.Errorf("parse roster: %w", err)
	}
	if err := roster.Validate(); err != nil {
		return Roster{}, err
	}
	return roster, nil
}

func (r Roster) Validate() error {
	if len(r.Doctors) == 0 {
		return errors.New("roster has no doctors")
	}
	for i, d := range r.Doctors {
		if d.Name == "" {
			return fmt.Errorf("roster doctor %d: %w", i, clinic.ErrDoctorNameRequired)
		}
		if len(d.Slots) == 0 {
			return fmt.Errorf("roster doctor %q: %w", d.Name, clinic.ErrNoTemplates)
		}
		for _, tpl := range d.Slots {
			if err := clinic.ValidateTemplate(tpl); err != nil {
				return fmt.Errorf("roster doctor %q: %w", d.Name, err)
			}
		}
	}
	return nil
}
