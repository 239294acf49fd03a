package clinic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service owns the doctor roster and materializes daily slots from each
// doctor's templates. It never touches tokens.
type Service struct {
	repo Repository
	loc  *time.Location
	log  zerolog.Logger
}

func NewService(repo Repository, loc *time.Location, log zerolog.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		repo: repo,
		loc:  loc,
		log:  log.With().Str("component", "clinic").Logger(),
	}
}

// Location is the reference zone calendar dates are computed in.
func (s *Service) Location() *time.Location {
	return s.loc
}

func (s *Service) CreateDoctor(ctx context.Context, name string, templates []SlotTemplate) (*Doctor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrDoctorNameRequired
	}
	if len(templates) == 0 {
		return nil, ErrNoTemplates
	}

	seen := make(map[string]bool, len(templates))
	for _, tpl := range templates {
		if err := ValidateTemplate(tpl); err != nil {
			return nil, err
		}
		if seen[tpl.StartTime] {
			return nil, fmt.Errorf("%w: duplicate start time %s", ErrInvalidTemplate, tpl.StartTime)
		}
		seen[tpl.StartTime] = true
	}

	d := &Doctor{Name: name, DefaultSlots: templates}
	if err := s.repo.CreateDoctor(ctx, d); err != nil {
		return nil, fmt.Errorf("create doctor: %w", err)
	}

	s.log.Info().Str("doctor_id", d.ID.String()).Int("templates", len(templates)).Msg("doctor created")
	return d, nil
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context) ([]Doctor, error) {
	doctors, err := s.repo.ListDoctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	return doctors, nil
}

// GenerateSlots materializes the slots of date for one doctor, or for every
// doctor when doctorID is nil. Existing slots are returned untouched, so the
// call is safe to repeat.
func (s *Service) GenerateSlots(ctx context.Context, date time.Time, doctorID *uuid.UUID) ([]Slot, error) {
	day := NormalizeDate(date, time.UTC)

	var doctors []Doctor
	if doctorID != nil {
		d, err := s.repo.GetDoctor(ctx, *doctorID)
		if err != nil {
			return nil, err
		}
		doctors = []Doctor{*d}
	} else {
		var err error
		doctors, err = s.repo.ListDoctors(ctx)
		if err != nil {
			return nil, fmt.Errorf("list doctors: %w", err)
		}
	}
	if len(doctors) == 0 {
		return nil, ErrDoctorNotFound
	}

	var slots []Slot
	err := s.repo.WithTx(ctx, func(ctx context.Context) error {
		for _, d := range doctors {
			for _, tpl := range d.DefaultSlots {
				slot, err := s.repo.EnsureSlot(ctx, Slot{
					DoctorID:    d.ID,
					Date:        day,
					StartTime:   tpl.StartTime,
					EndTime:     tpl.EndTime,
					MaxCapacity: tpl.MaxCapacity,
				})
				if err != nil {
					return fmt.Errorf("ensure slot %s %s for doctor %s: %w", FormatDate(day), tpl.StartTime, d.ID, err)
				}
				slots = append(slots, *slot)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().Str("date", FormatDate(day)).Int("doctors", len(doctors)).Int("slots", len(slots)).Msg("slots generated")
	return slots, nil
}

// GenerateRange materializes slots for from .. from+days inclusive.
func (s *Service) GenerateRange(ctx context.Context, from time.Time, days int) (int, error) {
	total := 0
	for i := 0; i <= days; i++ {
		slots, err := s.GenerateSlots(ctx, from.AddDate(0, 0, i), nil)
		if err != nil {
			return total, err
		}
		total += len(slots)
	}
	return total, nil
}

func (s *Service) GetSlot(ctx context.Context, id uuid.UUID) (*Slot, error) {
	return s.repo.FindSlot(ctx, id)
}

func (s *Service) ListSlots(ctx context.Context, f SlotFilter) ([]Slot, error) {
	slots, err := s.repo.ListSlots(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return slots, nil
}

// Today is the current calendar date in the clinic's reference offset.
func (s *Service) Today() time.Time {
	return NormalizeDate(time.Now(), s.loc)
}
