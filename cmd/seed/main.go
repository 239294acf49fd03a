package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/opd-token-allocation/internal/app"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/logging"
	"github.com/hackgods/opd-token-allocation/internal/simulation"
)

func main() {
	var (
		doctors    int
		days       int
		rosterPath string
		seed       uint64
	)

	rootCmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed doctors and materialize their slots",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Env, cfg.LogLevel)

			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()

			a, err := app.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Migrate(ctx); err != nil {
				return err
			}

			if seed == 0 {
				seed = uint64(time.Now().UnixNano())
			}
			faker := gofakeit.New(seed)

			var roster simulation.Roster
			if rosterPath != "" {
				roster, err = simulation.LoadRoster(rosterPath)
				if err != nil {
					return err
				}
			} else {
				roster = fakeRoster(faker, doctors)
			}

			if err := seedDoctors(ctx, a.Clinic, roster, logger); err != nil {
				return err
			}

			n, err := a.Clinic.GenerateRange(ctx, a.Clinic.Today(), days)
			if err != nil {
				return fmt.Errorf("generate slots: %w", err)
			}
			logger.Info().Int("slots", n).Int("days", days).Msg("seed complete")
			return nil
		},
	}

	rootCmd.Flags().IntVar(&doctors, "doctors", 10, "number of fake doctors to create")
	rootCmd.Flags().IntVar(&days, "days", 7, "days ahead (after today) to materialize slots for")
	rootCmd.Flags().StringVar(&rosterPath, "roster", "", "YAML roster to seed instead of fake doctors")
	rootCmd.Flags().Uint64Var(&seed, "seed", 0, "faker seed, 0 picks one from the clock")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func seedDoctors(ctx context.Context, svc *clinic.Service, roster simulation.Roster, logger zerolog.Logger) error {
	logger.Info().Int("doctors", len(roster.Doctors)).Msg("seeding doctors")

	for _, d := range roster.Doctors {
		doc, err := svc.CreateDoctor(ctx, d.Name, d.Slots)
		if err != nil {
			return fmt.Errorf("create doctor %q: %w", d.Name, err)
		}
		logger.Debug().
			Str("doctor_id", doc.ID.String()).
			Str("name", doc.Name).
			Int("templates", len(doc.DefaultSlots)).
			Msg("doctor seeded")
	}
	return nil
}

// fakeRoster builds doctors with one to three consecutive hour-long slots
// starting somewhere between 08:00 and 11:00.
func fakeRoster(faker *gofakeit.Faker, count int) simulation.Roster {
	roster := simulation.Roster{Doctors: make([]simulation.RosterDoctor, 0, count)}

	for i := 0; i < count; i++ {
		startHour := faker.Number(8, 11)
		slots := faker.Number(1, 3)

		templates := make([]clinic.SlotTemplate, 0, slots)
		for s := 0; s < slots; s++ {
			h := startHour + s
			templates = append(templates, clinic.SlotTemplate{
				StartTime:   fmt.Sprintf("%02d:00", h),
				EndTime:     fmt.Sprintf("%02d:00", h+1),
				MaxCapacity: faker.Number(3, 8),
			})
		}

		roster.Doctors = append(roster.Doctors, simulation.RosterDoctor{
			Name:  "Dr. " + faker.FirstName() + " " + faker.LastName(),
			Slots: templates,
		})
	}
	return roster
}
