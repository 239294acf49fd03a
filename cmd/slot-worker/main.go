package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/app"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/config"
	"github.com/hackgods/opd-token-allocation/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("config load error")
	}
	logger := logging.New(cfg.Env, cfg.LogLevel).With().Str("service", "slot-worker").Logger()

	logger.Info().
		Dur("interval", cfg.WorkerInterval).
		Int("horizon_days", cfg.SlotHorizonDays).
		Msg("slot worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup error")
	}
	defer a.Close()

	// Run once at startup
	runOnce(rootCtx, a.Clinic, cfg.SlotHorizonDays, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping slot worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, a.Clinic, cfg.SlotHorizonDays, logger)
		}
	}
}

// runOnce materializes slots from today through today+horizon. Slot
// generation is idempotent, so overlapping runs only fill gaps.
func runOnce(ctx context.Context, svc *clinic.Service, horizon int, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.GenerateRange(runCtx, svc.Today(), horizon)
	if err != nil {
		logger.Error().Err(err).Int("slots", n).Msg("slot generation run error")
		return
	}
	logger.Info().Int("slots", n).Dur("took", time.Since(start)).Msg("slot generation run complete")
}
