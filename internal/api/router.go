package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/simulation"
)

type RouterConfig struct {
	Clinic     *clinic.Service
	Engine     *allocation.Engine
	Simulation *simulation.Runner
	Checks     []Check
	Logger     zerolog.Logger
	Env        string
	Version    string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Env, cfg.Version, cfg.Checks...)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	engine := cfg.Engine
	r.Route("/api", func(r chi.Router) {
		r.Route("/doctors", func(r chi.Router) {
			r.Post("/", createDoctorHandler(cfg.Clinic))
			r.Get("/", listDoctorsHandler(cfg.Clinic))
			r.Get("/{id}", getDoctorHandler(cfg.Clinic))
		})

		r.Route("/slots", func(r chi.Router) {
			r.Post("/generate", generateSlotsHandler(cfg.Clinic))
			r.Get("/", listSlotsHandler(cfg.Clinic))
			r.Get("/{id}", getSlotHandler(cfg.Clinic))
			r.Get("/{id}/summary", slotSummaryHandler(engine))
			r.Post("/{id}/reallocate", reallocateSlotHandler(engine))
		})

		r.Route("/tokens", func(r chi.Router) {
			r.Post("/", createTokenHandler(engine))
			r.Post("/emergency", emergencyHandler(engine, cfg.Clinic))
			r.Get("/", listTokensHandler(engine, cfg.Clinic))
			r.Get("/{id}", getTokenHandler(engine))
			r.Patch("/{id}/cancel", cancelTokenHandler(engine))
			r.Post("/{id}/no-show", noShowHandler(engine))
			r.Post("/{id}/check-in", transitionHandler(func(r *http.Request, id uuid.UUID) (*allocation.Token, error) {
				return engine.CheckIn(r.Context(), id)
			}))
			r.Post("/{id}/start", transitionHandler(func(r *http.Request, id uuid.UUID) (*allocation.Token, error) {
				return engine.StartConsultation(r.Context(), id)
			}))
			r.Post("/{id}/complete", transitionHandler(func(r *http.Request, id uuid.UUID) (*allocation.Token, error) {
				return engine.Complete(r.Context(), id)
			}))
		})

		if cfg.Simulation != nil {
			r.Post("/simulation/run", runSimulationHandler(cfg.Simulation, cfg.Clinic))
		}
	})

	return r
}
