package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/simulation"
)

func runSimulationHandler(runner *simulation.Runner, svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req SimulationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		opts := simulation.Options{}
		if req.Date != "" {
			date, err := clinic.ParseDate(req.Date, svc.Location())
			if err != nil {
				handleError(w, r, err)
				return
			}
			opts.Date = date
		}
		if req.Overflow != nil {
			if *req.Overflow < 0 {
				writeError(w, http.StatusBadRequest, "invalid_overflow", "overflow must be >= 0")
				return
			}
			opts.Overflow = *req.Overflow
		}

		report, err := runner.Run(r.Context(), opts)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSimulationResponse(report))
	}
}
