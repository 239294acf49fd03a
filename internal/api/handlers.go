package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func idParam(w http.ResponseWriter, r *http.Request, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createTokenHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateTokenRequest
		if !decodeBody(w, r, &req) {
			return
		}

		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId must be a valid UUID")
			return
		}
		source, err := allocation.ParseSource(req.Source)
		if err != nil {
			handleError(w, r, err)
			return
		}

		token, err := engine.Allocate(r.Context(), allocation.AllocateRequest{
			SlotID:      slotID,
			PatientName: req.PatientName,
			Phone:       req.Phone,
			Source:      source,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toTokenResponse(*token))
	}
}

func emergencyHandler(engine *allocation.Engine, clinicSvc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req EmergencyRequest
		if !decodeBody(w, r, &req) {
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
			return
		}

		date := clinicSvc.Today()
		if req.Date != "" {
			if date, err = clinic.ParseDate(req.Date, clinicSvc.Location()); err != nil {
				handleError(w, r, err)
				return
			}
		}

		var preferred *uuid.UUID
		if req.SlotID != "" {
			id, err := uuid.Parse(req.SlotID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId must be a valid UUID")
				return
			}
			preferred = &id
		}

		token, err := engine.InsertEmergency(r.Context(), allocation.EmergencyRequest{
			DoctorID:        doctorID,
			Date:            date,
			PreferredSlotID: preferred,
			PatientName:     req.PatientName,
			Phone:           req.Phone,
			Reason:          req.Reason,
		})
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toTokenResponse(*token))
	}
}

func getTokenHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "invalid_token_id")
		if !ok {
			return
		}

		token, err := engine.GetToken(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toTokenResponse(*token))
	}
}

// listTokensHandler filters by slotId, doctorId, date and status. Every
// given filter applies. Results are in priority order.
func listTokensHandler(engine *allocation.Engine, clinicSvc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var filter allocation.TokenFilter

		if raw := q.Get("status"); raw != "" {
			for _, part := range strings.Split(raw, ",") {
				status, err := allocation.ParseStatus(strings.TrimSpace(part))
				if err != nil {
					writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
					return
				}
				filter.Statuses = append(filter.Statuses, status)
			}
		}

		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
				return
			}
			filter.Limit = n
		}

		if raw := q.Get("slotId"); raw != "" {
			slotID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_slot_id", "slotId must be a valid UUID")
				return
			}
			filter.SlotIDs = []uuid.UUID{slotID}
		}

		if q.Get("doctorId") != "" || q.Get("date") != "" {
			slotFilter, ok := parseSlotFilter(w, r, clinicSvc)
			if !ok {
				return
			}
			slots, err := clinicSvc.ListSlots(r.Context(), slotFilter)
			if err != nil {
				handleError(w, r, err)
				return
			}

			matched := make([]uuid.UUID, 0, len(slots))
			for _, sl := range slots {
				if len(filter.SlotIDs) == 0 || sl.ID == filter.SlotIDs[0] {
					matched = append(matched, sl.ID)
				}
			}
			if len(matched) == 0 {
				writeJSON(w, http.StatusOK, []TokenResponse{})
				return
			}
			filter.SlotIDs = matched
		}

		tokens, err := engine.ListTokens(r.Context(), filter)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toTokenResponses(tokens))
	}
}

func cancelTokenHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "invalid_token_id")
		if !ok {
			return
		}

		out, err := engine.Cancel(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toReleaseResponse(out))
	}
}

func noShowHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "invalid_token_id")
		if !ok {
			return
		}

		out, err := engine.MarkNoShow(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toReleaseResponse(out))
	}
}

// transitionHandler serves the clinic-flow endpoints (check-in, start,
// complete), which share request and response shapes.
func transitionHandler(move func(r *http.Request, id uuid.UUID) (*allocation.Token, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "invalid_token_id")
		if !ok {
			return
		}

		token, err := move(r, id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toTokenResponse(*token))
	}
}
