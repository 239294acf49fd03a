package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
)

func createDoctorHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateDoctorRequest
		if !decodeBody(w, r, &req) {
			return
		}

		d, err := svc.CreateDoctor(r.Context(), req.Name, req.DefaultSlots)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusCreated, toDoctorResponse(*d))
	}
}

func listDoctorsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctors, err := svc.ListDoctors(r.Context())
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]DoctorResponse, 0, len(doctors))
		for _, d := range doctors {
			resp = append(resp, toDoctorResponse(d))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getDoctorHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "invalid_doctor_id")
		if !ok {
			return
		}

		d, err := svc.GetDoctor(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toDoctorResponse(*d))
	}
}

func generateSlotsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req GenerateSlotsRequest
		if !decodeBody(w, r, &req) {
			return
		}

		date := svc.Today()
		if req.Date != "" {
			var err error
			if date, err = clinic.ParseDate(req.Date, svc.Location()); err != nil {
				handleError(w, r, err)
				return
			}
		}

		var doctorID *uuid.UUID
		if req.DoctorID != "" {
			id, err := uuid.Parse(req.DoctorID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
				return
			}
			doctorID = &id
		}

		slots, err := svc.GenerateSlots(r.Context(), date, doctorID)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}
		writeJSON(w, http.StatusCreated, resp)
	}
}

// parseSlotFilter reads the date and doctorId query parameters.
func parseSlotFilter(w http.ResponseWriter, r *http.Request, svc *clinic.Service) (clinic.SlotFilter, bool) {
	q := r.URL.Query()
	var f clinic.SlotFilter

	if raw := q.Get("date"); raw != "" {
		date, err := clinic.ParseDate(raw, svc.Location())
		if err != nil {
			handleError(w, r, err)
			return f, false
		}
		f.Date = &date
	}
	if raw := q.Get("doctorId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctorId must be a valid UUID")
			return f, false
		}
		f.DoctorID = &id
	}
	return f, true
}

func listSlotsHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, ok := parseSlotFilter(w, r, svc)
		if !ok {
			return
		}

		slots, err := svc.ListSlots(r.Context(), f)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := make([]SlotResponse, 0, len(slots))
		for _, s := range slots {
			resp = append(resp, toSlotResponse(s))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func getSlotHandler(svc *clinic.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "invalid_slot_id")
		if !ok {
			return
		}

		s, err := svc.GetSlot(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponse(*s))
	}
}

func slotSummaryHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "invalid_slot_id")
		if !ok {
			return
		}

		sum, err := engine.SlotSummary(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotSummaryResponse{
			Slot:       toSlotResponse(sum.Slot),
			Admitted:   sum.Admitted,
			Waitlisted: sum.Waitlisted,
			Remaining:  sum.Remaining(),
			Tokens:     toTokenResponses(sum.Active),
		})
	}
}

// reallocateSlotHandler runs one promotion attempt for the slot, e.g. after
// consultations complete.
func reallocateSlotHandler(engine *allocation.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r, "invalid_slot_id")
		if !ok {
			return
		}

		promoted, err := engine.Reallocate(r.Context(), id)
		if err != nil {
			handleError(w, r, err)
			return
		}

		resp := ReallocateResponse{}
		if promoted != nil {
			p := toTokenResponse(*promoted)
			resp.Promoted = &p
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
