package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/opd-token-allocation/internal/allocation"
	"github.com/hackgods/opd-token-allocation/internal/clinic"
	"github.com/hackgods/opd-token-allocation/internal/simulation"
)

type CreateDoctorRequest struct {
	Name         string                `json:"name"`
	DefaultSlots []clinic.SlotTemplate `json:"defaultSlots"`
}

type GenerateSlotsRequest struct {
	Date     string `json:"date"`
	DoctorID string `json:"doctorId,omitempty"`
}

type CreateTokenRequest struct {
	SlotID      string  `json:"slotId"`
	PatientName string  `json:"patientName"`
	Phone       *string `json:"phone,omitempty"`
	Source      string  `json:"source"`
}

type EmergencyRequest struct {
	DoctorID    string  `json:"doctorId"`
	Date        string  `json:"date,omitempty"`
	SlotID      string  `json:"slotId,omitempty"`
	PatientName string  `json:"patientName"`
	Phone       *string `json:"phone,omitempty"`
	Reason      string  `json:"reason,omitempty"`
}

type SimulationRequest struct {
	Date     string `json:"date,omitempty"`
	Overflow *int   `json:"overflow,omitempty"`
}

type DoctorResponse struct {
	ID           uuid.UUID             `json:"id"`
	Name         string                `json:"name"`
	DefaultSlots []clinic.SlotTemplate `json:"defaultSlots"`
	CreatedAt    time.Time             `json:"createdAt"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctorId"`
	Date        string    `json:"date"`
	StartTime   string    `json:"startTime"`
	EndTime     string    `json:"endTime"`
	MaxCapacity int       `json:"maxCapacity"`
}

type TokenResponse struct {
	ID             uuid.UUID            `json:"id"`
	SlotID         uuid.UUID            `json:"slotId"`
	PatientName    string               `json:"patientName"`
	Phone          *string              `json:"phone,omitempty"`
	Source         string               `json:"source"`
	Status         string               `json:"status"`
	PriorityScore  int64                `json:"priorityScore"`
	SequenceInSlot *int                 `json:"sequenceInSlot"`
	Metadata       *allocation.Metadata `json:"metadata,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

type ReleaseResponse struct {
	Token    TokenResponse  `json:"token"`
	Promoted *TokenResponse `json:"promoted"`
}

type ReallocateResponse struct {
	Promoted *TokenResponse `json:"promoted"`
}

type SlotSummaryResponse struct {
	Slot       SlotResponse    `json:"slot"`
	Admitted   int             `json:"admitted"`
	Waitlisted int             `json:"waitlisted"`
	Remaining  int             `json:"remaining"`
	Tokens     []TokenResponse `json:"tokens"`
}

type BoardResponse struct {
	Slot       string          `json:"slot"`
	Capacity   int             `json:"capacity"`
	Admitted   int             `json:"admitted"`
	Waitlisted int             `json:"waitlisted"`
	Tokens     []TokenResponse `json:"tokens"`
}

type SimulationResponse struct {
	Date    string                    `json:"date"`
	Doctors []DoctorResponse          `json:"doctors"`
	Slots   int                       `json:"slots"`
	Actions []simulation.Action       `json:"actions"`
	Summary map[string]map[string]int `json:"summary"`
	Boards  []BoardResponse           `json:"boards"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toDoctorResponse(d clinic.Doctor) DoctorResponse {
	return DoctorResponse{
		ID:           d.ID,
		Name:         d.Name,
		DefaultSlots: d.DefaultSlots,
		CreatedAt:    d.CreatedAt,
	}
}

func toSlotResponse(s clinic.Slot) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		DoctorID:    s.DoctorID,
		Date:        clinic.FormatDate(s.Date),
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
		MaxCapacity: s.MaxCapacity,
	}
}

func toTokenResponse(t allocation.Token) TokenResponse {
	return TokenResponse{
		ID:             t.ID,
		SlotID:         t.SlotID,
		PatientName:    t.PatientName,
		Phone:          t.Phone,
		Source:         string(t.Source),
		Status:         string(t.Status),
		PriorityScore:  t.PriorityScore,
		SequenceInSlot: t.SequenceInSlot,
		Metadata:       t.Metadata,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func toTokenResponses(tokens []allocation.Token) []TokenResponse {
	out := make([]TokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, toTokenResponse(t))
	}
	return out
}

func toReleaseResponse(o *allocation.Outcome) ReleaseResponse {
	resp := ReleaseResponse{Token: toTokenResponse(*o.Token)}
	if o.Promoted != nil {
		p := toTokenResponse(*o.Promoted)
		resp.Promoted = &p
	}
	return resp
}

func toSimulationResponse(r *simulation.Report) SimulationResponse {
	resp := SimulationResponse{
		Date:    clinic.FormatDate(r.Date),
		Slots:   r.Slots,
		Actions: r.Actions,
		Summary: make(map[string]map[string]int, len(r.Summary)),
	}
	for _, d := range r.Doctors {
		resp.Doctors = append(resp.Doctors, toDoctorResponse(d))
	}
	for status, bySource := range r.Summary {
		m := make(map[string]int, len(bySource))
		for source, n := range bySource {
			m[string(source)] = n
		}
		resp.Summary[string(status)] = m
	}
	for _, b := range r.Boards {
		resp.Boards = append(resp.Boards, BoardResponse{
			Slot:       b.Label,
			Capacity:   b.Capacity,
			Admitted:   b.Admitted,
			Waitlisted: b.Waitlisted,
			Tokens:     toTokenResponses(b.Tokens),
		})
	}
	return resp
}
