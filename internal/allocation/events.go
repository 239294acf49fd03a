package allocation

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	EventTokenBooked         = "TOKEN_BOOKED"
	EventTokenWaitlisted     = "TOKEN_WAITLISTED"
	EventTokenCancelled      = "TOKEN_CANCELLED"
	EventTokenNoShow         = "TOKEN_NO_SHOW"
	EventTokenPromoted       = "TOKEN_PROMOTED"
	EventEmergencyInserted   = "EMERGENCY_INSERTED"
	EventEmergencyWaitlisted = "EMERGENCY_WAITLISTED"
	EventTokenStatusChanged  = "TOKEN_STATUS_CHANGED"
)

type eventPayload struct {
	PatientName   string `json:"patientName"`
	Source        Source `json:"source"`
	Status        Status `json:"status"`
	PreviousState Status `json:"previousStatus,omitempty"`
	PriorityScore int64  `json:"priorityScore"`
	Reason        string `json:"reason,omitempty"`
}

// recordEvent appends to the audit log in the caller's transaction, so a
// failed write rolls back the state change it describes.
func (e *Engine) recordEvent(ctx context.Context, eventType string, t *Token, previous Status) error {
	p := eventPayload{
		PatientName:   t.PatientName,
		Source:        t.Source,
		Status:        t.Status,
		PreviousState: previous,
		PriorityScore: t.PriorityScore,
	}
	if t.Metadata != nil {
		p.Reason = t.Metadata.EmergencyReason
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	tokenID, slotID := t.ID, t.SlotID
	return e.tokens.InsertEvent(ctx, EventLog{
		EventType: eventType,
		TokenID:   &tokenID,
		SlotID:    &slotID,
		Payload:   payload,
		CreatedAt: e.now().UTC(),
	})
}
