package contracts

import "time"

// SessionEventMessage is broadcast after every committed store mutation.
// Exchange: ExchangeSessionFanout (fanout, no routing key). Status and location
// events share the exchange so a consumer sees them in commit order.
type SessionEventMessage struct {
	Kind      string     `json:"kind"` // EventSessionStatus or EventSessionLocation
	SessionID string     `json:"session_id"`
	Active    bool       `json:"active"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	Location  *Location  `json:"location,omitempty"`
	Envelope
}
