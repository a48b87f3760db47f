package contracts

import "time"

// WSStatusUpdate mirrors the session status pushed to students.
type WSStatusUpdate struct {
	Type      string     `json:"type"` // "status_update"
	Active    bool       `json:"active"`
	SessionID string     `json:"session_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// WSLocationUpdate mirrors a live bus position pushed to students.
type WSLocationUpdate struct {
	Type      string   `json:"type"` // "location_update"
	SessionID string   `json:"session_id"`
	Location  Location `json:"location"`
}

// WSClientMessage is what students send: subscribe_location / unsubscribe_location.
type WSClientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
}

// WSDriverLocation is one raw GPS sample from the driver app.
type WSDriverLocation struct {
	Type string `json:"type"` // "location_update"
	Location
}

// WSAuthOK acknowledges an accepted driver auth frame.
type WSAuthOK struct {
	Type      string `json:"type"` // "auth_ok"
	SessionID string `json:"session_id"`
}

// WSError reports a rejected client frame.
type WSError struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}
