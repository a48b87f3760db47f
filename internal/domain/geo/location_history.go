package geo

import (
	"errors"
	"strings"
	"time"
)

// LocationHistory is one archived sample of a ride session, corresponding to the `session_locations` table.
type LocationHistory struct {
	ID         int64
	SessionID  string
	Position   Position
	RecordedAt time.Time
}

var ErrMissingSessionID = errors.New("session ID is missing")

// NewLocationHistory constructs an archive record for the given session and sample.
func NewLocationHistory(sessionID string, p Position, recordedAt time.Time) (*LocationHistory, error) {
	record := &LocationHistory{
		SessionID:  strings.TrimSpace(sessionID),
		Position:   p.Clone(),
		RecordedAt: recordedAt,
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now().UTC()
	}
	if err := record.Validate(); err != nil {
		return nil, err
	}
	return record, nil
}

// Validate checks invariants of the LocationHistory entity.
func (record LocationHistory) Validate() error {
	if record.SessionID == "" {
		return ErrMissingSessionID
	}
	return record.Position.Validate()
}
