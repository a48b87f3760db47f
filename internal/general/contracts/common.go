package contracts

import (
	"time"

	"bus-tracker/internal/domain/geo"
)

// Envelope adds cross-cutting headers all messages may carry.
type Envelope struct {
	CorrelationID string    `json:"correlation_id,omitempty"` // Correlation for tracing across instances
	Producer      string    `json:"producer,omitempty"`       // Instance id of the tracker that committed the event
	SentAt        time.Time `json:"sent_at,omitempty"`        // RFC 3339 send time (UTC)
}

// Location is the wire form of a position sample.
type Location struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracy_meters,omitempty"`
	CapturedAt     time.Time `json:"captured_at"`
}

func LocationFrom(p geo.Position) Location {
	p = p.Clone()
	return Location{
		Latitude:       p.Latitude,
		Longitude:      p.Longitude,
		AccuracyMeters: p.AccuracyMeters,
		CapturedAt:     p.CapturedAt.UTC(),
	}
}

// Position validates the wire location. A missing capture time becomes receive time.
func (l Location) Position() (geo.Position, error) {
	return geo.NewPosition(l.Latitude, l.Longitude, l.AccuracyMeters, l.CapturedAt)
}
