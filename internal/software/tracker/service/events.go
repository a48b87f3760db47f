package service

import (
	"time"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
)

// EventKind distinguishes committed store mutations.
type EventKind int

const (
	EventStatus EventKind = iota + 1
	EventLocation
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventLocation:
		return "location"
	default:
		return "unknown"
	}
}

// Event is one committed mutation. Status events carry the snapshot, location events the position.
type Event struct {
	Kind      EventKind
	SessionID string
	Snapshot  session.Snapshot
	Position  geo.Position
	At        time.Time
}
