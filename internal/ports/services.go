package ports

import (
	"context"
	"time"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/general/contracts"
)

// SessionStore is the single source of truth for the current ride and its live position.
type SessionStore interface {
	CreateSession(ctx context.Context, driverIdentity, accessCode string) (*session.Session, error)
	EndSession(ctx context.Context, sessionID string) error
	RecordLocation(ctx context.Context, sessionID string, p geo.Position) error
	CurrentStatus() session.Snapshot
	LatestLocation(sessionID string) (geo.Position, bool)
	SubscribeStatus(cb func(session.Snapshot)) (cancel func())
	SubscribeLocation(sessionID string, cb func(geo.Position)) (cancel func())
}

// RideLifecycle starts and stops rides on behalf of drivers and the scheduler.
type RideLifecycle interface {
	StartRide(ctx context.Context, code, identity string) (*session.Session, error)
	StopRide(ctx context.Context, sessionID string) error
}

// CredentialValidator decides whether a driver access code is acceptable.
type CredentialValidator interface {
	IsValidDriverCode(code string) bool
}

// OperatingCalendar decides whether buses run on a calendar date.
type OperatingCalendar interface {
	IsNonOperatingDay(t time.Time) bool
}

// PositionSource is an external stream of position samples.
// Watch delivers samples and asynchronous errors through the callbacks until stop is called.
type PositionSource interface {
	Watch(onSample func(geo.Position), onError func(error)) (stop func())
}

// EventPublisher relays one committed session event to the other tracker instances.
type EventPublisher interface {
	PublishSessionEvent(ctx context.Context, msg contracts.SessionEventMessage) error
}
