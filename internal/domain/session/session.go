package session

import (
	"strings"
	"time"

	"bus-tracker/internal/domain/geo"

	"github.com/google/uuid"
)

// Session is one ride: a driver actively sharing the bus location.
type Session struct {
	ID             string        `json:"id"`
	DriverIdentity string        `json:"driver_identity"`
	AccessCodeUsed string        `json:"-"`
	Status         Status        `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	LatestLocation *geo.Position `json:"latest_location,omitempty"`
	LastUpdated    time.Time     `json:"last_updated"`
}

// Snapshot is the externally visible status of the store: whether a ride is active and which one.
type Snapshot struct {
	Active    bool       `json:"active"`
	SessionID string     `json:"session_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Inactive is the snapshot reported when no session is active.
var Inactive = Snapshot{}

// NewID returns a fresh opaque session identifier.
func NewID() string {
	return uuid.NewString()
}

// New creates an ACTIVE session started at now with a freshly generated id.
func New(driverIdentity, accessCode string, now time.Time) (*Session, error) {
	return NewWithID(NewID(), driverIdentity, accessCode, now)
}

// NewWithID creates an ACTIVE session with a caller-supplied id.
func NewWithID(id, driverIdentity, accessCode string, now time.Time) (*Session, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, ErrEmptySessionID
	}
	if driverIdentity = strings.TrimSpace(driverIdentity); driverIdentity == "" {
		return nil, ErrEmptyDriverID
	}
	if strings.TrimSpace(accessCode) == "" {
		return nil, ErrEmptyAccessCode
	}

	now = now.UTC()
	return &Session{
		ID:             id,
		DriverIdentity: driverIdentity,
		AccessCodeUsed: accessCode,
		Status:         StatusActive,
		StartedAt:      now,
		LastUpdated:    now,
	}, nil
}

// IsActive reports whether the session still accepts locations.
func (s *Session) IsActive() bool {
	return s != nil && s.Status == StatusActive
}

// End marks the session ENDED at now. Returns an error on double end.
func (s *Session) End(now time.Time) error {
	if !s.IsActive() {
		return ErrSessionNotActive
	}
	now = now.UTC()
	s.Status = StatusEnded
	s.EndedAt = &now
	s.LastUpdated = now
	return nil
}

// UpdateLocation replaces the latest location and bumps LastUpdated.
func (s *Session) UpdateLocation(p geo.Position, now time.Time) error {
	if !s.IsActive() {
		return ErrSessionNotActive
	}
	if err := p.Validate(); err != nil {
		return err
	}
	loc := p.Clone()
	s.LatestLocation = &loc
	s.LastUpdated = now.UTC()
	return nil
}

// Snapshot returns the status view of the session.
func (s *Session) Snapshot() Snapshot {
	if !s.IsActive() {
		return Inactive
	}
	started := s.StartedAt
	return Snapshot{Active: true, SessionID: s.ID, StartedAt: &started}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.EndedAt != nil {
		ended := *s.EndedAt
		c.EndedAt = &ended
	}
	if s.LatestLocation != nil {
		loc := s.LatestLocation.Clone()
		c.LatestLocation = &loc
	}
	return &c
}
