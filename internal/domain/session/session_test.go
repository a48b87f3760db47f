package session

import (
	"errors"
	"testing"
	"time"

	"bus-tracker/internal/domain/apperrors"
	"bus-tracker/internal/domain/geo"
)

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 2, 7, 50, 0, 0, time.UTC)

	s, err := New(" driver1 ", "BUS77A", now)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.ID == "" || s.DriverIdentity != "driver1" || s.Status != StatusActive {
		t.Fatalf("session = %+v", s)
	}
	if !s.StartedAt.Equal(now) || s.EndedAt != nil || s.LatestLocation != nil {
		t.Fatalf("session = %+v", s)
	}

	other, _ := New("driver1", "BUS77A", now)
	if other.ID == s.ID {
		t.Fatal("two sessions share an id")
	}

	tests := []struct {
		name     string
		id       string
		identity string
		code     string
		want     error
	}{
		{"empty id", " ", "d", "c", ErrEmptySessionID},
		{"empty identity", "id", "", "c", ErrEmptyDriverID},
		{"empty code", "id", "d", "  ", ErrEmptyAccessCode},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWithID(tt.id, tt.identity, tt.code, now)
			if !errors.Is(err, tt.want) || !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSession_EndAndLocation(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s, _ := NewWithID("s1", "driver1", "BUS77A", now)

	p := geo.Position{Latitude: 12.9716, Longitude: 77.5946, CapturedAt: now}
	if err := s.UpdateLocation(p, now.Add(time.Second)); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if s.LatestLocation == nil || s.LatestLocation.Latitude != 12.9716 {
		t.Fatalf("LatestLocation = %+v", s.LatestLocation)
	}
	if err := s.UpdateLocation(geo.Position{Latitude: 91}, now); !errors.Is(err, apperrors.ErrValidation) {
		t.Fatalf("bad position err = %v", err)
	}

	snap := s.Snapshot()
	if !snap.Active || snap.SessionID != "s1" || snap.StartedAt == nil || !snap.StartedAt.Equal(now) {
		t.Fatalf("Snapshot = %+v", snap)
	}

	if err := s.End(now.Add(time.Hour)); err != nil {
		t.Fatalf("End: %v", err)
	}
	if s.Status != StatusEnded || s.EndedAt == nil {
		t.Fatalf("after End: %+v", s)
	}
	if err := s.End(now.Add(2 * time.Hour)); !errors.Is(err, apperrors.ErrState) {
		t.Fatalf("second End err = %v, want state", err)
	}
	if err := s.UpdateLocation(p, now); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("location after end err = %v", err)
	}
	if s.Snapshot() != Inactive {
		t.Fatalf("Snapshot after end = %+v", s.Snapshot())
	}
}

func TestSession_CloneIsDeep(t *testing.T) {
	now := time.Now()
	s, _ := NewWithID("s1", "driver1", "BUS77A", now)
	acc := 3.0
	_ = s.UpdateLocation(geo.Position{Latitude: 1, Longitude: 1, AccuracyMeters: &acc}, now)

	c := s.Clone()
	c.LatestLocation.Latitude = 50
	*c.LatestLocation.AccuracyMeters = 40

	if s.LatestLocation.Latitude != 1 || *s.LatestLocation.AccuracyMeters != 3 {
		t.Fatalf("clone shares state: %+v", s.LatestLocation)
	}
	var nilSession *Session
	if nilSession.Clone() != nil || nilSession.IsActive() || nilSession.Snapshot() != Inactive {
		t.Fatal("nil session misbehaves")
	}
}

func TestParseStatus(t *testing.T) {
	if st, err := ParseStatus(" active "); err != nil || st != StatusActive {
		t.Fatalf("ParseStatus = %v, %v", st, err)
	}
	if _, err := ParseStatus("PAUSED"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v", err)
	}
}
