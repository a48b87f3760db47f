package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"bus-tracker/internal/domain/apperrors"
	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
)

func newSession(t *testing.T, now time.Time) *session.Session {
	t.Helper()
	s, err := session.New("driver1", "BUS77A", now)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return s
}

func TestBackend_SingleActive(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(10)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	first := newSession(t, now)
	if err := b.Insert(ctx, first); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := b.Insert(ctx, newSession(t, now)); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("second Insert err = %v, want conflict", err)
	}

	active, err := b.LoadActive(ctx)
	if err != nil || active == nil || active.ID != first.ID {
		t.Fatalf("LoadActive = %v, %v", active, err)
	}

	if err := b.MarkEnded(ctx, first.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("MarkEnded: %v", err)
	}
	if err := b.MarkEnded(ctx, first.ID, now.Add(2*time.Minute)); !errors.Is(err, apperrors.ErrState) {
		t.Fatalf("second MarkEnded err = %v, want state", err)
	}
	if err := b.MarkEnded(ctx, "missing", now); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("unknown MarkEnded err = %v, want not found", err)
	}

	if active, _ := b.LoadActive(ctx); active != nil {
		t.Fatalf("LoadActive after end = %+v, want nil", active)
	}
	if err := b.Insert(ctx, newSession(t, now)); err != nil {
		t.Fatalf("Insert after end: %v", err)
	}
}

func TestBackend_HistoryBounded(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(3)
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	s := newSession(t, now)
	if err := b.Insert(ctx, s); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		p := geo.Position{Latitude: float64(i), Longitude: 1, CapturedAt: now.Add(time.Duration(i) * time.Second)}
		if err := b.SaveLocation(ctx, s.ID, p, p.CapturedAt); err != nil {
			t.Fatalf("SaveLocation %d: %v", i, err)
		}
	}

	h, err := b.History(ctx, s.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(h) != 3 {
		t.Fatalf("history len = %d, want 3", len(h))
	}
	if h[0].Position.Latitude != 4 || h[2].Position.Latitude != 2 {
		t.Fatalf("history order = %v, %v", h[0].Position.Latitude, h[2].Position.Latitude)
	}

	if h, _ := b.History(ctx, s.ID, 1); len(h) != 1 {
		t.Fatalf("limited history len = %d", len(h))
	}

	active, _ := b.LoadActive(ctx)
	if active.LatestLocation == nil || active.LatestLocation.Latitude != 4 {
		t.Fatalf("latest = %+v", active.LatestLocation)
	}
}

func TestBackend_NoHistory(t *testing.T) {
	ctx := context.Background()
	b := NewBackend(0)
	now := time.Now().UTC()
	s := newSession(t, now)
	_ = b.Insert(ctx, s)
	_ = b.SaveLocation(ctx, s.ID, geo.Position{Latitude: 1, Longitude: 1, CapturedAt: now}, now)

	if h, _ := b.History(ctx, s.ID, 10); len(h) != 0 {
		t.Fatalf("history retained with limit 0: %v", h)
	}
}

func TestBackend_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := NewBackend(1).Insert(ctx, newSession(t, time.Now())); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
