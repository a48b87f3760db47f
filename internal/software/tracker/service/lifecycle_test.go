package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"bus-tracker/internal/domain/access"
	"bus-tracker/internal/domain/apperrors"
	"bus-tracker/internal/general/logger"
)

func newTestManager(store *Store) *Manager {
	codes := access.NewAllowList("BUS77A", "GOKU", "GOKULNATH8887", "AUTO_SESSION_7AM")
	return NewManager(store, codes, logger.Discard(), "")
}

func TestManager_StartRide(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFaultyBackend(), newFakeClock(testStart))
	mgr := newTestManager(store)

	s, err := mgr.StartRide(ctx, " bus77a ", "")
	if err != nil {
		t.Fatalf("StartRide: %v", err)
	}
	if s.DriverIdentity != DefaultDriverIdentity {
		t.Fatalf("identity = %q, want %q", s.DriverIdentity, DefaultDriverIdentity)
	}
	if s.AccessCodeUsed != "BUS77A" {
		t.Fatalf("code used = %q", s.AccessCodeUsed)
	}
	if st := store.CurrentStatus(); !st.Active || st.SessionID != s.ID {
		t.Fatalf("status = %+v", st)
	}

	if _, err := mgr.StartRide(ctx, "GOKU", "driver2"); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("second start err = %v, want conflict", err)
	}
}

func TestManager_StartRideRejectsCodes(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(newFaultyBackend(), newFakeClock(testStart))
	mgr := newTestManager(store)

	tests := []struct {
		name string
		code string
		want error
	}{
		{"empty", "", apperrors.ErrValidation},
		{"blank", "   ", apperrors.ErrValidation},
		{"unknown", "BUS99Z", apperrors.ErrAuth},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := mgr.StartRide(ctx, tt.code, "driver1"); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if store.CurrentStatus().Active {
				t.Fatal("rejected code started a session")
			}
		})
	}
}

func TestManager_StopRideIsIdempotent(t *testing.T) {
	ctx := context.Background()
	backend := newFaultyBackend()
	store := newTestStore(backend, newFakeClock(testStart), WithBackendTimeout(20*time.Millisecond))
	mgr := newTestManager(store)

	var statuses statusLog
	cancel := store.SubscribeStatus(statuses.add)
	defer cancel()

	s, _ := mgr.StartRide(ctx, "BUS77A", "driver1")

	if err := mgr.StopRide(ctx, "unknown"); err != nil {
		t.Fatalf("StopRide(unknown): %v", err)
	}

	backend.fail(nil, true)
	if err := mgr.StopRide(ctx, s.ID); !errors.Is(err, apperrors.ErrTimeout) {
		t.Fatalf("StopRide during outage err = %v, want timeout", err)
	}
	backend.fail(nil, false)

	for range 3 {
		if err := mgr.StopRide(ctx, s.ID); err != nil {
			t.Fatalf("StopRide: %v", err)
		}
	}

	inactive := 0
	for _, snap := range statuses.all()[1:] {
		if !snap.Active {
			inactive++
		}
	}
	if inactive != 1 {
		t.Fatalf("inactive events = %d, want exactly 1", inactive)
	}
}
