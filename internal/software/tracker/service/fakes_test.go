package service

import (
	"context"
	"sync"
	"time"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/general/memory"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// faultyBackend wraps the memory backend and lets a test fail or stall the next calls.
type faultyBackend struct {
	*memory.Backend

	mu    sync.Mutex
	err   error
	stall bool
}

func newFaultyBackend() *faultyBackend {
	return &faultyBackend{Backend: memory.NewBackend(memory.DefaultHistoryLimit)}
}

func (b *faultyBackend) fail(err error, stall bool) {
	b.mu.Lock()
	b.err, b.stall = err, stall
	b.mu.Unlock()
}

func (b *faultyBackend) fault(ctx context.Context) error {
	b.mu.Lock()
	err, stall := b.err, b.stall
	b.mu.Unlock()
	if stall {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (b *faultyBackend) Insert(ctx context.Context, s *session.Session) error {
	if err := b.fault(ctx); err != nil {
		return err
	}
	return b.Backend.Insert(ctx, s)
}

func (b *faultyBackend) MarkEnded(ctx context.Context, sessionID string, endedAt time.Time) error {
	if err := b.fault(ctx); err != nil {
		return err
	}
	return b.Backend.MarkEnded(ctx, sessionID, endedAt)
}

func (b *faultyBackend) SaveLocation(ctx context.Context, sessionID string, p geo.Position, updatedAt time.Time) error {
	if err := b.fault(ctx); err != nil {
		return err
	}
	return b.Backend.SaveLocation(ctx, sessionID, p, updatedAt)
}

// statusLog records status deliveries.
type statusLog struct {
	mu    sync.Mutex
	snaps []session.Snapshot
}

func (l *statusLog) add(s session.Snapshot) {
	l.mu.Lock()
	l.snaps = append(l.snaps, s)
	l.mu.Unlock()
}

func (l *statusLog) all() []session.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]session.Snapshot(nil), l.snaps...)
}

// locationLog records location deliveries.
type locationLog struct {
	mu  sync.Mutex
	pos []geo.Position
}

func (l *locationLog) add(p geo.Position) {
	l.mu.Lock()
	l.pos = append(l.pos, p)
	l.mu.Unlock()
}

func (l *locationLog) all() []geo.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]geo.Position(nil), l.pos...)
}

var testStart = time.Date(2026, time.March, 2, 7, 50, 0, 0, time.UTC)

func newTestStore(backend *faultyBackend, clock *fakeClock, opts ...StoreOption) *Store {
	opts = append([]StoreOption{WithClock(clock.Now)}, opts...)
	return NewStore(backend, logger.Discard(), opts...)
}

func pos(lat, lon float64, at time.Time) geo.Position {
	return geo.Position{Latitude: lat, Longitude: lon, CapturedAt: at}
}
