// Package memory holds the non-durable session backend used by single-instance deployments and tests.
package memory

import (
	"context"
	"sync"
	"time"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/ports"
)

// DefaultHistoryLimit caps retained samples per session.
const DefaultHistoryLimit = 500

// Backend keeps sessions in process memory. Ended sessions are kept so that
// late stops and locations can be told apart from unknown ids.
type Backend struct {
	mu           sync.Mutex
	sessions     map[string]*session.Session
	activeID     string
	history      map[string][]geo.LocationHistory
	historyLimit int
	nextID       int64
}

var (
	_ ports.SessionBackend = (*Backend)(nil)
	_ ports.HistoryBackend = (*Backend)(nil)
)

// NewBackend builds an empty backend. historyLimit <= 0 disables history retention.
func NewBackend(historyLimit int) *Backend {
	return &Backend{
		sessions:     make(map[string]*session.Session),
		history:      make(map[string][]geo.LocationHistory),
		historyLimit: historyLimit,
	}
}

func (b *Backend) Insert(ctx context.Context, s *session.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.activeID != "" {
		return session.ErrAlreadyActive
	}
	b.sessions[s.ID] = s.Clone()
	b.activeID = s.ID
	return nil
}

func (b *Backend) MarkEnded(ctx context.Context, sessionID string, endedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.lookupActive(sessionID)
	if err != nil {
		return err
	}
	if err := s.End(endedAt); err != nil {
		return err
	}
	b.activeID = ""
	return nil
}

func (b *Backend) SaveLocation(ctx context.Context, sessionID string, p geo.Position, updatedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	s, err := b.lookupActive(sessionID)
	if err != nil {
		return err
	}
	if err := s.UpdateLocation(p, updatedAt); err != nil {
		return err
	}

	if b.historyLimit > 0 {
		b.nextID++
		rec := geo.LocationHistory{ID: b.nextID, SessionID: sessionID, Position: p.Clone(), RecordedAt: updatedAt.UTC()}
		h := append(b.history[sessionID], rec)
		if len(h) > b.historyLimit {
			h = h[len(h)-b.historyLimit:]
		}
		b.history[sessionID] = h
	}
	return nil
}

func (b *Backend) LoadActive(ctx context.Context) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.activeID == "" {
		return nil, nil
	}
	return b.sessions[b.activeID].Clone(), nil
}

// History returns up to limit samples of a session, newest first.
func (b *Backend) History(ctx context.Context, sessionID string, limit int) ([]geo.LocationHistory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	h := b.history[sessionID]
	if limit <= 0 || limit > len(h) {
		limit = len(h)
	}
	out := make([]geo.LocationHistory, 0, limit)
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		rec := h[i]
		rec.Position = rec.Position.Clone()
		out = append(out, rec)
	}
	return out, nil
}

func (b *Backend) lookupActive(sessionID string) (*session.Session, error) {
	s, ok := b.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if !s.IsActive() {
		return nil, session.ErrSessionNotActive
	}
	return s, nil
}
