package postgres

import (
	"context"
	"time"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/ports"
)

// Backend is the durable session backend: every operation is one transaction.
type Backend struct {
	uow           ports.UnitOfWork
	sessions      *SessionRepo
	history       ports.LocationHistoryRepository
	retainHistory bool
}

var (
	_ ports.SessionBackend = (*Backend)(nil)
	_ ports.HistoryBackend = (*Backend)(nil)
)

// NewBackend wires the repositories behind a single unit of work.
func NewBackend(uow ports.UnitOfWork, retainHistory bool) *Backend {
	return &Backend{
		uow:           uow,
		sessions:      NewSessionRepo(),
		history:       NewLocationHistoryRepo(),
		retainHistory: retainHistory,
	}
}

func (b *Backend) Insert(ctx context.Context, s *session.Session) error {
	return b.uow.WithinTx(ctx, func(ctx context.Context) error {
		return b.sessions.Insert(ctx, s)
	})
}

func (b *Backend) MarkEnded(ctx context.Context, sessionID string, endedAt time.Time) error {
	return b.uow.WithinTx(ctx, func(ctx context.Context) error {
		return b.sessions.MarkEnded(ctx, sessionID, endedAt)
	})
}

// SaveLocation updates the session row and, when retention is on, archives the sample in the same tx.
func (b *Backend) SaveLocation(ctx context.Context, sessionID string, p geo.Position, updatedAt time.Time) error {
	return b.uow.WithinTx(ctx, func(ctx context.Context) error {
		if err := b.sessions.UpdateLocation(ctx, sessionID, p, updatedAt); err != nil {
			return err
		}
		if !b.retainHistory {
			return nil
		}
		record, err := geo.NewLocationHistory(sessionID, p, updatedAt)
		if err != nil {
			return err
		}
		return b.history.Archive(ctx, record)
	})
}

func (b *Backend) LoadActive(ctx context.Context) (*session.Session, error) {
	var active *session.Session
	err := b.uow.WithinReadTx(ctx, func(ctx context.Context) error {
		var err error
		active, err = b.sessions.GetActive(ctx)
		return err
	})
	return active, err
}

func (b *Backend) History(ctx context.Context, sessionID string, limit int) ([]geo.LocationHistory, error) {
	var out []geo.LocationHistory
	err := b.uow.WithinReadTx(ctx, func(ctx context.Context) error {
		var err error
		out, err = b.history.ListBySession(ctx, sessionID, limit)
		return err
	})
	return out, err
}
