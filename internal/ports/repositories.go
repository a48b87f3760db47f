package ports

import (
	"context"
	"time"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
)

// UnitOfWork interface is used to manage transactions across multiple repository operations.
type UnitOfWork interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
	WithinReadTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SessionBackend persists ride sessions on behalf of the session store.
// Implementations must reject Insert with apperrors.ErrConflict while another session is ACTIVE.
type SessionBackend interface {
	Insert(ctx context.Context, s *session.Session) error
	MarkEnded(ctx context.Context, sessionID string, endedAt time.Time) error
	SaveLocation(ctx context.Context, sessionID string, p geo.Position, updatedAt time.Time) error
	LoadActive(ctx context.Context) (*session.Session, error)
}

// HistoryBackend is implemented by backends that retain location samples per session.
type HistoryBackend interface {
	History(ctx context.Context, sessionID string, limit int) ([]geo.LocationHistory, error)
}

// LocationHistoryRepository defines the methods for archiving location history data.
type LocationHistoryRepository interface {
	Archive(ctx context.Context, record *geo.LocationHistory) error
	ListBySession(ctx context.Context, sessionID string, limit int) ([]geo.LocationHistory, error)
}
