package postgres

import (
	"context"
	"errors"
	"time"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// SessionRepo persists ride sessions using pgx and plain SQL. Every method runs inside a UnitOfWork.
type SessionRepo struct{}

// NewSessionRepo constructs a new SessionRepo.
func NewSessionRepo() *SessionRepo {
	return &SessionRepo{}
}

// Insert stores a freshly started session. A second ACTIVE row violates the partial unique index.
func (repo *SessionRepo) Insert(ctx context.Context, s *session.Session) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO ride_sessions (
			id, driver_identity, access_code_used, status,
			started_at, last_updated
		)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		s.ID,
		s.DriverIdentity,
		s.AccessCodeUsed,
		s.Status.String(),
		s.StartedAt,
		s.LastUpdated,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return session.ErrAlreadyActive
		}
		return err
	}
	return nil
}

// MarkEnded flips an ACTIVE session to ENDED.
func (repo *SessionRepo) MarkEnded(ctx context.Context, sessionID string, endedAt time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ride_sessions
		SET status = 'ENDED',
		    ended_at = $2,
		    last_updated = $2
		WHERE id = $1 AND status = 'ACTIVE'
	`, sessionID, endedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.explainMiss(ctx, tx, sessionID)
	}
	return nil
}

// UpdateLocation overwrites the latest position of an ACTIVE session.
func (repo *SessionRepo) UpdateLocation(ctx context.Context, sessionID string, p geo.Position, updatedAt time.Time) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE ride_sessions
		SET latitude = $2,
		    longitude = $3,
		    accuracy_meters = $4,
		    captured_at = $5,
		    last_updated = $6
		WHERE id = $1 AND status = 'ACTIVE'
	`, sessionID, p.Latitude, p.Longitude, p.AccuracyMeters, p.CapturedAt, updatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repo.explainMiss(ctx, tx, sessionID)
	}
	return nil
}

// GetActive returns the ACTIVE session, or nil when none exists.
func (repo *SessionRepo) GetActive(ctx context.Context) (*session.Session, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	var (
		s        session.Session
		status   string
		lat, lng *float64
		accuracy *float64
		captured *time.Time
	)
	err = tx.QueryRow(ctx, `
		SELECT
			id,
			driver_identity,
			access_code_used,
			status,
			started_at,
			ended_at,
			latitude,
			longitude,
			accuracy_meters,
			captured_at,
			last_updated
		FROM ride_sessions
		WHERE status = 'ACTIVE'
		LIMIT 1
	`).Scan(
		&s.ID,
		&s.DriverIdentity,
		&s.AccessCodeUsed,
		&status,
		&s.StartedAt,
		&s.EndedAt,
		&lat,
		&lng,
		&accuracy,
		&captured,
		&s.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if s.Status, err = session.ParseStatus(status); err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		p := geo.Position{Latitude: *lat, Longitude: *lng, AccuracyMeters: accuracy}
		if captured != nil {
			p.CapturedAt = captured.UTC()
		}
		s.LatestLocation = &p
	}
	s.StartedAt = s.StartedAt.UTC()
	s.LastUpdated = s.LastUpdated.UTC()

	return &s, nil
}

// explainMiss tells an unknown id apart from one that is no longer ACTIVE.
func (repo *SessionRepo) explainMiss(ctx context.Context, tx pgx.Tx, sessionID string) error {
	var status string
	err := tx.QueryRow(ctx, `SELECT status FROM ride_sessions WHERE id = $1`, sessionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return session.ErrSessionNotFound
	}
	if err != nil {
		return err
	}
	return session.ErrSessionNotActive
}
