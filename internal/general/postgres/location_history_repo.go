package postgres

import (
	"context"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/ports"
)

// LocationHistoryRepo persists location history rows using pgx and plain SQL.
type LocationHistoryRepo struct{}

// NewLocationHistoryRepo constructs a new LocationHistoryRepo.
func NewLocationHistoryRepo() ports.LocationHistoryRepository {
	return &LocationHistoryRepo{}
}

// Archive inserts a single session_locations record.
func (repo *LocationHistoryRepo) Archive(ctx context.Context, record *geo.LocationHistory) error {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return err
	}

	// validate domain invariants
	if err := record.Validate(); err != nil {
		return err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO session_locations (
			session_id, latitude, longitude,
			accuracy_meters, captured_at, recorded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		record.SessionID,
		record.Position.Latitude,
		record.Position.Longitude,
		record.Position.AccuracyMeters,
		record.Position.CapturedAt,
		record.RecordedAt,
	).Scan(&record.ID)
	if err != nil {
		return err
	}

	return nil
}

// ListBySession returns up to limit samples of a session, newest first.
func (repo *LocationHistoryRepo) ListBySession(ctx context.Context, sessionID string, limit int) ([]geo.LocationHistory, error) {
	tx, err := MustTxFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, `
		SELECT id, session_id, latitude, longitude, accuracy_meters, captured_at, recorded_at
		FROM session_locations
		WHERE session_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []geo.LocationHistory
	for rows.Next() {
		var rec geo.LocationHistory
		if err := rows.Scan(
			&rec.ID,
			&rec.SessionID,
			&rec.Position.Latitude,
			&rec.Position.Longitude,
			&rec.Position.AccuracyMeters,
			&rec.Position.CapturedAt,
			&rec.RecordedAt,
		); err != nil {
			return nil, err
		}
		rec.Position.CapturedAt = rec.Position.CapturedAt.UTC()
		rec.RecordedAt = rec.RecordedAt.UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
