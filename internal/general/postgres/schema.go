package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schemaDDL is idempotent. The partial unique index is what keeps a single ACTIVE ride
// across every tracker instance sharing the database.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS ride_sessions (
	id               TEXT PRIMARY KEY,
	driver_identity  TEXT        NOT NULL,
	access_code_used TEXT        NOT NULL,
	status           TEXT        NOT NULL CHECK (status IN ('ACTIVE', 'ENDED')),
	started_at       TIMESTAMPTZ NOT NULL,
	ended_at         TIMESTAMPTZ,
	latitude         DOUBLE PRECISION,
	longitude        DOUBLE PRECISION,
	accuracy_meters  DOUBLE PRECISION,
	captured_at      TIMESTAMPTZ,
	last_updated     TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS ride_sessions_one_active
	ON ride_sessions ((status)) WHERE status = 'ACTIVE';

CREATE TABLE IF NOT EXISTS session_locations (
	id              BIGSERIAL PRIMARY KEY,
	session_id      TEXT             NOT NULL REFERENCES ride_sessions (id) ON DELETE CASCADE,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	accuracy_meters DOUBLE PRECISION,
	captured_at     TIMESTAMPTZ      NOT NULL,
	recorded_at     TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS session_locations_session_idx
	ON session_locations (session_id, recorded_at DESC);
`

// EnsureSchema creates the tracker tables when they are missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("postgres ensure schema: %w", err)
	}
	return nil
}
