package service

import (
	"context"
	"strings"

	"bus-tracker/internal/domain/access"
	"bus-tracker/internal/domain/apperrors"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/ports"
)

// DefaultDriverIdentity is used when a driver starts a ride without naming themselves.
const DefaultDriverIdentity = "driver1"

// Manager starts and stops rides for drivers and the scheduler.
type Manager struct {
	store           ports.SessionStore
	codes           ports.CredentialValidator
	logger          *logger.Logger
	defaultIdentity string
}

var _ ports.RideLifecycle = (*Manager)(nil)

// NewManager wires the lifecycle manager. An empty defaultIdentity falls back to DefaultDriverIdentity.
func NewManager(store ports.SessionStore, codes ports.CredentialValidator, log *logger.Logger, defaultIdentity string) *Manager {
	if strings.TrimSpace(defaultIdentity) == "" {
		defaultIdentity = DefaultDriverIdentity
	}
	return &Manager{store: store, codes: codes, logger: log, defaultIdentity: defaultIdentity}
}

// StartRide validates the access code and opens a new session.
func (m *Manager) StartRide(ctx context.Context, code, identity string) (*session.Session, error) {
	code = access.Normalize(code)
	if code == "" {
		return nil, session.ErrEmptyAccessCode
	}
	if !m.codes.IsValidDriverCode(code) {
		m.logger.Info(ctx, "ride_start_rejected", "Driver code rejected", nil)
		return nil, session.ErrInvalidAccessCode
	}

	identity = strings.TrimSpace(identity)
	if identity == "" {
		identity = m.defaultIdentity
	}

	s, err := m.store.CreateSession(ctx, identity, code)
	if err != nil {
		m.logger.Error(ctx, "ride_start_failed", "Failed to start ride session", err, map[string]any{
			"driver_identity": identity,
		})
		return nil, err
	}

	m.logger.Info(m.logger.WithSessionID(ctx, s.ID), "ride_started", "Ride session started", map[string]any{
		"driver_identity": s.DriverIdentity,
		"started_at":      s.StartedAt,
	})
	return s, nil
}

// StopRide ends a session. Stopping an unknown or already ended session succeeds.
func (m *Manager) StopRide(ctx context.Context, sessionID string) error {
	err := m.store.EndSession(ctx, sessionID)
	switch {
	case err == nil:
		m.logger.Info(ctx, "ride_stopped", "Ride session stopped", map[string]any{"session_id": sessionID})
		return nil
	case apperrors.IsGone(err):
		m.logger.Debug(ctx, "ride_stop_noop", "Stop for a session that is not active", map[string]any{
			"session_id": sessionID,
			"reason":     err.Error(),
		})
		return nil
	default:
		m.logger.Error(ctx, "ride_stop_failed", "Failed to stop ride session", err, map[string]any{"session_id": sessionID})
		return err
	}
}
