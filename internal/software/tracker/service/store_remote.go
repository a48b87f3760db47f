package service

import (
	"context"

	"bus-tracker/internal/domain/session"
)

// remoteIdentity marks sessions learned from another instance; the driver identity is not relayed.
const remoteIdentity = "remote"

// ApplyRemote folds an event committed by another instance into the local view.
// The backend is not touched: the originating instance already persisted it.
// Remote events do not run commit hooks, so they are never relayed back.
func (s *Store) ApplyRemote(ctx context.Context, ev Event) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case EventStatus:
		s.applyRemoteStatus(ctx, ev)
	case EventLocation:
		s.applyRemoteLocation(ctx, ev)
	}
}

func (s *Store) applyRemoteStatus(ctx context.Context, ev Event) {
	if ev.Snapshot.Active {
		if s.current != nil && s.current.ID == ev.SessionID {
			return
		}
		started := s.now().UTC()
		if ev.Snapshot.StartedAt != nil {
			started = ev.Snapshot.StartedAt.UTC()
		}
		// an older remote start never replaces a newer local one
		if s.current.IsActive() && started.Before(s.current.StartedAt) {
			s.logger.Debug(ctx, "remote_start_ignored", "Ignoring remote start older than the local session", map[string]any{
				"session_id":       ev.SessionID,
				"local_session_id": s.current.ID,
			})
			return
		}

		next, err := session.NewWithID(ev.SessionID, remoteIdentity, remoteIdentity, started)
		if err != nil {
			s.logger.Error(ctx, "remote_event_invalid", "Dropping malformed remote status event", err, nil)
			return
		}
		prev := s.current
		s.current = next
		if prev != nil {
			s.post(s.broker.closeLocation(prev.ID))
		}
		s.post(s.broker.publishStatus(next.Snapshot()))
		return
	}

	if s.current == nil || s.current.ID != ev.SessionID || !s.current.IsActive() {
		return
	}
	endedAt := ev.At
	if endedAt.IsZero() {
		endedAt = s.now()
	}
	_ = s.current.End(endedAt)
	s.post(s.broker.closeLocation(ev.SessionID))
	s.post(s.broker.publishStatus(session.Inactive))
}

// applyRemoteLocation is last-write-wins on capture time.
func (s *Store) applyRemoteLocation(ctx context.Context, ev Event) {
	if s.current == nil || s.current.ID != ev.SessionID || !s.current.IsActive() {
		return
	}
	if last := s.current.LatestLocation; last != nil && ev.Position.CapturedAt.Before(last.CapturedAt) {
		return
	}

	at := ev.At
	if at.IsZero() {
		at = s.now()
	}
	if err := s.current.UpdateLocation(ev.Position, at); err != nil {
		s.logger.Error(ctx, "remote_event_invalid", "Dropping invalid remote location", err, map[string]any{
			"session_id": ev.SessionID,
		})
		return
	}
	s.post(s.broker.publishLocation(ev.SessionID, ev.Position))
}
