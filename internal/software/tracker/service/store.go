package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"bus-tracker/internal/domain/apperrors"
	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/ports"
)

// DefaultBackendTimeout bounds a single backend call when none is configured.
const DefaultBackendTimeout = 5 * time.Second

// ErrHistoryUnavailable is returned when the backend does not retain location samples.
var ErrHistoryUnavailable = fmt.Errorf("%w: location history is not retained by this backend", apperrors.ErrNotFound)

// Store is the single owner of the current ride session and its latest position.
//
// Mutations hold the write lock for their whole duration, backend call included.
// Each commit queues its notifications before the lock is released; the queue is
// drained in commit order once the lock is free, so callbacks may read the Store
// and subscribe again. A call made from inside a callback is delivered after that
// callback returns.
type Store struct {
	backend ports.SessionBackend
	broker  *Broker
	logger  *logger.Logger
	timeout time.Duration
	now     func() time.Time

	mu      sync.RWMutex
	current *session.Session // latest session, ACTIVE or ENDED; nil before the first start
	hooks   []func(Event)

	// dmu guards the notification queue. Lock order is mu then dmu.
	dmu      sync.Mutex
	pending  []func()
	draining bool
}

var _ ports.SessionStore = (*Store)(nil)

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithBackendTimeout bounds each backend call.
func WithBackendTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// NewStore builds a store on top of a persistence backend.
func NewStore(backend ports.SessionBackend, log *logger.Logger, opts ...StoreOption) *Store {
	s := &Store{
		backend: backend,
		broker:  NewBroker(log),
		logger:  log,
		timeout: DefaultBackendTimeout,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnCommit registers a hook called, in commit order, after every local commit.
// Hooks must not block; the relay uses one to forward events to other instances.
func (s *Store) OnCommit(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// Restore loads the ACTIVE session from a durable backend after a restart.
func (s *Store) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active *session.Session
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		active, err = s.backend.LoadActive(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if active != nil {
		s.current = active
		s.logger.Info(ctx, "session_restored", "Restored active ride session from backend", map[string]any{
			"session_id": active.ID,
			"started_at": active.StartedAt.Format(time.RFC3339),
		})
	}
	return nil
}

// CreateSession starts a new ACTIVE session. It fails with a conflict while another one is ACTIVE.
func (s *Store) CreateSession(ctx context.Context, driverIdentity, accessCode string) (*session.Session, error) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current.IsActive() {
		return nil, session.ErrAlreadyActive
	}

	next, err := session.New(driverIdentity, accessCode, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.call(ctx, func(ctx context.Context) error {
		return s.backend.Insert(ctx, next)
	}); err != nil {
		return nil, err
	}

	prev := s.current
	s.current = next
	if prev != nil {
		s.post(s.broker.closeLocation(prev.ID))
	}
	s.commitStatus(next.Snapshot())

	return next.Clone(), nil
}

// EndSession ends the current session. Unknown ids are NotFound, an already ended one is a State error.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	sessionID = strings.TrimSpace(sessionID)

	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	now := s.now()
	err = s.call(ctx, func(ctx context.Context) error {
		return s.backend.MarkEnded(ctx, sessionID, now)
	})
	if err != nil && !errors.Is(err, apperrors.ErrState) {
		return err
	}

	// a State error means a shared backend already ended it; converge locally and report it
	if endErr := cur.End(now); endErr != nil {
		return endErr
	}
	s.post(s.broker.closeLocation(sessionID))
	s.commitStatus(session.Inactive)

	return err
}

// RecordLocation replaces the latest position of the ACTIVE session.
// The position is validated before anything else is looked at.
func (s *Store) RecordLocation(ctx context.Context, sessionID string, p geo.Position) error {
	if err := p.Validate(); err != nil {
		return err
	}
	sessionID = strings.TrimSpace(sessionID)
	if p.CapturedAt.IsZero() {
		p.CapturedAt = s.now().UTC()
	}

	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.lookup(sessionID)
	if err != nil {
		return err
	}

	now := s.now()
	if err := s.call(ctx, func(ctx context.Context) error {
		return s.backend.SaveLocation(ctx, sessionID, p, now)
	}); err != nil {
		return err
	}

	if err := cur.UpdateLocation(p, now); err != nil {
		return err
	}
	s.commitLocation(sessionID, p)

	return nil
}

// CurrentStatus never fails: no session or an ENDED one reads as inactive.
func (s *Store) CurrentStatus() session.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Snapshot()
}

// Current returns a copy of the latest session, ACTIVE or ENDED, or nil.
func (s *Store) Current() *session.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// LatestLocation returns the last recorded position of sessionID. An unset location is not an error.
func (s *Store) LatestLocation(sessionID string) (geo.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil || s.current.ID != sessionID || s.current.LatestLocation == nil {
		return geo.Position{}, false
	}
	return s.current.LatestLocation.Clone(), true
}

// History returns retained samples of a session, newest first.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]geo.LocationHistory, error) {
	hb, ok := s.backend.(ports.HistoryBackend)
	if !ok {
		return nil, ErrHistoryUnavailable
	}

	var out []geo.LocationHistory
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = hb.History(ctx, sessionID, limit)
		return err
	})
	return out, err
}

// SubscribeStatus replays the current status, then every transition in commit order.
func (s *Store) SubscribeStatus(cb func(session.Snapshot)) (cancel func()) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, cancel := s.broker.addStatus(cb)
	snap := s.current.Snapshot()
	s.post(func() { deliver(s.logger, "status", sub, snap) })
	return cancel
}

// SubscribeLocation replays the last known position of sessionID, then its later updates.
// Subscribing to a session that is not ACTIVE yields at most the replay.
func (s *Store) SubscribeLocation(sessionID string, cb func(geo.Position)) (cancel func()) {
	defer s.flush()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.ID != sessionID {
		return func() {}
	}

	var sub *subscription[geo.Position]
	if s.current.IsActive() {
		sub, cancel = s.broker.addLocation(sessionID, cb)
	} else {
		sub, cancel = detached(cb)
	}
	if loc := s.current.LatestLocation; loc != nil {
		replay := loc.Clone()
		s.post(func() { deliver(s.logger, "location", sub, replay) })
	}
	if !s.current.IsActive() {
		s.post(cancel)
	}
	return cancel
}

// SubscriberCounts reports how many status and location subscriptions are registered.
func (s *Store) SubscriberCounts() (status, location int) {
	return s.broker.counts()
}

// lookup resolves the target of a mutation. Callers hold the write lock.
func (s *Store) lookup(sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, session.ErrEmptySessionID
	}
	if s.current == nil || s.current.ID != sessionID {
		return nil, session.ErrSessionNotFound
	}
	if !s.current.IsActive() {
		return nil, session.ErrSessionNotActive
	}
	return s.current, nil
}

// call runs one backend operation under the store timeout and classifies its failure.
func (s *Store) call(ctx context.Context, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if apperrors.Kind(err) != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: backend did not answer within %s: %w", apperrors.ErrTimeout, s.timeout, err)
	}
	return fmt.Errorf("%w: %w", apperrors.ErrTransport, err)
}

func (s *Store) commitStatus(snap session.Snapshot) {
	s.post(s.broker.publishStatus(snap))
	s.postHooks(Event{Kind: EventStatus, SessionID: s.current.ID, Snapshot: snap, At: s.now().UTC()})
}

func (s *Store) commitLocation(sessionID string, p geo.Position) {
	s.post(s.broker.publishLocation(sessionID, p))
	s.postHooks(Event{Kind: EventLocation, SessionID: sessionID, Position: p.Clone(), At: s.now().UTC()})
}

// postHooks binds the hooks registered at commit time to ev. Callers hold the write lock.
func (s *Store) postHooks(ev Event) {
	if len(s.hooks) == 0 {
		return
	}
	hooks := slices.Clone(s.hooks)
	s.post(func() {
		for _, h := range hooks {
			s.runHook(h, ev)
		}
	})
}

func (s *Store) runHook(h func(Event), ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(context.Background(), "commit_hook_panic", "Commit hook panicked",
				fmt.Errorf("%v", r), map[string]any{"session_id": ev.SessionID, "kind": ev.Kind.String()})
		}
	}()
	h(ev)
}

// post queues a notification. Callers hold the write lock, which fixes the commit order.
func (s *Store) post(fn func()) {
	s.dmu.Lock()
	s.pending = append(s.pending, fn)
	s.dmu.Unlock()
}

// flush drains queued notifications once the write lock is released. Only one
// goroutine drains at a time; anything queued meanwhile, including from inside
// a callback, is picked up by the drainer before it returns.
func (s *Store) flush() {
	s.dmu.Lock()
	if s.draining {
		s.dmu.Unlock()
		return
	}
	s.draining = true
	for len(s.pending) > 0 {
		next := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]
		s.dmu.Unlock()
		next()
		s.dmu.Lock()
	}
	s.pending = nil
	s.draining = false
	s.dmu.Unlock()
}
