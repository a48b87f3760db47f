package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"bus-tracker/internal/domain/apperrors"
	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/ports"
)

// Publisher turns raw position streams into throttled, smoothed store writes.
// Each stream runs in its own goroutine and dies with its session. Streams and
// single offers of one session share a filter, so the write rate is bounded per
// session whichever way the samples arrive.
type Publisher struct {
	store  ports.SessionStore
	cfg    PublisherConfig
	logger *logger.Logger
	now    func() time.Time

	mu           sync.Mutex
	nextID       uint64
	streams      map[string]map[uint64]*stream
	filters      map[string]*sessionFilter
	cancelStatus func()
}

// sessionFilter serializes filtering and writing for one session.
type sessionFilter struct {
	mu sync.Mutex
	*sampleFilter
}

type stream struct {
	id        uint64
	sessionID string
	samples   chan geo.Position
	done      chan struct{}
	once      sync.Once
}

func (st *stream) stop() {
	st.once.Do(func() { close(st.done) })
}

// NewPublisher builds a publisher; zero config fields take the defaults.
func NewPublisher(store ports.SessionStore, cfg PublisherConfig, log *logger.Logger) *Publisher {
	return &Publisher{
		store:   store,
		cfg:     cfg.withDefaults(),
		logger:  log,
		now:     time.Now,
		streams: make(map[string]map[uint64]*stream),
		filters: make(map[string]*sessionFilter),
	}
}

// Start watches session status so that ending or superseding a session stops its streams.
func (p *Publisher) Start() {
	cancel := p.store.SubscribeStatus(func(snap session.Snapshot) {
		// runs on the store notification path: only signal streams, never wait for them
		p.stopAllExcept(snap)
	})
	p.mu.Lock()
	p.cancelStatus = cancel
	p.mu.Unlock()
}

// Close stops every stream and the status watch.
func (p *Publisher) Close() {
	p.mu.Lock()
	cancel := p.cancelStatus
	p.cancelStatus = nil
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.stopAllExcept(session.Inactive)
}

// Stream feeds samples from src into sessionID until stop is called, ctx ends or the session is gone.
func (p *Publisher) Stream(ctx context.Context, sessionID string, src ports.PositionSource) (stop func()) {
	p.mu.Lock()
	p.nextID++
	st := &stream{
		id:        p.nextID,
		sessionID: sessionID,
		samples:   make(chan geo.Position, p.cfg.BufferSize),
		done:      make(chan struct{}),
	}
	if p.streams[sessionID] == nil {
		p.streams[sessionID] = make(map[uint64]*stream)
	}
	p.streams[sessionID][st.id] = st
	p.mu.Unlock()

	ctx = p.logger.WithSessionID(ctx, sessionID)

	// registered first, so an end racing with this check still reaches the stream
	if snap := p.store.CurrentStatus(); !snap.Active || snap.SessionID != sessionID {
		p.logger.Info(ctx, "stream_not_started", "Session is not active, location stream not started", nil)
		st.stop()
	}

	stopWatch := src.Watch(
		func(sample geo.Position) { p.enqueue(ctx, st, sample) },
		func(err error) {
			p.logger.Error(ctx, "position_source_error", "Position source reported an error", err, nil)
		},
	)

	go p.run(ctx, st, stopWatch)

	return st.stop
}

// Offer runs one sample through the session filter, for sources that push single
// samples such as HTTP posts. It returns the position written and whether the
// sample was recorded; a throttled sample is not an error.
func (p *Publisher) Offer(ctx context.Context, sessionID string, sample geo.Position) (geo.Position, bool, error) {
	if err := sample.Validate(); err != nil {
		return geo.Position{}, false, err
	}
	// filters only exist for the active session; anything else gets the store's answer
	if snap := p.store.CurrentStatus(); !snap.Active || snap.SessionID != sessionID {
		if err := p.store.RecordLocation(ctx, sessionID, sample); err != nil {
			return geo.Position{}, false, err
		}
		return sample, true, nil
	}

	out, recorded, err := p.write(ctx, sessionID, p.filterFor(sessionID), sample)
	if !recorded && err == nil {
		p.logger.Debug(ctx, "sample_throttled", "Sample too close in time and distance to the last write", nil)
	}
	return out, recorded, err
}

// ActiveStreams reports how many streams are running.
func (p *Publisher) ActiveStreams() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, byID := range p.streams {
		n += len(byID)
	}
	return n
}

// enqueue never blocks the source: when the buffer is full the oldest sample is dropped.
func (p *Publisher) enqueue(ctx context.Context, st *stream, sample geo.Position) {
	select {
	case <-st.done:
		return
	default:
	}

	select {
	case st.samples <- sample:
		return
	default:
	}

	select {
	case <-st.samples:
		p.logger.Debug(ctx, "sample_dropped", "Sample buffer full, dropped oldest sample", nil)
	default:
	}
	select {
	case st.samples <- sample:
	default:
	}
}

func (p *Publisher) run(ctx context.Context, st *stream, stopWatch func()) {
	defer func() {
		stopWatch()
		st.stop()
		p.remove(st)
		p.logger.Debug(ctx, "stream_stopped", "Location stream stopped", nil)
	}()

	filter := p.filterFor(st.sessionID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-st.done:
			return
		case sample := <-st.samples:
			if !p.publish(ctx, st, filter, sample) {
				return
			}
		}
	}
}

// publish handles one sample and reports whether the stream should keep going.
func (p *Publisher) publish(ctx context.Context, st *stream, filter *sessionFilter, sample geo.Position) bool {
	_, _, err := p.write(ctx, st.sessionID, filter, sample)
	switch {
	case err == nil:
		return true
	case apperrors.IsGone(err):
		p.logger.Info(ctx, "stream_session_gone", "Session is no longer active, stopping stream", map[string]any{
			"reason": err.Error(),
		})
		return false
	case errors.Is(err, apperrors.ErrValidation):
		p.logger.Error(ctx, "sample_rejected", "Dropping invalid position sample", err, nil)
		return true
	default:
		// transient: the next sample retries
		p.logger.Error(ctx, "record_location_failed", "Failed to record location", err, nil)
		return true
	}
}

// write filters one sample and records it when it passes. Only a successful write
// moves the filter anchor.
func (p *Publisher) write(ctx context.Context, sessionID string, filter *sessionFilter, sample geo.Position) (geo.Position, bool, error) {
	if err := sample.Validate(); err != nil {
		return geo.Position{}, false, err
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = p.now().UTC()
	}

	filter.mu.Lock()
	defer filter.mu.Unlock()

	out, ok := filter.next(sample)
	if !ok {
		return out, false, nil
	}
	if err := p.store.RecordLocation(ctx, sessionID, out); err != nil {
		return out, false, err
	}
	filter.accept(out)
	return out, true, nil
}

// filterFor returns the shared filter of a session, creating it on first use.
func (p *Publisher) filterFor(sessionID string) *sessionFilter {
	p.mu.Lock()
	defer p.mu.Unlock()

	f, ok := p.filters[sessionID]
	if !ok {
		f = &sessionFilter{sampleFilter: newSampleFilter(p.cfg)}
		p.filters[sessionID] = f
	}
	return f
}

func (p *Publisher) stopAllExcept(snap session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for id, byID := range p.streams {
		if snap.Active && id == snap.SessionID {
			continue
		}
		for _, st := range byID {
			st.stop()
		}
	}
	for id := range p.filters {
		if !snap.Active || id != snap.SessionID {
			delete(p.filters, id)
		}
	}
}

func (p *Publisher) remove(st *stream) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if byID, ok := p.streams[st.sessionID]; ok {
		delete(byID, st.id)
		if len(byID) == 0 {
			delete(p.streams, st.sessionID)
		}
	}
}
