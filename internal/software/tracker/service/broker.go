package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/general/logger"
)

// subscription is one registered observer. active flips to false exactly once on cancel,
// which is what stops deliveries already in flight on a copied dispatch list.
type subscription[T any] struct {
	id     uint64
	active atomic.Bool
	cb     func(T)
}

// Broker is the observer registry fed by store commits. Publishing binds an event to
// the subscribers registered at that moment and returns the delivery; the store
// runs deliveries in commit order. The broker lock is never held while calling back.
type Broker struct {
	logger *logger.Logger

	mu       sync.Mutex
	nextID   uint64
	status   map[uint64]*subscription[session.Snapshot]
	location map[string]map[uint64]*subscription[geo.Position]
}

// NewBroker builds an empty registry.
func NewBroker(log *logger.Logger) *Broker {
	return &Broker{
		logger:   log,
		status:   make(map[uint64]*subscription[session.Snapshot]),
		location: make(map[string]map[uint64]*subscription[geo.Position]),
	}
}

func (b *Broker) addStatus(cb func(session.Snapshot)) (*subscription[session.Snapshot], func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription[session.Snapshot]{id: b.nextID, cb: cb}
	sub.active.Store(true)
	b.status[sub.id] = sub

	return sub, func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		b.mu.Lock()
		delete(b.status, sub.id)
		b.mu.Unlock()
	}
}

func (b *Broker) addLocation(sessionID string, cb func(geo.Position)) (*subscription[geo.Position], func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription[geo.Position]{id: b.nextID, cb: cb}
	sub.active.Store(true)
	subs, ok := b.location[sessionID]
	if !ok {
		subs = make(map[uint64]*subscription[geo.Position])
		b.location[sessionID] = subs
	}
	subs[sub.id] = sub

	return sub, func() {
		if !sub.active.CompareAndSwap(true, false) {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.location[sessionID]; ok {
			delete(subs, sub.id)
			if len(subs) == 0 {
				delete(b.location, sessionID)
			}
		}
	}
}

// publishStatus binds snap to the current status subscribers.
func (b *Broker) publishStatus(snap session.Snapshot) func() {
	b.mu.Lock()
	subs := make([]*subscription[session.Snapshot], 0, len(b.status))
	for _, sub := range b.status {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	sortByID(subs)
	return func() {
		for _, sub := range subs {
			deliver(b.logger, "status", sub, snap)
		}
	}
}

// publishLocation binds p to the current subscribers of one session.
func (b *Broker) publishLocation(sessionID string, p geo.Position) func() {
	b.mu.Lock()
	subs := make([]*subscription[geo.Position], 0, len(b.location[sessionID]))
	for _, sub := range b.location[sessionID] {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	sortByID(subs)
	p = p.Clone()
	return func() {
		for _, sub := range subs {
			deliver(b.logger, "location", sub, p.Clone())
		}
	}
}

// closeLocation unregisters every location subscription of an ended or superseded
// session. The returned func makes them inert; run after deliveries already bound to them.
func (b *Broker) closeLocation(sessionID string) func() {
	b.mu.Lock()
	subs := b.location[sessionID]
	delete(b.location, sessionID)
	b.mu.Unlock()

	return func() {
		for _, sub := range subs {
			sub.active.Store(false)
		}
	}
}

// detached is a location subscription outside the registry, used for a replay-only subscribe.
func detached(cb func(geo.Position)) (*subscription[geo.Position], func()) {
	sub := &subscription[geo.Position]{cb: cb}
	sub.active.Store(true)
	return sub, func() { sub.active.Store(false) }
}

// counts is used by health reporting.
func (b *Broker) counts() (status, location int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, subs := range b.location {
		location += len(subs)
	}
	return len(b.status), location
}

// deliver calls one subscriber, containing a panic to that subscriber.
func deliver[T any](log *logger.Logger, stream string, sub *subscription[T], v T) {
	if !sub.active.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error(context.Background(), "subscriber_panic", "Subscriber callback panicked",
				fmt.Errorf("%v", r), map[string]any{"stream": stream, "subscription_id": sub.id})
		}
	}()
	sub.cb(v)
}

// sortByID keeps fan-out order stable: oldest subscriber first.
func sortByID[T any](subs []*subscription[T]) {
	slices.SortFunc(subs, func(a, b *subscription[T]) int {
		return cmp.Compare(a.id, b.id)
	})
}
