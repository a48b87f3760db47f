package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"bus-tracker/internal/general/contracts"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/ports"
)

const relayBuffer = 256

// InstanceConsumer delivers the bodies of events published by every instance.
type InstanceConsumer interface {
	ConsumeInstance(ctx context.Context, instanceID string, prefetch int, handler func(context.Context, []byte) error) error
}

// Relay forwards local commits to the session fanout and applies other instances' commits locally.
type Relay struct {
	store      *Store
	pub        ports.EventPublisher
	consumer   InstanceConsumer
	instanceID string
	prefetch   int
	logger     *logger.Logger

	outbox chan contracts.SessionEventMessage
	wg     sync.WaitGroup
}

// NewRelay wires the relay; call Start to begin.
func NewRelay(store *Store, pub ports.EventPublisher, consumer InstanceConsumer, instanceID string, prefetch int, log *logger.Logger) *Relay {
	return &Relay{
		store:      store,
		pub:        pub,
		consumer:   consumer,
		instanceID: instanceID,
		prefetch:   prefetch,
		logger:     log,
		outbox:     make(chan contracts.SessionEventMessage, relayBuffer),
	}
}

// Start hooks the store and launches the publish and consume loops.
func (r *Relay) Start(ctx context.Context) {
	r.store.OnCommit(r.enqueue)

	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		r.publishLoop(ctx)
	}()
	go func() {
		defer r.wg.Done()
		r.consumeLoop(ctx)
	}()
}

// Wait blocks until both loops have exited after ctx is done.
func (r *Relay) Wait() {
	r.wg.Wait()
}

// enqueue runs on the store notification path, so it never blocks: a full outbox drops the event.
func (r *Relay) enqueue(ev Event) {
	msg := toMessage(ev, r.instanceID)
	select {
	case r.outbox <- msg:
	default:
		r.logger.Error(context.Background(), "relay_outbox_full", "Relay outbox full, dropping event",
			fmt.Errorf("outbox capacity %d reached", relayBuffer),
			map[string]any{"kind": msg.Kind, "session_id": msg.SessionID})
	}
}

func (r *Relay) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-r.outbox:
			msg.SentAt = time.Now().UTC()
			if err := r.pub.PublishSessionEvent(ctx, msg); err != nil {
				r.logger.Error(ctx, "relay_publish_failed", "Failed to publish session event", err, map[string]any{
					"kind":       msg.Kind,
					"session_id": msg.SessionID,
				})
			}
		}
	}
}

// consumeLoop keeps a consumer attached across broker reconnects.
func (r *Relay) consumeLoop(ctx context.Context) {
	backoff := time.Second
	for {
		err := r.consumer.ConsumeInstance(ctx, r.instanceID, r.prefetch, r.handle)
		if ctx.Err() != nil {
			return
		}
		r.logger.Error(ctx, "relay_consume_stopped", "Relay consumer stopped, retrying", err, map[string]any{
			"backoff_ms": backoff.Milliseconds(),
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// handle applies one remote event. Returning an error drops the message.
func (r *Relay) handle(ctx context.Context, body []byte) error {
	var msg contracts.SessionEventMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		r.logger.Error(ctx, "relay_decode_failed", "Dropping undecodable session event", err, nil)
		return err
	}
	if msg.Producer == r.instanceID {
		return nil
	}

	ev, err := fromMessage(msg)
	if err != nil {
		r.logger.Error(ctx, "relay_event_invalid", "Dropping invalid session event", err, map[string]any{
			"producer": msg.Producer,
		})
		return err
	}
	r.store.ApplyRemote(ctx, ev)
	return nil
}

func toMessage(ev Event, instanceID string) contracts.SessionEventMessage {
	msg := contracts.SessionEventMessage{
		SessionID: ev.SessionID,
		Envelope: contracts.Envelope{
			CorrelationID: randID(),
			Producer:      instanceID,
		},
	}
	switch ev.Kind {
	case EventStatus:
		msg.Kind = contracts.EventSessionStatus
		msg.Active = ev.Snapshot.Active
		msg.StartedAt = ev.Snapshot.StartedAt
	case EventLocation:
		msg.Kind = contracts.EventSessionLocation
		msg.Active = true
		loc := contracts.LocationFrom(ev.Position)
		msg.Location = &loc
	}
	return msg
}

func fromMessage(msg contracts.SessionEventMessage) (Event, error) {
	ev := Event{SessionID: msg.SessionID, At: msg.SentAt}
	switch msg.Kind {
	case contracts.EventSessionStatus:
		ev.Kind = EventStatus
		if msg.Active {
			ev.Snapshot.Active = true
			ev.Snapshot.SessionID = msg.SessionID
			ev.Snapshot.StartedAt = msg.StartedAt
		}
	case contracts.EventSessionLocation:
		if msg.Location == nil {
			return Event{}, fmt.Errorf("location event without location")
		}
		p, err := msg.Location.Position()
		if err != nil {
			return Event{}, err
		}
		ev.Kind = EventLocation
		ev.Position = p
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	if ev.SessionID == "" {
		return Event{}, fmt.Errorf("event without session id")
	}
	return ev, nil
}
