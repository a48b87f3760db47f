package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"bus-tracker/internal/general/contracts"
	"bus-tracker/internal/ports"

	amqp "github.com/rabbitmq/amqp091-go"
)

var _ ports.EventPublisher = (*MQPublisher)(nil)

// headerSessionID lets consumers and the management UI see the session without decoding the body.
const headerSessionID = "session_id"

// MQPublisher adapts Client to ports.EventPublisher.
type MQPublisher struct {
	Client *Client
}

// NewMQPublisher constructs an MQPublisher using the provided RabbitMQ client.
func NewMQPublisher(client *Client) *MQPublisher {
	return &MQPublisher{Client: client}
}

// PublishSessionEvent sends one session event to the fanout exchange and waits for the broker confirm.
func (publisher *MQPublisher) PublishSessionEvent(ctx context.Context, msg contracts.SessionEventMessage) error {
	pub, err := sessionPublishing(msg, publisher.Client.locationTTL)
	if err != nil {
		return err
	}
	// the fanout ignores the key; the event kind keeps traces readable
	return publisher.Client.publish(ctx, contracts.ExchangeSessionFanout, msg.Kind, pub)
}

// sessionPublishing maps a session event onto AMQP properties. Events are transient:
// a restarted broker has nothing useful to replay. Positions expire after locationTTL
// since a late position is worse than none; status events never expire.
func sessionPublishing(msg contracts.SessionEventMessage, locationTTL time.Duration) (amqp.Publishing, error) {
	if msg.SessionID == "" {
		return amqp.Publishing{}, errors.New("rabbitmq: session event without session id")
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("rabbitmq: encode %s event: %w", msg.Kind, err)
	}

	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	pub := amqp.Publishing{
		Headers:      amqp.Table{headerSessionID: msg.SessionID},
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		MessageId:    msg.CorrelationID,
		Timestamp:    sentAt.UTC(),
		Type:         msg.Kind,
		AppId:        msg.Producer,
		Body:         body,
	}
	if msg.Kind == contracts.EventSessionLocation && locationTTL > 0 {
		pub.Expiration = strconv.FormatInt(locationTTL.Milliseconds(), 10)
	}
	return pub, nil
}

// publish sends one message on the confirm channel. Publishes are serialized so each
// one reads its own confirm; the wait is bounded by the client's publish timeout.
func (client *Client) publish(ctx context.Context, exchange, routingKey string, pub amqp.Publishing) error {
	client.mu.RLock()
	ch := client.pubChan
	conn := client.conn
	client.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not open")
	}
	if ch == nil || ch.IsClosed() {
		return errors.New("rabbitmq: publish channel is not open")
	}

	client.pubMu.Lock()
	defer client.pubMu.Unlock()
	confirms := client.pubConfirms

	ctx, cancel := context.WithTimeout(ctx, client.publishTimeout)
	defer cancel()

	// not mandatory: a fanout with no other instance bound is the normal single-node case
	if err := ch.PublishWithContext(ctx, exchange, routingKey, false, false, pub); err != nil {
		return fmt.Errorf("rabbitmq: publish %s: %w", pub.Type, err)
	}

	select {
	case c, ok := <-confirms:
		if !ok {
			return errors.New("rabbitmq: channel closed before confirm")
		}
		if !c.Ack {
			return fmt.Errorf("rabbitmq: broker nacked %s event %s", pub.Type, pub.MessageId)
		}
		return nil
	case <-ctx.Done():
		// drain the late confirm so the next publish does not read it as its own
		select {
		case <-confirms:
		case <-time.After(client.publishTimeout / 2):
		}
		return fmt.Errorf("rabbitmq: no confirm for %s event %s: %w", pub.Type, pub.MessageId, ctx.Err())
	}
}
