package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// handlerTimeout bounds the processing of one relayed event.
const handlerTimeout = 10 * time.Second

// newConsumerChannel returns a fresh channel with prefetch (QoS) applied.
func (client *Client) newConsumerChannel(prefetch int) (*amqp.Channel, error) {
	client.mu.RLock()
	conn := client.conn
	client.mu.RUnlock()

	// quick fail if no connection
	if conn == nil || conn.IsClosed() {
		return nil, errors.New("rabbitmq: connection is not ready")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	if prefetch < 0 {
		prefetch = 1
	}
	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("rabbitmq: set QoS (prefetch=%d): %w", prefetch, err)
		}
	}

	return ch, nil
}

// ConsumeInstance declares this instance's exclusive fanout queue and consumes it
// until ctx is done or the channel closes. Callers loop on it to survive reconnects.
// Events this instance produced itself are acked without reaching handler.
func (client *Client) ConsumeInstance(ctx context.Context, instanceID string, prefetch int, handler func(context.Context, []byte) error) error {
	ch, err := client.newConsumerChannel(prefetch)
	if err != nil {
		return err
	}
	defer ch.Close()

	queue, err := declareInstanceQueue(ch, instanceID)
	if err != nil {
		return err
	}

	consumerTag := "tracker-" + instanceID
	deliveries, err := ch.Consume(
		queue,
		consumerTag,
		false, // autoAck
		true,  // exclusive: one relay per instance queue
		false, // noLocal (ignored by RabbitMQ)
		false, // noWait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume(%s): %w", queue, err)
	}

	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			_ = ch.Cancel(consumerTag, false)
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel closed while consuming %s: %w", queue, cerr)
			}
			return errors.New("rabbitmq: channel closed")

		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq: delivery stream ended")
			}
			if skipOwn(d, instanceID) {
				_ = d.Ack(false)
				continue
			}

			hCtx, cancel := context.WithTimeout(ctx, handlerTimeout)
			err := handler(hCtx, d.Body)
			cancel()

			if err != nil {
				_ = d.Nack(false, false) // a malformed event will not get better on redelivery
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// skipOwn reports whether a delivery was published by this instance.
func skipOwn(d amqp.Delivery, instanceID string) bool {
	return d.AppId != "" && d.AppId == instanceID
}
