package rabbitmq

import (
	"fmt"

	"bus-tracker/internal/general/contracts"

	amqp "github.com/rabbitmq/amqp091-go"
)

// declareTopology declares the durable exchanges shared by all instances.
func declareTopology(ch *amqp.Channel) error {
	exchanges := []struct {
		name string
		kind string
	}{
		{contracts.ExchangeSessionFanout, "fanout"},
	}

	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareInstanceQueue declares the exclusive, auto-deleted queue of one tracker instance
// and binds it to the session fanout. Exclusive queues die with their connection, so this
// runs on every (re)consume.
func declareInstanceQueue(ch *amqp.Channel, instanceID string) (string, error) {
	name := contracts.QueueInstancePrefix + instanceID
	q, err := ch.QueueDeclare(name, false, true, true, false, nil)
	if err != nil {
		return "", fmt.Errorf("declare queue %s: %w", name, err)
	}
	if err := ch.QueueBind(q.Name, "", contracts.ExchangeSessionFanout, false, nil); err != nil {
		return "", fmt.Errorf("bind queue %s to %s: %w", q.Name, contracts.ExchangeSessionFanout, err)
	}
	return q.Name, nil
}
