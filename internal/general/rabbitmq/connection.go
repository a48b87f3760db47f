package rabbitmq

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"bus-tracker/internal/general/config"
	"bus-tracker/internal/general/contracts"
	"bus-tracker/internal/general/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client is the relay's RabbitMQ connection: one confirm-mode publishing channel,
// consumer channels opened on demand, and a watcher that redials on failure.
type Client struct {
	url            string
	instanceID     string
	publishTimeout time.Duration
	locationTTL    time.Duration
	logger         *logger.Logger
	logCtx         context.Context // context for logging (without cancel)

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	pubMu       sync.Mutex
	pubConfirms chan amqp.Confirmation

	closed    chan struct{}
	reconnect chan struct{}
}

// URL renders the AMQP URL for the configured broker.
func URL(mq config.RabbitMQConfig) string {
	u := &url.URL{
		Scheme: "amqp",
		Host:   net.JoinHostPort(mq.Host, strconv.Itoa(mq.Port)),
		User:   url.UserPassword(mq.User, mq.Password),
		Path:   "/",
	}
	return u.String()
}

// ConnectRabbitMQ dials the broker for one tracker instance and starts a background
// watcher that reconnects on failures.
func ConnectRabbitMQ(ctx context.Context, mq config.RabbitMQConfig, instanceID string, logger *logger.Logger) (*Client, error) {
	client := &Client{
		url:            URL(mq),
		instanceID:     instanceID,
		publishTimeout: mq.PublishTimeout,
		locationTTL:    mq.LocationTTL,
		logger:         logger,
		logCtx:         context.WithoutCancel(ctx), // avoid ctx cancel on reconnects
		closed:         make(chan struct{}),
		reconnect:      make(chan struct{}, 1),
	}
	if client.publishTimeout <= 0 {
		client.publishTimeout = 5 * time.Second
	}

	// initial connect (single attempt; further retries happen in the watcher)
	if err := client.connectOnce(); err != nil {
		return nil, err
	}

	// background watcher for reconnects
	go client.watch()

	return client, nil
}

// IsConnected reports whether the connection and publishing channel are usable.
func (client *Client) IsConnected() bool {
	client.mu.RLock()
	defer client.mu.RUnlock()
	return client.conn != nil && !client.conn.IsClosed() && client.pubChan != nil && !client.pubChan.IsClosed()
}

// Close gracefully stops the watcher and closes AMQP resources.
func (client *Client) Close() {
	select {
	case <-client.closed:
		// already closed
	default:
		close(client.closed)
	}

	// close connection and channel
	client.mu.Lock()
	if client.pubChan != nil {
		_ = client.pubChan.Close()
		client.pubChan = nil
	}
	if client.conn != nil {
		_ = client.conn.Close()
		client.conn = nil
	}
	client.mu.Unlock()

	// close the confirms channel so any waiters exit cleanly
	client.pubMu.Lock()
	if client.pubConfirms != nil {
		close(client.pubConfirms)
		client.pubConfirms = nil
	}
	client.pubMu.Unlock()
}

// --- internals ---

// connectOnce tries to connect and set up topology once.
func (client *Client) connectOnce() error {
	// the connection name shows which tracker instance owns it in the management UI
	props := amqp.NewConnectionProperties()
	props.SetClientConnectionName("bus-tracker-" + client.instanceID)

	conn, err := amqp.DialConfig(client.url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Locale:     "en_US",
		Dial:       amqp.DefaultDial(10 * time.Second),
		Properties: props,
	})
	if err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_dial_failed", "Failed to dial RabbitMQ", err, map[string]any{
			"instance_id": client.instanceID,
		})
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	defer func() {
		if err != nil && conn != nil {
			_ = conn.Close()
		}
	}()

	// create a channel for publishing messages
	ch, err := conn.Channel()
	if err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_open_channel_failed", "Failed to open RabbitMQ channel", err, nil)
		return fmt.Errorf("rabbitmq: failed to open channel: %w", err)
	}

	defer func() {
		if err != nil && ch != nil {
			_ = ch.Close()
		}
	}()

	// declare topology (the shared fanout exchange)
	if err = declareTopology(ch); err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_declare_topology_failed", "Failed to declare RabbitMQ topology", err, nil)
		return fmt.Errorf("rabbitmq: failed to declare topology: %w", err)
	}

	// enable publisher confirms on the publishing channel
	if err = ch.Confirm(false); err != nil {
		client.logger.Error(client.logCtx, "rabbitmq_enable_confirms_failed", "Failed to enable publisher confirms", err, nil)
		return fmt.Errorf("rabbitmq: failed to enable confirms: %w", err)
	}

	// create the confirms channel
	client.pubMu.Lock()
	oldConfirms := client.pubConfirms
	client.pubConfirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	client.pubMu.Unlock()

	// close the old confirms channel if it exists
	if oldConfirms != nil {
		close(oldConfirms)
	}

	// atomically install the new connection + publishing channel
	client.mu.Lock()

	// close/replace any previous publishing channel to avoid leaks
	if client.pubChan != nil && !client.pubChan.IsClosed() {
		_ = client.pubChan.Close()
	}
	client.conn = conn
	client.pubChan = ch

	client.mu.Unlock()

	// watch for connection/channel closures and trigger reconnect
	go func(conn *amqp.Connection, ch *amqp.Channel) {
		// either the connection or the publisher channel closing should trigger reconnect
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-client.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}

		// try to enqueue a reconnect signal
		select {
		case client.reconnect <- struct{}{}:
		default:
			// already enqueued; no-op
		}
	}(conn, ch)

	client.logger.Info(client.logCtx, "rabbitmq_connected", "Session relay connected to RabbitMQ", map[string]any{
		"instance_id": client.instanceID,
		"exchange":    contracts.ExchangeSessionFanout,
	})

	return nil
}

// watch runs in background and attempts reconnects with exponential backoff.
func (client *Client) watch() {
	// reconnect loop with exponential backoff
	backoff := time.Second
	for {
		select {
		case <-client.closed:
			return
		case <-client.reconnect:
			// attempt reconnect until success or Close()
			for {
				select {
				case <-client.closed:
					return
				default:
				}

				err := client.connectOnce()

				if err == nil {
					// reset backoff on success
					backoff = time.Second
					// the relay consumer notices its closed channel and redeclares its queue
				client.logger.Info(client.logCtx, "rabbitmq_reconnected", "Session relay reconnected to RabbitMQ", map[string]any{
					"instance_id": client.instanceID,
				})
					break
				}

				client.logger.Error(client.logCtx, "retry_attempted", "Failed to reconnect to RabbitMQ", err, map[string]any{
					"backoff_ms": backoff.Milliseconds(),
				})

				select {
				case <-client.closed:
					return
				case <-time.After(backoff):
				}
				if backoff < 30*time.Second {
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
				}
			}
		}
	}
}
