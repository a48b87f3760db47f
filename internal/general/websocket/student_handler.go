package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/general/contracts"

	"github.com/gorilla/websocket"
)

// studentConn is one student socket. Store callbacks only enqueue into send;
// the writer goroutine owns the socket writes.
type studentConn struct {
	ws   *WebSocket
	conn *websocket.Conn
	ctx  context.Context

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once

	mu             sync.Mutex
	cancelStatus   func()
	cancelLocation func()
	locationID     string // session the location subscription follows
	following      bool   // move to each new active session
}

// ConnectStudent serves GET /ws/track: status updates immediately, locations after subscribe_location.
func (ws *WebSocket) ConnectStudent(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	defer conn.Close()
	defer ws.writeLocks.Delete(conn)

	ws.students.Add(1)
	defer ws.students.Add(-1)

	ctx := context.WithoutCancel(r.Context())
	c := &studentConn{
		ws:   ws,
		conn: conn,
		ctx:  ctx,
		send: make(chan []byte, ws.sendBuffer),
		done: make(chan struct{}),
	}
	defer c.shutdown()

	conn.SetReadLimit(4 << 10)
	ws.keepAlive(ctx, conn, c.done)
	go c.writeLoop()

	c.mu.Lock()
	c.cancelStatus = ws.store.SubscribeStatus(c.onStatus)
	c.mu.Unlock()

	ws.logger.Info(ctx, "ws_connected", "Student WebSocket connected", nil)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			ws.logClose(ctx, conn, "student", err)
			return
		}

		var msg contracts.WSClientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.enqueueJSON(contracts.WSError{Type: contracts.WSTypeError, Message: "bad json"})
			continue
		}

		switch msg.Type {
		case contracts.WSTypeSubscribeLocation:
			c.subscribeLocation(strings.TrimSpace(msg.SessionID))
		case contracts.WSTypeUnsubscribeLocation:
			c.mu.Lock()
			c.following = false
			c.mu.Unlock()
			c.unsubscribeLocation()
		default:
			c.enqueueJSON(contracts.WSError{Type: contracts.WSTypeError, Message: "unknown message type"})
		}
	}
}

func (c *studentConn) onStatus(snap session.Snapshot) {
	c.enqueueJSON(contracts.WSStatusUpdate{
		Type:      contracts.WSTypeStatusUpdate,
		Active:    snap.Active,
		SessionID: snap.SessionID,
		StartedAt: snap.StartedAt,
	})

	c.mu.Lock()
	move := c.following && snap.Active && snap.SessionID != c.locationID
	c.mu.Unlock()
	if move {
		c.followLocation(snap.SessionID, true)
	}
}

// subscribeLocation follows sessionID, or every active session in turn when empty.
// It replaces any previous location subscription.
func (c *studentConn) subscribeLocation(sessionID string) {
	follow := sessionID == ""
	if follow {
		snap := c.ws.store.CurrentStatus()
		if !snap.Active {
			c.enqueueJSON(contracts.WSError{Type: contracts.WSTypeError, Message: "no active ride session"})
			return
		}
		sessionID = snap.SessionID
	}
	c.followLocation(sessionID, follow)
}

// followLocation swaps in a subscription to sessionID. It runs from the read loop
// and from status callbacks, so the previous subscription is taken under c.mu.
func (c *studentConn) followLocation(sessionID string, follow bool) {
	cancel := c.ws.store.SubscribeLocation(sessionID, func(p geo.Position) {
		c.enqueueJSON(contracts.WSLocationUpdate{
			Type:      contracts.WSTypeLocationUpdate,
			SessionID: sessionID,
			Location:  contracts.LocationFrom(p),
		})
	})

	c.mu.Lock()
	prev := c.cancelLocation
	c.cancelLocation = cancel
	c.locationID = sessionID
	c.following = follow
	c.mu.Unlock()
	if prev != nil {
		prev()
	}

	c.ws.logger.Debug(c.ws.logger.WithSessionID(c.ctx, sessionID), "ws_location_subscribed", "Student subscribed to bus location", nil)
}

func (c *studentConn) unsubscribeLocation() {
	c.mu.Lock()
	cancel := c.cancelLocation
	c.cancelLocation = nil
	c.locationID = ""
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// enqueueJSON never blocks: a student that cannot keep up is disconnected and will get a fresh replay on reconnect.
func (c *studentConn) enqueueJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.ws.logger.Error(c.ctx, "ws_encode_failed", "Failed to encode message", err, nil)
		return
	}

	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.ws.logger.Info(c.ctx, "ws_slow_consumer", "Student send buffer full, closing connection", map[string]any{
			"buffer": cap(c.send),
		})
		c.closeOnce.Do(func() { close(c.done) })
	}
}

func (c *studentConn) writeLoop() {
	for {
		select {
		case <-c.done:
			_ = c.conn.Close()
			return
		case payload := <-c.send:
			if err := c.ws.wsWriteMessage(c.conn, websocket.TextMessage, payload); err != nil {
				c.ws.logger.Error(c.ctx, "ws_write_failed", "Failed to write to student", err, nil)
				c.closeOnce.Do(func() { close(c.done) })
				_ = c.conn.Close()
				return
			}
		}
	}
}

func (c *studentConn) shutdown() {
	c.mu.Lock()
	cancelStatus := c.cancelStatus
	c.cancelStatus = nil
	c.mu.Unlock()

	if cancelStatus != nil {
		cancelStatus()
	}
	c.unsubscribeLocation()
	c.closeOnce.Do(func() { close(c.done) })
}
