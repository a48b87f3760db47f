package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"bus-tracker/internal/general/contracts"

	"github.com/gorilla/websocket"
)

// wsWriteClose sends a close control frame with the given code and reason.
func (ws *WebSocket) wsWriteClose(conn *websocket.Conn, code int, reason string) {
	mu := ws.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()

	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason),
		time.Now().Add(wsCloseAckWindow),
	)
}

// wsWriteMessage sets a short write deadline and writes a message.
func (ws *WebSocket) wsWriteMessage(conn *websocket.Conn, mt int, payload []byte) error {
	mu := ws.lockOf(conn)
	mu.Lock()
	defer mu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(mt, payload)
}

// lockOf returns the mutex for a specific connection
func (ws *WebSocket) lockOf(conn *websocket.Conn) *sync.Mutex {
	if v, ok := ws.writeLocks.Load(conn); ok {
		if mu, ok := v.(*sync.Mutex); ok && mu != nil {
			return mu
		}
	}
	mu := &sync.Mutex{}
	actual, _ := ws.writeLocks.LoadOrStore(conn, mu)
	return actual.(*sync.Mutex)
}

// writeJSON marshals v and writes a single TextMessage to the given connection.
func (ws *WebSocket) writeJSON(conn *websocket.Conn, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.wsWriteMessage(conn, websocket.TextMessage, payload)
}

// sendError reports a rejected frame to the client.
func (ws *WebSocket) sendError(conn *websocket.Conn, message string) error {
	return ws.writeJSON(conn, contracts.WSError{Type: contracts.WSTypeError, Message: message})
}

// keepAlive arms the read deadline and pings every wsPingEvery until done closes.
// A failed ping closes the socket so the reader unblocks.
func (ws *WebSocket) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	_ = conn.SetReadDeadline(time.Now().Add(wsReadIdle))
	conn.SetPongHandler(func(_ string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadIdle))
	})

	go func() {
		ticker := time.NewTicker(wsPingEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				mu := ws.lockOf(conn)
				mu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctrlTimeout))
				mu.Unlock()
				if err != nil {
					_ = conn.Close()
					ws.logger.Error(ctx, "ws_ping_failed", "Failed to send ping", err, nil)
					return
				}
			}
		}
	}()
}

// logClose distinguishes unexpected closes from normal ones and answers with a close frame.
func (ws *WebSocket) logClose(ctx context.Context, conn *websocket.Conn, role string, err error) {
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		ws.logger.Error(ctx, "ws_unexpected_close", "Connection closed unexpectedly", err, map[string]any{"role": role})
		ws.wsWriteClose(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	ws.logger.Info(ctx, "ws_connection_closed", "Connection closed", map[string]any{"role": role})
	ws.wsWriteClose(conn, websocket.CloseNormalClosure, "bye")
}

// envelope is the minimal shape used to route inbound frames.
type envelope struct {
	Type string `json:"type"`
}
