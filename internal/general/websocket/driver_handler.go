package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"bus-tracker/internal/general/contracts"
	"bus-tracker/internal/general/jwt"

	"github.com/gorilla/websocket"
)

// ConnectDriver serves GET /ws/driver. The first frame must be {"type":"auth","token":"Bearer <jwt>"}
// with the driver token returned when the ride started; every later location_update frame is a GPS sample.
func (ws *WebSocket) ConnectDriver(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error(r.Context(), "websocket_upgrade_failed", "Failed to upgrade to WebSocket", err, nil)
		return
	}
	// Teardown order (LIFO on return):
	defer conn.Close()               // close the socket last
	defer ws.writeLocks.Delete(conn) // forget per-connection mutex (idempotent)

	ctx := context.WithoutCancel(r.Context())

	conn.SetReadLimit(64 << 10)
	if err := conn.SetReadDeadline(time.Now().Add(wsAuthTimeout)); err != nil {
		ws.logger.Error(ctx, "ws_set_deadline_failed", "Failed to set initial read deadline", err, nil)
		return
	}

	msgType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		ws.logger.Error(ctx, "ws_auth_read_failed", "Failed to read auth message", err, nil)
		_ = ws.sendError(conn, "authentication timeout: send the auth message within 5 seconds")
		return
	}
	if msgType != websocket.TextMessage {
		_ = ws.sendError(conn, "auth message must be in text format")
		return
	}

	res, err := jwt.ValidateDriverFrame(firstFrame, ws.jwtMgr)
	if err != nil {
		ws.logger.Error(ctx, "ws_auth_failed", "Invalid auth message or token", err, nil)
		_ = ws.sendError(conn, "authentication failed: invalid token")
		return
	}
	sessionID := res.SessionID
	ctx = ws.logger.WithSessionID(ctx, sessionID)

	if snap := ws.store.CurrentStatus(); !snap.Active || snap.SessionID != sessionID {
		ws.logger.Info(ctx, "ws_driver_rejected", "Driver token is for a session that is not active", nil)
		_ = ws.sendError(conn, "ride session is not active")
		return
	}

	if err := ws.writeJSON(conn, contracts.WSAuthOK{Type: contracts.WSTypeAuthOK, SessionID: sessionID}); err != nil {
		ws.logger.Error(ctx, "ws_auth_success_failed", "Failed to send auth success message", err, nil)
		return
	}

	ws.drivers.Add(1)
	defer ws.drivers.Add(-1)

	done := make(chan struct{})
	defer close(done)
	ws.keepAlive(ctx, conn, done)

	feed := &driverFeed{}
	stop := ws.streamer.Stream(ctx, sessionID, feed)
	defer stop()

	ws.logger.Info(ctx, "ws_connected", "Driver WebSocket connected", map[string]any{"driver": res.Driver})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			ws.logClose(ctx, conn, "driver", err)
			return
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			_ = ws.sendError(conn, "bad json")
			continue
		}
		if env.Type != contracts.WSTypeLocationUpdate {
			_ = ws.sendError(conn, "unknown message type")
			continue
		}

		var msg contracts.WSDriverLocation
		if err := json.Unmarshal(payload, &msg); err != nil {
			_ = ws.sendError(conn, "bad location payload")
			continue
		}
		p, err := msg.Location.Position()
		if err != nil {
			feed.fail(fmt.Errorf("driver sample rejected: %w", err))
			_ = ws.sendError(conn, err.Error())
			continue
		}

		if !feed.watching() {
			// the stream stopped because the session ended
			_ = ws.sendError(conn, "ride session ended")
			ws.wsWriteClose(conn, websocket.CloseNormalClosure, "session ended")
			return
		}
		feed.push(p)
	}
}
