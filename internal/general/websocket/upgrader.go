package websocket

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"bus-tracker/internal/general/jwt"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/ports"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 5 * time.Second
	wsCloseAckWindow = 2 * time.Second
	ctrlTimeout      = 5 * time.Second
	wsAuthTimeout    = 5 * time.Second
	wsReadIdle       = 60 * time.Second
	wsPingEvery      = 30 * time.Second

	// DefaultSendBuffer bounds the outbound queue of one student connection.
	DefaultSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// students open the map from any origin; drivers authenticate with a token
	CheckOrigin: func(*http.Request) bool { return true },
}

// PositionStreamer turns a position source into store writes for one session.
type PositionStreamer interface {
	Stream(ctx context.Context, sessionID string, src ports.PositionSource) (stop func())
}

// WebSocket serves the student live feed and the driver position feed.
type WebSocket struct {
	logger     *logger.Logger
	jwtMgr     *jwt.Manager
	store      ports.SessionStore
	streamer   PositionStreamer
	sendBuffer int

	writeLocks sync.Map // key: *websocket.Conn -> *sync.Mutex
	students   atomic.Int64
	drivers    atomic.Int64
}

// NewWebSocket wires both feeds. sendBuffer <= 0 uses DefaultSendBuffer.
func NewWebSocket(logger *logger.Logger, jwtMgr *jwt.Manager, store ports.SessionStore, streamer PositionStreamer, sendBuffer int) *WebSocket {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &WebSocket{
		logger:     logger,
		jwtMgr:     jwtMgr,
		store:      store,
		streamer:   streamer,
		sendBuffer: sendBuffer,
	}
}

// Connections reports the number of open student and driver sockets.
func (ws *WebSocket) Connections() (students, drivers int64) {
	return ws.students.Load(), ws.drivers.Load()
}
