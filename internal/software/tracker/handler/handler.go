package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"bus-tracker/internal/domain/apperrors"
	"bus-tracker/internal/domain/geo"
	"bus-tracker/internal/general/jwt"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/ports"
	"bus-tracker/internal/software/tracker/service"
)

// SessionReader is the store surface the HTTP layer reads and writes directly.
type SessionReader interface {
	ports.SessionStore
	History(ctx context.Context, sessionID string, limit int) ([]geo.LocationHistory, error)
	SubscriberCounts() (status, location int)
}

// LocationPublisher throttles and smooths samples before they reach the store.
type LocationPublisher interface {
	Offer(ctx context.Context, sessionID string, sample geo.Position) (geo.Position, bool, error)
}

// ScheduleReporter exposes the auto-session state.
type ScheduleReporter interface {
	Status(upcoming int) service.ScheduleStatus
}

// WSHandlers are the two WebSocket endpoints.
type WSHandlers interface {
	ConnectStudent(w http.ResponseWriter, r *http.Request)
	ConnectDriver(w http.ResponseWriter, r *http.Request)
	Connections() (students, drivers int64)
}

// HealthCheck reports the state of one dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

// TrackerHTTPHandler adapts HTTP requests to the ride lifecycle, the location publisher and the session store.
type TrackerHTTPHandler struct {
	store     SessionReader
	lifecycle ports.RideLifecycle
	locations LocationPublisher
	schedule  ScheduleReporter
	auth      *jwt.Manager
	websocket WSHandlers
	logger    *logger.Logger
	backend   string
	checks    map[string]HealthCheck
}

// NewTrackerHTTPHandler wires the HTTP handler. schedule and checks may be nil.
func NewTrackerHTTPHandler(
	store SessionReader,
	lifecycle ports.RideLifecycle,
	locations LocationPublisher,
	schedule ScheduleReporter,
	auth *jwt.Manager,
	ws WSHandlers,
	logger *logger.Logger,
	backend string,
	checks map[string]HealthCheck,
) *TrackerHTTPHandler {
	return &TrackerHTTPHandler{
		store:     store,
		lifecycle: lifecycle,
		locations: locations,
		schedule:  schedule,
		auth:      auth,
		websocket: ws,
		logger:    logger,
		backend:   backend,
		checks:    checks,
	}
}

// RegisterRoutes mounts tracker endpoints on the provided mux.
func (handler *TrackerHTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /rides/start", handler.handleStartRide)
	mux.HandleFunc("POST /rides/{session_id}/stop",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver, jwt.RoleOperator)(handler.handleStopRide),
	)
	mux.HandleFunc("POST /rides/{session_id}/location",
		jwt.AuthMiddlewareFunc(handler.auth, jwt.RoleDriver)(handler.handleRecordLocation),
	)

	mux.HandleFunc("GET /rides/status", handler.handleStatus)
	mux.HandleFunc("GET /rides/{session_id}/location", handler.handleLatestLocation)
	mux.HandleFunc("GET /rides/{session_id}/history", handler.handleHistory)
	mux.HandleFunc("GET /schedule", handler.handleSchedule)
	mux.HandleFunc("GET /health", handler.handleHealth)

	// WebSockets authenticate (drivers) on their own
	if handler.websocket != nil {
		mux.HandleFunc("GET /ws/track", handler.websocket.ConnectStudent)
		mux.HandleFunc("GET /ws/driver", handler.websocket.ConnectDriver)
	}
}

// ----- general helpers -----

// jsonResponse takes any type of data and encode it to HTTP response.
func (handler *TrackerHTTPHandler) jsonResponse(ctx context.Context, w http.ResponseWriter, status int, data any) {
	// encode to buffer first so we can control status on failure
	var buf []byte
	var err error

	if data != nil {
		buf, err = json.Marshal(data)
		if err != nil {
			handler.logger.Error(ctx, "response_encode_failed", "Failed to encode response", err, nil)
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
			return
		}
	} else {
		buf = []byte("{}")
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf)
}

// httpError sends a JSON error response with a message.
func (handler *TrackerHTTPHandler) httpError(ctx context.Context, w http.ResponseWriter, status int, msg string, err error) {
	action := "request_failed"
	if status >= 500 {
		action = "http_internal_error"
	} else if status == http.StatusBadRequest {
		action = "validation_failed"
	} else if status == http.StatusUnsupportedMediaType {
		action = "unsupported_media_type"
	}
	handler.logger.Error(ctx, action, msg, err, nil)

	type errBody struct {
		Error string `json:"error"`
	}
	handler.jsonResponse(ctx, w, status, errBody{Error: msg})
}

// domainError maps a classified error to its status code and message.
func (handler *TrackerHTTPHandler) domainError(ctx context.Context, w http.ResponseWriter, err error) {
	status := apperrors.CheckError(err)
	msg := err.Error()
	if status >= 500 && apperrors.Kind(err) == nil {
		msg = "internal error"
	}
	handler.httpError(ctx, w, status, msg, err)
}

// decodeJSON enforces the content type, limits the body and decodes strictly.
func (handler *TrackerHTTPHandler) decodeJSON(ctx context.Context, w http.ResponseWriter, r *http.Request, v any) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		handler.httpError(ctx, w, http.StatusUnsupportedMediaType, "Content-Type must be application/json", nil)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, 64<<10) // 64 KiB
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			handler.httpError(ctx, w, http.StatusRequestEntityTooLarge, "request body too large", err)
			return false
		}
		handler.httpError(ctx, w, http.StatusBadRequest, "invalid JSON: "+err.Error(), err)
		return false
	}
	return true
}

// withReqID extracts or generates a request ID and adds it to the context.
func (handler *TrackerHTTPHandler) withReqID(ctx context.Context, r *http.Request) context.Context {
	reqID := r.Header.Get("X-Request-ID")
	if strings.TrimSpace(reqID) == "" {
		reqID = randID()
	}
	return handler.logger.WithRequestID(ctx, reqID)
}

// randID generates a random 24-char hex string suitable for request IDs.
func randID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
