package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bus-tracker/internal/general/contracts"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// ----- Handler: GET /rides/status -----

func (handler *TrackerHTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	snap := handler.store.CurrentStatus()

	w.Header().Set("Cache-Control", "no-store")
	handler.jsonResponse(ctx, w, http.StatusOK, contracts.StatusResponse{
		Active:    snap.Active,
		SessionID: snap.SessionID,
		StartedAt: snap.StartedAt,
	})
}

// ----- Handler: GET /rides/{session_id}/location -----

// handleLatestLocation answers 204 while no location was recorded yet.
func (handler *TrackerHTTPHandler) handleLatestLocation(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	sessionID := strings.TrimSpace(r.PathValue("session_id"))

	p, ok := handler.store.LatestLocation(sessionID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	handler.jsonResponse(ctx, w, http.StatusOK, contracts.WSLocationUpdate{
		Type:      contracts.WSTypeLocationUpdate,
		SessionID: sessionID,
		Location:  contracts.LocationFrom(p),
	})
}

// ----- Handler: GET /rides/{session_id}/history -----

func (handler *TrackerHTTPHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	sessionID := strings.TrimSpace(r.PathValue("session_id"))
	ctx = handler.logger.WithSessionID(ctx, sessionID)

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxHistoryLimit {
			handler.httpError(ctx, w, http.StatusBadRequest, "limit must be between 1 and 1000", err)
			return
		}
		limit = n
	}

	ctxWithTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	records, err := handler.store.History(ctxWithTimeout, sessionID, limit)
	if err != nil {
		handler.domainError(ctx, w, err)
		return
	}

	type point struct {
		contracts.Location
		RecordedAt time.Time `json:"recorded_at"`
	}
	type resp struct {
		SessionID string  `json:"session_id"`
		Count     int     `json:"count"`
		Points    []point `json:"points"`
	}
	out := resp{SessionID: sessionID, Points: make([]point, 0, len(records))}
	for _, rec := range records {
		out.Points = append(out.Points, point{Location: contracts.LocationFrom(rec.Position), RecordedAt: rec.RecordedAt})
	}
	out.Count = len(out.Points)

	handler.jsonResponse(ctx, w, http.StatusOK, out)
}

// ----- Handler: GET /schedule -----

func (handler *TrackerHTTPHandler) handleSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := handler.withReqID(r.Context(), r)
	if handler.schedule == nil {
		handler.jsonResponse(ctx, w, http.StatusOK, contracts.ScheduleResponse{Enabled: false, UpcomingHolidays: []contracts.HolidayInfo{}})
		return
	}

	st := handler.schedule.Status(5)
	resp := contracts.ScheduleResponse{
		Enabled:           st.Enabled,
		Window:            st.Window.String(),
		Timezone:          st.Timezone,
		MinutesUntilStart: st.MinutesUntilStart,
		InWindow:          st.InWindow,
		HolidayToday:      st.HolidayToday,
		NonOperatingToday: st.NonOperatingToday,
		TriggeredToday:    st.TriggeredToday,
		UpcomingHolidays:  make([]contracts.HolidayInfo, 0, len(st.UpcomingHolidays)),
	}
	for _, h := range st.UpcomingHolidays {
		resp.UpcomingHolidays = append(resp.UpcomingHolidays, contracts.HolidayInfo{Date: h.Date, Formatted: h.Formatted})
	}

	handler.jsonResponse(ctx, w, http.StatusOK, resp)
}

// ----- Handler: GET /health -----

// handleHealth reports 503 when any dependency check fails.
func (handler *TrackerHTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(handler.checks))
	status, code := "ok", http.StatusOK
	for name, check := range handler.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	statusSubs, locationSubs := handler.store.SubscriberCounts()
	var students, drivers int64
	if handler.websocket != nil {
		students, drivers = handler.websocket.Connections()
	}

	type resp struct {
		Status       string            `json:"status"`
		Backend      string            `json:"backend"`
		Dependencies map[string]string `json:"dependencies"`
		Active       bool              `json:"active"`
		StatusSubs   int               `json:"status_subscribers"`
		LocationSubs int               `json:"location_subscribers"`
		StudentConns int64             `json:"student_connections"`
		DriverConns  int64             `json:"driver_connections"`
	}

	w.Header().Set("Cache-Control", "no-store")
	handler.jsonResponse(ctx, w, code, resp{
		Status:       status,
		Backend:      handler.backend,
		Dependencies: deps,
		Active:       handler.store.CurrentStatus().Active,
		StatusSubs:   statusSubs,
		LocationSubs: locationSubs,
		StudentConns: students,
		DriverConns:  drivers,
	})
}
