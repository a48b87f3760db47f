package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"bus-tracker/internal/domain/access"
	"bus-tracker/internal/domain/schedule"
	"bus-tracker/internal/general/contracts"
	"bus-tracker/internal/general/jwt"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/general/memory"
	"bus-tracker/internal/software/tracker/service"
)

type fixture struct {
	mux   *http.ServeMux
	store *service.Store
	jwt   *jwt.Manager
}

func newFixture(t *testing.T, checks map[string]HealthCheck) *fixture {
	t.Helper()
	log := logger.Discard()
	store := service.NewStore(memory.NewBackend(memory.DefaultHistoryLimit), log)
	lifecycle := service.NewManager(store, access.NewAllowList("BUS77A", "GOKU", "AUTO_SESSION_7AM"), log, "")

	cal, err := schedule.NewCalendar([]string{"2099-01-01"}, []string{"Sunday"})
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	window, _ := schedule.NewWindow("07:45", "09:00")
	sched := service.NewScheduler(lifecycle, store, cal, service.SchedulerConfig{
		Enabled:  true,
		Window:   window,
		Location: time.UTC,
		AutoCode: "AUTO_SESSION_7AM",
	}, log, nil)

	pub := service.NewPublisher(store, service.PublisherConfig{}, log)
	pub.Start()
	t.Cleanup(pub.Close)

	mgr := jwt.NewManager("test-secret", time.Hour)
	h := NewTrackerHTTPHandler(store, lifecycle, pub, sched, mgr, nil, log, "memory", checks)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	return &fixture{mux: mux, store: store, jwt: mgr}
}

func (fx *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			if err := json.NewEncoder(&buf).Encode(b); err != nil {
				t.Fatalf("encode: %v", err)
			}
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	fx.mux.ServeHTTP(rec, req)
	return rec
}

func (fx *fixture) start(t *testing.T) contracts.StartRideResponse {
	t.Helper()
	rec := fx.do(t, http.MethodPost, "/rides/start", "", contracts.StartRideRequest{AccessCode: "BUS77A"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("start status = %d, body %s", rec.Code, rec.Body)
	}
	var resp contracts.StartRideResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
	return v
}

func TestStartRide(t *testing.T) {
	fx := newFixture(t, nil)

	resp := fx.start(t)
	if resp.SessionID == "" || resp.DriverIdentity != "driver1" || resp.Token == "" || resp.ExpiresAt.IsZero() {
		t.Fatalf("start response = %+v", resp)
	}

	status := decode[contracts.StatusResponse](t, fx.do(t, http.MethodGet, "/rides/status", "", nil))
	if !status.Active || status.SessionID != resp.SessionID || status.StartedAt == nil {
		t.Fatalf("status = %+v", status)
	}

	if rec := fx.do(t, http.MethodPost, "/rides/start", "", contracts.StartRideRequest{AccessCode: "GOKU"}); rec.Code != http.StatusConflict {
		t.Fatalf("second start status = %d", rec.Code)
	}
}

func TestStartRide_Rejections(t *testing.T) {
	fx := newFixture(t, nil)

	tests := []struct {
		name        string
		body        string
		contentType string
		want        int
	}{
		{"empty code", `{"access_code":""}`, "application/json", http.StatusBadRequest},
		{"wrong code", `{"access_code":"NOPE"}`, "application/json", http.StatusUnauthorized},
		{"unknown field", `{"access_code":"BUS77A","extra":1}`, "application/json", http.StatusBadRequest},
		{"broken json", `{"access_code":`, "application/json", http.StatusBadRequest},
		{"not json", `access_code=BUS77A`, "application/x-www-form-urlencoded", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/rides/start", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rec := httptest.NewRecorder()
			fx.mux.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body)
			}
			if !strings.Contains(rec.Body.String(), `"error"`) && rec.Code != http.StatusUnsupportedMediaType {
				t.Fatalf("body = %s, want JSON error", rec.Body)
			}
		})
	}
	if fx.store.CurrentStatus().Active {
		t.Fatal("rejected request started a session")
	}
}

func TestRecordAndReadLocation(t *testing.T) {
	fx := newFixture(t, nil)
	ride := fx.start(t)
	path := "/rides/" + ride.SessionID + "/location"

	if rec := fx.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("unset location status = %d", rec.Code)
	}

	loc := contracts.RecordLocationRequest{Location: contracts.Location{Latitude: 12.9716, Longitude: 77.5946}}
	if rec := fx.do(t, http.MethodPost, path, "", loc); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}
	if rec := fx.do(t, http.MethodPost, path, ride.Token, loc); rec.Code != http.StatusAccepted {
		t.Fatalf("record status = %d, body %s", rec.Code, rec.Body)
	}

	got := decode[contracts.WSLocationUpdate](t, fx.do(t, http.MethodGet, path, "", nil))
	if got.SessionID != ride.SessionID || got.Location.Latitude != 12.9716 || got.Location.Longitude != 77.5946 {
		t.Fatalf("location = %+v", got)
	}

	bad := contracts.RecordLocationRequest{Location: contracts.Location{Latitude: 91, Longitude: 0}}
	if rec := fx.do(t, http.MethodPost, path, ride.Token, bad); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad latitude status = %d", rec.Code)
	}

	// a driver token only controls its own session
	other, _, _ := fx.jwt.IssueSessionToken("another-session", "driver9", jwt.RoleDriver)
	if rec := fx.do(t, http.MethodPost, path, other, loc); rec.Code != http.StatusForbidden {
		t.Fatalf("foreign token status = %d", rec.Code)
	}

	if rec := fx.do(t, http.MethodGet, "/rides/unknown/location", "", nil); rec.Code != http.StatusNoContent {
		t.Fatalf("unknown session location status = %d", rec.Code)
	}
}

func TestRecordLocation_ThrottlesNearbySamples(t *testing.T) {
	fx := newFixture(t, nil)
	ride := fx.start(t)
	path := "/rides/" + ride.SessionID + "/location"
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	first := contracts.RecordLocationRequest{Location: contracts.Location{Latitude: 12.9716, Longitude: 77.5946, CapturedAt: at}}
	rec := fx.do(t, http.MethodPost, path, ride.Token, first)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first status = %d, body %s", rec.Code, rec.Body)
	}
	if got := decode[contracts.RecordLocationResponse](t, rec); !got.Recorded {
		t.Fatalf("first sample not recorded: %+v", got)
	}

	// about half a meter north, 400ms later
	near := contracts.RecordLocationRequest{Location: contracts.Location{
		Latitude:   12.9716 + 0.0000045,
		Longitude:  77.5946,
		CapturedAt: at.Add(400 * time.Millisecond),
	}}
	rec = fx.do(t, http.MethodPost, path, ride.Token, near)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("near status = %d, body %s", rec.Code, rec.Body)
	}
	if got := decode[contracts.RecordLocationResponse](t, rec); got.Recorded {
		t.Fatalf("near sample recorded: %+v", got)
	}

	latest := decode[contracts.WSLocationUpdate](t, fx.do(t, http.MethodGet, path, "", nil))
	if latest.Location.Latitude != 12.9716 {
		t.Fatalf("latest = %+v, want the first sample", latest.Location)
	}

	later := near
	later.CapturedAt = at.Add(4 * time.Second)
	if got := decode[contracts.RecordLocationResponse](t, fx.do(t, http.MethodPost, path, ride.Token, later)); !got.Recorded {
		t.Fatalf("sample after the interval not recorded: %+v", got)
	}
}

func TestStopRide(t *testing.T) {
	fx := newFixture(t, nil)
	ride := fx.start(t)
	path := "/rides/" + ride.SessionID + "/stop"

	if rec := fx.do(t, http.MethodPost, path, "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status = %d", rec.Code)
	}

	for i := range 2 {
		if rec := fx.do(t, http.MethodPost, path, ride.Token, nil); rec.Code != http.StatusOK {
			t.Fatalf("stop #%d status = %d, body %s", i+1, rec.Code, rec.Body)
		}
	}
	status := decode[contracts.StatusResponse](t, fx.do(t, http.MethodGet, "/rides/status", "", nil))
	if status.Active || status.SessionID != "" {
		t.Fatalf("status after stop = %+v", status)
	}

	// recording into an ended session is a state conflict
	loc := contracts.RecordLocationRequest{Location: contracts.Location{Latitude: 1, Longitude: 1}}
	if rec := fx.do(t, http.MethodPost, "/rides/"+ride.SessionID+"/location", ride.Token, loc); rec.Code != http.StatusConflict {
		t.Fatalf("location after stop status = %d", rec.Code)
	}
}

func TestStopRide_OperatorToken(t *testing.T) {
	fx := newFixture(t, nil)
	ride := fx.start(t)

	op, _, err := fx.jwt.IssueSessionToken("", "ops-desk", jwt.RoleOperator)
	if err != nil {
		t.Fatalf("IssueSessionToken: %v", err)
	}
	if rec := fx.do(t, http.MethodPost, "/rides/"+ride.SessionID+"/stop", op, nil); rec.Code != http.StatusOK {
		t.Fatalf("operator stop status = %d", rec.Code)
	}
	// operators cannot post locations
	loc := contracts.RecordLocationRequest{Location: contracts.Location{Latitude: 1, Longitude: 1}}
	if rec := fx.do(t, http.MethodPost, "/rides/"+ride.SessionID+"/location", op, loc); rec.Code != http.StatusForbidden {
		t.Fatalf("operator location status = %d", rec.Code)
	}
}

func TestHistory(t *testing.T) {
	fx := newFixture(t, nil)
	ride := fx.start(t)

	for i := range 3 {
		loc := contracts.RecordLocationRequest{Location: contracts.Location{Latitude: float64(i), Longitude: 1}}
		if rec := fx.do(t, http.MethodPost, "/rides/"+ride.SessionID+"/location", ride.Token, loc); rec.Code != http.StatusAccepted {
			t.Fatalf("record status = %d", rec.Code)
		}
	}

	type history struct {
		SessionID string `json:"session_id"`
		Count     int    `json:"count"`
		Points    []struct {
			Latitude float64 `json:"latitude"`
		} `json:"points"`
	}
	got := decode[history](t, fx.do(t, http.MethodGet, "/rides/"+ride.SessionID+"/history?limit=2", "", nil))
	if got.Count != 2 || got.Points[0].Latitude != 2 || got.Points[1].Latitude != 1 {
		t.Fatalf("history = %+v", got)
	}

	for _, q := range []string{"abc", "0", "5000"} {
		if rec := fx.do(t, http.MethodGet, "/rides/"+ride.SessionID+"/history?limit="+q, "", nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("limit=%s status = %d", q, rec.Code)
		}
	}
}

func TestSchedule(t *testing.T) {
	fx := newFixture(t, nil)

	got := decode[contracts.ScheduleResponse](t, fx.do(t, http.MethodGet, "/schedule", "", nil))
	if !got.Enabled || got.Window != "07:45-09:00" || got.Timezone != "UTC" {
		t.Fatalf("schedule = %+v", got)
	}
	if len(got.UpcomingHolidays) != 1 || got.UpcomingHolidays[0].Date != "2099-01-01" {
		t.Fatalf("upcoming = %+v", got.UpcomingHolidays)
	}
}

func TestHealth(t *testing.T) {
	healthy := newFixture(t, map[string]HealthCheck{
		"database": func(context.Context) error { return nil },
	})
	rec := healthy.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}
	body := decode[map[string]any](t, rec)
	if body["status"] != "ok" || body["backend"] != "memory" {
		t.Fatalf("health = %v", body)
	}

	broken := newFixture(t, map[string]HealthCheck{
		"broker": func(context.Context) error { return errors.New("not connected") },
	})
	rec = broken.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded health status = %d", rec.Code)
	}
	deps := decode[map[string]any](t, rec)["dependencies"].(map[string]any)
	if deps["broker"] != "not connected" {
		t.Fatalf("dependencies = %v", deps)
	}
}
