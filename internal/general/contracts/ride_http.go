package contracts

import "time"

// StartRideRequest is the body of POST /rides/start.
type StartRideRequest struct {
	AccessCode     string `json:"access_code"`
	DriverIdentity string `json:"driver_identity,omitempty"`
}

// StartRideResponse returns the new session and the driver token that controls it.
type StartRideResponse struct {
	SessionID      string    `json:"session_id"`
	DriverIdentity string    `json:"driver_identity"`
	StartedAt      time.Time `json:"started_at"`
	Token          string    `json:"token"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// RecordLocationRequest is the body of POST /rides/{session_id}/location.
type RecordLocationRequest struct {
	Location
}

// RecordLocationResponse acknowledges a posted sample. Recorded is false when the
// sample was throttled; Location is what the store holds after smoothing.
type RecordLocationResponse struct {
	SessionID string   `json:"session_id"`
	Recorded  bool     `json:"recorded"`
	Location  Location `json:"location"`
}

// StatusResponse is GET /rides/status.
type StatusResponse struct {
	Active    bool       `json:"active"`
	SessionID string     `json:"session_id,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// ScheduleResponse is GET /schedule.
type ScheduleResponse struct {
	Enabled           bool          `json:"enabled"`
	Window            string        `json:"window"`
	Timezone          string        `json:"timezone"`
	MinutesUntilStart int           `json:"minutes_until_start"`
	InWindow          bool          `json:"in_window"`
	HolidayToday      bool          `json:"holiday_today"`
	NonOperatingToday bool          `json:"non_operating_today"`
	TriggeredToday    bool          `json:"triggered_today"`
	UpcomingHolidays  []HolidayInfo `json:"upcoming_holidays"`
}

type HolidayInfo struct {
	Date      string `json:"date"`
	Formatted string `json:"formatted"`
}
