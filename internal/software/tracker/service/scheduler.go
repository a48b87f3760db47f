package service

import (
	"context"
	"sync"
	"time"

	"bus-tracker/internal/domain/schedule"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/ports"
)

// Scheduler outcome reasons, in the order they are checked.
const (
	ReasonDisabled       = "auto-session disabled"
	ReasonSessionActive  = "session already active"
	ReasonHoliday        = "holiday: no auto-session"
	ReasonClosedDay      = "closed weekday: no auto-session"
	ReasonOutsideWindow  = "outside auto-session time window"
	ReasonAlreadyStarted = "auto-session already started today"
	ReasonStarted        = "auto-session started"
)

// HolidayCalendar is the calendar view the scheduler needs for decisions and reporting.
type HolidayCalendar interface {
	ports.OperatingCalendar
	IsHoliday(t time.Time) bool
	UpcomingHolidays(now time.Time, count int) []schedule.Holiday
}

// SchedulerConfig drives the daily auto-session.
type SchedulerConfig struct {
	Enabled         bool
	Window          schedule.Window
	Tick            time.Duration
	Location        *time.Location
	AutoCode        string
	AutoIdentity    string
	StopAtWindowEnd bool
}

// Result is the outcome of one scheduler check. Failures end up in Reason, never as errors.
type Result struct {
	Started   bool   `json:"started"`
	SessionID string `json:"session_id,omitempty"`
	Reason    string `json:"reason"`
}

// ScheduleStatus is the read model behind GET /schedule.
type ScheduleStatus struct {
	Enabled           bool
	Window            schedule.Window
	Timezone          string
	MinutesUntilStart int
	InWindow          bool
	HolidayToday      bool
	NonOperatingToday bool
	TriggeredToday    bool
	UpcomingHolidays  []schedule.Holiday
	LastResult        Result
}

// Scheduler starts one ride per operating day inside the configured window.
// State is IDLE until it fires, TRIGGERED-TODAY until the local date changes.
type Scheduler struct {
	lifecycle ports.RideLifecycle
	store     ports.SessionStore
	calendar  HolidayCalendar
	cfg       SchedulerConfig
	logger    *logger.Logger
	now       func() time.Time

	mu        sync.Mutex
	firedOn   string // local date the auto-session fired, "" while IDLE
	startedID string // session started by the scheduler, for StopAtWindowEnd
	last      Result
}

// NewScheduler wires the scheduler. A nil clock means time.Now.
func NewScheduler(lifecycle ports.RideLifecycle, store ports.SessionStore, calendar HolidayCalendar, cfg SchedulerConfig, log *logger.Logger, now func() time.Time) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Tick <= 0 {
		cfg.Tick = time.Minute
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		lifecycle: lifecycle,
		store:     store,
		calendar:  calendar,
		cfg:       cfg,
		logger:    log,
		now:       now,
	}
}

// Run checks once immediately and then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info(ctx, "scheduler_started", "Auto-session scheduler started", map[string]any{
		"enabled": s.cfg.Enabled,
		"window":  s.cfg.Window.String(),
		"tick":    s.cfg.Tick.String(),
	})

	s.Check(ctx)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler_stopped", "Auto-session scheduler stopped", nil)
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

// Check runs one scheduler step.
func (s *Scheduler) Check(ctx context.Context) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.cfg.Location)
	s.rollDay(ctx, now)
	s.stopAtWindowEnd(ctx, now)

	res := s.decide(now)
	if res.Reason == "" {
		res = s.fire(ctx, now)
	}
	if res != s.last {
		s.logger.Debug(ctx, "scheduler_checked", "Auto-session check", map[string]any{
			"started":    res.Started,
			"session_id": res.SessionID,
			"reason":     res.Reason,
		})
	}
	s.last = res
	return res
}

// decide returns a non-empty reason when the scheduler must not fire.
func (s *Scheduler) decide(now time.Time) Result {
	switch {
	case !s.cfg.Enabled:
		return Result{Reason: ReasonDisabled}
	case s.store.CurrentStatus().Active:
		return Result{Reason: ReasonSessionActive}
	case s.calendar.IsHoliday(now):
		return Result{Reason: ReasonHoliday}
	case s.calendar.IsNonOperatingDay(now):
		return Result{Reason: ReasonClosedDay}
	case !s.cfg.Window.Contains(now):
		return Result{Reason: ReasonOutsideWindow}
	case s.firedOn == dateKey(now):
		return Result{Reason: ReasonAlreadyStarted}
	}
	return Result{}
}

func (s *Scheduler) fire(ctx context.Context, now time.Time) Result {
	started, err := s.lifecycle.StartRide(ctx, s.cfg.AutoCode, s.cfg.AutoIdentity)
	if err != nil {
		// the day is not marked, so the next tick retries
		s.logger.Error(ctx, "auto_session_failed", "Failed to auto-start ride session", err, nil)
		return Result{Reason: err.Error()}
	}

	s.firedOn = dateKey(now)
	s.startedID = started.ID
	s.logger.Info(s.logger.WithSessionID(ctx, started.ID), "auto_session_started", "Auto-session started", map[string]any{
		"window": s.cfg.Window.String(),
	})
	return Result{Started: true, SessionID: started.ID, Reason: ReasonStarted}
}

// rollDay returns to IDLE when the local calendar date changes.
func (s *Scheduler) rollDay(ctx context.Context, now time.Time) {
	if s.firedOn == "" || s.firedOn == dateKey(now) {
		return
	}
	s.logger.Debug(ctx, "scheduler_day_rolled", "New day, auto-session re-armed", map[string]any{"previous": s.firedOn})
	s.firedOn = ""
}

// stopAtWindowEnd stops the session the scheduler itself started once its window is over.
func (s *Scheduler) stopAtWindowEnd(ctx context.Context, now time.Time) {
	if !s.cfg.StopAtWindowEnd || s.startedID == "" {
		return
	}
	if s.firedOn != "" && !s.cfg.Window.HasEnded(now) {
		return
	}

	id := s.startedID
	if err := s.lifecycle.StopRide(ctx, id); err != nil {
		s.logger.Error(ctx, "auto_session_stop_failed", "Failed to stop auto-session at window end", err, map[string]any{"session_id": id})
		return
	}
	s.startedID = ""
	s.logger.Info(s.logger.WithSessionID(ctx, id), "auto_session_window_closed", "Auto-session stopped at window end", nil)
}

// TriggeredToday reports whether the auto-session already fired on the current local date.
func (s *Scheduler) TriggeredToday() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firedOn != "" && s.firedOn == dateKey(s.now().In(s.cfg.Location))
}

// Status reports the schedule as seen now.
func (s *Scheduler) Status(upcoming int) ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().In(s.cfg.Location)
	return ScheduleStatus{
		Enabled:           s.cfg.Enabled,
		Window:            s.cfg.Window,
		Timezone:          s.cfg.Location.String(),
		MinutesUntilStart: s.cfg.Window.MinutesUntilStart(now),
		InWindow:          s.cfg.Window.Contains(now),
		HolidayToday:      s.calendar.IsHoliday(now),
		NonOperatingToday: s.calendar.IsNonOperatingDay(now),
		TriggeredToday:    s.firedOn == dateKey(now),
		UpcomingHolidays:  s.calendar.UpcomingHolidays(now, upcoming),
		LastResult:        s.last,
	}
}

func dateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
