package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"bus-tracker/internal/domain/schedule"
	"bus-tracker/internal/domain/session"
	"bus-tracker/internal/general/logger"
	"bus-tracker/internal/ports"
)

// March 2026: the 1st is a Sunday, the 2nd a Monday.
func day(d, hour, minute int) time.Time {
	return time.Date(2026, time.March, d, hour, minute, 0, 0, time.UTC)
}

type schedulerFixture struct {
	clock *fakeClock
	store *Store
	sched *Scheduler
}

func newSchedulerFixture(t *testing.T, now time.Time, lifecycle func(*Store) ports.RideLifecycle, mutate func(*SchedulerConfig)) *schedulerFixture {
	t.Helper()
	clock := newFakeClock(now)
	store := newTestStore(newFaultyBackend(), clock)

	cal, err := schedule.NewCalendar([]string{"2026-03-10"}, []string{"Sunday"})
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	window, _ := schedule.NewWindow("07:45", "09:00")
	cfg := SchedulerConfig{
		Enabled:      true,
		Window:       window,
		Location:     time.UTC,
		AutoCode:     "AUTO_SESSION_7AM",
		AutoIdentity: "auto_driver",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	var lc ports.RideLifecycle = newTestManager(store)
	if lifecycle != nil {
		lc = lifecycle(store)
	}
	return &schedulerFixture{
		clock: clock,
		store: store,
		sched: NewScheduler(lc, store, cal, cfg, logger.Discard(), clock.Now),
	}
}

func TestScheduler_StartsOncePerDay(t *testing.T) {
	ctx := context.Background()
	fx := newSchedulerFixture(t, day(2, 7, 50), nil, nil)

	res := fx.sched.Check(ctx)
	if !res.Started || res.Reason != ReasonStarted || res.SessionID == "" {
		t.Fatalf("Check = %+v", res)
	}
	cur := fx.store.Current()
	if cur.DriverIdentity != "auto_driver" || cur.AccessCodeUsed != "AUTO_SESSION_7AM" {
		t.Fatalf("auto session = %+v", cur)
	}
	if !fx.sched.TriggeredToday() {
		t.Fatal("TriggeredToday = false after firing")
	}

	fx.clock.Advance(time.Minute)
	if res := fx.sched.Check(ctx); res.Started || res.Reason != ReasonSessionActive {
		t.Fatalf("second Check = %+v", res)
	}

	// a manual stop inside the window must not re-fire the same day
	_ = fx.store.EndSession(ctx, cur.ID)
	fx.clock.Advance(time.Minute)
	if res := fx.sched.Check(ctx); res.Started || res.Reason != ReasonAlreadyStarted {
		t.Fatalf("Check after stop = %+v", res)
	}

	// next morning it fires again
	fx.clock.Set(day(3, 7, 45))
	if res := fx.sched.Check(ctx); !res.Started {
		t.Fatalf("next day Check = %+v", res)
	}
}

func TestScheduler_Reasons(t *testing.T) {
	tests := []struct {
		name   string
		now    time.Time
		mutate func(*SchedulerConfig)
		want   string
	}{
		{"disabled", day(2, 8, 0), func(c *SchedulerConfig) { c.Enabled = false }, ReasonDisabled},
		{"before window", day(2, 7, 44), nil, ReasonOutsideWindow},
		{"window end is exclusive", day(2, 9, 0), nil, ReasonOutsideWindow},
		{"sunday", day(1, 8, 0), nil, ReasonClosedDay},
		{"holiday", day(10, 8, 0), nil, ReasonHoliday},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newSchedulerFixture(t, tt.now, nil, tt.mutate)
			res := fx.sched.Check(context.Background())
			if res.Started || res.Reason != tt.want {
				t.Fatalf("Check = %+v, want reason %q", res, tt.want)
			}
			if fx.store.CurrentStatus().Active {
				t.Fatal("session started")
			}
		})
	}
}

func TestScheduler_ManualSessionBlocksAutoStart(t *testing.T) {
	ctx := context.Background()
	fx := newSchedulerFixture(t, day(2, 8, 0), nil, nil)

	manual, _ := fx.store.CreateSession(ctx, "driver1", "BUS77A")
	if res := fx.sched.Check(ctx); res.Reason != ReasonSessionActive {
		t.Fatalf("Check = %+v", res)
	}
	if fx.store.CurrentStatus().SessionID != manual.ID {
		t.Fatal("manual session replaced")
	}
}

// flakyLifecycle fails the first start.
type flakyLifecycle struct {
	ports.RideLifecycle
	failures int
}

func (l *flakyLifecycle) StartRide(ctx context.Context, code, identity string) (*session.Session, error) {
	if l.failures > 0 {
		l.failures--
		return nil, errors.New("backend unavailable")
	}
	return l.RideLifecycle.StartRide(ctx, code, identity)
}

func TestScheduler_FailureIsRetried(t *testing.T) {
	ctx := context.Background()
	fx := newSchedulerFixture(t, day(2, 7, 50), func(store *Store) ports.RideLifecycle {
		return &flakyLifecycle{RideLifecycle: newTestManager(store), failures: 1}
	}, nil)

	res := fx.sched.Check(ctx)
	if res.Started || res.Reason != "backend unavailable" {
		t.Fatalf("failing Check = %+v", res)
	}
	if fx.sched.TriggeredToday() {
		t.Fatal("failed start marked the day")
	}

	fx.clock.Advance(time.Minute)
	if res := fx.sched.Check(ctx); !res.Started {
		t.Fatalf("retry Check = %+v", res)
	}
}

func TestScheduler_StopAtWindowEnd(t *testing.T) {
	ctx := context.Background()
	fx := newSchedulerFixture(t, day(2, 7, 50), nil, func(c *SchedulerConfig) { c.StopAtWindowEnd = true })

	res := fx.sched.Check(ctx)
	if !res.Started {
		t.Fatalf("Check = %+v", res)
	}

	fx.clock.Set(day(2, 8, 59))
	fx.sched.Check(ctx)
	if !fx.store.CurrentStatus().Active {
		t.Fatal("session stopped before the window closed")
	}

	fx.clock.Set(day(2, 9, 0))
	if res := fx.sched.Check(ctx); res.Reason != ReasonOutsideWindow {
		t.Fatalf("Check at window end = %+v", res)
	}
	if fx.store.CurrentStatus().Active {
		t.Fatal("auto session still active after the window closed")
	}
}

func TestScheduler_ManualSessionSurvivesWindowEnd(t *testing.T) {
	ctx := context.Background()
	fx := newSchedulerFixture(t, day(2, 8, 0), nil, func(c *SchedulerConfig) { c.StopAtWindowEnd = true })

	_, _ = fx.store.CreateSession(ctx, "driver1", "BUS77A")
	fx.sched.Check(ctx)

	fx.clock.Set(day(2, 9, 30))
	fx.sched.Check(ctx)
	if !fx.store.CurrentStatus().Active {
		t.Fatal("scheduler stopped a session it did not start")
	}
}

func TestScheduler_Status(t *testing.T) {
	fx := newSchedulerFixture(t, day(2, 7, 15), nil, nil)

	st := fx.sched.Status(3)
	if !st.Enabled || st.InWindow || st.HolidayToday || st.NonOperatingToday || st.TriggeredToday {
		t.Fatalf("Status = %+v", st)
	}
	if st.MinutesUntilStart != 30 {
		t.Fatalf("MinutesUntilStart = %d, want 30", st.MinutesUntilStart)
	}
	if st.Timezone != "UTC" || st.Window.String() != "07:45-09:00" {
		t.Fatalf("Status = %+v", st)
	}
	if len(st.UpcomingHolidays) != 1 || st.UpcomingHolidays[0].Date != "2026-03-10" {
		t.Fatalf("UpcomingHolidays = %+v", st.UpcomingHolidays)
	}
}

func TestScheduler_RunStopsWithContext(t *testing.T) {
	fx := newSchedulerFixture(t, day(2, 7, 50), nil, func(c *SchedulerConfig) { c.Tick = 10 * time.Millisecond })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		fx.sched.Run(ctx)
		close(done)
	}()

	eventually(t, "auto start", func() bool { return fx.store.CurrentStatus().Active })
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
