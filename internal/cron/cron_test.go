package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"wastenav/internal/events"
	"wastenav/internal/model"
	"wastenav/internal/store"
)

type capturePub struct {
	mu  sync.Mutex
	evs []events.Event
}

func (c *capturePub) Dispatch(e events.Event) int {
	c.mu.Lock()
	c.evs = append(c.evs, e)
	c.mu.Unlock()
	return 1
}

func (c *capturePub) got() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Event, len(c.evs))
	copy(out, c.evs)
	return out
}

func TestDailyScheduleReminder(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	now := time.Now()
	m.CreateSchedule(ctx, model.Schedule{Ward: "Ward 1", ScheduledDate: now})
	m.CreateSchedule(ctx, model.Schedule{Ward: "Ward 1", ScheduledDate: now})
	m.CreateSchedule(ctx, model.Schedule{Ward: "Ward 2", ScheduledDate: now})
	m.CreateSchedule(ctx, model.Schedule{Ward: "Ward 3", ScheduledDate: now.AddDate(0, 0, 1)}) // tomorrow

	pub := &capturePub{}
	p := NewProducers(m, pub)
	if err := p.DailyScheduleReminder(ctx); err != nil {
		t.Fatalf("reminder: %v", err)
	}
	evs := pub.got()
	if len(evs) != 2 {
		t.Fatalf("got %d events, want one per ward with schedules today", len(evs))
	}
	byWard := map[string]int{}
	for _, e := range evs {
		ds, ok := e.(events.DailySchedule)
		if !ok {
			t.Fatalf("wrong event type %T", e)
		}
		byWard[ds.Ward] = len(ds.Schedules)
	}
	if byWard["Ward 1"] != 2 || byWard["Ward 2"] != 1 {
		t.Fatalf("schedules per ward = %v", byWard)
	}
}

func TestMaintenanceSweep(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	soon := time.Now().Add(3 * 24 * time.Hour)
	far := time.Now().Add(30 * 24 * time.Hour)
	m.CreateUser(ctx, model.User{ID: "d1", Name: "Asha", Role: model.RoleDriver, Ward: "Ward 1"})
	m.CreateVehicle(ctx, model.Vehicle{VehicleID: "KA-01", DriverID: "d1", IsActive: true, Maintenance: &model.Maintenance{NextService: &soon}})
	m.CreateVehicle(ctx, model.Vehicle{VehicleID: "KA-02", IsActive: true, Maintenance: &model.Maintenance{NextService: &far}})
	m.CreateVehicle(ctx, model.Vehicle{VehicleID: "KA-03", IsActive: false, Maintenance: &model.Maintenance{NextService: &soon}})

	pub := &capturePub{}
	p := NewProducers(m, pub)
	if err := p.MaintenanceSweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	evs := pub.got()
	if len(evs) != 1 {
		t.Fatalf("got %d alerts, want 1", len(evs))
	}
	al := evs[0].(events.Maintenance)
	if al.VehicleID != "KA-01" || al.Driver != "Asha" {
		t.Fatalf("alert = %+v", al)
	}
}

func TestAutoCloseStaleReports(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	old := time.Now().AddDate(0, 0, -31)
	stale, _ := m.CreateReport(ctx, model.Report{Type: model.ReportSuggestion, ReporterID: "u1", CreatedAt: old})
	m.CreateReport(ctx, model.Report{Type: model.ReportComplaint, ReporterID: "u2"})

	pub := &capturePub{}
	p := NewProducers(m, pub)
	if err := p.AutoCloseStaleReports(ctx); err != nil {
		t.Fatalf("auto close: %v", err)
	}
	evs := pub.got()
	if len(evs) != 1 {
		t.Fatalf("got %d status updates, want 1", len(evs))
	}
	up := evs[0].(events.ReportStatus)
	if up.ReportID != stale.ID || up.Status != model.ReportClosed || up.UpdatedBy != "system" {
		t.Fatalf("update = %+v", up)
	}
	r, _ := m.GetReport(ctx, stale.ID)
	if r.Status != model.ReportClosed || len(r.Updates) != 1 {
		t.Fatalf("report after close = %+v", r)
	}
}

func TestDailyAnalytics(t *testing.T) {
	m := store.NewMemory()
	ctx := context.Background()
	yesterday := time.Now().AddDate(0, 0, -1)
	s1, _ := m.CreateSchedule(ctx, model.Schedule{Ward: "Ward 1", ScheduledDate: yesterday})
	m.CreateSchedule(ctx, model.Schedule{Ward: "Ward 1", ScheduledDate: yesterday})
	m.UpdateScheduleStatus(ctx, s1.ID, model.ScheduleCompleted, nil)

	pub := &capturePub{}
	p := NewProducers(m, pub)
	if err := p.DailyAnalytics(ctx); err != nil {
		t.Fatalf("analytics: %v", err)
	}
	evs := pub.got()
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	an := evs[0].(events.DailyAnalytics)
	if an.TotalSchedules != 2 || an.CompletedSchedules != 1 || an.CompletionRate != 50 {
		t.Fatalf("analytics = %+v", an)
	}
}

// brokenStore fails the maintenance query while everything else works.
type brokenStore struct {
	*store.Memory
	mu   sync.Mutex
	down bool
}

func (b *brokenStore) setDown(v bool) {
	b.mu.Lock()
	b.down = v
	b.mu.Unlock()
}

func (b *brokenStore) ListMaintenanceDue(ctx context.Context, by time.Time) ([]model.Vehicle, error) {
	b.mu.Lock()
	down := b.down
	b.mu.Unlock()
	if down {
		return nil, errors.New("store unreachable")
	}
	return b.Memory.ListMaintenanceDue(ctx, by)
}

func TestSweepSkipsCycleWhileStoreDown(t *testing.T) {
	bs := &brokenStore{Memory: store.NewMemory(), down: true}
	ctx := context.Background()
	soon := time.Now().Add(24 * time.Hour)
	bs.CreateVehicle(ctx, model.Vehicle{VehicleID: "KA-01", IsActive: true, Maintenance: &model.Maintenance{NextService: &soon}})

	pub := &capturePub{}
	p := NewProducers(bs, pub)
	if err := p.MaintenanceSweep(ctx); err == nil {
		t.Fatal("sweep should report the store error")
	}
	if len(pub.got()) != 0 {
		t.Fatal("no alerts while the store is down")
	}
	// store recovers; the same producer succeeds next cycle
	bs.setDown(false)
	if err := p.MaintenanceSweep(ctx); err != nil {
		t.Fatalf("sweep after recovery: %v", err)
	}
	if len(pub.got()) != 1 {
		t.Fatalf("got %d alerts after recovery, want 1", len(pub.got()))
	}
}

func TestSchedulerIsolatesFailingTask(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var mu sync.Mutex
	healthyRuns := 0
	s.Every("failing", 10*time.Millisecond, func(ctx context.Context) error {
		return errors.New("boom")
	})
	s.Every("panicking", 10*time.Millisecond, func(ctx context.Context) error {
		panic("boom")
	})
	s.Every("healthy", 10*time.Millisecond, func(ctx context.Context) error {
		mu.Lock()
		healthyRuns++
		mu.Unlock()
		return nil
	})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := healthyRuns
		mu.Unlock()
		if n >= 3 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("healthy task ran %d times alongside failing tasks", n)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestDailyAtNextOccurrence(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	s.now = func() time.Time { return time.Date(2026, 8, 31, 5, 0, 0, 0, time.UTC) }
	if d := s.untilNext(6); d != time.Hour {
		t.Fatalf("until 06:00 from 05:00 = %v", d)
	}
	if d := s.untilNext(5); d != 24*time.Hour {
		t.Fatalf("at the boundary should roll to tomorrow, got %v", d)
	}
	if d := s.untilNext(0); d != 19*time.Hour {
		t.Fatalf("until midnight = %v", d)
	}
}
