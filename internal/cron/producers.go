package cron

import (
	"context"
	"fmt"
	"time"

	"wastenav/internal/config"
	"wastenav/internal/events"
	"wastenav/internal/model"
	"wastenav/internal/store"
)

// Publisher is the slice of the hub the producers need.
type Publisher interface {
	Dispatch(e events.Event) int
}

// Producers synthesizes time-driven events from the store and publishes
// them through the hub, independent of any client request.
type Producers struct {
	Store store.Store
	Pub   Publisher

	// now is swappable in tests
	now func() time.Time
}

func NewProducers(s store.Store, pub Publisher) *Producers {
	return &Producers{Store: s, Pub: pub, now: time.Now}
}

// Start registers all four producers with the scheduler on their cadences.
func (p *Producers) Start(s *Scheduler, cfg config.Config) {
	s.DailyAt("schedule_reminder", cfg.Cron.ReminderHour, p.DailyScheduleReminder)
	s.Every("maintenance_sweep", cfg.Cron.MaintenanceEvery, p.MaintenanceSweep)
	s.DailyAt("report_auto_close", cfg.Cron.AutoCloseHour, p.AutoCloseStaleReports)
	s.DailyAt("daily_analytics", cfg.Cron.AnalyticsHour, p.DailyAnalytics)
}

// DailyScheduleReminder emits one daily_schedule_notification per ward that
// has collections scheduled today.
func (p *Producers) DailyScheduleReminder(ctx context.Context) error {
	today, err := p.Store.ListSchedulesForDay(ctx, p.now())
	if err != nil {
		return fmt.Errorf("list today's schedules: %w", err)
	}
	byWard := map[string][]model.Schedule{}
	for _, s := range today {
		byWard[s.Ward] = append(byWard[s.Ward], s)
	}
	for ward, schedules := range byWard {
		p.Pub.Dispatch(events.DailySchedule{
			Ward:      ward,
			Schedules: schedules,
			Message:   fmt.Sprintf("Today's waste collection schedule for %s", ward),
			Timestamp: p.now(),
		})
	}
	return nil
}

// MaintenanceSweep alerts admins about active vehicles due for service
// within the next 7 days.
func (p *Producers) MaintenanceSweep(ctx context.Context) error {
	horizon := p.now().Add(7 * 24 * time.Hour)
	due, err := p.Store.ListMaintenanceDue(ctx, horizon)
	if err != nil {
		return fmt.Errorf("list maintenance due: %w", err)
	}
	for _, v := range due {
		driver := v.DriverID
		if u, err := p.Store.GetUser(ctx, v.DriverID); err == nil {
			driver = u.Name
		}
		p.Pub.Dispatch(events.Maintenance{
			VehicleID:   v.VehicleID,
			Driver:      driver,
			NextService: *v.Maintenance.NextService,
			Message:     fmt.Sprintf("Vehicle %s requires maintenance within 7 days", v.VehicleID),
			Timestamp:   p.now(),
		})
	}
	return nil
}

const autoCloseNote = "Auto-closed due to inactivity (30 days)"

// AutoCloseStaleReports closes suggestion/complaint reports still open
// after 30 days, appending an audit note and emitting a status update for
// each.
func (p *Producers) AutoCloseStaleReports(ctx context.Context) error {
	cutoff := p.now().AddDate(0, 0, -30)
	stale, err := p.Store.ListStaleOpenReports(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list stale reports: %w", err)
	}
	for _, r := range stale {
		closed, err := p.Store.CloseReport(ctx, r.ID, autoCloseNote)
		if err != nil {
			return fmt.Errorf("close report %s: %w", r.ID, err)
		}
		p.Pub.Dispatch(events.ReportStatus{
			ReportID:  closed.ID,
			Status:    closed.Status,
			Message:   autoCloseNote,
			Timestamp: p.now(),
			UpdatedBy: "system",
		})
	}
	return nil
}

// DailyAnalytics publishes yesterday's schedule completion rate to admins.
func (p *Producers) DailyAnalytics(ctx context.Context) error {
	yesterday := p.now().AddDate(0, 0, -1)
	st, err := p.Store.ScheduleDayStats(ctx, yesterday)
	if err != nil {
		return fmt.Errorf("day stats: %w", err)
	}
	p.Pub.Dispatch(events.DailyAnalytics{
		Date:               st.Date,
		CompletionRate:     st.CompletionRate(),
		TotalSchedules:     st.Total,
		CompletedSchedules: st.Completed,
		Timestamp:          p.now(),
	})
	return nil
}
