package store

import (
	"context"
	"errors"
	"time"

	"wastenav/internal/model"
)

// ErrNotFound is returned when a lookup by id matches nothing.
var ErrNotFound = errors.New("not found")

// Store is the persistence interface used by the API server and the
// scheduled producers.
type Store interface {
	// Users
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)

	// Vehicles
	CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (model.Vehicle, error)
	ListVehiclesByWard(ctx context.Context, ward string) ([]model.Vehicle, error)
	UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64, ts time.Time) error
	UpdateVehicleStatus(ctx context.Context, vehicleID, status string) error
	// ListMaintenanceDue returns active vehicles whose next service date is
	// at or before the given horizon.
	ListMaintenanceDue(ctx context.Context, by time.Time) ([]model.Vehicle, error)

	// Schedules
	CreateSchedule(ctx context.Context, s model.Schedule) (model.Schedule, error)
	GetSchedule(ctx context.Context, id string) (model.Schedule, error)
	UpdateScheduleStatus(ctx context.Context, id, status string, stats map[string]any) (model.Schedule, error)
	// ListSchedulesForDay returns schedules still in the scheduled state for
	// the calendar day containing t.
	ListSchedulesForDay(ctx context.Context, day time.Time) ([]model.Schedule, error)
	ScheduleDayStats(ctx context.Context, day time.Time) (model.DayStats, error)

	// Reports
	CreateReport(ctx context.Context, r model.Report) (model.Report, error)
	GetReport(ctx context.Context, id string) (model.Report, error)
	UpdateReportStatus(ctx context.Context, id, status, note, by string) (model.Report, error)
	ListOpenReports(ctx context.Context) ([]model.Report, error)
	// ListStaleOpenReports returns open suggestion/complaint reports created
	// at or before the cutoff.
	ListStaleOpenReports(ctx context.Context, before time.Time) ([]model.Report, error)
	CloseReport(ctx context.Context, id, note string) (model.Report, error)

	// Messages
	CreateMessage(ctx context.Context, m model.Message) (model.Message, error)
	UnreadCount(ctx context.Context, userID string) (int, error)
	ListMessages(ctx context.Context, userID, withUserID string, limit int) ([]model.Message, error)
}

// dayBounds returns [start, end) of the calendar day containing t, in t's
// location.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
