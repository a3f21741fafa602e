package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"wastenav/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
	mu        sync.Mutex
	users     map[string]model.User
	vehicles  map[string]model.Vehicle
	schedules map[string]model.Schedule
	reports   map[string]model.Report
	messages  map[string]model.Message
}

func NewMemory() *Memory {
	return &Memory{
		users:     map[string]model.User{},
		vehicles:  map[string]model.Vehicle{},
		schedules: map[string]model.Schedule{},
		reports:   map[string]model.Report{},
		messages:  map[string]model.Message{},
	}
}

func (m *Memory) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = model.VehicleIdle
	}
	m.vehicles[v.ID] = v
	return v, nil
}

func (m *Memory) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return model.Vehicle{}, ErrNotFound
	}
	return v, nil
}

func (m *Memory) ListVehiclesByWard(ctx context.Context, ward string) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Vehicle{}
	for _, v := range m.vehicles {
		if ward == "" || v.Ward == ward {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[vehicleID]
	if !ok {
		return ErrNotFound
	}
	v.Location = &model.GeoPoint{Lat: lat, Lng: lng}
	m.vehicles[vehicleID] = v
	return nil
}

func (m *Memory) UpdateVehicleStatus(ctx context.Context, vehicleID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[vehicleID]
	if !ok {
		return ErrNotFound
	}
	v.Status = status
	m.vehicles[vehicleID] = v
	return nil
}

func (m *Memory) ListMaintenanceDue(ctx context.Context, by time.Time) ([]model.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Vehicle{}
	for _, v := range m.vehicles {
		if !v.IsActive || v.Maintenance == nil || v.Maintenance.NextService == nil {
			continue
		}
		if !v.Maintenance.NextService.After(by) {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CreateSchedule(ctx context.Context, s model.Schedule) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = model.ScheduleScheduled
	}
	m.schedules[s.ID] = s
	return s, nil
}

func (m *Memory) GetSchedule(ctx context.Context, id string) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return model.Schedule{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) UpdateScheduleStatus(ctx context.Context, id, status string, stats map[string]any) (model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return model.Schedule{}, ErrNotFound
	}
	s.Status = status
	if stats != nil {
		s.Stats = stats
	}
	if status == model.ScheduleCompleted {
		now := time.Now()
		s.CompletedAt = &now
	}
	m.schedules[id] = s
	return s, nil
}

func (m *Memory) ListSchedulesForDay(ctx context.Context, day time.Time) ([]model.Schedule, error) {
	start, end := dayBounds(day)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Schedule{}
	for _, s := range m.schedules {
		if s.Status != model.ScheduleScheduled {
			continue
		}
		if !s.ScheduledDate.Before(start) && s.ScheduledDate.Before(end) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ScheduleDayStats(ctx context.Context, day time.Time) (model.DayStats, error) {
	start, end := dayBounds(day)
	m.mu.Lock()
	defer m.mu.Unlock()
	st := model.DayStats{Date: start.Format("2006-01-02")}
	for _, s := range m.schedules {
		if s.ScheduledDate.Before(start) || !s.ScheduledDate.Before(end) {
			continue
		}
		st.Total++
		if s.Status == model.ScheduleCompleted {
			st.Completed++
		}
	}
	return st, nil
}

func (m *Memory) CreateReport(ctx context.Context, r model.Report) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.ReportOpen
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	m.reports[r.ID] = r
	return r, nil
}

func (m *Memory) GetReport(ctx context.Context, id string) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return model.Report{}, ErrNotFound
	}
	return r, nil
}

func (m *Memory) UpdateReportStatus(ctx context.Context, id, status, note, by string) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return model.Report{}, ErrNotFound
	}
	r.Status = status
	r.Updates = append(r.Updates, model.ReportUpdate{Message: note, Type: "status", By: by, Timestamp: time.Now()})
	if status == model.ReportResolved || status == model.ReportClosed {
		now := time.Now()
		r.ResolvedAt = &now
	}
	m.reports[id] = r
	return r, nil
}

func (m *Memory) ListOpenReports(ctx context.Context) ([]model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Report{}
	for _, r := range m.reports {
		if r.Status == model.ReportOpen || r.Status == model.ReportInProgress {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListStaleOpenReports(ctx context.Context, before time.Time) ([]model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Report{}
	for _, r := range m.reports {
		if r.Status != model.ReportOpen {
			continue
		}
		if r.Type != model.ReportSuggestion && r.Type != model.ReportComplaint {
			continue
		}
		if !r.CreatedAt.After(before) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) CloseReport(ctx context.Context, id, note string) (model.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return model.Report{}, ErrNotFound
	}
	now := time.Now()
	r.Status = model.ReportClosed
	r.ResolvedAt = &now
	r.Updates = append(r.Updates, model.ReportUpdate{Message: note, Type: "resolution", Timestamp: now})
	m.reports[id] = r
	return r, nil
}

func (m *Memory) CreateMessage(ctx context.Context, msg model.Message) (model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	m.messages[msg.ID] = msg
	return msg, nil
}

func (m *Memory) UnreadCount(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, msg := range m.messages {
		if msg.RecipientID == userID && !msg.Read {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ListMessages(ctx context.Context, userID, withUserID string, limit int) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Message{}
	for _, msg := range m.messages {
		pair := (msg.SenderID == userID && msg.RecipientID == withUserID) ||
			(msg.SenderID == withUserID && msg.RecipientID == userID)
		if pair {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}
