package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"wastenav/internal/model"
)

type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// MigrateDir applies *.sql files from dir in lexical order (dev helper).
func (p *Postgres) MigrateDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	names := []string{}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			return err
		}
		if _, err := p.db.Exec(string(b)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) CreateUser(ctx context.Context, u model.User) (model.User, error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, role, ward, phone) VALUES ($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Name, u.Email, u.Role, nullStr(u.Ward), u.Phone)
	return u, err
}

func (p *Postgres) GetUser(ctx context.Context, id string) (model.User, error) {
	var u model.User
	var ward sql.NullString
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, email, role, ward, phone FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Name, &u.Email, &u.Role, &ward, &u.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	u.Ward = ward.String
	return u, err
}

func (p *Postgres) CreateVehicle(ctx context.Context, v model.Vehicle) (model.Vehicle, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = model.VehicleIdle
	}
	var next, last *time.Time
	if v.Maintenance != nil {
		next, last = v.Maintenance.NextService, v.Maintenance.LastService
	}
	var lat, lng *float64
	if v.Location != nil {
		lat, lng = &v.Location.Lat, &v.Location.Lng
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO vehicles (id, vehicle_id, type, ward, driver_id, status, is_active, lat, lng, last_service, next_service)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		v.ID, v.VehicleID, v.Type, nullStr(v.Ward), nullStr(v.DriverID), v.Status, v.IsActive, lat, lng, last, next)
	return v, err
}

func (p *Postgres) GetVehicle(ctx context.Context, id string) (model.Vehicle, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, vehicle_id, type, ward, driver_id, status, is_active, lat, lng, last_service, next_service
		 FROM vehicles WHERE id=$1`, id)
	v, err := scanVehicle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Vehicle{}, ErrNotFound
	}
	return v, err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanVehicle(r rowScanner) (model.Vehicle, error) {
	var v model.Vehicle
	var ward, driver sql.NullString
	var lat, lng sql.NullFloat64
	var last, next sql.NullTime
	err := r.Scan(&v.ID, &v.VehicleID, &v.Type, &ward, &driver, &v.Status, &v.IsActive, &lat, &lng, &last, &next)
	if err != nil {
		return model.Vehicle{}, err
	}
	v.Ward, v.DriverID = ward.String, driver.String
	if lat.Valid && lng.Valid {
		v.Location = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	if last.Valid || next.Valid {
		v.Maintenance = &model.Maintenance{}
		if last.Valid {
			t := last.Time
			v.Maintenance.LastService = &t
		}
		if next.Valid {
			t := next.Time
			v.Maintenance.NextService = &t
		}
	}
	return v, nil
}

func (p *Postgres) ListVehiclesByWard(ctx context.Context, ward string) ([]model.Vehicle, error) {
	q := `SELECT id, vehicle_id, type, ward, driver_id, status, is_active, lat, lng, last_service, next_service FROM vehicles`
	args := []any{}
	if ward != "" {
		q += ` WHERE ward=$1`
		args = append(args, ward)
	}
	q += ` ORDER BY id`
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) UpdateVehicleLocation(ctx context.Context, vehicleID string, lat, lng float64, ts time.Time) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE vehicles SET lat=$2, lng=$3, location_at=$4 WHERE id=$1`, vehicleID, lat, lng, ts)
	return noRowsAsNotFound(res, err)
}

func (p *Postgres) UpdateVehicleStatus(ctx context.Context, vehicleID, status string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE vehicles SET status=$2 WHERE id=$1`, vehicleID, status)
	return noRowsAsNotFound(res, err)
}

func noRowsAsNotFound(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListMaintenanceDue(ctx context.Context, by time.Time) ([]model.Vehicle, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, vehicle_id, type, ward, driver_id, status, is_active, lat, lng, last_service, next_service
		 FROM vehicles WHERE is_active AND next_service IS NOT NULL AND next_service <= $1 ORDER BY id`, by)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.Vehicle{}
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateSchedule(ctx context.Context, s model.Schedule) (model.Schedule, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	if s.Status == "" {
		s.Status = model.ScheduleScheduled
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO schedules (id, ward, area, waste_type, scheduled_date, time_slot, status, driver_id, vehicle_id)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		s.ID, s.Ward, s.Area, s.WasteType, s.ScheduledDate, s.TimeSlot, s.Status, nullStr(s.DriverID), nullStr(s.VehicleID))
	return s, err
}

func (p *Postgres) GetSchedule(ctx context.Context, id string) (model.Schedule, error) {
	s, err := p.scanScheduleRow(p.db.QueryRowContext(ctx,
		`SELECT id, ward, area, waste_type, scheduled_date, time_slot, status, driver_id, vehicle_id, stats, completed_at
		 FROM schedules WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Schedule{}, ErrNotFound
	}
	return s, err
}

func (p *Postgres) scanScheduleRow(r rowScanner) (model.Schedule, error) {
	var s model.Schedule
	var driver, vehicle sql.NullString
	var stats []byte
	var done sql.NullTime
	err := r.Scan(&s.ID, &s.Ward, &s.Area, &s.WasteType, &s.ScheduledDate, &s.TimeSlot, &s.Status, &driver, &vehicle, &stats, &done)
	if err != nil {
		return model.Schedule{}, err
	}
	s.DriverID, s.VehicleID = driver.String, vehicle.String
	if len(stats) > 0 {
		_ = json.Unmarshal(stats, &s.Stats)
	}
	if done.Valid {
		t := done.Time
		s.CompletedAt = &t
	}
	return s, nil
}

func (p *Postgres) UpdateScheduleStatus(ctx context.Context, id, status string, stats map[string]any) (model.Schedule, error) {
	var sb []byte
	if stats != nil {
		sb, _ = json.Marshal(stats)
	}
	var done *time.Time
	if status == model.ScheduleCompleted {
		now := time.Now()
		done = &now
	}
	res, err := p.db.ExecContext(ctx,
		`UPDATE schedules SET status=$2, stats=COALESCE($3, stats), completed_at=COALESCE($4, completed_at) WHERE id=$1`,
		id, status, sb, done)
	if err := noRowsAsNotFound(res, err); err != nil {
		return model.Schedule{}, err
	}
	return p.GetSchedule(ctx, id)
}

func (p *Postgres) ListSchedulesForDay(ctx context.Context, day time.Time) ([]model.Schedule, error) {
	start, end := dayBounds(day)
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, ward, area, waste_type, scheduled_date, time_slot, status, driver_id, vehicle_id, stats, completed_at
		 FROM schedules WHERE status='scheduled' AND scheduled_date >= $1 AND scheduled_date < $2 ORDER BY id`, start, end)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.Schedule{}
	for rows.Next() {
		s, err := p.scanScheduleRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) ScheduleDayStats(ctx context.Context, day time.Time) (model.DayStats, error) {
	start, end := dayBounds(day)
	st := model.DayStats{Date: start.Format("2006-01-02")}
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status='completed')
		 FROM schedules WHERE scheduled_date >= $1 AND scheduled_date < $2`, start, end).
		Scan(&st.Total, &st.Completed)
	return st, err
}

func (p *Postgres) CreateReport(ctx context.Context, r model.Report) (model.Report, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = model.ReportOpen
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	ub, _ := json.Marshal(r.Updates)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO reports (id, type, status, ward, reporter_id, subject, body, updates, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.Type, r.Status, nullStr(r.Ward), r.ReporterID, r.Subject, r.Body, ub, r.CreatedAt)
	return r, err
}

func (p *Postgres) GetReport(ctx context.Context, id string) (model.Report, error) {
	r, err := p.scanReportRow(p.db.QueryRowContext(ctx,
		`SELECT id, type, status, ward, reporter_id, subject, body, updates, created_at, resolved_at
		 FROM reports WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Report{}, ErrNotFound
	}
	return r, err
}

func (p *Postgres) scanReportRow(row rowScanner) (model.Report, error) {
	var r model.Report
	var ward sql.NullString
	var updates []byte
	var resolved sql.NullTime
	err := row.Scan(&r.ID, &r.Type, &r.Status, &ward, &r.ReporterID, &r.Subject, &r.Body, &updates, &r.CreatedAt, &resolved)
	if err != nil {
		return model.Report{}, err
	}
	r.Ward = ward.String
	if len(updates) > 0 {
		_ = json.Unmarshal(updates, &r.Updates)
	}
	if resolved.Valid {
		t := resolved.Time
		r.ResolvedAt = &t
	}
	return r, nil
}

func (p *Postgres) UpdateReportStatus(ctx context.Context, id, status, note, by string) (model.Report, error) {
	r, err := p.GetReport(ctx, id)
	if err != nil {
		return model.Report{}, err
	}
	r.Status = status
	r.Updates = append(r.Updates, model.ReportUpdate{Message: note, Type: "status", By: by, Timestamp: time.Now()})
	if status == model.ReportResolved || status == model.ReportClosed {
		now := time.Now()
		r.ResolvedAt = &now
	}
	ub, _ := json.Marshal(r.Updates)
	_, err = p.db.ExecContext(ctx,
		`UPDATE reports SET status=$2, updates=$3, resolved_at=$4 WHERE id=$1`, id, r.Status, ub, r.ResolvedAt)
	return r, err
}

func (p *Postgres) ListOpenReports(ctx context.Context) ([]model.Report, error) {
	return p.listReports(ctx,
		`SELECT id, type, status, ward, reporter_id, subject, body, updates, created_at, resolved_at
		 FROM reports WHERE status IN ('open','in_progress') ORDER BY created_at`)
}

func (p *Postgres) ListStaleOpenReports(ctx context.Context, before time.Time) ([]model.Report, error) {
	return p.listReports(ctx,
		`SELECT id, type, status, ward, reporter_id, subject, body, updates, created_at, resolved_at
		 FROM reports WHERE status='open' AND type IN ('suggestion','complaint') AND created_at <= $1 ORDER BY created_at`, before)
}

func (p *Postgres) listReports(ctx context.Context, q string, args ...any) ([]model.Report, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.Report{}
	for rows.Next() {
		r, err := p.scanReportRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *Postgres) CloseReport(ctx context.Context, id, note string) (model.Report, error) {
	r, err := p.GetReport(ctx, id)
	if err != nil {
		return model.Report{}, err
	}
	now := time.Now()
	r.Status = model.ReportClosed
	r.ResolvedAt = &now
	r.Updates = append(r.Updates, model.ReportUpdate{Message: note, Type: "resolution", Timestamp: now})
	ub, _ := json.Marshal(r.Updates)
	_, err = p.db.ExecContext(ctx,
		`UPDATE reports SET status='closed', updates=$2, resolved_at=$3 WHERE id=$1`, id, ub, now)
	return r, err
}

func (p *Postgres) CreateMessage(ctx context.Context, m model.Message) (model.Message, error) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, body, type, read, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.ID, m.SenderID, m.RecipientID, m.Body, m.Type, m.Read, m.CreatedAt)
	return m, err
}

func (p *Postgres) UnreadCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE recipient_id=$1 AND NOT read`, userID).Scan(&n)
	return n, err
}

func (p *Postgres) ListMessages(ctx context.Context, userID, withUserID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, sender_id, recipient_id, body, type, read, created_at FROM messages
		 WHERE (sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1)
		 ORDER BY created_at DESC LIMIT $3`, userID, withUserID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	out := []model.Message{}
	for rows.Next() {
		var m model.Message
		if err := rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Body, &m.Type, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	// return in chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
