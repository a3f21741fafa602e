package model

import "time"

// Roles understood by the service.
const (
	RoleResident   = "resident"
	RoleDriver     = "driver"
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r string) bool {
	switch r {
	case RoleResident, RoleDriver, RoleAdmin, RoleSupervisor:
		return true
	}
	return false
}

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
	Ward  string `json:"ward,omitempty"` // empty for admins ("all wards")
	Phone string `json:"phone,omitempty"`
}

// Vehicle statuses.
const (
	VehicleIdle        = "idle"
	VehicleCollecting  = "collecting"
	VehicleEnRoute     = "en-route"
	VehicleMaintenance = "maintenance"
	VehicleOffline     = "offline"
)

type Vehicle struct {
	ID          string       `json:"id"`
	VehicleID   string       `json:"vehicleId"` // registration shown to users
	Type        string       `json:"type,omitempty"`
	Ward        string       `json:"ward,omitempty"`
	DriverID    string       `json:"driverId,omitempty"`
	Status      string       `json:"status"`
	IsActive    bool         `json:"isActive"`
	Location    *GeoPoint    `json:"location,omitempty"`
	Maintenance *Maintenance `json:"maintenance,omitempty"`
}

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Maintenance struct {
	LastService *time.Time `json:"lastService,omitempty"`
	NextService *time.Time `json:"nextService,omitempty"`
	Notes       string     `json:"notes,omitempty"`
}

// Schedule statuses.
const (
	ScheduleScheduled  = "scheduled"
	ScheduleInProgress = "in_progress"
	ScheduleCompleted  = "completed"
	ScheduleCancelled  = "cancelled"
)

type Schedule struct {
	ID            string         `json:"id"`
	Ward          string         `json:"ward"`
	Area          string         `json:"area,omitempty"`
	WasteType     string         `json:"wasteType,omitempty"`
	ScheduledDate time.Time      `json:"scheduledDate"`
	TimeSlot      string         `json:"timeSlot,omitempty"`
	Status        string         `json:"status"`
	DriverID      string         `json:"driverId,omitempty"`
	VehicleID     string         `json:"vehicleId,omitempty"`
	Stats         map[string]any `json:"stats,omitempty"` // filled on completion
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
}

// Report types and statuses.
const (
	ReportComplaint    = "complaint"
	ReportSuggestion   = "suggestion"
	ReportMissedPickup = "missed_pickup"

	ReportOpen       = "open"
	ReportInProgress = "in_progress"
	ReportResolved   = "resolved"
	ReportClosed     = "closed"
)

type Report struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Status     string         `json:"status"`
	Ward       string         `json:"ward,omitempty"`
	ReporterID string         `json:"reporterId"`
	Subject    string         `json:"subject,omitempty"`
	Body       string         `json:"body,omitempty"`
	Updates    []ReportUpdate `json:"updates,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}

// ReportUpdate is one entry in a report's audit trail.
type ReportUpdate struct {
	Message   string    `json:"message"`
	Type      string    `json:"type,omitempty"` // comment, status, resolution
	By        string    `json:"by,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Message struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	Body        string    `json:"body"`
	Type        string    `json:"type,omitempty"` // text, image, location
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

// DayStats summarizes schedule completion for one day.
type DayStats struct {
	Date      string `json:"date"`
	Total     int    `json:"totalSchedules"`
	Completed int    `json:"completedSchedules"`
}

// CompletionRate returns completed/total as a percentage, 0 when no
// schedules existed that day.
func (d DayStats) CompletionRate() float64 {
	if d.Total == 0 {
		return 0
	}
	return float64(d.Completed) / float64(d.Total) * 100
}
