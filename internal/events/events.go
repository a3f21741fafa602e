// Package events defines the catalog of real-time events exchanged between
// the service and connected clients, and the wire frames that carry them.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"wastenav/internal/model"
)

// Event type discriminators, one per catalog entry.
const (
	TypeVehicleLocation = "vehicle_location_update"
	TypeVehicleStatus   = "vehicle_status_update"
	TypeCollection      = "collection_notification"
	TypeReportStatus    = "report_status_update"
	TypeNewMessage      = "new_message"
	TypeEmergencyAlert  = "emergency_alert"
	TypeMaintenance     = "maintenance_alert"
	TypeDailySchedule   = "daily_schedule_notification"
	TypeDailyAnalytics  = "daily_analytics"
)

// Topic constructors. A connection's membership is always the set derived
// from its identity: one user topic, one role topic, and one ward topic when
// the identity carries a ward.
func WardTopic(ward string) string { return "ward:" + ward }
func RoleTopic(role string) string { return "role:" + role }
func UserTopic(uid string) string  { return "user:" + uid }

// Broadcast is the pseudo-topic meaning "every registered connection".
const Broadcast = "*"

// Event is one immutable fact from the catalog. Implementations are the
// payload structs below; adding a case means touching Decode and Route so
// the catalog stays closed.
type Event interface {
	EventType() string
}

type VehicleLocation struct {
	VehicleID string    `json:"vehicleId"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
	DriverID  string    `json:"driverId"`
	Ward      string    `json:"ward,omitempty"`
}

func (VehicleLocation) EventType() string { return TypeVehicleLocation }

type VehicleStatus struct {
	VehicleID string    `json:"vehicleId"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DriverID  string    `json:"driverId"`
}

func (VehicleStatus) EventType() string { return TypeVehicleStatus }

// Collection kinds.
const (
	CollectionStarted   = "started"
	CollectionCompleted = "completed"
)

type Collection struct {
	Kind       string         `json:"type"` // started or completed
	ScheduleID string         `json:"scheduleId"`
	Ward       string         `json:"ward"`
	Message    string         `json:"message"`
	Timestamp  time.Time      `json:"timestamp"`
	Stats      map[string]any `json:"stats,omitempty"`
}

func (Collection) EventType() string { return TypeCollection }

type ReportStatus struct {
	ReportID  string    `json:"reportId"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy string    `json:"updatedBy"`
}

func (ReportStatus) EventType() string { return TypeReportStatus }

// NewMessage is addressed to a single recipient, not a topic; the recipient
// id travels with the publish call, not the payload.
type NewMessage struct {
	SenderID  string    `json:"senderId"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (NewMessage) EventType() string { return TypeNewMessage }

type EmergencyAlert struct {
	Kind      string    `json:"type"`
	Message   string    `json:"message"`
	Location  string    `json:"location,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	AlertedBy string    `json:"alertedBy"`
}

func (EmergencyAlert) EventType() string { return TypeEmergencyAlert }

type Maintenance struct {
	VehicleID   string    `json:"vehicleId"`
	Driver      string    `json:"driver"`
	NextService time.Time `json:"nextService"`
	Message     string    `json:"message"`
	Timestamp   time.Time `json:"timestamp"`
}

func (Maintenance) EventType() string { return TypeMaintenance }

type DailySchedule struct {
	Ward      string           `json:"ward"`
	Schedules []model.Schedule `json:"schedules"`
	Message   string           `json:"message"`
	Timestamp time.Time        `json:"timestamp"`
}

func (DailySchedule) EventType() string { return TypeDailySchedule }

type DailyAnalytics struct {
	Date               string    `json:"date"`
	CompletionRate     float64   `json:"completionRate"`
	TotalSchedules     int       `json:"totalSchedules"`
	CompletedSchedules int       `json:"completedSchedules"`
	Timestamp          time.Time `json:"timestamp"`
}

func (DailyAnalytics) EventType() string { return TypeDailyAnalytics }

// Frame is the wire envelope: a type discriminator plus the payload as
// declared in the catalog.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps an event in a Frame.
func Encode(e Event) (Frame, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: e.EventType(), Payload: b}, nil
}

// Decode reconstructs the typed event from a Frame. Unknown types are an
// error so a stale client cannot inject shapes the catalog does not name.
func Decode(f Frame) (Event, error) {
	var e Event
	switch f.Type {
	case TypeVehicleLocation:
		e = &VehicleLocation{}
	case TypeVehicleStatus:
		e = &VehicleStatus{}
	case TypeCollection:
		e = &Collection{}
	case TypeReportStatus:
		e = &ReportStatus{}
	case TypeNewMessage:
		e = &NewMessage{}
	case TypeEmergencyAlert:
		e = &EmergencyAlert{}
	case TypeMaintenance:
		e = &Maintenance{}
	case TypeDailySchedule:
		e = &DailySchedule{}
	case TypeDailyAnalytics:
		e = &DailyAnalytics{}
	default:
		return nil, fmt.Errorf("unknown event type %q", f.Type)
	}
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, e); err != nil {
			return nil, err
		}
	}
	return deref(e), nil
}

func deref(e Event) Event {
	switch v := e.(type) {
	case *VehicleLocation:
		return *v
	case *VehicleStatus:
		return *v
	case *Collection:
		return *v
	case *ReportStatus:
		return *v
	case *NewMessage:
		return *v
	case *EmergencyAlert:
		return *v
	case *Maintenance:
		return *v
	case *DailySchedule:
		return *v
	case *DailyAnalytics:
		return *v
	}
	return e
}

// Route returns the topics an event is published to, per the catalog.
// Broadcast entries return {Broadcast}. NewMessage returns nil: chat is
// addressed to one connection by recipient id at the publish call site.
func Route(e Event) []string {
	switch v := e.(type) {
	case VehicleLocation:
		if v.Ward == "" {
			return []string{RoleTopic(model.RoleAdmin)}
		}
		return []string{WardTopic(v.Ward), RoleTopic(model.RoleAdmin)}
	case VehicleStatus:
		return []string{Broadcast}
	case Collection:
		if v.Kind == CollectionCompleted {
			return []string{WardTopic(v.Ward), RoleTopic(model.RoleAdmin)}
		}
		return []string{WardTopic(v.Ward)}
	case ReportStatus:
		return []string{Broadcast}
	case EmergencyAlert:
		return []string{Broadcast}
	case Maintenance:
		return []string{RoleTopic(model.RoleAdmin)}
	case DailySchedule:
		return []string{WardTopic(v.Ward)}
	case DailyAnalytics:
		return []string{RoleTopic(model.RoleAdmin)}
	}
	return nil
}
