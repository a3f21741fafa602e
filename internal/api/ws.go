package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"wastenav/internal/auth"
	"wastenav/internal/events"
	"wastenav/internal/hub"
	"wastenav/internal/model"
	"wastenav/internal/store"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsSender bridges the hub to one websocket. Send enqueues without
// blocking so a slow connection never stalls fan-out to its topic peers;
// the writer goroutine drains the buffer in publish order under a bounded
// write deadline.
type wsSender struct {
	ch   chan events.Frame
	done chan struct{}
	once sync.Once
}

func newWSSender(buf int) *wsSender {
	if buf <= 0 {
		buf = 16
	}
	return &wsSender{ch: make(chan events.Frame, buf), done: make(chan struct{})}
}

func (s *wsSender) Send(f events.Frame) error {
	select {
	case <-s.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case s.ch <- f:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

func (s *wsSender) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// actionFrame is an inbound client frame.
type actionFrame struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// WSHandler handles /ws. The handshake order is the contract clients build
// their reconciliation on: authenticate, register, receive the "registered"
// ack, pull the REST baseline, then apply streamed events as deltas.
func (s *Server) WSHandler(w http.ResponseWriter, r *http.Request) {
	pr, err := s.principal(r)
	if err != nil {
		// refused before registration; the client must retry with fresh
		// credentials, not fall back to anonymous
		writeProblem(w, http.StatusUnauthorized, "unauthorized", "authentication failed", r.URL.Path)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	connID := uuid.New().String()
	sender := newWSSender(s.Cfg.WS.SendBuffer)
	topics, err := s.Hub.Register(connID, hub.Identity{UserID: pr.UserID, Role: pr.Role, Ward: pr.Ward}, sender)
	if err != nil {
		_ = conn.WriteJSON(errFrame("registration refused"))
		return
	}
	defer s.Hub.Deregister(connID)

	go s.writeLoop(conn, sender, connID)

	ack, _ := json.Marshal(map[string]any{"connectionId": connID, "topics": topics})
	_ = sender.Send(events.Frame{Type: "registered", Payload: ack})

	s.readLoop(conn, sender, pr)
}

func (s *Server) writeLoop(conn *websocket.Conn, snd *wsSender, connID string) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()
	timeout := s.Cfg.WS.WriteTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for {
		select {
		case <-snd.done:
			return
		case f := <-snd.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := conn.WriteJSON(f); err != nil {
				s.Hub.Deregister(connID)
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Hub.Deregister(connID)
				return
			}
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, snd *wsSender, pr auth.Principal) {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	rps := s.Cfg.WS.RateRPS
	if rps <= 0 {
		rps = 10
	}
	burst := s.Cfg.WS.RateBurst
	if burst <= 0 {
		burst = 20
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	for {
		var act actionFrame
		if err := conn.ReadJSON(&act); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if !limiter.Allow() {
			_ = snd.Send(errFrame("rate limited"))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.handleAction(ctx, pr, act); err != nil {
			_ = snd.Send(errFrame(err.Error()))
		}
		cancel()
	}
}

func errFrame(msg string) events.Frame {
	b, _ := json.Marshal(map[string]string{"message": msg})
	return events.Frame{Type: "error", Payload: b}
}

// handleAction turns a client action into a persisted mutation plus the
// catalog event it implies. Errors come back to the actor only; other
// connections never observe a rejected action.
func (s *Server) handleAction(ctx context.Context, pr auth.Principal, act actionFrame) error {
	switch act.Action {
	case "update_location":
		if pr.Role != model.RoleDriver {
			return errors.New("only drivers can update vehicle locations")
		}
		var d struct {
			VehicleID string  `json:"vehicleId"`
			Lat       float64 `json:"lat"`
			Lng       float64 `json:"lng"`
		}
		if err := json.Unmarshal(act.Data, &d); err != nil || d.VehicleID == "" {
			return errors.New("invalid location payload")
		}
		now := time.Now()
		if err := s.Store.UpdateVehicleLocation(ctx, d.VehicleID, d.Lat, d.Lng, now); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("ws: persist location %s: %v", d.VehicleID, err)
		}
		s.Locations.Upsert(pr.Ward, d.VehicleID, pr.UserID, d.Lat, d.Lng, now.UTC().Format(time.RFC3339))
		s.Hub.Dispatch(events.VehicleLocation{VehicleID: d.VehicleID, Lat: d.Lat, Lng: d.Lng, Timestamp: now, DriverID: pr.UserID, Ward: pr.Ward})
		return nil

	case "update_status":
		if pr.Role != model.RoleDriver {
			return errors.New("only drivers can update vehicle status")
		}
		var d struct {
			VehicleID string `json:"vehicleId"`
			Status    string `json:"status"`
		}
		if err := json.Unmarshal(act.Data, &d); err != nil || d.VehicleID == "" || d.Status == "" {
			return errors.New("invalid status payload")
		}
		if err := s.Store.UpdateVehicleStatus(ctx, d.VehicleID, d.Status); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("ws: persist status %s: %v", d.VehicleID, err)
		}
		s.Hub.Dispatch(events.VehicleStatus{VehicleID: d.VehicleID, Status: d.Status, Timestamp: time.Now(), DriverID: pr.UserID})
		return nil

	case "send_message":
		var d struct {
			RecipientID string `json:"recipientId"`
			Message     string `json:"message"`
			Type        string `json:"type"`
		}
		if err := json.Unmarshal(act.Data, &d); err != nil || d.RecipientID == "" || d.Message == "" {
			return errors.New("invalid message payload")
		}
		if d.Type == "" {
			d.Type = "text"
		}
		msg, err := s.Store.CreateMessage(ctx, model.Message{SenderID: pr.UserID, RecipientID: d.RecipientID, Body: d.Message, Type: d.Type})
		if err != nil {
			return errors.New("failed to send message")
		}
		// offline recipients miss the push and read the persisted message on
		// their next pull
		s.Hub.Publish(events.UserTopic(d.RecipientID), events.NewMessage{SenderID: pr.UserID, Message: d.Message, Type: d.Type, Timestamp: msg.CreatedAt})
		return nil

	case "report_update":
		var d struct {
			ReportID string `json:"reportId"`
			Status   string `json:"status"`
			Message  string `json:"message"`
		}
		if err := json.Unmarshal(act.Data, &d); err != nil || d.ReportID == "" || d.Status == "" {
			return errors.New("invalid report payload")
		}
		if _, err := s.Store.UpdateReportStatus(ctx, d.ReportID, d.Status, d.Message, pr.UserID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errors.New("report not found")
			}
			return errors.New("failed to update report")
		}
		s.Hub.Dispatch(events.ReportStatus{ReportID: d.ReportID, Status: d.Status, Message: d.Message, Timestamp: time.Now(), UpdatedBy: pr.UserID})
		return nil

	case "emergency_alert":
		if !pr.CanAlert() {
			// AuthorizationError: rejected for the actor, invisible to everyone else
			return errors.New("not authorized to send emergency alerts")
		}
		var d struct {
			Type     string `json:"type"`
			Message  string `json:"message"`
			Location string `json:"location"`
		}
		if err := json.Unmarshal(act.Data, &d); err != nil || d.Message == "" {
			return errors.New("invalid alert payload")
		}
		s.Hub.Dispatch(events.EmergencyAlert{Kind: d.Type, Message: d.Message, Location: d.Location, Timestamp: time.Now(), AlertedBy: pr.UserID})
		return nil

	case "collection_started", "collection_completed":
		var d struct {
			ScheduleID string         `json:"scheduleId"`
			Ward       string         `json:"ward"`
			Stats      map[string]any `json:"stats"`
		}
		if err := json.Unmarshal(act.Data, &d); err != nil || d.ScheduleID == "" || d.Ward == "" {
			return errors.New("invalid collection payload")
		}
		kind, status, msg := events.CollectionStarted, model.ScheduleInProgress, "Waste collection has started in your area"
		if act.Action == "collection_completed" {
			kind, status, msg = events.CollectionCompleted, model.ScheduleCompleted, "Waste collection completed in your area"
		}
		if _, err := s.Store.UpdateScheduleStatus(ctx, d.ScheduleID, status, d.Stats); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Printf("ws: persist schedule %s: %v", d.ScheduleID, err)
		}
		s.Hub.Dispatch(events.Collection{Kind: kind, ScheduleID: d.ScheduleID, Ward: d.Ward, Message: msg, Timestamp: time.Now(), Stats: d.Stats})
		return nil
	}
	return errors.New("unknown action " + act.Action)
}
