package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"wastenav/internal/auth"
	"wastenav/internal/events"
	"wastenav/internal/model"
	"wastenav/internal/store"
)

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "connections": s.Hub.Count()})
}

func (s *Server) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	pr, err := s.principal(r)
	if err != nil {
		writeProblem(w, http.StatusUnauthorized, "unauthorized", "authentication failed", r.URL.Path)
		return auth.Principal{}, false
	}
	return pr, true
}

// VehiclesHandler handles /v1/vehicles and /v1/vehicles/locations.
func (s *Server) VehiclesHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	if strings.HasSuffix(r.URL.Path, "/locations") {
		if r.Method != http.MethodGet {
			writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
			return
		}
		s.vehicleLocations(w, r, pr)
		return
	}
	switch r.Method {
	case http.MethodGet:
		ward := r.URL.Query().Get("ward")
		if !isAdmin(pr) {
			ward = pr.Ward
		}
		vs, err := s.Store.ListVehiclesByWard(r.Context(), ward)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": vs})
	case http.MethodPost:
		if !isAdmin(pr) {
			writeProblem(w, http.StatusForbidden, "forbidden", "admin role required", r.URL.Path)
			return
		}
		var v model.Vehicle
		if err := json.NewDecoder(r.Body).Decode(&v); err != nil || v.VehicleID == "" {
			writeProblem(w, http.StatusBadRequest, "invalid body", "vehicleId required", r.URL.Path)
			return
		}
		out, err := s.Store.CreateVehicle(r.Context(), v)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// vehicleLocations serves the pull baseline for the map view: the latest
// known position of every vehicle visible to the caller. Residents and
// drivers see their ward; admins see everything.
func (s *Server) vehicleLocations(w http.ResponseWriter, r *http.Request, pr auth.Principal) {
	ward := pr.Ward
	if isAdmin(pr) || pr.Role == model.RoleSupervisor {
		ward = r.URL.Query().Get("ward")
	}
	items := s.Locations.ListByWard(ward)
	seen := map[string]struct{}{}
	for _, it := range items {
		seen[it.VehicleID] = struct{}{}
	}
	// the cache only holds positions reported since boot; backfill from the
	// store so a fresh node still serves a complete baseline
	vs, err := s.Store.ListVehiclesByWard(r.Context(), ward)
	if err == nil {
		for _, v := range vs {
			if v.Location == nil {
				continue
			}
			if _, ok := seen[v.ID]; ok {
				continue
			}
			items = append(items, LatestLocation{Ward: v.Ward, VehicleID: v.ID, DriverID: v.DriverID, Lat: v.Location.Lat, Lng: v.Location.Lng})
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// VehicleByIDHandler handles /v1/vehicles/{id}/location and
// /v1/vehicles/{id}/status.
func (s *Server) VehicleByIDHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/vehicles/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	switch {
	case sub == "location" && r.Method == http.MethodPost:
		if pr.Role != model.RoleDriver && !isAdmin(pr) {
			writeProblem(w, http.StatusForbidden, "forbidden", "driver role required", r.URL.Path)
			return
		}
		var d struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		}
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			writeProblem(w, http.StatusBadRequest, "invalid body", err.Error(), r.URL.Path)
			return
		}
		now := time.Now()
		if err := s.Store.UpdateVehicleLocation(r.Context(), id, d.Lat, d.Lng, now); err != nil {
			s.storeProblem(w, r, err)
			return
		}
		s.Locations.Upsert(pr.Ward, id, pr.UserID, d.Lat, d.Lng, now.UTC().Format(time.RFC3339))
		n := s.Hub.Dispatch(events.VehicleLocation{VehicleID: id, Lat: d.Lat, Lng: d.Lng, Timestamp: now, DriverID: pr.UserID, Ward: pr.Ward})
		writeJSON(w, http.StatusOK, map[string]any{"delivered": n})
	case sub == "status" && r.Method == http.MethodPost:
		if pr.Role != model.RoleDriver && !isAdmin(pr) {
			writeProblem(w, http.StatusForbidden, "forbidden", "driver role required", r.URL.Path)
			return
		}
		var d struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.Status == "" {
			writeProblem(w, http.StatusBadRequest, "invalid body", "status required", r.URL.Path)
			return
		}
		if err := s.Store.UpdateVehicleStatus(r.Context(), id, d.Status); err != nil {
			s.storeProblem(w, r, err)
			return
		}
		n := s.Hub.Dispatch(events.VehicleStatus{VehicleID: id, Status: d.Status, Timestamp: time.Now(), DriverID: pr.UserID})
		writeJSON(w, http.StatusOK, map[string]any{"delivered": n})
	case sub == "" && r.Method == http.MethodGet:
		v, err := s.Store.GetVehicle(r.Context(), id)
		if err != nil {
			s.storeProblem(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, v)
	default:
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
	}
}

// SchedulesHandler handles /v1/schedules and /v1/schedules/today.
func (s *Server) SchedulesHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	if strings.HasSuffix(r.URL.Path, "/today") {
		if r.Method != http.MethodGet {
			writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
			return
		}
		items, err := s.Store.ListSchedulesForDay(r.Context(), time.Now())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		if !isAdmin(pr) && pr.Role != model.RoleSupervisor {
			filtered := items[:0]
			for _, it := range items {
				if it.Ward == pr.Ward {
					filtered = append(filtered, it)
				}
			}
			items = filtered
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	if !isAdmin(pr) {
		writeProblem(w, http.StatusForbidden, "forbidden", "admin role required", r.URL.Path)
		return
	}
	var sc model.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sc); err != nil || sc.Ward == "" {
		writeProblem(w, http.StatusBadRequest, "invalid body", "ward required", r.URL.Path)
		return
	}
	out, err := s.Store.CreateSchedule(r.Context(), sc)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// ScheduleByIDHandler handles /v1/schedules/{id}/start and
// /v1/schedules/{id}/complete, publishing the collection notification after
// the status change is persisted.
func (s *Server) ScheduleByIDHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/schedules/")
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]
	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	if r.Method != http.MethodPost || (sub != "start" && sub != "complete") {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	if pr.Role == model.RoleResident {
		writeProblem(w, http.StatusForbidden, "forbidden", "driver or admin role required", r.URL.Path)
		return
	}
	var d struct {
		Stats map[string]any `json:"stats"`
	}
	_ = json.NewDecoder(r.Body).Decode(&d)

	kind, status, msg := events.CollectionStarted, model.ScheduleInProgress, "Waste collection has started in your area"
	if sub == "complete" {
		kind, status, msg = events.CollectionCompleted, model.ScheduleCompleted, "Waste collection completed in your area"
	}
	sc, err := s.Store.UpdateScheduleStatus(r.Context(), id, status, d.Stats)
	if err != nil {
		s.storeProblem(w, r, err)
		return
	}
	n := s.Hub.Dispatch(events.Collection{Kind: kind, ScheduleID: sc.ID, Ward: sc.Ward, Message: msg, Timestamp: time.Now(), Stats: d.Stats})
	writeJSON(w, http.StatusOK, map[string]any{"schedule": sc, "delivered": n})
}

// ReportsHandler handles /v1/reports: list for the pull baseline, create
// for new submissions.
func (s *Server) ReportsHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := s.Store.ListOpenReports(r.Context())
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var rep model.Report
		if err := json.NewDecoder(r.Body).Decode(&rep); err != nil || rep.Type == "" {
			writeProblem(w, http.StatusBadRequest, "invalid body", "type required", r.URL.Path)
			return
		}
		rep.ReporterID = pr.UserID
		if rep.Ward == "" {
			rep.Ward = pr.Ward
		}
		out, err := s.Store.CreateReport(r.Context(), rep)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusCreated, out)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
	}
}

// ReportByIDHandler handles /v1/reports/{id}/status.
func (s *Server) ReportByIDHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/v1/reports/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] != "status" || r.Method != http.MethodPost {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	var d struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.Status == "" {
		writeProblem(w, http.StatusBadRequest, "invalid body", "status required", r.URL.Path)
		return
	}
	rep, err := s.Store.UpdateReportStatus(r.Context(), parts[0], d.Status, d.Message, pr.UserID)
	if err != nil {
		s.storeProblem(w, r, err)
		return
	}
	n := s.Hub.Dispatch(events.ReportStatus{ReportID: rep.ID, Status: rep.Status, Message: d.Message, Timestamp: time.Now(), UpdatedBy: pr.UserID})
	writeJSON(w, http.StatusOK, map[string]any{"report": rep, "delivered": n})
}

// MessagesHandler handles /v1/messages (thread pull) and
// /v1/messages/unread (unread count for the reconciliation baseline).
func (s *Server) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	if strings.HasSuffix(r.URL.Path, "/unread") {
		n, err := s.Store.UnreadCount(r.Context(), pr.UserID)
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"unreadCount": n})
		return
	}
	with := r.URL.Query().Get("with")
	if with == "" {
		writeProblem(w, http.StatusBadRequest, "invalid query", "with (user id) required", r.URL.Path)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.Store.ListMessages(r.Context(), pr.UserID, with, limit)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// AlertsHandler handles POST /v1/alerts/emergency. The role gate is the
// only privileged publish in the catalog.
func (s *Server) AlertsHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	if !pr.CanAlert() {
		writeProblem(w, http.StatusForbidden, "forbidden", "admin or supervisor role required", r.URL.Path)
		return
	}
	var d struct {
		Type     string `json:"type"`
		Message  string `json:"message"`
		Location string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.Message == "" {
		writeProblem(w, http.StatusBadRequest, "invalid body", "message required", r.URL.Path)
		return
	}
	n := s.Hub.Dispatch(events.EmergencyAlert{Kind: d.Type, Message: d.Message, Location: d.Location, Timestamp: time.Now(), AlertedBy: pr.UserID})
	writeJSON(w, http.StatusOK, map[string]any{"delivered": n})
}

// UsersHandler handles POST /v1/users (admin provisioning).
func (s *Server) UsersHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "method not allowed", "", r.URL.Path)
		return
	}
	if !isAdmin(pr) {
		writeProblem(w, http.StatusForbidden, "forbidden", "admin role required", r.URL.Path)
		return
	}
	var u model.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil || !model.ValidRole(u.Role) {
		writeProblem(w, http.StatusBadRequest, "invalid body", "valid role required", r.URL.Path)
		return
	}
	out, err := s.Store.CreateUser(r.Context(), u)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) storeProblem(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "not found", "", r.URL.Path)
		return
	}
	writeProblem(w, http.StatusInternalServerError, "store error", err.Error(), r.URL.Path)
}
