package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wastenav/internal/config"
	"wastenav/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(config.Default())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func asUser(r *http.Request, id, role, ward string) *http.Request {
	r.Header.Set("X-User-Id", id)
	r.Header.Set("X-Role", role)
	if ward != "" {
		r.Header.Set("X-Ward", ward)
	}
	return r
}

func TestHealthReady(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.HealthHandler(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
	rr = httptest.NewRecorder()
	s.ReadyHandler(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != 200 {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestRequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.VehiclesHandler(rr, httptest.NewRequest(http.MethodGet, "/v1/vehicles", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("got %d, want 401", rr.Code)
	}
	var p Problem
	if err := json.Unmarshal(rr.Body.Bytes(), &p); err != nil || p.Status != http.StatusUnauthorized {
		t.Fatalf("problem body = %s", rr.Body.String())
	}
}

func TestVehicleCreateRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"vehicleId":"KA-01-1234","ward":"ward-1"}`)
	rr := httptest.NewRecorder()
	req := asUser(httptest.NewRequest(http.MethodPost, "/v1/vehicles", bytes.NewReader(body)), "u_res", "resident", "ward-1")
	s.VehiclesHandler(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("resident create: got %d, want 403", rr.Code)
	}
}

func TestLocationUpdateFeedsPullBaseline(t *testing.T) {
	s := newTestServer(t)

	// admin registers a truck
	body := []byte(`{"vehicleId":"KA-01-1234","ward":"ward-1","status":"idle"}`)
	rr := httptest.NewRecorder()
	s.VehiclesHandler(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/vehicles", bytes.NewReader(body)), "u_adm", "admin", ""))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create vehicle: got %d: %s", rr.Code, rr.Body.String())
	}
	var veh model.Vehicle
	if err := json.Unmarshal(rr.Body.Bytes(), &veh); err != nil {
		t.Fatal(err)
	}

	// driver reports a position
	loc := []byte(`{"lat":12.9716,"lng":77.5946}`)
	rr = httptest.NewRecorder()
	s.VehicleByIDHandler(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/vehicles/"+veh.ID+"/location", bytes.NewReader(loc)), "u_drv", "driver", "ward-1"))
	if rr.Code != 200 {
		t.Fatalf("post location: got %d: %s", rr.Code, rr.Body.String())
	}

	// a resident in the same ward pulls the baseline and sees it
	rr = httptest.NewRecorder()
	s.VehiclesHandler(rr, asUser(httptest.NewRequest(http.MethodGet, "/v1/vehicles/locations", nil), "u_res", "resident", "ward-1"))
	if rr.Code != 200 {
		t.Fatalf("locations: got %d", rr.Code)
	}
	var out struct {
		Items []LatestLocation `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 1 || out.Items[0].VehicleID != veh.ID || out.Items[0].Lat != 12.9716 {
		t.Fatalf("baseline = %+v", out.Items)
	}

	// a resident of another ward sees nothing
	rr = httptest.NewRecorder()
	s.VehiclesHandler(rr, asUser(httptest.NewRequest(http.MethodGet, "/v1/vehicles/locations", nil), "u_res2", "resident", "ward-2"))
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 0 {
		t.Fatalf("ward-2 baseline = %+v", out.Items)
	}
}

func TestBaselineBackfillsFromStore(t *testing.T) {
	s := newTestServer(t)
	// a position persisted before this node booted is not in the cache
	v, err := s.Store.CreateVehicle(context.Background(), model.Vehicle{VehicleID: "KA-01-9999", Ward: "ward-3"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Store.UpdateVehicleLocation(context.Background(), v.ID, 1.5, 2.5, time.Now()); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	s.VehiclesHandler(rr, asUser(httptest.NewRequest(http.MethodGet, "/v1/vehicles/locations", nil), "u_res", "resident", "ward-3"))
	var out struct {
		Items []LatestLocation `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 1 || out.Items[0].Lat != 1.5 {
		t.Fatalf("backfilled baseline = %+v", out.Items)
	}
}

func TestReportsLifecycle(t *testing.T) {
	s := newTestServer(t)

	body := []byte(`{"type":"missed_pickup","subject":"Bin not collected"}`)
	rr := httptest.NewRecorder()
	s.ReportsHandler(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/reports", bytes.NewReader(body)), "u_res", "resident", "ward-1"))
	if rr.Code != http.StatusCreated {
		t.Fatalf("create report: got %d: %s", rr.Code, rr.Body.String())
	}
	var rep model.Report
	if err := json.Unmarshal(rr.Body.Bytes(), &rep); err != nil {
		t.Fatal(err)
	}
	if rep.ReporterID != "u_res" || rep.Status != model.ReportOpen || rep.Ward != "ward-1" {
		t.Fatalf("report = %+v", rep)
	}

	// shows up in the open list
	rr = httptest.NewRecorder()
	s.ReportsHandler(rr, asUser(httptest.NewRequest(http.MethodGet, "/v1/reports", nil), "u_adm", "admin", ""))
	var list struct {
		Items []model.Report `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 {
		t.Fatalf("open reports = %+v", list.Items)
	}

	// resolve, then the open list is empty
	st := []byte(`{"status":"resolved","message":"Crew dispatched"}`)
	rr = httptest.NewRecorder()
	s.ReportByIDHandler(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/reports/"+rep.ID+"/status", bytes.NewReader(st)), "u_adm", "admin", ""))
	if rr.Code != 200 {
		t.Fatalf("status update: got %d: %s", rr.Code, rr.Body.String())
	}
	rr = httptest.NewRecorder()
	s.ReportsHandler(rr, asUser(httptest.NewRequest(http.MethodGet, "/v1/reports", nil), "u_adm", "admin", ""))
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 0 {
		t.Fatalf("open reports after resolve = %+v", list.Items)
	}
}

func TestReportStatusUnknownID(t *testing.T) {
	s := newTestServer(t)
	st := []byte(`{"status":"resolved"}`)
	rr := httptest.NewRecorder()
	s.ReportByIDHandler(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/reports/nope/status", bytes.NewReader(st)), "u_adm", "admin", ""))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("got %d, want 404", rr.Code)
	}
}

func TestAlertsRoleGate(t *testing.T) {
	s := newTestServer(t)
	body := []byte(`{"type":"flood","message":"Road blocked near market"}`)

	rr := httptest.NewRecorder()
	s.AlertsHandler(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/alerts/emergency", bytes.NewReader(body)), "u_res", "resident", "ward-1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("resident alert: got %d, want 403", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.AlertsHandler(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/alerts/emergency", bytes.NewReader(body)), "u_sup", "supervisor", ""))
	if rr.Code != 200 {
		t.Fatalf("supervisor alert: got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestMessagesUnread(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		if _, err := s.Store.CreateMessage(context.Background(), model.Message{SenderID: "u_adm", RecipientID: "u_res", Body: "hello", Type: "text"}); err != nil {
			t.Fatal(err)
		}
	}
	rr := httptest.NewRecorder()
	s.MessagesHandler(rr, asUser(httptest.NewRequest(http.MethodGet, "/v1/messages/unread", nil), "u_res", "resident", "ward-1"))
	if rr.Code != 200 {
		t.Fatalf("unread: got %d", rr.Code)
	}
	var out struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.UnreadCount != 3 {
		t.Fatalf("unread = %d, want 3", out.UnreadCount)
	}
}

func TestSchedulesTodayWardScoped(t *testing.T) {
	s := newTestServer(t)
	now := time.Now()
	for _, ward := range []string{"ward-1", "ward-2"} {
		if _, err := s.Store.CreateSchedule(context.Background(), model.Schedule{Ward: ward, ScheduledDate: now}); err != nil {
			t.Fatal(err)
		}
	}

	rr := httptest.NewRecorder()
	s.SchedulesHandler(rr, asUser(httptest.NewRequest(http.MethodGet, "/v1/schedules/today", nil), "u_res", "resident", "ward-1"))
	var out struct {
		Items []model.Schedule `json:"items"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 1 || out.Items[0].Ward != "ward-1" {
		t.Fatalf("resident today = %+v", out.Items)
	}

	rr = httptest.NewRecorder()
	s.SchedulesHandler(rr, asUser(httptest.NewRequest(http.MethodGet, "/v1/schedules/today", nil), "u_adm", "admin", ""))
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 2 {
		t.Fatalf("admin today = %+v", out.Items)
	}
}

func TestScheduleCompletePersistsStats(t *testing.T) {
	s := newTestServer(t)
	sc, err := s.Store.CreateSchedule(context.Background(), model.Schedule{Ward: "ward-1", ScheduledDate: time.Now()})
	if err != nil {
		t.Fatal(err)
	}
	body := []byte(`{"stats":{"binsCollected":42}}`)
	rr := httptest.NewRecorder()
	s.ScheduleByIDHandler(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/schedules/"+sc.ID+"/complete", bytes.NewReader(body)), "u_drv", "driver", "ward-1"))
	if rr.Code != 200 {
		t.Fatalf("complete: got %d: %s", rr.Code, rr.Body.String())
	}
	got, err := s.Store.GetSchedule(context.Background(), sc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ScheduleCompleted || got.Stats["binsCollected"] != float64(42) {
		t.Fatalf("schedule = %+v", got)
	}

	// residents cannot drive the collection lifecycle
	rr = httptest.NewRecorder()
	s.ScheduleByIDHandler(rr, asUser(httptest.NewRequest(http.MethodPost, "/v1/schedules/"+sc.ID+"/start", bytes.NewReader(nil)), "u_res", "resident", "ward-1"))
	if rr.Code != http.StatusForbidden {
		t.Fatalf("resident start: got %d, want 403", rr.Code)
	}
}
