package hub

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"wastenav/internal/events"
)

type fakeSender struct {
	mu     sync.Mutex
	frames []events.Frame
	fail   bool
}

func (f *fakeSender) Send(fr events.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("write failed")
	}
	f.frames = append(f.frames, fr)
	return nil
}

func (f *fakeSender) got() []events.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]events.Frame, len(f.frames))
	copy(out, f.frames)
	return out
}

func register(t *testing.T, h *Hub, id, uid, role, ward string) *fakeSender {
	t.Helper()
	s := &fakeSender{}
	if _, err := h.Register(id, Identity{UserID: uid, Role: role, Ward: ward}, s); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	return s
}

func TestDeriveTopics(t *testing.T) {
	got := DeriveTopics(Identity{UserID: "u1", Role: "resident", Ward: "Ward 1"})
	want := []string{"role:resident", "user:u1", "ward:Ward 1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("topics = %v, want %v", got, want)
	}
	// no ward topic for ward-less identities (admins)
	got = DeriveTopics(Identity{UserID: "a1", Role: "admin"})
	want = []string{"role:admin", "user:a1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("admin topics = %v, want %v", got, want)
	}
	// same (role, ward) derives the same ward/role set
	a := DeriveTopics(Identity{UserID: "x", Role: "resident", Ward: "W"})
	b := DeriveTopics(Identity{UserID: "y", Role: "resident", Ward: "W"})
	if a[0] != b[0] || a[2] != b[2] {
		t.Fatalf("ward/role topics differ: %v vs %v", a, b)
	}
}

func TestRegisterInvalidIdentity(t *testing.T) {
	h := New()
	if _, err := h.Register("c1", Identity{UserID: "u1", Role: "burglar"}, &fakeSender{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("bad role: err = %v, want ErrInvalidIdentity", err)
	}
	if _, err := h.Register("c1", Identity{Role: "resident"}, &fakeSender{}); !errors.Is(err, ErrInvalidIdentity) {
		t.Fatalf("missing user: err = %v, want ErrInvalidIdentity", err)
	}
	if h.Count() != 0 {
		t.Fatalf("nothing should be registered, got %d", h.Count())
	}
}

func TestRegisterReplacesSameID(t *testing.T) {
	h := New()
	old := register(t, h, "c1", "u1", "resident", "Ward 1")
	register(t, h, "c1", "u2", "driver", "Ward 2")
	if h.Count() != 1 {
		t.Fatalf("count = %d, want 1", h.Count())
	}
	c, ok := h.Lookup("c1")
	if !ok || c.Identity.UserID != "u2" {
		t.Fatalf("latest identity should win, got %+v", c)
	}
	// old ward membership must be gone
	if n := h.Publish(events.WardTopic("Ward 1"), events.VehicleStatus{VehicleID: "v1", Status: "idle", Timestamp: time.Now(), DriverID: "u2"}); n != 0 {
		t.Fatalf("publish to stale ward delivered %d", n)
	}
	if n := h.Publish(events.WardTopic("Ward 2"), events.VehicleStatus{VehicleID: "v1", Status: "idle", Timestamp: time.Now(), DriverID: "u2"}); n != 1 {
		t.Fatalf("publish to new ward delivered %d, want 1", n)
	}
	if len(old.got()) != 0 {
		t.Fatalf("replaced sender received %d frames", len(old.got()))
	}
}

func TestPublishFanout(t *testing.T) {
	h := New()
	r1 := register(t, h, "c1", "r1", "resident", "Ward 1")
	r2 := register(t, h, "c2", "r2", "resident", "Ward 1")
	other := register(t, h, "c3", "r3", "resident", "Ward 2")

	ev := events.Collection{Kind: events.CollectionStarted, ScheduleID: "S123", Ward: "Ward 1", Message: "started", Timestamp: time.Now()}
	if n := h.Publish(events.WardTopic("Ward 1"), ev); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	for _, s := range []*fakeSender{r1, r2} {
		fs := s.got()
		if len(fs) != 1 || fs[0].Type != events.TypeCollection {
			t.Fatalf("subscriber frames = %+v", fs)
		}
	}
	if len(other.got()) != 0 {
		t.Fatalf("ward 2 resident received %d frames", len(other.got()))
	}
}

func TestDeliveryFailureIsolated(t *testing.T) {
	h := New()
	ok1 := register(t, h, "c1", "r1", "resident", "Ward 1")
	bad := &fakeSender{fail: true}
	if _, err := h.Register("c2", Identity{UserID: "r2", Role: "resident", Ward: "Ward 1"}, bad); err != nil {
		t.Fatalf("register: %v", err)
	}
	ok2 := register(t, h, "c3", "r3", "resident", "Ward 1")

	ev := events.ReportStatus{ReportID: "rep1", Status: "resolved", Message: "done", Timestamp: time.Now(), UpdatedBy: "a1"}
	n := h.Publish(events.WardTopic("Ward 1"), ev)
	if n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}
	if len(ok1.got()) != 1 || len(ok2.got()) != 1 {
		t.Fatalf("healthy subscribers should still receive")
	}
	if _, ok := h.Lookup("c2"); ok {
		t.Fatal("failed connection should be deregistered")
	}
}

func TestOrderPreservedPerTopic(t *testing.T) {
	h := New()
	s := register(t, h, "c1", "r1", "resident", "Ward 1")
	for _, st := range []string{"collecting", "en-route", "idle"} {
		h.Publish(events.WardTopic("Ward 1"), events.VehicleStatus{VehicleID: "v1", Status: st, Timestamp: time.Now(), DriverID: "d1"})
	}
	fs := s.got()
	if len(fs) != 3 {
		t.Fatalf("frames = %d, want 3", len(fs))
	}
	want := []string{"collecting", "en-route", "idle"}
	for i, f := range fs {
		ev, err := events.Decode(f)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got := ev.(events.VehicleStatus).Status; got != want[i] {
			t.Fatalf("frame %d status = %s, want %s", i, got, want[i])
		}
	}
}

func TestDeregisterClearsSubscriptions(t *testing.T) {
	h := New()
	s := register(t, h, "c1", "r1", "resident", "Ward 1")
	h.Deregister("c1")
	h.Deregister("c1") // idempotent
	if n := h.Publish(events.WardTopic("Ward 1"), events.VehicleStatus{VehicleID: "v1", Status: "idle", Timestamp: time.Now(), DriverID: "d1"}); n != 0 {
		t.Fatalf("delivered = %d after deregister", n)
	}
	if h.PublishToConnection("c1", events.NewMessage{SenderID: "u2", Message: "hi", Type: "text", Timestamp: time.Now()}) {
		t.Fatal("direct publish to deregistered connection should drop")
	}
	if len(s.got()) != 0 {
		t.Fatalf("deregistered sender received %d frames", len(s.got()))
	}
}

func TestDispatchWardAndAdmin(t *testing.T) {
	h := New()
	sameWard := register(t, h, "c1", "r1", "resident", "Ward 1")
	otherWard := register(t, h, "c2", "r2", "resident", "Ward 2")
	admin := register(t, h, "c3", "a1", "admin", "")

	ev := events.VehicleLocation{VehicleID: "v1", Lat: 12.9, Lng: 77.6, Timestamp: time.Now(), DriverID: "d1", Ward: "Ward 1"}
	if n := h.Dispatch(ev); n != 2 {
		t.Fatalf("dispatch delivered %d, want 2", n)
	}
	if len(sameWard.got()) != 1 || len(admin.got()) != 1 {
		t.Fatal("ward member and admin should receive the location")
	}
	if len(otherWard.got()) != 0 {
		t.Fatal("other ward must not receive the location")
	}
}

func TestDispatchDeduplicatesOverlap(t *testing.T) {
	h := New()
	// an admin who also has the ward set would be in both target groups
	s := register(t, h, "c1", "a1", "admin", "Ward 1")
	ev := events.Collection{Kind: events.CollectionCompleted, ScheduleID: "S1", Ward: "Ward 1", Message: "done", Timestamp: time.Now()}
	if n := h.Dispatch(ev); n != 1 {
		t.Fatalf("dispatch delivered %d, want 1", n)
	}
	if len(s.got()) != 1 {
		t.Fatalf("connection received %d copies, want exactly 1", len(s.got()))
	}
}

func TestDispatchBroadcast(t *testing.T) {
	h := New()
	a := register(t, h, "c1", "r1", "resident", "Ward 1")
	b := register(t, h, "c2", "d1", "driver", "Ward 2")
	ev := events.EmergencyAlert{Kind: "flood", Message: "evacuate", Timestamp: time.Now(), AlertedBy: "a1"}
	if n := h.Dispatch(ev); n != 2 {
		t.Fatalf("broadcast delivered %d, want 2", n)
	}
	if len(a.got()) != 1 || len(b.got()) != 1 {
		t.Fatal("broadcast should reach every connection once")
	}
}
