// Package hub tracks live client connections and fans published events out
// to ward-, role-, and user-scoped groups of them.
package hub

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"wastenav/internal/events"
	"wastenav/internal/metrics"
	"wastenav/internal/model"
)

// ErrInvalidIdentity is returned by Register when the identity cannot back a
// connection (missing user id or unknown role). The caller must refuse the
// connection; nothing is registered.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is who a connection belongs to. Ward is empty for admins, who see
// all wards.
type Identity struct {
	UserID string
	Role   string
	Ward   string
}

// DeriveTopics is the single source of truth for which topic groups an
// identity belongs to: its user topic, its role topic, and its ward topic
// when it has a ward.
func DeriveTopics(id Identity) []string {
	ts := []string{events.UserTopic(id.UserID), events.RoleTopic(id.Role)}
	if id.Ward != "" {
		ts = append(ts, events.WardTopic(id.Ward))
	}
	sort.Strings(ts)
	return ts
}

// Sender delivers one frame to a connection's transport. Implementations
// must not block: either the frame is accepted for writing or an error comes
// back and the hub treats the connection as disconnected.
type Sender interface {
	Send(f events.Frame) error
}

// Connection is a read-only snapshot of one registered connection.
type Connection struct {
	ID          string
	Identity    Identity
	Topics      []string
	ConnectedAt time.Time
}

type conn struct {
	id     string
	ident  Identity
	topics []string
	sender Sender
	at     time.Time
}

// Hub owns the connection registry (connection id -> identity/sender) and
// the topic index (topic -> member set). Both are mutated only under one
// mutex, so registration touches both in a single critical section.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*conn
	topics map[string]map[string]struct{}
	relay  Relay
	logf   func(format string, v ...any)
}

// Relay mirrors published frames to other nodes. The Redis relay implements
// it; a nil relay means single-node operation.
type Relay interface {
	Relay(topic string, f events.Frame)
}

func New() *Hub {
	return &Hub{
		conns:  map[string]*conn{},
		topics: map[string]map[string]struct{}{},
		logf:   log.Printf,
	}
}

// SetRelay attaches a cross-node relay. Call before serving traffic.
func (h *Hub) SetRelay(r Relay) { h.relay = r }

// Register stores the connection and subscribes it to the topics derived
// from its identity. Registering an id that is already present replaces the
// old record (reconnect-with-same-id is a replace, not a duplicate).
func (h *Hub) Register(connID string, ident Identity, s Sender) ([]string, error) {
	if connID == "" || ident.UserID == "" || !model.ValidRole(ident.Role) {
		return nil, ErrInvalidIdentity
	}
	topics := DeriveTopics(ident)
	h.mu.Lock()
	if old, ok := h.conns[connID]; ok {
		h.removeLocked(old)
	}
	c := &conn{id: connID, ident: ident, topics: topics, sender: s, at: time.Now()}
	h.conns[connID] = c
	for _, t := range topics {
		m := h.topics[t]
		if m == nil {
			m = map[string]struct{}{}
			h.topics[t] = m
		}
		m[connID] = struct{}{}
	}
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(h.Count()))
	return topics, nil
}

// Deregister removes the connection and drops it from every topic. No-op if
// the id is unknown.
func (h *Hub) Deregister(connID string) {
	h.mu.Lock()
	if c, ok := h.conns[connID]; ok {
		h.removeLocked(c)
	}
	h.mu.Unlock()
	metrics.WSConnections.Set(float64(h.Count()))
}

// removeLocked must be called with h.mu held.
func (h *Hub) removeLocked(c *conn) {
	delete(h.conns, c.id)
	for _, t := range c.topics {
		if m := h.topics[t]; m != nil {
			delete(m, c.id)
			if len(m) == 0 {
				delete(h.topics, t)
			}
		}
	}
	if cl, ok := c.sender.(interface{ Close() error }); ok {
		_ = cl.Close()
	}
}

// Lookup returns a snapshot of the connection, if registered.
func (h *Hub) Lookup(connID string) (Connection, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return snapshot(c), true
}

func snapshot(c *conn) Connection {
	ts := make([]string, len(c.topics))
	copy(ts, c.topics)
	return Connection{ID: c.id, Identity: c.ident, Topics: ts, ConnectedAt: c.at}
}

// Count reports the number of registered connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Publish fans the event out to every member of topic and returns how many
// connections it was handed to. Delivery is fire-and-forget: a member whose
// Send fails is deregistered, the rest still receive the event, and Publish
// never returns an error. events.Broadcast targets every connection.
func (h *Hub) Publish(topic string, e events.Event) int {
	f, err := events.Encode(e)
	if err != nil {
		h.logf("hub: encode %s: %v", e.EventType(), err)
		return 0
	}
	n := h.publishFrame(topic, f)
	metrics.EventsPublished.WithLabelValues(e.EventType()).Inc()
	metrics.EventsDelivered.WithLabelValues(e.EventType()).Add(float64(n))
	if h.relay != nil {
		h.relay.Relay(topic, f)
	}
	return n
}

// PublishToConnection delivers directly to one connection, bypassing topic
// membership. Unknown or disconnected ids drop the event silently; offline
// recipients catch up from their next REST pull, not from replay.
func (h *Hub) PublishToConnection(connID string, e events.Event) bool {
	f, err := events.Encode(e)
	if err != nil {
		h.logf("hub: encode %s: %v", e.EventType(), err)
		return false
	}
	h.mu.Lock()
	c, ok := h.conns[connID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	delivered := h.sendLocked(c, f)
	h.mu.Unlock()
	metrics.EventsPublished.WithLabelValues(e.EventType()).Inc()
	return delivered
}

// Dispatch publishes e to every topic events.Route names for it, delivering
// at most one copy per connection even when the topics overlap.
func (h *Hub) Dispatch(e events.Event) int {
	topics := events.Route(e)
	if len(topics) == 0 {
		return 0
	}
	f, err := events.Encode(e)
	if err != nil {
		h.logf("hub: encode %s: %v", e.EventType(), err)
		return 0
	}
	h.mu.Lock()
	member := map[string]*conn{}
	for _, t := range topics {
		if t == events.Broadcast {
			for id, c := range h.conns {
				member[id] = c
			}
			continue
		}
		for id := range h.topics[t] {
			member[id] = h.conns[id]
		}
	}
	n := 0
	for _, c := range member {
		if c == nil {
			continue
		}
		if h.sendLocked(c, f) {
			n++
		}
	}
	h.mu.Unlock()
	metrics.EventsPublished.WithLabelValues(e.EventType()).Inc()
	metrics.EventsDelivered.WithLabelValues(e.EventType()).Add(float64(n))
	if h.relay != nil {
		for _, t := range topics {
			h.relay.Relay(t, f)
		}
	}
	return n
}

// publishFrame fans a raw frame out locally. Used by Publish and by the
// relay when a frame arrives from another node.
func (h *Hub) publishFrame(topic string, f events.Frame) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	if topic == events.Broadcast {
		for _, c := range h.conns {
			if h.sendLocked(c, f) {
				n++
			}
		}
		return n
	}
	for id := range h.topics[topic] {
		if c := h.conns[id]; c != nil && h.sendLocked(c, f) {
			n++
		}
	}
	return n
}

// sendLocked hands the frame to one connection and deregisters it on
// failure. Must be called with h.mu held; Sender.Send must not block.
func (h *Hub) sendLocked(c *conn, f events.Frame) bool {
	if err := c.sender.Send(f); err != nil {
		h.logf("hub: drop conn %s (%s): %v", c.id, c.ident.UserID, err)
		metrics.DeliveryFailures.Inc()
		h.removeLocked(c)
		return false
	}
	return true
}
