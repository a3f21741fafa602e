// Package client implements the subscriber side of the real-time protocol:
// handshake, REST pull of the authoritative baseline, then events applied
// as idempotent deltas, with capped-backoff reconnects.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"wastenav/internal/events"
	"wastenav/internal/model"
)

// ErrUnauthorized means the handshake was refused. The caller must obtain
// fresh credentials; the client does not retry and never downgrades to an
// anonymous connection.
var ErrUnauthorized = errors.New("unauthorized")

// Handler reacts to one decoded event.
type Handler func(e events.Event)

// VehiclePosition is one entry of the /v1/vehicles/locations baseline.
type VehiclePosition struct {
	Ward      string  `json:"ward,omitempty"`
	VehicleID string  `json:"vehicleId"`
	DriverID  string  `json:"driverId,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
}

// State is the client's local view: the pulled baseline plus every delta
// applied since. Position updates are set-by-id, so duplicate or re-ordered
// frames within the per-topic guarantee cannot corrupt it.
type State struct {
	Vehicles    map[string]VehiclePosition
	Statuses    map[string]string
	UnreadCount int
	OpenReports []model.Report
}

type Client struct {
	ServerURL string // http(s)://host:port
	Token     string
	HTTP      *http.Client

	// Backoff bounds for reconnects
	MinBackoff time.Duration
	MaxBackoff time.Duration

	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
	state    State
	ready    bool
}

func New(serverURL, token string) *Client {
	return &Client{
		ServerURL:  strings.TrimRight(serverURL, "/"),
		Token:      token,
		HTTP:       &http.Client{Timeout: 10 * time.Second},
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 30 * time.Second,
		handlers:   map[string]map[int]Handler{},
	}
}

// On registers a handler for one event type from the catalog and returns an
// id for Off.
func (c *Client) On(eventType string, h Handler) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	if c.handlers[eventType] == nil {
		c.handlers[eventType] = map[int]Handler{}
	}
	c.handlers[eventType][c.nextID] = h
	return c.nextID
}

// Off removes a handler registered with On.
func (c *Client) Off(eventType string, id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := c.handlers[eventType]; m != nil {
		delete(m, id)
	}
}

// Snapshot returns a copy of the current local view.
func (c *Client) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := State{UnreadCount: c.state.UnreadCount}
	out.Vehicles = make(map[string]VehiclePosition, len(c.state.Vehicles))
	for k, v := range c.state.Vehicles {
		out.Vehicles[k] = v
	}
	out.Statuses = make(map[string]string, len(c.state.Statuses))
	for k, v := range c.state.Statuses {
		out.Statuses[k] = v
	}
	out.OpenReports = append([]model.Report(nil), c.state.OpenReports...)
	return out
}

// Ready reports whether the baseline pull has completed for the current
// session, i.e. the local view is consistent.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Run connects and serves events until ctx is done, reconnecting with
// capped exponential backoff after transport drops. A refused handshake
// returns ErrUnauthorized immediately.
func (c *Client) Run(ctx context.Context) error {
	backoff := c.MinBackoff
	for {
		err := c.runSession(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		if errors.Is(err, ErrUnauthorized) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}
}

// runSession performs one full protocol round: handshake, await the
// registration ack, pull the baseline, then apply streamed events.
func (c *Client) runSession(ctx context.Context) error {
	wsURL := strings.Replace(c.ServerURL, "http", "ws", 1) + "/ws?token=" + c.Token
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return fmt.Errorf("%w: handshake refused", ErrUnauthorized)
		}
		return err
	}
	defer func() { _ = conn.Close() }()

	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()

	// step 1: registration ack
	var first events.Frame
	if err := conn.ReadJSON(&first); err != nil {
		return err
	}
	if first.Type != "registered" {
		return fmt.Errorf("expected registered frame, got %q", first.Type)
	}

	// step 2: the REST pull is the authoritative baseline; events missed
	// while disconnected are already reflected in it
	if err := c.Pull(ctx); err != nil {
		return err
	}

	// step 3: apply deltas
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	for {
		var f events.Frame
		if err := conn.ReadJSON(&f); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.handleFrame(f)
	}
}

// Pull fetches the current state relevant to this identity and replaces the
// local baseline.
func (c *Client) Pull(ctx context.Context) error {
	var locs struct {
		Items []VehiclePosition `json:"items"`
	}
	if err := c.get(ctx, "/v1/vehicles/locations", &locs); err != nil {
		return fmt.Errorf("pull locations: %w", err)
	}
	var unread struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := c.get(ctx, "/v1/messages/unread", &unread); err != nil {
		return fmt.Errorf("pull unread: %w", err)
	}
	var reports struct {
		Items []model.Report `json:"items"`
	}
	if err := c.get(ctx, "/v1/reports", &reports); err != nil {
		return fmt.Errorf("pull reports: %w", err)
	}

	c.mu.Lock()
	c.state.Vehicles = map[string]VehiclePosition{}
	for _, l := range locs.Items {
		c.state.Vehicles[l.VehicleID] = l
	}
	if c.state.Statuses == nil {
		c.state.Statuses = map[string]string{}
	}
	c.state.UnreadCount = unread.UnreadCount
	c.state.OpenReports = reports.Items
	c.ready = true
	c.mu.Unlock()
	return nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ServerURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) handleFrame(f events.Frame) {
	if f.Type == "error" {
		return
	}
	ev, err := events.Decode(f)
	if err != nil {
		return
	}
	c.apply(ev)

	c.mu.Lock()
	hs := make([]Handler, 0, len(c.handlers[f.Type]))
	for _, h := range c.handlers[f.Type] {
		hs = append(hs, h)
	}
	c.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

// apply folds one event into the local view using set semantics.
func (c *Client) apply(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch v := ev.(type) {
	case events.VehicleLocation:
		if c.state.Vehicles == nil {
			c.state.Vehicles = map[string]VehiclePosition{}
		}
		c.state.Vehicles[v.VehicleID] = VehiclePosition{Ward: v.Ward, VehicleID: v.VehicleID, DriverID: v.DriverID, Lat: v.Lat, Lng: v.Lng}
	case events.VehicleStatus:
		if c.state.Statuses == nil {
			c.state.Statuses = map[string]string{}
		}
		c.state.Statuses[v.VehicleID] = v.Status
	case events.NewMessage:
		c.state.UnreadCount++
	case events.ReportStatus:
		if v.Status == model.ReportResolved || v.Status == model.ReportClosed {
			kept := c.state.OpenReports[:0]
			for _, r := range c.state.OpenReports {
				if r.ID != v.ReportID {
					kept = append(kept, r)
				}
			}
			c.state.OpenReports = kept
		}
	}
}
