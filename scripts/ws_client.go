// Package main runs a demo WebSocket client: it subscribes as a ward
// resident, pushes a driver location update over a second connection, and
// prints every frame the resident receives.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type action struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

func dial(port, token string) *websocket.Conn {
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/ws", RawQuery: "token=" + token}
	c, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatal("dial:", err)
	}
	return c
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Dev tokens: "user:role[:ward]" (AUTH_MODE=dev).
	resident := dial(port, "u_res:resident:ward-1")
	defer func() { _ = resident.Close() }()
	driver := dial(port, "u_drv:driver:ward-1")
	defer func() { _ = driver.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var f frame
			if err := resident.ReadJSON(&f); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", f.Type, string(f.Payload))
		}
	}()

	// Give both registrations a moment, then move the truck.
	time.Sleep(500 * time.Millisecond)
	upd := action{Action: "update_location", Data: map[string]any{
		"vehicleId": "veh_demo",
		"lat":       12.9716,
		"lng":       77.5946,
	}}
	if err := driver.WriteJSON(upd); err != nil {
		log.Fatal(err)
	}
	fmt.Println("sent update_location for veh_demo")

	select {
	case <-time.After(2 * time.Second):
	case <-done:
	}
}
