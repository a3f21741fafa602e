package api

import (
	"sync"
)

// LatestLocation holds the latest known position of one vehicle.
type LatestLocation struct {
	Ward      string  `json:"ward,omitempty"`
	VehicleID string  `json:"vehicleId"`
	DriverID  string  `json:"driverId,omitempty"`
	Lat       float64 `json:"lat"`
	Lng       float64 `json:"lng"`
	TS        string  `json:"ts"`
}

// LocationCache stores the latest vehicle positions so the REST pull a
// client performs on (re)connect can hand back a baseline without touching
// the store.
type LocationCache struct {
	mu sync.Mutex
	// key: vehicleId
	m map[string]LatestLocation
}

// NewLocationCache constructs a LocationCache.
func NewLocationCache() *LocationCache { return &LocationCache{m: map[string]LatestLocation{}} }

// Upsert stores or updates the latest position for a vehicle.
func (c *LocationCache) Upsert(ward, vehicleID, driverID string, lat, lng float64, ts string) {
	if vehicleID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[vehicleID] = LatestLocation{Ward: ward, VehicleID: vehicleID, DriverID: driverID, Lat: lat, Lng: lng, TS: ts}
}

// ListByWard returns the latest positions for vehicles in a ward; an empty
// ward returns everything (admin view).
func (c *LocationCache) ListByWard(ward string) []LatestLocation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := []LatestLocation{}
	for _, v := range c.m {
		if ward == "" || v.Ward == ward {
			out = append(out, v)
		}
	}
	return out
}
