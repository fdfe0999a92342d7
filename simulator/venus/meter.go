package venus

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"
)

// Meter simulates a P1 meter at the grid connection of a set of devices.
// The reported power is the house load minus what the devices discharge.
type Meter struct {
	mu      sync.Mutex
	load    float64
	devices []*Device
}

// NewMeter creates a meter observing the given devices.
func NewMeter(houseLoad float64, devices ...*Device) *Meter {
	return &Meter{load: houseLoad, devices: devices}
}

// SetHouseLoad changes the consumption behind the meter, in watts. Negative
// values model solar surplus.
func (m *Meter) SetHouseLoad(w float64) {
	m.mu.Lock()
	m.load = w
	m.mu.Unlock()
}

// ActivePower returns the net grid power, positive when importing.
func (m *Meter) ActivePower() float64 {
	m.mu.Lock()
	net := m.load
	m.mu.Unlock()
	for _, d := range m.devices {
		net -= d.Power()
	}
	return math.Round(net*10) / 10
}

// ServeHTTP answers GET /api/v1/data.
func (m *Meter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path != "/api/v1/data" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"wifi_ssid":      "simulator",
		"meter_model":    "simulated P1",
		"active_power_w": m.ActivePower(),
	})
}
