package mqtt

import (
	"encoding/json"
	"strconv"
	"strings"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/batteryctl/core/control"
	"github.com/kilianp07/batteryctl/core/model"
)

// onVehicle accepts either a JSON object {"connected":bool} or a bare
// boolean payload.
func (p *PahoClient) onVehicle(_ paho.Client, msg paho.Message) {
	raw := strings.TrimSpace(string(msg.Payload()))
	var state model.VehicleState
	if err := json.Unmarshal([]byte(raw), &state); err != nil {
		connected, perr := strconv.ParseBool(raw)
		if perr != nil {
			p.logger.Errorf("failed to decode vehicle state %q: %v", raw, err)
			return
		}
		state.Connected = connected
	}
	p.mu.Lock()
	p.vehicle = &state
	p.mu.Unlock()
	p.logger.Infof("vehicle connected: %t", state.Connected)
}

// VehicleState returns the last received vehicle state, or nil before the
// first message.
func (p *PahoClient) VehicleState() *model.VehicleState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.vehicle == nil {
		return nil
	}
	v := *p.vehicle
	return &v
}

var _ control.VehicleSource = (*PahoClient)(nil)
