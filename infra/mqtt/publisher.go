package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/batteryctl/core/control"
	"github.com/kilianp07/batteryctl/core/model"
)

// DecisionMessage is the retained per-device payload.
type DecisionMessage struct {
	CycleID       string     `json:"cycle_id"`
	DeviceID      string     `json:"device_id"`
	Mode          model.Mode `json:"mode"`
	SetpointWatts int        `json:"setpoint_watts"`
	Applied       bool       `json:"applied"`
	Error         string     `json:"error,omitempty"`
	Timestamp     int64      `json:"timestamp"`
}

// CycleTopic is where full cycle reports are published.
func (p *PahoClient) CycleTopic() string { return p.cfg.BaseTopic + "/cycle" }

// DecisionTopic is the retained decision topic of a device.
func (p *PahoClient) DecisionTopic(deviceID string) string {
	return fmt.Sprintf("%s/device/%s/decision", p.cfg.BaseTopic, deviceID)
}

// Report publishes the cycle report and one retained message per decision.
func (p *PahoClient) Report(ctx context.Context, rep control.CycleReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	errs := []error{p.publish(p.CycleTopic(), p.qos("cycle"), false, payload)}
	for _, c := range rep.Commands {
		msg, err := json.Marshal(DecisionMessage{
			CycleID:       rep.CycleID,
			DeviceID:      c.DeviceID,
			Mode:          c.Mode,
			SetpointWatts: c.SetpointWatts,
			Applied:       c.Applied,
			Error:         c.Error,
			Timestamp:     time.Now().UnixMilli(),
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, p.publish(p.DecisionTopic(c.DeviceID), p.qos("decision"), true, msg))
	}
	return errors.Join(errs...)
}

var _ control.Reporter = (*PahoClient)(nil)
