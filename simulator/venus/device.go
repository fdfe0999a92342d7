// Package venus simulates Venus battery inverters answering the ES JSON-RPC
// methods over UDP.
package venus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type request struct {
	ID     int             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type response struct {
	ID     int       `json:"id"`
	Src    string    `json:"src"`
	Result any       `json:"result,omitempty"`
	Error  *rpcError `json:"error,omitempty"`
}

type setModeParams struct {
	ID     int `json:"id"`
	Config struct {
		Mode      string `json:"mode"`
		ManualCfg *struct {
			Power  int `json:"power"`
			Enable int `json:"enable"`
		} `json:"manual_cfg"`
	} `json:"config"`
}

// Device is one simulated inverter bound to a UDP socket.
type Device struct {
	Name    string
	Battery *Battery

	conn      *net.UDPConn
	mu        sync.Mutex
	mode      string
	manual    int
	autoPower float64
	reject    bool
	drop      atomic.Int32
	requests  atomic.Int32
}

// Listen binds a device on addr, e.g. "127.0.0.1:0".
func Listen(addr, name string, b *Battery) (*Device, error) {
	ua, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", ua)
	if err != nil {
		return nil, err
	}
	return &Device{Name: name, Battery: b, conn: conn, mode: "Auto"}, nil
}

// Addr returns the bound address as host:port.
func (d *Device) Addr() string { return d.conn.LocalAddr().String() }

// Close stops the device.
func (d *Device) Close() error { return d.conn.Close() }

// DropNext ignores the next n requests.
func (d *Device) DropNext(n int) { d.drop.Store(int32(n)) }

// Requests returns the number of datagrams received.
func (d *Device) Requests() int { return int(d.requests.Load()) }

// RejectSetMode makes ES.SetMode report a failure.
func (d *Device) RejectSetMode(v bool) {
	d.mu.Lock()
	d.reject = v
	d.mu.Unlock()
}

// SetAutoPower sets the power the device reports while in Auto mode, in the
// device convention (positive is discharge).
func (d *Device) SetAutoPower(w float64) {
	d.mu.Lock()
	d.autoPower = w
	d.mu.Unlock()
}

// Mode returns the current mode and manual power.
func (d *Device) Mode() (string, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode, d.manual
}

// Step advances the battery by dt using the current power.
func (d *Device) Step(dt time.Duration) {
	d.Battery.ApplyPower(d.power(), dt)
}

// Power returns the current grid-side power, positive when discharging as
// reported in ongrid_power.
func (d *Device) Power() float64 { return d.power() }

// power converts the manual_cfg power, positive when charging, to the
// reporting convention.
func (d *Device) power() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if strings.EqualFold(d.mode, "manual") {
		return -float64(d.manual)
	}
	return d.autoPower
}

// Serve answers requests until the context is canceled or the device closed.
func (d *Device) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = d.conn.Close() })
	defer stop()
	buf := make([]byte, 65535)
	for {
		n, from, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		d.requests.Add(1)
		if d.drop.Load() > 0 {
			d.drop.Add(-1)
			continue
		}
		out, err := json.Marshal(d.handle(buf[:n]))
		if err != nil {
			return err
		}
		if _, err := d.conn.WriteToUDP(out, from); err != nil {
			return err
		}
	}
}

func (d *Device) handle(data []byte) response {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return response{Src: d.Name, Error: &rpcError{Code: -32700, Message: "parse error"}}
	}
	resp := response{ID: req.ID, Src: d.Name}
	switch req.Method {
	case "ES.GetMode":
		power := d.power()
		resp.Result = map[string]any{
			"id":            0,
			"mode":          d.currentMode(),
			"ongrid_power":  power,
			"offgrid_power": 0,
			"bat_soc":       d.Battery.Level(),
		}
	case "ES.SetMode":
		var p setModeParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			resp.Error = &rpcError{Code: -32602, Message: "invalid params"}
			return resp
		}
		resp.Result = map[string]any{"id": 0, "set_result": d.setMode(p)}
	default:
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}
	}
	return resp
}

func (d *Device) currentMode() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

func (d *Device) setMode(p setModeParams) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.reject {
		return false
	}
	switch {
	case strings.EqualFold(p.Config.Mode, "auto"):
		d.mode, d.manual = "Auto", 0
	case strings.EqualFold(p.Config.Mode, "manual") && p.Config.ManualCfg != nil:
		d.mode, d.manual = "Manual", p.Config.ManualCfg.Power
	default:
		return false
	}
	return true
}
