package marstek

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kilianp07/batteryctl/core/device"
	"github.com/kilianp07/batteryctl/core/model"
	"github.com/kilianp07/batteryctl/infra/logger"
)

// ErrNoResponse is returned when a device never answered a request.
var ErrNoResponse = errors.New("no response from device")

// Client talks JSON-RPC over UDP to Venus battery inverters. Device ids are
// "host" or "host:port".
type Client struct {
	cfg    Config
	log    logger.Logger
	nextID atomic.Int32
	// bindMu serializes exchanges when a fixed local port is configured.
	bindMu sync.Mutex
}

// NewClient returns a client using cfg.
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Client{cfg: cfg, log: log}, nil
}

// Status reads the mode, state of charge and power of a device.
func (c *Client) Status(ctx context.Context, id string) (model.DeviceStatus, error) {
	raw, err := c.call(ctx, id, MethodGetMode, DeviceParams{ID: 0})
	if err != nil {
		return model.DeviceStatus{}, err
	}
	var res ModeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return model.DeviceStatus{}, device.NewTransportError(MethodGetMode, id, fmt.Errorf("%w: %v", device.ErrMalformedTelemetry, err))
	}
	st, err := res.Status(id)
	if err != nil {
		return model.DeviceStatus{}, device.NewTransportError(MethodGetMode, id, err)
	}
	return st, nil
}

// Apply switches the device to the decided mode.
func (c *Client) Apply(ctx context.Context, id string, d model.AllocationDecision) error {
	raw, err := c.call(ctx, id, MethodSetMode, setModeParams(d))
	if err != nil {
		return err
	}
	var res SetModeResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &res); err != nil {
			return device.NewTransportError(MethodSetMode, id, fmt.Errorf("%w: %v", device.ErrMalformedTelemetry, err))
		}
	}
	if res.SetResult != nil && !*res.SetResult {
		return device.NewTransportError(MethodSetMode, id, errors.New("device rejected mode change"))
	}
	c.log.Debugf("%s set to %s (%d W)", id, d.TargetMode, d.SetpointWatts)
	return nil
}

// call runs up to Attempts exchanges with exponentially growing pauses and
// returns the result member of the first valid reply. An RPC error reply is
// final.
func (c *Client) call(ctx context.Context, id, method string, params any) (json.RawMessage, error) {
	addr, err := c.resolve(id)
	if err != nil {
		return nil, device.NewTransportError(method, id, err)
	}
	req := Request{ID: int(c.nextID.Add(1)), Method: method, Params: params}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, device.NewTransportError(method, id, err)
	}

	attempt := 0
	op := func() (json.RawMessage, error) {
		attempt++
		resp, err := c.exchange(ctx, addr, req.ID, payload)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if resp.Error != nil {
			return nil, backoff.Permanent(resp.Error)
		}
		return resp.Result, nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.Debugf("%s %s attempt %d/%d failed: %v, retrying in %s", method, id, attempt, c.cfg.Attempts, err, wait)
	}
	res, err := backoff.RetryNotifyWithData(op, c.retryPolicy(ctx), notify)
	if err != nil {
		return nil, device.NewTransportError(method, id, err)
	}
	return res, nil
}

// retryPolicy spaces attempts starting at the retry delay and doubling up to
// four times that delay.
func (c *Client) retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.retryDelay()
	b.MaxInterval = 4 * c.cfg.retryDelay()
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.Attempts-1)), ctx)
}

// exchange sends the payload up to Retries+1 times on one socket and waits
// for a reply carrying the request id.
func (c *Client) exchange(ctx context.Context, addr *net.UDPAddr, reqID int, payload []byte) (Response, error) {
	if c.cfg.LocalPort != 0 {
		c.bindMu.Lock()
		defer c.bindMu.Unlock()
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: c.cfg.LocalPort})
	if err != nil {
		return Response{}, fmt.Errorf("bind: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	buf := make([]byte, 65535)
	for try := 0; try <= c.cfg.Retries; try++ {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		if _, err := conn.WriteToUDP(payload, addr); err != nil {
			return Response{}, fmt.Errorf("send: %w", err)
		}
		deadline := time.Now().Add(c.cfg.timeout())
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return Response{}, err
		}
		for {
			n, from, err := conn.ReadFromUDP(buf)
			if err != nil {
				if ctx.Err() != nil {
					return Response{}, ctx.Err()
				}
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					break
				}
				return Response{}, fmt.Errorf("receive: %w", err)
			}
			if !from.IP.Equal(addr.IP) {
				continue
			}
			var resp Response
			if err := json.Unmarshal(buf[:n], &resp); err != nil {
				c.log.Warnf("invalid reply from %s: %v", from, err)
				continue
			}
			if resp.ID != reqID {
				continue
			}
			return resp, nil
		}
	}
	return Response{}, ErrNoResponse
}

func (c *Client) resolve(id string) (*net.UDPAddr, error) {
	host, port, err := net.SplitHostPort(id)
	if err != nil {
		host, port = id, strconv.Itoa(c.cfg.Port)
	}
	return net.ResolveUDPAddr("udp4", net.JoinHostPort(host, port))
}
