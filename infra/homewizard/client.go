// Package homewizard reads the net grid power from a HomeWizard P1 meter
// through its local HTTP API.
package homewizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kilianp07/batteryctl/core/device"
)

const dataPath = "/api/v1/data"

// ErrMissingPower is returned when the reply has no active_power_w field.
var ErrMissingPower = errors.New("no active_power_w field in response")

// Config configures the meter client.
type Config struct {
	// Host is the meter address, with an optional port or scheme.
	Host           string `json:"host"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// SetDefaults fills zero values.
func (c *Config) SetDefaults() {
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 5
	}
}

// Validate checks that a host is configured.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("meter.host is required")
	}
	return nil
}

// Data is the subset of the /api/v1/data reply used here.
type Data struct {
	ActivePowerW *float64 `json:"active_power_w"`
	WifiSSID     string   `json:"wifi_ssid,omitempty"`
	MeterModel   string   `json:"meter_model,omitempty"`
}

// Client polls the meter.
type Client struct {
	url    string
	client *http.Client
}

// NewClient creates a meter client.
func NewClient(cfg Config) (*Client, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	base := cfg.Host
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &Client{
		url:    strings.TrimSuffix(base, "/") + dataPath,
		client: &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
	}, nil
}

// Read returns the active power in watts, positive when importing.
func (c *Client) Read(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, device.NewTransportError(http.MethodGet, c.url, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, device.NewTransportError(http.MethodGet, c.url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, device.NewTransportError(http.MethodGet, c.url, fmt.Errorf("unexpected status %s", resp.Status))
	}
	var data Data
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return 0, device.NewTransportError(http.MethodGet, c.url, fmt.Errorf("%w: %v", device.ErrMalformedTelemetry, err))
	}
	if data.ActivePowerW == nil {
		return 0, device.NewTransportError(http.MethodGet, c.url, fmt.Errorf("%w: %w", device.ErrMalformedTelemetry, ErrMissingPower))
	}
	return *data.ActivePowerW, nil
}
