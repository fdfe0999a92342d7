package homewizard

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/batteryctl/core/device"
)

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/data", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientRead(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"wifi_ssid":"home","meter_model":"ISKRA 2M550T-101","active_power_w":-1543.0}`)
	c, err := NewClient(Config{Host: srv.URL})
	require.NoError(t, err)

	w, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -1543.0, w)
}

func TestClientReadMissingField(t *testing.T) {
	srv := newServer(t, http.StatusOK, `{"wifi_ssid":"home"}`)
	c, err := NewClient(Config{Host: srv.URL})
	require.NoError(t, err)

	_, err = c.Read(context.Background())
	require.Error(t, err)
	assert.True(t, device.IsTransport(err))
	assert.ErrorIs(t, err, ErrMissingPower)
	assert.ErrorIs(t, err, device.ErrMalformedTelemetry)
}

func TestClientReadHTTPError(t *testing.T) {
	srv := newServer(t, http.StatusServiceUnavailable, "")
	c, err := NewClient(Config{Host: srv.URL})
	require.NoError(t, err)

	_, err = c.Read(context.Background())
	assert.True(t, device.IsTransport(err))
}

func TestClientReadUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := srv.Listener.Addr().String()
	srv.Close()

	c, err := NewClient(Config{Host: host, TimeoutSeconds: 1})
	require.NoError(t, err)
	_, err = c.Read(context.Background())
	assert.True(t, device.IsTransport(err))
}

func TestNewClientRequiresHost(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}
