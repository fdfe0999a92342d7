package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/batteryctl/config"
	"github.com/kilianp07/batteryctl/core/allocation"
	"github.com/kilianp07/batteryctl/core/model"
	"github.com/kilianp07/batteryctl/infra/marstek"
	"github.com/kilianp07/batteryctl/simulator/venus"
)

func startDevice(t *testing.T, soc float64) *venus.Device {
	t.Helper()
	dev, err := venus.Listen("127.0.0.1:0", "VenusE-app", venus.NewBattery(soc))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = dev.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		_ = dev.Close()
	})
	return dev
}

func startMeter(t *testing.T, body string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func testConfig(meter string, devices ...string) *config.Config {
	cfg := &config.Config{
		Allocation: allocation.DefaultConfig(),
		Marstek:    marstek.Config{TimeoutMillis: 200, Retries: 1, Attempts: 2, RetryDelayMillis: 20},
	}
	cfg.Control.Devices = devices
	cfg.Control.IntervalSeconds = 5
	cfg.Meter.Host = meter
	cfg.SetDefaults()
	return cfg
}

func TestServiceRunOnceAppliesDecisions(t *testing.T) {
	full := startDevice(t, 80)
	low := startDevice(t, 30)
	meter := startMeter(t, `{"active_power_w": 3000}`)

	svc, err := New(testConfig(meter, full.Addr(), low.Addr()))
	require.NoError(t, err)
	defer svc.Close()

	rep := svc.RunOnce(context.Background())
	require.False(t, rep.Skipped, rep.Error)
	assert.Equal(t, 3000.0, rep.NetGridPower)
	assert.Equal(t, full.Addr(), rep.Result.AutoID)
	assert.Empty(t, rep.Failed())

	d, ok := rep.Result.Decision(low.Addr())
	require.True(t, ok)
	assert.Equal(t, model.ModeManual, d.TargetMode)
	assert.Equal(t, -429, d.SetpointWatts)

	mode, power := low.Mode()
	assert.Equal(t, "Manual", mode)
	assert.Equal(t, -429, power, "manual power is sent with the charge-positive sign")
	mode, _ = full.Mode()
	assert.Equal(t, "Auto", mode)

	last, ok := svc.Loop.LastReport()
	require.True(t, ok)
	assert.Equal(t, rep.CycleID, last.CycleID)
}

func TestServiceRunOnceDryRun(t *testing.T) {
	dev := startDevice(t, 60)
	other := startDevice(t, 40)
	meter := startMeter(t, `{"active_power_w": 2500}`)

	cfg := testConfig(meter, dev.Addr(), other.Addr())
	cfg.Control.DryRun = true
	svc, err := New(cfg)
	require.NoError(t, err)
	defer svc.Close()

	rep := svc.RunOnce(context.Background())
	require.False(t, rep.Skipped)
	assert.True(t, rep.DryRun)
	for _, c := range rep.Commands {
		assert.False(t, c.Applied)
	}
	mode, _ := other.Mode()
	assert.Equal(t, "Auto", mode, "dry run sends nothing")
}

func TestServiceSnapshot(t *testing.T) {
	dev := startDevice(t, 55)
	dev.SetAutoPower(-400)
	meter := startMeter(t, `{"active_power_w": -120.5}`)

	svc, err := New(testConfig(meter, dev.Addr(), "127.0.0.1:1"))
	require.NoError(t, err)
	defer svc.Close()

	readings, net, err := svc.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, -120.5, net)
	require.Len(t, readings, 2)

	assert.NoError(t, readings[0].Err)
	assert.Equal(t, 55.0, readings[0].Status.ChargeLevel)
	assert.Equal(t, 400.0, readings[0].Status.EffectivePower)

	assert.Error(t, readings[1].Err)
	assert.Equal(t, model.ModeUnknown, readings[1].Status.Mode)
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	dev := startDevice(t, 50)
	meter := startMeter(t, `{"active_power_w": 0}`)

	svc, err := New(testConfig(meter, dev.Addr()))
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, ok := svc.Loop.LastReport()
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
}

func TestServiceRunOnceRecordsEventMetrics(t *testing.T) {
	dev := startDevice(t, 64)
	meter := startMeter(t, `{"active_power_w": 420}`)

	cfg := testConfig(meter, dev.Addr())
	cfg.Metrics.Prometheus.Enabled = true
	svc, err := New(cfg)
	require.NoError(t, err)
	defer svc.Close()

	rep := svc.RunOnce(context.Background())
	require.False(t, rep.Skipped, rep.Error)

	expected := fmt.Sprintf(`
# HELP batteryctl_device_soc_percent Last reported state of charge
# TYPE batteryctl_device_soc_percent gauge
batteryctl_device_soc_percent{device_id=%q} 64
# HELP batteryctl_grid_power_watts Last net grid power reading, positive when importing
# TYPE batteryctl_grid_power_watts gauge
batteryctl_grid_power_watts 420
`, dev.Addr())
	err = testutil.GatherAndCompare(svc.registry, strings.NewReader(expected),
		"batteryctl_device_soc_percent", "batteryctl_grid_power_watts")
	assert.NoError(t, err)
}
