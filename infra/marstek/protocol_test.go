package marstek

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/batteryctl/core/device"
	"github.com/kilianp07/batteryctl/core/model"
)

func decodeResult(t *testing.T, raw string) ModeResult {
	t.Helper()
	var r ModeResult
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	return r
}

func TestModeResultStatus(t *testing.T) {
	cases := []struct {
		name  string
		raw   string
		mode  model.Mode
		power float64
	}{
		{"offgrid wins", `{"id":0,"mode":"Manual","ongrid_power":300,"offgrid_power":-450,"bat_soc":55}`, model.ModeManual, 450},
		{"ongrid fallback", `{"id":0,"mode":"Auto","ongrid_power":300,"offgrid_power":0,"bat_soc":55}`, model.ModeAuto, -300},
		{"insane values ignored", `{"id":0,"mode":"Auto","ongrid_power":65535,"offgrid_power":-20000,"bat_soc":55}`, model.ModeAuto, 0},
		{"other mode is manual", `{"id":0,"mode":"AI","bat_soc":55}`, model.ModeManual, 0},
		{"missing mode is auto", `{"id":0,"bat_soc":55}`, model.ModeAuto, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			st, err := decodeResult(t, c.raw).Status("dev")
			require.NoError(t, err)
			assert.Equal(t, c.mode, st.Mode)
			assert.Equal(t, c.power, st.EffectivePower)
			assert.Equal(t, 55.0, st.ChargeLevel)
		})
	}
}

func TestModeResultStatusMalformed(t *testing.T) {
	_, err := decodeResult(t, `{"id":0,"mode":"Auto","ongrid_power":0}`).Status("dev")
	assert.ErrorIs(t, err, device.ErrMalformedTelemetry)

	_, err = decodeResult(t, `{"id":0,"mode":"Auto","bat_soc":140}`).Status("dev")
	assert.ErrorIs(t, err, device.ErrMalformedTelemetry)
}

func TestSetModePayloads(t *testing.T) {
	b, err := json.Marshal(Request{ID: 1, Method: MethodSetMode, Params: setModeParams(model.AllocationDecision{TargetMode: model.ModeAuto})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"method":"ES.SetMode","params":{"id":0,"config":{"mode":"Auto","auto_cfg":{"enable":1}}}}`, string(b))

	b, err = json.Marshal(Request{ID: 2, Method: MethodSetMode, Params: setModeParams(model.AllocationDecision{TargetMode: model.ModeManual, SetpointWatts: 700})})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":2,"method":"ES.SetMode","params":{"id":0,"config":{"mode":"Manual","manual_cfg":{"time_num":1,"start_time":"00:00","end_time":"23:59","week_set":127,"power":700,"enable":1}}}}`, string(b))

	b, err = json.Marshal(Request{ID: 3, Method: MethodGetMode, Params: DeviceParams{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":3,"method":"ES.GetMode","params":{"id":0}}`, string(b))
}

func TestSetModeParams_ManualSign(t *testing.T) {
	cases := []struct {
		name     string
		setpoint int
		want     int
	}{
		{"discharge", -1000, -1000},
		{"charge", 800, 800},
		{"idle", 0, 0},
		{"clamped discharge", -9000, -model.SetpointLimitWatts},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := setModeParams(model.AllocationDecision{TargetMode: model.ModeManual, SetpointWatts: c.setpoint})
			require.NotNil(t, p.Config.ManualCfg)
			assert.Equal(t, c.want, p.Config.ManualCfg.Power)
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, DefaultPort, c.Port)
	assert.Equal(t, 2, c.Retries)
	assert.Equal(t, 3, c.Attempts)
	assert.NoError(t, c.Validate())

	c = Config{Retries: -1}
	c.SetDefaults()
	assert.Zero(t, c.Retries)

	assert.Error(t, Config{Port: 70000}.Validate())
}
