package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/batteryctl/core/metrics"
	"github.com/kilianp07/batteryctl/infra/logger"
)

// InfluxSink writes cycle data to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg coremetrics.InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a NopSink
// if the health check fails.
func NewInfluxSinkWithFallback(cfg coremetrics.InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }

// RecordCycle writes one control_cycle point.
func (s *InfluxSink) RecordCycle(rec coremetrics.CycleRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("control_cycle").
		AddTag("cycle_id", rec.CycleID).
		AddTag("direction", rec.Direction).
		AddTag("skipped", strconv.FormatBool(rec.Skipped)).
		AddTag("dry_run", strconv.FormatBool(rec.DryRun)).
		AddField("net_grid_power_w", round3(rec.NetGridPower)).
		AddField("demand_w", round3(rec.DemandWatts)).
		AddField("devices", rec.Devices).
		AddField("unknown", rec.Unknown).
		AddField("duration_ms", rec.Duration.Milliseconds()).
		SetTime(rec.Time)
	if rec.AutoID != "" {
		p = p.AddTag("auto_id", rec.AutoID)
	}
	if rec.SkipReason != "" {
		p = p.AddField("skip_reason", rec.SkipReason)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDecisions writes one device_decision point per decision.
func (s *InfluxSink) RecordDecisions(recs []coremetrics.DecisionRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(recs))
	for _, r := range recs {
		points = append(points, write.NewPointWithMeasurement("device_decision").
			AddTag("device_id", r.DeviceID).
			AddTag("mode", r.Mode.String()).
			AddTag("applied", strconv.FormatBool(r.Applied)).
			AddTag("cycle_id", r.CycleID).
			AddField("setpoint_w", r.SetpointWatts).
			AddField("latency_ms", round3(r.Latency.Seconds()*1000)).
			AddField("errors", r.Error).
			SetTime(r.Time))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordDeviceState writes a device snapshot.
func (s *InfluxSink) RecordDeviceState(ev coremetrics.DeviceStateEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st := ev.Status
	p := write.NewPointWithMeasurement("device_state").
		AddTag("device_id", st.ID).
		AddTag("mode", st.Mode.String()).
		AddField("soc", round3(st.ChargeLevel)).
		AddField("power_w", round3(st.EffectivePower)).
		SetTime(ev.Time)
	if ev.Error != "" {
		p = p.AddField("errors", ev.Error)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordMeter writes a grid reading.
func (s *InfluxSink) RecordMeter(ev coremetrics.MeterEvent) error {
	if ev.Error != "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("grid_meter").
		AddField("power_w", round3(ev.PowerWatt)).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
