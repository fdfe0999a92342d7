package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/batteryctl/core/metrics"
	"github.com/kilianp07/batteryctl/core/model"
)

// PromSink records control cycles in Prometheus metrics.
type PromSink struct {
	cycles   *prometheus.CounterVec
	latency  prometheus.Histogram
	setpoint *prometheus.GaugeVec
	auto     *prometheus.GaugeVec
	commands *prometheus.CounterVec
	unknown  *prometheus.CounterVec
	soc      *prometheus.GaugeVec
	grid     prometheus.Gauge
}

// NewPromSink registers the metrics on the default Prometheus registerer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer. Collectors
// already registered by a previous sink are reused.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.cycles, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batteryctl_cycles_total",
		Help: "Control cycles by outcome",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "batteryctl_cycle_duration_seconds",
		Help:    "Duration of a control cycle",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})); err != nil {
		return nil, err
	}
	if s.setpoint, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "batteryctl_device_setpoint_watts",
		Help: "Manual setpoint decided for a device, zero in Auto",
	}, []string{"device_id"})); err != nil {
		return nil, err
	}
	if s.auto, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "batteryctl_device_auto",
		Help: "1 when the device was chosen as Auto",
	}, []string{"device_id"})); err != nil {
		return nil, err
	}
	if s.commands, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batteryctl_commands_total",
		Help: "Commands sent to devices by outcome",
	}, []string{"device_id", "applied"})); err != nil {
		return nil, err
	}
	if s.unknown, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "batteryctl_device_unknown_total",
		Help: "Status reads that left a device Unknown",
	}, []string{"device_id"})); err != nil {
		return nil, err
	}
	if s.soc, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "batteryctl_device_soc_percent",
		Help: "Last reported state of charge",
	}, []string{"device_id"})); err != nil {
		return nil, err
	}
	if s.grid, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "batteryctl_grid_power_watts",
		Help: "Last net grid power reading, positive when importing",
	})); err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordCycle counts the cycle and observes its duration.
func (s *PromSink) RecordCycle(rec coremetrics.CycleRecord) error {
	outcome := "applied"
	switch {
	case rec.Skipped:
		outcome = "skipped_" + rec.SkipReason
	case rec.DryRun:
		outcome = "dry_run"
	}
	s.cycles.WithLabelValues(outcome).Inc()
	s.latency.Observe(rec.Duration.Seconds())
	return nil
}

// RecordDecisions updates the per-device gauges and command counters.
func (s *PromSink) RecordDecisions(recs []coremetrics.DecisionRecord) error {
	for _, r := range recs {
		auto := 0.0
		if r.Mode == model.ModeAuto {
			auto = 1
		}
		s.auto.WithLabelValues(r.DeviceID).Set(auto)
		s.setpoint.WithLabelValues(r.DeviceID).Set(float64(r.SetpointWatts))
		if r.Applied || r.Error != "" {
			s.commands.WithLabelValues(r.DeviceID, strconv.FormatBool(r.Applied)).Inc()
		}
	}
	return nil
}

// RecordDeviceState tracks charge levels and Unknown devices.
func (s *PromSink) RecordDeviceState(ev coremetrics.DeviceStateEvent) error {
	if !ev.Status.Known() {
		s.unknown.WithLabelValues(ev.Status.ID).Inc()
		return nil
	}
	s.soc.WithLabelValues(ev.Status.ID).Set(ev.Status.ChargeLevel)
	return nil
}

// RecordMeter sets the grid power gauge.
func (s *PromSink) RecordMeter(ev coremetrics.MeterEvent) error {
	if ev.Error == "" {
		s.grid.Set(ev.PowerWatt)
	}
	return nil
}
