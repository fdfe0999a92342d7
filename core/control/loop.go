package control

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/batteryctl/core/allocation"
	"github.com/kilianp07/batteryctl/core/device"
	"github.com/kilianp07/batteryctl/core/events"
	"github.com/kilianp07/batteryctl/core/logger"
	"github.com/kilianp07/batteryctl/core/metrics"
	"github.com/kilianp07/batteryctl/core/model"
	"github.com/kilianp07/batteryctl/internal/eventbus"
)

// Reporter receives every finished cycle report.
type Reporter interface {
	Report(ctx context.Context, rep CycleReport) error
}

// VehicleSource exposes the latest known vehicle state. A nil state means no
// vehicle information is available.
type VehicleSource interface {
	VehicleState() *model.VehicleState
}

// Loop runs the read, decide, apply cycle against a device fleet.
type Loop struct {
	cfg       Config
	engine    *allocation.Engine
	fleet     device.Fleet
	meter     device.MeterReader
	vehicle   VehicleSource
	sink      metrics.MetricsSink
	bus       eventbus.EventBus
	reporters []Reporter
	log       logger.Logger
	now       func() time.Time

	mu       sync.Mutex
	prevAuto string
	last     *CycleReport
}

// NewLoop creates a control loop. The config is defaulted and validated.
func NewLoop(cfg Config, engine *allocation.Engine, fleet device.Fleet, meter device.MeterReader, log logger.Logger) (*Loop, error) {
	if engine == nil || fleet == nil || meter == nil {
		return nil, fmt.Errorf("control: nil parameter provided to NewLoop")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loop{
		cfg:    cfg,
		engine: engine,
		fleet:  fleet,
		meter:  meter,
		sink:   metrics.NopSink{},
		log:    logger.OrNop(log),
		now:    time.Now,
	}, nil
}

// SetMetrics configures the sink receiving cycle records.
func (l *Loop) SetMetrics(sink metrics.MetricsSink) {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	l.sink = sink
}

// SetEventBus configures the bus on which cycle events are published.
func (l *Loop) SetEventBus(bus eventbus.EventBus) { l.bus = bus }

// SetVehicleSource configures the optional vehicle state provider.
func (l *Loop) SetVehicleSource(v VehicleSource) { l.vehicle = v }

// AddReporter registers a reporter called after each cycle.
func (l *Loop) AddReporter(r Reporter) {
	if r != nil {
		l.reporters = append(l.reporters, r)
	}
}

// Config returns the effective loop configuration.
func (l *Loop) Config() Config { return l.cfg }

// LastReport returns the report of the most recent cycle.
func (l *Loop) LastReport() (CycleReport, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.last == nil {
		return CycleReport{}, false
	}
	return *l.last, true
}

// PreviousAutoID returns the Auto device chosen by the last applied cycle.
func (l *Loop) PreviousAutoID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prevAuto
}

// Run executes a cycle immediately and then once per interval until the
// context is canceled. Cycles never overlap: a tick arriving while a cycle
// is in flight is dropped by the ticker.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Infof("control loop started: %d devices, interval %s, dry-run %t", len(l.cfg.Devices), l.cfg.Interval(), l.cfg.DryRun)
	l.RunCycle(ctx)
	ticker := time.NewTicker(l.cfg.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			l.log.Infof("control loop stopped")
			return nil
		case <-ticker.C:
			l.RunCycle(ctx)
		}
	}
}

// RunCycle performs one complete cycle and returns its report.
func (l *Loop) RunCycle(parent context.Context) CycleReport {
	start := l.now()
	ctx, cancel := context.WithTimeout(parent, l.cfg.CycleTimeout())
	defer cancel()

	rep := CycleReport{CycleID: uuid.NewString(), Started: start, DryRun: l.cfg.DryRun}
	prev := l.PreviousAutoID()

	net, meterErr := l.readAll(ctx, &rep)
	if meterErr != nil {
		l.log.Errorf("cycle %s skipped: meter read failed: %v", rep.CycleID, meterErr)
		return l.finish(parent, rep, SkipMeter, meterErr)
	}
	rep.NetGridPower = net

	hints := allocation.Context{PreviousAutoID: prev, Now: start}
	if l.vehicle != nil {
		hints.Vehicle = l.vehicle.VehicleState()
	}
	res, err := l.engine.ComputeAllocation(rep.Statuses, net, hints)
	if err != nil {
		l.log.Errorf("cycle %s skipped: %v", rep.CycleID, err)
		return l.finish(parent, rep, SkipMalformed, err)
	}
	rep.Result = res
	l.log.Debugw("allocation computed", map[string]any{
		"cycle_id":  rep.CycleID,
		"net_watts": net,
		"demand":    res.DemandWatts,
		"direction": res.Direction.String(),
		"auto":      res.AutoID,
		"excluded":  res.Excluded,
	})

	rep.Commands = l.apply(ctx, res.Decisions)
	if failed := rep.Failed(); len(failed) > 0 {
		l.log.Warnf("cycle %s: %d of %d commands failed", rep.CycleID, len(failed), len(rep.Commands))
	}

	l.mu.Lock()
	l.prevAuto = res.AutoID
	l.mu.Unlock()
	return l.finish(parent, rep, "", nil)
}

// readAll reads the meter and every device status concurrently and joins
// before returning. Failed status reads degrade the device to Unknown.
func (l *Loop) readAll(ctx context.Context, rep *CycleReport) (float64, error) {
	var (
		net      float64
		meterErr error
	)
	statuses := make([]model.DeviceStatus, len(l.cfg.Devices))

	g := new(errgroup.Group)
	g.SetLimit(l.cfg.MaxParallel)
	g.Go(func() error {
		net, meterErr = l.meter.Read(ctx)
		if l.bus != nil {
			l.bus.Publish(events.MeterEvent{CycleID: rep.CycleID, PowerWatt: net, Err: meterErr})
		}
		return nil
	})
	for i, id := range l.cfg.Devices {
		g.Go(func() error {
			statuses[i] = l.readStatus(ctx, rep.CycleID, id)
			return nil
		})
	}
	_ = g.Wait()

	rep.Statuses = statuses
	return net, meterErr
}

func (l *Loop) readStatus(ctx context.Context, cycleID, id string) model.DeviceStatus {
	start := time.Now()
	st, err := l.fleet.Status(ctx, id)
	if err != nil {
		l.log.Warnf("device %s unavailable: %v", id, err)
		st = model.Unknown(id)
	}
	st.ID = id
	if l.bus != nil {
		l.bus.Publish(events.StatusEvent{CycleID: cycleID, Status: st, Err: err, Latency: time.Since(start)})
	}
	return st
}

// apply sends the decisions concurrently. Failures are recorded per device
// and never change the decision set.
func (l *Loop) apply(ctx context.Context, decisions []model.AllocationDecision) []CommandOutcome {
	outcomes := make([]CommandOutcome, len(decisions))
	var wg sync.WaitGroup
	for i, d := range decisions {
		outcomes[i] = CommandOutcome{DeviceID: d.DeviceID, Mode: d.TargetMode, SetpointWatts: d.SetpointWatts}
		if l.cfg.DryRun {
			continue
		}
		wg.Add(1)
		go func(i int, d model.AllocationDecision) {
			defer wg.Done()
			start := time.Now()
			err := l.fleet.Apply(ctx, d.DeviceID, d)
			outcomes[i].LatencyMillis = time.Since(start).Milliseconds()
			if err != nil {
				l.log.Errorf("apply %s %s: %v", d.DeviceID, d.TargetMode, err)
				outcomes[i].Error = err.Error()
				return
			}
			outcomes[i].Applied = true
		}(i, d)
	}
	wg.Wait()
	return outcomes
}

func (l *Loop) finish(ctx context.Context, rep CycleReport, skip string, err error) CycleReport {
	rep.DurationMillis = l.now().Sub(rep.Started).Milliseconds()
	if skip != "" {
		rep.Skipped = true
		rep.SkipReason = skip
	}
	if err != nil {
		rep.Error = err.Error()
	}

	l.mu.Lock()
	stored := rep
	l.last = &stored
	l.mu.Unlock()

	cycle, decisions := l.records(rep)
	if err := l.sink.RecordCycle(cycle); err != nil {
		l.log.Errorf("metrics error: %v", err)
	}
	if dr, ok := l.sink.(metrics.DecisionRecorder); ok && len(decisions) > 0 {
		if err := dr.RecordDecisions(decisions); err != nil {
			l.log.Errorf("decision metrics error: %v", err)
		}
	}
	if l.bus != nil {
		l.bus.Publish(events.CycleEvent{Cycle: cycle, Decisions: decisions})
	}
	for _, r := range l.reporters {
		if err := r.Report(ctx, rep); err != nil && !errors.Is(err, context.Canceled) {
			l.log.Warnf("report cycle %s: %v", rep.CycleID, err)
		}
	}
	if !rep.Skipped {
		l.log.Infof("cycle %s: net %.0f W, auto %q, %d decisions, %d unknown", rep.CycleID, rep.NetGridPower, rep.Result.AutoID, len(rep.Result.Decisions), rep.Unknown())
	}
	return rep
}

func (l *Loop) records(rep CycleReport) (metrics.CycleRecord, []metrics.DecisionRecord) {
	cycle := metrics.CycleRecord{
		CycleID:      rep.CycleID,
		Time:         rep.Started,
		Duration:     time.Duration(rep.DurationMillis) * time.Millisecond,
		NetGridPower: rep.NetGridPower,
		DemandWatts:  rep.Result.DemandWatts,
		Direction:    rep.Result.Direction.String(),
		AutoID:       rep.Result.AutoID,
		Devices:      len(rep.Statuses),
		Unknown:      rep.Unknown(),
		Skipped:      rep.Skipped,
		SkipReason:   rep.SkipReason,
		DryRun:       rep.DryRun,
	}
	decisions := make([]metrics.DecisionRecord, 0, len(rep.Commands))
	for _, c := range rep.Commands {
		decisions = append(decisions, metrics.DecisionRecord{
			CycleID:       rep.CycleID,
			DeviceID:      c.DeviceID,
			Mode:          c.Mode,
			SetpointWatts: c.SetpointWatts,
			Applied:       c.Applied,
			Error:         c.Error,
			Latency:       time.Duration(c.LatencyMillis) * time.Millisecond,
			Time:          rep.Started,
		})
	}
	return cycle, decisions
}
