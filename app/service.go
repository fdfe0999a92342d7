package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/batteryctl/api/status"
	"github.com/kilianp07/batteryctl/config"
	"github.com/kilianp07/batteryctl/core/allocation"
	"github.com/kilianp07/batteryctl/core/control"
	coremetrics "github.com/kilianp07/batteryctl/core/metrics"
	"github.com/kilianp07/batteryctl/core/model"
	"github.com/kilianp07/batteryctl/infra/homewizard"
	"github.com/kilianp07/batteryctl/infra/logger"
	"github.com/kilianp07/batteryctl/infra/marstek"
	"github.com/kilianp07/batteryctl/infra/metrics"
	"github.com/kilianp07/batteryctl/infra/mqtt"
	"github.com/kilianp07/batteryctl/internal/eventbus"
)

// Service wires the control loop to its devices, meter and outputs.
type Service struct {
	Loop  *control.Loop
	Fleet *marstek.Client
	Meter *homewizard.Client

	cfg      *config.Config
	bus      *eventbus.TypedBus[eventbus.Event]
	sink     coremetrics.MetricsSink
	registry *prometheus.Registry
	mqtt     *mqtt.PahoClient
	log      logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.Configure(cfg.Log)
	logg := logger.New("service")

	engine, err := allocation.NewEngine(cfg.Allocation)
	if err != nil {
		return nil, err
	}
	fleet, err := marstek.NewClient(cfg.Marstek, logger.New("marstek"))
	if err != nil {
		return nil, fmt.Errorf("marstek client: %w", err)
	}
	meter, err := homewizard.NewClient(cfg.Meter)
	if err != nil {
		return nil, fmt.Errorf("meter client: %w", err)
	}
	loop, err := control.NewLoop(cfg.Control, engine, fleet, meter, logger.New("control"))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink, err := metrics.NewSink(cfg.Metrics, reg)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	bus := eventbus.New()
	loop.SetMetrics(sink)
	loop.SetEventBus(bus)

	svc := &Service{
		Loop:     loop,
		Fleet:    fleet,
		Meter:    meter,
		cfg:      cfg,
		bus:      bus,
		sink:     sink,
		registry: reg,
		log:      logg,
	}

	if cfg.MQTT.Enabled {
		client, err := mqtt.NewPahoClient(cfg.MQTT)
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		loop.AddReporter(client)
		if cfg.MQTT.VehicleTopic != "" {
			loop.SetVehicleSource(client)
		}
		svc.mqtt = client
	}
	return svc, nil
}

// Run starts the loop and the enabled servers and blocks until the context
// is canceled or one of them fails.
func (s *Service) Run(ctx context.Context) error {
	stop := metrics.StartEventCollector(ctx, s.bus, s.sink)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Loop.Run(ctx) })
	if s.cfg.Metrics.Prometheus.Enabled {
		g.Go(func() error {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.Prometheus.Addr, s.registry); err != nil {
				return fmt.Errorf("prom server: %w", err)
			}
			return nil
		})
	}
	if s.cfg.API.Enabled {
		srv := status.NewServer(s.Loop, 3*s.Loop.Config().Interval(), s.cfg.API.HTTPLog)
		g.Go(func() error {
			return status.Serve(ctx, s.cfg.API.Addr, srv.RegisterRoutes(), logger.New("status-server"))
		})
	}
	return g.Wait()
}

// RunOnce executes a single cycle and returns its report once every event of
// the cycle has been recorded.
func (s *Service) RunOnce(ctx context.Context) control.CycleReport {
	stop := metrics.StartEventCollector(ctx, s.bus, s.sink)
	defer stop()
	return s.Loop.RunCycle(ctx)
}

// DeviceReading is the outcome of reading one device.
type DeviceReading struct {
	Status  model.DeviceStatus
	Err     error
	Latency time.Duration
}

// Snapshot reads the meter and every configured device without sending any
// command.
func (s *Service) Snapshot(ctx context.Context) ([]DeviceReading, float64, error) {
	devices := s.Loop.Config().Devices
	readings := make([]DeviceReading, len(devices))
	var (
		net      float64
		meterErr error
	)
	g := new(errgroup.Group)
	g.SetLimit(s.Loop.Config().MaxParallel)
	g.Go(func() error {
		net, meterErr = s.Meter.Read(ctx)
		return nil
	})
	for i, id := range devices {
		g.Go(func() error {
			start := time.Now()
			st, err := s.Fleet.Status(ctx, id)
			if err != nil {
				st = model.Unknown(id)
			}
			readings[i] = DeviceReading{Status: st, Err: err, Latency: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()
	return readings, net, meterErr
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if c, ok := s.sink.(interface{ Close() }); ok {
		c.Close()
	}
	s.bus.Close()
	return logger.Close()
}
