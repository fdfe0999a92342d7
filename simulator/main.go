// Command simulator runs simulated Venus inverters and a P1 meter so the
// controller can be exercised without hardware.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/batteryctl/infra/logger"
	"github.com/kilianp07/batteryctl/simulator/venus"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, logger.New("simulator")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log logger.Logger) error {
	devices := make([]*venus.Device, 0, len(cfg.SoCs))
	defer func() {
		for _, d := range devices {
			_ = d.Close()
		}
	}()
	for i, soc := range cfg.SoCs {
		addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.BasePort+i))
		d, err := venus.Listen(addr, fmt.Sprintf("VenusE-%d", i+1), venus.NewBattery(soc))
		if err != nil {
			return fmt.Errorf("device %d: %w", i+1, err)
		}
		devices = append(devices, d)
		log.Infof("device %s listening on %s, soc %.0f%%", d.Name, d.Addr(), soc)
	}
	meter := venus.NewMeter(cfg.HouseLoad, devices...)

	g, ctx := errgroup.WithContext(ctx)
	for _, d := range devices {
		g.Go(func() error { return d.Serve(ctx) })
	}
	if cfg.MeterAddr != "" {
		srv := &http.Server{Addr: cfg.MeterAddr, Handler: meter, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Infof("meter listening on %s", cfg.MeterAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Close()
		})
	}
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Step)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				for _, d := range devices {
					d.Step(cfg.Step)
				}
				if cfg.Verbose {
					for _, d := range devices {
						mode, _ := d.Mode()
						log.Debugw("step", map[string]any{"device": d.Name, "mode": mode, "soc": d.Battery.Level(), "power": d.Power()})
					}
					log.Debugw("meter", map[string]any{"active_power_w": meter.ActivePower()})
				}
			}
		}
	})
	return g.Wait()
}
