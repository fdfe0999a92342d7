package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Config holds parameters for the simulator.
type Config struct {
	Host      string
	BasePort  int
	SoCs      []float64
	MeterAddr string
	HouseLoad float64
	Step      time.Duration
	Verbose   bool
}

// Validate checks the simulator parameters.
func (c *Config) Validate() error {
	if len(c.SoCs) == 0 {
		return fmt.Errorf("at least one device is required")
	}
	for _, s := range c.SoCs {
		if s < 0 || s > 100 {
			return fmt.Errorf("soc %v out of range", s)
		}
	}
	if c.BasePort <= 0 || c.BasePort+len(c.SoCs) > 65536 {
		return fmt.Errorf("base port %d out of range", c.BasePort)
	}
	if c.Step <= 0 {
		return fmt.Errorf("step must be positive")
	}
	return nil
}

func parseSoCs(s string) ([]float64, error) {
	var out []float64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return nil, fmt.Errorf("soc %q: %w", part, err)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseFlags(args []string) (Config, error) {
	var cfg Config
	var socs string
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)
	fs.StringVar(&cfg.Host, "host", "127.0.0.1", "address the devices bind to")
	fs.IntVar(&cfg.BasePort, "base-port", 30000, "UDP port of the first device, the others follow")
	fs.StringVar(&socs, "soc", "80,50,20", "comma separated initial charge levels, one per device")
	fs.StringVar(&cfg.MeterAddr, "meter", ":8089", "listen address of the simulated P1 meter, empty disables it")
	fs.Float64Var(&cfg.HouseLoad, "house-load", 1500, "consumption behind the meter in watts, negative for surplus")
	fs.DurationVar(&cfg.Step, "step", time.Second, "battery integration step")
	fs.BoolVar(&cfg.Verbose, "v", false, "log every step")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	var err error
	cfg.SoCs, err = parseSoCs(socs)
	return cfg, err
}
