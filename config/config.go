// Package config loads the batteryctl configuration from a file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/batteryctl/api/status"
	"github.com/kilianp07/batteryctl/core/allocation"
	"github.com/kilianp07/batteryctl/core/control"
	"github.com/kilianp07/batteryctl/core/metrics"
	"github.com/kilianp07/batteryctl/infra/homewizard"
	"github.com/kilianp07/batteryctl/infra/logger"
	"github.com/kilianp07/batteryctl/infra/marstek"
	"github.com/kilianp07/batteryctl/infra/mqtt"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore, e.g. BATTERYCTL_METER__HOST.
const EnvPrefix = "BATTERYCTL_"

type Config struct {
	Control    control.Config    `json:"control"`
	Allocation allocation.Config `json:"allocation"`
	Marstek    marstek.Config    `json:"marstek"`
	Meter      homewizard.Config `json:"meter"`
	MQTT       mqtt.Config       `json:"mqtt"`
	Metrics    metrics.Config    `json:"metrics"`
	Log        logger.Config     `json:"log"`
	API        status.Config     `json:"api"`
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result. An empty path loads the environment only. A .env
// file next to the configuration file is loaded first when present.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := loadDotEnv(path); err != nil {
		return nil, err
	}
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	cfg := Config{Allocation: allocation.DefaultConfig()}
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
}

func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

func loadDotEnv(path string) error {
	dir := "."
	if path != "" {
		dir = filepath.Dir(path)
	}
	err := godotenv.Load(filepath.Join(dir, ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Control.SetDefaults()
	c.Marstek.SetDefaults()
	c.Meter.SetDefaults()
	c.MQTT.SetDefaults()
	c.Metrics.SetDefaults()
	c.API.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	checks := []struct {
		section string
		err     error
	}{
		{"control", c.Control.Validate()},
		{"allocation", c.Allocation.Validate()},
		{"marstek", c.Marstek.Validate()},
		{"meter", c.Meter.Validate()},
		{"mqtt", c.MQTT.Validate()},
		{"metrics", c.Metrics.Validate()},
		{"log", c.Log.Validate()},
	}
	for _, ch := range checks {
		if ch.err != nil {
			return fmt.Errorf("%s: %w", ch.section, ch.err)
		}
	}
	return nil
}
