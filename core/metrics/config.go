package metrics

import "fmt"

// PrometheusConfig configures the Prometheus sink and its HTTP endpoint.
type PrometheusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// Config defines settings for metrics sinks.
type Config struct {
	Prometheus PrometheusConfig `json:"prometheus"`
	Influx     InfluxConfig     `json:"influx"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Prometheus.Addr == "" {
		c.Prometheus.Addr = ":9100"
	}
}

// Validate checks that enabled sinks are usable.
func (c Config) Validate() error {
	if c.Influx.Enabled && (c.Influx.URL == "" || c.Influx.Bucket == "") {
		return fmt.Errorf("metrics.influx: url and bucket are required")
	}
	return nil
}
