// internal/observability/config.go
package observability

import (
	"fmt"
	"io"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// Config selects where channel telemetry is exported.
type Config struct {
	Exporter string // none, stdout or otlp
	Endpoint string // OTLP collector address (host:port)

	ServiceName    string
	ServiceVersion string

	// SampleRate is the fraction of root spans kept, 0.0 to 1.0.
	SampleRate float64

	MetricsEnabled bool
	TracesEnabled  bool

	// Writer receives stdout exporter output. Nil means stderr, keeping
	// stdout for event output.
	Writer io.Writer
}

// NewConfig returns default configuration: telemetry off.
func NewConfig() *Config {
	return &Config{
		Exporter:       ExporterNone,
		Endpoint:       "localhost:4317",
		ServiceName:    "sbrealtime",
		ServiceVersion: "dev",
		SampleRate:     0.1,
	}
}

// ShouldEnable reports whether any exporter is configured.
func (c *Config) ShouldEnable() bool {
	return c.Exporter != ExporterNone
}

// Validate checks the exporter name and sample rate.
func (c *Config) Validate() error {
	switch c.Exporter {
	case ExporterNone, ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("unknown exporter: %s", c.Exporter)
	}
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("sample rate %v out of range [0, 1]", c.SampleRate)
	}
	if c.Exporter == ExporterOTLP && c.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}
	return nil
}
