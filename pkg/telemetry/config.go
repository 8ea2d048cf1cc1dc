package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config groups the telemetry settings of the service.
type Config struct {
	ServiceName    string `yaml:"service_name" validate:"required"`
	ServiceVersion string `yaml:"service_version" validate:"required"`
	Environment    string `yaml:"environment"`

	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics"`
	Events  EventsConfig  `yaml:"events"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=trace debug info warn warning error"`
	Format string `yaml:"format" validate:"oneof=console json"`

	// Output is stdout, stderr or a file path.
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`

	// TimeFormat is rfc3339 or unix.
	TimeFormat string `yaml:"time_format" validate:"omitempty,oneof=rfc3339 unix"`
}

// TracingConfig selects the span exporter. With Enabled false spans are
// still created so trace ids appear in logs, but nothing is exported.
type TracingConfig struct {
	Enabled  bool              `yaml:"enabled"`
	Exporter string            `yaml:"exporter" validate:"oneof=otlp stdout none"`
	Endpoint string            `yaml:"endpoint"`
	Headers  map[string]string `yaml:"headers"`
	Insecure bool              `yaml:"insecure"`

	SamplingRate  float64       `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// ListenAddress serves metrics on a dedicated listener when set. The API
	// server exposes them on /metrics either way.
	ListenAddress string `yaml:"listen_address"`
	Path          string `yaml:"path"`
	Namespace     string `yaml:"namespace"`

	// Buckets for the execution and provider latency histograms, in seconds.
	Buckets []float64 `yaml:"histogram_buckets"`
}

// EventsConfig configures the in-process lifecycle event bus.
type EventsConfig struct {
	Enabled     bool `yaml:"enabled"`
	EnableAsync bool `yaml:"async"`
	BufferSize  int  `yaml:"buffer_size" validate:"required_if=Enabled true EnableAsync true,gte=0"`
}

// DefaultConfig returns the settings used when the config file is silent.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "workorderd",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "workorders",
			// Provisioning runs take minutes, so the tail is long.
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		Events: EventsConfig{
			Enabled:     true,
			EnableAsync: true,
			BufferSize:  1000,
		},
	}
}

// TestConfig is quiet and delivers events synchronously.
func TestConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "test"
	cfg.Logging.Level = "error"
	cfg.Logging.Output = "stderr"
	cfg.Events.EnableAsync = false
	return cfg
}

var validate = validator.New()

// Validate checks field constraints and exporter requirements.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s=%v failed on %q", fe.Namespace(), fe.Value(), fe.Tag()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return errors.New("otlp exporter requires an endpoint")
	}
	return nil
}
