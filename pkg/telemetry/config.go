package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for taxgraph runs.
type Config struct {
	// ServiceName identifies the process in traces and metrics.
	ServiceName string

	// ServiceVersion is the version of the binary.
	ServiceVersion string

	// Environment names the deployment (development, production).
	Environment string

	// Logging contains logging configuration.
	Logging LoggingConfig

	// Tracing contains tracing configuration.
	Tracing TracingConfig

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig

	// Events contains event publishing configuration.
	Events EventsConfig
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string

	// Format is console or json.
	Format string

	// Output is stdout, stderr or a file path.
	Output string

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool

	// EnableSampling samples high-frequency per-node logs.
	EnableSampling bool

	// SamplingInitial is the burst logged per second before sampling starts.
	SamplingInitial int

	// SamplingThereafter logs every Nth message after the burst.
	SamplingThereafter int

	// TimeFormat is unix, unixms, unixmicro or rfc3339.
	TimeFormat string
}

// TracingConfig configures span export.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	Enabled bool

	// Exporter is otlp, stdout or none.
	Exporter string

	// Endpoint is the OTLP collector address.
	Endpoint string

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64

	// MaxExportBatchSize is the maximum batch size for export.
	MaxExportBatchSize int

	// ExportTimeout is the timeout for a single export.
	ExportTimeout time.Duration

	// Headers are sent with every OTLP export.
	Headers map[string]string

	// Insecure disables TLS for the OTLP connection.
	Insecure bool
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected.
	Enabled bool

	// ListenAddress is the address of the metrics endpoint in watch mode.
	ListenAddress string

	// Path is the HTTP path for metrics.
	Path string

	// Namespace prefixes every metric name.
	Namespace string

	// DefaultHistogramBuckets are the latency buckets in seconds.
	DefaultHistogramBuckets []float64
}

// EventsConfig configures event publishing.
type EventsConfig struct {
	// Enabled controls whether events are published.
	Enabled bool

	// BufferSize is the capacity of the async queue.
	BufferSize int

	// FlushInterval is how often a partial batch is delivered.
	FlushInterval time.Duration

	// MaxBatchSize is the number of events delivered together.
	MaxBatchSize int

	// EnableAsync queues events instead of delivering them on Publish.
	EnableAsync bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "taxgraph",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:              "info",
			Format:             "console",
			Output:             "stderr",
			EnableCaller:       false,
			EnableSampling:     false,
			SamplingInitial:    100,
			SamplingThereafter: 100,
			TimeFormat:         "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "taxgraph",
			DefaultHistogramBuckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: time.Second,
			MaxBatchSize:  100,
			EnableAsync:   false,
		},
	}
}

// ProductionConfig returns a configuration for unattended batch runs.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.EnableSampling = true
	cfg.Logging.TimeFormat = "unix"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	cfg.Events.EnableAsync = true
	return cfg
}

// DevelopmentConfig returns a verbose configuration for local work.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	if _, ok := logLevels[c.Logging.Level]; !ok {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{
		"otlp": true, "stdout": true, "none": true,
	}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}

	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}
