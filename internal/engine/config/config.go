package config

import (
	"errors"
	"fmt"
)

// Defaults applied by WithDefaults for zero-valued fields.
const (
	DefaultServiceName        = "stageflow"
	DefaultMetricsPort        = 8080
	DefaultInspectorPort      = 8081
	DefaultNotificationBuffer = 256

	DefaultStageNotificationTopic   = "stageflow.notifications.stages"
	DefaultFailureNotificationTopic = "stageflow.notifications.failures"
)

// Config groups the engine settings. Flow behavior itself is configured per
// flow at registration time; this covers the process-wide concerns.
type Config struct {
	// ServiceName labels metrics, traces and notifications emitted by the
	// engine. Defaults to "stageflow".
	ServiceName string

	// StatisticsEnabled turns on per-flow counters. Individual flows can
	// still override this at registration time.
	StatisticsEnabled bool

	// Metrics configuration.
	MetricsEnabled bool
	// MetricsPort is the port where Prometheus metrics will be exposed.
	MetricsPort int

	// Inspector configuration.
	InspectorEnabled bool
	// InspectorPort is the port where the inspector API will be exposed.
	// Defaults to 8081.
	InspectorPort int
	// InspectorCORSAllowedOrigins specifies allowed origins for CORS. Use "*"
	// for development or specific origins like "https://example.com" for
	// production. Empty disables CORS headers.
	InspectorCORSAllowedOrigins []string

	// TracingEnabled attaches an OpenTelemetry span to every stage
	// invocation.
	TracingEnabled bool

	// Notification fan-out tuning. Zero values fall back to defaults.
	//
	// NotificationBuffer bounds the dispatch queue; when the queue is full
	// further notifications are dropped rather than blocking event
	// processing.
	NotificationBuffer int
	// StageNotificationTopic and FailureNotificationTopic name the broker
	// topics used by publisher-backed notification sinks.
	StageNotificationTopic   string
	FailureNotificationTopic string
}

// WithDefaults returns a copy of the config with zero-valued fields replaced
// by their defaults.
func (c Config) WithDefaults() Config {
	out := c
	if out.ServiceName == "" {
		out.ServiceName = DefaultServiceName
	}
	if out.MetricsPort == 0 {
		out.MetricsPort = DefaultMetricsPort
	}
	if out.InspectorPort == 0 {
		out.InspectorPort = DefaultInspectorPort
	}
	if out.NotificationBuffer == 0 {
		out.NotificationBuffer = DefaultNotificationBuffer
	}
	if out.StageNotificationTopic == "" {
		out.StageNotificationTopic = DefaultStageNotificationTopic
	}
	if out.FailureNotificationTopic == "" {
		out.FailureNotificationTopic = DefaultFailureNotificationTopic
	}
	return out
}

// Validate checks that the configuration values are usable. Returns an error
// describing every invalid field.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validatePorts()...)
	errs = append(errs, c.validateNotifications()...)

	return errors.Join(errs...)
}

func (c *Config) validatePorts() []error {
	var errs []error
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("metrics: invalid port %d", c.MetricsPort))
	}
	if c.InspectorPort < 0 || c.InspectorPort > 65535 {
		errs = append(errs, fmt.Errorf("inspector: invalid port %d", c.InspectorPort))
	}
	if c.MetricsEnabled && c.InspectorEnabled && c.MetricsPort != 0 && c.MetricsPort == c.InspectorPort {
		errs = append(errs, fmt.Errorf("metrics and inspector cannot share port %d", c.MetricsPort))
	}
	return errs
}

func (c *Config) validateNotifications() []error {
	var errs []error
	if c.NotificationBuffer < 0 {
		errs = append(errs, errors.New("notifications: buffer cannot be negative"))
	}
	return errs
}

// ValidateConfig is a convenience function to validate a config pointer.
// Returns nil if the config is valid.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
