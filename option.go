package credvault

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/skedia/credvault/store"
)

// Default configuration values.
const (
	// DefaultSweepConcurrency is the number of liveness probes run at once
	// during a sweep. Probes hit an external provider, so this bounds the
	// outbound load per sweep.
	DefaultSweepConcurrency = 10

	// DefaultProbeTimeout caps one liveness probe during a sweep, so a stuck
	// probe cannot stall its batch indefinitely.
	DefaultProbeTimeout = 30 * time.Second

	// DefaultOperationTimeout caps each storage round trip made by a vault
	// operation.
	DefaultOperationTimeout = 30 * time.Second

	// DefaultSource labels records added without an explicit source.
	DefaultSource = "manual"
)

// options holds vault configuration.
type options struct {
	backend store.Backend
	logger  *slog.Logger

	sweepConcurrency int
	probeTimeout     time.Duration
	operationTimeout time.Duration
	defaultSource    string

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventErrorsFatal      bool                    // If true, event publishing failures cause operation to fail
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional, uses noop if nil)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
// The eventName is the name of the event (e.g., "RecordAdded"), and err is
// the publish error.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
// If the callback panics, the panic is logged and suppressed to prevent
// cascading failures.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:           slog.Default(),
		sweepConcurrency: DefaultSweepConcurrency,
		probeTimeout:     DefaultProbeTimeout,
		operationTimeout: DefaultOperationTimeout,
		defaultSource:    DefaultSource,
	}
	for _, opt := range opts {
		opt(o)
	}

	// Ensure event failure callback is always set
	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures a vault.
type Option func(*options)

// --- Core Options ---

// WithBackend sets the storage backend (required).
func WithBackend(b store.Backend) Option {
	return func(o *options) {
		if b != nil {
			o.backend = b
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOperationTimeout caps each storage round trip made by a vault
// operation. Default is 30 seconds.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.operationTimeout = d
		}
	}
}

// WithDefaultSource sets the source label for records added without an
// explicit source. Default is "manual".
func WithDefaultSource(source string) Option {
	return func(o *options) {
		if source != "" {
			o.defaultSource = source
		}
	}
}

// --- Sweep Options ---

// WithSweepConcurrency sets the number of liveness probes run at once during
// a sweep. Default is 10.
func WithSweepConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sweepConcurrency = n
		}
	}
}

// WithProbeTimeout caps each individual liveness probe during a sweep. A
// probe that exceeds it is counted as a transient failure. Default is 30
// seconds.
func WithProbeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.probeTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// When enabled, spans are created for all vault operations.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// When enabled, metrics are collected for all vault operations.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
// This is a convenience function equivalent to calling
// WithTracing(true) and WithMetrics(true).
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the service name for OpenTelemetry telemetry.
// Default is "credvault".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventErrorsFatal configures whether event publishing failures should
// cause the operation to fail. By default, event failures are logged but
// the operation succeeds (the record change is still persisted).
//
// Set to true if your application requires guaranteed event delivery,
// for example when events drive critical downstream processes.
// Set to false (default) for fire-and-forget event publishing.
func WithEventErrorsFatal(fatal bool) Option {
	return func(o *options) {
		o.eventErrorsFatal = fatal
	}
}

// WithEventTransport sets the event transport for publishing and subscribing.
// When provided, events are published via the given transport for reliable
// delivery. If not provided, a noop transport is used (events are silently
// dropped).
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient sets a Redis client for the event transport.
// When provided, events are published to Redis Streams for reliable delivery.
// If not provided, a noop transport is used (events are silently dropped).
//
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for event publishing
// failures. This callback is invoked whenever an event fails to publish (and
// eventErrorsFatal is false). Use this for custom logging, metrics, or
// alerting on event failures.
//
// By default, failures are logged using the configured logger.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
