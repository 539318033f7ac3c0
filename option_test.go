package credvault

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

func TestOptionDefaults(t *testing.T) {
	o := newOptions()

	if o.sweepConcurrency != DefaultSweepConcurrency {
		t.Errorf("expected sweep concurrency %d, got %d", DefaultSweepConcurrency, o.sweepConcurrency)
	}
	if o.operationTimeout != DefaultOperationTimeout {
		t.Errorf("expected operation timeout %v, got %v", DefaultOperationTimeout, o.operationTimeout)
	}
	if o.defaultSource != DefaultSource {
		t.Errorf("expected default source %q, got %q", DefaultSource, o.defaultSource)
	}
	if o.logger == nil {
		t.Error("expected a default logger")
	}
	if o.onEventPublishFailure == nil {
		t.Error("expected a default event failure handler")
	}
	if o.tracingEnabled || o.metricsEnabled {
		t.Error("expected telemetry disabled by default")
	}
}

func TestOptionsApply(t *testing.T) {
	logger := slog.Default().With("test", true)
	o := newOptions(
		WithLogger(logger),
		WithSweepConcurrency(3),
		WithOperationTimeout(5*time.Second),
		WithDefaultSource("import"),
		WithOTel(true),
		WithServiceName("vault-test"),
	)

	if o.logger != logger {
		t.Error("expected custom logger")
	}
	if o.sweepConcurrency != 3 {
		t.Errorf("expected sweep concurrency 3, got %d", o.sweepConcurrency)
	}
	if o.operationTimeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", o.operationTimeout)
	}
	if o.defaultSource != "import" {
		t.Errorf("expected source import, got %q", o.defaultSource)
	}
	if !o.tracingEnabled || !o.metricsEnabled {
		t.Error("expected WithOTel to enable both tracing and metrics")
	}
	if o.serviceName != "vault-test" {
		t.Errorf("expected service name vault-test, got %q", o.serviceName)
	}
}

func TestOptionsIgnoreInvalidValues(t *testing.T) {
	o := newOptions(
		WithLogger(nil),
		WithSweepConcurrency(0),
		WithSweepConcurrency(-5),
		WithOperationTimeout(0),
		WithDefaultSource(""),
	)

	if o.logger == nil {
		t.Error("nil logger should not override the default")
	}
	if o.sweepConcurrency != DefaultSweepConcurrency {
		t.Errorf("non-positive concurrency should keep default, got %d", o.sweepConcurrency)
	}
	if o.operationTimeout != DefaultOperationTimeout {
		t.Errorf("non-positive timeout should keep default, got %v", o.operationTimeout)
	}
	if o.defaultSource != DefaultSource {
		t.Errorf("empty source should keep default, got %q", o.defaultSource)
	}
}

func TestSafeEventPublishFailure_RecoversPanic(t *testing.T) {
	o := newOptions(WithEventPublishFailureHandler(func(string, error) {
		panic("handler exploded")
	}))

	// Must not propagate the panic.
	o.safeEventPublishFailure("RecordAdded", errors.New("publish failed"))
}
