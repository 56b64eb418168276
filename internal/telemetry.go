package internal

import (
	"context"
	"sync"
)

// Lightweight telemetry hook layer used by the scaler. By default the emitter
// is a no-op; service wiring registers a Prometheus-backed emitter and tests
// register a recording stub.

// Metric names.
const (
	MetricScalingEvents   = "scaling_events_total"
	MetricScalingNodes    = "scaling_nodes_total"
	MetricFleetSize       = "fleet_workers"
	MetricProviderLatency = "provider_call_latency_ms"
)

// TelemetryEmitter receives every metric sample.
type TelemetryEmitter func(ctx context.Context, name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl TelemetryEmitter = func(ctx context.Context, name string, labels map[string]string, value any) {}
)

// RegisterTelemetryEmitter installs fn. A nil fn restores the no-op emitter.
func RegisterTelemetryEmitter(fn TelemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(ctx context.Context, name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emit(ctx context.Context, name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(ctx, name, labels, value)
}

// EmitScalingEvent records the outcome of a provision or terminate call.
// outcome is one of success, partial, noop, transient_error, permanent_error, skipped.
func EmitScalingEvent(ctx context.Context, operation, outcome string, nodes int) {
	emit(ctx, MetricScalingEvents, map[string]string{"operation": operation, "outcome": outcome}, int64(1))
	if nodes > 0 {
		emit(ctx, MetricScalingNodes, map[string]string{"operation": operation}, int64(nodes))
	}
}

// EmitFleetSize records how many workers are in the given state.
func EmitFleetSize(ctx context.Context, state string, n int) {
	emit(ctx, MetricFleetSize, map[string]string{"state": state}, int64(n))
}

// EmitProviderLatency records the latency (milliseconds) of one provider call.
func EmitProviderLatency(ctx context.Context, operation string, ms int64) {
	emit(ctx, MetricProviderLatency, map[string]string{"operation": operation}, ms)
}
