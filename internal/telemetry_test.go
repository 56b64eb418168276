package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lychee-technology/strata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	name   string
	labels map[string]string
	value  any
}

// recordTelemetry installs a recording emitter for the duration of the test.
func recordTelemetry(t *testing.T) func() []sample {
	t.Helper()
	var (
		mu      sync.Mutex
		samples []sample
	)
	RegisterTelemetryEmitter(func(ctx context.Context, name string, labels map[string]string, value any) {
		mu.Lock()
		defer mu.Unlock()
		samples = append(samples, sample{name: name, labels: labels, value: value})
	})
	t.Cleanup(func() { RegisterTelemetryEmitter(nil) })
	return func() []sample {
		mu.Lock()
		defer mu.Unlock()
		return append([]sample(nil), samples...)
	}
}

func TestEmitScalingEvent(t *testing.T) {
	samples := recordTelemetry(t)

	EmitScalingEvent(context.Background(), "provision", "success", 2)
	EmitScalingEvent(context.Background(), "terminate", "noop", 0)

	got := samples()
	require.Len(t, got, 3)
	assert.Equal(t, MetricScalingEvents, got[0].name)
	assert.Equal(t, map[string]string{"operation": "provision", "outcome": "success"}, got[0].labels)
	assert.Equal(t, MetricScalingNodes, got[1].name)
	assert.Equal(t, int64(2), got[1].value)
	assert.Equal(t, "noop", got[2].labels["outcome"])
}

func TestPrometheusEmitter(t *testing.T) {
	reg := prometheus.NewRegistry()
	emitter, err := NewPrometheusEmitter(reg, "strata")
	require.NoError(t, err)
	RegisterTelemetryEmitter(emitter.Emit)
	t.Cleanup(func() { RegisterTelemetryEmitter(nil) })

	ctx := context.Background()
	EmitScalingEvent(ctx, "provision", "success", 3)
	EmitScalingEvent(ctx, "provision", "success", 1)
	EmitFleetSize(ctx, "BUSY", 4)
	EmitFleetSize(ctx, "BUSY", 2)
	EmitProviderLatency(ctx, "launch", 120)

	assert.InDelta(t, 2, testutil.ToFloat64(emitter.scalingEvents.WithLabelValues("provision", "success")), 1e-9)
	assert.InDelta(t, 4, testutil.ToFloat64(emitter.scalingNodes.WithLabelValues("provision")), 1e-9)
	assert.InDelta(t, 2, testutil.ToFloat64(emitter.fleetSize.WithLabelValues("BUSY")), 1e-9)
	assert.Equal(t, 1, testutil.CollectAndCount(emitter.providerLatency))

	_, err = NewPrometheusEmitter(reg, "strata")
	assert.Error(t, err, "registering the same collectors twice fails")
}

type slowProvider struct{ scriptedProvider }

func (p *slowProvider) Describe(ctx context.Context, filter strata.InstanceFilter) ([]strata.Reservation, error) {
	time.Sleep(5 * time.Millisecond)
	return p.scriptedProvider.Describe(ctx, filter)
}

func TestInstrumentProviderReportsLatency(t *testing.T) {
	samples := recordTelemetry(t)
	inner := &slowProvider{}
	p := InstrumentProvider(inner, time.Second)

	_, err := p.Describe(context.Background(), strata.InstanceFilter{Name: strata.FilterInstanceID, Values: []string{"i-1"}})
	require.NoError(t, err)
	require.NoError(t, p.Terminate(context.Background(), []string{"i-1"}))

	got := samples()
	require.Len(t, got, 2)
	assert.Equal(t, MetricProviderLatency, got[0].name)
	assert.Equal(t, "describe", got[0].labels["operation"])
	assert.GreaterOrEqual(t, got[0].value.(int64), int64(5))
	assert.Equal(t, "terminate", got[1].labels["operation"])
	assert.Len(t, inner.terminated, 1)
}

type deadlineProvider struct{ scriptedProvider }

func (p *deadlineProvider) Launch(ctx context.Context, req strata.LaunchRequest) (*strata.Reservation, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestInstrumentProviderTimeout(t *testing.T) {
	recordTelemetry(t)
	p := InstrumentProvider(&deadlineProvider{}, 10*time.Millisecond)
	_, err := p.Launch(context.Background(), strata.LaunchRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
