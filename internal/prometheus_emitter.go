package internal

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusEmitter maps telemetry samples onto Prometheus collectors.
type PrometheusEmitter struct {
	scalingEvents   *prometheus.CounterVec
	scalingNodes    *prometheus.CounterVec
	fleetSize       *prometheus.GaugeVec
	providerLatency *prometheus.HistogramVec
}

// NewPrometheusEmitter creates the collectors and registers them with reg.
func NewPrometheusEmitter(reg prometheus.Registerer, namespace string) (*PrometheusEmitter, error) {
	e := &PrometheusEmitter{
		scalingEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricScalingEvents,
			Help:      "Provision and terminate calls by outcome.",
		}, []string{"operation", "outcome"}),
		scalingNodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricScalingNodes,
			Help:      "Nodes launched or terminated.",
		}, []string{"operation"}),
		fleetSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricFleetSize,
			Help:      "Registered workers by lifecycle state.",
		}, []string{"state"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      MetricProviderLatency,
			Help:      "Cloud provider call latency in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{e.scalingEvents, e.scalingNodes, e.fleetSize, e.providerLatency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return e, nil
}

// Emit matches TelemetryEmitter. Unknown metric names are ignored.
func (e *PrometheusEmitter) Emit(ctx context.Context, name string, labels map[string]string, value any) {
	v := toFloat(value)
	switch name {
	case MetricScalingEvents:
		e.scalingEvents.With(prometheus.Labels(labels)).Add(v)
	case MetricScalingNodes:
		e.scalingNodes.With(prometheus.Labels(labels)).Add(v)
	case MetricFleetSize:
		e.fleetSize.With(prometheus.Labels(labels)).Set(v)
	case MetricProviderLatency:
		e.providerLatency.With(prometheus.Labels(labels)).Observe(v)
	}
}

func toFloat(value any) float64 {
	switch v := value.(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	default:
		return 0
	}
}
