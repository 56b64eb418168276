package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// TickReport summarizes one coordinator pass.
type TickReport struct {
	Provisioned *strata.AutoScalingData
	Drained     []string
	Terminated  *strata.AutoScalingData
}

// ScalingManager is the coordinator around an AutoScalingStrategy. It admits
// at most one provision and one terminate at a time, stops calling the
// provider while its breaker is open, and records terminations in the registry.
type ScalingManager struct {
	strategy strata.AutoScalingStrategy
	registry strata.WorkerRegistry
	breaker  *CircuitBreaker
	interval time.Duration
	logger   *zap.Logger

	provisionMu sync.Mutex
	terminateMu sync.Mutex
}

// NewScalingManager wires a manager. breaker and logger may be nil.
func NewScalingManager(strategy strata.AutoScalingStrategy, registry strata.WorkerRegistry, breaker *CircuitBreaker, interval time.Duration, logger *zap.Logger) *ScalingManager {
	if logger == nil {
		logger = zap.L()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ScalingManager{
		strategy: strategy,
		registry: registry,
		breaker:  breaker,
		interval: interval,
		logger:   logger,
	}
}

// Provision runs one serialized provision attempt.
func (m *ScalingManager) Provision(ctx context.Context) (*strata.AutoScalingData, error) {
	m.provisionMu.Lock()
	defer m.provisionMu.Unlock()

	if err := m.breakerGate("provision"); err != nil {
		return nil, err
	}
	result, err := m.strategy.Provision(ctx)
	m.record(ctx, "provision", result, err)
	return result, err
}

// Terminate runs one serialized terminate attempt and marks the terminated
// workers in the registry when it supports that.
func (m *ScalingManager) Terminate(ctx context.Context, hosts []string) (*strata.AutoScalingData, error) {
	m.terminateMu.Lock()
	defer m.terminateMu.Unlock()

	if err := m.breakerGate("terminate"); err != nil {
		return nil, err
	}
	result, err := m.strategy.Terminate(ctx, hosts)
	m.record(ctx, "terminate", result, err)
	if err != nil || result.IsEmpty() {
		return result, err
	}

	if writer, ok := m.registry.(fleetStateWriter); ok {
		terminated := m.terminatedHosts(ctx, hosts, result)
		if err := writer.MarkTerminated(ctx, terminated); err != nil {
			m.logger.Sugar().Warnw("failed to record terminated workers", "hosts", terminated, "err", err)
		}
	}
	return result, nil
}

// terminatedHosts returns the requested hosts whose IP, or the host itself,
// appears among the terminated nodes.
func (m *ScalingManager) terminatedHosts(ctx context.Context, hosts []string, result *strata.AutoScalingData) []string {
	ips := make(map[string]struct{}, len(result.Nodes))
	for _, n := range result.Nodes {
		ips[n.PrivateIPAddress] = struct{}{}
		if n.PrivateDNSName != "" {
			ips[n.PrivateDNSName] = struct{}{}
		}
	}
	requested := make(map[string]struct{}, len(hosts))
	for _, h := range hosts {
		requested[stripPort(h)] = struct{}{}
	}

	snapshots, err := m.registry.Workers(ctx)
	if err != nil {
		m.logger.Sugar().Warnw("registry snapshot after terminate failed", "err", err)
		return nil
	}
	var out []string
	for _, w := range snapshots {
		host := w.Descriptor.Host
		_, asked := requested[host]
		_, askedByIP := requested[w.Descriptor.IP]
		if !asked && !askedByIP {
			continue
		}
		_, byIP := ips[w.Descriptor.IP]
		_, byName := ips[host]
		if byIP || byName {
			out = append(out, host)
		}
	}
	return out
}

// Tick runs one coordinator pass: observe the fleet, provision if saturated,
// then drain idle workers. Errors from each step are joined; a failed
// provision does not prevent draining.
func (m *ScalingManager) Tick(ctx context.Context) (*TickReport, error) {
	report := &TickReport{}
	var errs []error

	if snapshots, err := m.registry.Workers(ctx); err != nil {
		errs = append(errs, err)
	} else {
		m.emitFleet(ctx, snapshots)
	}

	provisioned, err := m.Provision(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	report.Provisioned = provisioned

	candidates, err := m.strategy.DrainCandidates(ctx)
	if err != nil {
		errs = append(errs, err)
	} else if len(candidates) > 0 {
		m.logger.Sugar().Infow("draining idle workers", "hosts", candidates)
		report.Drained = candidates
		if writer, ok := m.registry.(fleetStateWriter); ok {
			if err := writer.MarkDrainCandidates(ctx, candidates); err != nil {
				m.logger.Sugar().Warnw("failed to record drain candidates", "hosts", candidates, "err", err)
			}
		}
		terminated, err := m.Terminate(ctx, candidates)
		if err != nil {
			errs = append(errs, err)
		}
		report.Terminated = terminated
	}

	return report, errors.Join(errs...)
}

// Run ticks every interval until ctx is done.
func (m *ScalingManager) Run(ctx context.Context) error {
	m.logger.Sugar().Infow("scaling manager started", "interval", m.interval)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if _, err := m.Tick(ctx); err != nil {
			m.logger.Sugar().Warnw("scaling tick finished with errors", "err", err)
		}
		select {
		case <-ctx.Done():
			m.logger.Sugar().Infow("scaling manager stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *ScalingManager) breakerGate(op string) error {
	if !m.breaker.IsOpen() {
		return nil
	}
	m.logger.Sugar().Warnw("provider circuit open, skipping", "operation", op, "open_until", m.breaker.OpenUntil())
	EmitScalingEvent(context.Background(), op, "skipped", 0)
	return strata.NewStrataError(strata.ErrorTypeProviderTransient, strata.ErrCodeCircuitOpen,
		"provider circuit breaker is open").WithDetail("operation", op)
}

func (m *ScalingManager) record(ctx context.Context, op string, result *strata.AutoScalingData, err error) {
	sugar := m.logger.Sugar()
	switch {
	case err == nil:
		m.breaker.RecordSuccess()
		outcome := "success"
		if result.IsEmpty() {
			outcome = "noop"
		} else if result.Partial() {
			outcome = "partial"
		}
		EmitScalingEvent(ctx, op, outcome, result.Len())
	case strata.IsTransient(err):
		m.breaker.RecordFailure()
		sugar.Warnw("transient provider failure, will retry next tick", "operation", op, "err", err)
		EmitScalingEvent(ctx, op, "transient_error", 0)
	case strata.IsPermanent(err):
		sugar.Errorw("permanent provider failure", "operation", op, "err", err)
		EmitScalingEvent(ctx, op, "permanent_error", 0)
	default:
		sugar.Errorw("scaling operation failed", "operation", op, "err", err)
		EmitScalingEvent(ctx, op, "error", 0)
	}
}

func (m *ScalingManager) emitFleet(ctx context.Context, snapshots []strata.WorkerSnapshot) {
	counts := map[strata.WorkerState]int{
		strata.WorkerStateUnknown:        0,
		strata.WorkerStateIdle:           0,
		strata.WorkerStateBusy:           0,
		strata.WorkerStateDrainCandidate: 0,
		strata.WorkerStateTerminated:     0,
	}
	for _, s := range snapshots {
		counts[s.State()]++
	}
	for state, n := range counts {
		EmitFleetSize(ctx, string(state), n)
	}
}
