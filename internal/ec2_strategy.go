package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// EC2AutoScalingStrategy provisions and terminates workers through a
// CloudProvider. It reads the registry on every call and keeps no state
// between calls.
type EC2AutoScalingStrategy struct {
	provider strata.CloudProvider
	registry strata.WorkerRegistry
	cfg      strata.ScalingConfig
	now      func() time.Time
	newToken func() string
}

func NewEC2AutoScalingStrategy(provider strata.CloudProvider, registry strata.WorkerRegistry, cfg strata.ScalingConfig) (*EC2AutoScalingStrategy, error) {
	if provider == nil {
		return nil, fmt.Errorf("cloud provider is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("worker registry is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CountPolicy == "" {
		cfg.CountPolicy = strata.CountPolicyMin
	}
	if cfg.TerminateFilter == "" {
		cfg.TerminateFilter = strata.FilterPrivateIPAddress
	}
	return &EC2AutoScalingStrategy{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		now:      time.Now,
		newToken: uuid.NewString,
	}, nil
}

func (s *EC2AutoScalingStrategy) withClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Provision launches workers when at least one live worker is at capacity, or
// when mean saturation exceeds the configured threshold, and the fleet has headroom.
func (s *EC2AutoScalingStrategy) Provision(ctx context.Context) (*strata.AutoScalingData, error) {
	snapshots, err := s.registry.Workers(ctx)
	if err != nil {
		return nil, fmt.Errorf("provision: %w", err)
	}
	live := liveWorkers(snapshots)

	atCapacity := 0
	saturation := 0.0
	for _, w := range live {
		if w.IsAtCapacity() {
			atCapacity++
		}
		saturation += w.Saturation()
	}
	if len(live) > 0 {
		saturation /= float64(len(live))
	}

	saturated := s.cfg.SaturationThreshold > 0 && len(live) > 0 && saturation > s.cfg.SaturationThreshold
	if atCapacity == 0 && !saturated {
		zap.S().Debugw("provision skipped: no saturated workers", "workers", len(live), "mean_saturation", saturation)
		return strata.EmptyAutoScalingData(), nil
	}

	count := s.launchCount(atCapacity, len(live))
	if count <= 0 {
		zap.S().Infow("provision skipped: no fleet headroom",
			"workers", len(live), "max_workers", s.cfg.MaxWorkers, "max_per_provision", s.cfg.MaxNumInstancesToProvision)
		return strata.EmptyAutoScalingData(), nil
	}

	req := strata.LaunchRequest{
		ImageID:          s.cfg.AmiID,
		InstanceType:     s.cfg.InstanceType,
		MinCount:         min(max(s.cfg.MinNumInstancesToProvision, 1), count),
		MaxCount:         count,
		ClientToken:      s.newToken(),
		SubnetID:         s.cfg.SubnetID,
		SecurityGroupIDs: s.cfg.SecurityGroupIDs,
		KeyName:          s.cfg.KeyName,
		UserData:         s.cfg.UserData,
		Tags:             s.cfg.Tags,
	}
	zap.S().Infow("launching workers", "count", count, "at_capacity", atCapacity,
		"mean_saturation", saturation, "image_id", req.ImageID, "instance_type", req.InstanceType)

	reservation, err := s.provider.Launch(ctx, req)
	if err != nil {
		return nil, classifyProviderError("launch", err)
	}
	if reservation == nil || len(reservation.Instances) == 0 {
		return nil, strata.NewStrataError(strata.ErrorTypeProviderTransient, strata.ErrCodeNoInstances,
			"provider launched no instances").WithDetail("requested", count)
	}

	result := s.toAutoScalingData(reservation.Instances, count)
	if result.IsEmpty() {
		ids := make([]string, 0, len(reservation.Instances))
		for _, inst := range reservation.Instances {
			ids = append(ids, inst.InstanceID)
		}
		return nil, strata.NewStrataError(strata.ErrorTypePartialProvision, strata.ErrCodePartialLaunch,
			"launched instances carry no private ip").WithDetail("instance_ids", ids)
	}
	if result.Partial() {
		zap.S().Warnw("partial provision", "requested", count, "launched", result.Len(),
			"reservation_id", reservation.ReservationID)
	}
	zap.S().Infow("workers provisioned", "node_ids", result.NodeIDs, "reservation_id", reservation.ReservationID)
	return result, nil
}

// launchCount applies the count policy and the headroom limits.
func (s *EC2AutoScalingStrategy) launchCount(atCapacity, live int) int {
	lo := max(s.cfg.MinNumInstancesToProvision, 1)
	hi := s.cfg.MaxNumInstancesToProvision
	if hi <= 0 {
		return 0
	}

	count := lo
	if s.cfg.CountPolicy == strata.CountPolicySaturation {
		count = max(atCapacity, lo)
	}
	count = min(count, hi)

	if s.cfg.MaxWorkers > 0 {
		count = min(count, s.cfg.MaxWorkers-live)
	}
	return count
}

// Terminate resolves hosts to instances with one describe call and
// terminates them. Hosts may carry a ":port" suffix. Registered worker hosts
// are translated to their IP when filtering by private IP.
func (s *EC2AutoScalingStrategy) Terminate(ctx context.Context, hosts []string) (*strata.AutoScalingData, error) {
	if len(hosts) == 0 {
		return strata.EmptyAutoScalingData(), nil
	}

	values, err := s.filterValues(ctx, hosts)
	if err != nil {
		return nil, fmt.Errorf("terminate: %w", err)
	}
	filter := strata.InstanceFilter{Name: s.cfg.TerminateFilter, Values: values}

	reservations, err := s.provider.Describe(ctx, filter)
	if err != nil {
		return nil, classifyProviderError("describe", err)
	}

	var instances []strata.Instance
	seen := NewSet[string](len(values))
	for _, r := range reservations {
		for _, inst := range r.Instances {
			if seen.Insert(inst.InstanceID) {
				instances = append(instances, inst)
			}
		}
	}
	if len(instances) == 0 {
		zap.S().Infow("terminate: no instances match", "filter", filter.Name, "values", filter.Values)
		return strata.EmptyAutoScalingData(), nil
	}

	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.InstanceID
	}
	zap.S().Infow("terminating instances", "instance_ids", ids)
	if err := s.provider.Terminate(ctx, ids); err != nil {
		return nil, classifyProviderError("terminate", err)
	}

	return s.toAutoScalingData(instances, len(instances)), nil
}

func (s *EC2AutoScalingStrategy) filterValues(ctx context.Context, hosts []string) ([]string, error) {
	var byHost map[string]string
	if s.cfg.TerminateFilter == strata.FilterPrivateIPAddress {
		snapshots, err := s.registry.Workers(ctx)
		if err != nil {
			return nil, err
		}
		byHost = make(map[string]string, len(snapshots))
		for _, w := range snapshots {
			if w.Descriptor.IP != "" {
				byHost[w.Descriptor.Host] = w.Descriptor.IP
			}
		}
	}

	values := make([]string, 0, len(hosts))
	seen := NewSet[string](len(hosts))
	for _, h := range hosts {
		v := strings.TrimSpace(h)
		if ip, ok := byHost[v]; ok {
			v = ip
		} else {
			v = stripPort(v)
			if ip, ok := byHost[v]; ok {
				v = ip
			}
		}
		if v != "" && seen.Insert(v) {
			values = append(values, v)
		}
	}
	return values, nil
}

// DrainCandidates lists live workers with no running tasks whose last
// completion predates now-IdleTimeout. A zero IdleTimeout disables draining.
func (s *EC2AutoScalingStrategy) DrainCandidates(ctx context.Context) ([]string, error) {
	if s.cfg.IdleTimeout <= 0 {
		return nil, nil
	}
	snapshots, err := s.registry.Workers(ctx)
	if err != nil {
		return nil, fmt.Errorf("drain candidates: %w", err)
	}
	cutoff := s.now().Add(-s.cfg.IdleTimeout)
	var hosts []string
	for _, w := range liveWorkers(snapshots) {
		if w.IdleSince(cutoff) {
			hosts = append(hosts, w.Descriptor.Host)
		}
	}
	return hosts, nil
}

// toAutoScalingData maps instances to node ids, dropping those without a private IP.
func (s *EC2AutoScalingStrategy) toAutoScalingData(instances []strata.Instance, requested int) *strata.AutoScalingData {
	out := strata.EmptyAutoScalingData()
	out.Requested = requested
	for _, inst := range instances {
		if inst.PrivateIPAddress == "" {
			zap.S().Warnw("instance has no private ip, dropping from result", "instance_id", inst.InstanceID)
			continue
		}
		out.NodeIDs = append(out.NodeIDs, strata.NodeID(inst.PrivateIPAddress, s.cfg.WorkerPort))
		out.Nodes = append(out.Nodes, inst)
	}
	return out
}

func liveWorkers(snapshots []strata.WorkerSnapshot) []strata.WorkerSnapshot {
	out := make([]strata.WorkerSnapshot, 0, len(snapshots))
	for _, w := range snapshots {
		if w.State() != strata.WorkerStateTerminated {
			out = append(out, w)
		}
	}
	return out
}

// classifyProviderError keeps already classified errors and sorts the rest:
// deadline and cancellation are transient, anything else is permanent.
func classifyProviderError(op string, err error) error {
	var se *strata.StrataError
	if errors.As(err, &se) {
		return err
	}
	transient := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	return strata.NewProviderError(op, transient, err)
}
