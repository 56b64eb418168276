package internal

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/lychee-technology/strata"
	"go.uber.org/zap"
)

// fleetStateWriter is implemented by registries that can record scaler decisions.
type fleetStateWriter interface {
	MarkDrainCandidates(ctx context.Context, hosts []string) error
	MarkTerminated(ctx context.Context, hosts []string) error
}

// MemoryWorkerRegistry keeps worker descriptors in process.
type MemoryWorkerRegistry struct {
	mu      sync.RWMutex
	workers map[string]*WorkerWrapper
	now     func() time.Time
}

func NewMemoryWorkerRegistry(now func() time.Time) *MemoryWorkerRegistry {
	if now == nil {
		now = time.Now
	}
	return &MemoryWorkerRegistry{
		workers: make(map[string]*WorkerWrapper),
		now:     now,
	}
}

// Register adds or replaces the worker keyed by host and marks it observed.
func (r *MemoryWorkerRegistry) Register(w strata.Worker) (*WorkerWrapper, error) {
	if w.Host == "" {
		return nil, strata.NewValidationError("host", "worker host is required")
	}
	if w.Capacity < 0 {
		return nil, strata.NewValidationError("capacity", "worker capacity must not be negative")
	}
	wrapper := NewWorkerWrapper(w, r.now)
	wrapper.Observe()

	r.mu.Lock()
	r.workers[w.Host] = wrapper
	r.mu.Unlock()

	zap.S().Debugw("worker registered", "host", w.Host, "ip", w.IP, "capacity", w.Capacity)
	return wrapper, nil
}

func (r *MemoryWorkerRegistry) Deregister(host string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[host]; !ok {
		return false
	}
	delete(r.workers, host)
	return true
}

func (r *MemoryWorkerRegistry) Lookup(host string) (*WorkerWrapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[host]
	return w, ok
}

// AssignTask routes an assignment event to the named worker.
func (r *MemoryWorkerRegistry) AssignTask(host, taskID string) error {
	w, ok := r.Lookup(host)
	if !ok {
		return strata.NewStrataError(strata.ErrorTypeValidation, strata.ErrCodeWorkerNotFound, "unknown worker "+host)
	}
	return w.AssignTask(taskID)
}

// CompleteTask routes a completion event to the named worker.
func (r *MemoryWorkerRegistry) CompleteTask(host, taskID string) bool {
	w, ok := r.Lookup(host)
	if !ok {
		return false
	}
	return w.CompleteTask(taskID)
}

// Workers returns one snapshot per registered worker, ordered by host.
func (r *MemoryWorkerRegistry) Workers(ctx context.Context) ([]strata.WorkerSnapshot, error) {
	r.mu.RLock()
	wrappers := slices.Collect(maps.Values(r.workers))
	r.mu.RUnlock()

	out := make([]strata.WorkerSnapshot, 0, len(wrappers))
	for _, w := range wrappers {
		out = append(out, w.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Descriptor.Host < out[j].Descriptor.Host })
	return out, nil
}

// MarkDrainCandidates moves the named idle workers to DRAIN_CANDIDATE.
func (r *MemoryWorkerRegistry) MarkDrainCandidates(ctx context.Context, hosts []string) error {
	for _, h := range hosts {
		if w, ok := r.Lookup(h); ok {
			w.BeginDrain()
		}
	}
	return nil
}

// RefreshDrainCandidates advances every idle worker past idleTimeout and returns their hosts.
func (r *MemoryWorkerRegistry) RefreshDrainCandidates(idleTimeout time.Duration) []string {
	r.mu.RLock()
	wrappers := slices.Collect(maps.Values(r.workers))
	r.mu.RUnlock()

	var hosts []string
	for _, w := range wrappers {
		if w.MarkDrainCandidate(idleTimeout) {
			hosts = append(hosts, w.Worker().Host)
		}
	}
	sort.Strings(hosts)
	return hosts
}

// MarkTerminated moves the named workers to TERMINATED. Unknown hosts are ignored.
func (r *MemoryWorkerRegistry) MarkTerminated(ctx context.Context, hosts []string) error {
	for _, h := range hosts {
		if w, ok := r.Lookup(h); ok {
			w.MarkTerminated()
		}
	}
	return nil
}
