package strata

import (
	"context"
	"slices"
	"time"
)

// AutoScalingStrategy grows and shrinks the worker fleet. Callers serialize
// Provision and Terminate; the strategy keeps no state between calls.
type AutoScalingStrategy interface {
	Provision(ctx context.Context) (*AutoScalingData, error)
	Terminate(ctx context.Context, hosts []string) (*AutoScalingData, error)
	DrainCandidates(ctx context.Context) ([]string, error)
}

// CloudProvider is the narrow compute API the strategy drives.
type CloudProvider interface {
	Launch(ctx context.Context, req LaunchRequest) (*Reservation, error)
	Describe(ctx context.Context, filter InstanceFilter) ([]Reservation, error)
	Terminate(ctx context.Context, instanceIDs []string) error
}

// WorkerRegistry exposes point-in-time snapshots of the registered workers.
type WorkerRegistry interface {
	Workers(ctx context.Context) ([]WorkerSnapshot, error)
}

// WorkerSnapshot is a copy of a worker descriptor taken at one instant.
type WorkerSnapshot struct {
	Descriptor    Worker      `json:"worker"`
	Tasks         []string    `json:"runningTasks"`
	LastCompleted time.Time   `json:"lastCompletedTaskTime"`
	Status        WorkerState `json:"state"`
}

// Worker returns the worker identity.
func (s WorkerSnapshot) Worker() Worker {
	return s.Descriptor
}

// IsAtCapacity reports |runningTasks| == capacity.
func (s WorkerSnapshot) IsAtCapacity() bool {
	return len(s.Tasks) >= s.Descriptor.Capacity
}

// RunningTasks returns the running task ids in ascending order.
func (s WorkerSnapshot) RunningTasks() []string {
	return slices.Clone(s.Tasks)
}

// LastCompletedTaskTime returns when the worker last finished a task.
func (s WorkerSnapshot) LastCompletedTaskTime() time.Time {
	return s.LastCompleted
}

// State returns the lifecycle state at snapshot time.
func (s WorkerSnapshot) State() WorkerState {
	return s.Status
}

// Saturation is the running-task share of capacity in [0, 1].
func (s WorkerSnapshot) Saturation() float64 {
	if s.Descriptor.Capacity <= 0 {
		return 1
	}
	v := float64(len(s.Tasks)) / float64(s.Descriptor.Capacity)
	if v > 1 {
		return 1
	}
	return v
}

// IdleSince reports whether the worker has no running tasks and finished its
// last task before cutoff.
func (s WorkerSnapshot) IdleSince(cutoff time.Time) bool {
	return len(s.Tasks) == 0 && s.LastCompleted.Before(cutoff)
}
