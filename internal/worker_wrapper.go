package internal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/lychee-technology/strata"
)

const taskSetDegree = 8

// WorkerWrapper tracks one worker's running tasks and lifecycle state.
// The task set is an ordered B-tree guarded by a RW mutex so concurrent
// assignment and completion events interleave safely with snapshot reads.
type WorkerWrapper struct {
	worker strata.Worker
	now    func() time.Time

	mu            sync.RWMutex
	tasks         *btree.BTreeG[string]
	lastCompleted time.Time
	state         strata.WorkerState
}

// NewWorkerWrapper registers w in the UNKNOWN state. The last completion time
// starts at registration so a fresh worker is not immediately drainable.
func NewWorkerWrapper(w strata.Worker, now func() time.Time) *WorkerWrapper {
	if now == nil {
		now = time.Now
	}
	return &WorkerWrapper{
		worker:        w,
		now:           now,
		tasks:         btree.NewG[string](taskSetDegree, btree.Less[string]()),
		lastCompleted: now(),
		state:         strata.WorkerStateUnknown,
	}
}

func (w *WorkerWrapper) Worker() strata.Worker { return w.worker }

// Observe moves an UNKNOWN worker to IDLE or BUSY.
func (w *WorkerWrapper) Observe() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == strata.WorkerStateUnknown {
		w.state = w.activeState()
	}
}

// AssignTask adds taskID to the running set. It fails for terminated workers
// and for workers already at capacity. Reassigning a running id is a no-op.
func (w *WorkerWrapper) AssignTask(taskID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == strata.WorkerStateTerminated {
		return strata.NewStrataError(strata.ErrorTypeValidation, strata.ErrCodeWorkerTerminated,
			fmt.Sprintf("worker %s is terminated", w.worker.Host))
	}
	if w.tasks.Has(taskID) {
		return nil
	}
	if w.tasks.Len() >= w.worker.Capacity {
		return strata.NewStrataError(strata.ErrorTypeValidation, strata.ErrCodeCapacityExceeded,
			fmt.Sprintf("worker %s is at capacity %d", w.worker.Host, w.worker.Capacity)).
			WithDetail("task_id", taskID)
	}
	w.tasks.ReplaceOrInsert(taskID)
	w.state = strata.WorkerStateBusy
	return nil
}

// CompleteTask removes taskID and stamps the completion time. It reports
// whether the task was running.
func (w *WorkerWrapper) CompleteTask(taskID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.tasks.Delete(taskID); !ok {
		return false
	}
	w.lastCompleted = w.now()
	if w.state != strata.WorkerStateTerminated {
		w.state = w.activeState()
	}
	return true
}

// MarkDrainCandidate moves an idle worker whose last completion predates
// now-idleTimeout to DRAIN_CANDIDATE. It reports whether the worker is a candidate.
func (w *WorkerWrapper) MarkDrainCandidate(idleTimeout time.Duration) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == strata.WorkerStateIdle && !w.lastCompleted.Before(w.now().Add(-idleTimeout)) {
		return false
	}
	return w.beginDrain()
}

// BeginDrain moves an idle worker to DRAIN_CANDIDATE regardless of how long it
// has been idle.
func (w *WorkerWrapper) BeginDrain() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.beginDrain()
}

func (w *WorkerWrapper) beginDrain() bool {
	switch w.state {
	case strata.WorkerStateDrainCandidate:
		return true
	case strata.WorkerStateIdle:
		if w.tasks.Len() == 0 {
			w.state = strata.WorkerStateDrainCandidate
			return true
		}
	}
	return false
}

// MarkTerminated is terminal; later assignments are rejected.
func (w *WorkerWrapper) MarkTerminated() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = strata.WorkerStateTerminated
}

func (w *WorkerWrapper) State() strata.WorkerState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *WorkerWrapper) IsAtCapacity() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.tasks.Len() >= w.worker.Capacity
}

// RunningTasks returns task ids in ascending order.
func (w *WorkerWrapper) RunningTasks() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.taskList()
}

func (w *WorkerWrapper) LastCompletedTaskTime() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastCompleted
}

// Snapshot copies the current state.
func (w *WorkerWrapper) Snapshot() strata.WorkerSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return strata.WorkerSnapshot{
		Descriptor:    w.worker,
		Tasks:         w.taskList(),
		LastCompleted: w.lastCompleted,
		Status:        w.state,
	}
}

func (w *WorkerWrapper) taskList() []string {
	out := make([]string, 0, w.tasks.Len())
	w.tasks.Ascend(func(id string) bool {
		out = append(out, id)
		return true
	})
	return out
}

// activeState must be called with mu held.
func (w *WorkerWrapper) activeState() strata.WorkerState {
	if w.tasks.Len() > 0 {
		return strata.WorkerStateBusy
	}
	return strata.WorkerStateIdle
}
