package strata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func snapshot(capacity int, tasks ...string) WorkerSnapshot {
	return WorkerSnapshot{
		Descriptor: Worker{Host: "h", IP: "10.0.0.1", Capacity: capacity},
		Tasks:      tasks,
		Status:     WorkerStateBusy,
	}
}

func TestWorkerSnapshotCapacity(t *testing.T) {
	s := snapshot(2, "task1")
	assert.False(t, s.IsAtCapacity())
	assert.InDelta(t, 0.5, s.Saturation(), 1e-9)

	s = snapshot(2, "task1", "task2")
	assert.True(t, s.IsAtCapacity())
	assert.InDelta(t, 1.0, s.Saturation(), 1e-9)

	zero := snapshot(0)
	assert.True(t, zero.IsAtCapacity())
	assert.InDelta(t, 1.0, zero.Saturation(), 1e-9)
}

func TestWorkerSnapshotRunningTasksIsACopy(t *testing.T) {
	s := snapshot(2, "a", "b")
	tasks := s.RunningTasks()
	tasks[0] = "x"
	assert.Equal(t, []string{"a", "b"}, s.RunningTasks())
	assert.Equal(t, "h", s.Worker().Host)
	assert.Equal(t, WorkerStateBusy, s.State())
}

func TestWorkerSnapshotIdleSince(t *testing.T) {
	done := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := WorkerSnapshot{Descriptor: Worker{Capacity: 1}, LastCompleted: done}
	assert.Equal(t, done, s.LastCompletedTaskTime())
	assert.True(t, s.IdleSince(done.Add(time.Second)))
	assert.False(t, s.IdleSince(done))

	s.Tasks = []string{"t"}
	assert.False(t, s.IdleSince(done.Add(time.Hour)))
}
