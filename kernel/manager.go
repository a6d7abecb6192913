package kernel

import (
	"slices"
	"sync"
)

// BigStride is the numerator of a task's pass. With the minimum priority of
// 2 a pass is at most 1<<23, so a uint64 stride cannot wrap in any run this
// kernel will see.
const BigStride uint64 = 1 << 24

// TaskManager is the ready queue of the stride scheduler.
type TaskManager struct {
	mu    sync.Mutex
	ready []*Task
}

func NewTaskManager() *TaskManager {
	return &TaskManager{}
}

func (m *TaskManager) Add(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ready = append(m.ready, t)
}

// Fetch removes and returns the ready task with the smallest stride. Ties go
// to the task queued first. It returns nil when nothing is ready.
func (m *TaskManager) Fetch() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.ready) == 0 {
		return nil
	}

	best := 0
	bestStride := m.ready[0].stride()

	for i := 1; i < len(m.ready); i++ {
		if s := m.ready[i].stride(); s < bestStride {
			best = i
			bestStride = s
		}
	}

	t := m.ready[best]
	m.ready = slices.Delete(m.ready, best, best+1)

	return t
}

// Remove takes t off the ready queue if it is queued.
func (m *TaskManager) Remove(t *Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := slices.Index(m.ready, t)
	if idx < 0 {
		return false
	}

	m.ready = slices.Delete(m.ready, idx, idx+1)

	return true
}

func (m *TaskManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.ready)
}

func (m *TaskManager) Contains(t *Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Contains(m.ready, t)
}

func (t *Task) stride() uint64 {
	inner, release := t.Inner()
	defer release()

	return inner.Stride
}
