package kernel

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

var ErrNoPid = errors.New("no free pid")

// PidAllocator hands out pids in increasing order and reuses released ones
// most-recently-released first.
type PidAllocator struct {
	mu       sync.Mutex
	current  int
	max      int
	recycled []int
}

func NewPidAllocator(max int) *PidAllocator {
	return &PidAllocator{
		current: 1,
		max:     max,
	}
}

func (p *PidAllocator) Alloc() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.recycled); n > 0 {
		pid := p.recycled[n-1]
		p.recycled = p.recycled[:n-1]
		return pid, nil
	}

	if p.max > 0 && p.current > p.max {
		return 0, ErrNoPid
	}

	pid := p.current
	p.current++

	return pid, nil
}

func (p *PidAllocator) Dealloc(pid int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pid <= 0 || pid >= p.current {
		panic(fmt.Sprintf("kernel: pid %d has never been allocated", pid))
	}

	for _, r := range p.recycled {
		if r == pid {
			panic(fmt.Sprintf("kernel: pid %d released twice", pid))
		}
	}

	p.recycled = append(p.recycled, pid)
}

// TaskTable indexes live tasks by pid. Children find their parent through
// it, so a child never holds its parent alive.
type TaskTable struct {
	mu    sync.RWMutex
	tasks map[int]*Task
}

func NewTaskTable() *TaskTable {
	return &TaskTable{
		tasks: make(map[int]*Task),
	}
}

func (tt *TaskTable) Add(t *Task) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	tt.tasks[t.Pid] = t
}

func (tt *TaskTable) Remove(t *Task) {
	tt.mu.Lock()
	defer tt.mu.Unlock()

	delete(tt.tasks, t.Pid)
}

func (tt *TaskTable) Lookup(pid int) (*Task, bool) {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	t, ok := tt.tasks[pid]
	return t, ok
}

func (tt *TaskTable) Len() int {
	tt.mu.RLock()
	defer tt.mu.RUnlock()

	return len(tt.tasks)
}
