package kernel

import (
	"fmt"
	"slices"
)

// Exit turns the task into a zombie holding code and takes it off the ready
// queue. Its descriptors and address space are released now; the pid and TCB
// stay until the parent reaps it. Live children are handed to the root task.
func (t *Task) Exit(code int32) {
	k := t.kernel

	inner, release := t.Inner()

	if inner.Status == Zombie {
		release()
		panic(fmt.Sprintf("kernel: pid %d exited twice", t.Pid))
	}

	inner.Status = Zombie
	inner.ExitCode = code

	children := inner.Children
	inner.Children = nil

	files := inner.Files
	inner.Files = nil

	space := inner.Space
	inner.Space = nil

	release()

	k.Manager.Remove(t)

	k.L.Trace("process-exit", "pid", t.Pid, "code", code)

	if t != k.initproc && len(children) > 0 {
		k.adoptOrphans(children)
	}

	for _, file := range files {
		if file != nil {
			file.Close()
		}
	}

	if space != nil {
		space.Recycle()
	}
}

func (k *Kernel) adoptOrphans(children []*Task) {
	initproc := k.initproc
	if initproc == nil {
		panic("kernel: orphaned tasks with no root task to adopt them")
	}

	for _, c := range children {
		c.inner.With(func(inner *TaskInner) {
			inner.Parent = initproc.Pid
		})

		k.L.Trace("process-reparent", "pid", c.Pid, "parent", initproc.Pid)
	}

	initproc.inner.With(func(inner *TaskInner) {
		inner.Children = append(inner.Children, children...)
	})
}

// FindChild reports whether the task has a child matching pid (-1 for any)
// and, if so, whether one of them has exited.
func (t *Task) FindChild(pid int) (found, exited bool) {
	inner, release := t.Inner()
	defer release()

	_, found, exited = inner.matchChild(pid)
	return found, exited
}

func (ti *TaskInner) matchChild(pid int) (idx int, found, exited bool) {
	for i, c := range ti.Children {
		if pid != -1 && c.Pid != pid {
			continue
		}

		found = true

		if c.Status() == Zombie {
			return i, true, true
		}
	}

	return 0, found, false
}

// WaitChild reaps the first exited child matching pid (-1 for any) and
// returns its pid and exit code.
func (t *Task) WaitChild(pid int) (int, int32, error) {
	k := t.kernel

	inner, release := t.Inner()
	defer release()

	idx, found, exited := inner.matchChild(pid)
	if !found {
		return 0, 0, ErrNoChild
	}

	if !exited {
		return 0, 0, ErrStillRunning
	}

	child := inner.Children[idx]
	inner.Children = slices.Delete(inner.Children, idx, idx+1)

	var code int32

	child.inner.With(func(ci *TaskInner) {
		code = ci.ExitCode
		ci.Parent = 0
	})

	if k.Manager.Contains(child) {
		panic(fmt.Sprintf("kernel: reaping pid %d still queued to run", child.Pid))
	}

	k.tasks.Remove(child)
	k.pids.Dealloc(child.Pid)

	k.L.Trace("process-reap", "pid", t.Pid, "child", child.Pid, "code", code)

	return child.Pid, code, nil
}
