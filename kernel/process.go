package kernel

import (
	"context"
	"fmt"
	"math"

	"github.com/davecgh/go-spew/spew"
	"github.com/pkg/errors"

	"github.com/evanphx/rvos/fs"
	"github.com/evanphx/rvos/loader"
	"github.com/evanphx/rvos/memory"
)

var (
	ErrUnknownFile  = errors.New("unknown file")
	ErrNoChild      = errors.New("no matching child")
	ErrStillRunning = errors.New("child still running")
	ErrBadPriority  = errors.New("priority must be greater than 1")
	ErrBadBrk       = errors.New("program break below heap bottom")
)

const (
	// MaxSyscallNum bounds the per-task syscall counters.
	MaxSyscallNum = 500

	KernelStackSize = 2 * memory.PageSize
	Trampoline      = math.MaxUint64 - memory.PageSize + 1
)

type prockey struct{}

func GetTask(ctx context.Context) (*Task, bool) {
	if v := ctx.Value(prockey{}); v != nil {
		return v.(*Task), true
	}

	return nil, false
}

func SetTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, prockey{}, t)
}

type TaskStatus int

const (
	Ready   TaskStatus = 0
	Running TaskStatus = 1
	Zombie  TaskStatus = 2
)

func (s TaskStatus) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return "unknown"
	}
}

// KernelStack is the slot of kernel address space reserved for a pid, just
// below the trampoline with a guard page between neighbours.
type KernelStack struct {
	Bottom, Top uint64
}

func kernelStackPosition(pid int) KernelStack {
	top := uint64(Trampoline) - uint64(pid)*(KernelStackSize+memory.PageSize)
	return KernelStack{Bottom: top - KernelStackSize, Top: top}
}

// Task is a task control block. Pid and KernelStack never change; all other
// state lives in the exclusively borrowed TaskInner.
type Task struct {
	Pid         int
	KernelStack KernelStack

	kernel *Kernel
	inner  Cell[TaskInner]
}

type TaskInner struct {
	Status TaskStatus
	TrapCx TrapContext
	Space  *memory.AddressSpace

	HeapBottom memory.VirtAddr
	ProgramBrk memory.VirtAddr

	Files []*FileRef

	// Parent is resolved through the kernel task table; 0 means none.
	Parent   int
	Children []*Task
	ExitCode int32

	Priority uint64
	Pass     uint64
	Stride   uint64

	SyscallTimes [MaxSyscallNum]uint32
	Started      bool
	StartTime    uint64
}

func (ti *TaskInner) IsZombie() bool {
	return ti.Status == Zombie
}

// AllocFd installs f in the lowest free slot of the descriptor table.
func (ti *TaskInner) AllocFd(f *FileRef) int {
	for fd, cur := range ti.Files {
		if cur == nil {
			ti.Files[fd] = f
			return fd
		}
	}

	ti.Files = append(ti.Files, f)
	return len(ti.Files) - 1
}

func passFor(priority uint64) uint64 {
	pass := BigStride / priority
	if pass == 0 {
		pass = 1
	}

	return pass
}

func (ti *TaskInner) setPriority(priority uint64) {
	ti.Priority = priority
	ti.Pass = passFor(priority)
}

func (t *Task) Kernel() *Kernel {
	return t.kernel
}

// Inner borrows the mutable state. The returned function must be called
// before anything else can borrow it.
func (t *Task) Inner() (*TaskInner, func()) {
	return t.inner.Borrow()
}

func (t *Task) Status() TaskStatus {
	inner, release := t.Inner()
	defer release()

	return inner.Status
}

func (t *Task) Token() memory.Token {
	inner, release := t.Inner()
	defer release()

	return inner.Space.Token()
}

// newTask builds a fresh task running img. The caller registers it with the
// scheduler.
func (k *Kernel) newTask(img *loader.Image, parent int) (*Task, error) {
	space, layout, err := memory.FromSegments(k.Mem, img.Segments, k.Config.UserStackSize)
	if err != nil {
		return nil, err
	}

	pid, err := k.pids.Alloc()
	if err != nil {
		space.Recycle()
		return nil, err
	}

	t := &Task{
		Pid:         pid,
		KernelStack: kernelStackPosition(pid),
		kernel:      k,
	}

	t.inner.With(func(inner *TaskInner) {
		inner.Status = Ready
		inner.TrapCx = AppInitContext(img.Entry, uint64(layout.UserStackTop))
		inner.Space = space
		inner.HeapBottom = layout.HeapBottom
		inner.ProgramBrk = layout.HeapBottom
		inner.Parent = parent
		inner.setPriority(k.Config.DefaultPriority)
	})

	k.tasks.Add(t)

	return t, nil
}

// Fork creates a child with a copy of the address space, the same trap
// context and a shared descriptor table. Scheduling starts from the parent's
// stride with the default priority.
func (t *Task) Fork() (*Task, error) {
	k := t.kernel

	parent, release := t.Inner()
	defer release()

	space, err := parent.Space.Fork()
	if err != nil {
		return nil, err
	}

	pid, err := k.pids.Alloc()
	if err != nil {
		space.Recycle()
		return nil, err
	}

	child := &Task{
		Pid:         pid,
		KernelStack: kernelStackPosition(pid),
		kernel:      k,
	}

	files := make([]*FileRef, len(parent.Files))
	for fd, f := range parent.Files {
		if f != nil {
			f.incRef()
			files[fd] = f
		}
	}

	child.inner.With(func(inner *TaskInner) {
		inner.Status = Ready
		inner.TrapCx = parent.TrapCx
		inner.Space = space
		inner.HeapBottom = parent.HeapBottom
		inner.ProgramBrk = parent.ProgramBrk
		inner.Files = files
		inner.Parent = t.Pid
		inner.Stride = parent.Stride
		inner.setPriority(k.Config.DefaultPriority)
	})

	parent.Children = append(parent.Children, child)
	k.tasks.Add(child)

	k.L.Trace("process-fork", "pid", t.Pid, "child", pid)

	return child, nil
}

// Exec replaces the address space and trap context with a fresh image. The
// old space is kept if building the new one fails.
func (t *Task) Exec(img *loader.Image) error {
	k := t.kernel

	space, layout, err := memory.FromSegments(k.Mem, img.Segments, k.Config.UserStackSize)
	if err != nil {
		return err
	}

	inner, release := t.Inner()
	defer release()

	old := inner.Space

	inner.Space = space
	inner.HeapBottom = layout.HeapBottom
	inner.ProgramBrk = layout.HeapBottom
	inner.TrapCx = AppInitContext(img.Entry, uint64(layout.UserStackTop))

	old.Recycle()

	k.L.Trace("process-exec", "pid", t.Pid, "entry", img.Entry)

	return nil
}

// Spawn creates a child running img directly, without copying the parent's
// address space, and queues it to run. The child shares the parent's
// descriptor table.
func (t *Task) Spawn(img *loader.Image) (*Task, error) {
	k := t.kernel

	parent, release := t.Inner()
	defer release()

	child, err := k.newTask(img, t.Pid)
	if err != nil {
		return nil, err
	}

	child.inner.With(func(inner *TaskInner) {
		inner.Files = make([]*FileRef, len(parent.Files))
		for fd, f := range parent.Files {
			if f != nil {
				f.incRef()
				inner.Files[fd] = f
			}
		}

		inner.Stride = parent.Stride
	})

	parent.Children = append(parent.Children, child)
	k.Manager.Add(child)

	k.L.Trace("process-spawn", "pid", t.Pid, "child", child.Pid)

	return child, nil
}

// ChangeProgramBrk moves the program break by delta and returns the old
// break. The break may never drop below the heap bottom.
func (t *Task) ChangeProgramBrk(delta int64) (memory.VirtAddr, error) {
	inner, release := t.Inner()
	defer release()

	old := inner.ProgramBrk
	newBrk := int64(old) + delta

	if newBrk < int64(inner.HeapBottom) {
		return 0, errors.Wrapf(ErrBadBrk, "brk=%#x delta=%d", uint64(old), delta)
	}

	var err error

	if delta < 0 {
		err = inner.Space.ShrinkTo(inner.HeapBottom, memory.VirtAddr(newBrk))
	} else if delta > 0 {
		err = inner.Space.AppendTo(inner.HeapBottom, memory.VirtAddr(newBrk))
	}

	if err != nil {
		return 0, err
	}

	inner.ProgramBrk = memory.VirtAddr(newBrk)

	return old, nil
}

func (t *Task) SetPriority(priority int64) error {
	if priority <= 1 {
		return errors.Wrapf(ErrBadPriority, "priority %d", priority)
	}

	t.inner.With(func(inner *TaskInner) {
		inner.setPriority(uint64(priority))
	})

	return nil
}

func (t *Task) AllocFd(f fs.File) int {
	inner, release := t.Inner()
	defer release()

	return inner.AllocFd(NewFileRef(f))
}

func (t *Task) GetFile(fd int) (*FileRef, bool) {
	inner, release := t.Inner()
	defer release()

	if fd < 0 || fd >= len(inner.Files) {
		return nil, false
	}

	file := inner.Files[fd]
	if file == nil {
		return nil, false
	}

	return file, true
}

func (t *Task) CloseFile(fd int) error {
	inner, release := t.Inner()

	if fd < 0 || fd >= len(inner.Files) || inner.Files[fd] == nil {
		release()
		return ErrUnknownFile
	}

	file := inner.Files[fd]
	inner.Files[fd] = nil

	release()

	return file.Close()
}

type taskSnapshot struct {
	Pid        int
	Status     string
	Parent     int
	Children   []int
	Priority   uint64
	Stride     uint64
	HeapBottom uint64
	ProgramBrk uint64
	Files      int
	Areas      []string
}

// Dump renders the task for debugging.
func (t *Task) Dump() string {
	inner, release := t.Inner()
	defer release()

	snap := taskSnapshot{
		Pid:        t.Pid,
		Status:     inner.Status.String(),
		Parent:     inner.Parent,
		Priority:   inner.Priority,
		Stride:     inner.Stride,
		HeapBottom: uint64(inner.HeapBottom),
		ProgramBrk: uint64(inner.ProgramBrk),
	}

	for _, c := range inner.Children {
		snap.Children = append(snap.Children, c.Pid)
	}

	for _, f := range inner.Files {
		if f != nil {
			snap.Files++
		}
	}

	if inner.Space != nil {
		for _, a := range inner.Space.Areas() {
			snap.Areas = append(snap.Areas, fmt.Sprintf("%#x-%#x %s", uint64(a.StartAddr()), uint64(a.EndAddr()), a.Perm))
		}
	}

	return spew.Sdump(snap)
}

// CountSyscall records one invocation of syscall id for task_info.
func (t *Task) CountSyscall(id uint64) {
	if id >= MaxSyscallNum {
		return
	}

	t.inner.With(func(inner *TaskInner) {
		inner.SyscallTimes[id]++
	})
}
