package kernel

import (
	"context"

	"github.com/pkg/errors"

	"github.com/evanphx/rvos/memory"
)

var ErrIdle = errors.New("no task ready to run")

const (
	RegSP = 2
	RegA0 = 10
	RegA1 = 11
	RegA2 = 12
	RegA7 = 17
)

// TrapContext is the user register file saved on entry to the kernel.
type TrapContext struct {
	X       [32]uint64
	Sstatus uint64
	Sepc    uint64
}

// AppInitContext is the context a fresh image starts from: user mode, pc at
// entry and sp at the top of the user stack.
func AppInitContext(entry, sp uint64) TrapContext {
	// Sstatus.SPP clear: sret drops to user mode.
	var cx TrapContext

	cx.Sepc = entry
	cx.X[RegSP] = sp

	return cx
}

type Trap int

const (
	TrapSyscall Trap = iota
	TrapTimer
	TrapFault
)

func (t Trap) String() string {
	switch t {
	case TrapSyscall:
		return "syscall"
	case TrapTimer:
		return "timer"
	case TrapFault:
		return "fault"
	default:
		return "unknown"
	}
}

// Hart runs user code. Enter resumes cx in the address space named by token
// and returns at the next trap with cx holding the saved registers.
type Hart interface {
	Enter(ctx context.Context, cx *TrapContext, token memory.Token) (Trap, error)
}

// SyscallHandler services one system call for the task stored in ctx.
type SyscallHandler interface {
	Syscall(ctx context.Context, id uint64, args [3]uint64) int64
}

// Processor is the per-hart scheduler loop.
type Processor struct {
	kernel *Kernel

	hart    Hart
	handler SyscallHandler

	current  *Task
	switched bool

	halted   bool
	exitCode int32
}

func newProcessor(k *Kernel) *Processor {
	return &Processor{kernel: k}
}

func (p *Processor) Current() *Task {
	return p.current
}

// Suspend puts t back to ready. If t holds the hart it gives it up once its
// trap returns and goes back on the ready queue.
func (p *Processor) Suspend(t *Task) {
	t.inner.With(func(inner *TaskInner) {
		inner.Status = Ready
	})

	if t == p.current {
		p.switched = true
	}
}

// Exit exits t. Exiting the root task stops the processor with code once
// the current trap returns.
func (p *Processor) Exit(t *Task, code int32) {
	t.Exit(code)

	if t == p.kernel.initproc {
		p.halted = true
		p.exitCode = code
	}

	if t == p.current {
		p.switched = true
	}
}

// Run dispatches ready tasks on hart until the root task exits, nothing is
// left to run or ctx is done.
func (k *Kernel) Run(ctx context.Context, hart Hart, handler SyscallHandler) (int32, error) {
	p := k.Processor

	p.hart = hart
	p.handler = handler

	return p.Run(ctx)
}

func (p *Processor) Run(ctx context.Context) (int32, error) {
	if p.hart == nil || p.handler == nil {
		return 0, errors.New("processor has no hart or syscall handler")
	}

	for !p.halted {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		t := p.kernel.Manager.Fetch()
		if t == nil {
			return 0, ErrIdle
		}

		if err := p.dispatch(ctx, t); err != nil {
			return 0, err
		}
	}

	return p.exitCode, nil
}

func (p *Processor) dispatch(ctx context.Context, t *Task) error {
	k := p.kernel
	now := nowMillis(k.Clock)

	t.inner.With(func(inner *TaskInner) {
		inner.Status = Running
		inner.Stride += inner.Pass

		if !inner.Started {
			inner.Started = true
			inner.StartTime = now
		}
	})

	p.current = t
	p.switched = false

	defer func() {
		p.current = nil
	}()

	ctx = SetTask(ctx, t)

	for !p.switched {
		inner, release := t.Inner()
		cx := inner.TrapCx
		token := inner.Space.Token()
		release()

		trap, err := p.hart.Enter(ctx, &cx, token)

		t.inner.With(func(inner *TaskInner) {
			inner.TrapCx = cx
			if trap == TrapSyscall {
				inner.TrapCx.Sepc += 4
			}
		})

		if err != nil {
			return errors.Wrapf(err, "running pid %d", t.Pid)
		}

		switch trap {
		case TrapSyscall:
			ret := p.handler.Syscall(ctx, cx.X[RegA7], [3]uint64{cx.X[RegA0], cx.X[RegA1], cx.X[RegA2]})

			t.inner.With(func(inner *TaskInner) {
				if inner.Status != Zombie {
					inner.TrapCx.X[RegA0] = uint64(ret)
				}
			})
		case TrapTimer:
			p.Suspend(t)
		case TrapFault:
			k.L.Warn("task-fault", "pid", t.Pid, "sepc", cx.Sepc)
			p.Exit(t, -2)
		default:
			return errors.Errorf("unknown trap %d from pid %d", trap, t.Pid)
		}
	}

	if t.Status() == Ready {
		k.Manager.Add(t)
	}

	return nil
}
