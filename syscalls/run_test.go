package syscalls

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/evanphx/rvos/kernel"
	"github.com/evanphx/rvos/memory"
)

type step func(cx *kernel.TrapContext) kernel.Trap

// scriptHart runs Go-scripted programs, one per text page, advancing one
// step per trap.
type scriptHart struct {
	programs map[uint64][]step
}

func (h *scriptHart) Enter(ctx context.Context, cx *kernel.TrapContext, token memory.Token) (kernel.Trap, error) {
	base := cx.Sepc &^ (memory.PageSize - 1)

	prog, ok := h.programs[base]
	if !ok {
		return 0, errors.Errorf("no program at %#x", cx.Sepc)
	}

	idx := int((cx.Sepc - base) / 4)
	if idx >= len(prog) {
		return kernel.TrapFault, nil
	}

	trap := prog[idx](cx)
	if trap != kernel.TrapSyscall {
		cx.Sepc += 4
	}

	return trap, nil
}

func ecall(id uint64, args ...uint64) step {
	return func(cx *kernel.TrapContext) kernel.Trap {
		cx.X[kernel.RegA7] = id
		for i, a := range args {
			cx.X[kernel.RegA0+i] = a
		}

		return kernel.TrapSyscall
	}
}

func TestRun(t *testing.T) {
	n := neko.Modern(t)

	n.It("runs a shell-like parent and child to completion", func(t *testing.T) {
		e := newTestEnv(t)

		greeting := e.put(t, scratch, []byte("parent\n"))
		childMsg := e.put(t, scratch+0x10, []byte("child\n"))
		other := e.putString(t, scratch+0x20, "other")
		code := scratch + 0x100

		// s1 holds the child pid; a waitpid that reports -2 backs up to
		// yield and retry.
		var (
			waitStep int
			got      int32
		)

		parent := []step{
			ecall(SYS_WRITE, 1, greeting, 7),
			ecall(SYS_FORK),
			func(cx *kernel.TrapContext) kernel.Trap {
				if cx.X[kernel.RegA0] == 0 {
					return ecall(SYS_WRITE, 1, childMsg, 6)(cx)
				}

				cx.X[9] = cx.X[kernel.RegA0]
				return ecall(SYS_YIELD)(cx)
			},
			func(cx *kernel.TrapContext) kernel.Trap {
				if cx.X[9] == 0 {
					return ecall(SYS_EXEC, other)(cx)
				}

				return ecall(SYS_WAITPID, cx.X[9], code)(cx)
			},
			func(cx *kernel.TrapContext) kernel.Trap {
				waitStep++

				if int64(cx.X[kernel.RegA0]) == -2 {
					cx.Sepc -= 8
					return ecall(SYS_YIELD)(cx)
				}

				// the root task's memory goes away with it
				e.get(t, code, &got)

				return ecall(SYS_EXIT, 0)(cx)
			},
		}

		spawned := []step{
			ecall(SYS_GETPID),
			func(cx *kernel.TrapContext) kernel.Trap {
				return ecall(SYS_EXIT, cx.X[kernel.RegA0]+100)(cx)
			},
		}

		hart := &scriptHart{programs: map[uint64][]step{
			initEntry:  parent,
			otherEntry: spawned,
		}}

		exit, err := e.k.Run(context.Background(), hart, e.inv)
		require.NoError(t, err)
		require.Equal(t, int32(0), exit)

		require.Equal(t, "parent\nchild\n", e.out.String())
		require.Equal(t, 1, e.k.Tasks())
		require.GreaterOrEqual(t, waitStep, 1)

		// exit code 100+pid
		require.Equal(t, int32(102), got)
	})

	n.It("exits a faulting child with -2", func(t *testing.T) {
		e := newTestEnv(t)

		code := scratch + 0x100

		var got int32

		parent := []step{
			ecall(SYS_SPAWN, e.putString(t, scratch, "other")),
			func(cx *kernel.TrapContext) kernel.Trap {
				cx.X[9] = cx.X[kernel.RegA0]
				return ecall(SYS_YIELD)(cx)
			},
			func(cx *kernel.TrapContext) kernel.Trap {
				return ecall(SYS_WAITPID, cx.X[9], code)(cx)
			},
			func(cx *kernel.TrapContext) kernel.Trap {
				e.get(t, code, &got)
				return ecall(SYS_EXIT, cx.X[kernel.RegA0])(cx)
			},
		}

		hart := &scriptHart{programs: map[uint64][]step{
			initEntry:  parent,
			otherEntry: {},
		}}

		exit, err := e.k.Run(context.Background(), hart, e.inv)
		require.NoError(t, err)
		require.Equal(t, int32(2), exit)
		require.Equal(t, int32(-2), got)
	})

	n.Meow()
}
