package kernel

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/evanphx/rvos/fs"
	"github.com/evanphx/rvos/loader"
	"github.com/evanphx/rvos/memory"
)

func TestTaskLifecycle(t *testing.T) {
	n := neko.Modern(t)

	progs := map[string]*loader.Image{
		"initproc": testImage(0x10000),
		"other":    testImage(0x20000),
	}

	n.It("creates the root task with console descriptors", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		require.Equal(t, 1, init.Pid)
		require.Equal(t, Ready, init.Status())
		require.True(t, env.k.Manager.Contains(init))
		require.Equal(t, init, env.k.InitTask())

		inner, release := init.Inner()
		require.Len(t, inner.Files, 3)
		require.True(t, inner.Files[0].Readable())
		require.True(t, inner.Files[1].Writable())
		require.Equal(t, uint64(0x10000), inner.TrapCx.Sepc)
		require.Equal(t, uint64(inner.HeapBottom), inner.TrapCx.X[RegSP])
		require.Equal(t, inner.HeapBottom, inner.ProgramBrk)
		require.Equal(t, uint64(16), inner.Priority)
		require.Equal(t, BigStride/16, inner.Pass)
		release()

		require.Equal(t, uint64(Trampoline), init.KernelStack.Top+KernelStackSize+memory.PageSize)

		_, err = env.k.InitProcess("initproc")
		require.Equal(t, ErrInitRunning, err)
	})

	n.It("fails cleanly on a missing program", func(t *testing.T) {
		env := newTestKernel(t, progs)
		free := env.mem.Free()

		_, err := env.k.InitProcess("nope")
		require.Equal(t, fs.ErrUnknownPath, errors.Cause(err))

		require.Equal(t, 0, env.k.Tasks())
		require.Equal(t, free, env.mem.Free())
	})

	n.It("forks a copy that shares descriptors", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		writeUser(t, init, 0x11000, []byte("hi"))

		child, err := init.Fork()
		require.NoError(t, err)

		require.NotEqual(t, init.Pid, child.Pid)
		require.Equal(t, Ready, child.Status())
		require.False(t, env.k.Manager.Contains(child))
		require.NotEqual(t, init.Token(), child.Token())

		require.Equal(t, "hi", string(readUser(t, child, 0x11000, 2)))

		writeUser(t, child, 0x11000, []byte("yo"))
		require.Equal(t, "hi", string(readUser(t, init, 0x11000, 2)))

		pi, prelease := init.Inner()
		ci, crelease := child.Inner()

		require.Equal(t, pi.Files[1], ci.Files[1])
		require.Equal(t, 2, ci.Files[1].Refs())
		require.Equal(t, pi.TrapCx, ci.TrapCx)
		require.Equal(t, init.Pid, ci.Parent)
		require.Equal(t, []*Task{child}, pi.Children)

		crelease()
		prelease()
	})

	n.It("reaps exited children exactly once", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		free := env.mem.Free()

		child, err := init.Fork()
		require.NoError(t, err)

		found, exited := init.FindChild(-1)
		require.True(t, found)
		require.False(t, exited)

		_, _, err = init.WaitChild(-1)
		require.Equal(t, ErrStillRunning, err)

		_, _, err = init.WaitChild(child.Pid + 10)
		require.Equal(t, ErrNoChild, err)

		child.Exit(7)
		require.Equal(t, Zombie, child.Status())

		inner, release := init.Inner()
		require.Equal(t, 1, inner.Files[1].Refs())
		release()

		require.Panics(t, func() { child.Exit(1) })

		pid, code, err := init.WaitChild(child.Pid)
		require.NoError(t, err)
		require.Equal(t, child.Pid, pid)
		require.Equal(t, int32(7), code)

		_, ok := env.k.Lookup(child.Pid)
		require.False(t, ok)

		_, _, err = init.WaitChild(-1)
		require.Equal(t, ErrNoChild, err)

		require.Equal(t, free, env.mem.Free())

		again, err := init.Fork()
		require.NoError(t, err)
		require.Equal(t, child.Pid, again.Pid)
	})

	n.It("hands orphans to the root task", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		a, err := init.Fork()
		require.NoError(t, err)

		b, err := a.Fork()
		require.NoError(t, err)

		a.Exit(0)

		bi, release := b.Inner()
		require.Equal(t, init.Pid, bi.Parent)
		release()

		ii, release := init.Inner()
		require.Equal(t, []*Task{a, b}, ii.Children)
		release()

		pid, _, err := init.WaitChild(-1)
		require.NoError(t, err)
		require.Equal(t, a.Pid, pid)

		b.Exit(3)

		pid, code, err := init.WaitChild(b.Pid)
		require.NoError(t, err)
		require.Equal(t, b.Pid, pid)
		require.Equal(t, int32(3), code)
	})

	n.It("replaces the image on exec", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		free := env.mem.Free()

		img, err := env.k.LoadProgram("other")
		require.NoError(t, err)

		require.NoError(t, init.Exec(img))

		inner, release := init.Inner()
		require.Equal(t, uint64(0x20000), inner.TrapCx.Sepc)
		require.Len(t, inner.Files, 3)
		require.Equal(t, memory.VirtAddr(0x20000), inner.Space.Areas()[0].StartAddr())
		release()

		require.Equal(t, 1, init.Pid)
		require.Equal(t, free, env.mem.Free())
	})

	n.It("keeps the old image when exec fails", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		bad := &loader.Image{
			Entry: 0x30000,
			Segments: []memory.Segment{
				{Vaddr: 0x30000, MemSize: 0x2000, Perm: memory.PermRead},
				{Vaddr: 0x31000, MemSize: 0x10, Perm: memory.PermRead},
			},
		}

		require.Error(t, init.Exec(bad))

		inner, release := init.Inner()
		require.Equal(t, uint64(0x10000), inner.TrapCx.Sepc)
		release()
	})

	n.It("refuses to exec a directory", func(t *testing.T) {
		env := newTestKernel(t, progs)

		require.NoError(t, env.k.FS.MkdirAll("bin"))

		_, err := env.k.LoadProgram("bin")
		require.Equal(t, fs.ErrIsDir, errors.Cause(err))
	})

	n.It("spawns a queued child running the new image", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		img, err := env.k.LoadProgram("other")
		require.NoError(t, err)

		child, err := init.Spawn(img)
		require.NoError(t, err)

		require.True(t, env.k.Manager.Contains(child))

		ci, release := child.Inner()
		require.Equal(t, uint64(0x20000), ci.TrapCx.Sepc)
		require.Equal(t, init.Pid, ci.Parent)
		require.Equal(t, 2, ci.Files[1].Refs())
		release()
	})

	n.It("moves the program break", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		inner, release := init.Inner()
		bottom := inner.HeapBottom
		release()

		old, err := init.ChangeProgramBrk(0)
		require.NoError(t, err)
		require.Equal(t, bottom, old)

		old, err = init.ChangeProgramBrk(100)
		require.NoError(t, err)
		require.Equal(t, bottom, old)

		writeUser(t, init, uint64(bottom), []byte("heap"))

		_, err = init.ChangeProgramBrk(-200)
		require.Equal(t, ErrBadBrk, errors.Cause(err))

		old, err = init.ChangeProgramBrk(-100)
		require.NoError(t, err)
		require.Equal(t, bottom+100, old)

		_, err = memory.TranslatedByteBuffer(env.mem, init.Token(), uint64(bottom), 1, false)
		require.Equal(t, memory.ErrBadAddress, errors.Cause(err))
	})

	n.It("validates priorities", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		require.Equal(t, ErrBadPriority, errors.Cause(init.SetPriority(1)))
		require.Equal(t, ErrBadPriority, errors.Cause(init.SetPriority(-5)))

		require.NoError(t, init.SetPriority(2))

		inner, release := init.Inner()
		require.Equal(t, uint64(2), inner.Priority)
		require.Equal(t, BigStride/2, inner.Pass)
		release()
	})

	n.It("reuses the lowest free descriptor", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		var out bytes.Buffer

		require.Equal(t, 3, init.AllocFd(&fs.Stdout{W: &out}))

		require.NoError(t, init.CloseFile(1))
		require.Equal(t, ErrUnknownFile, init.CloseFile(1))
		require.Equal(t, ErrUnknownFile, init.CloseFile(42))

		_, ok := init.GetFile(1)
		require.False(t, ok)

		_, ok = init.GetFile(-1)
		require.False(t, ok)

		require.Equal(t, 1, init.AllocFd(&fs.Stdout{W: &out}))
	})

	n.It("takes a queued task off the ready queue when it exits", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		img, err := env.k.LoadProgram("other")
		require.NoError(t, err)

		child, err := init.Spawn(img)
		require.NoError(t, err)
		require.True(t, env.k.Manager.Contains(child))

		child.Exit(5)
		require.False(t, env.k.Manager.Contains(child))

		// only the root task is left to dispatch
		require.Equal(t, init, env.k.Manager.Fetch())
		require.Nil(t, env.k.Manager.Fetch())

		pid, code, err := init.WaitChild(-1)
		require.NoError(t, err)
		require.Equal(t, child.Pid, pid)
		require.Equal(t, int32(5), code)
	})

	n.It("drops every reference to a reaped child", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		a, err := init.Fork()
		require.NoError(t, err)

		b, err := init.Fork()
		require.NoError(t, err)

		a.Exit(1)

		pid, _, err := init.WaitChild(a.Pid)
		require.NoError(t, err)
		require.Equal(t, a.Pid, pid)

		inner, release := init.Inner()
		require.Equal(t, []*Task{b}, inner.Children)
		require.NotContains(t, inner.Children[:cap(inner.Children)], a)
		release()
	})

	n.It("dumps its state", func(t *testing.T) {
		env := newTestKernel(t, progs)

		init, err := env.k.InitProcess("initproc")
		require.NoError(t, err)

		dump := init.Dump()
		require.True(t, strings.Contains(dump, "Pid"))
		require.True(t, strings.Contains(dump, "r-xu"))
	})

	n.Meow()
}
