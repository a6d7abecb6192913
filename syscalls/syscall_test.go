package syscalls

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/evanphx/rvos/fs"
	"github.com/evanphx/rvos/kernel"
	"github.com/evanphx/rvos/loader"
	"github.com/evanphx/rvos/memory"
)

const (
	initEntry  = 0x10000
	otherEntry = 0x20000

	// scratch data page of the init image
	scratch uint64 = initEntry + memory.PageSize
)

func testImage(entry uint64) *loader.Image {
	return &loader.Image{
		Entry: entry,
		Segments: []memory.Segment{
			{Vaddr: memory.VirtAddr(entry), MemSize: memory.PageSize, Data: []byte{0x73, 0, 0, 0}, Perm: memory.PermRead | memory.PermExec},
			{Vaddr: memory.VirtAddr(entry + memory.PageSize), MemSize: memory.PageSize, Perm: memory.PermRead | memory.PermWrite},
		},
	}
}

type fakeClock struct {
	us uint64
}

func (c *fakeClock) NowMicros() uint64 {
	return c.us
}

type testEnv struct {
	k     *kernel.Kernel
	init  *kernel.Task
	inv   *Invoker
	ctx   context.Context
	out   *bytes.Buffer
	clock *fakeClock
}

func newTestEnv(t *testing.T) *testEnv {
	fsys, err := fs.New(fs.NewMemDevice(1024), 0)
	require.NoError(t, err)

	for path, img := range map[string]*loader.Image{
		"initproc": testImage(initEntry),
		"other":    testImage(otherEntry),
	} {
		f, err := fs.OpenFile(fsys, path, fs.CREATE|fs.WRONLY)
		require.NoError(t, err)

		_, err = f.Write(memory.NewUserBuffer([][]byte{loader.Encode(img)}))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	var out bytes.Buffer

	k, err := kernel.NewKernel(kernel.DefaultConfig(), memory.NewSimBackend(256), fsys,
		kernel.Console{In: bytes.NewReader([]byte("typed")), Out: &out})
	require.NoError(t, err)

	clock := &fakeClock{us: 5*1000000 + 250}
	k.Clock = clock

	init, err := k.InitProcess("initproc")
	require.NoError(t, err)

	return &testEnv{
		k:     k,
		init:  init,
		inv:   NewInvoker(k),
		ctx:   kernel.SetTask(context.Background(), init),
		out:   &out,
		clock: clock,
	}
}

func (e *testEnv) call(id uint64, args ...uint64) int64 {
	var a [3]uint64
	copy(a[:], args)

	return e.inv.Syscall(e.ctx, id, a)
}

func (e *testEnv) callAs(task *kernel.Task, id uint64, args ...uint64) int64 {
	var a [3]uint64
	copy(a[:], args)

	return e.inv.Syscall(kernel.SetTask(context.Background(), task), id, a)
}

// put stores data at va in the init task, returning va for chaining into a
// syscall argument.
func (e *testEnv) put(t *testing.T, va uint64, data []byte) uint64 {
	bufs, err := memory.TranslatedByteBuffer(e.k.Mem, e.init.Token(), va, uint64(len(data)), true)
	require.NoError(t, err)

	_, err = memory.NewUserBuffer(bufs).Write(data)
	require.NoError(t, err)

	return va
}

func (e *testEnv) putString(t *testing.T, va uint64, s string) uint64 {
	return e.put(t, va, append([]byte(s), 0))
}

func (e *testEnv) get(t *testing.T, va uint64, val interface{}) {
	require.NoError(t, memory.CopyIn(e.k.Mem, e.init.Token(), va, val))
}

func mappable(e *testEnv, va uint64, write bool) bool {
	_, err := memory.TranslatedByteBuffer(e.k.Mem, e.init.Token(), va, 1, write)
	if err != nil && errors.Cause(err) != memory.ErrBadAddress {
		panic(err)
	}

	return err == nil
}

// neg passes a negative value through a register.
func neg(v int64) uint64 {
	return uint64(v)
}
