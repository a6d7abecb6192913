package kernel

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evanphx/rvos/fs"
	"github.com/evanphx/rvos/loader"
	"github.com/evanphx/rvos/memory"
)

// testImage is a two page program: text at entry, a scratch data page right
// after it.
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
	k     *Kernel
	mem   *memory.SimBackend
	out   *bytes.Buffer
	clock *fakeClock
}

func newTestKernel(t *testing.T, progs map[string]*loader.Image) *testEnv {
	fsys, err := fs.New(fs.NewMemDevice(1024), 0)
	require.NoError(t, err)

	for path, img := range progs {
		f, err := fs.OpenFile(fsys, path, fs.CREATE|fs.WRONLY)
		require.NoError(t, err)

		_, err = f.Write(memory.NewUserBuffer([][]byte{loader.Encode(img)}))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	mem := memory.NewSimBackend(256)

	var out bytes.Buffer

	k, err := NewKernel(DefaultConfig(), mem, fsys, Console{In: bytes.NewReader(nil), Out: &out})
	require.NoError(t, err)

	clock := &fakeClock{us: 1000000}
	k.Clock = clock

	return &testEnv{k: k, mem: mem, out: &out, clock: clock}
}

func writeUser(t *testing.T, task *Task, va uint64, data []byte) {
	bufs, err := memory.TranslatedByteBuffer(task.Kernel().Mem, task.Token(), va, uint64(len(data)), true)
	require.NoError(t, err)

	_, err = memory.NewUserBuffer(bufs).Write(data)
	require.NoError(t, err)
}

func readUser(t *testing.T, task *Task, va uint64, size int) []byte {
	bufs, err := memory.TranslatedByteBuffer(task.Kernel().Mem, task.Token(), va, uint64(size), false)
	require.NoError(t, err)

	out := make([]byte, size)
	_, err = memory.NewUserBuffer(bufs).Read(out)
	require.NoError(t, err)

	return out
}
