package kernel

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"
)

func TestPidAllocator(t *testing.T) {
	n := neko.Modern(t)

	n.It("allocates increasing pids and reuses the last released", func(t *testing.T) {
		p := NewPidAllocator(0)

		for want := 1; want <= 4; want++ {
			pid, err := p.Alloc()
			require.NoError(t, err)
			require.Equal(t, want, pid)
		}

		p.Dealloc(2)
		p.Dealloc(3)

		pid, err := p.Alloc()
		require.NoError(t, err)
		require.Equal(t, 3, pid)

		pid, err = p.Alloc()
		require.NoError(t, err)
		require.Equal(t, 2, pid)

		pid, err = p.Alloc()
		require.NoError(t, err)
		require.Equal(t, 5, pid)
	})

	n.It("runs out at the limit", func(t *testing.T) {
		p := NewPidAllocator(2)

		_, err := p.Alloc()
		require.NoError(t, err)
		_, err = p.Alloc()
		require.NoError(t, err)

		_, err = p.Alloc()
		require.Equal(t, ErrNoPid, err)

		p.Dealloc(1)

		pid, err := p.Alloc()
		require.NoError(t, err)
		require.Equal(t, 1, pid)
	})

	n.It("panics on bad releases", func(t *testing.T) {
		p := NewPidAllocator(0)

		pid, err := p.Alloc()
		require.NoError(t, err)

		require.Panics(t, func() { p.Dealloc(7) })

		p.Dealloc(pid)
		require.Panics(t, func() { p.Dealloc(pid) })
	})

	n.Meow()
}
