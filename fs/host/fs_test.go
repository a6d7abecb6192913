package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vektra/neko"

	"github.com/evanphx/rvos/fs"
)

func TestImport(t *testing.T) {
	n := neko.Modern(t)

	n.It("copies a host tree", func(t *testing.T) {
		root := t.TempDir()

		require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "bin"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "usr", "bin", "hello"), []byte("hi there"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(root, "initproc"), []byte("init"), 0644))

		fsys, err := fs.New(fs.NewMemDevice(64), 0)
		require.NoError(t, err)

		require.NoError(t, Import(fsys, root))

		i, err := fsys.Lookup("usr/bin/hello")
		require.NoError(t, err)

		data, err := i.ReadAll()
		require.NoError(t, err)
		require.Equal(t, "hi there", string(data))

		names, err := fsys.List("/")
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"initproc", "usr"}, names)
	})

	n.It("wants a directory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, nil, 0644))

		fsys, err := fs.New(fs.NewMemDevice(8), 0)
		require.NoError(t, err)

		err = Import(fsys, file)
		require.Equal(t, fs.ErrNotDirectory, errors.Cause(err))
	})

	n.Meow()
}
