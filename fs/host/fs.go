package host

import (
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/evanphx/rvos/fs"
	"github.com/evanphx/rvos/log"
	"github.com/pkg/errors"
)

// Import copies the host directory tree at root into fsys. Paths inside fsys
// are relative to root. Symlinks and special files are skipped.
func Import(fsys *fs.FileSystem, root string) error {
	log.L.Trace("importing host fs", "path", root)

	stat, err := os.Stat(root)
	if err != nil {
		log.L.Error("error stating hostfs path", "error", err)
		return err
	}

	if !stat.IsDir() {
		return errors.Wrapf(fs.ErrNotDirectory, "host path: %s", root)
	}

	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		if rel == "." {
			return nil
		}

		rel = filepath.ToSlash(rel)

		switch {
		case info.IsDir():
			return fsys.MkdirAll(rel)
		case info.Mode().IsRegular():
			return importFile(fsys, path, rel)
		default:
			log.L.Debug("skipping host entry", "path", path, "mode", info.Mode())
			return nil
		}
	})
}

func importFile(fsys *fs.FileSystem, hostPath, name string) error {
	log.L.Trace("import host file", "host", hostPath, "name", name)

	data, err := ioutil.ReadFile(hostPath)
	if err != nil {
		return err
	}

	inode, err := fsys.Create(name, fs.RegularFile)
	if err != nil {
		return err
	}

	_, err = inode.WriteAt(data, 0)
	return err
}
