package tarfs

import (
	"archive/tar"
	"io"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/evanphx/rvos/fs"
	"github.com/evanphx/rvos/log"
	"github.com/pkg/errors"
)

type entry struct {
	hdr  *tar.Header
	name string
}

func (e *entry) String() string {
	return spew.Sdump(e.hdr)
}

func cleanName(name string) string {
	if len(name) > 2 && name[:2] == "./" {
		name = name[2:]
	}

	if len(name) >= 1 && name[0] == '/' {
		name = name[1:]
	}

	return strings.TrimSuffix(name, "/")
}

// Import copies every directory, regular file and hard link of the tar
// stream r into fsys. Symlinks and device nodes are skipped.
func Import(fsys *fs.FileSystem, r io.Reader) error {
	tr := tar.NewReader(r)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}

		if err != nil {
			return err
		}

		e := &entry{hdr: hdr, name: cleanName(hdr.Name)}

		log.L.Trace("tar-entry", "name", e.name, "header", e)

		// root!
		if e.name == "" || e.name == "." {
			continue
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = fsys.MkdirAll(e.name)
		case tar.TypeReg:
			err = importFile(fsys, e.name, tr)
		case tar.TypeLink:
			err = importLink(fsys, cleanName(hdr.Linkname), e.name)
		default:
			log.L.Debug("skipping tar entry", "name", e.name, "type", hdr.Typeflag)
		}

		if err != nil {
			return errors.Wrapf(err, "importing %s", e.name)
		}
	}

	return nil
}

func importFile(fsys *fs.FileSystem, name string, r io.Reader) error {
	if err := fsys.MkdirAll(filepath.Dir(name)); err != nil {
		return err
	}

	data, err := ioutil.ReadAll(r)
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

func importLink(fsys *fs.FileSystem, target, name string) error {
	if err := fsys.MkdirAll(filepath.Dir(name)); err != nil {
		return err
	}

	return fsys.Link(target, name)
}
