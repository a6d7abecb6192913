package kernel

import (
	"sync"

	"github.com/evanphx/rvos/fs"
)

// FileRef is a descriptor table slot. Fork shares the same FileRef between
// parent and child; the File is closed when the last reference goes.
type FileRef struct {
	fs.File

	mu   sync.Mutex
	refs int
}

func NewFileRef(f fs.File) *FileRef {
	return &FileRef{
		File: f,
		refs: 1,
	}
}

func (f *FileRef) incRef() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refs++
}

func (f *FileRef) Refs() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.refs
}

func (f *FileRef) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refs--
	if f.refs > 0 {
		return nil
	}

	return f.File.Close()
}
