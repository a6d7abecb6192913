package fs

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrUnknownPath  = errors.New("unknown path")
	ErrExists       = errors.New("path already exists")
	ErrNotDirectory = errors.New("not a directory")
	ErrIsDir        = errors.New("is a directory")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrNoSpace      = errors.New("no free blocks")
)

// InodeType enumerates types of Inodes.
type InodeType int

const (
	// RegularFile is a regular file.
	RegularFile InodeType = iota

	// Directory is a directory.
	Directory
)

// String returns a human-readable representation of the InodeType.
func (n InodeType) String() string {
	switch n {
	case RegularFile:
		return "file"
	case Directory:
		return "directory"
	default:
		return "unknown"
	}
}

// Inode is one file or directory. Its link count is shared by every
// directory entry that names it; storage goes back to the block pool once
// the last link is gone and no open handle remains.
type Inode struct {
	ID   uint64
	Type InodeType

	fs *FileSystem

	mu     sync.Mutex
	links  uint32
	opens  int
	size   uint64
	blocks []uint32

	// Directory entries, protected by fs.mu.
	children map[string]*Inode
	order    []string
}

func (i *Inode) IsDir() bool {
	return i.Type == Directory
}

// Links returns the current number of directory entries naming this inode.
func (i *Inode) Links() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.links
}

func (i *Inode) Size() uint64 {
	i.mu.Lock()
	defer i.mu.Unlock()

	return i.size
}

func (i *Inode) ReadAt(p []byte, off uint64) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if off >= i.size {
		return 0, nil
	}

	end := off + uint64(len(p))
	if end > i.size {
		end = i.size
	}

	var blk [BlockSize]byte

	n := 0
	for pos := off; pos < end; {
		if err := i.fs.dev.ReadBlock(i.blocks[pos/BlockSize], blk[:]); err != nil {
			return n, err
		}

		c := copy(p[n:end-off], blk[pos%BlockSize:])
		n += c
		pos += uint64(c)
	}

	return n, nil
}

func (i *Inode) WriteAt(p []byte, off uint64) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	end := off + uint64(len(p))

	if err := i.growLocked(end); err != nil {
		return 0, err
	}

	var blk [BlockSize]byte

	n := 0
	for pos := off; pos < end; {
		id := i.blocks[pos/BlockSize]

		if err := i.fs.dev.ReadBlock(id, blk[:]); err != nil {
			return n, err
		}

		c := copy(blk[pos%BlockSize:], p[n:])

		if err := i.fs.dev.WriteBlock(id, blk[:]); err != nil {
			return n, err
		}

		n += c
		pos += uint64(c)
	}

	if end > i.size {
		i.size = end
	}

	return n, nil
}

func (i *Inode) growLocked(size uint64) error {
	need := int((size + BlockSize - 1) / BlockSize)

	var zero [BlockSize]byte

	for len(i.blocks) < need {
		id, err := i.fs.allocBlock()
		if err != nil {
			return err
		}

		if err := i.fs.dev.WriteBlock(id, zero[:]); err != nil {
			i.fs.freeBlock(id)
			return err
		}

		i.blocks = append(i.blocks, id)
	}

	return nil
}

// Clear truncates the inode to zero length.
func (i *Inode) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.clearLocked()
}

func (i *Inode) clearLocked() {
	for _, id := range i.blocks {
		i.fs.freeBlock(id)
	}

	i.blocks = nil
	i.size = 0
}

// ReadAll returns the whole file contents.
func (i *Inode) ReadAll() ([]byte, error) {
	buf := make([]byte, i.Size())

	n, err := i.ReadAt(buf, 0)
	if err != nil {
		return nil, err
	}

	return buf[:n], nil
}

func (i *Inode) open() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.opens++
}

func (i *Inode) release() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.opens--
	i.reclaimLocked()
}

func (i *Inode) incLinks() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.links++
}

func (i *Inode) decLinks() {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.links--
	i.reclaimLocked()
}

func (i *Inode) reclaimLocked() {
	if i.links > 0 || i.opens > 0 {
		return
	}

	i.clearLocked()
	i.fs.dropInode(i)
}
