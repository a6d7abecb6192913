package fs

import (
	"sync"

	"github.com/evanphx/rvos/memory"
	"github.com/pkg/errors"
)

var (
	ErrNotReadable = errors.New("file not open for reading")
	ErrNotWritable = errors.New("file not open for writing")
	ErrClosed      = errors.New("file already closed")
)

// StatMode is the file type reported by fstat.
type StatMode uint32

const (
	ModeNone StatMode = 0
	ModeDir  StatMode = 0o040000
	ModeFile StatMode = 0o100000
)

// Stat is the fixed 80 byte record fstat copies to user space.
type Stat struct {
	Dev   uint64
	Ino   uint64
	Mode  StatMode
	Nlink uint32
	_     [7]uint64
}

// File is a descriptor-table entry. The set of implementations is closed:
// Stdin, Stdout and OSInode.
type File interface {
	Readable() bool
	Writable() bool

	// Read fills buf from the file and returns the number of bytes read.
	Read(buf *memory.UserBuffer) (int, error)

	// Write drains buf into the file and returns the number of bytes written.
	Write(buf *memory.UserBuffer) (int, error)

	Links() uint32
	Mode() StatMode
	Ino() uint64

	Close() error
}

// StatFile reports the live attributes of f. There is one device, so Dev is
// always 0.
func StatFile(f File) Stat {
	return Stat{
		Dev:   0,
		Ino:   f.Ino(),
		Mode:  f.Mode(),
		Nlink: f.Links(),
	}
}

type OpenFlags uint32

const (
	RDONLY OpenFlags = 0
	WRONLY OpenFlags = 1 << 0
	RDWR   OpenFlags = 1 << 1
	CREATE OpenFlags = 1 << 9
	TRUNC  OpenFlags = 1 << 10

	knownFlags = WRONLY | RDWR | CREATE | TRUNC
)

func (f OpenFlags) Valid() bool {
	return f&^knownFlags == 0
}

// ReadWrite returns the access mode encoded in the flags.
func (f OpenFlags) ReadWrite() (readable, writable bool) {
	switch {
	case f == RDONLY:
		return true, false
	case f&WRONLY != 0:
		return false, true
	default:
		return true, true
	}
}

// OSInode is an open file in the inode store with its own offset.
type OSInode struct {
	readable, writable bool

	mu     sync.Mutex
	offset uint64
	inode  *Inode
	closed bool
}

func newOSInode(readable, writable bool, inode *Inode) *OSInode {
	inode.open()

	return &OSInode{
		readable: readable,
		writable: writable,
		inode:    inode,
	}
}

// OpenFile opens path with flags. CREATE makes a missing file, TRUNC empties
// an existing one. Directories can only be opened read-only.
func OpenFile(fsys *FileSystem, path string, flags OpenFlags) (*OSInode, error) {
	if !flags.Valid() {
		return nil, errors.Errorf("unknown open flags %#x", uint32(flags))
	}

	readable, writable := flags.ReadWrite()

	inode, err := fsys.Lookup(path)
	switch {
	case err == nil:
	case errors.Cause(err) == ErrUnknownPath && flags&CREATE != 0:
		inode, err = fsys.Create(path, RegularFile)
		if err != nil {
			return nil, err
		}

		return newOSInode(readable, writable, inode), nil
	default:
		return nil, err
	}

	if inode.IsDir() {
		if writable || flags&(CREATE|TRUNC) != 0 {
			return nil, errors.Wrapf(ErrIsDir, "path: %s", path)
		}

		return newOSInode(readable, writable, inode), nil
	}

	if flags&TRUNC != 0 {
		inode.Clear()
	}

	return newOSInode(readable, writable, inode), nil
}

func (o *OSInode) Readable() bool { return o.readable }
func (o *OSInode) Writable() bool { return o.writable }

func (o *OSInode) Read(buf *memory.UserBuffer) (int, error) {
	if !o.readable {
		return 0, ErrNotReadable
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrClosed
	}

	total := 0
	for _, slice := range buf.Slices() {
		n, err := o.inode.ReadAt(slice, o.offset)
		o.offset += uint64(n)
		total += n

		if err != nil {
			return total, err
		}

		if n < len(slice) {
			break
		}
	}

	return total, nil
}

func (o *OSInode) Write(buf *memory.UserBuffer) (int, error) {
	if !o.writable {
		return 0, ErrNotWritable
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, ErrClosed
	}

	total := 0
	for _, slice := range buf.Slices() {
		n, err := o.inode.WriteAt(slice, o.offset)
		o.offset += uint64(n)
		total += n

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// ReadAll returns the file contents from the start regardless of offset.
func (o *OSInode) ReadAll() ([]byte, error) {
	return o.inode.ReadAll()
}

func (o *OSInode) Links() uint32 {
	return o.inode.Links()
}

func (o *OSInode) Mode() StatMode {
	if o.inode.IsDir() {
		return ModeDir
	}

	return ModeFile
}

func (o *OSInode) Ino() uint64 {
	return o.inode.ID
}

func (o *OSInode) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return ErrClosed
	}

	o.closed = true
	o.inode.release()

	return nil
}
