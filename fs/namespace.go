package fs

import (
	"path"
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

const DefaultCacheSize = 1000

// FileSystem is the inode store: a directory tree over a block device with
// hard links. Resolved paths are kept in an ARC cache.
type FileSystem struct {
	// mu protects the directory tree. Lock order: mu, then Inode.mu, then
	// blockMu / inoMu.
	mu sync.Mutex

	dev BlockDevice

	blockMu    sync.Mutex
	nextBlock  uint32
	freeBlocks []uint32

	inoMu   sync.Mutex
	nextIno uint64
	inodes  map[uint64]*Inode

	root  *Inode
	cache *lru.ARCCache
}

func New(dev BlockDevice, cacheSize int) (*FileSystem, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	cache, err := lru.NewARC(cacheSize)
	if err != nil {
		return nil, err
	}

	f := &FileSystem{
		dev:    dev,
		inodes: make(map[uint64]*Inode),
		cache:  cache,
	}

	f.root = f.newInode(Directory)

	return f, nil
}

func (f *FileSystem) Root() *Inode {
	return f.root
}

// Inodes returns the number of live inodes, the root included.
func (f *FileSystem) Inodes() int {
	f.inoMu.Lock()
	defer f.inoMu.Unlock()

	return len(f.inodes)
}

// FreeBlocks returns how many blocks are still available.
func (f *FileSystem) FreeBlocks() int {
	f.blockMu.Lock()
	defer f.blockMu.Unlock()

	return int(f.dev.NumBlocks()-f.nextBlock) + len(f.freeBlocks)
}

func (f *FileSystem) newInode(typ InodeType) *Inode {
	f.inoMu.Lock()
	defer f.inoMu.Unlock()

	f.nextIno++

	i := &Inode{
		ID:    f.nextIno,
		Type:  typ,
		fs:    f,
		links: 1,
	}

	if typ == Directory {
		i.children = make(map[string]*Inode)
	}

	f.inodes[i.ID] = i

	return i
}

func (f *FileSystem) dropInode(i *Inode) {
	f.inoMu.Lock()
	defer f.inoMu.Unlock()

	delete(f.inodes, i.ID)
}

func (f *FileSystem) allocBlock() (uint32, error) {
	f.blockMu.Lock()
	defer f.blockMu.Unlock()

	if n := len(f.freeBlocks); n > 0 {
		id := f.freeBlocks[n-1]
		f.freeBlocks = f.freeBlocks[:n-1]
		return id, nil
	}

	if f.nextBlock >= f.dev.NumBlocks() {
		return 0, ErrNoSpace
	}

	id := f.nextBlock
	f.nextBlock++

	return id, nil
}

func (f *FileSystem) freeBlock(id uint32) {
	f.blockMu.Lock()
	defer f.blockMu.Unlock()

	f.freeBlocks = append(f.freeBlocks, id)
}

func cleanPath(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// Lookup resolves path to an inode.
func (f *FileSystem) Lookup(p string) (*Inode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.lookupLocked(cleanPath(p))
}

func (f *FileSystem) lookupLocked(p string) (*Inode, error) {
	if p == "" {
		return f.root, nil
	}

	if val, ok := f.cache.Get(p); ok {
		return val.(*Inode), nil
	}

	cur := f.root

	for _, part := range strings.Split(p, "/") {
		if !cur.IsDir() {
			return nil, errors.Wrapf(ErrNotDirectory, "component: %s", part)
		}

		child, ok := cur.children[part]
		if !ok {
			return nil, errors.Wrapf(ErrUnknownPath, "path: %s", p)
		}

		cur = child
	}

	f.cache.Add(p, cur)

	return cur, nil
}

func (f *FileSystem) parentLocked(p string) (*Inode, string, error) {
	if p == "" {
		return nil, "", errors.Wrap(ErrIsDir, "root")
	}

	dir, name := path.Split(p)

	parent, err := f.lookupLocked(strings.TrimSuffix(dir, "/"))
	if err != nil {
		return nil, "", err
	}

	if !parent.IsDir() {
		return nil, "", errors.Wrapf(ErrNotDirectory, "path: %s", dir)
	}

	return parent, name, nil
}

func (i *Inode) addChild(name string, child *Inode) {
	i.children[name] = child
	i.order = append(i.order, name)
}

func (i *Inode) removeChild(name string) {
	delete(i.children, name)

	for idx, n := range i.order {
		if n == name {
			i.order = append(i.order[:idx], i.order[idx+1:]...)
			break
		}
	}
}

// Create makes a new, empty inode of type typ at path. The parent directory
// must exist and path must not.
func (f *FileSystem) Create(p string, typ InodeType) (*Inode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = cleanPath(p)

	parent, name, err := f.parentLocked(p)
	if err != nil {
		return nil, err
	}

	if _, ok := parent.children[name]; ok {
		return nil, errors.Wrapf(ErrExists, "path: %s", p)
	}

	i := f.newInode(typ)
	parent.addChild(name, i)

	return i, nil
}

// MkdirAll creates a directory and any missing parents.
func (f *FileSystem) MkdirAll(p string) error {
	p = cleanPath(p)
	if p == "" {
		return nil
	}

	cur := ""
	for _, part := range strings.Split(p, "/") {
		cur = path.Join(cur, part)

		i, err := f.Lookup(cur)
		if err == nil {
			if !i.IsDir() {
				return errors.Wrapf(ErrNotDirectory, "path: %s", cur)
			}
			continue
		}

		if errors.Cause(err) != ErrUnknownPath {
			return err
		}

		if _, err := f.Create(cur, Directory); err != nil {
			return err
		}
	}

	return nil
}

// Link adds newPath as another name for the regular file at oldPath.
func (f *FileSystem) Link(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	oldPath, newPath = cleanPath(oldPath), cleanPath(newPath)

	target, err := f.lookupLocked(oldPath)
	if err != nil {
		return err
	}

	if target.IsDir() {
		return errors.Wrapf(ErrIsDir, "path: %s", oldPath)
	}

	parent, name, err := f.parentLocked(newPath)
	if err != nil {
		return err
	}

	if _, ok := parent.children[name]; ok {
		return errors.Wrapf(ErrExists, "path: %s", newPath)
	}

	target.incLinks()
	parent.addChild(name, target)

	return nil
}

// Unlink removes the directory entry at path. Directories must be empty.
func (f *FileSystem) Unlink(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p = cleanPath(p)

	parent, name, err := f.parentLocked(p)
	if err != nil {
		return err
	}

	target, ok := parent.children[name]
	if !ok {
		return errors.Wrapf(ErrUnknownPath, "path: %s", p)
	}

	if target.IsDir() && len(target.children) > 0 {
		return errors.Wrapf(ErrNotEmpty, "path: %s", p)
	}

	parent.removeChild(name)
	f.cache.Remove(p)

	target.decLinks()

	return nil
}

// List returns the names in the directory at path in creation order.
func (f *FileSystem) List(p string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir, err := f.lookupLocked(cleanPath(p))
	if err != nil {
		return nil, err
	}

	if !dir.IsDir() {
		return nil, errors.Wrapf(ErrNotDirectory, "path: %s", p)
	}

	out := make([]string, len(dir.order))
	copy(out, dir.order)

	return out, nil
}
