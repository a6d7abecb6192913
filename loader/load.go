package loader

import (
	"bytes"
	"debug/elf"
	"encoding/base64"
	"io/ioutil"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/evanphx/rvos/log"
	"github.com/evanphx/rvos/memory"
	hclog "github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

var (
	ErrNotRISCV   = errors.New("not a 64-bit RISC-V executable")
	ErrNoLoadable = errors.New("no loadable segments")
	ErrBadSegment = errors.New("malformed loadable segment")
)

const DefaultCacheLen = 100

// Image is a parsed program: its entry point and the segments to map.
// Images are shared through the cache and must be treated as read-only.
type Image struct {
	Entry    uint64
	Segments []memory.Segment
}

type Cache struct {
	mu sync.RWMutex

	cache *lru.ARCCache
}

func NewCache(size int) *Cache {
	if size <= 0 {
		size = DefaultCacheLen
	}

	cache, err := lru.NewARC(size)
	if err != nil {
		panic(err)
	}

	return &Cache{cache: cache}
}

func (c *Cache) Lookup(key string) (*Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	val, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}

	return val.(*Image), true
}

func (c *Cache) Set(key string, img *Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, img)
}

func (c *Cache) Len() int {
	return c.cache.Len()
}

func NewLoader(cache *Cache) *Loader {
	return &Loader{
		L:     log.L.Named("loader"),
		cache: cache,
	}
}

type Loader struct {
	L     hclog.Logger
	cache *Cache
}

func (l *Loader) LoadFile(path string) (*Image, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return l.Load(data)
}

// Load parses an ELF executable, consulting the cache first.
func (l *Loader) Load(data []byte) (*Image, error) {
	var cacheKey string

	if l.cache != nil {
		sum := blake2b.Sum256(data)
		cacheKey = base64.URLEncoding.EncodeToString(sum[:])

		l.L.Trace("looking for cached image", "key", cacheKey)

		if img, ok := l.cache.Lookup(cacheKey); ok {
			return img, nil
		}
	}

	img, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		l.L.Debug("cached image", "key", cacheKey, "segments", len(img.Segments))
		l.cache.Set(cacheKey, img)
	}

	return img, nil
}

func permFromFlags(f elf.ProgFlag) memory.Permission {
	var perm memory.Permission

	if f&elf.PF_R != 0 {
		perm |= memory.PermRead
	}

	if f&elf.PF_W != 0 {
		perm |= memory.PermWrite
	}

	if f&elf.PF_X != 0 {
		perm |= memory.PermExec
	}

	return perm
}

// checkProg bounds a program header against the file and the user half of
// the address space before anything is sized from it.
func checkProg(p *elf.Prog, size uint64) error {
	switch {
	case p.Filesz > p.Memsz:
		return errors.Wrapf(ErrBadSegment, "vaddr=%#x filesz=%#x memsz=%#x", p.Vaddr, p.Filesz, p.Memsz)
	case p.Off > size || p.Filesz > size-p.Off:
		return errors.Wrapf(ErrBadSegment, "vaddr=%#x data %#x+%#x past end of file", p.Vaddr, p.Off, p.Filesz)
	case p.Vaddr+p.Memsz < p.Vaddr || p.Vaddr+p.Memsz > memory.UserTop:
		return errors.Wrapf(ErrBadSegment, "vaddr=%#x memsz=%#x outside user space", p.Vaddr, p.Memsz)
	}

	return nil
}

// Parse decodes the PT_LOAD segments of a 64-bit RISC-V ELF executable.
func Parse(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "parsing elf")
	}

	defer f.Close()

	if f.Class != elf.ELFCLASS64 || f.Machine != elf.EM_RISCV {
		return nil, errors.Wrapf(ErrNotRISCV, "class=%s machine=%s", f.Class, f.Machine)
	}

	img := &Image{Entry: f.Entry}

	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}

		if err := checkProg(p, uint64(len(data))); err != nil {
			return nil, err
		}

		body := make([]byte, p.Filesz)
		if len(body) > 0 {
			if _, err := p.ReadAt(body, 0); err != nil {
				return nil, errors.Wrapf(err, "reading segment at %#x", p.Vaddr)
			}
		}

		img.Segments = append(img.Segments, memory.Segment{
			Vaddr:   memory.VirtAddr(p.Vaddr),
			MemSize: p.Memsz,
			Data:    body,
			Perm:    permFromFlags(p.Flags),
		})
	}

	if len(img.Segments) == 0 {
		return nil, ErrNoLoadable
	}

	return img, nil
}
