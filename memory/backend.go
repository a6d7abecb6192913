package memory

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrOutOfFrames   = errors.New("out of physical frames")
	ErrAlreadyMapped = errors.New("virtual page already mapped")
	ErrNotMapped     = errors.New("virtual page not mapped")
)

// PTEFlags are the RISC-V Sv39 page table entry bits the core cares about.
type PTEFlags uint8

const (
	PTEValid PTEFlags = 1 << iota
	PTERead
	PTEWrite
	PTEExec
	PTEUser
)

type PTE struct {
	PPN   PhysPageNum
	Flags PTEFlags
}

func (p PTE) Valid() bool      { return p.Flags&PTEValid != 0 }
func (p PTE) Readable() bool   { return p.Flags&PTERead != 0 }
func (p PTE) Writable() bool   { return p.Flags&PTEWrite != 0 }
func (p PTE) Executable() bool { return p.Flags&PTEExec != 0 }
func (p PTE) User() bool       { return p.Flags&PTEUser != 0 }

// Token identifies an address space to the hardware (the satp value).
type Token uint64

const satpSv39 = 8 << 60

func MakeToken(root PhysPageNum) Token {
	return Token(satpSv39 | uint64(root))
}

func (t Token) Root() PhysPageNum {
	return PhysPageNum(uint64(t) &^ satpSv39)
}

// FrameAllocator hands out physical frames. Alloc returns zeroed frames.
type FrameAllocator interface {
	Alloc() (PhysPageNum, error)
	Dealloc(ppn PhysPageNum)
}

// FreeCounter is implemented by allocators that can report how many frames
// are left.
type FreeCounter interface {
	Free() int
}

type PageTable interface {
	Token() Token
	Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) error
	Unmap(vpn VirtPageNum) error
	Translate(vpn VirtPageNum) (PTE, bool)
}

// Backend bundles the machine-level collaborators an address space needs:
// frames, direct access to frame contents and page table construction.
type Backend interface {
	FrameAllocator

	// Frame returns the kernel view of a physical frame's bytes.
	Frame(ppn PhysPageNum) []byte

	NewPageTable() (PageTable, error)
	PageTable(token Token) (PageTable, bool)
	ReleasePageTable(pt PageTable)
}

// SimBackend is a host-memory stand-in for physical RAM and the MMU. Frames
// are recycled LIFO, the way a stack frame allocator does it.
type SimBackend struct {
	mu sync.Mutex

	ram  []byte
	base PhysPageNum
	next PhysPageNum
	end  PhysPageNum

	recycled []PhysPageNum
	inUse    map[PhysPageNum]struct{}

	tables map[PhysPageNum]*simPageTable
}

const simRAMBase = PhysPageNum(0x80000)

func NewSimBackend(frames int) *SimBackend {
	return &SimBackend{
		ram:    make([]byte, frames*PageSize),
		base:   simRAMBase,
		next:   simRAMBase,
		end:    simRAMBase + PhysPageNum(frames),
		inUse:  make(map[PhysPageNum]struct{}),
		tables: make(map[PhysPageNum]*simPageTable),
	}
}

func (s *SimBackend) Alloc() (PhysPageNum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ppn PhysPageNum

	if n := len(s.recycled); n > 0 {
		ppn = s.recycled[n-1]
		s.recycled = s.recycled[:n-1]
	} else if s.next < s.end {
		ppn = s.next
		s.next++
	} else {
		return 0, ErrOutOfFrames
	}

	s.inUse[ppn] = struct{}{}

	frame := s.frame(ppn)
	for i := range frame {
		frame[i] = 0
	}

	return ppn, nil
}

func (s *SimBackend) Dealloc(ppn PhysPageNum) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inUse[ppn]; !ok {
		panic(errors.Errorf("frame ppn=%#x has not been allocated", uint64(ppn)))
	}

	delete(s.inUse, ppn)
	s.recycled = append(s.recycled, ppn)
}

// Free reports how many frames can still be allocated.
func (s *SimBackend) Free() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return int(s.end-s.next) + len(s.recycled)
}

func (s *SimBackend) Frame(ppn PhysPageNum) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.frame(ppn)
}

func (s *SimBackend) frame(ppn PhysPageNum) []byte {
	if ppn < s.base || ppn >= s.end {
		panic(errors.Errorf("frame ppn=%#x outside of physical memory", uint64(ppn)))
	}

	off := uint64(ppn-s.base) * PageSize
	return s.ram[off : off+PageSize]
}

func (s *SimBackend) NewPageTable() (PageTable, error) {
	root, err := s.Alloc()
	if err != nil {
		return nil, err
	}

	pt := &simPageTable{
		root:    root,
		entries: make(map[VirtPageNum]PTE),
	}

	s.mu.Lock()
	s.tables[root] = pt
	s.mu.Unlock()

	return pt, nil
}

func (s *SimBackend) PageTable(token Token) (PageTable, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pt, ok := s.tables[token.Root()]
	if !ok {
		return nil, false
	}

	return pt, true
}

func (s *SimBackend) ReleasePageTable(pt PageTable) {
	root := pt.Token().Root()

	s.mu.Lock()
	delete(s.tables, root)
	s.mu.Unlock()

	s.Dealloc(root)
}

type simPageTable struct {
	root    PhysPageNum
	entries map[VirtPageNum]PTE
}

func (pt *simPageTable) Token() Token {
	return MakeToken(pt.root)
}

func (pt *simPageTable) Map(vpn VirtPageNum, ppn PhysPageNum, flags PTEFlags) error {
	if pte, ok := pt.entries[vpn]; ok && pte.Valid() {
		return errors.Wrapf(ErrAlreadyMapped, "vpn=%#x", uint64(vpn))
	}

	pt.entries[vpn] = PTE{PPN: ppn, Flags: flags | PTEValid}
	return nil
}

func (pt *simPageTable) Unmap(vpn VirtPageNum) error {
	if _, ok := pt.entries[vpn]; !ok {
		return errors.Wrapf(ErrNotMapped, "vpn=%#x", uint64(vpn))
	}

	delete(pt.entries, vpn)
	return nil
}

func (pt *simPageTable) Translate(vpn VirtPageNum) (PTE, bool) {
	pte, ok := pt.entries[vpn]
	return pte, ok
}
