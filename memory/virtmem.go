package memory

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnaligned = errors.New("address not page aligned")
	ErrBadRange  = errors.New("bad address range")
	ErrConflict  = errors.New("range overlaps an existing area")
	ErrNoArea    = errors.New("no area matches range")
)

// Permission is the access granted to a memory area. The bit positions match
// the page table entry flags so a Permission converts directly.
type Permission uint8

const (
	PermRead  = Permission(PTERead)
	PermWrite = Permission(PTEWrite)
	PermExec  = Permission(PTEExec)
	PermUser  = Permission(PTEUser)
)

func (p Permission) String() string {
	var sb strings.Builder

	for _, f := range []struct {
		bit Permission
		c   byte
	}{{PermRead, 'r'}, {PermWrite, 'w'}, {PermExec, 'x'}, {PermUser, 'u'}} {
		if p&f.bit != 0 {
			sb.WriteByte(f.c)
		} else {
			sb.WriteByte('-')
		}
	}

	return sb.String()
}

// Area is a contiguous run of virtual pages with uniform permissions, each
// page backed by its own frame.
type Area struct {
	Start, End VirtPageNum
	Perm       Permission

	frames map[VirtPageNum]PhysPageNum
}

func (a *Area) StartAddr() VirtAddr { return a.Start.Addr() }
func (a *Area) EndAddr() VirtAddr   { return a.End.Addr() }
func (a *Area) Pages() int          { return int(a.End - a.Start) }

// overlaps treats an empty area (the heap before its first sbrk) as owning
// its first page so nothing else can be placed where it will grow.
func (a *Area) overlaps(start, end VirtPageNum) bool {
	aEnd := a.End
	if aEnd == a.Start {
		aEnd++
	}

	return start < aEnd && a.Start < end
}

// AddressSpace is the set of non-overlapping areas of one task, plus the
// page table that maps them.
type AddressSpace struct {
	backend Backend
	pt      PageTable

	// sorted by Start
	areas []*Area
}

func NewAddressSpace(b Backend) (*AddressSpace, error) {
	pt, err := b.NewPageTable()
	if err != nil {
		return nil, err
	}

	return &AddressSpace{
		backend: b,
		pt:      pt,
	}, nil
}

func (as *AddressSpace) Token() Token {
	return as.pt.Token()
}

func (as *AddressSpace) Translate(vpn VirtPageNum) (PTE, bool) {
	return as.pt.Translate(vpn)
}

// Areas returns a snapshot of the areas in address order.
func (as *AddressSpace) Areas() []*Area {
	out := make([]*Area, len(as.areas))
	copy(out, as.areas)
	return out
}

func (as *AddressSpace) findArea(start VirtPageNum) (int, *Area, bool) {
	for i, a := range as.areas {
		if a.Start == start {
			return i, a, true
		}
	}

	return 0, nil, false
}

func (as *AddressSpace) conflicts(start, end VirtPageNum, skip *Area) bool {
	for _, a := range as.areas {
		if a != skip && a.overlaps(start, end) {
			return true
		}
	}

	return false
}

// IsConflictRange reports whether any page of [start, end) is already
// covered by an area.
func (as *AddressSpace) IsConflictRange(start, end VirtAddr) bool {
	return as.conflicts(start.Floor(), end.Ceil(), nil)
}

// InsertFramedArea maps [start, end) with fresh zeroed frames. start must be
// page aligned and the range must not touch any existing area. On failure
// nothing is mapped.
func (as *AddressSpace) InsertFramedArea(start, end VirtAddr, perm Permission) error {
	if !start.Aligned() {
		return errors.Wrapf(ErrUnaligned, "start=%#x", uint64(start))
	}

	if start >= end {
		return errors.Wrapf(ErrBadRange, "start=%#x end=%#x", uint64(start), uint64(end))
	}

	if as.IsConflictRange(start, end) {
		return errors.Wrapf(ErrConflict, "start=%#x end=%#x", uint64(start), uint64(end))
	}

	_, err := as.push(&Area{Start: start.Floor(), End: end.Ceil(), Perm: perm}, 0, nil)
	return err
}

func (as *AddressSpace) push(area *Area, offset uint64, data []byte) (*Area, error) {
	if fc, ok := as.backend.(FreeCounter); ok && area.Pages() > fc.Free() {
		return nil, errors.Wrapf(ErrOutOfFrames, "area of %d pages", area.Pages())
	}

	area.frames = make(map[VirtPageNum]PhysPageNum)

	if err := as.mapRange(area, area.Start, area.End); err != nil {
		return nil, err
	}

	if len(data) > 0 {
		as.copyData(area, offset, data)
	}

	idx := sort.Search(len(as.areas), func(i int) bool {
		return as.areas[i].Start >= area.Start
	})

	as.areas = append(as.areas, nil)
	copy(as.areas[idx+1:], as.areas[idx:])
	as.areas[idx] = area

	return area, nil
}

// mapRange backs [from, to) of area with frames, undoing its own work if the
// allocator runs dry.
func (as *AddressSpace) mapRange(area *Area, from, to VirtPageNum) error {
	for vpn := from; vpn < to; vpn++ {
		ppn, err := as.backend.Alloc()
		if err != nil {
			as.unmapRange(area, from, vpn)
			return errors.Wrapf(err, "mapping vpn=%#x", uint64(vpn))
		}

		if err := as.pt.Map(vpn, ppn, PTEFlags(area.Perm)); err != nil {
			panic(errors.Wrap(err, "page table out of sync with areas"))
		}

		area.frames[vpn] = ppn
	}

	return nil
}

func (as *AddressSpace) unmapRange(area *Area, from, to VirtPageNum) {
	for vpn := from; vpn < to; vpn++ {
		ppn, ok := area.frames[vpn]
		if !ok {
			continue
		}

		if err := as.pt.Unmap(vpn); err != nil {
			panic(errors.Wrap(err, "page table out of sync with areas"))
		}

		as.backend.Dealloc(ppn)
		delete(area.frames, vpn)
	}
}

// copyData writes data into area starting offset bytes past the area start.
func (as *AddressSpace) copyData(area *Area, offset uint64, data []byte) {
	pos := offset

	for len(data) > 0 {
		vpn := area.Start + VirtPageNum(pos/PageSize)
		frame := as.backend.Frame(area.frames[vpn])

		n := copy(frame[pos%PageSize:], data)
		data = data[n:]
		pos += uint64(n)
	}
}

// UnmapArea removes the area spanning exactly [start, end) after rounding
// end up to a page boundary.
func (as *AddressSpace) UnmapArea(start, end VirtAddr) error {
	if start >= end {
		return errors.Wrapf(ErrBadRange, "start=%#x end=%#x", uint64(start), uint64(end))
	}

	idx, area, ok := as.findArea(start.Floor())
	if !ok || area.End != end.Ceil() {
		return errors.Wrapf(ErrNoArea, "start=%#x end=%#x", uint64(start), uint64(end))
	}

	as.unmapRange(area, area.Start, area.End)
	as.areas = append(as.areas[:idx], as.areas[idx+1:]...)

	return nil
}

// ShrinkTo moves the end of the area starting at start down to newEnd.
func (as *AddressSpace) ShrinkTo(start, newEnd VirtAddr) error {
	_, area, ok := as.findArea(start.Floor())
	if !ok {
		return errors.Wrapf(ErrNoArea, "start=%#x", uint64(start))
	}

	end := newEnd.Ceil()
	if end < area.Start || end > area.End {
		return errors.Wrapf(ErrBadRange, "shrink to %#x", uint64(newEnd))
	}

	as.unmapRange(area, end, area.End)
	area.End = end

	return nil
}

// AppendTo grows the area starting at start up to newEnd.
func (as *AddressSpace) AppendTo(start, newEnd VirtAddr) error {
	_, area, ok := as.findArea(start.Floor())
	if !ok {
		return errors.Wrapf(ErrNoArea, "start=%#x", uint64(start))
	}

	end := newEnd.Ceil()
	if end < area.End {
		return errors.Wrapf(ErrBadRange, "append to %#x", uint64(newEnd))
	}

	if as.conflicts(area.End, end, area) {
		return errors.Wrapf(ErrConflict, "append to %#x", uint64(newEnd))
	}

	if err := as.mapRange(area, area.End, end); err != nil {
		return err
	}

	area.End = end

	return nil
}

// Fork builds a new address space with the same areas and a byte copy of
// every mapped page.
func (as *AddressSpace) Fork() (*AddressSpace, error) {
	child, err := NewAddressSpace(as.backend)
	if err != nil {
		return nil, err
	}

	for _, a := range as.areas {
		dup, err := child.push(&Area{Start: a.Start, End: a.End, Perm: a.Perm}, 0, nil)
		if err != nil {
			child.Recycle()
			return nil, err
		}

		for vpn, ppn := range a.frames {
			copy(as.backend.Frame(dup.frames[vpn]), as.backend.Frame(ppn))
		}
	}

	return child, nil
}

// Recycle unmaps every area and releases the page table. The address space
// must not be used afterwards.
func (as *AddressSpace) Recycle() {
	if as.pt == nil {
		return
	}

	for _, a := range as.areas {
		as.unmapRange(a, a.Start, a.End)
	}

	as.areas = nil
	as.backend.ReleasePageTable(as.pt)
	as.pt = nil
}

// Segment is one loadable piece of a program image.
type Segment struct {
	Vaddr   VirtAddr
	MemSize uint64
	Data    []byte
	Perm    Permission
}

// Layout describes where FromSegments placed the stack and heap.
type Layout struct {
	UserStackTop VirtAddr
	HeapBottom   VirtAddr
}

// FromSegments builds a user address space: the program segments, a guard
// page, a user stack of stackSize bytes, and an empty heap area right above
// the stack.
func FromSegments(b Backend, segs []Segment, stackSize uint64) (*AddressSpace, Layout, error) {
	as, err := NewAddressSpace(b)
	if err != nil {
		return nil, Layout{}, err
	}

	var maxEnd VirtPageNum

	for _, seg := range segs {
		if uint64(len(seg.Data)) > seg.MemSize {
			as.Recycle()
			return nil, Layout{}, errors.Wrapf(ErrBadRange, "segment at %#x has more data than memory", uint64(seg.Vaddr))
		}

		if seg.MemSize == 0 {
			continue
		}

		segEnd := seg.Vaddr + VirtAddr(seg.MemSize)
		if segEnd < seg.Vaddr || segEnd > UserTop {
			as.Recycle()
			return nil, Layout{}, errors.Wrapf(ErrBadRange, "segment at %#x size %#x", uint64(seg.Vaddr), seg.MemSize)
		}

		start := seg.Vaddr.Floor()
		end := segEnd.Ceil()

		if end <= start {
			as.Recycle()
			return nil, Layout{}, errors.Wrapf(ErrBadRange, "segment at %#x size %#x", uint64(seg.Vaddr), seg.MemSize)
		}

		if as.conflicts(start, end, nil) {
			as.Recycle()
			return nil, Layout{}, errors.Wrapf(ErrConflict, "segment at %#x", uint64(seg.Vaddr))
		}

		_, err := as.push(&Area{Start: start, End: end, Perm: seg.Perm | PermUser}, seg.Vaddr.PageOffset(), seg.Data)
		if err != nil {
			as.Recycle()
			return nil, Layout{}, err
		}

		if end > maxEnd {
			maxEnd = end
		}
	}

	// one unmapped guard page below the stack
	stackBottom := maxEnd.Addr() + PageSize
	stackTop := stackBottom + VirtAddr(pageRound(stackSize))

	_, err = as.push(&Area{Start: stackBottom.Floor(), End: stackTop.Floor(), Perm: PermRead | PermWrite | PermUser}, 0, nil)
	if err != nil {
		as.Recycle()
		return nil, Layout{}, err
	}

	_, err = as.push(&Area{Start: stackTop.Floor(), End: stackTop.Floor(), Perm: PermRead | PermWrite | PermUser}, 0, nil)
	if err != nil {
		as.Recycle()
		return nil, Layout{}, err
	}

	return as, Layout{UserStackTop: stackTop, HeapBottom: stackTop}, nil
}
