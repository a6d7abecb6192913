package memory

const (
	PageSizeBits = 12
	PageSize     = 1 << PageSizeBits // 4 KiB

	// UserTop is the first address past the user half of an Sv39 space.
	UserTop = 1 << 38
)

// VirtAddr is a user virtual address.
type VirtAddr uint64

// VirtPageNum is a virtual page number (VirtAddr >> PageSizeBits).
type VirtPageNum uint64

// PhysPageNum identifies a physical frame.
type PhysPageNum uint64

func (va VirtAddr) Floor() VirtPageNum {
	return VirtPageNum(va >> PageSizeBits)
}

func (va VirtAddr) Ceil() VirtPageNum {
	return VirtPageNum((uint64(va) + PageSize - 1) >> PageSizeBits)
}

func (va VirtAddr) PageOffset() uint64 {
	return uint64(va) & (PageSize - 1)
}

func (va VirtAddr) Aligned() bool {
	return va.PageOffset() == 0
}

func (vpn VirtPageNum) Addr() VirtAddr {
	return VirtAddr(vpn << PageSizeBits)
}

func pageRound(sz uint64) uint64 {
	diff := sz % PageSize
	if diff == 0 {
		return sz
	}

	return sz + (PageSize - diff)
}
