package loader

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/evanphx/rvos/memory"
)

func flagsFromPerm(perm memory.Permission) elf.ProgFlag {
	var f elf.ProgFlag

	if perm&memory.PermRead != 0 {
		f |= elf.PF_R
	}

	if perm&memory.PermWrite != 0 {
		f |= elf.PF_W
	}

	if perm&memory.PermExec != 0 {
		f |= elf.PF_X
	}

	return f
}

// Encode writes img as a minimal ELF64 RISC-V executable: a header, one
// PT_LOAD program header per segment and the segment bodies. No sections.
func Encode(img *Image) []byte {
	const (
		ehsize    = 64
		phentsize = 56
	)

	var buf bytes.Buffer

	hdr := elf.Header64{
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_RISCV),
		Version:   uint32(elf.EV_CURRENT),
		Entry:     img.Entry,
		Phoff:     ehsize,
		Ehsize:    ehsize,
		Phentsize: phentsize,
		Phnum:     uint16(len(img.Segments)),
		Shentsize: 64,
	}

	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	binary.Write(&buf, binary.LittleEndian, hdr)

	off := uint64(ehsize + phentsize*len(img.Segments))

	for _, seg := range img.Segments {
		binary.Write(&buf, binary.LittleEndian, elf.Prog64{
			Type:   uint32(elf.PT_LOAD),
			Flags:  uint32(flagsFromPerm(seg.Perm)),
			Off:    off,
			Vaddr:  uint64(seg.Vaddr),
			Paddr:  uint64(seg.Vaddr),
			Filesz: uint64(len(seg.Data)),
			Memsz:  seg.MemSize,
			Align:  memory.PageSize,
		})

		off += uint64(len(seg.Data))
	}

	for _, seg := range img.Segments {
		buf.Write(seg.Data)
	}

	return buf.Bytes()
}
