package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/evanphx/rvos/kernel"
	"github.com/evanphx/rvos/memory"
)

// mmap port bits.
const (
	PROT_READ  = 1 << 0
	PROT_WRITE = 1 << 1
	PROT_EXEC  = 1 << 2

	protMask = PROT_READ | PROT_WRITE | PROT_EXEC
)

func protPermission(port uint64) memory.Permission {
	perm := memory.PermUser

	if port&PROT_READ != 0 {
		perm |= memory.PermRead
	}

	// W without R is a reserved PTE encoding.
	if port&PROT_WRITE != 0 {
		perm |= memory.PermWrite | memory.PermRead
	}

	if port&PROT_EXEC != 0 {
		perm |= memory.PermExec
	}

	return perm
}

func userRange(start, length uint64) (memory.VirtAddr, memory.VirtAddr, bool) {
	if length == 0 || !memory.VirtAddr(start).Aligned() {
		return 0, 0, false
	}

	end := start + length
	if end < start || end > memory.UserTop {
		return 0, 0, false
	}

	return memory.VirtAddr(start), memory.VirtAddr(end), true
}

func sysMmap(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	var (
		start  = args.Args.R0
		length = args.Args.R1
		port   = args.Args.R2
	)

	if port&^protMask != 0 || port&protMask == 0 {
		return -1
	}

	from, to, ok := userRange(start, length)
	if !ok {
		return -1
	}

	inner, release := p.Inner()
	defer release()

	if inner.Space.IsConflictRange(from, to) {
		return -1
	}

	if err := inner.Space.InsertFramedArea(from, to, protPermission(port)); err != nil {
		l.Debug("mmap failed", "pid", p.Pid, "start", start, "len", length, "error", err)
		return -1
	}

	return 0
}

func sysMunmap(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	var (
		start  = args.Args.R0
		length = args.Args.R1
	)

	from, to, ok := userRange(start, length)
	if !ok {
		return -1
	}

	inner, release := p.Inner()
	defer release()

	if err := inner.Space.UnmapArea(from, to); err != nil {
		l.Debug("munmap failed", "pid", p.Pid, "start", start, "len", length, "error", err)
		return -1
	}

	return 0
}

func sysSbrk(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	delta := int64(args.Args.R0)

	old, err := p.ChangeProgramBrk(delta)
	if err != nil {
		l.Debug("sbrk failed", "pid", p.Pid, "delta", delta, "error", err)
		return -1
	}

	return int64(old)
}

func init() {
	Syscalls[SYS_MMAP] = sysMmap
	Syscalls[SYS_MUNMAP] = sysMunmap
	Syscalls[SYS_SBRK] = sysSbrk
}
