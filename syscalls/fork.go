package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/evanphx/rvos/kernel"
	"github.com/evanphx/rvos/memory"
)

func sysFork(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	child, err := p.Fork()
	if err != nil {
		l.Error("error forking process", "pid", p.Pid, "error", err)
		return -1
	}

	inner, release := child.Inner()
	inner.TrapCx.X[kernel.RegA0] = 0
	release()

	p.Kernel().Manager.Add(child)

	return int64(child.Pid)
}

func sysSpawn(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	var (
		pathPtr = args.Args.R0
	)

	path, err := userString(p, pathPtr)
	if err != nil {
		return -1
	}

	img, err := p.Kernel().LoadProgram(path)
	if err != nil {
		l.Trace("spawn-load-failed", "path", path, "error", err)
		return -1
	}

	child, err := p.Spawn(img)
	if err != nil {
		l.Error("error spawning process", "pid", p.Pid, "path", path, "error", err)
		return -1
	}

	return int64(child.Pid)
}

// sysWaitpid never blocks: -1 means no such child, -2 that it is still
// running and the caller should yield and retry. A zero exit-code pointer
// discards the code.
func sysWaitpid(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	var (
		pid      = int(int64(args.Args.R0))
		codeAddr = args.Args.R1
	)

	found, exited := p.FindChild(pid)
	if !found {
		return -1
	}

	if !exited {
		return -2
	}

	if codeAddr != 0 {
		_, err := memory.TranslatedByteBuffer(p.Kernel().Mem, p.Token(), codeAddr, 4, true)
		if err != nil {
			return -1
		}
	}

	childPid, code, err := p.WaitChild(pid)
	if err != nil {
		l.Error("error reaping child", "pid", p.Pid, "child", pid, "error", err)
		return -1
	}

	if codeAddr != 0 {
		if err := copyOut(p, codeAddr, code); err != nil {
			panic(err)
		}
	}

	l.Trace("waitpid-found-child", "pid", childPid, "code", code)

	return int64(childPid)
}

func init() {
	Syscalls[SYS_FORK] = sysFork
	Syscalls[SYS_SPAWN] = sysSpawn
	Syscalls[SYS_WAITPID] = sysWaitpid
}
