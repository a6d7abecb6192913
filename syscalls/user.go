package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/evanphx/rvos/kernel"
)

func sysExit(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	code := int32(args.Args.R0)

	p.Kernel().Processor.Exit(p, code)

	return 0
}

func sysYield(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	p.Kernel().Processor.Suspend(p)
	return 0
}

func sysGetpid(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	return int64(p.Pid)
}

func sysSetPriority(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	prio := int64(args.Args.R0)

	if err := p.SetPriority(prio); err != nil {
		return -1
	}

	return prio
}

// TaskInfo is the task_info record.
type TaskInfo struct {
	Status       uint32
	SyscallTimes [kernel.MaxSyscallNum]uint32
	_            uint32
	Time         uint64
}

func sysTaskInfo(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	var (
		ptr = args.Args.R0
	)

	now := p.Kernel().Clock.NowMicros() / 1000

	var ti TaskInfo

	inner, release := p.Inner()
	ti.Status = uint32(inner.Status)
	ti.SyscallTimes = inner.SyscallTimes
	ti.Time = now - inner.StartTime
	release()

	if err := copyOut(p, ptr, &ti); err != nil {
		return -1
	}

	return 0
}

func init() {
	Syscalls[SYS_EXIT] = sysExit
	Syscalls[SYS_YIELD] = sysYield
	Syscalls[SYS_GETPID] = sysGetpid
	Syscalls[SYS_SET_PRIORITY] = sysSetPriority
	Syscalls[SYS_TASK_INFO] = sysTaskInfo
}
