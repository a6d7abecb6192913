package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/evanphx/rvos/kernel"
)

type TimeVal struct {
	Sec  uint64
	Usec uint64
}

func sysGetTime(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	var (
		ptr = args.Args.R0
	)

	us := p.Kernel().Clock.NowMicros()

	tv := TimeVal{
		Sec:  us / 1000000,
		Usec: us % 1000000,
	}

	if err := copyOut(p, ptr, tv); err != nil {
		return -1
	}

	return 0
}

func init() {
	Syscalls[SYS_GET_TIME] = sysGetTime
}
