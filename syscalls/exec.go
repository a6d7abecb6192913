package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/evanphx/rvos/kernel"
)

func sysExec(ctx context.Context, l hclog.Logger, p *kernel.Task, args SysArgs) int64 {
	var (
		pathPtr = args.Args.R0
	)

	path, err := userString(p, pathPtr)
	if err != nil {
		return -1
	}

	img, err := p.Kernel().LoadProgram(path)
	if err != nil {
		l.Trace("exec-load-failed", "path", path, "error", err)
		return -1
	}

	if err := p.Exec(img); err != nil {
		l.Error("error executing program", "pid", p.Pid, "path", path, "error", err)
		return -1
	}

	return 0
}

func init() {
	Syscalls[SYS_EXEC] = sysExec
}
