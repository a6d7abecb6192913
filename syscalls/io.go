package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/evanphx/rvos/kernel"
)

func sysWrite(ctx context.Context, l hclog.Logger, task *kernel.Task, args SysArgs) int64 {
	var (
		fd  = args.Args.R0
		ptr = args.Args.R1
		sz  = args.Args.R2
	)

	f, ok := task.GetFile(int(fd))
	if !ok || !f.Writable() {
		return -1
	}

	buf, err := userBuffer(task, ptr, sz, false)
	if err != nil {
		l.Debug("bad write buffer", "pid", task.Pid, "ptr", ptr, "len", sz, "error", err)
		return -1
	}

	n, err := f.Write(buf)
	if err != nil {
		l.Error("error writing data", "pid", task.Pid, "fd", fd, "error", err)
		return -1
	}

	return int64(n)
}

func sysRead(ctx context.Context, l hclog.Logger, task *kernel.Task, args SysArgs) int64 {
	var (
		fd  = args.Args.R0
		ptr = args.Args.R1
		sz  = args.Args.R2
	)

	f, ok := task.GetFile(int(fd))
	if !ok || !f.Readable() {
		return -1
	}

	buf, err := userBuffer(task, ptr, sz, true)
	if err != nil {
		l.Debug("bad read buffer", "pid", task.Pid, "ptr", ptr, "len", sz, "error", err)
		return -1
	}

	n, err := f.Read(buf)
	if err != nil {
		l.Error("error reading data", "pid", task.Pid, "fd", fd, "error", err)
		return -1
	}

	return int64(n)
}

func init() {
	Syscalls[SYS_WRITE] = sysWrite
	Syscalls[SYS_READ] = sysRead
}
