package syscalls

import (
	"context"
	"math"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/evanphx/rvos/fs"
	"github.com/evanphx/rvos/kernel"
)

func sysOpen(ctx context.Context, l hclog.Logger, task *kernel.Task, args SysArgs) int64 {
	var (
		pathPtr  = args.Args.R0
		rawFlags = args.Args.R1
	)

	if rawFlags > math.MaxUint32 {
		return -1
	}

	flags := fs.OpenFlags(rawFlags)

	path, err := userString(task, pathPtr)
	if err != nil {
		return -1
	}

	f, err := fs.OpenFile(task.Kernel().FS, path, flags)
	if err != nil {
		l.Trace("open-failed", "pid", task.Pid, "path", path, "flags", flags, "error", err)
		return -1
	}

	fd := task.AllocFd(f)

	l.Trace("open", "pid", task.Pid, "path", path, "fd", fd)

	return int64(fd)
}

func sysClose(ctx context.Context, l hclog.Logger, task *kernel.Task, args SysArgs) int64 {
	var (
		fd = args.Args.R0
	)

	err := task.CloseFile(int(fd))
	if err != nil {
		if errors.Cause(err) != kernel.ErrUnknownFile {
			l.Error("error closing fd", "error", err, "fd", fd)
		}

		return -1
	}

	return 0
}

func sysFstat(ctx context.Context, l hclog.Logger, task *kernel.Task, args SysArgs) int64 {
	var (
		fd  = args.Args.R0
		ptr = args.Args.R1
	)

	f, ok := task.GetFile(int(fd))
	if !ok {
		return -1
	}

	if err := copyOut(task, ptr, fs.StatFile(f.File)); err != nil {
		return -1
	}

	return 0
}

func sysLinkat(ctx context.Context, l hclog.Logger, task *kernel.Task, args SysArgs) int64 {
	var (
		oldPtr = args.Args.R0
		newPtr = args.Args.R1
	)

	oldPath, err := userString(task, oldPtr)
	if err != nil {
		return -1
	}

	newPath, err := userString(task, newPtr)
	if err != nil {
		return -1
	}

	if err := task.Kernel().FS.Link(oldPath, newPath); err != nil {
		l.Trace("link-failed", "old", oldPath, "new", newPath, "error", err)
		return -1
	}

	return 0
}

func sysUnlinkat(ctx context.Context, l hclog.Logger, task *kernel.Task, args SysArgs) int64 {
	var (
		pathPtr = args.Args.R0
	)

	path, err := userString(task, pathPtr)
	if err != nil {
		return -1
	}

	if err := task.Kernel().FS.Unlink(path); err != nil {
		l.Trace("unlink-failed", "path", path, "error", err)
		return -1
	}

	return 0
}

func init() {
	Syscalls[SYS_OPEN] = sysOpen
	Syscalls[SYS_CLOSE] = sysClose
	Syscalls[SYS_FSTAT] = sysFstat
	Syscalls[SYS_LINKAT] = sysLinkat
	Syscalls[SYS_UNLINKAT] = sysUnlinkat
}
