package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/evanphx/rvos/kernel"
	"github.com/evanphx/rvos/memory"
)

const (
	SYS_UNLINKAT     = 35
	SYS_LINKAT       = 37
	SYS_OPEN         = 56
	SYS_CLOSE        = 57
	SYS_READ         = 63
	SYS_WRITE        = 64
	SYS_FSTAT        = 80
	SYS_EXIT         = 93
	SYS_YIELD        = 124
	SYS_SET_PRIORITY = 140
	SYS_GET_TIME     = 169
	SYS_GETPID       = 172
	SYS_MUNMAP       = 215
	SYS_SBRK         = 214
	SYS_FORK         = 220
	SYS_EXEC         = 221
	SYS_MMAP         = 222
	SYS_WAITPID      = 260
	SYS_SPAWN        = 400
	SYS_TASK_INFO    = 410
)

type SysArgs struct {
	Index uint64
	Args  SyscallRequest
}

// SyscallRequest holds a0..a2 of the trapping task.
type SyscallRequest struct {
	R0, R1, R2 uint64
}

var Syscalls [kernel.MaxSyscallNum]func(context.Context, hclog.Logger, *kernel.Task, SysArgs) int64

func userBuffer(t *kernel.Task, ptr, length uint64, write bool) (*memory.UserBuffer, error) {
	bufs, err := memory.TranslatedByteBuffer(t.Kernel().Mem, t.Token(), ptr, length, write)
	if err != nil {
		return nil, err
	}

	return memory.NewUserBuffer(bufs), nil
}

func userString(t *kernel.Task, ptr uint64) (string, error) {
	return memory.TranslatedStr(t.Kernel().Mem, t.Token(), ptr)
}

func copyOut(t *kernel.Task, ptr uint64, val interface{}) error {
	return memory.CopyOut(t.Kernel().Mem, t.Token(), ptr, val)
}
