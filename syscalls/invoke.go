package syscalls

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"

	"github.com/evanphx/rvos/kernel"
)

type Invoker struct {
	Kernel *kernel.Kernel

	L hclog.Logger
}

func NewInvoker(k *kernel.Kernel) *Invoker {
	return &Invoker{
		Kernel: k,
		L:      k.L.Named("syscall"),
	}
}

// InvokeSyscall runs the handler for args.Index on behalf of the task in
// ctx. Every call is counted, known or not.
func (i *Invoker) InvokeSyscall(ctx context.Context, args SysArgs) int64 {
	p, ok := kernel.GetTask(ctx)
	if !ok {
		i.L.Error("syscall without a current task", "id", args.Index)
		return -1
	}

	p.CountSyscall(args.Index)

	if args.Index >= uint64(len(Syscalls)) || Syscalls[args.Index] == nil {
		i.L.Warn("unknown-syscall", "pid", p.Pid, "id", args.Index)
		return -1
	}

	i.L.Trace("syscall", "pid", p.Pid, "id", args.Index, "a0", args.Args.R0, "a1", args.Args.R1, "a2", args.Args.R2)

	return Syscalls[args.Index](ctx, i.L, p, args)
}

func (i *Invoker) Syscall(ctx context.Context, id uint64, args [3]uint64) int64 {
	return i.InvokeSyscall(ctx, SysArgs{
		Index: id,
		Args: SyscallRequest{
			R0: args[0],
			R1: args[1],
			R2: args[2],
		},
	})
}
