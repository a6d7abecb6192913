package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/evanphx/rvos/fs"
	"github.com/evanphx/rvos/fs/host"
	"github.com/evanphx/rvos/fs/tarfs"
	"github.com/evanphx/rvos/kernel"
	rlog "github.com/evanphx/rvos/log"
	"github.com/evanphx/rvos/memory"
)

var (
	fRoot     = pflag.StringP("root", "r", "", "host directory to import as the root filesystem")
	fTar      = pflag.StringP("tar", "t", "", "tar image to import as the root filesystem")
	fFrames   = pflag.Int("frames", 0, "number of physical frames")
	fBlocks   = pflag.Uint32("blocks", 1<<16, "number of 512 byte disk blocks")
	fInit     = pflag.String("init", "", "path of the root task executable")
	fPriority = pflag.Uint64("priority", 0, "default task priority")
	fDump     = pflag.Bool("dump", false, "dump the root task control block")
	fDebug    = pflag.BoolP("debug", "d", false, "enable debug logging")
)

func main() {
	pflag.Parse()

	if *fDebug {
		rlog.EnableDebug()
	}

	cfg := kernel.DefaultConfig()

	if *fFrames > 0 {
		cfg.Frames = *fFrames
	}

	if *fInit != "" {
		cfg.InitPath = *fInit
	}

	if *fPriority > 0 {
		cfg.DefaultPriority = *fPriority
	}

	fsys, err := fs.New(fs.NewMemDevice(*fBlocks), cfg.PathCacheSize)
	if err != nil {
		log.Fatal(err)
	}

	if *fRoot != "" {
		if err := host.Import(fsys, *fRoot); err != nil {
			log.Fatal(err)
		}
	}

	if *fTar != "" {
		f, err := os.Open(*fTar)
		if err != nil {
			log.Fatal(err)
		}

		err = tarfs.Import(fsys, f)
		f.Close()

		if err != nil {
			log.Fatal(err)
		}
	}

	mem := memory.NewSimBackend(cfg.Frames)

	k, err := kernel.NewKernel(cfg, mem, fsys, kernel.Console{In: os.Stdin, Out: os.Stdout})
	if err != nil {
		log.Fatal(err)
	}

	task, err := k.InitProcess(cfg.InitPath)
	if err != nil {
		log.Fatal(err)
	}

	inner, release := task.Inner()

	fmt.Printf("\n[task]\n")
	tr := tabwriter.NewWriter(os.Stdout, 4, 8, 1, ' ', 0)
	fmt.Fprintf(tr, "pid\t%d\n", task.Pid)
	fmt.Fprintf(tr, "status\t%s\n", inner.Status)
	fmt.Fprintf(tr, "entry\t%#x\n", inner.TrapCx.Sepc)
	fmt.Fprintf(tr, "sp\t%#x\n", inner.TrapCx.X[kernel.RegSP])
	fmt.Fprintf(tr, "brk\t%#x\n", uint64(inner.ProgramBrk))
	fmt.Fprintf(tr, "priority\t%d\n", inner.Priority)
	fmt.Fprintf(tr, "kstack\t%#x-%#x\n", task.KernelStack.Bottom, task.KernelStack.Top)
	tr.Flush()

	fmt.Printf("\n[areas]\n")
	tr = tabwriter.NewWriter(os.Stdout, 4, 8, 1, ' ', 0)
	for _, a := range inner.Space.Areas() {
		fmt.Fprintf(tr, "%#x\t%#x\t%s\t%d pages\n", uint64(a.StartAddr()), uint64(a.EndAddr()), a.Perm, a.Pages())
	}
	tr.Flush()

	release()

	fmt.Printf("\n[memory]\n")
	fmt.Printf("frames free %d of %d\n", mem.Free(), cfg.Frames)
	fmt.Printf("inodes %d, free blocks %d\n", fsys.Inodes(), fsys.FreeBlocks())

	if *fDump {
		fmt.Printf("\n[tcb]\n")
		fmt.Print(task.Dump())
	}
}
