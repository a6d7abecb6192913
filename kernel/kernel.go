package kernel

import (
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/evanphx/rvos/fs"
	"github.com/evanphx/rvos/loader"
	"github.com/evanphx/rvos/log"
	"github.com/evanphx/rvos/memory"
)

type Config struct {
	// Frames is the number of physical frames given to the simulated backend.
	Frames int

	DefaultPriority uint64
	UserStackSize   uint64
	MaxTasks        int

	InitPath       string
	ImageCacheSize int
	PathCacheSize  int
}

func DefaultConfig() Config {
	return Config{
		Frames:          8192,
		DefaultPriority: 16,
		UserStackSize:   2 * memory.PageSize,
		MaxTasks:        4096,
		InitPath:        "initproc",
		ImageCacheSize:  loader.DefaultCacheLen,
		PathCacheSize:   fs.DefaultCacheSize,
	}
}

// Console is where fds 0, 1 and 2 of the root task point.
type Console struct {
	In  io.Reader
	Out io.Writer
}

type Kernel struct {
	L hclog.Logger

	Config  Config
	Mem     memory.Backend
	FS      *fs.FileSystem
	Clock   Clock
	Console Console

	Manager   *TaskManager
	Processor *Processor

	pids     *PidAllocator
	tasks    *TaskTable
	loader   *loader.Loader
	initproc *Task
}

func NewKernel(cfg Config, mem memory.Backend, fsys *fs.FileSystem, console Console) (*Kernel, error) {
	if cfg.DefaultPriority <= 1 {
		return nil, errors.Wrapf(ErrBadPriority, "default priority %d", cfg.DefaultPriority)
	}

	k := &Kernel{
		L:       log.L.Named("kernel"),
		Config:  cfg,
		Mem:     mem,
		FS:      fsys,
		Clock:   MonotonicClock{},
		Console: console,
		Manager: NewTaskManager(),
		pids:    NewPidAllocator(cfg.MaxTasks),
		tasks:   NewTaskTable(),
		loader:  loader.NewLoader(loader.NewCache(cfg.ImageCacheSize)),
	}

	k.Processor = newProcessor(k)

	return k, nil
}

// Lookup finds a live (or zombie, not yet reaped) task by pid.
func (k *Kernel) Lookup(pid int) (*Task, bool) {
	return k.tasks.Lookup(pid)
}

func (k *Kernel) Tasks() int {
	return k.tasks.Len()
}

func (k *Kernel) InitTask() *Task {
	return k.initproc
}

// LoadProgram reads and parses the executable at path.
func (k *Kernel) LoadProgram(path string) (*loader.Image, error) {
	f, err := fs.OpenFile(k.FS, path, fs.RDONLY)
	if err != nil {
		return nil, err
	}

	defer f.Close()

	if f.Mode() == fs.ModeDir {
		return nil, errors.Wrapf(fs.ErrIsDir, "exec %s", path)
	}

	data, err := f.ReadAll()
	if err != nil {
		return nil, err
	}

	return k.loader.Load(data)
}
