package kernel

import (
	"github.com/pkg/errors"

	"github.com/evanphx/rvos/fs"
)

var ErrInitRunning = errors.New("root task already created")

// InitProcess creates the root task from the executable at path, wires its
// first three descriptors to the console and queues it to run.
func (k *Kernel) InitProcess(path string) (*Task, error) {
	if k.initproc != nil {
		return nil, ErrInitRunning
	}

	img, err := k.LoadProgram(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}

	t, err := k.newTask(img, 0)
	if err != nil {
		return nil, err
	}

	k.HookupStdio(t)

	k.initproc = t
	k.Manager.Add(t)

	k.L.Debug("init-process", "pid", t.Pid, "path", path, "entry", img.Entry)

	return t, nil
}

// HookupStdio points fds 0, 1 and 2 of t at the console.
func (k *Kernel) HookupStdio(t *Task) {
	inner, release := t.Inner()
	defer release()

	inner.Files = append(inner.Files[:0],
		NewFileRef(&fs.Stdin{R: k.Console.In}),
		NewFileRef(&fs.Stdout{W: k.Console.Out}),
		NewFileRef(&fs.Stdout{W: k.Console.Out}),
	)
}
