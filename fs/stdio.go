package fs

import (
	"io"

	"github.com/evanphx/rvos/memory"
)

// Stdin reads from the console.
type Stdin struct {
	R io.Reader
}

func (s *Stdin) Readable() bool { return true }
func (s *Stdin) Writable() bool { return false }

func (s *Stdin) Read(buf *memory.UserBuffer) (int, error) {
	total := 0
	for _, slice := range buf.Slices() {
		n, err := s.R.Read(slice)
		total += n

		if err == io.EOF {
			return total, nil
		}

		if err != nil {
			return total, err
		}

		if n < len(slice) {
			break
		}
	}

	return total, nil
}

func (s *Stdin) Write(buf *memory.UserBuffer) (int, error) {
	return 0, ErrNotWritable
}

func (s *Stdin) Links() uint32  { return 1 }
func (s *Stdin) Mode() StatMode { return ModeNone }
func (s *Stdin) Ino() uint64    { return 0 }
func (s *Stdin) Close() error   { return nil }

// Stdout writes to the console.
type Stdout struct {
	W io.Writer
}

func (s *Stdout) Readable() bool { return false }
func (s *Stdout) Writable() bool { return true }

func (s *Stdout) Read(buf *memory.UserBuffer) (int, error) {
	return 0, ErrNotReadable
}

func (s *Stdout) Write(buf *memory.UserBuffer) (int, error) {
	total := 0
	for _, slice := range buf.Slices() {
		n, err := s.W.Write(slice)
		total += n

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

func (s *Stdout) Links() uint32  { return 1 }
func (s *Stdout) Mode() StatMode { return ModeNone }
func (s *Stdout) Ino() uint64    { return 0 }
func (s *Stdout) Close() error   { return nil }
