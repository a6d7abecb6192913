package fs

import (
	"sync"

	"github.com/pkg/errors"
)

const BlockSize = 512

var ErrBadBlock = errors.New("block id out of range")

// BlockDevice is the raw storage an inode store sits on.
type BlockDevice interface {
	ReadBlock(id uint32, buf []byte) error
	WriteBlock(id uint32, buf []byte) error
	NumBlocks() uint32
}

// MemDevice is a BlockDevice held in host memory.
type MemDevice struct {
	mu   sync.Mutex
	data []byte
}

func NewMemDevice(blocks uint32) *MemDevice {
	return &MemDevice{
		data: make([]byte, int(blocks)*BlockSize),
	}
}

func (d *MemDevice) NumBlocks() uint32 {
	return uint32(len(d.data) / BlockSize)
}

func (d *MemDevice) block(id uint32) ([]byte, error) {
	if id >= d.NumBlocks() {
		return nil, errors.Wrapf(ErrBadBlock, "block=%d", id)
	}

	off := int(id) * BlockSize
	return d.data[off : off+BlockSize], nil
}

func (d *MemDevice) ReadBlock(id uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	blk, err := d.block(id)
	if err != nil {
		return err
	}

	copy(buf, blk)
	return nil
}

func (d *MemDevice) WriteBlock(id uint32, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	blk, err := d.block(id)
	if err != nil {
		return err
	}

	copy(blk, buf)
	return nil
}
