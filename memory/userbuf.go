package memory

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

var ErrBadAddress = errors.New("bad user address")

// MaxUserString bounds TranslatedStr so a missing terminator can't walk the
// whole address space.
const MaxUserString = 4096

func userPageTable(b Backend, token Token) (PageTable, error) {
	pt, ok := b.PageTable(token)
	if !ok {
		return nil, errors.Wrapf(ErrBadAddress, "unknown address space token=%#x", uint64(token))
	}

	return pt, nil
}

func userPage(b Backend, pt PageTable, va VirtAddr, write bool) ([]byte, error) {
	pte, ok := pt.Translate(va.Floor())
	if !ok || !pte.Valid() || !pte.User() {
		return nil, errors.Wrapf(ErrBadAddress, "va=%#x not mapped for user", uint64(va))
	}

	if write && !pte.Writable() {
		return nil, errors.Wrapf(ErrBadAddress, "va=%#x not writable", uint64(va))
	}

	if !write && !pte.Readable() {
		return nil, errors.Wrapf(ErrBadAddress, "va=%#x not readable", uint64(va))
	}

	return b.Frame(pte.PPN)[va.PageOffset():], nil
}

// TranslatedByteBuffer resolves the user range [ptr, ptr+length) of the
// address space identified by token into kernel slices, one per page touched.
// The slices alias the frames, so writes through them land in user memory.
func TranslatedByteBuffer(b Backend, token Token, ptr, length uint64, write bool) ([][]byte, error) {
	pt, err := userPageTable(b, token)
	if err != nil {
		return nil, err
	}

	start := ptr
	end := ptr + length
	if end < start {
		return nil, errors.Wrapf(ErrBadAddress, "range %#x+%#x wraps", ptr, length)
	}

	var bufs [][]byte

	for start < end {
		page, err := userPage(b, pt, VirtAddr(start), write)
		if err != nil {
			return nil, err
		}

		n := uint64(len(page))
		if left := end - start; left < n {
			n = left
		}

		bufs = append(bufs, page[:n])
		start += n
	}

	return bufs, nil
}

// TranslatedStr copies a NUL terminated string out of user memory.
func TranslatedStr(b Backend, token Token, ptr uint64) (string, error) {
	pt, err := userPageTable(b, token)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer

	va := ptr
	for {
		page, err := userPage(b, pt, VirtAddr(va), false)
		if err != nil {
			return "", err
		}

		if i := bytes.IndexByte(page, 0); i >= 0 {
			buf.Write(page[:i])
			break
		}

		buf.Write(page)
		va += uint64(len(page))

		if buf.Len() >= MaxUserString {
			return "", errors.Wrapf(ErrBadAddress, "string at %#x too long", ptr)
		}
	}

	if buf.Len() >= MaxUserString {
		return "", errors.Wrapf(ErrBadAddress, "string at %#x too long", ptr)
	}

	return buf.String(), nil
}

// UserBuffer is a translated user range. It is never assumed to be
// contiguous; Read and Write walk the slices in order.
type UserBuffer struct {
	buffers [][]byte

	idx, off int
}

func NewUserBuffer(buffers [][]byte) *UserBuffer {
	return &UserBuffer{buffers: buffers}
}

func (u *UserBuffer) Slices() [][]byte {
	return u.buffers
}

func (u *UserBuffer) Len() int {
	total := 0
	for _, b := range u.buffers {
		total += len(b)
	}

	return total
}

// Read copies from user memory into p.
func (u *UserBuffer) Read(p []byte) (int, error) {
	return u.transfer(p, false)
}

// Write copies p into user memory.
func (u *UserBuffer) Write(p []byte) (int, error) {
	n, _ := u.transfer(p, true)
	if n < len(p) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

func (u *UserBuffer) transfer(p []byte, toUser bool) (int, error) {
	done := 0

	for len(p) > 0 && u.idx < len(u.buffers) {
		cur := u.buffers[u.idx][u.off:]

		var c int
		if toUser {
			c = copy(cur, p)
		} else {
			c = copy(p, cur)
		}

		p = p[c:]
		done += c
		u.off += c

		if u.off == len(u.buffers[u.idx]) {
			u.idx++
			u.off = 0
		}
	}

	if done == 0 && len(p) > 0 {
		return 0, io.EOF
	}

	return done, nil
}

// CopyOut encodes val (a fixed size value) little endian into user memory.
func CopyOut(b Backend, token Token, ptr uint64, val interface{}) error {
	sz := binary.Size(val)
	if sz < 0 {
		return errors.Errorf("value of type %T has no fixed size", val)
	}

	bufs, err := TranslatedByteBuffer(b, token, ptr, uint64(sz), true)
	if err != nil {
		return err
	}

	return binary.Write(NewUserBuffer(bufs), binary.LittleEndian, val)
}

// CopyIn decodes a fixed size value from user memory into val.
func CopyIn(b Backend, token Token, ptr uint64, val interface{}) error {
	sz := binary.Size(val)
	if sz < 0 {
		return errors.Errorf("value of type %T has no fixed size", val)
	}

	bufs, err := TranslatedByteBuffer(b, token, ptr, uint64(sz), false)
	if err != nil {
		return err
	}

	return binary.Read(NewUserBuffer(bufs), binary.LittleEndian, val)
}
