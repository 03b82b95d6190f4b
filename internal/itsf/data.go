package itsf

import (
	"encoding/binary"
	"fmt"
)

// Cursor is a bounds-checked little-endian reader over a byte slice.
// base is the absolute container offset of buf[0] and is only used to
// attribute errors.
type Cursor struct {
	buf  []byte
	pos  int
	base int64
}

// NewCursor returns a cursor over buf whose first byte lives at absolute
// offset base.
func NewCursor(buf []byte, base int64) *Cursor {
	return &Cursor{buf: buf, base: base}
}

// Pos returns the current position relative to the start of the buffer.
func (c *Cursor) Pos() int { return c.pos }

// Offset returns the absolute container offset of the current position,
// or -1 when the buffer does not map to a known container offset.
func (c *Cursor) Offset() int64 {
	if c.base < 0 {
		return -1
	}
	return c.base + int64(c.pos)
}

// Len returns the number of unread bytes.
func (c *Cursor) Len() int { return len(c.buf) - c.pos }

// Seek moves to an absolute position inside the buffer.
func (c *Cursor) Seek(pos int) error {
	if pos < 0 || pos > len(c.buf) {
		return Errorf(ErrTruncated, c.Offset(), "seek to %d beyond %d-byte buffer", pos, len(c.buf))
	}
	c.pos = pos
	return nil
}

// Skip advances n bytes.
func (c *Cursor) Skip(n int) error {
	return c.Seek(c.pos + n)
}

// Bytes returns the next n bytes without copying.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || n > c.Len() {
		return nil, Errorf(ErrTruncated, c.Offset(), "need %d bytes, have %d", n, c.Len())
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// Magic reads a four byte signature.
func (c *Cursor) Magic() ([4]byte, error) {
	var m [4]byte
	b, err := c.Bytes(4)
	if err != nil {
		return m, err
	}
	copy(m[:], b)
	return m, nil
}

func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint32BE reads a big-endian uint32. Only the ITSF timestamp uses it.
func (c *Cursor) Uint32BE() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// UUID reads a 16 byte GUID verbatim.
func (c *Cursor) UUID() ([16]byte, error) {
	var u [16]byte
	b, err := c.Bytes(16)
	if err != nil {
		return u, err
	}
	copy(u[:], b)
	return u, nil
}

// maxEncIntLen bounds an ENCINT to 63 bits of payload.
const maxEncIntLen = 9

// EncInt reads a CHM variable-length integer.
// Each byte contributes its low 7 bits, most significant group first;
// a set high bit means another byte follows.
func (c *Cursor) EncInt() (uint64, error) {
	start := c.Offset()
	var v uint64
	for i := 0; i < maxEncIntLen; i++ {
		b, err := c.Uint8()
		if err != nil {
			return 0, err
		}
		v = v<<7 | uint64(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, Errorf(ErrCorruptDirectory, start, "encoded integer longer than %d bytes", maxEncIntLen)
}

// String reads an ENCINT length followed by that many bytes of UTF-8.
func (c *Cursor) String() (string, error) {
	start := c.Offset()
	n, err := c.EncInt()
	if err != nil {
		return "", err
	}
	if n > uint64(c.Len()) {
		return "", Errorf(ErrCorruptDirectory, start,
			"name length %d exceeds %d remaining bytes", n, c.Len())
	}
	b, _ := c.Bytes(int(n))
	return string(b), nil
}

// AppendEncInt appends the ENCINT encoding of v to dst.
func AppendEncInt(dst []byte, v uint64) []byte {
	var tmp [maxEncIntLen + 1]byte
	i := len(tmp) - 1
	tmp[i] = byte(v & 0x7F)
	for v >>= 7; v != 0; v >>= 7 {
		i--
		tmp[i] = byte(v&0x7F) | 0x80
	}
	return append(dst, tmp[i:]...)
}

// CString returns the NUL-terminated string starting at off in buf.
func CString(buf []byte, off int) (string, error) {
	if off < 0 || off >= len(buf) {
		return "", fmt.Errorf("string offset %d outside %d-byte table", off, len(buf))
	}
	end := off
	for end < len(buf) && buf[end] != 0 {
		end++
	}
	return string(buf[off:end]), nil
}
