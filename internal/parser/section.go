package parser

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-tinylfu"

	"github.com/ossyrian/chmparse/internal/itsf"
	"github.com/ossyrian/chmparse/internal/lzx"
)

// ParseControlData parses the LZXC control data of the compressed section,
// which lives at absolute offset off.
func ParseControlData(buf []byte, off int64) (*itsf.ControlData, error) {
	if len(buf) < itsf.ControlDataLen {
		return nil, itsf.Errorf(itsf.ErrTruncated, off, "control data needs %d bytes, have %d", itsf.ControlDataLen, len(buf))
	}
	c := itsf.NewCursor(buf, off)
	_, _ = c.Uint32() // size in dwords
	magic, _ := c.Magic()
	if magic != itsf.LZXCMagic {
		return nil, itsf.Errorf(itsf.ErrBadMagic, off+4, "expected %q, got %q", itsf.LZXCMagic, magic)
	}

	ctl := &itsf.ControlData{}
	ctl.Version, _ = c.Uint32()
	reset, _ := c.Uint32()
	window, _ := c.Uint32()
	ctl.WindowsPerReset, _ = c.Uint32()

	unit := uint64(1)
	switch ctl.Version {
	case 1:
	case 2:
		unit = itsf.LZXFrameUnit
	default:
		return nil, itsf.Errorf(itsf.ErrUnsupportedVersion, off+8, "LZXC version %d", ctl.Version)
	}
	resetBytes := uint64(reset) * unit
	windowBytes := uint64(window) * unit

	switch {
	case windowBytes == 0 || windowBytes&(windowBytes-1) != 0 ||
		windowBytes < 1<<15 || windowBytes > 1<<21:
		return nil, itsf.Errorf(itsf.ErrDecompression, off+16, "window size %d", windowBytes)
	case resetBytes == 0 || resetBytes%itsf.LZXFrameUnit != 0 || resetBytes > math.MaxUint32:
		return nil, itsf.Errorf(itsf.ErrDecompression, off+12, "reset interval %d", resetBytes)
	case ctl.WindowsPerReset == 0:
		return nil, itsf.Errorf(itsf.ErrDecompression, off+20, "zero windows per reset")
	}
	ctl.ResetInterval = uint32(resetBytes)
	ctl.WindowSize = uint32(windowBytes)
	return ctl, nil
}

// ParseResetTable parses the LZXC reset table, which lives at absolute
// offset off.
func ParseResetTable(buf []byte, off int64) (*itsf.ResetTable, error) {
	if len(buf) < itsf.ResetTableHeaderLen {
		return nil, itsf.Errorf(itsf.ErrTruncated, off, "reset table needs %d bytes, have %d", itsf.ResetTableHeaderLen, len(buf))
	}
	c := itsf.NewCursor(buf, off)
	rt := &itsf.ResetTable{}
	rt.Version, _ = c.Uint32()
	rt.BlockCount, _ = c.Uint32()
	rt.EntrySize, _ = c.Uint32()
	rt.TableOffset, _ = c.Uint32()
	rt.UncompressedLen, _ = c.Uint64()
	rt.CompressedLen, _ = c.Uint64()
	rt.BlockLen, _ = c.Uint64()

	switch {
	case rt.Version != itsf.ResetTableVersion:
		return nil, itsf.Errorf(itsf.ErrUnsupportedVersion, off, "reset table version %d", rt.Version)
	case rt.EntrySize != itsf.ResetTableEntryLen:
		return nil, itsf.Errorf(itsf.ErrDecompression, off+8, "reset table entry size %d", rt.EntrySize)
	case rt.TableOffset < itsf.ResetTableHeaderLen:
		return nil, itsf.Errorf(itsf.ErrDecompression, off+12, "reset table offset 0x%x", rt.TableOffset)
	case rt.BlockLen == 0 || rt.BlockLen > 1<<21:
		return nil, itsf.Errorf(itsf.ErrDecompression, off+0x20, "frame length %d", rt.BlockLen)
	case rt.UncompressedLen > math.MaxInt64 || rt.CompressedLen > math.MaxInt64:
		return nil, itsf.Errorf(itsf.ErrDecompression, off+0x10, "section length out of range")
	}

	end := uint64(rt.TableOffset) + uint64(rt.BlockCount)*itsf.ResetTableEntryLen
	if end > uint64(len(buf)) {
		return nil, itsf.Errorf(itsf.ErrTruncated, off, "%d reset table entries need %d bytes, have %d", rt.BlockCount, end, len(buf))
	}
	if need := rt.FrameCount(); uint64(rt.BlockCount) < uint64(need) {
		return nil, itsf.Errorf(itsf.ErrDecompression, off+4, "%d frames needed, reset table has %d", need, rt.BlockCount)
	}

	rt.Offsets = make([]uint64, rt.BlockCount)
	prev := uint64(0)
	for i := range rt.Offsets {
		at := int(rt.TableOffset) + i*itsf.ResetTableEntryLen
		o := binary.LittleEndian.Uint64(buf[at:])
		if o < prev || o > rt.CompressedLen {
			return nil, itsf.Errorf(itsf.ErrDecompression, off+int64(at), "frame %d at compressed offset 0x%x", i, o)
		}
		rt.Offsets[i] = o
		prev = o
	}
	return rt, nil
}

// CompressedSection serves byte ranges of the LZX-compressed content
// section. Decoded frames are kept in a TinyLFU cache, and the decoder
// state of the last frame is kept so that sequential reads never replay a
// reset interval. It is safe for concurrent use.
type CompressedSection struct {
	Control *itsf.ControlData
	Table   *itsf.ResetTable

	offset int64 // container offset of the compressed stream
	stream *lzx.Stream

	mu     sync.Mutex
	dec    *lzx.StreamDecoder
	frames *tinylfu.T[int, []byte]
}

// NewCompressedSection combines the compressed bytes found at absolute
// offset off with their control data and reset table.
func NewCompressedSection(content []byte, off int64, ctl *itsf.ControlData, rt *itsf.ResetTable, cacheSize int) (*CompressedSection, error) {
	if rt.CompressedLen > uint64(len(content)) {
		return nil, itsf.Errorf(itsf.ErrOutOfBounds, off, "compressed length %d exceeds %d-byte content", rt.CompressedLen, len(content))
	}
	if uint64(ctl.ResetInterval)%rt.BlockLen != 0 || uint64(ctl.ResetInterval) < rt.BlockLen {
		return nil, itsf.Errorf(itsf.ErrDecompression, off, "reset interval %d is not a multiple of frame length %d", ctl.ResetInterval, rt.BlockLen)
	}
	cacheSize = frameCacheSize(cacheSize)

	s := &lzx.Stream{
		Data:            content[:rt.CompressedLen],
		FrameOffsets:    rt.Offsets,
		FrameLen:        int(rt.BlockLen),
		UncompressedLen: int64(rt.UncompressedLen),
		WindowSize:      ctl.WindowSize,
		ResetFrames:     int(uint64(ctl.ResetInterval) / rt.BlockLen),
	}
	dec, err := lzx.NewStreamDecoder(s)
	if err != nil {
		return nil, itsf.Wrap(itsf.ErrDecompression, off, err, "invalid compressed stream")
	}

	cs := &CompressedSection{
		Control: ctl,
		Table:   rt,
		offset:  off,
		stream:  s,
		dec:     dec,
		frames:  tinylfu.New[int, []byte](cacheSize, cacheSize*10, hashFrame),
	}
	dec.OnFrame = func(i int, data []byte) {
		cs.frames.Add(i, data)
	}
	return cs, nil
}

func hashFrame(i int) uint64 {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(i))
	return xxhash.Sum64(b[:])
}

// Len returns the uncompressed length of the section.
func (cs *CompressedSection) Len() uint64 { return cs.Table.UncompressedLen }

// Read returns length bytes starting at uncompressed offset off.
func (cs *CompressedSection) Read(off, length uint64) ([]byte, error) {
	total := cs.Table.UncompressedLen
	if off > total || length > total-off {
		return nil, itsf.Errorf(itsf.ErrOutOfBounds, -1, "[%d,+%d) beyond %d-byte compressed section", off, length, total)
	}
	out := make([]byte, length)
	if err := lzx.ReadFrames(out, int64(off), int(cs.Table.BlockLen), cs.Frame); err != nil {
		return nil, err
	}
	return out, nil
}

// Frame returns the decoded bytes of frame i. The slice is shared with the
// cache and must not be modified.
func (cs *CompressedSection) Frame(i int) ([]byte, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if data, ok := cs.frames.Get(i); ok {
		return data, nil
	}
	data, err := cs.dec.Frame(i)
	if err != nil {
		if i < 0 || i >= len(cs.Table.Offsets) {
			return nil, itsf.Wrap(itsf.ErrDecompression, cs.offset, err, fmt.Sprintf("frame %d", i))
		}
		start, end := cs.Table.FrameBounds(i)
		return nil, itsf.Wrap(itsf.ErrDecompression, cs.offset+int64(start), err,
			fmt.Sprintf("frame %d (%d compressed bytes)", i, end-start))
	}
	return data, nil
}

// FrameCount returns the number of frames in the section.
func (cs *CompressedSection) FrameCount() int { return cs.stream.FrameCount() }
