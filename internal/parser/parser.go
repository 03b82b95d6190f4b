package parser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/ossyrian/chmparse/internal/itsf"
)

// Options configures an Archive.
type Options struct {
	Logger *slog.Logger
	// FrameCacheSize is the number of decoded LZX frames kept per archive.
	FrameCacheSize int
}

// DefaultFrameCacheSize keeps 2 MiB of decoded frames.
const DefaultFrameCacheSize = 64

// MinFrameCacheSize is the smallest frame cache TinyLFU can run with: below
// it the protected segment has no room and the first hit dereferences nil.
const MinFrameCacheSize = 3

// Archive reads information from a CHM container. The container bytes are
// never modified; the directory and the compressed section are parsed on
// first use and shared by all callers afterwards.
type Archive struct {
	r      io.ReaderAt
	size   int64
	logger *slog.Logger
	opts   Options

	Header *itsf.Header

	dirOnce sync.Once
	dir     *Directory
	dirErr  error

	lzxOnce sync.Once
	lzx     *CompressedSection
	lzxErr  error

	sysOnce sync.Once
	sys     *SystemInfo
	sysErr  error
}

// frameCacheSize applies the default to n and raises it to the minimum.
func frameCacheSize(n int) int {
	if n <= 0 {
		return DefaultFrameCacheSize
	}
	return max(n, MinFrameCacheSize)
}

// Open parses the ITSF header of the container held by r.
func Open(r io.ReaderAt, size int64, opts Options) (*Archive, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.FrameCacheSize = frameCacheSize(opts.FrameCacheSize)
	a := &Archive{
		r:      r,
		size:   size,
		logger: opts.Logger,
		opts:   opts,
	}
	if _, err := a.ReadHeader(); err != nil {
		return nil, err
	}
	return a, nil
}

// Size returns the size of the container in bytes.
func (a *Archive) Size() int64 { return a.size }

// ReadHeader reads and validates the ITSF header.
func (a *Archive) ReadHeader() (*itsf.Header, error) {
	buf, err := a.readAt(0, min(int64(itsf.HeaderLenV3), a.size))
	if err != nil {
		return nil, err
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if h.DataOffset > uint64(a.size) {
		return nil, itsf.Errorf(itsf.ErrOutOfBounds, 0x58, "content offset 0x%x beyond %d-byte file", h.DataOffset, a.size)
	}

	a.logger.Debug("header is valid",
		"version", h.Version,
		"header_len", h.HeaderLen,
		"lang_id", h.LangID,
		"dir_offset", h.DirOffset,
		"dir_len", h.DirLen,
		"data_offset", h.DataOffset,
	)

	a.Header = h
	return h, nil
}

// ParseHeader parses the ITSF header at the start of buf.
func ParseHeader(buf []byte) (*itsf.Header, error) {
	h := &itsf.Header{}
	c := itsf.NewCursor(buf, 0)

	var err error
	if h.Magic, err = c.Magic(); err != nil {
		return nil, fmt.Errorf("failed to read magic: %w", err)
	}
	if h.Magic != itsf.Magic {
		return nil, itsf.Errorf(itsf.ErrBadMagic, 0, "expected %q, got %q", itsf.Magic, h.Magic)
	}
	if h.Version, err = c.Uint32(); err != nil {
		return nil, fmt.Errorf("failed to read version: %w", err)
	}

	want := 0
	switch h.Version {
	case 2:
		want = itsf.HeaderLenV2
	case 3:
		want = itsf.HeaderLenV3
	default:
		return nil, itsf.Errorf(itsf.ErrUnsupportedVersion, 4, "ITSF version %d", h.Version)
	}
	if len(buf) < want {
		return nil, itsf.Errorf(itsf.ErrTruncated, int64(len(buf)), "version %d header needs %d bytes, have %d", h.Version, want, len(buf))
	}

	h.HeaderLen, _ = c.Uint32()
	if h.HeaderLen < uint32(want) {
		return nil, itsf.Errorf(itsf.ErrTruncated, 8, "declared header length 0x%x shorter than 0x%x", h.HeaderLen, want)
	}
	h.Unknown, _ = c.Uint32()
	h.Timestamp, _ = c.Uint32BE()
	h.LangID, _ = c.Uint32()
	h.DirUUID, _ = c.UUID()
	h.StreamUUID, _ = c.UUID()
	h.SectionTableOffset, _ = c.Uint64()
	h.SectionTableLen, _ = c.Uint64()
	h.DirOffset, _ = c.Uint64()
	h.DirLen, _ = c.Uint64()
	if h.Version == 3 {
		h.DataOffset, _ = c.Uint64()
	} else {
		h.DataOffset = h.DirOffset + h.DirLen
	}
	return h, nil
}

// Directory returns the parsed directory, loading it on first call.
func (a *Archive) Directory() (*Directory, error) {
	a.dirOnce.Do(func() {
		a.dir, a.dirErr = a.ReadDir()
	})
	return a.dir, a.dirErr
}

// ReadDir reads the ITSP header and every directory chunk.
func (a *Archive) ReadDir() (*Directory, error) {
	h := a.Header
	if h.DirOffset+itsf.DirectoryHeaderLen > uint64(a.size) {
		return nil, itsf.Errorf(itsf.ErrOutOfBounds, int64(h.DirOffset), "directory header beyond %d-byte file", a.size)
	}
	hdrBuf, err := a.readAt(int64(h.DirOffset), itsf.DirectoryHeaderLen)
	if err != nil {
		return nil, err
	}
	dh, err := ParseDirectoryHeader(hdrBuf, int64(h.DirOffset))
	if err != nil {
		return nil, err
	}

	// reject absurd chunk counts before allocating anything
	total := uint64(dh.HeaderLen) + uint64(dh.NumChunks)*uint64(dh.ChunkSize)
	if h.DirLen != 0 && total > h.DirLen {
		return nil, itsf.Errorf(itsf.ErrCorruptDirectory, int64(h.DirOffset),
			"%d chunks of %d bytes exceed 0x%x-byte directory", dh.NumChunks, dh.ChunkSize, h.DirLen)
	}
	if h.DirOffset+total > uint64(a.size) {
		return nil, itsf.Errorf(itsf.ErrCorruptDirectory, int64(h.DirOffset),
			"%d chunks of %d bytes exceed %d-byte file", dh.NumChunks, dh.ChunkSize, a.size)
	}

	buf, err := a.readAt(int64(h.DirOffset), int64(total))
	if err != nil {
		return nil, err
	}
	d, err := ParseDirectory(buf, int64(h.DirOffset), a.logger)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("read directory",
		"chunk_size", dh.ChunkSize,
		"chunk_count", d.ChunkCount(),
		"index_depth", dh.IndexDepth,
		"index_root", dh.IndexRoot,
	)
	return d, nil
}

// Find resolves path to its directory entry.
func (a *Archive) Find(path string) (itsf.Entry, error) {
	d, err := a.Directory()
	if err != nil {
		return itsf.Entry{}, err
	}
	return d.Find(path)
}

// ReadPath returns the content of the entry at path.
func (a *Archive) ReadPath(path string) ([]byte, error) {
	e, err := a.Find(path)
	if err != nil {
		return nil, err
	}
	return a.ReadEntry(e)
}

// ReadEntry returns the content of e, slicing section 0 directly and
// decompressing section 1.
func (a *Archive) ReadEntry(e itsf.Entry) ([]byte, error) {
	switch e.Section {
	case itsf.SectionUncompressed:
		start := a.Header.DataOffset + e.Offset
		if e.Offset > uint64(a.size) || e.Length > uint64(a.size) || start+e.Length > uint64(a.size) {
			return nil, itsf.Errorf(itsf.ErrOutOfBounds, int64(start),
				"%s: %d bytes at section offset 0x%x exceed file", e.Path, e.Length, e.Offset)
		}
		return a.readAt(int64(start), int64(e.Length))
	case itsf.SectionCompressed:
		cs, err := a.Compressed()
		if err != nil {
			return nil, err
		}
		return cs.Read(e.Offset, e.Length)
	default:
		return nil, itsf.Errorf(itsf.ErrUnknownSection, -1, "%s: section %d", e.Path, e.Section)
	}
}

// entryOffset returns the container offset of e's content, or -1 when it
// is compressed.
func (a *Archive) entryOffset(e itsf.Entry) int64 {
	if e.Section != itsf.SectionUncompressed {
		return -1
	}
	return int64(a.Header.DataOffset + e.Offset)
}

// Compressed returns the LZX section, parsing its control data and reset
// table on first call.
func (a *Archive) Compressed() (*CompressedSection, error) {
	a.lzxOnce.Do(func() {
		a.lzx, a.lzxErr = a.readCompressedSection()
	})
	return a.lzx, a.lzxErr
}

func (a *Archive) readCompressedSection() (*CompressedSection, error) {
	read := func(path string) ([]byte, int64, error) {
		e, err := a.Find(path)
		if errors.Is(err, itsf.ErrNotFound) {
			return nil, -1, itsf.Errorf(itsf.ErrUnknownSection, -1, "compressed section lacks %s", path)
		}
		if err != nil {
			return nil, -1, err
		}
		if e.Section != itsf.SectionUncompressed {
			return nil, -1, itsf.Errorf(itsf.ErrCorruptDirectory, -1, "%s stored in section %d", path, e.Section)
		}
		b, err := a.ReadEntry(e)
		return b, a.entryOffset(e), err
	}

	ctlBuf, ctlOff, err := read(itsf.ControlPath)
	if err != nil {
		return nil, err
	}
	ctl, err := ParseControlData(ctlBuf, ctlOff)
	if err != nil {
		return nil, err
	}
	rtBuf, rtOff, err := read(itsf.ResetTablePath)
	if err != nil {
		return nil, err
	}
	rt, err := ParseResetTable(rtBuf, rtOff)
	if err != nil {
		return nil, err
	}
	content, contentOff, err := read(itsf.ContentPath)
	if err != nil {
		return nil, err
	}

	cs, err := NewCompressedSection(content, contentOff, ctl, rt, a.opts.FrameCacheSize)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("read compressed section",
		"window_size", ctl.WindowSize,
		"reset_interval", ctl.ResetInterval,
		"frame_count", cs.FrameCount(),
		"frame_cache_size", a.opts.FrameCacheSize,
		"uncompressed_len", rt.UncompressedLen,
		"compressed_len", rt.CompressedLen,
	)
	return cs, nil
}

// readAt reads exactly n bytes at off.
func (a *Archive) readAt(off, n int64) ([]byte, error) {
	if off < 0 || n < 0 || off+n > a.size {
		return nil, itsf.Errorf(itsf.ErrTruncated, off, "need %d bytes, file has %d", n, a.size)
	}
	buf := make([]byte, n)
	got, err := a.r.ReadAt(buf, off)
	if got < len(buf) {
		return nil, itsf.Wrap(itsf.ErrTruncated, off, err, "failed to read container")
	}
	return buf, nil
}
