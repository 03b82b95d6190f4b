package parser

import (
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/ossyrian/chmparse/internal/itsf"
)

// EnumFlag selects which directory entries Enumerate returns. A category
// flag (Normal, Special, Meta) and a type flag (Files, Dirs) must both
// match; omitting every flag of a group selects the whole group.
type EnumFlag uint8

const (
	EnumNormal  EnumFlag = 1 << iota // user-visible paths under "/"
	EnumSpecial                      // "/#..." and "/$..." compiler metadata
	EnumMeta                         // "::..." storage internals
	EnumFiles
	EnumDirs

	EnumAll = EnumNormal | EnumSpecial | EnumMeta | EnumFiles | EnumDirs
	// EnumUserFiles is what a file listing shows by default.
	EnumUserFiles = EnumNormal | EnumFiles
)

func (f EnumFlag) match(e itsf.Entry) bool {
	cat := f & (EnumNormal | EnumSpecial | EnumMeta)
	if cat == 0 {
		cat = EnumNormal | EnumSpecial | EnumMeta
	}
	typ := f & (EnumFiles | EnumDirs)
	if typ == 0 {
		typ = EnumFiles | EnumDirs
	}

	var c EnumFlag
	switch {
	case e.IsMeta():
		c = EnumMeta
	case e.IsNormal():
		c = EnumNormal
	default:
		c = EnumSpecial
	}
	t := EnumFiles
	if e.IsDir() {
		t = EnumDirs
	}
	return cat&c != 0 && typ&t != 0
}

type chunkKind uint8

const (
	chunkUnknown chunkKind = iota
	chunkListing
	chunkIndex
)

type indexEntry struct {
	name  string
	child int
}

type chunk struct {
	kind     chunkKind
	offset   int64
	entries  []itsf.Entry // listing chunks, in stored order
	children []indexEntry // index chunks
	prev     uint32
	next     uint32
}

// Directory holds every chunk of the ITSP directory, addressed by chunk
// number. It is immutable once parsed.
type Directory struct {
	Header *itsf.DirectoryHeader
	chunks []chunk

	entriesOnce sync.Once
	entries     []itsf.Entry
	entriesErr  error
}

// ParseDirectoryHeader parses the ITSP header at the start of buf, which
// lives at absolute offset off.
func ParseDirectoryHeader(buf []byte, off int64) (*itsf.DirectoryHeader, error) {
	c := itsf.NewCursor(buf, off)
	dh := &itsf.DirectoryHeader{}

	var err error
	if dh.Magic, err = c.Magic(); err != nil {
		return nil, fmt.Errorf("failed to read directory magic: %w", err)
	}
	if dh.Magic != itsf.DirectoryMagic {
		return nil, itsf.Errorf(itsf.ErrCorruptDirectory, off, "expected %q, got %q", itsf.DirectoryMagic, dh.Magic)
	}
	if len(buf) < itsf.DirectoryHeaderLen {
		return nil, itsf.Errorf(itsf.ErrTruncated, off, "directory header needs %d bytes, have %d", itsf.DirectoryHeaderLen, len(buf))
	}
	dh.Version, _ = c.Uint32()
	dh.HeaderLen, _ = c.Uint32()
	dh.Unknown000C, _ = c.Uint32()
	dh.ChunkSize, _ = c.Uint32()
	dh.QuickRefDensity, _ = c.Uint32()
	dh.IndexDepth, _ = c.Uint32()
	dh.IndexRoot, _ = c.Int32()
	dh.FirstListing, _ = c.Int32()
	dh.LastListing, _ = c.Int32()
	dh.Unknown0028, _ = c.Int32()
	dh.NumChunks, _ = c.Uint32()
	dh.LangID, _ = c.Uint32()
	dh.SystemUUID, _ = c.UUID()
	dh.Unknown0044, _ = c.UUID()

	switch {
	case dh.Version != itsf.DirectoryVersion:
		return nil, itsf.Errorf(itsf.ErrUnsupportedVersion, off+4, "ITSP version %d", dh.Version)
	case dh.HeaderLen != itsf.DirectoryHeaderLen:
		return nil, itsf.Errorf(itsf.ErrCorruptDirectory, off+8, "directory header length 0x%x", dh.HeaderLen)
	case dh.ChunkSize < itsf.ListingHeaderLen+2:
		return nil, itsf.Errorf(itsf.ErrCorruptDirectory, off+0x10, "chunk size %d", dh.ChunkSize)
	case dh.NumChunks == 0:
		return nil, itsf.Errorf(itsf.ErrCorruptDirectory, off+0x2C, "directory has no chunks")
	case dh.FirstListing < 0 || uint32(dh.FirstListing) >= dh.NumChunks:
		return nil, itsf.Errorf(itsf.ErrCorruptDirectory, off+0x20, "first listing chunk %d of %d", dh.FirstListing, dh.NumChunks)
	case dh.IndexRoot >= 0 && uint32(dh.IndexRoot) >= dh.NumChunks:
		return nil, itsf.Errorf(itsf.ErrCorruptDirectory, off+0x1C, "index root %d of %d", dh.IndexRoot, dh.NumChunks)
	}
	return dh, nil
}

// ParseDirectory parses the ITSP header and every chunk that follows it.
// buf starts with the ITSP header, which lives at absolute offset off.
func ParseDirectory(buf []byte, off int64, logger *slog.Logger) (*Directory, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dh, err := ParseDirectoryHeader(buf, off)
	if err != nil {
		return nil, err
	}
	cs := int(dh.ChunkSize)
	need := uint64(dh.HeaderLen) + uint64(dh.NumChunks)*uint64(dh.ChunkSize)
	if need > uint64(len(buf)) {
		return nil, itsf.Errorf(itsf.ErrCorruptDirectory, off,
			"%d chunks of %d bytes exceed %d-byte directory", dh.NumChunks, dh.ChunkSize, len(buf))
	}

	d := &Directory{Header: dh, chunks: make([]chunk, dh.NumChunks)}
	for i := range d.chunks {
		start := int(dh.HeaderLen) + i*cs
		ch, err := parseChunk(buf[start:start+cs], off+int64(start), dh.NumChunks)
		if err != nil {
			return nil, fmt.Errorf("failed to parse chunk %d: %w", i, err)
		}
		if ch.kind == chunkUnknown {
			logger.Debug("skipping chunk with unknown magic", "chunk", i, "offset", ch.offset)
		}
		d.chunks[i] = ch
	}
	return d, nil
}

func parseChunk(buf []byte, off int64, numChunks uint32) (chunk, error) {
	ch := chunk{offset: off, prev: itsf.NoChunk, next: itsf.NoChunk}
	c := itsf.NewCursor(buf, off)
	magic, _ := c.Magic()

	switch magic {
	case itsf.ListingMagic:
		ch.kind = chunkListing
		free, _ := c.Uint32()
		_, _ = c.Uint32()
		ch.prev, _ = c.Uint32()
		ch.next, _ = c.Uint32()
		if free > uint32(len(buf)-itsf.ListingHeaderLen) {
			return ch, itsf.Errorf(itsf.ErrCorruptDirectory, off+4, "free space %d in %d-byte chunk", free, len(buf))
		}
		if ch.next != itsf.NoChunk && ch.next >= numChunks {
			return ch, itsf.Errorf(itsf.ErrCorruptDirectory, off+0x10, "next chunk %d of %d", ch.next, numChunks)
		}
		end := len(buf) - int(free)

		// the last two bytes count the entries of the chunk; every entry
		// takes at least four bytes
		count := int(uint16(buf[len(buf)-2]) | uint16(buf[len(buf)-1])<<8)
		if count*4 > end-itsf.ListingHeaderLen {
			return ch, itsf.Errorf(itsf.ErrCorruptDirectory, off+int64(len(buf)-2),
				"%d entries declared in %d bytes", count, end-itsf.ListingHeaderLen)
		}

		body := itsf.NewCursor(buf[:end], off)
		_ = body.Seek(itsf.ListingHeaderLen)
		ch.entries = make([]itsf.Entry, 0, count)
		for body.Len() > 0 {
			e, err := parseListingEntry(body)
			if err != nil {
				return ch, err
			}
			ch.entries = append(ch.entries, e)
		}

	case itsf.IndexMagic:
		ch.kind = chunkIndex
		free, _ := c.Uint32()
		if free > uint32(len(buf)-itsf.IndexHeaderLen) {
			return ch, itsf.Errorf(itsf.ErrCorruptDirectory, off+4, "free space %d in %d-byte chunk", free, len(buf))
		}
		body := itsf.NewCursor(buf[:len(buf)-int(free)], off)
		_ = body.Seek(itsf.IndexHeaderLen)
		for body.Len() > 0 {
			at := body.Offset()
			name, err := body.String()
			if err != nil {
				return ch, asCorrupt(err)
			}
			child, err := body.EncInt()
			if err != nil {
				return ch, asCorrupt(err)
			}
			if name == "" || child >= uint64(numChunks) {
				return ch, itsf.Errorf(itsf.ErrCorruptDirectory, at, "index entry %q points at chunk %d of %d", name, child, numChunks)
			}
			ch.children = append(ch.children, indexEntry{name: name, child: int(child)})
		}
	}
	return ch, nil
}

func parseListingEntry(c *itsf.Cursor) (itsf.Entry, error) {
	at := c.Offset()
	var e itsf.Entry
	var err error
	if e.Path, err = c.String(); err != nil {
		return e, asCorrupt(err)
	}
	if e.Path == "" {
		return e, itsf.Errorf(itsf.ErrCorruptDirectory, at, "empty entry name")
	}
	section, err := c.EncInt()
	if err != nil {
		return e, asCorrupt(err)
	}
	if section > math.MaxUint16 {
		return e, itsf.Errorf(itsf.ErrCorruptDirectory, at, "%s: section %d", e.Path, section)
	}
	e.Section = int(section)
	if e.Offset, err = c.EncInt(); err != nil {
		return e, asCorrupt(err)
	}
	if e.Length, err = c.EncInt(); err != nil {
		return e, asCorrupt(err)
	}
	return e, nil
}

// asCorrupt turns a read past the end of a chunk into a directory error.
func asCorrupt(err error) error {
	if itsf.KindOf(err) == itsf.ErrTruncated {
		return itsf.Wrap(itsf.ErrCorruptDirectory, itsf.OffsetOf(err), err, "entry crosses chunk boundary")
	}
	return err
}

// ChunkCount returns the number of chunks in the directory.
func (d *Directory) ChunkCount() int { return len(d.chunks) }

// Find returns the entry named path. The comparison is exact and
// case-sensitive. When the directory has an index, Find descends from the
// root index chunk; otherwise it scans the listing chain.
func (d *Directory) Find(path string) (itsf.Entry, error) {
	if d.Header.IndexRoot >= 0 && d.chunks[d.Header.IndexRoot].kind == chunkIndex {
		return d.descend(path)
	}
	return d.scan(path)
}

func (d *Directory) descend(path string) (itsf.Entry, error) {
	cur := int(d.Header.IndexRoot)
	for steps := 0; steps <= len(d.chunks); steps++ {
		ch := &d.chunks[cur]
		switch ch.kind {
		case chunkIndex:
			next := ch.child(path)
			if next < 0 {
				return itsf.Entry{}, fmt.Errorf("%w: %s", itsf.ErrNotFound, path)
			}
			cur = next
		case chunkListing:
			if e, ok := ch.find(path); ok {
				return e, nil
			}
			return itsf.Entry{}, fmt.Errorf("%w: %s", itsf.ErrNotFound, path)
		default:
			return itsf.Entry{}, itsf.Errorf(itsf.ErrCorruptDirectory, ch.offset, "index points at chunk %d of unknown type", cur)
		}
	}
	return itsf.Entry{}, itsf.Errorf(itsf.ErrCorruptDirectory, -1, "index descent does not terminate")
}

func (d *Directory) scan(path string) (itsf.Entry, error) {
	var found itsf.Entry
	ok := false
	err := d.walk(func(ch *chunk) {
		if e, hit := ch.find(path); hit {
			found, ok = e, true
		}
	})
	if err != nil {
		return itsf.Entry{}, err
	}
	if !ok {
		return itsf.Entry{}, fmt.Errorf("%w: %s", itsf.ErrNotFound, path)
	}
	return found, nil
}

// walk visits the listing chunks in chain order, starting at the first
// listing chunk.
func (d *Directory) walk(fn func(*chunk)) error {
	visited := make([]bool, len(d.chunks))
	for cur := uint32(d.Header.FirstListing); cur != itsf.NoChunk; {
		if visited[cur] {
			return itsf.Errorf(itsf.ErrCorruptDirectory, d.chunks[cur].offset, "listing chain revisits chunk %d", cur)
		}
		visited[cur] = true
		ch := &d.chunks[cur]
		if ch.kind != chunkListing {
			return itsf.Errorf(itsf.ErrCorruptDirectory, ch.offset, "listing chain reaches non-listing chunk %d", cur)
		}
		fn(ch)
		cur = ch.next
	}
	return nil
}

// child returns the chunk that may hold path: the last child whose key
// sorts at or before it. Keys are ordered case-insensitively.
func (ch *chunk) child(path string) int {
	i := sort.Search(len(ch.children), func(i int) bool {
		return foldCompare(ch.children[i].name, path) > 0
	})
	if i == 0 {
		return -1
	}
	return ch.children[i-1].child
}

// find looks path up in a listing chunk. Listing entries are ordered
// case-insensitively, so a byte-order search may miss and a linear scan
// backs it up. Later duplicates win.
func (ch *chunk) find(path string) (itsf.Entry, bool) {
	i, ok := slices.BinarySearchFunc(ch.entries, path, func(e itsf.Entry, p string) int {
		return strings.Compare(e.Path, p)
	})
	if ok {
		for i+1 < len(ch.entries) && ch.entries[i+1].Path == path {
			i++
		}
		return ch.entries[i], true
	}
	for j := len(ch.entries) - 1; j >= 0; j-- {
		if ch.entries[j].Path == path {
			return ch.entries[j], true
		}
	}
	return itsf.Entry{}, false
}

// foldCompare compares a and b with ASCII letters folded to lower case.
func foldCompare(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		x, y := lowerASCII(a[i]), lowerASCII(b[i])
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

// Entries returns every entry of the listing chain exactly once, in
// ascending byte order of path. When a path occurs more than once the
// entry seen last wins. The returned slice is shared and must not be
// modified.
func (d *Directory) Entries() ([]itsf.Entry, error) {
	d.entriesOnce.Do(func() {
		seen := make(map[string]int)
		var all []itsf.Entry
		d.entriesErr = d.walk(func(ch *chunk) {
			for _, e := range ch.entries {
				if i, dup := seen[e.Path]; dup {
					all[i] = e
					continue
				}
				seen[e.Path] = len(all)
				all = append(all, e)
			}
		})
		if d.entriesErr != nil {
			return
		}
		slices.SortFunc(all, func(a, b itsf.Entry) int { return strings.Compare(a.Path, b.Path) })
		d.entries = all
	})
	return d.entries, d.entriesErr
}

// Enumerate returns the entries selected by flags, in ascending path order.
func (d *Directory) Enumerate(flags EnumFlag) ([]itsf.Entry, error) {
	all, err := d.Entries()
	if err != nil {
		return nil, err
	}
	var out []itsf.Entry
	for _, e := range all {
		if flags.match(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
