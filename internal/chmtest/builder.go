// Package chmtest builds synthetic CHM containers for tests.
package chmtest

import (
	"encoding/binary"
	"slices"
	"strings"

	"github.com/ossyrian/chmparse/internal/itsf"
)

// File is one entry of a synthetic container.
type File struct {
	Path       string
	Data       []byte
	Compressed bool
}

// Builder lays out an ITSF container: header, ITSP directory with PMGL
// listing chunks (and PMGI index chunks when more than one listing chunk
// is needed), then content section 0. Compressed files are concatenated,
// LZX encoded and stored in section 0 under the MSCompressed entries.
type Builder struct {
	Version     uint32 // 2 or 3, default 3
	ChunkSize   int    // default 4096
	LangID      uint32
	Files       []File
	Encoder     LZXEncoder
	ControlV1   bool // write control data sizes in bytes instead of 0x8000 units
	// ExtraRaw adds directory entries verbatim, without content.
	ExtraRaw []itsf.Entry
}

// Build returns the container bytes.
func (b *Builder) Build() []byte {
	version := b.Version
	if version == 0 {
		version = 3
	}
	chunkSize := b.ChunkSize
	if chunkSize == 0 {
		chunkSize = 4096
	}

	var section0 []byte
	var entries []itsf.Entry
	var stream []byte
	hasCompressed := false

	for _, f := range b.Files {
		if f.Compressed {
			hasCompressed = true
			entries = append(entries, itsf.Entry{
				Path: f.Path, Section: 1, Offset: uint64(len(stream)), Length: uint64(len(f.Data)),
			})
			stream = append(stream, f.Data...)
			continue
		}
		entries = append(entries, itsf.Entry{
			Path: f.Path, Section: 0, Offset: uint64(len(section0)), Length: uint64(len(f.Data)),
		})
		section0 = append(section0, f.Data...)
	}

	if hasCompressed {
		enc := b.Encoder
		if enc.WindowBits == 0 {
			enc.WindowBits = 16
		}
		if enc.ResetFrames == 0 {
			enc.ResetFrames = 2
		}
		content, offsets := enc.Encode(stream)
		add := func(path string, data []byte) {
			entries = append(entries, itsf.Entry{
				Path: path, Section: 0, Offset: uint64(len(section0)), Length: uint64(len(data)),
			})
			section0 = append(section0, data...)
		}
		add(itsf.ContentPath, content)
		add(itsf.ControlPath, b.controlData(enc))
		add(itsf.ResetTablePath, resetTable(offsets, uint64(len(stream)), uint64(len(content))))
	}
	entries = append(entries, b.ExtraRaw...)

	slices.SortStableFunc(entries, func(x, y itsf.Entry) int {
		if c := strings.Compare(strings.ToLower(x.Path), strings.ToLower(y.Path)); c != 0 {
			return c
		}
		return strings.Compare(x.Path, y.Path)
	})

	chunks, firstListing, lastListing, root, depth := buildChunks(entries, chunkSize)

	dir := directoryHeader(chunkSize, len(chunks), firstListing, lastListing, root, depth, b.LangID)
	for _, c := range chunks {
		dir = append(dir, c...)
	}

	hlen := itsf.HeaderLenV3
	if version == 2 {
		hlen = itsf.HeaderLenV2
	}
	dirOffset := uint64(hlen)
	dataOffset := dirOffset + uint64(len(dir))

	h := make([]byte, 0, hlen)
	h = append(h, itsf.Magic[:]...)
	h = binary.LittleEndian.AppendUint32(h, version)
	h = binary.LittleEndian.AppendUint32(h, uint32(hlen))
	h = binary.LittleEndian.AppendUint32(h, 1)
	h = binary.BigEndian.AppendUint32(h, 0x5E1A1B0C)
	h = binary.LittleEndian.AppendUint32(h, b.LangID)
	h = append(h, make([]byte, 32)...) // directory and stream GUIDs
	h = binary.LittleEndian.AppendUint64(h, 0)
	h = binary.LittleEndian.AppendUint64(h, 0)
	h = binary.LittleEndian.AppendUint64(h, dirOffset)
	h = binary.LittleEndian.AppendUint64(h, uint64(len(dir)))
	if version == 3 {
		h = binary.LittleEndian.AppendUint64(h, dataOffset)
	}

	out := append(h, dir...)
	return append(out, section0...)
}

func (b *Builder) controlData(enc LZXEncoder) []byte {
	window := uint32(1) << enc.WindowBits
	reset := uint32(enc.ResetFrames) * itsf.LZXFrameUnit
	ver := uint32(2)
	if b.ControlV1 {
		ver = 1
	} else {
		window /= itsf.LZXFrameUnit
		reset /= itsf.LZXFrameUnit
	}
	c := binary.LittleEndian.AppendUint32(nil, 6)
	c = append(c, itsf.LZXCMagic[:]...)
	c = binary.LittleEndian.AppendUint32(c, ver)
	c = binary.LittleEndian.AppendUint32(c, reset)
	c = binary.LittleEndian.AppendUint32(c, window)
	c = binary.LittleEndian.AppendUint32(c, 1)
	c = binary.LittleEndian.AppendUint32(c, 0)
	return c
}

func resetTable(offsets []uint64, ulen, clen uint64) []byte {
	t := binary.LittleEndian.AppendUint32(nil, itsf.ResetTableVersion)
	t = binary.LittleEndian.AppendUint32(t, uint32(len(offsets)))
	t = binary.LittleEndian.AppendUint32(t, itsf.ResetTableEntryLen)
	t = binary.LittleEndian.AppendUint32(t, itsf.ResetTableHeaderLen)
	t = binary.LittleEndian.AppendUint64(t, ulen)
	t = binary.LittleEndian.AppendUint64(t, clen)
	t = binary.LittleEndian.AppendUint64(t, itsf.LZXFrameUnit)
	for _, o := range offsets {
		t = binary.LittleEndian.AppendUint64(t, o)
	}
	return t
}

func directoryHeader(chunkSize, numChunks int, first, last, root int32, depth uint32, lang uint32) []byte {
	d := append([]byte(nil), itsf.DirectoryMagic[:]...)
	d = binary.LittleEndian.AppendUint32(d, itsf.DirectoryVersion)
	d = binary.LittleEndian.AppendUint32(d, itsf.DirectoryHeaderLen)
	d = binary.LittleEndian.AppendUint32(d, 10)
	d = binary.LittleEndian.AppendUint32(d, uint32(chunkSize))
	d = binary.LittleEndian.AppendUint32(d, 2)
	d = binary.LittleEndian.AppendUint32(d, depth)
	d = binary.LittleEndian.AppendUint32(d, uint32(root))
	d = binary.LittleEndian.AppendUint32(d, uint32(first))
	d = binary.LittleEndian.AppendUint32(d, uint32(last))
	d = binary.LittleEndian.AppendUint32(d, 0xFFFFFFFF)
	d = binary.LittleEndian.AppendUint32(d, uint32(numChunks))
	d = binary.LittleEndian.AppendUint32(d, lang)
	return append(d, make([]byte, 32)...)
}

// EncodeListingEntry encodes one PMGL entry.
func EncodeListingEntry(e itsf.Entry) []byte {
	b := itsf.AppendEncInt(nil, uint64(len(e.Path)))
	b = append(b, e.Path...)
	b = itsf.AppendEncInt(b, uint64(e.Section))
	b = itsf.AppendEncInt(b, e.Offset)
	return itsf.AppendEncInt(b, e.Length)
}

type indexKey struct {
	name  string
	chunk int
}

// buildChunks packs entries into PMGL chunks and, when needed, PMGI levels
// above them. Listing chunks come first; the root index chunk is last.
func buildChunks(entries []itsf.Entry, chunkSize int) (chunks [][]byte, first, last, root int32, depth uint32) {
	const quickRef = 2
	var keys []indexKey
	var cur [][]byte
	used := itsf.ListingHeaderLen + quickRef

	flush := func() {
		if len(cur) == 0 && len(chunks) > 0 {
			return
		}
		n := len(chunks)
		c := make([]byte, 0, chunkSize)
		body := []byte{}
		for _, e := range cur {
			body = append(body, e...)
		}
		free := chunkSize - itsf.ListingHeaderLen - len(body)
		c = append(c, itsf.ListingMagic[:]...)
		c = binary.LittleEndian.AppendUint32(c, uint32(free))
		c = binary.LittleEndian.AppendUint32(c, 0)
		c = binary.LittleEndian.AppendUint32(c, uint32(int32(n-1)))
		c = binary.LittleEndian.AppendUint32(c, uint32(int32(n+1)))
		c = append(c, body...)
		c = append(c, make([]byte, chunkSize-len(c))...)
		binary.LittleEndian.PutUint16(c[chunkSize-2:], uint16(len(cur)))
		chunks = append(chunks, c)
		cur = nil
		used = itsf.ListingHeaderLen + quickRef
	}

	for _, e := range entries {
		enc := EncodeListingEntry(e)
		if used+len(enc) > chunkSize {
			flush()
		}
		if len(cur) == 0 {
			keys = append(keys, indexKey{e.Path, len(chunks)})
		}
		cur = append(cur, enc)
		used += len(enc)
	}
	flush()

	// terminate the listing chain
	binary.LittleEndian.PutUint32(chunks[0][12:], itsf.NoChunk)
	binary.LittleEndian.PutUint32(chunks[len(chunks)-1][16:], itsf.NoChunk)
	first, last, root, depth = 0, int32(len(chunks)-1), -1, 1

	for len(keys) > 1 {
		depth++
		var next []indexKey
		var body []byte
		startKey := ""
		emit := func() {
			c := append([]byte(nil), itsf.IndexMagic[:]...)
			c = binary.LittleEndian.AppendUint32(c, uint32(chunkSize-itsf.IndexHeaderLen-len(body)))
			c = append(c, body...)
			c = append(c, make([]byte, chunkSize-len(c))...)
			next = append(next, indexKey{startKey, len(chunks)})
			chunks = append(chunks, c)
			body = nil
		}
		for _, k := range keys {
			enc := itsf.AppendEncInt(nil, uint64(len(k.name)))
			enc = append(enc, k.name...)
			enc = itsf.AppendEncInt(enc, uint64(k.chunk))
			if len(body) > 0 && itsf.IndexHeaderLen+len(body)+len(enc)+quickRef > chunkSize {
				emit()
			}
			if len(body) == 0 {
				startKey = k.name
			}
			body = append(body, enc...)
		}
		emit()
		keys = next
	}
	if depth > 1 {
		root = int32(len(chunks) - 1)
	}
	return chunks, first, last, root, depth
}

// SystemFile encodes a #SYSTEM stream from (code, data) records.
func SystemFile(records ...SystemRecord) []byte {
	b := binary.LittleEndian.AppendUint32(nil, 3)
	for _, r := range records {
		b = binary.LittleEndian.AppendUint16(b, r.Code)
		b = binary.LittleEndian.AppendUint16(b, uint16(len(r.Data)))
		b = append(b, r.Data...)
	}
	return b
}

// SystemRecord is one #SYSTEM record.
type SystemRecord struct {
	Code uint16
	Data []byte
}

// StringRecord returns a record holding a NUL-terminated string.
func StringRecord(code uint16, s string) SystemRecord {
	return SystemRecord{Code: code, Data: append([]byte(s), 0)}
}

// LCIDRecord returns a code 4 record for the given locale.
func LCIDRecord(lcid uint32) SystemRecord {
	d := binary.LittleEndian.AppendUint32(nil, lcid)
	d = append(d, make([]byte, 24)...)
	return SystemRecord{Code: 4, Data: d}
}

// WindowsFiles returns matching #WINDOWS and #STRINGS streams describing a
// single window type whose home page, title and contents file are given.
func WindowsFiles(home, title, hhc string) (windows, strs []byte) {
	strs = []byte{0}
	intern := func(s string) uint32 {
		if s == "" {
			return 0
		}
		off := uint32(len(strs))
		strs = append(strs, s...)
		strs = append(strs, 0)
		return off
	}
	const entrySize = 0x196
	entry := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(entry[0x00:], entrySize)
	binary.LittleEndian.PutUint32(entry[0x08:], intern("main"))
	binary.LittleEndian.PutUint32(entry[0x14:], intern(title))
	binary.LittleEndian.PutUint32(entry[0x60:], intern(hhc))
	binary.LittleEndian.PutUint32(entry[0x68:], intern(home))
	windows = binary.LittleEndian.AppendUint32(nil, 1)
	windows = binary.LittleEndian.AppendUint32(windows, entrySize)
	windows = append(windows, entry...)
	return windows, strs
}
