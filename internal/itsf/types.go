package itsf

import "strings"

// Header is the ITSF header found at offset 0 of every CHM container.
type Header struct {
	Magic     [4]byte // "ITSF"
	Version   uint32  // 2 or 3
	HeaderLen uint32  // HeaderLenV2 or HeaderLenV3
	Unknown   uint32
	Timestamp uint32 // stored big-endian, unlike every other field
	LangID    uint32

	DirUUID    [16]byte
	StreamUUID [16]byte

	SectionTableOffset uint64
	SectionTableLen    uint64
	DirOffset          uint64 // offset of the ITSP directory header
	DirLen             uint64
	DataOffset         uint64 // offset of content section 0
}

// DirectoryHeader is the ITSP header that precedes the directory chunks.
type DirectoryHeader struct {
	Magic           [4]byte // "ITSP"
	Version         uint32
	HeaderLen       uint32
	Unknown000C     uint32
	ChunkSize       uint32
	QuickRefDensity uint32
	IndexDepth      uint32 // 1 when there are no PMGI chunks
	IndexRoot       int32  // chunk number of the root PMGI, -1 if none
	FirstListing    int32  // chunk number of the first PMGL
	LastListing     int32
	Unknown0028     int32
	NumChunks       uint32
	LangID          uint32
	SystemUUID      [16]byte
	Unknown0044     [16]byte
}

// Entry is a resolved directory entry.
type Entry struct {
	Path    string // case-sensitive, always starts with "/" or "::"
	Section int    // content section index
	Offset  uint64 // offset inside the section
	Length  uint64
}

// IsDir reports whether the entry names a directory rather than a file.
func (e Entry) IsDir() bool {
	return strings.HasSuffix(e.Path, "/")
}

// IsMeta reports whether the entry lives in the "::" namespace.
func (e Entry) IsMeta() bool {
	return strings.HasPrefix(e.Path, MetaPrefix)
}

// IsSpecial reports whether the entry is compiler metadata such as #SYSTEM.
func (e Entry) IsSpecial() bool {
	return len(e.Path) > 1 && e.Path[0] == '/' && (e.Path[1] == '#' || e.Path[1] == '$')
}

// IsNormal reports whether the entry is part of the user-visible tree.
func (e Entry) IsNormal() bool {
	return strings.HasPrefix(e.Path, "/") && !e.IsSpecial()
}

// ControlData describes the parameters of the LZX-compressed section.
// All sizes are normalised to bytes regardless of the on-disk version.
type ControlData struct {
	Version         uint32
	ResetInterval   uint32 // bytes of output between LZX resets
	WindowSize      uint32 // LZX window size in bytes
	WindowsPerReset uint32
}

// ResetTable lists the compressed offset of every frame of the LZX stream.
// Frame i starts at uncompressed offset i*BlockLen.
type ResetTable struct {
	Version         uint32
	BlockCount      uint32
	EntrySize       uint32
	TableOffset     uint32
	UncompressedLen uint64
	CompressedLen   uint64
	BlockLen        uint64
	Offsets         []uint64
}

// FrameBounds returns the compressed byte range of frame i.
func (t *ResetTable) FrameBounds(i int) (start, end uint64) {
	start = t.Offsets[i]
	if i+1 < len(t.Offsets) {
		end = t.Offsets[i+1]
	} else {
		end = t.CompressedLen
	}
	return start, end
}

// FrameCount returns the number of frames needed to cover UncompressedLen.
func (t *ResetTable) FrameCount() int {
	if t.BlockLen == 0 {
		return 0
	}
	return int((t.UncompressedLen + t.BlockLen - 1) / t.BlockLen)
}
