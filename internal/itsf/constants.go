package itsf

// Magic numbers identifying the structures of a CHM container.
var (
	// Magic is the signature of the top-level ITSF header.
	Magic = [4]byte{'I', 'T', 'S', 'F'}
	// DirectoryMagic is the signature of the ITSP directory header.
	DirectoryMagic = [4]byte{'I', 'T', 'S', 'P'}
	// ListingMagic is the signature of a PMGL (listing) chunk.
	ListingMagic = [4]byte{'P', 'M', 'G', 'L'}
	// IndexMagic is the signature of a PMGI (index) chunk.
	IndexMagic = [4]byte{'P', 'M', 'G', 'I'}
	// LZXCMagic is the signature found in the compressed section's control data.
	LZXCMagic = [4]byte{'L', 'Z', 'X', 'C'}
)

// Fixed structure sizes.
const (
	// HeaderLenV2 is the length of a version 2 ITSF header.
	HeaderLenV2 = 0x58
	// HeaderLenV3 is the length of a version 3 ITSF header, which appends
	// the offset of content section 0.
	HeaderLenV3 = 0x60

	// DirectoryHeaderLen is the only ITSP header length seen in the wild.
	DirectoryHeaderLen = 0x54
	DirectoryVersion   = 1

	// ListingHeaderLen is the size of the PMGL chunk header.
	ListingHeaderLen = 0x14
	// IndexHeaderLen is the size of the PMGI chunk header.
	IndexHeaderLen = 0x08

	// ResetTableHeaderLen is the size of the LZXC reset table header.
	ResetTableHeaderLen = 0x28
	ResetTableVersion   = 2
	// ResetTableEntryLen is the size of each compressed-offset checkpoint.
	ResetTableEntryLen = 8

	// ControlDataLen is the minimum size of the LZXC control data.
	ControlDataLen = 0x18

	// LZXFrameUnit is the unit of version 2 control data sizes.
	LZXFrameUnit = 0x8000

	// NoChunk marks the absence of a chunk in chunk-number fields.
	NoChunk = 0xFFFFFFFF
)

// Content section indices.
const (
	SectionUncompressed = 0
	SectionCompressed   = 1
)

// Well-known internal entries.
const (
	ContentPath    = "::DataSpace/Storage/MSCompressed/Content"
	ControlPath    = "::DataSpace/Storage/MSCompressed/ControlData"
	ResetTablePath = "::DataSpace/Storage/MSCompressed/Transform/" +
		"{7FC28940-9D31-11D0-9B27-00A0C91E9C7C}/InstanceData/ResetTable"

	SystemPath  = "/#SYSTEM"
	WindowsPath = "/#WINDOWS"
	StringsPath = "/#STRINGS"
)

// Reserved path prefixes. Paths starting with MetaPrefix live outside the
// user-visible tree; paths starting with "/#" or "/$" are compiler metadata.
const (
	MetaPrefix = "::"
)
