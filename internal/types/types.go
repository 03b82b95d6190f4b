package types

import "strings"

// ArchiveInfo summarises a container for the info command
type ArchiveInfo struct {
	File       string   `json:"file" yaml:"file"`
	Size       int64    `json:"size" yaml:"size"`
	Version    uint32   `json:"version" yaml:"version"`
	LangID     uint32   `json:"lang_id" yaml:"lang_id"`
	Title      string   `json:"title,omitempty" yaml:"title,omitempty"`
	HomeFile   string   `json:"home_file,omitempty" yaml:"home_file,omitempty"`
	Contents   string   `json:"contents_file,omitempty" yaml:"contents_file,omitempty"`
	Index      string   `json:"index_file,omitempty" yaml:"index_file,omitempty"`
	Compiler   string   `json:"compiler,omitempty" yaml:"compiler,omitempty"`
	Windows    []string `json:"windows,omitempty" yaml:"windows,omitempty"`
	FileCount  int      `json:"file_count" yaml:"file_count"`
	TotalBytes uint64   `json:"total_bytes" yaml:"total_bytes"`

	Compressed *CompressionInfo `json:"compressed,omitempty" yaml:"compressed,omitempty"`
}

// CompressionInfo describes the LZX section
type CompressionInfo struct {
	WindowSize      uint32 `json:"window_size" yaml:"window_size"`
	ResetInterval   uint32 `json:"reset_interval" yaml:"reset_interval"`
	Frames          int    `json:"frames" yaml:"frames"`
	CompressedLen   uint64 `json:"compressed_len" yaml:"compressed_len"`
	UncompressedLen uint64 `json:"uncompressed_len" yaml:"uncompressed_len"`
}

// EntryInfo is one line of the list command
type EntryInfo struct {
	Path    string      `json:"path" yaml:"path"`
	Kind    EntryKind   `json:"kind" yaml:"kind"`
	Section SectionKind `json:"section" yaml:"section"`
	Offset  uint64      `json:"offset" yaml:"offset"`
	Length  uint64      `json:"length" yaml:"length"`
}

// SectionKind names the content section an entry is stored in
type SectionKind int

const (
	SectionUncompressed SectionKind = iota
	SectionCompressed
	SectionUnknown
)

// SectionOf maps a section index to its kind
func SectionOf(i int) SectionKind {
	switch i {
	case 0:
		return SectionUncompressed
	case 1:
		return SectionCompressed
	default:
		return SectionUnknown
	}
}

func (s SectionKind) String() string {
	switch s {
	case SectionUncompressed:
		return "Uncompressed"
	case SectionCompressed:
		return "MSCompressed"
	default:
		return "Unknown"
	}
}

// MarshalText lets encoders print the name instead of the number
func (s SectionKind) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// EntryKind classifies directory entries by path
type EntryKind int

const (
	EntryFile EntryKind = iota
	EntryDir
	EntrySpecial
	EntryMeta
)

// KindOf classifies a directory path
func KindOf(path string) EntryKind {
	switch {
	case strings.HasPrefix(path, "::"):
		return EntryMeta
	case strings.HasPrefix(path, "/#"), strings.HasPrefix(path, "/$"):
		return EntrySpecial
	case strings.HasSuffix(path, "/"):
		return EntryDir
	default:
		return EntryFile
	}
}

func (k EntryKind) String() string {
	switch k {
	case EntryFile:
		return "File"
	case EntryDir:
		return "Dir"
	case EntrySpecial:
		return "Special"
	case EntryMeta:
		return "Meta"
	default:
		return "Unknown"
	}
}

// MarshalText lets encoders print the name instead of the number
func (k EntryKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
