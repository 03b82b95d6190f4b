// Package chm reads Microsoft Compiled HTML Help containers.
//
// A Reader serves one container: it resolves internal paths such as
// "/index.html" to their bytes, decompressing LZX content on demand, lists
// the files of the container and finds its home page. A Library serves the
// same three operations keyed by container path, keeping recently used
// containers open.
//
// Typical usage:
//
//	r, err := chm.Open("manual.chm", chm.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	for _, p := range r.FileList() {
//	    data, ok := r.ReadContent(p)
//	    // handle data…
//	}
//
// Reader and Library are safe for concurrent use.
package chm

import (
	"log/slog"

	"github.com/ossyrian/chmparse/internal/itsf"
	"github.com/ossyrian/chmparse/internal/parser"
)

// Structural error kinds. Errors returned by this package match at most one
// of them with errors.Is; ErrNotFound marks a path that is simply absent.
var (
	ErrBadMagic           = itsf.ErrBadMagic
	ErrUnsupportedVersion = itsf.ErrUnsupportedVersion
	ErrTruncated          = itsf.ErrTruncated
	ErrCorruptDirectory   = itsf.ErrCorruptDirectory
	ErrOutOfBounds        = itsf.ErrOutOfBounds
	ErrUnknownSection     = itsf.ErrUnknownSection
	ErrDecompression      = itsf.ErrDecompression
	ErrNotFound           = itsf.ErrNotFound
)

type (
	// Entry is a directory entry: a path and where its bytes live.
	Entry = itsf.Entry
	// Header is the ITSF header of a container.
	Header = itsf.Header
	// FormatError describes a structural problem at a container offset.
	FormatError = itsf.FormatError
	// SystemInfo is the decoded #SYSTEM metadata stream.
	SystemInfo = parser.SystemInfo
	// Window is a window type declared in #WINDOWS.
	Window = parser.Window
	// EnumFlag selects entries for Reader.Entries.
	EnumFlag = parser.EnumFlag
	// ControlData holds the LZX parameters of the compressed section.
	ControlData = itsf.ControlData
	// ResetTable maps LZX frames to compressed offsets.
	ResetTable = itsf.ResetTable
)

// Entry selection flags, see Reader.Entries.
const (
	EnumNormal    = parser.EnumNormal
	EnumSpecial   = parser.EnumSpecial
	EnumMeta      = parser.EnumMeta
	EnumFiles     = parser.EnumFiles
	EnumDirs      = parser.EnumDirs
	EnumAll       = parser.EnumAll
	EnumUserFiles = parser.EnumUserFiles
)

// Defaults used when the corresponding Options field is zero.
const (
	DefaultFrameCacheSize     = parser.DefaultFrameCacheSize
	DefaultContainerCacheSize = 16
)

// Options configures Readers and Libraries.
type Options struct {
	// Logger receives diagnostics, including the structural errors that
	// ReadContent, FileList and HomeFile report as absence.
	Logger *slog.Logger
	// FrameCacheSize is the number of decoded 32 KiB frames kept per
	// container. Values below 3 are raised to 3.
	FrameCacheSize int
	// ContainerCacheSize is the number of containers a Library keeps open.
	ContainerCacheSize int
	// IncludeInternal makes FileList return every file, including "/#..."
	// and "::..." entries, instead of user files only.
	IncludeInternal bool
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}
