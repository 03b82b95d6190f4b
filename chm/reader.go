package chm

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/samber/lo"
	"golang.org/x/exp/mmap"

	"github.com/ossyrian/chmparse/internal/itsf"
	"github.com/ossyrian/chmparse/internal/parser"
)

// Reader gives access to the content of one container. The container bytes
// are never modified; the directory and the compressed section are parsed
// on first use.
type Reader struct {
	name   string
	arch   *parser.Archive
	closer io.Closer
	opts   Options
}

// Open maps the container at path read-only.
func Open(path string, opts Options) (*Reader, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open container: %w", err)
	}
	r, err := newReader(path, m, int64(m.Len()), opts)
	if err != nil {
		m.Close()
		return nil, err
	}
	r.closer = m
	return r, nil
}

// OpenReaderAt reads a container of size bytes from ra.
func OpenReaderAt(ra io.ReaderAt, size int64, opts Options) (*Reader, error) {
	return newReader("", ra, size, opts)
}

func newReader(name string, ra io.ReaderAt, size int64, opts Options) (*Reader, error) {
	logger := opts.logger()
	if name != "" {
		logger = logger.With("file", name)
	}
	opts.Logger = logger

	arch, err := parser.Open(ra, size, parser.Options{
		Logger:         logger,
		FrameCacheSize: opts.FrameCacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	return &Reader{name: name, arch: arch, opts: opts}, nil
}

// Name returns the path the Reader was opened from, or "".
func (r *Reader) Name() string { return r.name }

// Header returns the ITSF header.
func (r *Reader) Header() *Header { return r.arch.Header }

// Size returns the size of the container in bytes.
func (r *Reader) Size() int64 { return r.arch.Size() }

// Close releases the mapping of a Reader created by Open.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// NormalizePath returns p with a leading "/" unless it names a "::"
// storage entry.
func NormalizePath(p string) string {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, itsf.MetaPrefix) {
		return p
	}
	return "/" + p
}

// Stat returns the directory entry of path.
func (r *Reader) Stat(path string) (Entry, error) {
	return r.arch.Find(NormalizePath(path))
}

// Content returns the bytes of the file at path. A missing path yields an
// error matching ErrNotFound.
func (r *Reader) Content(path string) ([]byte, error) {
	e, err := r.Stat(path)
	if err != nil {
		return nil, err
	}
	if e.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotFound, e.Path)
	}
	return r.arch.ReadEntry(e)
}

// ReadContent returns the bytes of the file at path, or false when it is
// absent or cannot be decoded. Structural errors are logged.
func (r *Reader) ReadContent(path string) ([]byte, bool) {
	data, err := r.Content(path)
	if err != nil {
		r.report("read content", err, "path", path)
		return nil, false
	}
	return data, true
}

// Entries returns the directory entries selected by flags in ascending
// path order.
func (r *Reader) Entries(flags EnumFlag) ([]Entry, error) {
	d, err := r.arch.Directory()
	if err != nil {
		return nil, err
	}
	return d.Enumerate(flags)
}

// FileList returns the path of every user file in ascending order, or of
// every file when Options.IncludeInternal is set. A container whose
// directory cannot be read lists no files.
func (r *Reader) FileList() []string {
	flags := EnumUserFiles
	if r.opts.IncludeInternal {
		flags = EnumAll &^ EnumDirs
	}
	entries, err := r.Entries(flags)
	if err != nil {
		r.report("list files", err)
		return []string{}
	}
	return lo.Map(entries, func(e Entry, _ int) string { return e.Path })
}

// Match returns the files of FileList matching a doublestar glob such as
// "html/**/*.htm". The leading "/" of paths and pattern is ignored.
func (r *Reader) Match(pattern string) ([]string, error) {
	pattern = strings.TrimPrefix(pattern, "/")
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%w: %q", doublestar.ErrBadPattern, pattern)
	}
	return lo.Filter(r.FileList(), func(p string, _ int) bool {
		ok, _ := doublestar.Match(pattern, strings.TrimPrefix(p, "/"))
		return ok
	}), nil
}

// System returns the decoded #SYSTEM stream.
func (r *Reader) System() (*SystemInfo, error) { return r.arch.System() }

// Windows returns the window types declared in #WINDOWS.
func (r *Reader) Windows() ([]Window, error) { return r.arch.Windows() }

// Compression returns the parameters of the LZX section. Containers with no
// compressed content yield an error matching ErrUnknownSection.
func (r *Reader) Compression() (*ControlData, *ResetTable, error) {
	cs, err := r.arch.Compressed()
	if err != nil {
		return nil, nil, err
	}
	return cs.Control, cs.Table, nil
}

// HomeFile returns the default topic, or "" when the container does not
// name one.
func (r *Reader) HomeFile() string {
	home, err := r.arch.HomeFile()
	if err != nil {
		r.report("find home file", err)
		return ""
	}
	return home
}

// report logs an error swallowed at the API boundary. Absent paths are
// expected and only logged at debug level.
func (r *Reader) report(op string, err error, args ...any) {
	logger := r.opts.Logger
	if errors.Is(err, ErrNotFound) && itsf.KindOf(err) == nil {
		logger.Debug(op+": not found", append(args, "error", err)...)
		return
	}
	args = append(args, "error", err)
	if kind := itsf.KindOf(err); kind != nil {
		args = append(args, "kind", kind.Error(), "offset", itsf.OffsetOf(err))
	}
	logger.Warn("failed to "+op, args...)
}
