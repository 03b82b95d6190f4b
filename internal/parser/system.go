package parser

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"

	"github.com/ossyrian/chmparse/internal/itsf"
)

// #SYSTEM record codes.
const (
	SystemContentsFile  = 0
	SystemIndexFile     = 1
	SystemDefaultTopic  = 2
	SystemTitle         = 3
	SystemLCID          = 4
	SystemDefaultWindow = 5
	SystemCompiledFile  = 6
	SystemCompiler      = 9
	SystemDefaultFont   = 16
)

// SystemInfo is the decoded content of the #SYSTEM stream.
type SystemInfo struct {
	Version       uint32
	ContentsFile  string
	IndexFile     string
	DefaultTopic  string
	Title         string
	LCID          uint32
	DefaultWindow string
	CompiledFile  string
	Compiler      string
	DefaultFont   string
}

// Window is one window type from #WINDOWS with its strings resolved.
type Window struct {
	Name  string
	Title string
	TOC   string // .hhc contents file
	Index string // .hhk index file
	Home  string
}

// Offsets of #STRINGS references inside a #WINDOWS entry.
const (
	windowNameOffset  = 0x08
	windowTitleOffset = 0x14
	windowTOCOffset   = 0x60
	windowIndexOffset = 0x64
	windowHomeOffset  = 0x68
	minWindowEntryLen = 0x6C
)

// ParseSystem decodes a #SYSTEM stream located at absolute offset off.
// Strings are decoded with the codepage of the LCID record, or of lcid when
// the stream has none. Only a stream too short for its version fails.
func ParseSystem(buf []byte, off int64, lcid uint32) (*SystemInfo, error) {
	c := itsf.NewCursor(buf, off)
	info := &SystemInfo{}
	var err error
	if info.Version, err = c.Uint32(); err != nil {
		return nil, fmt.Errorf("failed to read #SYSTEM version: %w", err)
	}

	// A record running past the end of the stream ends it; the records
	// before it are kept. The first record of each code wins.
	records := make(map[uint16][]byte)
	for c.Len() >= 4 {
		code, _ := c.Uint16()
		n, _ := c.Uint16()
		data, err := c.Bytes(int(n))
		if err != nil {
			break
		}
		if _, ok := records[code]; !ok {
			records[code] = data
		}
	}

	info.LCID = lcid
	if d := records[SystemLCID]; len(d) >= 4 {
		info.LCID = binary.LittleEndian.Uint32(d)
	}
	enc := EncodingForLCID(info.LCID)
	str := func(code uint16) string {
		return DecodeString(records[code], enc)
	}
	info.ContentsFile = str(SystemContentsFile)
	info.IndexFile = str(SystemIndexFile)
	info.DefaultTopic = str(SystemDefaultTopic)
	info.Title = str(SystemTitle)
	info.DefaultWindow = str(SystemDefaultWindow)
	info.CompiledFile = str(SystemCompiledFile)
	info.Compiler = str(SystemCompiler)
	info.DefaultFont = str(SystemDefaultFont)
	return info, nil
}

// ParseWindows decodes a #WINDOWS stream located at absolute offset off,
// resolving its string references against the #STRINGS heap strs.
// References that fall outside the heap resolve to "".
func ParseWindows(buf, strs []byte, off int64, enc encoding.Encoding) ([]Window, error) {
	c := itsf.NewCursor(buf, off)
	count, err := c.Uint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read #WINDOWS count: %w", err)
	}
	size, err := c.Uint32()
	if err != nil {
		return nil, fmt.Errorf("failed to read #WINDOWS entry size: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	if size < minWindowEntryLen {
		return nil, itsf.Errorf(itsf.ErrTruncated, off+4, "window entry size 0x%x", size)
	}
	if uint64(count)*uint64(size) > uint64(c.Len()) {
		return nil, itsf.Errorf(itsf.ErrTruncated, off, "%d windows of %d bytes in %d bytes", count, size, c.Len())
	}

	str := func(entry []byte, at int) string {
		ref := binary.LittleEndian.Uint32(entry[at:])
		if ref == 0 {
			return ""
		}
		s, err := itsf.CString(strs, int(ref))
		if err != nil {
			return ""
		}
		return DecodeString([]byte(s), enc)
	}

	windows := make([]Window, 0, count)
	for range count {
		entry, _ := c.Bytes(int(size))
		windows = append(windows, Window{
			Name:  str(entry, windowNameOffset),
			Title: str(entry, windowTitleOffset),
			TOC:   str(entry, windowTOCOffset),
			Index: str(entry, windowIndexOffset),
			Home:  str(entry, windowHomeOffset),
		})
	}
	return windows, nil
}

// EncodingForLCID returns the ANSI codepage of a Windows locale.
func EncodingForLCID(lcid uint32) encoding.Encoding {
	switch lcid & 0x3FF {
	case 0x11:
		return japanese.ShiftJIS
	case 0x04:
		switch lcid {
		case 0x0404, 0x0C04, 0x1404:
			return traditionalchinese.Big5
		}
		return simplifiedchinese.GBK
	case 0x12:
		return korean.EUCKR
	case 0x02, 0x19, 0x22, 0x23, 0x2F:
		return charmap.Windows1251
	case 0x05, 0x0E, 0x15, 0x18, 0x1A, 0x1B, 0x24:
		return charmap.Windows1250
	case 0x08:
		return charmap.Windows1253
	case 0x1F:
		return charmap.Windows1254
	case 0x0D:
		return charmap.Windows1255
	case 0x01:
		return charmap.Windows1256
	case 0x25, 0x26, 0x27:
		return charmap.Windows1257
	case 0x2A:
		return charmap.Windows1258
	case 0x1E:
		return charmap.Windows874
	}
	return charmap.Windows1252
}

// DecodeString returns b up to its first NUL as UTF-8. Bytes that already
// form valid UTF-8 are kept; anything else is decoded with enc.
func DecodeString(b []byte, enc encoding.Encoding) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		b = b[:i]
	}
	if utf8.Valid(b) || enc == nil {
		return string(b)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(out)
}

// System returns the decoded #SYSTEM stream, reading it on first call.
func (a *Archive) System() (*SystemInfo, error) {
	a.sysOnce.Do(func() {
		e, err := a.Find(itsf.SystemPath)
		if err != nil {
			a.sysErr = err
			return
		}
		buf, err := a.ReadEntry(e)
		if err != nil {
			a.sysErr = err
			return
		}
		a.sys, a.sysErr = ParseSystem(buf, a.entryOffset(e), a.Header.LangID)
	})
	return a.sys, a.sysErr
}

// Encoding returns the codepage used for the archive's metadata strings.
func (a *Archive) Encoding() encoding.Encoding {
	if sys, err := a.System(); err == nil {
		return EncodingForLCID(sys.LCID)
	}
	return EncodingForLCID(a.Header.LangID)
}

// Windows returns the window types declared in #WINDOWS.
func (a *Archive) Windows() ([]Window, error) {
	e, err := a.Find(itsf.WindowsPath)
	if err != nil {
		return nil, err
	}
	buf, err := a.ReadEntry(e)
	if err != nil {
		return nil, err
	}
	strs, err := a.ReadPath(itsf.StringsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read string table: %w", err)
	}
	return ParseWindows(buf, strs, a.entryOffset(e), a.Encoding())
}

// HomeFile returns the default topic of the archive with a leading "/".
// The #SYSTEM default topic is preferred over the home page of the first
// window that declares one. It returns itsf.ErrNotFound when neither
// stream names a topic.
func (a *Archive) HomeFile() (string, error) {
	var errs []error

	sys, err := a.System()
	switch {
	case err == nil && sys.DefaultTopic != "":
		return normalizeHome(sys.DefaultTopic), nil
	case err != nil && !errors.Is(err, itsf.ErrNotFound):
		errs = append(errs, fmt.Errorf("failed to read #SYSTEM: %w", err))
	}

	windows, err := a.Windows()
	if err != nil && !errors.Is(err, itsf.ErrNotFound) {
		errs = append(errs, fmt.Errorf("failed to read #WINDOWS: %w", err))
	}
	for _, w := range windows {
		if w.Home != "" {
			return normalizeHome(w.Home), nil
		}
	}

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", fmt.Errorf("%w: no default topic", itsf.ErrNotFound)
}

func normalizeHome(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
