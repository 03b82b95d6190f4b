package itsf

import (
	"errors"
	"fmt"
)

// Structural error kinds. Every FormatError unwraps to exactly one of these.
var (
	ErrBadMagic           = errors.New("bad magic")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrTruncated          = errors.New("truncated")
	ErrCorruptDirectory   = errors.New("corrupt directory")
	ErrOutOfBounds        = errors.New("out of bounds")
	ErrUnknownSection     = errors.New("unknown section")
	ErrDecompression      = errors.New("decompression error")
)

// ErrNotFound is returned when a path is absent from the directory.
// It is not a structural error.
var ErrNotFound = errors.New("entry not found")

// FormatError describes a structural problem in a container, attributed to
// the byte offset where it was detected.
type FormatError struct {
	Kind   error  // one of the Err* kinds above
	Offset int64  // absolute offset in the container, -1 if unknown
	Msg    string // human readable detail
	Err    error  // underlying cause, may be nil
}

func (e *FormatError) Error() string {
	s := e.Kind.Error()
	if e.Offset >= 0 {
		s += fmt.Sprintf(" at offset 0x%x", e.Offset)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *FormatError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Errorf builds a FormatError of the given kind.
func Errorf(kind error, offset int64, format string, args ...any) *FormatError {
	return &FormatError{Kind: kind, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds a FormatError of the given kind around err.
func Wrap(kind error, offset int64, err error, msg string) *FormatError {
	return &FormatError{Kind: kind, Offset: offset, Msg: msg, Err: err}
}

// KindOf returns the structural kind of err, or nil if err is not a FormatError.
func KindOf(err error) error {
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return nil
}

// OffsetOf returns the offset recorded in err, or -1.
func OffsetOf(err error) int64 {
	var fe *FormatError
	if errors.As(err, &fe) {
		return fe.Offset
	}
	return -1
}
