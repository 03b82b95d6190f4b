package lzx

// window is the sliding dictionary: a fixed arena addressed modulo its
// size with an explicit write cursor. fill counts the bytes written since
// the last reset, capped at the window size, and bounds back-references.
type window struct {
	buf  []byte
	mask int
	pos  int
	fill int
}

func newWindow(size int) *window {
	return &window{buf: make([]byte, size), mask: size - 1}
}

func (w *window) size() int { return len(w.buf) }

func (w *window) reset() {
	w.pos = 0
	w.fill = 0
}

// wrap folds the cursor back into the arena at a run boundary.
func (w *window) wrap() {
	w.pos &= w.mask
}

func (w *window) grow(n int) {
	w.fill = min(w.fill+n, len(w.buf))
}

func (w *window) putByte(b byte) {
	w.buf[w.pos] = b
	w.pos++
	w.grow(1)
}

func (w *window) putBytes(p []byte) {
	copy(w.buf[w.pos:], p)
	w.pos += len(p)
	w.grow(len(p))
}

// copyMatch appends length bytes starting offset bytes behind the cursor.
// The source may wrap around the arena and may overlap the destination.
func (w *window) copyMatch(offset, length int) error {
	if offset <= 0 || offset > w.fill {
		return ErrBadOffset
	}
	if w.pos+length > len(w.buf) {
		return ErrIllegalData
	}
	src := w.pos - offset
	if src < 0 {
		src += len(w.buf)
	}
	for i := 0; i < length; i++ {
		w.buf[w.pos+i] = w.buf[(src+i)&w.mask]
	}
	w.pos += length
	w.grow(length)
	return nil
}
