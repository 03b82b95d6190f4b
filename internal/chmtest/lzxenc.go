package chmtest

import (
	"slices"

	"github.com/ossyrian/chmparse/internal/lzx"
)

// BlockMode selects the LZX block type the encoder emits for each frame.
type BlockMode int

const (
	// BlockRotate cycles verbatim, aligned and uncompressed frames.
	BlockRotate BlockMode = iota
	BlockVerbatim
	BlockAligned
	BlockUncompressed
)

// LZXEncoder is a deliberately small LZX compressor: one block per frame,
// greedy matching and code lengths that form a complete but unoptimised
// prefix code. It exists to produce valid streams for tests.
type LZXEncoder struct {
	WindowBits  uint // 15..21
	ResetFrames int  // frames per reset interval
	Mode        BlockMode
	NoMatches   bool
}

// Encode compresses data and returns the compressed stream and the
// compressed offset of every frame.
func (e *LZXEncoder) Encode(data []byte) ([]byte, []uint64) {
	windowSize := 1 << e.WindowBits
	mainElements := lzx.NumChars + lzx.PositionSlots(e.WindowBits)*8
	resetFrames := max(e.ResetFrames, 1)

	var out []byte
	var offsets []uint64
	var prevMain []uint8
	var prevLength []uint8
	intervalStart := 0
	head := map[uint32][]int{}

	nframes := (len(data) + lzx.FrameSize - 1) / lzx.FrameSize
	for f := 0; f < nframes; f++ {
		start := f * lzx.FrameSize
		end := min(start+lzx.FrameSize, len(data))
		offsets = append(offsets, uint64(len(out)))

		w := &bitWriter{}
		if f%resetFrames == 0 {
			prevMain = make([]uint8, mainElements)
			prevLength = make([]uint8, lzx.NumSecondaryLengths)
			intervalStart = start
			clear(head)
			w.bits(0, 1) // no E8 translation
		}

		mode := e.Mode
		if mode == BlockRotate {
			mode = BlockMode(f%3) + BlockVerbatim
		}

		if mode == BlockUncompressed {
			w.bits(lzx.BlockTypeUncompressed, 3)
			w.bits(uint32(end-start)>>8, 16)
			w.bits(uint32(end-start)&0xFF, 8)
			w.alignPad()
			for i := 0; i < 3; i++ {
				w.raw([]byte{1, 0, 0, 0})
			}
			w.raw(data[start:end])
			if (end-start)&1 != 0 {
				w.raw([]byte{0})
			}
			for p := start; p+2 < end; p++ {
				k := key3(data[p:])
				head[k] = append(head[k], p)
			}
			out = append(out, w.buf...)
			continue
		}

		toks := e.tokenize(data, start, end, intervalStart, windowSize, head)
		aligned := mode == BlockAligned

		mainUsed := map[int]bool{}
		lenUsed := map[int]bool{}
		for _, t := range toks {
			ms, lf, _, _, _ := t.symbols(aligned)
			mainUsed[ms] = true
			if lf >= 0 {
				lenUsed[lf] = true
			}
		}
		mainLens := completeLengths(mainUsed, mainElements)
		lengthLens := make([]uint8, lzx.NumSecondaryLengths)
		if len(lenUsed) > 0 {
			lengthLens = completeLengths(lenUsed, lzx.NumSecondaryLengths)
		}
		mainCodes := canonical(mainLens)
		lengthCodes := canonical(lengthLens)

		if aligned {
			w.bits(lzx.BlockTypeAligned, 3)
		} else {
			w.bits(lzx.BlockTypeVerbatim, 3)
		}
		w.bits(uint32(end-start)>>8, 16)
		w.bits(uint32(end-start)&0xFF, 8)
		if aligned {
			for i := 0; i < 8; i++ {
				w.bits(3, 3)
			}
		}
		writeLengths(w, prevMain[:lzx.NumChars], mainLens[:lzx.NumChars])
		writeLengths(w, prevMain[lzx.NumChars:], mainLens[lzx.NumChars:])
		writeLengths(w, prevLength, lengthLens)
		copy(prevMain, mainLens)
		copy(prevLength, lengthLens)

		for _, t := range toks {
			ms, lf, vbits, vn, al := t.symbols(aligned)
			w.code(mainCodes[ms], mainLens[ms])
			if lf >= 0 {
				w.code(lengthCodes[lf], lengthLens[lf])
			}
			if vn > 0 {
				w.bits(vbits, vn)
			}
			if al >= 0 {
				w.bits(uint32(al), 3) // every aligned code is 3 bits long
			}
		}
		w.flush()
		out = append(out, w.buf...)
	}
	return out, offsets
}

type token struct {
	lit    byte
	length int // 0 for a literal
	offset int
}

// symbols returns the main symbol, length footer (-1 if none), verbatim
// footer bits and count, and aligned symbol (-1 if none) of t.
func (t token) symbols(aligned bool) (main, lenFooter int, vbits uint32, vn int, al int) {
	if t.length == 0 {
		return int(t.lit), -1, 0, 0, -1
	}
	lenFooter = -1
	header := t.length - lzx.MinMatch
	if header >= lzx.NumPrimaryLengths {
		lenFooter = header - lzx.NumPrimaryLengths
		header = lzx.NumPrimaryLengths
	}
	formatted := uint32(t.offset + 2)
	slot := 3
	for slot+1 <= 50 && lzx.PositionBase(slot+1) <= formatted {
		slot++
	}
	main = lzx.NumChars + slot<<3 | header
	extra := lzx.ExtraBits(slot)
	rest := formatted - lzx.PositionBase(slot)
	al = -1
	if aligned && extra >= 3 {
		al = int(rest & 7)
		return main, lenFooter, rest >> 3, extra - 3, al
	}
	return main, lenFooter, rest, extra, al
}

func (e *LZXEncoder) tokenize(data []byte, start, end, intervalStart, windowSize int, head map[uint32][]int) []token {
	var toks []token
	maxOffset := windowSize - 3
	for p := start; p < end; {
		bestLen, bestOff := 0, 0
		if !e.NoMatches && p+2 < end {
			cands := head[key3(data[p:])]
			for i := len(cands) - 1; i >= 0 && i >= len(cands)-8; i-- {
				q := cands[i]
				if q < intervalStart || p-q > maxOffset {
					break
				}
				n := 0
				for p+n < end && n < lzx.MaxMatch && data[q+n] == data[p+n] {
					n++
				}
				if n > bestLen {
					bestLen, bestOff = n, p-q
				}
			}
		}
		step := 1
		if bestLen >= 3 {
			toks = append(toks, token{length: bestLen, offset: bestOff})
			step = bestLen
		} else {
			toks = append(toks, token{lit: data[p]})
		}
		for i := 0; i < step; i++ {
			if p+i+2 < len(data) {
				k := key3(data[p+i:])
				head[k] = append(head[k], p+i)
			}
		}
		p += step
	}
	return toks
}

func key3(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}

// completeLengths assigns lengths to the used symbols so that the code is
// complete: with n symbols and k = ceil(log2 n), 2n-2^k symbols get k bits
// and the rest k-1.
func completeLengths(used map[int]bool, nsyms int) []uint8 {
	syms := make([]int, 0, len(used)+2)
	for s := range used {
		syms = append(syms, s)
	}
	for s := 0; len(syms) < 2; s++ {
		if !used[s] {
			syms = append(syms, s)
		}
	}
	slices.Sort(syms)
	n := len(syms)
	k := 0
	for 1<<k < n {
		k++
	}
	short := 1<<k - n
	lens := make([]uint8, nsyms)
	for i, s := range syms {
		if i < short {
			lens[s] = uint8(k - 1)
		} else {
			lens[s] = uint8(k)
		}
	}
	return lens
}

// canonical assigns codes in (length, symbol) order.
func canonical(lens []uint8) []uint32 {
	codes := make([]uint32, len(lens))
	code := uint32(0)
	for l := uint8(1); l <= 16; l++ {
		for s, sl := range lens {
			if sl == l {
				codes[s] = code
				code++
			}
		}
		code <<= 1
	}
	return codes
}

// Pretree: delta symbols 0..16 coded with two 5-bit and fifteen 4-bit codes.
var pretreeLens, pretreeCodes = func() ([]uint8, []uint32) {
	used := map[int]bool{}
	for i := 0; i <= 16; i++ {
		used[i] = true
	}
	lens := completeLengths(used, 20)
	return lens, canonical(lens)
}()

func writeLengths(w *bitWriter, prev, next []uint8) {
	for _, l := range pretreeLens {
		w.bits(uint32(l), 4)
	}
	for i := range next {
		z := (int(prev[i]) - int(next[i]) + 17) % 17
		w.code(pretreeCodes[z], pretreeLens[z])
	}
}

// bitWriter produces 16-bit little-endian words filled from the most
// significant bit.
type bitWriter struct {
	buf  []byte
	acc  uint32
	nacc int
}

func (w *bitWriter) bits(v uint32, n int) {
	for i := n - 1; i >= 0; i-- {
		w.acc = w.acc<<1 | (v>>i)&1
		w.nacc++
		if w.nacc == 16 {
			w.buf = append(w.buf, byte(w.acc), byte(w.acc>>8))
			w.acc, w.nacc = 0, 0
		}
	}
}

func (w *bitWriter) code(c uint32, l uint8) { w.bits(c, int(l)) }

func (w *bitWriter) flush() {
	if w.nacc > 0 {
		w.bits(0, 16-w.nacc)
	}
}

// alignPad writes the padding that precedes the raw part of an
// uncompressed block: the rest of the current word, or a whole word when
// already aligned.
func (w *bitWriter) alignPad() {
	if w.nacc == 0 {
		w.bits(0, 16)
		return
	}
	w.flush()
}

func (w *bitWriter) raw(p []byte) {
	w.buf = append(w.buf, p...)
}
