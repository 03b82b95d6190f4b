// Package lzx implements the LZX decompressor used by the compressed
// section of CHM containers.
//
// The stream is divided into frames of FrameSize output bytes. A Decoder
// carries the sliding window, the repeated-offset queue and the Huffman
// code lengths from one frame to the next; Reset returns it to the state
// at the start of a reset interval.
package lzx

import (
	"fmt"
	"math/bits"
)

// Decoder decodes consecutive LZX frames. It is not safe for concurrent use.
type Decoder struct {
	win          *window
	windowBits   uint
	mainElements int

	r0, r1, r2 uint32

	headerRead     bool
	intelFileSize  int32
	intelCurPos    int32
	intelStarted   bool
	framesRead     int
	blockType      int
	blockLength    int
	blockRemaining int

	pretreeLens [pretreeSymbols]uint8
	mainLens    [maxMainElements]uint8
	lengthLens  [NumSecondaryLengths]uint8
	alignedLens [alignedSymbols]uint8

	pretree *huffman
	main    *huffman
	length  *huffman
	aligned *huffman

	br bitReader
}

// NewDecoder returns a decoder for a window of windowSize bytes.
func NewDecoder(windowSize uint32) (*Decoder, error) {
	if windowSize == 0 || windowSize&(windowSize-1) != 0 {
		return nil, ErrBadWindow
	}
	wb := uint(bits.TrailingZeros32(windowSize))
	if wb < minWindowBits || wb > maxWindowBits {
		return nil, ErrBadWindow
	}
	d := &Decoder{
		win:          newWindow(int(windowSize)),
		windowBits:   wb,
		mainElements: NumChars + positionSlots(wb)*8,
		pretree:      newHuffman(pretreeSymbols, pretreeTableBits),
		main:         newHuffman(maxMainElements, mainTableBits),
		length:       newHuffman(NumSecondaryLengths, lengthTableBits),
		aligned:      newHuffman(alignedSymbols, alignedTableBits),
	}
	d.Reset()
	return d, nil
}

// WindowSize returns the size of the sliding window in bytes.
func (d *Decoder) WindowSize() int { return d.win.size() }

// Reset returns the decoder to the state at the start of a reset interval.
func (d *Decoder) Reset() {
	d.r0, d.r1, d.r2 = 1, 1, 1
	d.headerRead = false
	d.framesRead = 0
	d.blockType = blockTypeNone
	d.blockLength = 0
	d.blockRemaining = 0
	d.intelCurPos = 0
	d.intelStarted = false
	d.win.reset()
	clear(d.mainLens[:])
	clear(d.lengthLens[:])
}

// Decompress decodes one frame of outLen bytes from in, which must hold
// exactly the compressed bytes of that frame.
func (d *Decoder) Decompress(in []byte, outLen int) ([]byte, error) {
	if outLen <= 0 || outLen > d.win.size() {
		return nil, fmt.Errorf("%w: frame length %d", ErrIllegalData, outLen)
	}
	br := &d.br
	br.init(in)

	if !d.headerRead {
		if br.read(1) != 0 {
			hi := br.read(16)
			lo := br.read(16)
			d.intelFileSize = int32(hi<<16 | lo)
		} else {
			d.intelFileSize = 0
		}
		d.headerRead = true
	}

	d.win.wrap()
	start := d.win.pos
	if start+outLen > d.win.size() {
		return nil, fmt.Errorf("%w: frame straddles window end", ErrIllegalData)
	}

	togo := outLen
	for togo > 0 {
		if d.blockRemaining == 0 {
			if err := d.readBlockHeader(); err != nil {
				return nil, err
			}
		}
		if br.overrun() {
			return nil, ErrTruncated
		}

		run := min(d.blockRemaining, togo)
		togo -= run
		d.blockRemaining -= run

		var err error
		switch d.blockType {
		case BlockTypeVerbatim, BlockTypeAligned:
			err = d.decodeRun(run)
		case BlockTypeUncompressed:
			b, ok := br.bytes(run)
			if !ok {
				return nil, ErrTruncated
			}
			d.win.putBytes(b)
		default:
			err = ErrIllegalData
		}
		if err != nil {
			return nil, err
		}
	}
	if br.overrun() {
		return nil, ErrTruncated
	}
	if d.win.pos != start+outLen {
		return nil, fmt.Errorf("%w: decoded past frame end", ErrIllegalData)
	}

	out := make([]byte, outLen)
	copy(out, d.win.buf[start:start+outLen])
	d.translateE8(out)
	return out, nil
}

func (d *Decoder) readBlockHeader() error {
	br := &d.br
	if d.blockType == BlockTypeUncompressed {
		pos := br.pos
		if d.blockLength&1 != 0 {
			pos++
		}
		br.restart(pos)
	}

	d.blockType = int(br.read(3))
	hi := br.read(16)
	lo := br.read(8)
	d.blockLength = int(hi<<8 | lo)
	d.blockRemaining = d.blockLength
	if br.overrun() {
		return ErrTruncated
	}

	switch d.blockType {
	case BlockTypeAligned:
		for i := range d.alignedLens {
			d.alignedLens[i] = uint8(br.read(3))
		}
		if err := d.aligned.build(d.alignedLens[:]); err != nil {
			return fmt.Errorf("aligned tree: %w", err)
		}
		fallthrough
	case BlockTypeVerbatim:
		if err := d.readLengths(d.mainLens[:NumChars]); err != nil {
			return err
		}
		if err := d.readLengths(d.mainLens[NumChars:d.mainElements]); err != nil {
			return err
		}
		if err := d.main.build(d.mainLens[:d.mainElements]); err != nil {
			return fmt.Errorf("main tree: %w", err)
		}
		if d.mainLens[0xE8] != 0 {
			d.intelStarted = true
		}
		if err := d.readLengths(d.lengthLens[:]); err != nil {
			return err
		}
		if err := d.length.build(d.lengthLens[:]); err != nil {
			return fmt.Errorf("length tree: %w", err)
		}
	case BlockTypeUncompressed:
		d.intelStarted = true
		br.alignWord()
		raw, ok := br.bytes(12)
		if !ok {
			return ErrTruncated
		}
		d.r0 = le32(raw[0:])
		d.r1 = le32(raw[4:])
		d.r2 = le32(raw[8:])
	default:
		return fmt.Errorf("%w: block type %d", ErrIllegalData, d.blockType)
	}
	return nil
}

// readLengths reads a run of code lengths, delta coded against the
// previous lengths through a freshly transmitted pretree.
func (d *Decoder) readLengths(lens []uint8) error {
	br := &d.br
	for i := range d.pretreeLens {
		d.pretreeLens[i] = uint8(br.read(4))
	}
	if err := d.pretree.build(d.pretreeLens[:]); err != nil {
		return fmt.Errorf("pretree: %w", err)
	}

	for x := 0; x < len(lens); {
		z, err := d.pretree.decode(br)
		if err != nil {
			return err
		}
		switch {
		case z == 17:
			n := int(br.read(4)) + 4
			if x+n > len(lens) {
				return fmt.Errorf("%w: length run overflows tree", ErrIllegalData)
			}
			clear(lens[x : x+n])
			x += n
		case z == 18:
			n := int(br.read(5)) + 20
			if x+n > len(lens) {
				return fmt.Errorf("%w: length run overflows tree", ErrIllegalData)
			}
			clear(lens[x : x+n])
			x += n
		case z == 19:
			n := int(br.read(1)) + 4
			if x+n > len(lens) {
				return fmt.Errorf("%w: length run overflows tree", ErrIllegalData)
			}
			z, err = d.pretree.decode(br)
			if err != nil {
				return err
			}
			v := deltaLen(lens[x], z)
			for ; n > 0; n-- {
				lens[x] = v
				x++
			}
		default:
			lens[x] = deltaLen(lens[x], z)
			x++
		}
		if br.overrun() {
			return ErrTruncated
		}
	}
	return nil
}

func deltaLen(prev uint8, z int) uint8 {
	v := int(prev) - z
	if v < 0 {
		v += 17
	}
	return uint8(v)
}

// decodeRun decodes run bytes of a verbatim or aligned block into the window.
func (d *Decoder) decodeRun(run int) error {
	br := &d.br
	aligned := d.blockType == BlockTypeAligned
	for run > 0 {
		sym, err := d.main.decode(br)
		if err != nil {
			return err
		}
		if sym < NumChars {
			d.win.putByte(byte(sym))
			run--
			continue
		}

		sym -= NumChars
		matchLen := sym & NumPrimaryLengths
		if matchLen == NumPrimaryLengths {
			footer, err := d.length.decode(br)
			if err != nil {
				return err
			}
			matchLen += footer
		}
		matchLen += MinMatch

		slot := sym >> 3
		var off uint32
		switch {
		case slot > 2:
			extra := int(extraBits[slot])
			off = positionBase[slot] - 2
			if aligned && extra >= 3 {
				if extra > 3 {
					off += br.read(extra-3) << 3
				}
				a, err := d.aligned.decode(br)
				if err != nil {
					return err
				}
				off += uint32(a)
			} else {
				off += br.read(extra)
			}
			d.r2, d.r1, d.r0 = d.r1, d.r0, off
		case slot == 0:
			off = d.r0
		case slot == 1:
			off = d.r1
			d.r1, d.r0 = d.r0, off
		default:
			off = d.r2
			d.r2, d.r0 = d.r0, off
		}

		if matchLen > run {
			return fmt.Errorf("%w: match crosses block boundary", ErrIllegalData)
		}
		if err := d.win.copyMatch(int(off), matchLen); err != nil {
			return err
		}
		run -= matchLen
	}
	return nil
}

// translateE8 undoes the x86 CALL translation applied by the compressor.
func (d *Decoder) translateE8(out []byte) {
	frame := d.framesRead
	d.framesRead++
	if frame >= intelFrames || d.intelFileSize == 0 {
		return
	}
	n := int32(len(out))
	if len(out) <= 6 || !d.intelStarted {
		d.intelCurPos += n
		return
	}

	curpos := d.intelCurPos
	filesize := d.intelFileSize
	d.intelCurPos = curpos + n

	end := len(out) - 10
	for i := 0; i < end; {
		if out[i] != 0xE8 {
			i++
			curpos++
			continue
		}
		i++
		abs := int32(le32(out[i:]))
		if abs >= -curpos && abs < filesize {
			var rel int32
			if abs >= 0 {
				rel = abs - curpos
			} else {
				rel = abs + filesize
			}
			out[i] = byte(rel)
			out[i+1] = byte(rel >> 8)
			out[i+2] = byte(rel >> 16)
			out[i+3] = byte(rel >> 24)
		}
		i += 4
		curpos += 5
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
