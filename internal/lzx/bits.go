package lzx

// bitReader reads the LZX bitstream: 16-bit little-endian words consumed
// most significant bit first. Reads past the end of the input yield zero
// bits; overrun reports whether any of them were actually consumed.
type bitReader struct {
	in   []byte
	pos  int // next byte of in to load
	buf  uint32
	left int // valid bits at the top of buf
}

func (br *bitReader) init(in []byte) {
	br.in = in
	br.pos = 0
	br.buf = 0
	br.left = 0
}

// restart drops any buffered bits and continues at byte pos.
func (br *bitReader) restart(pos int) {
	br.pos = pos
	br.buf = 0
	br.left = 0
}

func (br *bitReader) ensure(n int) {
	for br.left < n {
		var w uint32
		if br.pos+1 < len(br.in) {
			w = uint32(br.in[br.pos]) | uint32(br.in[br.pos+1])<<8
		} else if br.pos < len(br.in) {
			w = uint32(br.in[br.pos])
		}
		br.buf |= w << (16 - br.left)
		br.left += 16
		br.pos += 2
	}
}

func (br *bitReader) peek(n int) uint32 {
	return br.buf >> (32 - n)
}

func (br *bitReader) remove(n int) {
	br.buf <<= n
	br.left -= n
}

func (br *bitReader) read(n int) uint32 {
	if n == 0 {
		return 0
	}
	br.ensure(n)
	v := br.peek(n)
	br.remove(n)
	return v
}

// overrun reports whether more bits were consumed than the input holds.
func (br *bitReader) overrun() bool {
	return br.pos*8-br.left > len(br.in)*8
}

// alignWord discards the padding before an uncompressed block header.
// When the stream is already on a word boundary a whole word of padding
// is present.
func (br *bitReader) alignWord() {
	br.ensure(16)
	if br.left > 16 {
		br.pos -= 2
	}
	br.buf = 0
	br.left = 0
}

// bytes returns the next n raw bytes. Only valid after alignWord.
func (br *bitReader) bytes(n int) ([]byte, bool) {
	if n < 0 || br.pos+n > len(br.in) {
		return nil, false
	}
	b := br.in[br.pos : br.pos+n]
	br.pos += n
	return b, true
}
