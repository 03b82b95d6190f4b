package lzx

// huffman decodes one canonical prefix code. Codes of up to tableBits bits
// are resolved with a single table lookup; longer ones fall back to a
// canonical walk over the per-length counts.
type huffman struct {
	tableBits int
	table     []uint32 // sym<<5 | length, 0 when the slot needs the slow path
	count     [maxCodeLen + 1]uint16
	symbols   []uint16 // ordered by (length, symbol)
	empty     bool
}

func newHuffman(nsyms, tableBits int) *huffman {
	return &huffman{
		tableBits: tableBits,
		table:     make([]uint32, 1<<tableBits),
		symbols:   make([]uint16, 0, nsyms),
	}
}

// build rebuilds the decoder from code lengths. A set of lengths that is
// all zero yields an empty code that fails on use; otherwise the code must
// be complete.
func (h *huffman) build(lens []uint8) error {
	h.count = [maxCodeLen + 1]uint16{}
	for _, l := range lens {
		if l > maxCodeLen {
			return ErrBadHuffman
		}
		h.count[l]++
	}
	h.count[0] = 0
	clear(h.table)
	h.symbols = h.symbols[:0]

	used := 0
	left := 1
	for l := 1; l <= maxCodeLen; l++ {
		left <<= 1
		left -= int(h.count[l])
		if left < 0 {
			return ErrBadHuffman
		}
		used += int(h.count[l])
	}
	if used == 0 {
		h.empty = true
		return nil
	}
	if left > 0 {
		return ErrBadHuffman
	}
	h.empty = false

	for l := 1; l <= maxCodeLen; l++ {
		for sym, sl := range lens {
			if int(sl) == l {
				h.symbols = append(h.symbols, uint16(sym))
			}
		}
	}

	code := 0
	i := 0
	for l := 1; l <= maxCodeLen; l++ {
		for n := 0; n < int(h.count[l]); n++ {
			if l <= h.tableBits {
				shift := h.tableBits - l
				first := code << shift
				for j := 0; j < 1<<shift; j++ {
					h.table[first+j] = uint32(h.symbols[i])<<5 | uint32(l)
				}
			}
			code++
			i++
		}
		code <<= 1
	}
	return nil
}

func (h *huffman) decode(br *bitReader) (int, error) {
	if h.empty {
		return 0, ErrBadSymbol
	}
	br.ensure(maxCodeLen)
	if e := h.table[br.peek(h.tableBits)]; e != 0 {
		br.remove(int(e & 0x1F))
		return int(e >> 5), nil
	}

	bits := br.peek(maxCodeLen)
	code, first, index := 0, 0, 0
	for l := 1; l <= maxCodeLen; l++ {
		code |= int(bits>>(maxCodeLen-l)) & 1
		count := int(h.count[l])
		if code-count < first {
			br.remove(l)
			return int(h.symbols[index+code-first]), nil
		}
		index += count
		first += count
		first <<= 1
		code <<= 1
	}
	return 0, ErrBadSymbol
}
