package lzx

import "fmt"

// Stream describes a framed LZX stream: the compressed bytes, where each
// frame starts inside them and how often the decoder state is reset.
type Stream struct {
	Data            []byte
	FrameOffsets    []uint64 // compressed offset of every frame, ascending
	FrameLen        int      // uncompressed bytes per frame, the last may be shorter
	UncompressedLen int64
	WindowSize      uint32
	ResetFrames     int // frames per reset interval
}

// Validate rejects streams whose parameters would make decoding loop or
// index out of range.
func (s *Stream) Validate() error {
	switch {
	case s.FrameLen <= 0:
		return fmt.Errorf("%w: frame length %d", ErrIllegalData, s.FrameLen)
	case s.ResetFrames <= 0:
		return fmt.Errorf("%w: reset interval of %d frames", ErrIllegalData, s.ResetFrames)
	case s.UncompressedLen < 0:
		return fmt.Errorf("%w: negative length", ErrIllegalData)
	case int64(s.FrameLen) > int64(s.WindowSize):
		return fmt.Errorf("%w: frame length %d exceeds window", ErrIllegalData, s.FrameLen)
	}
	if need := s.FrameCount(); len(s.FrameOffsets) < need {
		return fmt.Errorf("%w: %d frames needed, reset table has %d", ErrIllegalData, need, len(s.FrameOffsets))
	}
	prev := uint64(0)
	for i, off := range s.FrameOffsets {
		if off < prev || off > uint64(len(s.Data)) {
			return fmt.Errorf("%w: frame %d offset 0x%x", ErrIllegalData, i, off)
		}
		prev = off
	}
	return nil
}

// FrameCount returns the number of frames covering UncompressedLen.
func (s *Stream) FrameCount() int {
	return int((s.UncompressedLen + int64(s.FrameLen) - 1) / int64(s.FrameLen))
}

// frameInput returns the compressed bytes and output length of frame i.
func (s *Stream) frameInput(i int) ([]byte, int) {
	start := s.FrameOffsets[i]
	end := uint64(len(s.Data))
	if i+1 < len(s.FrameOffsets) {
		end = s.FrameOffsets[i+1]
	}
	outLen := s.FrameLen
	if rest := s.UncompressedLen - int64(i)*int64(s.FrameLen); rest < int64(outLen) {
		outLen = int(rest)
	}
	return s.Data[start:end], outLen
}

// StreamDecoder decodes frames of a Stream in any order. It remembers the
// last frame it produced so that reading frames in ascending order never
// replays the stream; a jump backwards or across a reset point restarts at
// the nearest preceding reset frame.
type StreamDecoder struct {
	s    *Stream
	dec  *Decoder
	last int

	// OnFrame, if set, observes every frame decoded on the way to the
	// requested one.
	OnFrame func(i int, data []byte)
}

// NewStreamDecoder validates s and returns a decoder positioned before
// its first frame.
func NewStreamDecoder(s *Stream) (*StreamDecoder, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	dec, err := NewDecoder(s.WindowSize)
	if err != nil {
		return nil, err
	}
	return &StreamDecoder{s: s, dec: dec, last: -1}, nil
}

// Frame returns the decompressed bytes of frame i.
func (sd *StreamDecoder) Frame(i int) ([]byte, error) {
	if i < 0 || i >= sd.s.FrameCount() {
		return nil, fmt.Errorf("%w: frame %d of %d", ErrBadRange, i, sd.s.FrameCount())
	}
	from := i - i%sd.s.ResetFrames
	if sd.last >= from && sd.last < i {
		from = sd.last + 1
	}

	var out []byte
	for f := from; f <= i; f++ {
		if f%sd.s.ResetFrames == 0 {
			sd.dec.Reset()
		}
		in, n := sd.s.frameInput(f)
		data, err := sd.dec.Decompress(in, n)
		if err != nil {
			sd.last = -1
			return nil, fmt.Errorf("frame %d: %w", f, err)
		}
		sd.last = f
		if sd.OnFrame != nil {
			sd.OnFrame(f, data)
		}
		out = data
	}
	return out, nil
}

// ReadFrames fills p with decompressed bytes starting at off, fetching
// each overlapping frame of frameLen bytes through frame.
func ReadFrames(p []byte, off int64, frameLen int, frame func(i int) ([]byte, error)) error {
	if off < 0 || frameLen <= 0 {
		return fmt.Errorf("%w: offset %d in frames of %d bytes", ErrBadRange, off, frameLen)
	}
	fl := int64(frameLen)
	for n := 0; n < len(p); {
		pos := off + int64(n)
		data, err := frame(int(pos / fl))
		if err != nil {
			return err
		}
		if pos%fl >= int64(len(data)) {
			return fmt.Errorf("%w: offset %d past short frame %d", ErrBadRange, pos, pos/fl)
		}
		n += copy(p[n:], data[pos%fl:])
	}
	return nil
}
