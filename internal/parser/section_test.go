package parser_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/ossyrian/chmparse/internal/chmtest"
	"github.com/ossyrian/chmparse/internal/itsf"
	"github.com/ossyrian/chmparse/internal/parser"
)

func buildControlData(version, reset, window, perReset uint32) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(6))
	buf.Write([]byte{'L', 'Z', 'X', 'C'})
	binary.Write(buf, binary.LittleEndian, version)
	binary.Write(buf, binary.LittleEndian, reset)
	binary.Write(buf, binary.LittleEndian, window)
	binary.Write(buf, binary.LittleEndian, perReset)
	binary.Write(buf, binary.LittleEndian, uint32(0))
	return buf.Bytes()
}

func TestParseControlData(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		want     *itsf.ControlData
		wantKind error
		errMsg   string
	}{
		{
			name:  "version 2 sizes are in frame units",
			input: buildControlData(2, 2, 2, 1),
			want:  &itsf.ControlData{Version: 2, ResetInterval: 0x10000, WindowSize: 0x10000, WindowsPerReset: 1},
		},
		{
			name:  "version 1 sizes are bytes",
			input: buildControlData(1, 0x40000, 0x200000, 2),
			want:  &itsf.ControlData{Version: 1, ResetInterval: 0x40000, WindowSize: 0x200000, WindowsPerReset: 2},
		},
		{
			name:     "bad magic",
			input:    append(buildControlData(2, 2, 2, 1)[:4], append([]byte("LZXD"), buildControlData(2, 2, 2, 1)[8:]...)...),
			wantKind: itsf.ErrBadMagic,
		},
		{
			name:     "unknown version",
			input:    buildControlData(3, 2, 2, 1),
			wantKind: itsf.ErrUnsupportedVersion,
		},
		{
			name:     "window not a power of two",
			input:    buildControlData(2, 2, 3, 1),
			wantKind: itsf.ErrDecompression,
			errMsg:   "window size",
		},
		{
			name:     "window too small",
			input:    buildControlData(1, 0x8000, 0x4000, 1),
			wantKind: itsf.ErrDecompression,
			errMsg:   "window size",
		},
		{
			name:     "window too large",
			input:    buildControlData(2, 2, 128, 1),
			wantKind: itsf.ErrDecompression,
			errMsg:   "window size",
		},
		{
			name:     "zero reset interval",
			input:    buildControlData(2, 0, 2, 1),
			wantKind: itsf.ErrDecompression,
			errMsg:   "reset interval",
		},
		{
			name:     "reset interval not a whole number of frames",
			input:    buildControlData(1, 0x9000, 0x10000, 1),
			wantKind: itsf.ErrDecompression,
			errMsg:   "reset interval",
		},
		{
			name:     "zero windows per reset",
			input:    buildControlData(2, 2, 2, 0),
			wantKind: itsf.ErrDecompression,
			errMsg:   "windows per reset",
		},
		{
			name:     "truncated",
			input:    buildControlData(2, 2, 2, 1)[:12],
			wantKind: itsf.ErrTruncated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parser.ParseControlData(tt.input, 0x100)
			if tt.wantKind != nil {
				if !errors.Is(err, tt.wantKind) {
					t.Fatalf("ParseControlData() error = %v, want kind %v", err, tt.wantKind)
				}
				if tt.errMsg != "" && !contains(err.Error(), tt.errMsg) {
					t.Errorf("ParseControlData() error = %v, should contain %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseControlData() failed: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseControlData() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

type resetTableSpec struct {
	version, entrySize, tableOffset uint32
	ulen, clen, blockLen            uint64
	offsets                         []uint64
}

func buildResetTable(s resetTableSpec) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, s.version)
	binary.Write(buf, binary.LittleEndian, uint32(len(s.offsets)))
	binary.Write(buf, binary.LittleEndian, s.entrySize)
	binary.Write(buf, binary.LittleEndian, s.tableOffset)
	binary.Write(buf, binary.LittleEndian, s.ulen)
	binary.Write(buf, binary.LittleEndian, s.clen)
	binary.Write(buf, binary.LittleEndian, s.blockLen)
	for _, o := range s.offsets {
		binary.Write(buf, binary.LittleEndian, o)
	}
	return buf.Bytes()
}

func validResetTable() resetTableSpec {
	return resetTableSpec{
		version: 2, entrySize: 8, tableOffset: 0x28,
		ulen: 0x18000, clen: 0x9000, blockLen: 0x8000,
		offsets: []uint64{0, 0x3000, 0x6000},
	}
}

func TestParseResetTable(t *testing.T) {
	tests := []struct {
		name     string
		modify   func(s *resetTableSpec)
		trim     int
		wantKind error
		errMsg   string
	}{
		{name: "valid"},
		{
			name:     "version 1",
			modify:   func(s *resetTableSpec) { s.version = 1 },
			wantKind: itsf.ErrUnsupportedVersion,
		},
		{
			name:     "entry size 4",
			modify:   func(s *resetTableSpec) { s.entrySize = 4 },
			wantKind: itsf.ErrDecompression,
			errMsg:   "entry size",
		},
		{
			name:     "table inside header",
			modify:   func(s *resetTableSpec) { s.tableOffset = 0x10 },
			wantKind: itsf.ErrDecompression,
			errMsg:   "reset table offset",
		},
		{
			name:     "zero frame length",
			modify:   func(s *resetTableSpec) { s.blockLen = 0 },
			wantKind: itsf.ErrDecompression,
			errMsg:   "frame length",
		},
		{
			name:     "entries missing",
			trim:     8,
			wantKind: itsf.ErrTruncated,
		},
		{
			name:     "too few frames for length",
			modify:   func(s *resetTableSpec) { s.ulen = 0x20000 },
			wantKind: itsf.ErrDecompression,
			errMsg:   "frames needed",
		},
		{
			name:     "descending offsets",
			modify:   func(s *resetTableSpec) { s.offsets = []uint64{0, 0x6000, 0x3000} },
			wantKind: itsf.ErrDecompression,
			errMsg:   "frame 2",
		},
		{
			name:     "offset past compressed length",
			modify:   func(s *resetTableSpec) { s.offsets = []uint64{0, 0x3000, 0xA000} },
			wantKind: itsf.ErrDecompression,
			errMsg:   "frame 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validResetTable()
			if tt.modify != nil {
				tt.modify(&s)
			}
			buf := buildResetTable(s)
			buf = buf[:len(buf)-tt.trim]

			got, err := parser.ParseResetTable(buf, 0x200)
			if tt.wantKind != nil {
				if !errors.Is(err, tt.wantKind) {
					t.Fatalf("ParseResetTable() error = %v, want kind %v", err, tt.wantKind)
				}
				if tt.errMsg != "" && !contains(err.Error(), tt.errMsg) {
					t.Errorf("ParseResetTable() error = %v, should contain %q", err, tt.errMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseResetTable() failed: %v", err)
			}
			if got.FrameCount() != 3 || !reflect.DeepEqual(got.Offsets, s.offsets) {
				t.Errorf("ParseResetTable() = %+v", got)
			}
			if start, end := got.FrameBounds(2); start != 0x6000 || end != 0x9000 {
				t.Errorf("FrameBounds(2) = %#x, %#x", start, end)
			}
		})
	}
}

// sampleText returns n bytes of compressible text seeded by seed.
func sampleText(n int, seed uint64) []byte {
	words := []string{"help", "topic", "index", "<p>", "</p>", "window", "chm", "lzx", "\r\n", "content", "section"}
	r := rand.New(rand.NewPCG(seed, seed+1))
	var b bytes.Buffer
	for b.Len() < n {
		b.WriteString(words[r.IntN(len(words))])
		b.WriteByte(' ')
		if r.IntN(8) == 0 {
			b.WriteByte(byte(r.IntN(256)))
		}
	}
	return b.Bytes()[:n]
}

func TestCompressedSection_RoundTrip(t *testing.T) {
	modes := []struct {
		name string
		mode chmtest.BlockMode
	}{
		{"rotate", chmtest.BlockRotate},
		{"verbatim", chmtest.BlockVerbatim},
		{"aligned", chmtest.BlockAligned},
		{"uncompressed", chmtest.BlockUncompressed},
	}
	for _, m := range modes {
		for _, bits := range []uint{15, 16, 17} {
			t.Run(fmt.Sprintf("%s window 2^%d", m.name, bits), func(t *testing.T) {
				files := []chmtest.File{
					{Path: "/a.html", Data: sampleText(50000, 1), Compressed: true},
					{Path: "/b.html", Data: sampleText(70001, 2), Compressed: true},
					{Path: "/c.html", Data: sampleText(17, 3), Compressed: true},
					{Path: "/plain.txt", Data: []byte("stored")},
				}
				a := openArchive(t, &chmtest.Builder{
					Files:   files,
					Encoder: chmtest.LZXEncoder{WindowBits: bits, ResetFrames: 2, Mode: m.mode},
				})
				for _, f := range files {
					got, err := a.ReadPath(f.Path)
					if err != nil {
						t.Fatalf("ReadPath(%q) failed: %v", f.Path, err)
					}
					if !bytes.Equal(got, f.Data) {
						t.Errorf("ReadPath(%q) returned %d bytes that differ from the %d stored", f.Path, len(got), len(f.Data))
					}
				}
			})
		}
	}
}

func TestCompressedSection_RandomAccess(t *testing.T) {
	data := sampleText(8*0x8000+1234, 7)
	b := &chmtest.Builder{
		Files:   []chmtest.File{{Path: "/big.bin", Data: data, Compressed: true}},
		Encoder: chmtest.LZXEncoder{WindowBits: 16, ResetFrames: 4},
	}
	container := b.Build()

	a := openBytes(t, container)
	cs, err := a.Compressed()
	if err != nil {
		t.Fatalf("Compressed() failed: %v", err)
	}
	if cs.FrameCount() != 9 || cs.Len() != uint64(len(data)) {
		t.Fatalf("section has %d frames and %d bytes", cs.FrameCount(), cs.Len())
	}

	r := rand.New(rand.NewPCG(1, 2))
	for i := 0; i < 40; i++ {
		off := r.Uint64N(uint64(len(data)))
		n := r.Uint64N(min(uint64(len(data))-off, 3*0x8000) + 1)

		// each read on a fresh archive starts from the nearest reset frame
		fresh := openBytes(t, container)
		fcs, err := fresh.Compressed()
		if err != nil {
			t.Fatalf("Compressed() failed: %v", err)
		}
		got, err := fcs.Read(off, n)
		if err != nil {
			t.Fatalf("Read(%d, %d) failed: %v", off, n, err)
		}
		if !bytes.Equal(got, data[off:off+n]) {
			t.Fatalf("Read(%d, %d) on fresh section differs", off, n)
		}

		// the shared section keeps decoder state and cached frames
		got, err = cs.Read(off, n)
		if err != nil {
			t.Fatalf("Read(%d, %d) failed: %v", off, n, err)
		}
		if !bytes.Equal(got, data[off:off+n]) {
			t.Fatalf("Read(%d, %d) on shared section differs", off, n)
		}
	}

	t.Run("backwards frame order", func(t *testing.T) {
		fresh := openBytes(t, container)
		fcs, _ := fresh.Compressed()
		for _, i := range []int{8, 3, 5, 0, 7, 4, 1} {
			got, err := fcs.Frame(i)
			if err != nil {
				t.Fatalf("Frame(%d) failed: %v", i, err)
			}
			end := min((i+1)*0x8000, len(data))
			if !bytes.Equal(got, data[i*0x8000:end]) {
				t.Errorf("Frame(%d) differs", i)
			}
		}
	})

	t.Run("range beyond section", func(t *testing.T) {
		_, err := cs.Read(uint64(len(data))-10, 11)
		if !errors.Is(err, itsf.ErrOutOfBounds) {
			t.Errorf("Read() error = %v, want %v", err, itsf.ErrOutOfBounds)
		}
	})

	t.Run("empty read", func(t *testing.T) {
		got, err := cs.Read(uint64(len(data)), 0)
		if err != nil || len(got) != 0 {
			t.Errorf("Read() = %d bytes, %v", len(got), err)
		}
	})
}

func TestArchive_ReadEntry(t *testing.T) {
	a := openArchive(t, &chmtest.Builder{
		Files: []chmtest.File{{Path: "/index.html", Data: []byte("hello world")}},
		ExtraRaw: []itsf.Entry{
			{Path: "/huge.bin", Section: 0, Offset: 0, Length: 1 << 40},
			{Path: "/far.bin", Section: 0, Offset: 1 << 62, Length: 1},
			{Path: "/odd.bin", Section: 2, Offset: 0, Length: 1},
			{Path: "/packed.bin", Section: 1, Offset: 0, Length: 1},
		},
	})

	tests := []struct {
		path     string
		wantKind error
	}{
		{"/huge.bin", itsf.ErrOutOfBounds},
		{"/far.bin", itsf.ErrOutOfBounds},
		{"/odd.bin", itsf.ErrUnknownSection},
		{"/packed.bin", itsf.ErrUnknownSection}, // no compressed section in this file
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := a.ReadPath(tt.path)
			if !errors.Is(err, tt.wantKind) {
				t.Errorf("ReadPath() error = %v, want %v", err, tt.wantKind)
			}
		})
	}
}

func TestCompressedSection_Corrupt(t *testing.T) {
	data := sampleText(3*0x8000, 11)
	build := func() ([]byte, *parser.Archive) {
		b := (&chmtest.Builder{
			Files: []chmtest.File{{Path: "/x.html", Data: data, Compressed: true}},
		}).Build()
		return b, openBytes(t, b)
	}
	locate := func(a *parser.Archive, path string) int {
		e, err := a.Find(path)
		if err != nil {
			t.Fatalf("Find(%q) failed: %v", path, err)
		}
		return int(a.Header.DataOffset + e.Offset)
	}

	t.Run("garbage stream", func(t *testing.T) {
		b, a := build()
		at := locate(a, itsf.ContentPath)
		e, _ := a.Find(itsf.ContentPath)
		for i := 0; i < int(e.Length); i++ {
			b[at+i] = 0xFF
		}
		a = openBytes(t, b)
		_, err := a.ReadPath("/x.html")
		if !errors.Is(err, itsf.ErrDecompression) {
			t.Fatalf("ReadPath() error = %v, want %v", err, itsf.ErrDecompression)
		}
		if itsf.OffsetOf(err) != int64(at) {
			t.Errorf("error offset = %#x, want %#x", itsf.OffsetOf(err), at)
		}
	})

	t.Run("reset table offset past stream", func(t *testing.T) {
		b, a := build()
		at := locate(a, itsf.ResetTablePath)
		binary.LittleEndian.PutUint64(b[at+itsf.ResetTableHeaderLen+8:], 1<<40)
		a = openBytes(t, b)
		_, err := a.ReadPath("/x.html")
		if !errors.Is(err, itsf.ErrDecompression) {
			t.Fatalf("ReadPath() error = %v, want %v", err, itsf.ErrDecompression)
		}
	})

	t.Run("compressed length beyond content", func(t *testing.T) {
		b, a := build()
		at := locate(a, itsf.ResetTablePath)
		binary.LittleEndian.PutUint64(b[at+0x18:], 1<<40)
		a = openBytes(t, b)
		_, err := a.ReadPath("/x.html")
		if !errors.Is(err, itsf.ErrOutOfBounds) {
			t.Fatalf("ReadPath() error = %v, want %v", err, itsf.ErrOutOfBounds)
		}
	})

	t.Run("zero reset interval", func(t *testing.T) {
		b, a := build()
		at := locate(a, itsf.ControlPath)
		binary.LittleEndian.PutUint32(b[at+12:], 0)
		a = openBytes(t, b)
		_, err := a.ReadPath("/x.html")
		if !errors.Is(err, itsf.ErrDecompression) {
			t.Fatalf("ReadPath() error = %v, want %v", err, itsf.ErrDecompression)
		}
	})
}

func TestCompressedSection_SmallFrameCache(t *testing.T) {
	data := sampleText(5*0x8000+99, 13)
	container := (&chmtest.Builder{
		Files:   []chmtest.File{{Path: "/big.bin", Data: data, Compressed: true}},
		Encoder: chmtest.LZXEncoder{WindowBits: 16, ResetFrames: 2},
	}).Build()

	for _, size := range []int{1, 2, 3} {
		t.Run(fmt.Sprintf("size %d", size), func(t *testing.T) {
			opts := testOptions()
			opts.FrameCacheSize = size
			a, err := parser.Open(bytes.NewReader(container), int64(len(container)), opts)
			if err != nil {
				t.Fatalf("Open() failed: %v", err)
			}
			cs, err := a.Compressed()
			if err != nil {
				t.Fatalf("Compressed() failed: %v", err)
			}
			// repeated frames hit the cache, the spread evicts from it
			for _, i := range []int{0, 0, 1, 1, 0, 4, 2, 4, 5, 3, 0, 5} {
				got, err := cs.Frame(i)
				if err != nil {
					t.Fatalf("Frame(%d) failed: %v", i, err)
				}
				end := min((i+1)*0x8000, len(data))
				if !bytes.Equal(got, data[i*0x8000:end]) {
					t.Errorf("Frame(%d) differs", i)
				}
			}
		})
	}
}
