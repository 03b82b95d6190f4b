package parser_test

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/ossyrian/chmparse/internal/chmtest"
	"github.com/ossyrian/chmparse/internal/itsf"
	"github.com/ossyrian/chmparse/internal/parser"
)

// Offsets inside a version 3 container produced by chmtest.Builder.
const (
	dirStart    = itsf.HeaderLenV3
	chunksStart = dirStart + itsf.DirectoryHeaderLen
)

func manyFiles(n int) []chmtest.File {
	files := make([]chmtest.File, n)
	for i := range files {
		files[i] = chmtest.File{
			Path: fmt.Sprintf("/html/page%03d.html", i),
			Data: []byte(fmt.Sprintf("<p>page %d</p>", i)),
		}
	}
	return files
}

func paths(entries []itsf.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}

func TestDirectory_Find(t *testing.T) {
	t.Run("single listing chunk", func(t *testing.T) {
		a := openArchive(t, &chmtest.Builder{Files: manyFiles(5)})
		d, err := a.Directory()
		if err != nil {
			t.Fatalf("Directory() failed: %v", err)
		}
		if d.ChunkCount() != 1 || d.Header.IndexRoot != -1 {
			t.Fatalf("got %d chunks, index root %d; want 1 chunk and no index", d.ChunkCount(), d.Header.IndexRoot)
		}
		e, err := d.Find("/html/page003.html")
		if err != nil {
			t.Fatalf("Find() failed: %v", err)
		}
		if e.Section != 0 || e.Length != uint64(len("<p>page 3</p>")) {
			t.Errorf("Find() = %+v", e)
		}
	})

	t.Run("index descent over many chunks", func(t *testing.T) {
		a := openArchive(t, &chmtest.Builder{ChunkSize: 256, Files: manyFiles(300)})
		d, err := a.Directory()
		if err != nil {
			t.Fatalf("Directory() failed: %v", err)
		}
		if d.Header.IndexRoot < 0 || d.Header.IndexDepth < 2 {
			t.Fatalf("index root %d depth %d, want an index", d.Header.IndexRoot, d.Header.IndexDepth)
		}
		for i := 0; i < 300; i++ {
			path := fmt.Sprintf("/html/page%03d.html", i)
			e, err := d.Find(path)
			if err != nil {
				t.Fatalf("Find(%q) failed: %v", path, err)
			}
			got, err := a.ReadEntry(e)
			if err != nil {
				t.Fatalf("ReadEntry(%q) failed: %v", path, err)
			}
			if want := fmt.Sprintf("<p>page %d</p>", i); string(got) != want {
				t.Errorf("ReadEntry(%q) = %q, want %q", path, got, want)
			}
		}
	})

	tests := []struct {
		name string
		path string
	}{
		{"absent path", "/html/missing.html"},
		{"wrong case", "/HTML/page001.html"},
		{"before first key", "/"},
		{"after last key", "/zzz"},
		{"prefix of a path", "/html/page00"},
	}
	a := openArchive(t, &chmtest.Builder{ChunkSize: 256, Files: manyFiles(100)})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Find(tt.path)
			if !errors.Is(err, itsf.ErrNotFound) {
				t.Errorf("Find(%q) error = %v, want %v", tt.path, err, itsf.ErrNotFound)
			}
			if itsf.KindOf(err) != nil {
				t.Errorf("Find(%q) returned structural error %v", tt.path, err)
			}
		})
	}
}

func TestDirectory_MixedCase(t *testing.T) {
	for _, chunkSize := range []int{4096, 40} {
		t.Run(fmt.Sprintf("chunk size %d", chunkSize), func(t *testing.T) {
			a := openArchive(t, &chmtest.Builder{
				ChunkSize: chunkSize,
				Files: []chmtest.File{
					{Path: "/c.htm", Data: []byte("c")},
					{Path: "/B.htm", Data: []byte("B")},
					{Path: "/a.htm", Data: []byte("a")},
					{Path: "/Ab.htm", Data: []byte("Ab")},
				},
			})
			for _, p := range []string{"/a.htm", "/Ab.htm", "/B.htm", "/c.htm"} {
				got, err := a.ReadPath(p)
				if err != nil {
					t.Fatalf("ReadPath(%q) failed: %v", p, err)
				}
				if string(got) != p[1:len(p)-4] {
					t.Errorf("ReadPath(%q) = %q", p, got)
				}
			}

			d, _ := a.Directory()
			entries, err := d.Entries()
			if err != nil {
				t.Fatalf("Entries() failed: %v", err)
			}
			want := []string{"/Ab.htm", "/B.htm", "/a.htm", "/c.htm"}
			if got := paths(entries); !slices.Equal(got, want) {
				t.Errorf("Entries() = %v, want %v", got, want)
			}
		})
	}
}

func TestDirectory_Entries(t *testing.T) {
	a := openArchive(t, &chmtest.Builder{ChunkSize: 256, Files: manyFiles(250)})
	d, err := a.Directory()
	if err != nil {
		t.Fatalf("Directory() failed: %v", err)
	}
	entries, err := d.Entries()
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 250 {
		t.Fatalf("Entries() returned %d entries, want 250", len(entries))
	}
	got := paths(entries)
	if !slices.IsSorted(got) {
		t.Error("Entries() is not in ascending order")
	}
	if len(slices.Compact(slices.Clone(got))) != len(got) {
		t.Error("Entries() has duplicates")
	}
}

func TestDirectory_Duplicates(t *testing.T) {
	a := openArchive(t, &chmtest.Builder{
		Files: []chmtest.File{{Path: "/a.html", Data: []byte("first")}},
		ExtraRaw: []itsf.Entry{
			{Path: "/a.html", Section: 0, Offset: 1, Length: 3},
		},
	})

	e, err := a.Find("/a.html")
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if e.Offset != 1 || e.Length != 3 {
		t.Errorf("Find() = %+v, want the later entry", e)
	}

	d, _ := a.Directory()
	entries, err := d.Entries()
	if err != nil {
		t.Fatalf("Entries() failed: %v", err)
	}
	if len(entries) != 1 || entries[0] != e {
		t.Errorf("Entries() = %+v, want only %+v", entries, e)
	}

	got, _ := a.ReadEntry(e)
	if string(got) != "irs" {
		t.Errorf("ReadEntry() = %q, want %q", got, "irs")
	}
}

func TestDirectory_Enumerate(t *testing.T) {
	a := openArchive(t, &chmtest.Builder{
		Files: []chmtest.File{
			{Path: "/index.html", Data: []byte("hello world")},
			{Path: "/#SYSTEM", Data: chmtest.SystemFile()},
			{Path: "/$WWKeywordLinks/BTree", Data: []byte{0}},
			{Path: "::DataSpace/NameList", Data: []byte{0, 0}},
		},
		ExtraRaw: []itsf.Entry{
			{Path: "/"},
			{Path: "/images/"},
		},
	})
	d, err := a.Directory()
	if err != nil {
		t.Fatalf("Directory() failed: %v", err)
	}

	tests := []struct {
		name  string
		flags parser.EnumFlag
		want  []string
	}{
		{"user files", parser.EnumUserFiles, []string{"/index.html"}},
		{"normal directories", parser.EnumNormal | parser.EnumDirs, []string{"/", "/images/"}},
		{"special", parser.EnumSpecial, []string{"/#SYSTEM", "/$WWKeywordLinks/BTree"}},
		{"meta", parser.EnumMeta, []string{"::DataSpace/NameList"}},
		{"all files", parser.EnumFiles, []string{"/#SYSTEM", "/$WWKeywordLinks/BTree", "/index.html", "::DataSpace/NameList"}},
		{"everything", parser.EnumAll, []string{"/", "/#SYSTEM", "/$WWKeywordLinks/BTree", "/images/", "/index.html", "::DataSpace/NameList"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := d.Enumerate(tt.flags)
			if err != nil {
				t.Fatalf("Enumerate() failed: %v", err)
			}
			if !slices.Equal(paths(got), tt.want) {
				t.Errorf("Enumerate() = %v, want %v", paths(got), tt.want)
			}
		})
	}
}

func TestDirectory_Corrupt(t *testing.T) {
	base := (&chmtest.Builder{Files: manyFiles(3)}).Build()
	indexed := (&chmtest.Builder{ChunkSize: 256, Files: manyFiles(100)}).Build()

	tests := []struct {
		name     string
		input    []byte
		patch    func(b []byte)
		wantKind error
		errMsg   string
	}{
		{
			name:     "directory magic",
			input:    base,
			patch:    func(b []byte) { copy(b[dirStart:], "ITSX") },
			wantKind: itsf.ErrCorruptDirectory,
			errMsg:   "expected \"ITSP\"",
		},
		{
			name:     "directory version",
			input:    base,
			patch:    func(b []byte) { binary.LittleEndian.PutUint32(b[dirStart+4:], 2) },
			wantKind: itsf.ErrUnsupportedVersion,
		},
		{
			name:     "chunk count far beyond file",
			input:    base,
			patch:    func(b []byte) { binary.LittleEndian.PutUint32(b[dirStart+0x2C:], 0x7FFFFFFF) },
			wantKind: itsf.ErrCorruptDirectory,
			errMsg:   "chunks of 4096 bytes exceed",
		},
		{
			name:     "zero chunk size",
			input:    base,
			patch:    func(b []byte) { binary.LittleEndian.PutUint32(b[dirStart+0x10:], 0) },
			wantKind: itsf.ErrCorruptDirectory,
			errMsg:   "chunk size 0",
		},
		{
			name:     "first listing out of range",
			input:    base,
			patch:    func(b []byte) { binary.LittleEndian.PutUint32(b[dirStart+0x20:], 7) },
			wantKind: itsf.ErrCorruptDirectory,
			errMsg:   "first listing chunk",
		},
		{
			name:     "declared entry count exceeds chunk",
			input:    base,
			patch:    func(b []byte) { binary.LittleEndian.PutUint16(b[chunksStart+4096-2:], 0xFFFF) },
			wantKind: itsf.ErrCorruptDirectory,
			errMsg:   "entries declared",
		},
		{
			name:     "free space exceeds chunk",
			input:    base,
			patch:    func(b []byte) { binary.LittleEndian.PutUint32(b[chunksStart+4:], 5000) },
			wantKind: itsf.ErrCorruptDirectory,
			errMsg:   "free space",
		},
		{
			name:  "entry name crosses chunk end",
			input: base,
			patch: func(b []byte) {
				// a 4096-byte name cannot fit after the chunk header
				b[chunksStart+itsf.ListingHeaderLen] = 0xA0
				b[chunksStart+itsf.ListingHeaderLen+1] = 0x00
			},
			wantKind: itsf.ErrCorruptDirectory,
			errMsg:   "exceeds",
		},
		{
			name:     "next chunk out of range",
			input:    indexed,
			patch:    func(b []byte) { binary.LittleEndian.PutUint32(b[chunksStart+0x10:], 9999) },
			wantKind: itsf.ErrCorruptDirectory,
			errMsg:   "next chunk",
		},
		{
			name:     "index child out of range",
			input:    indexed,
			patch:    patchIndexChild(127),
			wantKind: itsf.ErrCorruptDirectory,
			errMsg:   "points at chunk",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := slices.Clone(tt.input)
			tt.patch(b)
			a := openBytes(t, b)
			_, err := a.Directory()
			if err == nil {
				t.Fatal("Directory() succeeded unexpectedly, wanted error")
			}
			if !errors.Is(err, tt.wantKind) {
				t.Errorf("Directory() error = %v, want kind %v", err, tt.wantKind)
			}
			if tt.errMsg != "" && !contains(err.Error(), tt.errMsg) {
				t.Errorf("Directory() error = %v, should contain %q", err, tt.errMsg)
			}
			if itsf.OffsetOf(err) < 0 {
				t.Errorf("Directory() error %v has no offset", err)
			}
		})
	}
}

// patchIndexChild returns a patch that points the first entry of the root
// index chunk at chunk n.
func patchIndexChild(n byte) func([]byte) {
	return func(b []byte) {
		root := int(binary.LittleEndian.Uint32(b[dirStart+0x1C:]))
		at := chunksStart + root*256 + itsf.IndexHeaderLen
		nameLen := int(b[at])
		// a single byte child number keeps the entry length unchanged
		b[at+1+nameLen] = n & 0x7F
	}
}

func TestDirectory_ListingCycle(t *testing.T) {
	for _, tc := range []struct {
		name    string
		noIndex bool
	}{
		{"with index", false},
		{"without index", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := (&chmtest.Builder{ChunkSize: 256, Files: manyFiles(40)}).Build()
			last := binary.LittleEndian.Uint32(b[dirStart+0x24:])
			// point the last listing chunk back at the first
			binary.LittleEndian.PutUint32(b[chunksStart+int(last)*256+0x10:], 0)
			if tc.noIndex {
				binary.LittleEndian.PutUint32(b[dirStart+0x1C:], itsf.NoChunk)
			}

			a := openBytes(t, b)
			d, err := a.Directory()
			if err != nil {
				t.Fatalf("Directory() failed: %v", err)
			}
			_, err = d.Entries()
			if !errors.Is(err, itsf.ErrCorruptDirectory) {
				t.Errorf("Entries() error = %v, want %v", err, itsf.ErrCorruptDirectory)
			}
			if tc.noIndex {
				_, err = d.Find("/html/missing.html")
				if !errors.Is(err, itsf.ErrCorruptDirectory) {
					t.Errorf("Find() error = %v, want %v", err, itsf.ErrCorruptDirectory)
				}
			}
		})
	}
}
