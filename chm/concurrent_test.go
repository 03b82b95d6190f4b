package chm_test

import (
	"bytes"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/ossyrian/chmparse/chm"
)

func TestReader_ConcurrentReads(t *testing.T) {
	data, want := sampleContainer()
	paths := make([]string, 0, len(want))
	for p := range want {
		paths = append(paths, p)
	}
	slices.Sort(paths)

	// sizes below 3 are raised to the smallest usable frame cache
	for _, size := range []int{1, 2, 3, 0} {
		t.Run(fmt.Sprintf("frame cache %d", size), func(t *testing.T) {
			r := openBytes(t, data, chm.Options{FrameCacheSize: size})

			var wg sync.WaitGroup
			errs := make(chan error, 16)
			for g := 0; g < 16; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for pass := 0; pass < 5; pass++ {
						// each goroutine walks the paths from its own start
						for i := range paths {
							p := paths[(i+g*7)%len(paths)]
							got, ok := r.ReadContent(p)
							if !ok || !bytes.Equal(got, want[p]) {
								errs <- fmt.Errorf("ReadContent(%q) = %d bytes, %v", p, len(got), ok)
								return
							}
						}
						if got := r.FileList(); !slices.Equal(got, paths) {
							errs <- fmt.Errorf("FileList() returned %d paths, want %d", len(got), len(paths))
							return
						}
						if got := r.HomeFile(); got != "/html/topic00.htm" {
							errs <- fmt.Errorf("HomeFile() = %q", got)
							return
						}
					}
				}(g)
			}
			wg.Wait()
			close(errs)
			for err := range errs {
				t.Error(err)
			}
		})
	}
}
