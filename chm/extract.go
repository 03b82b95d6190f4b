package chm

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
)

// Extract writes the user files of r that match pattern (all of them when
// pattern is empty) below dir on fsys, using up to workers goroutines. It
// stops at the first error and returns the number of files written.
func Extract(ctx context.Context, r *Reader, fsys afero.Fs, dir, pattern string, workers int) (int, error) {
	files := r.FileList()
	if pattern != "" {
		var err error
		if files, err = r.Match(pattern); err != nil {
			return 0, err
		}
	}
	if workers <= 0 {
		workers = 1
	}

	logger := r.opts.Logger
	var written atomic.Int64
	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(workers)

	for _, name := range files {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := r.Content(name)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", name, err)
			}
			target := ExtractPath(dir, name)
			if err := fsys.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("failed to create directory for %s: %w", name, err)
			}
			if err := afero.WriteFile(fsys, target, data, 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", target, err)
			}
			written.Add(1)
			logger.Debug("extracted file", "path", name, "size", len(data))
			return nil
		})
	}
	err := p.Wait()
	return int(written.Load()), err
}

// ExtractPath maps a container path to a file below dir. Paths are cleaned
// as if rooted, so ".." segments cannot climb out of dir.
func ExtractPath(dir, name string) string {
	clean := path.Clean("/" + name)
	return filepath.Join(dir, filepath.FromSlash(clean[1:]))
}
