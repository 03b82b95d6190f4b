package chm

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/hashicorp/golang-lru/arc/v2"
	"golang.org/x/sync/singleflight"
)

// Library serves read_content, get_file_list and get_home_file keyed by
// container path. Opened containers are kept in an ARC cache; concurrent
// first requests for the same container open it once. Every failure,
// including a missing or malformed container, is reported as absence and
// logged.
type Library struct {
	opts   Options
	logger *slog.Logger
	open   func(path string, opts Options) (*Reader, error)

	cache *arc.ARCCache[string, *Reader]
	group singleflight.Group
}

// NewLibrary returns an empty Library.
func NewLibrary(opts Options) (*Library, error) {
	size := opts.ContainerCacheSize
	if size <= 0 {
		size = DefaultContainerCacheSize
	}
	cache, err := arc.NewARC[string, *Reader](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create container cache: %w", err)
	}
	return &Library{
		opts:   opts,
		logger: opts.logger(),
		open:   Open,
		cache:  cache,
	}, nil
}

// Reader returns the cached Reader of the container at path, opening it if
// needed. Readers evicted from the cache are unmapped once unreachable.
func (l *Library) Reader(path string) (*Reader, error) {
	key, err := filepath.Abs(path)
	if err != nil {
		key = filepath.Clean(path)
	}
	if r, ok := l.cache.Get(key); ok {
		return r, nil
	}
	v, err, _ := l.group.Do(key, func() (any, error) {
		if r, ok := l.cache.Get(key); ok {
			return r, nil
		}
		r, err := l.open(key, l.opts)
		if err != nil {
			return nil, err
		}
		l.cache.Add(key, r)
		l.logger.Debug("opened container", "file", key, "cached", l.cache.Len())
		return r, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Reader), nil
}

// ReadContent returns the bytes of inner inside the container at container.
func (l *Library) ReadContent(container, inner string) ([]byte, bool) {
	r, err := l.Reader(container)
	if err != nil {
		l.logger.Warn("failed to open container", "file", container, "error", err)
		return nil, false
	}
	return r.ReadContent(inner)
}

// GetFileList returns the files of the container at container in
// ascending order.
func (l *Library) GetFileList(container string) []string {
	r, err := l.Reader(container)
	if err != nil {
		l.logger.Warn("failed to open container", "file", container, "error", err)
		return []string{}
	}
	return r.FileList()
}

// GetHomeFile returns the default topic of the container at container, or
// "".
func (l *Library) GetHomeFile(container string) string {
	r, err := l.Reader(container)
	if err != nil {
		l.logger.Warn("failed to open container", "file", container, "error", err)
		return ""
	}
	return r.HomeFile()
}

// Close closes every cached container.
func (l *Library) Close() error {
	var errs []error
	for _, key := range l.cache.Keys() {
		if r, ok := l.cache.Peek(key); ok {
			errs = append(errs, r.Close())
		}
	}
	l.cache.Purge()
	return errors.Join(errs...)
}
