package location

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zip"
)

// Archive is a zip (or jar) location. The central directory is indexed once
// on first use; the file itself is only held open while a resource read from
// it is open.
type Archive struct {
	path string

	once  sync.Once
	err   error
	sizes map[string]int64
}

// NewArchive returns a location over the zip file at path. The file is not
// opened until the location is first listed or searched.
func NewArchive(path string) *Archive {
	return &Archive{path: path}
}

func (a *Archive) Name() string { return a.path }

func (a *Archive) load() error {
	a.once.Do(func() {
		rc, err := zip.OpenReader(a.path)
		if err != nil {
			a.err = fmt.Errorf("open archive %s: %w", a.path, err)
			return
		}
		defer rc.Close()
		a.sizes = make(map[string]int64, len(rc.File))
		for _, f := range rc.File {
			if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
				continue
			}
			a.sizes[f.Name] = int64(f.UncompressedSize64)
		}
	})
	return a.err
}

func (a *Archive) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(a.sizes))
	for name := range a.sizes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (a *Archive) Lookup(name string) (Resource, bool) {
	if a.load() != nil {
		return Resource{}, false
	}
	size, ok := a.sizes[name]
	if !ok {
		return Resource{}, false
	}
	return Resource{
		Name:     name,
		Location: a.path,
		Size:     size,
		open: func() (io.ReadCloser, error) {
			return a.openEntry(name)
		},
	}, true
}

// openEntry reopens the archive for one read. Closing the returned reader
// closes the file.
func (a *Archive) openEntry(name string) (io.ReadCloser, error) {
	rc, err := zip.OpenReader(a.path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", a.path, err)
	}
	for _, f := range rc.File {
		if f.Name != name {
			continue
		}
		r, err := f.Open()
		if err != nil {
			rc.Close()
			return nil, fmt.Errorf("open %s in %s: %w", name, a.path, err)
		}
		return &entryReader{ReadCloser: r, archive: rc}, nil
	}
	rc.Close()
	return nil, fmt.Errorf("%s no longer in %s", name, a.path)
}

type entryReader struct {
	io.ReadCloser
	archive *zip.ReadCloser
}

func (r *entryReader) Close() error {
	err := r.ReadCloser.Close()
	if cerr := r.archive.Close(); err == nil {
		err = cerr
	}
	return err
}
