package location

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Dir is an exploded directory location.
type Dir struct {
	root string
}

// NewDir returns a location rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: filepath.Clean(root)}
}

func (d *Dir) Name() string { return d.root }

func (d *Dir) List(ctx context.Context) ([]string, error) {
	var names []string
	err := filepath.WalkDir(d.root, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (d *Dir) Lookup(name string) (Resource, bool) {
	clean, err := cleanName(name)
	if err != nil {
		return Resource{}, false
	}
	full := filepath.Join(d.root, filepath.FromSlash(clean))
	info, err := os.Stat(full)
	if err != nil || info.IsDir() {
		return Resource{}, false
	}
	return Resource{
		Name:     clean,
		Location: d.root,
		Size:     info.Size(),
		open: func() (io.ReadCloser, error) {
			return os.Open(full)
		},
	}, true
}
