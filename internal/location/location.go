// Package location provides the local code locations a resolution node
// searches before delegating.
package location

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

var (
	// ErrNotExist is returned when a resource is opened after its location lost it.
	ErrNotExist = errors.New("resource does not exist")
	// ErrInvalidName rejects names that escape the location root.
	ErrInvalidName = errors.New("invalid resource name")
)

// Location is a local code location: a directory, an archive or an
// in-memory set of resources.
type Location interface {
	// Name identifies the location in diagnostics and compilation keys.
	Name() string
	// List enumerates every resource name the location holds.
	List(ctx context.Context) ([]string, error)
	// Lookup reports whether name is held by the location.
	Lookup(name string) (Resource, bool)
}

// Resource is a named entry found in a Location.
type Resource struct {
	Name     string
	Location string
	Size     int64

	open func() (io.ReadCloser, error)
}

// Open returns the resource content.
func (r Resource) Open() (io.ReadCloser, error) {
	if r.open == nil {
		return nil, fmt.Errorf("%s in %s: %w", r.Name, r.Location, ErrNotExist)
	}
	return r.open()
}

// URL returns a stable identifier for the resource.
func (r Resource) URL() string {
	return r.Location + "!/" + r.Name
}

// cleanName normalizes a slash separated resource name and refuses names
// leaving the location root.
func cleanName(name string) (string, error) {
	if name == "" {
		return "", ErrInvalidName
	}
	c := path.Clean(strings.TrimPrefix(name, "/"))
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	return c, nil
}

// Memory is an in-memory location, mostly useful for embedding and tests.
type Memory struct {
	name    string
	entries map[string][]byte
}

// NewMemory copies entries into a new location called name.
func NewMemory(name string, entries map[string][]byte) *Memory {
	m := &Memory{name: name, entries: make(map[string][]byte, len(entries))}
	for k, v := range entries {
		m.entries[k] = append([]byte(nil), v...)
	}
	return m
}

// MemoryOf builds a location holding each name with empty content.
func MemoryOf(name string, names ...string) *Memory {
	entries := make(map[string][]byte, len(names))
	for _, n := range names {
		entries[n] = nil
	}
	return NewMemory(name, entries)
}

func (m *Memory) Name() string { return m.name }

func (m *Memory) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(m.entries))
	for k := range m.entries {
		names = append(names, k)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Lookup(name string) (Resource, bool) {
	data, ok := m.entries[name]
	if !ok {
		return Resource{}, false
	}
	return Resource{
		Name:     name,
		Location: m.name,
		Size:     int64(len(data)),
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}, true
}
