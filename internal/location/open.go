package location

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Open picks a Location implementation for ref. Refs may carry an explicit
// "dir:" or "zip:" prefix; otherwise archives are recognised by extension and
// everything else must be a directory.
func Open(ref string) (Location, error) {
	switch {
	case strings.HasPrefix(ref, "dir:"):
		return NewDir(strings.TrimPrefix(ref, "dir:")), nil
	case strings.HasPrefix(ref, "zip:"):
		return NewArchive(strings.TrimPrefix(ref, "zip:")), nil
	}
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".zip", ".jar":
		return NewArchive(ref), nil
	}
	info, err := os.Stat(ref)
	if err != nil {
		return nil, fmt.Errorf("location %s: %w", ref, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("location %s: not a directory or archive", ref)
	}
	return NewDir(ref), nil
}
