// Package semver wraps github.com/Masterminds/semver/v3 with the small surface
// the artifact graph needs for version mediation.
package semver

import (
	"fmt"

	mm "github.com/Masterminds/semver/v3"
)

// Version is a semantic version. The zero value sorts below every parsed version.
type Version struct {
	v *mm.Version
}

// Constraint is a semantic version constraint such as ">=1.2.0 <2.0.0",
// "^1.0.0" or "~1.4".
type Constraint struct {
	c *mm.Constraints
}

func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(raw)
	if err != nil {
		return Version{}, fmt.Errorf("semver: parse version %q: %w", raw, err)
	}
	return Version{v: v}, nil
}

func MustParseVersion(raw string) Version {
	v, err := ParseVersion(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// IsZero reports whether v was never parsed.
func (v Version) IsZero() bool { return v.v == nil }

// String returns the version as originally written.
func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.Original()
}

func ParseConstraint(raw string) (Constraint, error) {
	c, err := mm.NewConstraint(raw)
	if err != nil {
		return Constraint{}, fmt.Errorf("semver: parse constraint %q: %w", raw, err)
	}
	return Constraint{c: c}, nil
}

func MustParseConstraint(raw string) Constraint {
	c, err := ParseConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Constraint) String() string {
	if c.c == nil {
		return ""
	}
	return c.c.String()
}

func Satisfies(v Version, c Constraint) bool {
	if v.v == nil || c.c == nil {
		return false
	}
	return c.c.Check(v.v)
}

// Compare returns -1, 0 or 1 when a is lower than, equal to or higher than b.
func Compare(a, b Version) int {
	if a.v == nil && b.v == nil {
		return 0
	}
	if a.v == nil {
		return -1
	}
	if b.v == nil {
		return 1
	}
	return a.v.Compare(b.v)
}

// Max returns the index of the highest version in candidates, or -1 when
// candidates is empty. Ties keep the first one encountered.
func Max(candidates []Version) int {
	best := -1
	for i, candidate := range candidates {
		if best < 0 || Compare(candidate, candidates[best]) > 0 {
			best = i
		}
	}
	return best
}

// MaxSatisfying returns the index of the highest version in candidates that
// satisfies c. Ties keep the first one encountered.
func MaxSatisfying(c Constraint, candidates []Version) (int, bool) {
	best := -1
	for i, candidate := range candidates {
		if !Satisfies(candidate, c) {
			continue
		}
		if best < 0 || Compare(candidate, candidates[best]) > 0 {
			best = i
		}
	}
	return best, best >= 0
}
