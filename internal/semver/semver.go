// Package semver wraps github.com/Masterminds/semver/v3 for the protocol
// version checks done between cluster members.
package semver

import (
	"strings"

	mm "github.com/Masterminds/semver/v3"
	"github.com/cockroachdb/errors"
)

// Version is a semantic version.
type Version struct {
	v *mm.Version
}

// Constraint is a semantic version constraint, for example ">=1.2.0 <2.0.0"
// or "^1.0.0".
type Constraint struct {
	raw string
	c   *mm.Constraints
}

func ParseVersion(raw string) (Version, error) {
	v, err := mm.NewVersion(strings.TrimSpace(raw))
	if err != nil {
		return Version{}, errors.Wrapf(err, "semver: parse version %q", raw)
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

// ParseConstraint parses raw. An empty constraint accepts any version.
func ParseConstraint(raw string) (Constraint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		raw = "*"
	}
	c, err := mm.NewConstraint(raw)
	if err != nil {
		return Constraint{}, errors.Wrapf(err, "semver: parse constraint %q", raw)
	}
	return Constraint{raw: raw, c: c}, nil
}

func MustParseConstraint(raw string) Constraint {
	c, err := ParseConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Constraint) String() string { return c.raw }

func (v Version) String() string {
	if v.v == nil {
		return ""
	}
	return v.v.String()
}

func Satisfies(v Version, c Constraint) bool {
	if v.v == nil || c.c == nil {
		return false
	}
	return c.c.Check(v.v)
}

// Compare returns -1, 0 or 1 when a is lower than, equal to or greater than
// b. An unset version sorts first.
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

// Compatible reports why a peer announcing raw cannot talk to this node, or
// nil when it can.
func Compatible(raw string, c Constraint) error {
	if strings.TrimSpace(raw) == "" {
		return errors.New("semver: peer did not announce a protocol version")
	}
	v, err := ParseVersion(raw)
	if err != nil {
		return err
	}
	if !Satisfies(v, c) {
		return errors.Newf("semver: protocol version %s does not satisfy %q", v, c.raw)
	}
	return nil
}
