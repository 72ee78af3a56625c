// Package fspath implements the normalized POSIX-style path model shared by
// every side of a sync: local filesystem paths, cloud drive paths, and diff
// tree keys are all the same Path type.
package fspath

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Separator is the single component separator recognized on input and
// produced on output, regardless of the host OS.
const Separator = "/"

// Root is the canonical absolute path denoting the synced root.
const Root = "/"

// ErrIllegal is returned by Normalize when a path's ".." components would
// walk it above its own root.
var ErrIllegal = errors.New("fspath: illegal path")

// Path is an ordered, immutable sequence of UTF-8 components. The zero value
// is the empty relative path.
type Path struct {
	absolute   bool
	components []string
}

// New parses raw into a Path. Repeated separators collapse; "." components
// are preserved (callers wanting ".") resolution should call Normalize).
func New(raw string) Path {
	absolute := strings.HasPrefix(raw, Separator)

	var comps []string

	for _, c := range strings.Split(raw, Separator) {
		if c == "" {
			continue
		}

		comps = append(comps, c)
	}

	return Path{absolute: absolute, components: comps}
}

// Components returns the path's components in order. The returned slice must
// not be mutated by the caller.
func (p Path) Components() []string {
	return p.components
}

// IsAbsolute reports whether the path's first component is the root marker.
func (p Path) IsAbsolute() bool {
	return p.absolute
}

// IsRoot reports whether p denotes the synced root itself.
func (p Path) IsRoot() bool {
	return p.absolute && len(p.components) == 0
}

// Join appends name as a new trailing component and returns the result.
// Join(p, name).Parent() == p whenever name is non-empty and contains no
// separator.
func (p Path) Join(name string) Path {
	comps := make([]string, len(p.components), len(p.components)+1)
	copy(comps, p.components)
	comps = append(comps, name)

	return Path{absolute: p.absolute, components: comps}
}

// Parent returns the path with its final component removed. Parent of the
// root, or of a relative path with no components, is itself.
func (p Path) Parent() Path {
	if len(p.components) == 0 {
		return p
	}

	comps := make([]string, len(p.components)-1)
	copy(comps, p.components[:len(p.components)-1])

	return Path{absolute: p.absolute, components: comps}
}

// FileName returns the final component, or "" for the root / empty path.
func (p Path) FileName() string {
	if len(p.components) == 0 {
		return ""
	}

	return p.components[len(p.components)-1]
}

// WithoutRoot returns a relative path carrying the same components.
func (p Path) WithoutRoot() Path {
	return Path{absolute: false, components: p.components}
}

// ToOwned returns a deep copy of p, safe to retain independently.
func (p Path) ToOwned() Path {
	comps := make([]string, len(p.components))
	copy(comps, p.components)

	return Path{absolute: p.absolute, components: comps}
}

// Display renders p in POSIX form.
func (p Path) Display() string {
	if len(p.components) == 0 {
		if p.absolute {
			return Root
		}

		return ""
	}

	prefix := ""
	if p.absolute {
		prefix = Separator
	}

	return prefix + strings.Join(p.components, Separator)
}

// String implements fmt.Stringer.
func (p Path) String() string {
	return p.Display()
}

// Normalize collapses "." components and resolves ".." components, failing
// with ErrIllegal if the result would walk above the path's own root. Every
// surviving component is also put into Unicode NFC form, so a filename
// decomposed by one platform (HFS+/APFS store NFD) compares equal to the
// same name composed by another — normalize is idempotent and preserves
// absoluteness.
func (p Path) Normalize() (Path, error) {
	out := make([]string, 0, len(p.components))

	for _, raw := range p.components {
		c := norm.NFC.String(raw)

		switch c {
		case ".":
			continue
		case "..":
			if len(out) == 0 {
				if p.absolute {
					return Path{}, ErrIllegal
				}
				// Relative paths may carry a leading ".." only if nothing
				// has been resolved yet to cancel it against.
				out = append(out, c)

				continue
			}

			if out[len(out)-1] == ".." {
				out = append(out, c)

				continue
			}

			out = out[:len(out)-1]
		default:
			out = append(out, c)
		}
	}

	return Path{absolute: p.absolute, components: out}, nil
}

// Equal reports component-wise equality.
func (p Path) Equal(o Path) bool {
	return p.Compare(o) == 0
}

// Compare orders paths component-wise, byte-wise within a component, tied
// by length (a path that is a strict prefix of another sorts first).
func (p Path) Compare(o Path) int {
	n := len(p.components)
	if len(o.components) < n {
		n = len(o.components)
	}

	for i := 0; i < n; i++ {
		if c := strings.Compare(p.components[i], o.components[i]); c != 0 {
			return c
		}
	}

	switch {
	case len(p.components) < len(o.components):
		return -1
	case len(p.components) > len(o.components):
		return 1
	default:
		return 0
	}
}

// Key returns a value suitable as a map key, collapsing the equivalences
// that Equal recognizes ("/a/b" == "/a//b" == "/a/./b" once normalized by
// the caller).
func (p Path) Key() string {
	return p.Display()
}

// GobEncode implements gob.GobEncoder, letting Path round-trip through the
// metadata cache's binary sidecar despite carrying only unexported fields.
func (p Path) GobEncode() ([]byte, error) {
	return []byte(p.Display()), nil
}

// GobDecode implements gob.GobDecoder.
func (p *Path) GobDecode(data []byte) error {
	*p = New(string(data))

	return nil
}
