// Package fserrors defines the error taxonomy shared across the engine: a
// PathError family for path validation and lookup failures, and a top-level
// Error sum type for everything else (storage, auth, API, internal bugs).
package fserrors

import (
	"errors"
	"fmt"

	"github.com/tonimelisma/fsync/internal/fspath"
)

// Location tags which side of a sync an error concerns.
type Location int

const (
	LocationUnspecified Location = iota
	LocationLocal
	LocationRemote
)

func (l Location) String() string {
	switch l {
	case LocationLocal:
		return "local"
	case LocationRemote:
		return "remote"
	default:
		return "unspecified"
	}
}

// PathErrorKind tags the PathError variant.
type PathErrorKind int

const (
	PathNotFound PathErrorKind = iota
	PathOnly
	PathUnexpected
	PathIllegal
)

// PathError reports a failure to resolve or validate a path against the
// diff tree.
type PathError struct {
	Kind     PathErrorKind
	Path     fspath.Path
	Location Location
	Reason   string
}

func (e *PathError) Error() string {
	switch e.Kind {
	case PathNotFound:
		return fmt.Sprintf("path not found: %s", e.Path.Display())
	case PathOnly:
		return fmt.Sprintf("path %s present only on %s", e.Path.Display(), e.Location)
	case PathUnexpected:
		return fmt.Sprintf("unexpected entry kind at %s (%s)", e.Path.Display(), e.Location)
	default:
		if e.Reason != "" {
			return fmt.Sprintf("illegal path %s: %s", e.Path.Display(), e.Reason)
		}

		return fmt.Sprintf("illegal path: %s", e.Path.Display())
	}
}

func NewNotFound(p fspath.Path) error {
	return &PathError{Kind: PathNotFound, Path: p}
}

func NewOnly(p fspath.Path, loc Location) error {
	return &PathError{Kind: PathOnly, Path: p, Location: loc}
}

func NewUnexpected(p fspath.Path, loc Location) error {
	return &PathError{Kind: PathUnexpected, Path: p, Location: loc}
}

func NewIllegal(p fspath.Path, reason string) error {
	return &PathError{Kind: PathIllegal, Path: p, Reason: reason}
}

// IsNotFound reports whether err is a PathError of kind PathNotFound.
func IsNotFound(err error) bool {
	var pe *PathError
	return errors.As(err, &pe) && pe.Kind == PathNotFound
}

// IsIllegal reports whether err is a PathError of kind PathIllegal.
func IsIllegal(err error) bool {
	var pe *PathError
	return errors.As(err, &pe) && pe.Kind == PathIllegal
}

// Class tags the top-level Error sum type.
type Class int

const (
	ClassPath Class = iota
	ClassUtf8
	ClassIllegalSymlink
	ClassIo
	ClassAuth
	ClassApi
	ClassBug
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassPath:
		return "path"
	case ClassUtf8:
		return "utf8"
	case ClassIllegalSymlink:
		return "illegal-symlink"
	case ClassIo:
		return "io"
	case ClassAuth:
		return "auth"
	case ClassApi:
		return "api"
	case ClassBug:
		return "bug"
	default:
		return "other"
	}
}

// Error is the top-level error sum type every public operation returns.
type Error struct {
	Class Class
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Class, e.Msg, e.Err)
	}

	return fmt.Sprintf("%s: %s", e.Class, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(class Class, msg string, cause error) *Error {
	return &Error{Class: class, Msg: msg, Err: cause}
}

func Wrap(class Class, cause error) *Error {
	return &Error{Class: class, Msg: cause.Error(), Err: cause}
}

// IsAuth reports whether err is (or wraps) a ClassAuth Error.
func IsAuth(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Class == ClassAuth
}

var ErrIllegalSymlink = New(ClassIllegalSymlink, "symlink target escapes the synced tree", nil)
