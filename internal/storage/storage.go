// Package storage defines the two parallel storage capability sets — a
// path-addressed set (the local filesystem) and an ID-addressed set (a
// cloud drive) — that the rest of the engine treats uniformly.
package storage

import (
	"context"
	"io"

	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
)

// Id is an opaque identifier for an ID-addressed entry. The root has no Id;
// callers represent that with the empty string.
type Id string

// Progress is the state machine every storage operation drives its sink
// through: Init -> Started -> {Progress|OAuth2Exchange|OAuth2Refresh}* ->
// {Done|Err}.
type Progress struct {
	State ProgressState
	Sent  int64
	Total int64
	Err   error
}

type ProgressState int

const (
	ProgressInit ProgressState = iota
	ProgressStarted
	ProgressTransferring
	ProgressOAuth2Exchange
	ProgressOAuth2Refresh
	ProgressDone
	ProgressErr
)

// Sink receives Progress updates. A nil Sink is valid and discards updates.
type Sink interface {
	Report(Progress)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(Progress)

func (f SinkFunc) Report(p Progress) {
	if f != nil {
		f(p)
	}
}

// Report is a nil-safe helper for optional sinks.
func Report(sink Sink, p Progress) {
	if sink != nil {
		sink.Report(p)
	}
}

// PathStorage is the path-addressed capability set implemented by the local
// filesystem backend (and by the metadata cache wrapping a cloud backend).
type PathStorage interface {
	Exists(ctx context.Context, path fspath.Path) (bool, error)

	// DirEntries lists the direct children of parent. Order is unspecified;
	// callers that need a stable order sort the result themselves.
	DirEntries(ctx context.Context, parent fspath.Path) ([]metadata.Metadata, error)

	ReadFile(ctx context.Context, path fspath.Path, sink Sink) (io.ReadCloser, error)

	Mkdir(ctx context.Context, path fspath.Path, parents bool) (metadata.Metadata, error)

	CreateFile(ctx context.Context, path fspath.Path, r io.Reader, size int64, mtime int64, sink Sink) (metadata.Metadata, error)

	WriteFile(ctx context.Context, path fspath.Path, r io.Reader, size int64, mtime int64, sink Sink) (metadata.Metadata, error)

	CopyFile(ctx context.Context, src, dst fspath.Path, sink Sink) (metadata.Metadata, error)

	MoveEntry(ctx context.Context, src, dst fspath.Path, sink Sink) (metadata.Metadata, error)

	Delete(ctx context.Context, path fspath.Path, sink Sink) error
}

// IdStorage is the ID-addressed capability set implemented by cloud drive
// backends. Every operation identifies its target (and, where applicable,
// its parent) by opaque Id rather than by path.
type IdStorage interface {
	Exists(ctx context.Context, id Id) (bool, error)

	// DirEntries lists the direct children of parent (empty Id denotes the
	// drive root), returning each child's metadata alongside its Id.
	DirEntries(ctx context.Context, parent Id) ([]IdEntry, error)

	ReadFile(ctx context.Context, id Id, sink Sink) (io.ReadCloser, error)

	Mkdir(ctx context.Context, parent Id, name string, parents bool) (IdEntry, error)

	CreateFile(ctx context.Context, parent Id, name string, r io.Reader, size int64, mtime int64, sink Sink) (IdEntry, error)

	WriteFile(ctx context.Context, id Id, r io.Reader, size int64, mtime int64, sink Sink) (IdEntry, error)

	CopyFile(ctx context.Context, srcID Id, dstParent Id, dstName string, sink Sink) (IdEntry, error)

	MoveEntry(ctx context.Context, id Id, dstParent Id, dstName string, sink Sink) (IdEntry, error)

	Delete(ctx context.Context, id Id, sink Sink) error
}

// IdEntry pairs an opaque Id with the metadata for that entry. Metadata.Path
// carries only the entry's own name (as a one-component path); the caller
// (the metadata cache) re-roots it to an absolute tree path.
type IdEntry struct {
	Id       Id
	Metadata metadata.Metadata
}
