// Package localcloud implements storage.IdStorage as a reference/test
// double for "a cloud drive": entries live under a local directory tree but
// are addressed by opaque Id rather than by path, exactly like a real
// Google Drive backend would be. The concrete Google Drive REST mapping is
// out of scope (spec.md §1); this backend exists so the ID-addressed
// contract it implies is exercised end to end.
package localcloud

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
	"github.com/tonimelisma/fsync/internal/storage"
)

// node is the in-memory record backing one Id.
type node struct {
	id       storage.Id
	parent   storage.Id // "" for a root child
	name     string
	isDir    bool
	size     int64
	mtime    time.Time
	children map[string]storage.Id // name -> child id, directories only
}

// Storage is a rate-limited, in-memory-indexed ID-addressed backend backed
// by real file content under Root.
type Storage struct {
	Root string

	mu       sync.Mutex
	nodes    map[storage.Id]*node
	rootKids map[string]storage.Id

	limiter *rate.Limiter
}

// defaultRequestsPerSecond bounds outbound calls the way a real cloud API
// client would throttle itself against provider-side rate limits.
const defaultRequestsPerSecond = 20

// New constructs a Storage rooted at root, which must already exist.
func New(root string) *Storage {
	return &Storage{
		Root:     root,
		nodes:    make(map[storage.Id]*node),
		rootKids: make(map[string]storage.Id),
		limiter:  rate.NewLimiter(rate.Limit(defaultRequestsPerSecond), defaultRequestsPerSecond),
	}
}

func (s *Storage) throttle(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fserrors.Wrap(fserrors.ClassApi, err)
	}

	return nil
}

func (s *Storage) native(id storage.Id) (string, error) {
	parts, err := s.pathParts(id)
	if err != nil {
		return "", err
	}

	return filepath.Join(append([]string{s.Root}, parts...)...), nil
}

func (s *Storage) pathParts(id storage.Id) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var parts []string

	cur := id
	for cur != "" {
		n, ok := s.nodes[cur]
		if !ok {
			return nil, fserrors.New(fserrors.ClassApi, "unknown id", nil)
		}

		parts = append([]string{n.name}, parts...)
		cur = n.parent
	}

	return parts, nil
}

func (s *Storage) Exists(ctx context.Context, id storage.Id) (bool, error) {
	if err := s.throttle(ctx); err != nil {
		return false, err
	}

	s.mu.Lock()
	_, ok := s.nodes[id]
	s.mu.Unlock()

	return ok, nil
}

func (s *Storage) toMetadata(n *node) metadata.Metadata {
	p := fspath.New("/" + n.name)
	if n.isDir {
		return metadata.NewDirectory(p)
	}

	return metadata.NewFile(p, n.size, n.mtime)
}

func (s *Storage) DirEntries(ctx context.Context, parent storage.Id) ([]storage.IdEntry, error) {
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var childIDs map[string]storage.Id

	if parent == "" {
		childIDs = s.rootKids
	} else {
		n, ok := s.nodes[parent]
		if !ok {
			return nil, fserrors.New(fserrors.ClassApi, "unknown parent id", nil)
		}

		if !n.isDir {
			return nil, fserrors.New(fserrors.ClassApi, "parent is not a directory", nil)
		}

		childIDs = n.children
	}

	out := make([]storage.IdEntry, 0, len(childIDs))

	for _, id := range childIDs {
		n := s.nodes[id]
		out = append(out, storage.IdEntry{Id: id, Metadata: s.toMetadata(n)})
	}

	return out, nil
}

func (s *Storage) ReadFile(ctx context.Context, id storage.Id, sink storage.Sink) (io.ReadCloser, error) {
	if err := s.throttle(ctx); err != nil {
		return nil, err
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressStarted})

	native, err := s.native(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(native)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ClassIo, err)
	}

	return f, nil
}

func (s *Storage) insert(parent storage.Id, name string, isDir bool, size int64, mtime time.Time) (*node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kids map[string]storage.Id

	if parent == "" {
		kids = s.rootKids
	} else {
		pn, ok := s.nodes[parent]
		if !ok {
			return nil, fserrors.New(fserrors.ClassApi, "unknown parent id", nil)
		}

		kids = pn.children
	}

	if _, exists := kids[name]; exists {
		return nil, fserrors.New(fserrors.ClassApi, fmt.Sprintf("entry %q already exists", name), os.ErrExist)
	}

	id := storage.Id(uuid.NewString())
	n := &node{id: id, parent: parent, name: name, isDir: isDir, size: size, mtime: mtime}

	if isDir {
		n.children = make(map[string]storage.Id)
	}

	s.nodes[id] = n
	kids[name] = id

	return n, nil
}

func (s *Storage) Mkdir(ctx context.Context, parent storage.Id, name string, parents bool) (storage.IdEntry, error) {
	if err := s.throttle(ctx); err != nil {
		return storage.IdEntry{}, err
	}

	n, err := s.insert(parent, name, true, 0, time.Time{})
	if err != nil {
		if !parents {
			return storage.IdEntry{}, err
		}
		// parents=true tolerates a pre-existing directory of the same name.
		s.mu.Lock()
		kids := s.rootKids
		if parent != "" {
			kids = s.nodes[parent].children
		}
		if existingID, ok := kids[name]; ok {
			existing := s.nodes[existingID]
			s.mu.Unlock()
			if existing.isDir {
				return storage.IdEntry{Id: existing.id, Metadata: s.toMetadata(existing)}, nil
			}
		} else {
			s.mu.Unlock()
		}

		return storage.IdEntry{}, err
	}

	native, merr := s.native(n.id)
	if merr != nil {
		return storage.IdEntry{}, merr
	}

	if err := os.MkdirAll(native, 0o755); err != nil {
		return storage.IdEntry{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	return storage.IdEntry{Id: n.id, Metadata: s.toMetadata(n)}, nil
}

func (s *Storage) CreateFile(ctx context.Context, parent storage.Id, name string, r io.Reader, size, mtime int64, sink storage.Sink) (storage.IdEntry, error) {
	if err := s.throttle(ctx); err != nil {
		return storage.IdEntry{}, err
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressStarted})

	mt := time.Unix(0, mtime)
	if mtime == 0 {
		mt = time.Time{}
	}

	n, err := s.insert(parent, name, false, size, mt)
	if err != nil {
		return storage.IdEntry{}, err
	}

	native, merr := s.native(n.id)
	if merr != nil {
		return storage.IdEntry{}, merr
	}

	if err := writeCounted(native, r, sink, size); err != nil {
		storage.Report(sink, storage.Progress{State: storage.ProgressErr, Err: err})

		return storage.IdEntry{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressDone})

	return storage.IdEntry{Id: n.id, Metadata: s.toMetadata(n)}, nil
}

func (s *Storage) WriteFile(ctx context.Context, id storage.Id, r io.Reader, size, mtime int64, sink storage.Sink) (storage.IdEntry, error) {
	if err := s.throttle(ctx); err != nil {
		return storage.IdEntry{}, err
	}

	s.mu.Lock()
	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()

		return storage.IdEntry{}, fserrors.New(fserrors.ClassApi, "unknown id", nil)
	}

	if n.isDir {
		s.mu.Unlock()

		return storage.IdEntry{}, fserrors.New(fserrors.ClassApi, "cannot write to a directory", nil)
	}

	n.size = size
	if mtime != 0 {
		n.mtime = time.Unix(0, mtime)
	}
	s.mu.Unlock()

	native, merr := s.native(id)
	if merr != nil {
		return storage.IdEntry{}, merr
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressStarted})

	if err := writeCounted(native, r, sink, size); err != nil {
		storage.Report(sink, storage.Progress{State: storage.ProgressErr, Err: err})

		return storage.IdEntry{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressDone})

	return storage.IdEntry{Id: id, Metadata: s.toMetadata(n)}, nil
}

func (s *Storage) CopyFile(ctx context.Context, srcID storage.Id, dstParent storage.Id, dstName string, sink storage.Sink) (storage.IdEntry, error) {
	r, err := s.ReadFile(ctx, srcID, nil)
	if err != nil {
		return storage.IdEntry{}, err
	}
	defer r.Close()

	s.mu.Lock()
	src, ok := s.nodes[srcID]
	s.mu.Unlock()

	if !ok {
		return storage.IdEntry{}, fserrors.New(fserrors.ClassApi, "unknown id", nil)
	}

	return s.CreateFile(ctx, dstParent, dstName, r, src.size, src.mtime.UnixNano(), sink)
}

func (s *Storage) MoveEntry(ctx context.Context, id storage.Id, dstParent storage.Id, dstName string, sink storage.Sink) (storage.IdEntry, error) {
	if err := s.throttle(ctx); err != nil {
		return storage.IdEntry{}, err
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressStarted})

	s.mu.Lock()

	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()

		return storage.IdEntry{}, fserrors.New(fserrors.ClassApi, "unknown id", nil)
	}

	oldParts, err := s.pathPartsLocked(n.parent)
	if err != nil {
		s.mu.Unlock()

		return storage.IdEntry{}, err
	}

	newParts, err := s.pathPartsLocked(dstParent)
	if err != nil {
		s.mu.Unlock()

		return storage.IdEntry{}, err
	}

	oldNative := filepath.Join(append([]string{s.Root}, append(oldParts, n.name)...)...)
	newNative := filepath.Join(append([]string{s.Root}, append(newParts, dstName)...)...)

	oldKids := s.rootKids
	if n.parent != "" {
		oldKids = s.nodes[n.parent].children
	}

	delete(oldKids, n.name)

	newKids := s.rootKids
	if dstParent != "" {
		newKids = s.nodes[dstParent].children
	}

	newKids[dstName] = id
	n.parent = dstParent
	n.name = dstName

	s.mu.Unlock()

	if err := os.Rename(oldNative, newNative); err != nil {
		storage.Report(sink, storage.Progress{State: storage.ProgressErr, Err: err})

		return storage.IdEntry{}, fserrors.Wrap(fserrors.ClassIo, err)
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressDone})

	return storage.IdEntry{Id: id, Metadata: s.toMetadata(n)}, nil
}

// pathPartsLocked is pathParts for a caller already holding s.mu.
func (s *Storage) pathPartsLocked(id storage.Id) ([]string, error) {
	var parts []string

	cur := id
	for cur != "" {
		n, ok := s.nodes[cur]
		if !ok {
			return nil, fserrors.New(fserrors.ClassApi, "unknown id", nil)
		}

		parts = append([]string{n.name}, parts...)
		cur = n.parent
	}

	return parts, nil
}

func (s *Storage) Delete(ctx context.Context, id storage.Id, sink storage.Sink) error {
	if err := s.throttle(ctx); err != nil {
		return err
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressStarted})

	s.mu.Lock()

	n, ok := s.nodes[id]
	if !ok {
		s.mu.Unlock()

		return fserrors.New(fserrors.ClassApi, "unknown id", nil)
	}

	if n.isDir && len(n.children) > 0 {
		s.mu.Unlock()

		return fserrors.New(fserrors.ClassApi, "directory not empty", nil)
	}

	kids := s.rootKids
	if n.parent != "" {
		kids = s.nodes[n.parent].children
	}

	parts, perr := s.pathPartsLocked(id)

	delete(kids, n.name)
	delete(s.nodes, id)

	s.mu.Unlock()

	if perr != nil {
		// No on-disk location could be resolved; only the index entry is removed.
		return nil
	}

	native := filepath.Join(append([]string{s.Root}, parts...)...)

	if err := os.Remove(native); err != nil && !os.IsNotExist(err) {
		storage.Report(sink, storage.Progress{State: storage.ProgressErr, Err: err})

		return fserrors.Wrap(fserrors.ClassIo, err)
	}

	storage.Report(sink, storage.Progress{State: storage.ProgressDone})

	return nil
}

func writeCounted(native string, r io.Reader, sink storage.Sink, total int64) error {
	f, err := os.OpenFile(native, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var sent int64

	buf := make([]byte, 32*1024)

	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}

			sent += int64(n)
			storage.Report(sink, storage.Progress{State: storage.ProgressTransferring, Sent: sent, Total: total})
		}

		if rerr == io.EOF {
			return nil
		}

		if rerr != nil {
			return rerr
		}
	}
}

var _ storage.IdStorage = (*Storage)(nil)
