// Package metacache wraps an ID-addressed storage.IdStorage backend and
// exposes the path-addressed storage.PathStorage capability set, converting
// every ID-based remote call into a path-addressed one via an in-memory
// path -> CacheNode map populated once at startup (or loaded from a
// persisted sidecar) and kept in lock-step with every write-through call.
package metacache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
	"github.com/tonimelisma/fsync/internal/storage"
)

// CacheNode mirrors one remote entry: its opaque Id (empty for the root),
// its metadata, and the sorted names of its direct children.
type CacheNode struct {
	Id       storage.Id
	Metadata metadata.Metadata
	Children []string
}

// Cache implements storage.PathStorage over an storage.IdStorage backend.
type Cache struct {
	backend storage.IdStorage
	logger  *slog.Logger

	mu    sync.RWMutex
	nodes map[string]*CacheNode
}

// New constructs a Cache. Callers must call either LoadSidecar or Enumerate
// before using it.
func New(backend storage.IdStorage, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		backend: backend,
		logger:  logger,
		nodes:   map[string]*CacheNode{fspath.Root: {Metadata: metadata.NewDirectory(fspath.New(fspath.Root))}},
	}
}

// Enumerate populates the cache by recursively walking the backend from the
// root, once. Any prior cache contents are discarded.
func (c *Cache) Enumerate(ctx context.Context) error {
	c.mu.Lock()
	c.nodes = map[string]*CacheNode{fspath.Root: {Metadata: metadata.NewDirectory(fspath.New(fspath.Root))}}
	c.mu.Unlock()

	return c.enumerateDir(ctx, fspath.New(fspath.Root), "")
}

func (c *Cache) enumerateDir(ctx context.Context, dirPath fspath.Path, dirID storage.Id) error {
	entries, err := c.backend.DirEntries(ctx, dirID)
	if err != nil {
		return fserrors.Wrap(fserrors.ClassApi, err)
	}

	names := make([]string, 0, len(entries))

	c.mu.Lock()
	for _, e := range entries {
		name := e.Metadata.Path().FileName()
		childPath := dirPath.Join(name)
		c.nodes[childPath.Key()] = &CacheNode{Id: e.Id, Metadata: e.Metadata.WithPath(childPath)}
		names = append(names, name)
	}
	sort.Strings(names)
	c.nodes[dirPath.Key()].Children = names
	c.mu.Unlock()

	for i, e := range entries {
		_ = i

		if e.Metadata.IsDir() {
			if err := c.enumerateDir(ctx, dirPath.Join(e.Metadata.Path().FileName()), e.Id); err != nil {
				return err
			}
		}
	}

	return nil
}

func (c *Cache) lookup(p fspath.Path) (*CacheNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n, ok := c.nodes[p.Key()]

	return n, ok
}

func (c *Cache) Exists(_ context.Context, p fspath.Path) (bool, error) {
	_, ok := c.lookup(p)

	return ok, nil
}

func (c *Cache) DirEntries(_ context.Context, parent fspath.Path) ([]metadata.Metadata, error) {
	n, ok := c.lookup(parent)
	if !ok {
		return nil, fserrors.NewNotFound(parent)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]metadata.Metadata, 0, len(n.Children))

	for _, name := range n.Children {
		child, ok := c.nodes[parent.Join(name).Key()]
		if ok {
			out = append(out, child.Metadata)
		}
	}

	return out, nil
}

func (c *Cache) ReadFile(ctx context.Context, p fspath.Path, sink storage.Sink) (io.ReadCloser, error) {
	n, ok := c.lookup(p)
	if !ok {
		return nil, fserrors.NewNotFound(p)
	}

	r, err := c.backend.ReadFile(ctx, n.Id, sink)
	if err != nil {
		return nil, fserrors.Wrap(fserrors.ClassApi, err)
	}

	return r, nil
}

func (c *Cache) Mkdir(ctx context.Context, p fspath.Path, parents bool) (metadata.Metadata, error) {
	parent, ok := c.lookup(p.Parent())
	if !ok {
		if !parents {
			return metadata.Metadata{}, fserrors.NewNotFound(p.Parent())
		}

		if _, err := c.Mkdir(ctx, p.Parent(), true); err != nil {
			return metadata.Metadata{}, err
		}

		parent, _ = c.lookup(p.Parent())
	}

	entry, err := c.backend.Mkdir(ctx, parent.Id, p.FileName(), parents)
	if err != nil {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassApi, err)
	}

	md := entry.Metadata.WithPath(p)
	c.insertChild(p, &CacheNode{Id: entry.Id, Metadata: md})

	return md, nil
}

func (c *Cache) CreateFile(ctx context.Context, p fspath.Path, r io.Reader, size, mtime int64, sink storage.Sink) (metadata.Metadata, error) {
	parent, ok := c.lookup(p.Parent())
	if !ok {
		return metadata.Metadata{}, fserrors.NewNotFound(p.Parent())
	}

	entry, err := c.backend.CreateFile(ctx, parent.Id, p.FileName(), r, size, mtime, sink)
	if err != nil {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassApi, err)
	}

	md := entry.Metadata.WithPath(p)
	c.insertChild(p, &CacheNode{Id: entry.Id, Metadata: md})

	return md, nil
}

func (c *Cache) WriteFile(ctx context.Context, p fspath.Path, r io.Reader, size, mtime int64, sink storage.Sink) (metadata.Metadata, error) {
	n, ok := c.lookup(p)
	if !ok {
		return metadata.Metadata{}, fserrors.NewNotFound(p)
	}

	entry, err := c.backend.WriteFile(ctx, n.Id, r, size, mtime, sink)
	if err != nil {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassApi, err)
	}

	md := entry.Metadata.WithPath(p)

	c.mu.Lock()
	c.nodes[p.Key()] = &CacheNode{Id: n.Id, Metadata: md, Children: n.Children}
	c.mu.Unlock()

	return md, nil
}

func (c *Cache) CopyFile(ctx context.Context, src, dst fspath.Path, sink storage.Sink) (metadata.Metadata, error) {
	srcNode, ok := c.lookup(src)
	if !ok {
		return metadata.Metadata{}, fserrors.NewNotFound(src)
	}

	dstParent, ok := c.lookup(dst.Parent())
	if !ok {
		return metadata.Metadata{}, fserrors.NewNotFound(dst.Parent())
	}

	entry, err := c.backend.CopyFile(ctx, srcNode.Id, dstParent.Id, dst.FileName(), sink)
	if err != nil {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassApi, err)
	}

	md := entry.Metadata.WithPath(dst)
	c.insertChild(dst, &CacheNode{Id: entry.Id, Metadata: md})

	return md, nil
}

func (c *Cache) MoveEntry(ctx context.Context, src, dst fspath.Path, sink storage.Sink) (metadata.Metadata, error) {
	srcNode, ok := c.lookup(src)
	if !ok {
		return metadata.Metadata{}, fserrors.NewNotFound(src)
	}

	dstParent, ok := c.lookup(dst.Parent())
	if !ok {
		return metadata.Metadata{}, fserrors.NewNotFound(dst.Parent())
	}

	entry, err := c.backend.MoveEntry(ctx, srcNode.Id, dstParent.Id, dst.FileName(), sink)
	if err != nil {
		return metadata.Metadata{}, fserrors.Wrap(fserrors.ClassApi, err)
	}

	md := entry.Metadata.WithPath(dst)

	c.mu.Lock()
	c.removeChildLocked(src)
	c.rekeySubtreeLocked(src, dst, md, entry.Id)
	c.addChildLocked(dst)
	c.mu.Unlock()

	return md, nil
}

// rekeySubtreeLocked moves the subtree rooted at src to dst, recursively
// re-keying every descendant's own cache entry so a later DirEntries call on
// a moved directory (or any of its moved descendants) still resolves its
// children under their new, dst-prefixed paths. Only the map keys and each
// node's own recorded Metadata path change; names, opaque Ids, and the
// children lists themselves are carried over unchanged. Caller must hold
// c.mu for writing.
func (c *Cache) rekeySubtreeLocked(src, dst fspath.Path, dstMetadata metadata.Metadata, dstID storage.Id) {
	old, ok := c.nodes[src.Key()]
	if !ok {
		return
	}

	children := old.Children
	delete(c.nodes, src.Key())

	c.nodes[dst.Key()] = &CacheNode{Id: dstID, Metadata: dstMetadata, Children: children}

	for _, name := range children {
		childSrc := src.Join(name)
		childDst := dst.Join(name)

		child, ok := c.nodes[childSrc.Key()]
		if !ok {
			continue
		}

		c.rekeySubtreeLocked(childSrc, childDst, child.Metadata.WithPath(childDst), child.Id)
	}
}

func (c *Cache) Delete(ctx context.Context, p fspath.Path, sink storage.Sink) error {
	n, ok := c.lookup(p)
	if !ok {
		return fserrors.NewNotFound(p)
	}

	if len(n.Children) > 0 {
		return fserrors.New(fserrors.ClassApi, "directory not empty", errors.New("not empty"))
	}

	if err := c.backend.Delete(ctx, n.Id, sink); err != nil {
		return fserrors.Wrap(fserrors.ClassApi, err)
	}

	c.mu.Lock()
	c.removeChildLocked(p)
	delete(c.nodes, p.Key())
	c.mu.Unlock()

	return nil
}

// insertChild stores node at p and appends p's name to its parent's sorted
// children list, unless already present.
func (c *Cache) insertChild(p fspath.Path, n *CacheNode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes[p.Key()] = n
	c.addChildLocked(p)
}

func (c *Cache) addChildLocked(p fspath.Path) {
	parent, ok := c.nodes[p.Parent().Key()]
	if !ok {
		return
	}

	name := p.FileName()

	idx := sort.SearchStrings(parent.Children, name)
	if idx < len(parent.Children) && parent.Children[idx] == name {
		return
	}

	parent.Children = append(parent.Children, "")
	copy(parent.Children[idx+1:], parent.Children[idx:])
	parent.Children[idx] = name
}

func (c *Cache) removeChildLocked(p fspath.Path) {
	parent, ok := c.nodes[p.Parent().Key()]
	if !ok {
		return
	}

	name := p.FileName()

	for i, n := range parent.Children {
		if n == name {
			parent.Children = append(parent.Children[:i], parent.Children[i+1:]...)

			break
		}
	}
}

// Snapshot returns a defensive copy of the cache contents, used for
// persistence.
func (c *Cache) Snapshot() map[string]CacheNode {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]CacheNode, len(c.nodes))

	for k, v := range c.nodes {
		out[k] = *v
	}

	return out
}

// Restore replaces the cache contents with a previously-Snapshotted map.
func (c *Cache) Restore(snapshot map[string]CacheNode) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = make(map[string]*CacheNode, len(snapshot))

	for k, v := range snapshot {
		n := v
		c.nodes[k] = &n
	}

	if _, ok := c.nodes[fspath.Root]; !ok {
		c.nodes[fspath.Root] = &CacheNode{Metadata: metadata.NewDirectory(fspath.New(fspath.Root))}
	}
}

// EncodeNode gob-encodes a CacheNode for sidecar persistence.
func EncodeNode(n CacheNode) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(n); err != nil {
		return nil, fmt.Errorf("metacache: encode node: %w", err)
	}

	return buf.Bytes(), nil
}

// DecodeNode decodes a sidecar-persisted CacheNode.
func DecodeNode(data []byte) (CacheNode, error) {
	var n CacheNode
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&n); err != nil {
		return CacheNode{}, fmt.Errorf("metacache: decode node: %w", err)
	}

	return n, nil
}

var _ storage.PathStorage = (*Cache)(nil)
