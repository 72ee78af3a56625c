// Package difftree implements the central in-memory union view of a local
// and a remote storage.PathStorage: a concurrent path -> Node map carrying
// recursive stat aggregates and parent back-references maintained as
// invariants on every mutation.
package difftree

import (
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"

	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
)

// shardCount is the number of stripes the path space is hashed into. Writes
// to paths in different shards proceed without contending on each other;
// writes to the same shard (and any ancestor-walk that must cross shards)
// serialize via a fixed lock-acquisition order, so no deadlock is possible
// no matter how many ancestors a single mutation touches.
const shardCount = 64

type shard struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// Tree is the diff tree. The zero value is not usable; construct with New
// or Build.
type Tree struct {
	logger *slog.Logger
	shards [shardCount]*shard
}

// New constructs an empty Tree containing only the root, which always
// exists as a synced, empty directory (spec.md §3).
func New(logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.Default()
	}

	t := &Tree{logger: logger}

	for i := range t.shards {
		t.shards[i] = &shard{nodes: make(map[string]*Node)}
	}

	root := Node{Entry: Entry{Presence: PresenceSync}}
	t.shardFor(fspath.Root).nodes[fspath.Root] = &root

	return t
}

func (t *Tree) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))

	return t.shards[h.Sum32()%shardCount]
}

// lockSet locks the shards for a set of keys in a deterministic order
// (ascending shard index, deduplicated) so that no two goroutines can ever
// acquire the same pair of shards in opposite order.
type lockSet struct {
	shards []*shard
}

func (t *Tree) lockKeys(keys ...string) *lockSet {
	seen := make(map[*shard]struct{}, len(keys))
	unique := make([]*shard, 0, len(keys))

	for _, k := range keys {
		s := t.shardFor(k)
		if _, ok := seen[s]; ok {
			continue
		}

		seen[s] = struct{}{}
		unique = append(unique, s)
	}

	// Shards have no intrinsic ordering key of their own; index into the
	// fixed t.shards array instead so the order is stable across calls.
	sort.Slice(unique, func(i, j int) bool {
		return shardIndex(t, unique[i]) < shardIndex(t, unique[j])
	})

	for _, s := range unique {
		s.mu.Lock()
	}

	return &lockSet{shards: unique}
}

func shardIndex(t *Tree, s *shard) int {
	for i, c := range t.shards {
		if c == s {
			return i
		}
	}

	return -1
}

func (ls *lockSet) unlock() {
	for i := len(ls.shards) - 1; i >= 0; i-- {
		ls.shards[i].mu.Unlock()
	}
}

// ancestorKeys returns the key for path and every ancestor up to and
// including the root, in that order.
func ancestorKeys(path fspath.Path) []string {
	keys := []string{path.Key()}

	for cur := path; !cur.IsRoot(); {
		cur = cur.Parent()
		keys = append(keys, cur.Key())
	}

	return keys
}

// Entry returns a snapshot copy of the node at path, or false if absent.
func (t *Tree) Entry(path fspath.Path) (Node, bool) {
	s := t.shardFor(path.Key())
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[path.Key()]
	if !ok {
		return Node{}, false
	}

	return n.clone(), true
}

// HasEntry reports whether path is present in the tree.
func (t *Tree) HasEntry(path fspath.Path) bool {
	_, ok := t.Entry(path)

	return ok
}

// EntryLocked is Entry's counterpart for callers (the engine) that already
// hold path's Guard — it must not take the shard lock itself, since Guard's
// lock is not reentrant.
func (t *Tree) EntryLocked(path fspath.Path) (Node, bool) {
	n, ok := t.get(path)
	if !ok {
		return Node{}, false
	}

	return n.clone(), true
}

// get returns the live (non-cloned) node pointer; callers must hold the
// owning shard's lock.
func (t *Tree) get(path fspath.Path) (*Node, bool) {
	n, ok := t.shardFor(path.Key()).nodes[path.Key()]

	return n, ok
}

func notFound(p fspath.Path) error {
	return fserrors.NewNotFound(p)
}
