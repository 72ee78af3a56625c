package difftree

import (
	"fmt"

	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
)

// addChildSorted inserts name into children if absent, preserving sort
// order, and reports whether it inserted.
func addChildSorted(children []string, name string) ([]string, bool) {
	lo, hi := 0, len(children)
	for lo < hi {
		mid := (lo + hi) / 2

		if children[mid] < name {
			lo = mid + 1
		} else {
			hi = mid
		}
	}

	if lo < len(children) && children[lo] == name {
		return children, false
	}

	out := make([]string, len(children)+1)
	copy(out, children[:lo])
	out[lo] = name
	copy(out[lo+1:], children[lo:])

	return out, true
}

func removeChild(children []string, name string) []string {
	for i, c := range children {
		if c == name {
			out := make([]string, 0, len(children)-1)
			out = append(out, children[:i]...)

			return append(out, children[i+1:]...)
		}
	}

	return children
}

// propagateDelta adds delta to ChildrenStat of every ancestor of path
// (path.Parent(), its parent, ... up to and including the root). Callers
// must already hold the locks for every key in keys (ancestorKeys(path)).
func (t *Tree) propagateDelta(path fspath.Path, delta metadata.TreeStat) {
	if delta.IsNull() {
		return
	}

	for cur := path; !cur.IsRoot(); {
		cur = cur.Parent()

		n, ok := t.get(cur)
		if !ok {
			return
		}

		n.ChildrenStat = n.ChildrenStat.Add(delta)
	}
}

// Guard acquires the write locks covering path (and every path in paths)
// together with their ancestor chains, held for the full lifetime of a
// caller's operation rather than just a single mutation call. This is the
// same shard-lock machinery Insert/AddToStorageCheckConflict/etc. use
// internally (see lockKeys): the engine package holds a Guard across its
// storage I/O and then calls the *Locked mutation variants below, so that
// an operation's read-decide-write-mutate sequence is atomic without a
// second, independent lock layer living outside the tree.
func (t *Tree) Guard(paths ...fspath.Path) func() {
	var keys []string

	for _, p := range paths {
		keys = append(keys, ancestorKeys(p)...)
	}

	ls := t.lockKeys(keys...)

	return ls.unlock
}

// Insert adds a brand-new node at path. Preconditions (violating any is a
// programmer error, reported as ClassBug): the parent exists, path is not
// already present, and node.Entry.Path() == path.
func (t *Tree) Insert(path fspath.Path, node Node) error {
	unlock := t.Guard(path)
	defer unlock()

	return t.insertLocked(path, node)
}

// InsertLocked is Insert's core, for callers (the engine) that already hold
// path's Guard.
func (t *Tree) InsertLocked(path fspath.Path, node Node) error {
	return t.insertLocked(path, node)
}

func (t *Tree) insertLocked(path fspath.Path, node Node) error {
	parent, ok := t.get(path.Parent())
	if !ok && !path.IsRoot() {
		return fserrors.New(fserrors.ClassBug, fmt.Sprintf("insert %s: parent missing", path.Display()), nil)
	}

	if _, exists := t.get(path); exists {
		return fserrors.New(fserrors.ClassBug, fmt.Sprintf("insert %s: already present", path.Display()), nil)
	}

	nn := node.clone()
	t.shardFor(path.Key()).nodes[path.Key()] = &nn

	if parent != nil {
		parent.Children, _ = addChildSorted(parent.Children, path.FileName())
	}

	t.propagateDelta(path, nn.Stats(path))

	return nil
}

// AddToStorageCheckConflict transitions the entry at path from single-sided
// to Sync (or updates an existing Sync entry's other-side metadata),
// recomputes its conflict flag, and adjusts ancestor stats by the delta.
// Returns whether the post-state is a conflict.
func (t *Tree) AddToStorageCheckConflict(path fspath.Path, md metadata.Metadata, loc fserrors.Location) (bool, error) {
	unlock := t.Guard(path)
	defer unlock()

	return t.addToStorageCheckConflictLocked(path, md, loc)
}

// AddToStorageCheckConflictLocked is AddToStorageCheckConflict's core, for
// callers that already hold path's Guard.
func (t *Tree) AddToStorageCheckConflictLocked(path fspath.Path, md metadata.Metadata, loc fserrors.Location) (bool, error) {
	return t.addToStorageCheckConflictLocked(path, md, loc)
}

func (t *Tree) addToStorageCheckConflictLocked(path fspath.Path, md metadata.Metadata, loc fserrors.Location) (bool, error) {
	n, ok := t.get(path)
	if !ok {
		return false, notFound(path)
	}

	before := n.Stats(path)

	switch loc {
	case fserrors.LocationLocal:
		n.Entry.Local = md
		if n.Entry.Presence == PresenceLocal {
			n.Entry.Presence = PresenceSync
		}
	case fserrors.LocationRemote:
		n.Entry.Remote = md
		if n.Entry.Presence == PresenceRemote {
			n.Entry.Presence = PresenceSync
		}
	default:
		return false, fserrors.New(fserrors.ClassBug, "add_to_storage_check_conflict: location must be Local or Remote", nil)
	}

	if n.Entry.Presence != PresenceSync {
		return false, fserrors.New(fserrors.ClassBug, "add_to_storage_check_conflict: entry is not a Sync pair", nil)
	}

	n.Entry.Conflict = metadata.DetectConflict(n.Entry.Local, n.Entry.Remote)

	after := n.Stats(path)
	t.propagateDelta(path, after.Sub(before))

	return n.Entry.IsConflict(), nil
}

// RemoveFromStorage transitions the entry at path from Sync to the single
// remaining side (loc's opposite), or removes the node entirely if loc held
// the only side.
func (t *Tree) RemoveFromStorage(path fspath.Path, loc fserrors.Location) error {
	unlock := t.Guard(path)
	defer unlock()

	return t.removeFromStorageLocked(path, loc)
}

// RemoveFromStorageLocked is RemoveFromStorage's core, for callers that
// already hold path's Guard.
func (t *Tree) RemoveFromStorageLocked(path fspath.Path, loc fserrors.Location) error {
	return t.removeFromStorageLocked(path, loc)
}

func (t *Tree) removeFromStorageLocked(path fspath.Path, loc fserrors.Location) error {
	n, ok := t.get(path)
	if !ok {
		return notFound(path)
	}

	before := n.Stats(path)

	switch n.Entry.Presence {
	case PresenceSync:
		if loc == fserrors.LocationLocal {
			n.Entry.Presence = PresenceRemote
			n.Entry.Local = metadata.Metadata{}
		} else {
			n.Entry.Presence = PresenceLocal
			n.Entry.Remote = metadata.Metadata{}
		}

		n.Entry.Conflict = metadata.ConflictNone

		after := n.Stats(path)
		t.propagateDelta(path, after.Sub(before))

		return nil
	case PresenceLocal:
		if loc != fserrors.LocationLocal {
			return fserrors.New(fserrors.ClassBug, "remove_from_storage: entry not present on remote", nil)
		}
	case PresenceRemote:
		if loc != fserrors.LocationRemote {
			return fserrors.New(fserrors.ClassBug, "remove_from_storage: entry not present on local", nil)
		}
	}

	// The node held only loc's side: remove it entirely.
	t.propagateDelta(path, before.Neg())
	t.removeLocked(path)

	return nil
}

// Remove forcibly removes the node at path (used once both sides have
// confirmed the entry is gone). It is not an error to remove a node with
// children still present in the map snapshot; callers are expected to have
// removed descendants first (bottom-up), matching the engine's delete
// ordering rules.
func (t *Tree) Remove(path fspath.Path) error {
	unlock := t.Guard(path)
	defer unlock()

	return t.removeEntirelyLocked(path)
}

// RemoveLocked is Remove's core, for callers that already hold path's Guard.
func (t *Tree) RemoveLocked(path fspath.Path) error {
	return t.removeEntirelyLocked(path)
}

func (t *Tree) removeEntirelyLocked(path fspath.Path) error {
	n, ok := t.get(path)
	if !ok {
		return notFound(path)
	}

	t.propagateDelta(path, n.Stats(path).Neg())
	t.removeLocked(path)

	return nil
}

// removeLocked deletes path's node and detaches it from its parent's
// children list. Callers must hold the ancestor chain's locks.
func (t *Tree) removeLocked(path fspath.Path) {
	delete(t.shardFor(path.Key()).nodes, path.Key())

	if path.IsRoot() {
		return
	}

	if parent, ok := t.get(path.Parent()); ok {
		parent.Children = removeChild(parent.Children, path.FileName())
	}
}

// EnsureParents walks path's ancestors upward, switching each from a
// single-sided directory entry to a Sync directory wherever loc's side was
// previously absent there, accumulating stats as it goes. It returns the
// ancestors (nearest first) that became conflicts as a result (e.g. an
// ancestor that was a file on the opposite side).
func (t *Tree) EnsureParents(path fspath.Path, loc fserrors.Location) ([]fspath.Path, error) {
	unlock := t.Guard(path)
	defer unlock()

	return t.ensureParentsLocked(path, loc)
}

// EnsureParentsLocked is EnsureParents's core, for callers that already hold
// path's Guard.
func (t *Tree) EnsureParentsLocked(path fspath.Path, loc fserrors.Location) ([]fspath.Path, error) {
	return t.ensureParentsLocked(path, loc)
}

func (t *Tree) ensureParentsLocked(path fspath.Path, loc fserrors.Location) ([]fspath.Path, error) {
	var conflicted []fspath.Path

	cur := path

	for !cur.IsRoot() {
		cur = cur.Parent()

		n, ok := t.get(cur)
		if !ok {
			return conflicted, fserrors.New(fserrors.ClassBug, fmt.Sprintf("ensure_parents: ancestor %s missing", cur.Display()), nil)
		}

		before := n.Stats(cur)

		switch n.Entry.Presence {
		case PresenceSync:
			// Already a Sync directory; nothing to do for this ancestor or
			// anything above it (they were necessarily ensured already).
			return conflicted, nil
		case PresenceLocal:
			if loc == fserrors.LocationLocal {
				continue
			}

			n.Entry.Remote = metadata.NewDirectory(cur)
			n.Entry.Presence = PresenceSync
		case PresenceRemote:
			if loc == fserrors.LocationRemote {
				continue
			}

			n.Entry.Local = metadata.NewDirectory(cur)
			n.Entry.Presence = PresenceSync
		}

		n.Entry.Conflict = metadata.DetectConflict(n.Entry.Local, n.Entry.Remote)
		if n.Entry.IsConflict() {
			conflicted = append(conflicted, cur)
		}

		after := n.Stats(cur)
		t.propagateDelta(cur, after.Sub(before))
	}

	return conflicted, nil
}
