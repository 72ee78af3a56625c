// Package engine implements the operation engine (spec.md §4.5): a closed
// set of verbs driving a local and a remote storage.PathStorage through the
// diff tree, keeping tree and storage in lock-step on every successful
// write and leaving the tree untouched on failure.
package engine

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/tonimelisma/fsync/internal/difftree"
	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
	"github.com/tonimelisma/fsync/internal/storage"
)

// ResolveMethod is the closed set of conflict-resolution strategies
// Resolve accepts.
type ResolveMethod int

const (
	ReplaceOlderByNewer ResolveMethod = iota
	ReplaceLocalByRemote
	ReplaceRemoteByLocal
	ResolveDeleteLocal
	ResolveDeleteRemote
	KeepBoth
)

func (m ResolveMethod) String() string {
	switch m {
	case ReplaceLocalByRemote:
		return "replace-local-by-remote"
	case ReplaceRemoteByLocal:
		return "replace-remote-by-local"
	case ResolveDeleteLocal:
		return "delete-local"
	case ResolveDeleteRemote:
		return "delete-remote"
	case KeepBoth:
		return "keep-both"
	default:
		return "replace-older-by-newer"
	}
}

// DeleteMethod is the closed set of sides Delete accepts.
type DeleteMethod int

const (
	DeleteLocal DeleteMethod = iota
	DeleteRemote
	DeleteAll
)

func (m DeleteMethod) String() string {
	switch m {
	case DeleteLocal:
		return "local"
	case DeleteRemote:
		return "remote"
	default:
		return "all"
	}
}

// conflictSuffix names the fixed suffix KeepBoth appends to the local side's
// name when it renames it aside rather than discarding either side.
const conflictSuffix = ".conflict-local"

// Engine drives local and remote through the diff tree on behalf of every
// public verb spec.md §4.5 names.
type Engine struct {
	tree   *difftree.Tree
	local  storage.PathStorage
	remote storage.PathStorage
	logger *slog.Logger

	// onAuthRetry is called once, at most, when a storage call fails with a
	// ClassAuth error, before the call is retried exactly one more time
	// (spec.md §4.5: "at most one transparent re-auth attempt"). Typically
	// wired to the oauth2token.Provider's cache invalidation for whatever
	// scope backs the failing side.
	onAuthRetry func()

	mu       sync.RWMutex
	progress map[string]*SharedProgress
}

// New constructs an Engine. onAuthRetry may be nil, in which case auth
// failures simply surface without a retry.
func New(tree *difftree.Tree, local, remote storage.PathStorage, logger *slog.Logger, onAuthRetry func()) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		tree:        tree,
		local:       local,
		remote:      remote,
		logger:      logger,
		onAuthRetry: onAuthRetry,
		progress:    make(map[string]*SharedProgress),
	}
}

func validatePath(path fspath.Path) (fspath.Path, error) {
	norm, err := path.Normalize()
	if err != nil {
		return fspath.Path{}, fserrors.NewIllegal(path, err.Error())
	}

	if !norm.IsAbsolute() {
		return fspath.Path{}, fserrors.NewIllegal(path, "path must be absolute")
	}

	return norm, nil
}

func (e *Engine) beginProgress(path fspath.Path) *SharedProgress {
	sp := newSharedProgress()

	e.mu.Lock()
	e.progress[path.Key()] = sp
	e.mu.Unlock()

	sp.Set(storage.Progress{State: storage.ProgressStarted})

	return sp
}

func (e *Engine) fail(sp *SharedProgress, err error) (storage.Progress, error) {
	sp.Set(storage.Progress{State: storage.ProgressErr, Err: err})

	return sp.Get(), err
}

// retry runs op, and if it fails with a ClassAuth error and a retry hook is
// configured, invalidates the cached auth state and runs op exactly once
// more.
func (e *Engine) retry(op func() error) error {
	err := op()
	if err != nil && fserrors.IsAuth(err) && e.onAuthRetry != nil {
		e.onAuthRetry()
		err = op()
	}

	return err
}

// Progress returns the current Progress for an active or completed
// operation at path, if one has ever run.
func (e *Engine) Progress(path fspath.Path) (storage.Progress, bool) {
	e.mu.RLock()
	sp, ok := e.progress[path.Key()]
	e.mu.RUnlock()

	if !ok {
		return storage.Progress{}, false
	}

	return sp.Get(), true
}

// Progresses returns the Progress of every operation recorded at prefix or
// one of its descendants.
func (e *Engine) Progresses(prefix fspath.Path) map[string]storage.Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make(map[string]storage.Progress)

	for key, sp := range e.progress {
		if isPrefixOrEqual(prefix, fspath.New(key)) {
			out[key] = sp.Get()
		}
	}

	return out
}

func isPrefixOrEqual(prefix, p fspath.Path) bool {
	pc, fc := prefix.Components(), p.Components()
	if len(fc) < len(pc) {
		return false
	}

	for i := range pc {
		if pc[i] != fc[i] {
			return false
		}
	}

	return true
}

// EntryNode exposes the diff tree's node at path, for RPC's entry_node verb.
func (e *Engine) EntryNode(path fspath.Path) (difftree.Node, bool) {
	return e.tree.Entry(path)
}

// Conflicts returns up to limit conflicting paths under prefix, in
// path-sort order, pruning subtrees whose recursive conflict count is zero.
func (e *Engine) Conflicts(prefix fspath.Path, limit int) []fspath.Path {
	var out []fspath.Path

	e.walkConflicts(prefix, &out, limit)

	return out
}

func (e *Engine) walkConflicts(path fspath.Path, out *[]fspath.Path, limit int) {
	if limit > 0 && len(*out) >= limit {
		return
	}

	node, ok := e.tree.Entry(path)
	if !ok {
		return
	}

	if node.Entry.IsConflict() {
		*out = append(*out, path)
	}

	if node.ChildrenStat.Node.Conflicts == 0 {
		return
	}

	children := append([]string(nil), node.Children...)
	sort.Strings(children)

	for _, name := range children {
		if limit > 0 && len(*out) >= limit {
			return
		}

		e.walkConflicts(path.Join(name), out, limit)
	}
}

func (e *Engine) transferFile(ctx context.Context, path fspath.Path, from, to storage.PathStorage, srcMD metadata.Metadata, overwrite bool, sink storage.Sink) (metadata.Metadata, error) {
	r, err := from.ReadFile(ctx, path, sink)
	if err != nil {
		return metadata.Metadata{}, err
	}
	defer r.Close()

	mtime := srcMD.ModTime().UnixNano()

	if overwrite {
		return to.WriteFile(ctx, path, r, srcMD.Size(), mtime, sink)
	}

	return to.CreateFile(ctx, path, r, srcMD.Size(), mtime, sink)
}

// Sync mirrors a single-sided entry's directory-or-file to the missing
// side. A directory is mirrored shallowly: children are synced only by
// their own Sync/SyncDeep call.
func (e *Engine) Sync(ctx context.Context, path fspath.Path) (storage.Progress, error) {
	path, err := validatePath(path)
	if err != nil {
		return storage.Progress{}, err
	}

	sp := e.beginProgress(path)

	unlock := e.tree.Guard(path)
	defer unlock()

	node, ok := e.tree.EntryLocked(path)
	if !ok {
		return e.fail(sp, fserrors.NewNotFound(path))
	}

	switch node.Entry.Presence {
	case difftree.PresenceSync:
		sp.Set(storage.Progress{State: storage.ProgressDone})

		return sp.Get(), nil
	case difftree.PresenceLocal:
		return e.mirror(ctx, path, node.Entry.Local, e.local, e.remote, fserrors.LocationRemote, sp)
	case difftree.PresenceRemote:
		return e.mirror(ctx, path, node.Entry.Remote, e.remote, e.local, fserrors.LocationLocal, sp)
	default:
		return e.fail(sp, fserrors.New(fserrors.ClassBug, "sync: unknown presence", nil))
	}
}

func (e *Engine) mirror(ctx context.Context, path fspath.Path, srcMD metadata.Metadata, from, to storage.PathStorage, toLoc fserrors.Location, sp *SharedProgress) (storage.Progress, error) {
	op := func() error {
		var (
			dstMD metadata.Metadata
			err   error
		)

		if srcMD.IsDir() {
			dstMD, err = to.Mkdir(ctx, path, false)
		} else {
			dstMD, err = e.transferFile(ctx, path, from, to, srcMD, false, sp.Sink())
		}

		if err != nil {
			return err
		}

		_, err = e.tree.AddToStorageCheckConflictLocked(path, dstMD, toLoc)

		return err
	}

	if err := e.retry(op); err != nil {
		return e.fail(sp, err)
	}

	if _, err := e.tree.EnsureParentsLocked(path, toLoc); err != nil {
		return e.fail(sp, err)
	}

	sp.Set(storage.Progress{State: storage.ProgressDone})

	return sp.Get(), nil
}

// CopyLocalToRemote forces the local side onto the remote, overwriting a
// same-path remote file if one already exists.
func (e *Engine) CopyLocalToRemote(ctx context.Context, path fspath.Path) (storage.Progress, error) {
	return e.forceCopy(ctx, path, fserrors.LocationRemote)
}

// CopyRemoteToLocal forces the remote side onto the local, overwriting a
// same-path local file if one already exists.
func (e *Engine) CopyRemoteToLocal(ctx context.Context, path fspath.Path) (storage.Progress, error) {
	return e.forceCopy(ctx, path, fserrors.LocationLocal)
}

func (e *Engine) forceCopy(ctx context.Context, path fspath.Path, toLoc fserrors.Location) (storage.Progress, error) {
	path, err := validatePath(path)
	if err != nil {
		return storage.Progress{}, err
	}

	sp := e.beginProgress(path)

	unlock := e.tree.Guard(path)
	defer unlock()

	node, ok := e.tree.EntryLocked(path)
	if !ok {
		return e.fail(sp, fserrors.NewNotFound(path))
	}

	from, to := e.local, e.remote
	fromMD := node.Entry.Local

	if toLoc == fserrors.LocationLocal {
		from, to = e.remote, e.local
		fromMD = node.Entry.Remote
	}

	overwrite := node.Entry.Presence == difftree.PresenceSync && !fromMD.IsDir()

	op := func() error {
		var (
			dstMD metadata.Metadata
			err   error
		)

		if fromMD.IsDir() {
			dstMD, err = to.Mkdir(ctx, path, false)
		} else {
			dstMD, err = e.transferFile(ctx, path, from, to, fromMD, overwrite, sp.Sink())
		}

		if err != nil {
			return err
		}

		_, err = e.tree.AddToStorageCheckConflictLocked(path, dstMD, toLoc)

		return err
	}

	if err := e.retry(op); err != nil {
		return e.fail(sp, err)
	}

	if _, err := e.tree.EnsureParentsLocked(path, toLoc); err != nil {
		return e.fail(sp, err)
	}

	sp.Set(storage.Progress{State: storage.ProgressDone})

	return sp.Get(), nil
}

// SyncDeep recursively syncs every single-sided descendant of path,
// creating directories on the destination before descending into their
// children, processed in path-sort order.
func (e *Engine) SyncDeep(ctx context.Context, path fspath.Path) (storage.Progress, error) {
	path, err := validatePath(path)
	if err != nil {
		return storage.Progress{}, err
	}

	if !e.tree.HasEntry(path) {
		return storage.Progress{}, fserrors.NewNotFound(path)
	}

	if err := e.syncDeepWalk(ctx, path); err != nil {
		return storage.Progress{State: storage.ProgressErr, Err: err}, err
	}

	return storage.Progress{State: storage.ProgressDone}, nil
}

func (e *Engine) syncDeepWalk(ctx context.Context, path fspath.Path) error {
	node, ok := e.tree.Entry(path)
	if !ok {
		return fserrors.NewNotFound(path)
	}

	if node.Entry.Presence != difftree.PresenceSync {
		if _, err := e.Sync(ctx, path); err != nil {
			return err
		}

		node, ok = e.tree.Entry(path)
		if !ok {
			return fserrors.NewNotFound(path)
		}
	}

	if !node.Entry.IsDir() {
		return nil
	}

	children := append([]string(nil), node.Children...)
	sort.Strings(children)

	for _, name := range children {
		if err := e.syncDeepWalk(ctx, path.Join(name)); err != nil {
			return err
		}
	}

	return nil
}

// Resolve applies method to a conflicting Sync entry at path.
func (e *Engine) Resolve(ctx context.Context, path fspath.Path, method ResolveMethod) (storage.Progress, error) {
	path, err := validatePath(path)
	if err != nil {
		return storage.Progress{}, err
	}

	sp := e.beginProgress(path)

	var newPath fspath.Path
	if method == KeepBoth {
		newPath = path.Parent().Join(path.FileName() + conflictSuffix)
	}

	guardPaths := []fspath.Path{path}
	if method == KeepBoth {
		guardPaths = append(guardPaths, newPath)
	}

	unlock := e.tree.Guard(guardPaths...)
	defer unlock()

	node, ok := e.tree.EntryLocked(path)
	if !ok {
		return e.fail(sp, fserrors.NewNotFound(path))
	}

	if node.Entry.Presence != difftree.PresenceSync || node.Entry.Conflict == metadata.ConflictNone {
		return e.fail(sp, fserrors.New(fserrors.ClassBug, "resolve: path is not a conflicting sync entry", nil))
	}

	switch method {
	case ReplaceOlderByNewer:
		return e.resolveReplaceOlderByNewer(ctx, path, node, sp)
	case ReplaceLocalByRemote:
		return e.resolveReplaceSide(ctx, path, node, fserrors.LocationLocal, sp)
	case ReplaceRemoteByLocal:
		return e.resolveReplaceSide(ctx, path, node, fserrors.LocationRemote, sp)
	case ResolveDeleteLocal:
		return e.resolveDeleteSide(ctx, path, fserrors.LocationLocal, sp)
	case ResolveDeleteRemote:
		return e.resolveDeleteSide(ctx, path, fserrors.LocationRemote, sp)
	case KeepBoth:
		return e.resolveKeepBoth(ctx, path, newPath, node, sp)
	default:
		return e.fail(sp, fserrors.New(fserrors.ClassBug, "resolve: unknown method", nil))
	}
}

// resolveReplaceSide overwrites toLoc's file content with the opposite
// side's, producing a conflict-free Sync entry.
func (e *Engine) resolveReplaceSide(ctx context.Context, path fspath.Path, node difftree.Node, toLoc fserrors.Location, sp *SharedProgress) (storage.Progress, error) {
	from, to := e.remote, e.local
	fromMD := node.Entry.Remote

	if toLoc == fserrors.LocationRemote {
		from, to = e.local, e.remote
		fromMD = node.Entry.Local
	}

	op := func() error {
		dstMD, err := e.transferFile(ctx, path, from, to, fromMD, true, sp.Sink())
		if err != nil {
			return err
		}

		_, err = e.tree.AddToStorageCheckConflictLocked(path, dstMD, toLoc)

		return err
	}

	if err := e.retry(op); err != nil {
		return e.fail(sp, err)
	}

	sp.Set(storage.Progress{State: storage.ProgressDone})

	return sp.Get(), nil
}

// resolveReplaceOlderByNewer implements the ReplaceOlderByNewer tie-break
// rules: equal (or missing) mtimes fall through to size, replacing the
// smaller side by the bigger; an exact mtime-and-size tie is a no-op.
func (e *Engine) resolveReplaceOlderByNewer(ctx context.Context, path fspath.Path, node difftree.Node, sp *SharedProgress) (storage.Progress, error) {
	lt, rt := node.Entry.Local.ModTime(), node.Entry.Remote.ModTime()

	switch {
	case lt.IsZero() || rt.IsZero() || lt.Equal(rt):
		switch {
		case node.Entry.Local.Size() == node.Entry.Remote.Size():
			sp.Set(storage.Progress{State: storage.ProgressDone})

			return sp.Get(), nil
		case node.Entry.Local.Size() > node.Entry.Remote.Size():
			return e.resolveReplaceSide(ctx, path, node, fserrors.LocationRemote, sp)
		default:
			return e.resolveReplaceSide(ctx, path, node, fserrors.LocationLocal, sp)
		}
	case lt.After(rt):
		return e.resolveReplaceSide(ctx, path, node, fserrors.LocationRemote, sp)
	default:
		return e.resolveReplaceSide(ctx, path, node, fserrors.LocationLocal, sp)
	}
}

// resolveDeleteSide deletes loc's copy of a conflicting entry, demoting it
// to a single-sided entry on the opposite side.
func (e *Engine) resolveDeleteSide(ctx context.Context, path fspath.Path, loc fserrors.Location, sp *SharedProgress) (storage.Progress, error) {
	target := e.local
	if loc == fserrors.LocationRemote {
		target = e.remote
	}

	op := func() error {
		if err := target.Delete(ctx, path, sp.Sink()); err != nil {
			return err
		}

		return e.tree.RemoveFromStorageLocked(path, loc)
	}

	if err := e.retry(op); err != nil {
		return e.fail(sp, err)
	}

	sp.Set(storage.Progress{State: storage.ProgressDone})

	return sp.Get(), nil
}

// resolveKeepBoth renames the local side aside (so both copies survive) and
// demotes the original path to a remote-only entry.
func (e *Engine) resolveKeepBoth(ctx context.Context, path, newPath fspath.Path, node difftree.Node, sp *SharedProgress) (storage.Progress, error) {
	op := func() error {
		dstMD, err := e.local.MoveEntry(ctx, path, newPath, sp.Sink())
		if err != nil {
			return err
		}

		if err := e.tree.RemoveFromStorageLocked(path, fserrors.LocationLocal); err != nil {
			return err
		}

		newNode := difftree.Node{Entry: difftree.Entry{Presence: difftree.PresenceLocal, Local: dstMD}}

		return e.tree.InsertLocked(newPath, newNode)
	}

	if err := e.retry(op); err != nil {
		return e.fail(sp, err)
	}

	sp.Set(storage.Progress{State: storage.ProgressDone})

	return sp.Get(), nil
}

// Delete removes path on the given side(s). Deleting a non-empty directory
// surfaces the underlying storage's IoError/ApiError rather than being
// special-cased here.
func (e *Engine) Delete(ctx context.Context, path fspath.Path, method DeleteMethod) (storage.Progress, error) {
	path, err := validatePath(path)
	if err != nil {
		return storage.Progress{}, err
	}

	sp := e.beginProgress(path)

	unlock := e.tree.Guard(path)
	defer unlock()

	node, ok := e.tree.EntryLocked(path)
	if !ok {
		return e.fail(sp, fserrors.NewNotFound(path))
	}

	op := func() error {
		switch method {
		case DeleteLocal:
			return e.deleteSide(ctx, path, node, fserrors.LocationLocal, sp)
		case DeleteRemote:
			return e.deleteSide(ctx, path, node, fserrors.LocationRemote, sp)
		case DeleteAll:
			if node.Entry.Presence != difftree.PresenceLocal {
				if err := e.remote.Delete(ctx, path, sp.Sink()); err != nil {
					return err
				}
			}

			if node.Entry.Presence != difftree.PresenceRemote {
				if err := e.local.Delete(ctx, path, sp.Sink()); err != nil {
					return err
				}
			}

			return e.tree.RemoveLocked(path)
		default:
			return fserrors.New(fserrors.ClassBug, "delete: unknown method", nil)
		}
	}

	if err := e.retry(op); err != nil {
		return e.fail(sp, err)
	}

	sp.Set(storage.Progress{State: storage.ProgressDone})

	return sp.Get(), nil
}

func (e *Engine) deleteSide(ctx context.Context, path fspath.Path, node difftree.Node, loc fserrors.Location, sp *SharedProgress) error {
	switch loc {
	case fserrors.LocationLocal:
		if node.Entry.Presence == difftree.PresenceRemote {
			return fserrors.NewOnly(path, fserrors.LocationRemote)
		}

		if err := e.local.Delete(ctx, path, sp.Sink()); err != nil {
			return err
		}
	case fserrors.LocationRemote:
		if node.Entry.Presence == difftree.PresenceLocal {
			return fserrors.NewOnly(path, fserrors.LocationLocal)
		}

		if err := e.remote.Delete(ctx, path, sp.Sink()); err != nil {
			return err
		}
	}

	return e.tree.RemoveFromStorageLocked(path, loc)
}

// subtreeEntry is a single node captured while walking src's subtree before
// Move acquires its locks.
type subtreeEntry struct {
	oldPath fspath.Path
	entry   difftree.Entry
}

func (e *Engine) collectSubtree(root fspath.Path) ([]subtreeEntry, error) {
	node, ok := e.tree.Entry(root)
	if !ok {
		return nil, fserrors.NewNotFound(root)
	}

	out := []subtreeEntry{{oldPath: root, entry: node.Entry}}

	children := append([]string(nil), node.Children...)
	sort.Strings(children)

	for _, name := range children {
		sub, err := e.collectSubtree(root.Join(name))
		if err != nil {
			return nil, err
		}

		out = append(out, sub...)
	}

	return out, nil
}

// relocate rewrites old (a descendant of src, or src itself) to the
// corresponding path under dst.
func relocate(old, src, dst fspath.Path) fspath.Path {
	rel := old.Components()[len(src.Components()):]

	out := dst
	for _, c := range rel {
		out = out.Join(c)
	}

	return out
}

// Rename moves path to a sibling named name.
func (e *Engine) Rename(ctx context.Context, path fspath.Path, name string) (storage.Progress, error) {
	path, err := validatePath(path)
	if err != nil {
		return storage.Progress{}, err
	}

	return e.Move(ctx, path, path.Parent().Join(name))
}

// Move relocates src (and, if it is a directory, every descendant) to dst
// on every side it is present, rejecting any conflicting entry in the
// subtree.
func (e *Engine) Move(ctx context.Context, src, dst fspath.Path) (storage.Progress, error) {
	src, err := validatePath(src)
	if err != nil {
		return storage.Progress{}, err
	}

	dst, err = validatePath(dst)
	if err != nil {
		return storage.Progress{}, err
	}

	sp := e.beginProgress(src)

	subtree, err := e.collectSubtree(src)
	if err != nil {
		return e.fail(sp, err)
	}

	lockPaths := make([]fspath.Path, 0, len(subtree)*2+1)
	lockPaths = append(lockPaths, dst)

	for _, m := range subtree {
		lockPaths = append(lockPaths, m.oldPath, relocate(m.oldPath, src, dst))
	}

	unlock := e.tree.Guard(lockPaths...)
	defer unlock()

	if _, exists := e.tree.EntryLocked(dst); exists {
		return e.fail(sp, fserrors.NewIllegal(dst, "destination already exists"))
	}

	for _, m := range subtree {
		if m.entry.IsConflict() {
			return e.fail(sp, fserrors.NewIllegal(m.oldPath, "cannot move a conflicting entry"))
		}
	}

	op := func() error {
		presence := subtree[0].entry.Presence

		if presence != difftree.PresenceRemote {
			if _, err := e.local.MoveEntry(ctx, src, dst, sp.Sink()); err != nil {
				return err
			}
		}

		if presence != difftree.PresenceLocal {
			if _, err := e.remote.MoveEntry(ctx, src, dst, sp.Sink()); err != nil {
				return err
			}
		}

		return nil
	}

	if err := e.retry(op); err != nil {
		return e.fail(sp, err)
	}

	// Rebuild the tree under dst: deepest removal first (children before
	// parents), then shallowest-first insertion (parents before children)
	// so each new parent already exists when its children are reinserted.
	for i := len(subtree) - 1; i >= 0; i-- {
		if err := e.tree.RemoveLocked(subtree[i].oldPath); err != nil {
			return e.fail(sp, err)
		}
	}

	for _, m := range subtree {
		newPath := relocate(m.oldPath, src, dst)
		entry := m.entry

		if entry.Presence != difftree.PresenceRemote {
			entry.Local = entry.Local.WithPath(newPath)
		}

		if entry.Presence != difftree.PresenceLocal {
			entry.Remote = entry.Remote.WithPath(newPath)
		}

		if err := e.tree.InsertLocked(newPath, difftree.Node{Entry: entry}); err != nil {
			return e.fail(sp, err)
		}
	}

	sp.Set(storage.Progress{State: storage.ProgressDone})

	return sp.Get(), nil
}
