package difftree

import (
	"context"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
	"github.com/tonimelisma/fsync/internal/storage"
)

// Build walks local and remote concurrently from the root and returns a
// fully populated Tree, per spec.md §4.4's build algorithm: at every
// directory, list both sides in parallel, merge-walk the two sorted child
// sets by name, and recurse into every child directory in parallel too.
func Build(ctx context.Context, local, remote storage.PathStorage, logger *slog.Logger) (*Tree, error) {
	t := New(logger)

	if err := t.buildSubtree(ctx, local, remote, fspath.New("/")); err != nil {
		return nil, err
	}

	return t, nil
}

func (t *Tree) buildSubtree(ctx context.Context, local, remote storage.PathStorage, dir fspath.Path) error {
	var localEntries, remoteEntries []metadata.Metadata

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		entries, err := local.DirEntries(gctx, dir)
		localEntries = entries

		return err
	})
	g.Go(func() error {
		entries, err := remote.DirEntries(gctx, dir)
		remoteEntries = entries

		return err
	})

	if err := g.Wait(); err != nil {
		return fserrors.Wrap(fserrors.ClassIo, err)
	}

	localByName := make(map[string]metadata.Metadata, len(localEntries))
	for _, e := range localEntries {
		localByName[e.Path().FileName()] = e
	}

	remoteByName := make(map[string]metadata.Metadata, len(remoteEntries))
	for _, e := range remoteEntries {
		remoteByName[e.Path().FileName()] = e
	}

	names := make(map[string]struct{}, len(localByName)+len(remoteByName))
	for name := range localByName {
		names[name] = struct{}{}
	}

	for name := range remoteByName {
		names[name] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}

	sort.Strings(sorted)

	cg, cgctx := errgroup.WithContext(ctx)

	for _, name := range sorted {
		name := name
		loc, hasLocal := localByName[name]
		rem, hasRemote := remoteByName[name]

		cg.Go(func() error {
			return t.buildChild(cgctx, local, remote, dir, name, loc, hasLocal, rem, hasRemote)
		})
	}

	return cg.Wait()
}

func (t *Tree) buildChild(
	ctx context.Context,
	local, remote storage.PathStorage,
	dir fspath.Path,
	name string,
	loc metadata.Metadata, hasLocal bool,
	rem metadata.Metadata, hasRemote bool,
) error {
	path := dir.Join(name)

	switch {
	case hasLocal && hasRemote && loc.IsDir() == rem.IsDir():
		entry := Entry{Presence: PresenceSync, Local: loc, Remote: rem}
		entry.Conflict = metadata.DetectConflict(loc, rem)

		if err := t.Insert(path, Node{Entry: entry}); err != nil {
			return err
		}

		if entry.IsDir() {
			return t.buildSubtree(ctx, local, remote, path)
		}

		return nil

	case hasLocal && hasRemote && loc.IsDir():
		// Kind mismatch: the original walks down whichever side is the
		// directory and drops the other side's entry entirely, rather than
		// pairing them as a conflicting Sync node — a Sync pair with no
		// recursion target on the losing side would leave that side's
		// children permanently unvisited.
		return t.insertOneSided(ctx, local, path, loc, PresenceLocal)

	case hasLocal && hasRemote:
		return t.insertOneSided(ctx, remote, path, rem, PresenceRemote)

	case hasLocal:
		return t.insertOneSided(ctx, local, path, loc, PresenceLocal)

	default:
		return t.insertOneSided(ctx, remote, path, rem, PresenceRemote)
	}
}

// insertOneSided inserts path as a single-sided entry and, for a directory,
// recurses down store alone — store is whichever of local/remote actually
// carries this path, so the other side is never consulted for anything
// under it.
func (t *Tree) insertOneSided(ctx context.Context, store storage.PathStorage, path fspath.Path, md metadata.Metadata, presence Presence) error {
	entry := Entry{Presence: presence}
	if presence == PresenceLocal {
		entry.Local = md
	} else {
		entry.Remote = md
	}

	if err := t.Insert(path, Node{Entry: entry}); err != nil {
		return err
	}

	if !md.IsDir() {
		return nil
	}

	return t.buildOneSidedSubtree(ctx, store, path, presence)
}

// buildOneSidedSubtree recursively mirrors a directory subtree that exists
// on only one side, grounded in the original's local()/remote() walk: each
// entry the single store reports is inserted and, if a directory, recursed
// into in parallel, with no DirEntries call ever made against the side that
// doesn't have dir.
func (t *Tree) buildOneSidedSubtree(ctx context.Context, store storage.PathStorage, dir fspath.Path, presence Presence) error {
	entries, err := store.DirEntries(ctx, dir)
	if err != nil {
		return fserrors.Wrap(fserrors.ClassIo, err)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, e := range entries {
		e := e
		path := dir.Join(e.Path().FileName())

		g.Go(func() error {
			return t.insertOneSided(gctx, store, path, e, presence)
		})
	}

	return g.Wait()
}
