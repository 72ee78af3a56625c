package difftree

import (
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
)

// Presence tags which side(s) of the sync an Entry is present on.
type Presence int

const (
	PresenceLocal Presence = iota
	PresenceRemote
	PresenceSync
)

func (p Presence) Tag() string {
	switch p {
	case PresenceLocal:
		return "L"
	case PresenceRemote:
		return "R"
	default:
		return "S"
	}
}

// Entry is the union view of a single path: present locally only, remotely
// only, or on both sides (optionally in conflict).
type Entry struct {
	Presence Presence
	Local    metadata.Metadata // valid when Presence != PresenceRemote
	Remote   metadata.Metadata // valid when Presence != PresenceLocal
	Conflict metadata.ConflictReason
}

// IsConflict reports whether a Sync entry is in a conflicting state.
func (e Entry) IsConflict() bool {
	return e.Presence == PresenceSync && e.Conflict != metadata.ConflictNone
}

// Path returns the entry's path, read off whichever side is present.
func (e Entry) Path() fspath.Path {
	if e.Presence == PresenceRemote {
		return e.Remote.Path()
	}

	return e.Local.Path()
}

// IsDir reports whether the entry is a directory, on whichever side carries
// the authoritative kind (for Sync entries, both sides necessarily agree on
// directory-ness unless in a kind conflict, in which case Local wins).
func (e Entry) IsDir() bool {
	switch e.Presence {
	case PresenceLocal:
		return e.Local.IsDir()
	case PresenceRemote:
		return e.Remote.IsDir()
	default:
		return e.Local.IsDir()
	}
}

// ownContribution computes the direct (non-recursive) TreeStat contribution
// of this entry at path root — the root's own metadata is always empty per
// spec.md §3, so its contribution is defined to be zero regardless of
// Presence.
func (e Entry) ownContribution(path fspath.Path) metadata.TreeStat {
	if path.IsRoot() {
		return metadata.TreeStat{}
	}

	var out metadata.TreeStat

	switch e.Presence {
	case PresenceLocal:
		out.Local = dirStatFor(e.Local)
		out.Node.Nodes = 1
	case PresenceRemote:
		out.Remote = dirStatFor(e.Remote)
		out.Node.Nodes = 1
	case PresenceSync:
		out.Local = dirStatFor(e.Local)
		out.Remote = dirStatFor(e.Remote)
		out.Node.Sync = 1

		if e.Conflict != metadata.ConflictNone {
			out.Node.Conflicts = 1
		}
	}

	return out
}

func dirStatFor(md metadata.Metadata) metadata.DirStat {
	if md.IsDir() {
		return metadata.DirEntryStat()
	}

	return metadata.FileStat(md.Size())
}

// Node is the diff tree's per-path record: the union entry, the sorted set
// of direct children names, and the aggregate TreeStat of everything below
// (not including the node's own contribution).
type Node struct {
	Entry        Entry
	Children     []string
	ChildrenStat metadata.TreeStat
}

// Stats returns the node's own contribution plus its children's aggregate —
// the invariant every mutation must preserve (spec.md §8 property 1).
func (n Node) Stats(path fspath.Path) metadata.TreeStat {
	return n.Entry.ownContribution(path).Add(n.ChildrenStat)
}

func (n Node) clone() Node {
	children := make([]string, len(n.Children))
	copy(children, n.Children)
	n.Children = children

	return n
}
