// Package rpcserver implements the loopback binary RPC service (spec.md
// §4.8): length-prefixed gob request/response frames over TCP, navigation
// and operation verbs dispatched against an *engine.Engine.
package rpcserver

import (
	"github.com/tonimelisma/fsync/internal/difftree"
	"github.com/tonimelisma/fsync/internal/engine"
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
	"github.com/tonimelisma/fsync/internal/storage"
)

// Verb tags which engine call a Request dispatches to.
type Verb string

const (
	VerbEntryNode          Verb = "entry_node"
	VerbProgress           Verb = "progress"
	VerbProgresses         Verb = "progresses"
	VerbConflicts          Verb = "conflicts"
	VerbSync               Verb = "sync"
	VerbSyncDeep           Verb = "sync_deep"
	VerbCopyLocalToRemote  Verb = "copy_local_to_remote"
	VerbCopyRemoteToLocal  Verb = "copy_remote_to_local"
	VerbResolve            Verb = "resolve"
	VerbDelete             Verb = "delete"
	VerbMove               Verb = "move"
	VerbRename             Verb = "rename"
)

// Request is the single wire request type; which fields are meaningful
// depends on Verb.
type Request struct {
	Verb Verb

	Path   string
	Prefix string
	Limit  int

	// Move/Rename.
	Dst  string
	Name string

	// Resolve/Delete.
	ResolveMethod engine.ResolveMethod
	DeleteMethod  engine.DeleteMethod
}

// Response is the single wire response type. Err is non-empty exactly when
// the call failed; the other fields are populated per-Verb.
type Response struct {
	Err string

	Node       *NodeDTO
	Progress   *ProgressDTO
	Progresses map[string]ProgressDTO
	Conflicts  []string
}

// MetadataDTO is the wire-shaped mirror of metadata.Metadata.
type MetadataDTO struct {
	Kind    string
	Size    int64
	MTime   int64 // UnixNano, 0 if unknown
	Target  string
	Present bool
}

func toMetadataDTO(md metadata.Metadata, present bool) MetadataDTO {
	if !present {
		return MetadataDTO{}
	}

	return MetadataDTO{
		Kind:    md.Kind().String(),
		Size:    md.Size(),
		MTime:   md.ModTime().UnixNano(),
		Target:  md.Target(),
		Present: true,
	}
}

// NodeDTO is the wire-shaped mirror of a difftree.Node.
type NodeDTO struct {
	Path     string
	Presence string
	Local    MetadataDTO
	Remote   MetadataDTO
	Conflict string
	Children []string
}

func toNodeDTO(path fspath.Path, n difftree.Node) NodeDTO {
	return NodeDTO{
		Path:     path.Display(),
		Presence: n.Entry.Presence.Tag(),
		Local:    toMetadataDTO(n.Entry.Local, n.Entry.Presence != difftree.PresenceRemote),
		Remote:   toMetadataDTO(n.Entry.Remote, n.Entry.Presence != difftree.PresenceLocal),
		Conflict: n.Entry.Conflict.String(),
		Children: append([]string(nil), n.Children...),
	}
}

// ProgressDTO is the wire-shaped mirror of a storage.Progress.
type ProgressDTO struct {
	State string
	Sent  int64
	Total int64
	Err   string
}

func progressStateString(s storage.ProgressState) string {
	switch s {
	case storage.ProgressStarted:
		return "started"
	case storage.ProgressTransferring:
		return "transferring"
	case storage.ProgressOAuth2Exchange:
		return "oauth2-exchange"
	case storage.ProgressOAuth2Refresh:
		return "oauth2-refresh"
	case storage.ProgressDone:
		return "done"
	case storage.ProgressErr:
		return "error"
	default:
		return "init"
	}
}

func toProgressDTO(p storage.Progress) ProgressDTO {
	dto := ProgressDTO{State: progressStateString(p.State), Sent: p.Sent, Total: p.Total}
	if p.Err != nil {
		dto.Err = p.Err.Error()
	}

	return dto
}
