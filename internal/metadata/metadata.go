// Package metadata defines the entry metadata sum type and the additive
// stat aggregates (DirStat, NodeStat, TreeStat) that the diff tree keeps
// consistent on every mutation.
package metadata

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/tonimelisma/fsync/internal/fspath"
)

// Kind tags which variant a Metadata value carries.
type Kind int

const (
	KindDirectory Kind = iota
	KindRegularFile
	KindSymlink
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindRegularFile:
		return "file"
	case KindSymlink:
		return "symlink"
	default:
		return "special"
	}
}

// Metadata is the sum type over {Directory, RegularFile, Symlink, Special}.
// Every variant carries its own absolute path; the invariant the rest of the
// system relies on is that this path equals the lookup key under which the
// metadata is stored.
type Metadata struct {
	kind Kind
	path fspath.Path

	// Files and symlinks only.
	size  int64
	mtime time.Time

	// Directories only; nil when the recursive stat has not been computed.
	dirStat *DirStat

	// Symlinks only.
	target string
}

// NewDirectory constructs directory metadata at path.
func NewDirectory(path fspath.Path) Metadata {
	return Metadata{kind: KindDirectory, path: path}
}

// WithDirStat attaches a recursive DirStat to directory metadata.
func (m Metadata) WithDirStat(s DirStat) Metadata {
	m.dirStat = &s
	return m
}

// NewFile constructs regular-file metadata.
func NewFile(path fspath.Path, size int64, mtime time.Time) Metadata {
	return Metadata{kind: KindRegularFile, path: path, size: size, mtime: mtime}
}

// NewSymlink constructs symlink metadata. size and mtime are optional (zero
// value means "unknown").
func NewSymlink(path fspath.Path, target string, size int64, mtime time.Time) Metadata {
	return Metadata{kind: KindSymlink, path: path, target: target, size: size, mtime: mtime}
}

// NewSpecial constructs metadata for an entry that is neither a directory,
// regular file, nor symlink (device node, socket, ...).
func NewSpecial(path fspath.Path) Metadata {
	return Metadata{kind: KindSpecial, path: path}
}

func (m Metadata) Kind() Kind         { return m.kind }
func (m Metadata) Path() fspath.Path  { return m.path }
func (m Metadata) Size() int64        { return m.size }
func (m Metadata) ModTime() time.Time { return m.mtime }
func (m Metadata) Target() string     { return m.target }

func (m Metadata) IsDir() bool     { return m.kind == KindDirectory }
func (m Metadata) IsFile() bool    { return m.kind == KindRegularFile }
func (m Metadata) IsSymlink() bool { return m.kind == KindSymlink }

// DirStat returns the attached recursive stat, or the zero value if none was
// computed.
func (m Metadata) DirStat() DirStat {
	if m.dirStat == nil {
		return DirStat{}
	}

	return *m.dirStat
}

// WithPath returns a copy of m re-rooted at path. Used when an entry moves.
func (m Metadata) WithPath(path fspath.Path) Metadata {
	m.path = path
	return m
}

// wireMetadata is the exported mirror of Metadata used for gob persistence
// (the metadata cache's binary sidecar): Metadata itself carries only
// unexported fields so gob cannot see them directly.
type wireMetadata struct {
	Kind    Kind
	Path    fspath.Path
	Size    int64
	Mtime   time.Time
	DirStat *DirStat
	Target  string
}

// GobEncode implements gob.GobEncoder.
func (m Metadata) GobEncode() ([]byte, error) {
	w := wireMetadata{
		Kind:    m.kind,
		Path:    m.path,
		Size:    m.size,
		Mtime:   m.mtime,
		DirStat: m.dirStat,
		Target:  m.target,
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(w); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// GobDecode implements gob.GobDecoder.
func (m *Metadata) GobDecode(data []byte) error {
	var w wireMetadata
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return err
	}

	m.kind = w.Kind
	m.path = w.Path
	m.size = w.Size
	m.mtime = w.Mtime
	m.dirStat = w.DirStat
	m.target = w.Target

	return nil
}

// DirStat is a per-location recursive aggregate: total bytes of file data,
// directory count, and file count below (and including, for the direct
// contribution accounting in difftree) a node. It forms an additive,
// subtractive abelian group.
type DirStat struct {
	DataBytes int64
	Dirs      int32
	Files     int32
}

// Add returns the element-wise sum.
func (s DirStat) Add(o DirStat) DirStat {
	return DirStat{
		DataBytes: s.DataBytes + o.DataBytes,
		Dirs:      s.Dirs + o.Dirs,
		Files:     s.Files + o.Files,
	}
}

// Sub returns the element-wise difference.
func (s DirStat) Sub(o DirStat) DirStat {
	return DirStat{
		DataBytes: s.DataBytes - o.DataBytes,
		Dirs:      s.Dirs - o.Dirs,
		Files:     s.Files - o.Files,
	}
}

// Neg returns the additive inverse.
func (s DirStat) Neg() DirStat {
	return DirStat{DataBytes: -s.DataBytes, Dirs: -s.Dirs, Files: -s.Files}
}

// IsNull reports whether all three fields are zero.
func (s DirStat) IsNull() bool {
	return s.DataBytes == 0 && s.Dirs == 0 && s.Files == 0
}

// IsPositive reports whether no field is negative.
func (s DirStat) IsPositive() bool {
	return s.DataBytes >= 0 && s.Dirs >= 0 && s.Files >= 0
}

// FileStat returns the DirStat contribution of a single file of the given
// size: one file, zero directories.
func FileStat(size int64) DirStat {
	return DirStat{DataBytes: size, Files: 1}
}

// DirEntryStat is the DirStat contribution of a single directory entry
// itself (not its contents): the "own_contribution" spoken of in spec.md.
func DirEntryStat() DirStat {
	return DirStat{Dirs: 1}
}

// NodeStat is the tree-wide recursive aggregate tracked per subtree: how
// many nodes are present on exactly one side, how many are synced, and how
// many of those synced pairs conflict.
type NodeStat struct {
	Nodes     int32
	Sync      int32
	Conflicts int32
}

func (s NodeStat) Add(o NodeStat) NodeStat {
	return NodeStat{Nodes: s.Nodes + o.Nodes, Sync: s.Sync + o.Sync, Conflicts: s.Conflicts + o.Conflicts}
}

func (s NodeStat) Sub(o NodeStat) NodeStat {
	return NodeStat{Nodes: s.Nodes - o.Nodes, Sync: s.Sync - o.Sync, Conflicts: s.Conflicts - o.Conflicts}
}

func (s NodeStat) Neg() NodeStat {
	return NodeStat{Nodes: -s.Nodes, Sync: -s.Sync, Conflicts: -s.Conflicts}
}

func (s NodeStat) IsNull() bool {
	return s.Nodes == 0 && s.Sync == 0 && s.Conflicts == 0
}

// TreeStat is the full per-node aggregate: local and remote DirStat plus the
// tree-wide NodeStat. The group is additive: any subtree's TreeStat equals
// the sum of its children's TreeStats plus its own direct contribution.
type TreeStat struct {
	Local  DirStat
	Remote DirStat
	Node   NodeStat
}

func (s TreeStat) Add(o TreeStat) TreeStat {
	return TreeStat{Local: s.Local.Add(o.Local), Remote: s.Remote.Add(o.Remote), Node: s.Node.Add(o.Node)}
}

func (s TreeStat) Sub(o TreeStat) TreeStat {
	return TreeStat{Local: s.Local.Sub(o.Local), Remote: s.Remote.Sub(o.Remote), Node: s.Node.Sub(o.Node)}
}

func (s TreeStat) Neg() TreeStat {
	return TreeStat{Local: s.Local.Neg(), Remote: s.Remote.Neg(), Node: s.Node.Neg()}
}

func (s TreeStat) IsNull() bool {
	return s.Local.IsNull() && s.Remote.IsNull() && s.Node.IsNull()
}
