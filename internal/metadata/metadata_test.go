package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tonimelisma/fsync/internal/fspath"
)

func TestDirStatGroupLaws(t *testing.T) {
	a := DirStat{DataBytes: 10, Dirs: 1, Files: 2}
	b := DirStat{DataBytes: 5, Dirs: 0, Files: 1}

	assert.Equal(t, a, a.Add(b).Sub(b))
	assert.True(t, a.Add(a.Neg()).IsNull())
	assert.True(t, a.IsPositive())
	assert.False(t, a.Neg().IsPositive())
}

func TestTreeStatAdditive(t *testing.T) {
	child1 := TreeStat{Local: DirStat{Files: 1}, Node: NodeStat{Sync: 1}}
	child2 := TreeStat{Remote: DirStat{Files: 1}, Node: NodeStat{Nodes: 1}}
	own := TreeStat{Local: DirEntryStatAsTree()}

	sum := own.Add(child1).Add(child2)
	assert.Equal(t, int32(1), sum.Local.Dirs)
	assert.Equal(t, int32(1), sum.Local.Files)
	assert.Equal(t, int32(1), sum.Remote.Files)
	assert.Equal(t, int32(1), sum.Node.Sync)
	assert.Equal(t, int32(1), sum.Node.Nodes)
}

func DirEntryStatAsTree() DirStat {
	return DirEntryStat()
}

func TestDetectConflictKindMismatch(t *testing.T) {
	p := fspath.New("/a")
	local := NewFile(p, 1, time.Time{})
	remote := NewDirectory(p)
	assert.Equal(t, LocalFileRemoteDir, DetectConflict(local, remote))
	assert.Equal(t, LocalDirRemoteFile, DetectConflict(remote, local))
}

func TestDetectConflictMtimeWins(t *testing.T) {
	p := fspath.New("/a")
	now := time.Now()
	older := now.Add(-10 * time.Second)

	local := NewFile(p, 100, now)
	remote := NewFile(p, 999, older)
	assert.Equal(t, LocalNewer, DetectConflict(local, remote))
	assert.Equal(t, LocalOlder, DetectConflict(remote, local))
}

func TestDetectConflictSizeOnTie(t *testing.T) {
	p := fspath.New("/a")
	now := time.Now()

	bigger := NewFile(p, 200, now)
	smaller := NewFile(p, 100, now)
	assert.Equal(t, LocalBigger, DetectConflict(bigger, smaller))
	assert.Equal(t, LocalSmaller, DetectConflict(smaller, bigger))

	assert.Equal(t, ConflictNone, DetectConflict(smaller, smaller))
}

func TestDetectConflictMissingMtimeTreatedEqual(t *testing.T) {
	p := fspath.New("/a")
	local := NewFile(p, 100, time.Time{})
	remote := NewFile(p, 100, time.Now())
	assert.Equal(t, ConflictNone, DetectConflict(local, remote))
}
