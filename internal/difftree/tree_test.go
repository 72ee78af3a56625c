package difftree

import (
	"sync"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
)

func TestRootExistsAsSyncedEmptyDirectory(t *testing.T) {
	tr := New(nil)

	root, ok := tr.Entry(fspath.New("/"))
	require.True(t, ok)
	assert.Equal(t, PresenceSync, root.Entry.Presence)
	assert.True(t, root.Stats(fspath.New("/")).IsNull())
}

func TestInsertAccumulatesAncestorStats(t *testing.T) {
	tr := New(nil)

	dir := fspath.New("/a")
	require.NoError(t, tr.Insert(dir, Node{Entry: Entry{
		Presence: PresenceSync,
		Local:    metadata.NewDirectory(dir),
		Remote:   metadata.NewDirectory(dir),
	}}))

	file := fspath.New("/a/b.txt")
	md := metadata.NewFile(file, 10, time.Unix(0, 0))
	require.NoError(t, tr.Insert(file, Node{Entry: Entry{Presence: PresenceLocal, Local: md}}))

	root, ok := tr.Entry(fspath.New("/"))
	require.True(t, ok)

	stats := root.Stats(fspath.New("/"))
	assert.EqualValues(t, 10, stats.Local.DataBytes)
	assert.EqualValues(t, 1, stats.Local.Files)
	assert.EqualValues(t, 1, stats.Node.Nodes)

	aNode, ok := tr.Entry(dir)
	require.True(t, ok)
	aStats := aNode.Stats(dir)
	assert.EqualValues(t, 10, aStats.Local.DataBytes)
	assert.EqualValues(t, 1, aStats.Local.Files)
}

func TestAddToStorageCheckConflictTransitionsToSync(t *testing.T) {
	tr := New(nil)

	path := fspath.New("/x.txt")
	local := metadata.NewFile(path, 5, time.Unix(100, 0))
	require.NoError(t, tr.Insert(path, Node{Entry: Entry{Presence: PresenceLocal, Local: local}}))

	remote := metadata.NewFile(path, 5, time.Unix(100, 0))
	isConflict, err := tr.AddToStorageCheckConflict(path, remote, fserrors.LocationRemote)
	require.NoError(t, err)
	assert.False(t, isConflict)

	n, ok := tr.Entry(path)
	require.True(t, ok)
	assert.Equal(t, PresenceSync, n.Entry.Presence)

	root, _ := tr.Entry(fspath.New("/"))
	stats := root.Stats(fspath.New("/"))
	assert.EqualValues(t, 1, stats.Node.Sync)
	assert.EqualValues(t, 0, stats.Node.Nodes)
}

func TestAddToStorageCheckConflictDetectsSizeMismatch(t *testing.T) {
	tr := New(nil)

	path := fspath.New("/x.txt")
	local := metadata.NewFile(path, 5, time.Unix(100, 0))
	require.NoError(t, tr.Insert(path, Node{Entry: Entry{Presence: PresenceLocal, Local: local}}))

	remote := metadata.NewFile(path, 9, time.Unix(100, 0))
	isConflict, err := tr.AddToStorageCheckConflict(path, remote, fserrors.LocationRemote)
	require.NoError(t, err)
	assert.True(t, isConflict)

	root, _ := tr.Entry(fspath.New("/"))
	assert.EqualValues(t, 1, root.Stats(fspath.New("/")).Node.Conflicts)
}

func TestAddThenRemoveFromStorageRestoresPriorStats(t *testing.T) {
	tr := New(nil)

	path := fspath.New("/x.txt")
	local := metadata.NewFile(path, 5, time.Unix(100, 0))
	require.NoError(t, tr.Insert(path, Node{Entry: Entry{Presence: PresenceLocal, Local: local}}))

	root, _ := tr.Entry(fspath.New("/"))
	before := root.Stats(fspath.New("/"))

	remote := metadata.NewFile(path, 5, time.Unix(100, 0))
	_, err := tr.AddToStorageCheckConflict(path, remote, fserrors.LocationRemote)
	require.NoError(t, err)

	require.NoError(t, tr.RemoveFromStorage(path, fserrors.LocationRemote))

	root, _ = tr.Entry(fspath.New("/"))
	after := root.Stats(fspath.New("/"))

	if diff := cmp.Diff(before, after); diff != "" {
		t.Errorf("stats did not return to prior state after add+remove (-before +after):\n%s", diff)
	}
}

func TestRemoveFromStorageDemotesSyncToSingleSided(t *testing.T) {
	tr := New(nil)

	path := fspath.New("/x.txt")
	local := metadata.NewFile(path, 5, time.Unix(100, 0))
	remote := metadata.NewFile(path, 5, time.Unix(100, 0))
	require.NoError(t, tr.Insert(path, Node{Entry: Entry{Presence: PresenceSync, Local: local, Remote: remote}}))

	require.NoError(t, tr.RemoveFromStorage(path, fserrors.LocationRemote))

	n, ok := tr.Entry(path)
	require.True(t, ok)
	assert.Equal(t, PresenceLocal, n.Entry.Presence)
}

func TestRemoveFromStorageRemovesSingleSidedNode(t *testing.T) {
	tr := New(nil)

	path := fspath.New("/x.txt")
	local := metadata.NewFile(path, 5, time.Unix(100, 0))
	require.NoError(t, tr.Insert(path, Node{Entry: Entry{Presence: PresenceLocal, Local: local}}))

	require.NoError(t, tr.RemoveFromStorage(path, fserrors.LocationLocal))

	_, ok := tr.Entry(path)
	assert.False(t, ok)

	root, _ := tr.Entry(fspath.New("/"))
	assert.True(t, root.Stats(fspath.New("/")).IsNull())
}

func TestRemoveDeletesSubtreeRootStatsReturnToZero(t *testing.T) {
	tr := New(nil)

	dir := fspath.New("/a")
	require.NoError(t, tr.Insert(dir, Node{Entry: Entry{Presence: PresenceLocal, Local: metadata.NewDirectory(dir)}}))

	file := fspath.New("/a/b.txt")
	require.NoError(t, tr.Insert(file, Node{Entry: Entry{Presence: PresenceLocal, Local: metadata.NewFile(file, 3, time.Unix(0, 0))}}))

	require.NoError(t, tr.Remove(file))
	require.NoError(t, tr.Remove(dir))

	root, _ := tr.Entry(fspath.New("/"))
	assert.True(t, root.Stats(fspath.New("/")).IsNull())
}

func TestEnsureParentsPromotesSingleSidedAncestorsToSync(t *testing.T) {
	tr := New(nil)

	dir := fspath.New("/a")
	require.NoError(t, tr.Insert(dir, Node{Entry: Entry{Presence: PresenceLocal, Local: metadata.NewDirectory(dir)}}))

	conflicted, err := tr.EnsureParents(fspath.New("/a/b.txt"), fserrors.LocationRemote)
	require.NoError(t, err)
	assert.Empty(t, conflicted)

	n, ok := tr.Entry(dir)
	require.True(t, ok)
	assert.Equal(t, PresenceSync, n.Entry.Presence)
}

func TestEnsureParentsReportsKindConflict(t *testing.T) {
	tr := New(nil)

	dir := fspath.New("/a")
	require.NoError(t, tr.Insert(dir, Node{Entry: Entry{Presence: PresenceLocal, Local: metadata.NewFile(dir, 1, time.Unix(0, 0))}}))

	conflicted, err := tr.EnsureParents(fspath.New("/a/b.txt"), fserrors.LocationRemote)
	require.NoError(t, err)
	require.Len(t, conflicted, 1)
	assert.True(t, conflicted[0].Equal(dir))
}

func TestConcurrentMutationsOnDisjointPathsDoNotDeadlock(t *testing.T) {
	defer leaktest.Check(t)()

	tr := New(nil)

	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		i := i

		wg.Add(1)

		go func() {
			defer wg.Done()

			dir := fspath.New("/p" + string(rune('a'+i)))
			require.NoError(t, tr.Insert(dir, Node{Entry: Entry{Presence: PresenceLocal, Local: metadata.NewDirectory(dir)}}))

			for j := 0; j < 50; j++ {
				p := dir.Join(string(rune('0' + j%10)))
				_ = tr.Insert(p, Node{Entry: Entry{Presence: PresenceLocal, Local: metadata.NewFile(p, 1, time.Unix(0, 0))}})
				_ = tr.Remove(p)
			}
		}()
	}

	wg.Wait()
}
