package difftree

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metacache"
	"github.com/tonimelisma/fsync/internal/storage/localcloud"
	"github.com/tonimelisma/fsync/internal/storage/localfs"
)

func writeLocalFile(ctx context.Context, local *localfs.Storage, path, content string) error {
	_, err := local.CreateFile(ctx, fspath.New(path), strings.NewReader(content), int64(len(content)), 0, nil)

	return err
}

func TestBuildMergesLocalAndRemoteTrees(t *testing.T) {
	ctx := t.Context()

	local := localfs.New(t.TempDir(), nil)
	require.NoError(t, writeLocalFile(ctx, local, "/shared.txt", "hi"))
	require.NoError(t, writeLocalFile(ctx, local, "/local-only.txt", "loc"))

	remoteBackend := localcloud.New(t.TempDir())
	_, err := remoteBackend.CreateFile(ctx, "", "shared.txt", strings.NewReader("hi"), 2, 0, nil)
	require.NoError(t, err)
	_, err = remoteBackend.CreateFile(ctx, "", "remote-only.txt", strings.NewReader("rem"), 3, 0, nil)
	require.NoError(t, err)

	remote := metacache.New(remoteBackend, nil)
	require.NoError(t, remote.Enumerate(ctx))

	tr, err := Build(ctx, local, remote, nil)
	require.NoError(t, err)

	shared, ok := tr.Entry(fspath.New("/shared.txt"))
	require.True(t, ok)
	assert.Equal(t, PresenceSync, shared.Entry.Presence)

	lonly, ok := tr.Entry(fspath.New("/local-only.txt"))
	require.True(t, ok)
	assert.Equal(t, PresenceLocal, lonly.Entry.Presence)

	ronly, ok := tr.Entry(fspath.New("/remote-only.txt"))
	require.True(t, ok)
	assert.Equal(t, PresenceRemote, ronly.Entry.Presence)

	root, ok := tr.Entry(fspath.New("/"))
	require.True(t, ok)
	stats := root.Stats(fspath.New("/"))
	assert.EqualValues(t, 1, stats.Node.Sync)
	assert.EqualValues(t, 2, stats.Node.Nodes)
}

func TestBuildRecursesOneSidedOnKindMismatch(t *testing.T) {
	ctx := t.Context()

	local := localfs.New(t.TempDir(), nil)
	require.NoError(t, writeLocalFile(ctx, local, "/x", "content"))

	remoteBackend := localcloud.New(t.TempDir())
	dir, err := remoteBackend.Mkdir(ctx, "", "x", false)
	require.NoError(t, err)
	_, err = remoteBackend.CreateFile(ctx, dir.Id, "nested.txt", strings.NewReader("n"), 1, 0, nil)
	require.NoError(t, err)

	remote := metacache.New(remoteBackend, nil)
	require.NoError(t, remote.Enumerate(ctx))

	tr, err := Build(ctx, local, remote, nil)
	require.NoError(t, err)

	// Local has a file at /x, remote has a directory at /x: the two sides
	// disagree on kind, so this is not a Sync/conflict pairing — it follows
	// the remote side (the one that is a directory) and its remote-only
	// child is still visited.
	n, ok := tr.Entry(fspath.New("/x"))
	require.True(t, ok)
	assert.False(t, n.Entry.IsConflict())
	assert.Equal(t, PresenceRemote, n.Entry.Presence)

	child, ok := tr.Entry(fspath.New("/x/nested.txt"))
	require.True(t, ok)
	assert.Equal(t, PresenceRemote, child.Entry.Presence)
}

func TestBuildRecursesIntoNestedDirectories(t *testing.T) {
	ctx := t.Context()

	local := localfs.New(t.TempDir(), nil)
	_, err := local.Mkdir(ctx, fspath.New("/docs"), false)
	require.NoError(t, err)
	require.NoError(t, writeLocalFile(ctx, local, "/docs/a.txt", "a"))

	remoteBackend := localcloud.New(t.TempDir())
	remote := metacache.New(remoteBackend, nil)
	require.NoError(t, remote.Enumerate(ctx))

	tr, err := Build(ctx, local, remote, nil)
	require.NoError(t, err)

	n, ok := tr.Entry(fspath.New("/docs/a.txt"))
	require.True(t, ok)
	assert.Equal(t, PresenceLocal, n.Entry.Presence)

	root, ok := tr.Entry(fspath.New("/"))
	require.True(t, ok)
	assert.EqualValues(t, 2, root.Stats(fspath.New("/")).Node.Nodes)
}
