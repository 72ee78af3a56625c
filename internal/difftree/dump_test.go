package difftree

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fsync/internal/fspath"
	"github.com/tonimelisma/fsync/internal/metadata"
)

func TestDumpIncludesPresenceTagsAndIndentation(t *testing.T) {
	tr := New(nil)

	dir := fspath.New("/a")
	require.NoError(t, tr.Insert(dir, Node{Entry: Entry{Presence: PresenceLocal, Local: metadata.NewDirectory(dir)}}))

	file := fspath.New("/a/b.txt")
	require.NoError(t, tr.Insert(file, Node{Entry: Entry{Presence: PresenceLocal, Local: metadata.NewFile(file, 1, time.Unix(0, 0))}}))

	out := tr.String()

	assert.True(t, strings.Contains(out, "S /"))
	assert.True(t, strings.Contains(out, "L /a"))
	assert.True(t, strings.Contains(out, "  L /a/b.txt"))
}

func TestDumpMarksConflictWithCTag(t *testing.T) {
	tr := New(nil)

	path := fspath.New("/x.txt")
	local := metadata.NewFile(path, 5, time.Unix(100, 0))
	remote := metadata.NewFile(path, 9, time.Unix(100, 0))
	require.NoError(t, tr.Insert(path, Node{Entry: Entry{
		Presence: PresenceSync,
		Local:    local,
		Remote:   remote,
		Conflict: metadata.DetectConflict(local, remote),
	}}))

	out := tr.String()
	assert.True(t, strings.Contains(out, "C /x.txt"))
}
