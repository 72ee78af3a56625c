package localcloud

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMkdirCreateFileReadRoundtrip(t *testing.T) {
	s := New(t.TempDir())
	ctx := t.Context()

	dir, err := s.Mkdir(ctx, "", "docs", false)
	require.NoError(t, err)
	assert.True(t, dir.Metadata.IsDir())

	f, err := s.CreateFile(ctx, dir.Id, "a.txt", bytes.NewReader([]byte("content")), 7, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(7), f.Metadata.Size())

	r, err := s.ReadFile(ctx, f.Id, nil)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "content", string(data))

	entries, err := s.DirEntries(ctx, dir.Id)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, f.Id, entries[0].Id)
}

func TestCreateFileDuplicateNameFails(t *testing.T) {
	s := New(t.TempDir())
	ctx := t.Context()

	_, err := s.CreateFile(ctx, "", "a.txt", bytes.NewReader(nil), 0, 0, nil)
	require.NoError(t, err)

	_, err = s.CreateFile(ctx, "", "a.txt", bytes.NewReader(nil), 0, 0, nil)
	assert.Error(t, err)
}

func TestDeleteNonEmptyDirFails(t *testing.T) {
	s := New(t.TempDir())
	ctx := t.Context()

	dir, err := s.Mkdir(ctx, "", "d", false)
	require.NoError(t, err)

	_, err = s.CreateFile(ctx, dir.Id, "a.txt", bytes.NewReader(nil), 0, 0, nil)
	require.NoError(t, err)

	err = s.Delete(ctx, dir.Id, nil)
	assert.Error(t, err)
}

func TestMoveEntryUpdatesParent(t *testing.T) {
	s := New(t.TempDir())
	ctx := t.Context()

	d1, err := s.Mkdir(ctx, "", "d1", false)
	require.NoError(t, err)
	d2, err := s.Mkdir(ctx, "", "d2", false)
	require.NoError(t, err)

	f, err := s.CreateFile(ctx, d1.Id, "a.txt", bytes.NewReader(nil), 0, 0, nil)
	require.NoError(t, err)

	_, err = s.MoveEntry(ctx, f.Id, d2.Id, "a.txt", nil)
	require.NoError(t, err)

	entries, err := s.DirEntries(ctx, d2.Id)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entries, err = s.DirEntries(ctx, d1.Id)
	require.NoError(t, err)
	assert.Len(t, entries, 0)
}
