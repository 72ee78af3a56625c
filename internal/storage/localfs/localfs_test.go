package localfs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/fsync/internal/fserrors"
	"github.com/tonimelisma/fsync/internal/fspath"
)

func TestCreateReadDeleteRoundtrip(t *testing.T) {
	s := New(t.TempDir(), nil)
	ctx := t.Context()

	p := fspath.New("/hello.txt")
	md, err := s.CreateFile(ctx, p, bytes.NewReader([]byte("hi")), 2, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), md.Size())

	exists, err := s.Exists(ctx, p)
	require.NoError(t, err)
	assert.True(t, exists)

	r, err := s.ReadFile(ctx, p, nil)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	r.Close()
	assert.Equal(t, "hi", string(data))

	require.NoError(t, s.Delete(ctx, p, nil))

	exists, err = s.Exists(ctx, p)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCreateFileFailsIfExists(t *testing.T) {
	s := New(t.TempDir(), nil)
	ctx := t.Context()
	p := fspath.New("/f.txt")

	_, err := s.CreateFile(ctx, p, bytes.NewReader(nil), 0, 0, nil)
	require.NoError(t, err)

	_, err = s.CreateFile(ctx, p, bytes.NewReader(nil), 0, 0, nil)
	assert.Error(t, err)
}

func TestDeleteNonEmptyDirFails(t *testing.T) {
	s := New(t.TempDir(), nil)
	ctx := t.Context()

	dir := fspath.New("/d")
	_, err := s.Mkdir(ctx, dir, false)
	require.NoError(t, err)

	_, err = s.CreateFile(ctx, dir.Join("f.txt"), bytes.NewReader(nil), 0, 0, nil)
	require.NoError(t, err)

	err = s.Delete(ctx, dir, nil)
	assert.Error(t, err)
}

func TestDeleteMissingIsNotFound(t *testing.T) {
	s := New(t.TempDir(), nil)
	err := s.Delete(t.Context(), fspath.New("/nope"), nil)
	assert.True(t, fserrors.IsNotFound(err))
}

func TestCheckSymlinkTarget(t *testing.T) {
	cases := []struct {
		name    string
		link    string
		target  string
		wantErr bool
	}{
		{"same directory", "/dir/symlink", "actual_file", false},
		{"one level up cancels the link's own directory", "/dir/symlink", "../actual_file", false},
		{"up then sideways", "/dir/symlink", "../other_dir/actual_file", false},
		{"two levels up escapes the root", "/dir/symlink", "../../actual_file", true},
		{"absolute target", "/dir/symlink", "/etc/passwd", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := checkSymlinkTarget(fspath.New(tc.link), tc.target)
			if tc.wantErr {
				assert.True(t, errors.Is(err, fserrors.ErrIllegalSymlink))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDirEntriesRejectsSymlinkEscapingRoot(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)
	ctx := t.Context()

	_, err := s.Mkdir(ctx, fspath.New("/dir"), false)
	require.NoError(t, err)

	require.NoError(t, os.Symlink(filepath.Join("..", "..", "actual_file"), filepath.Join(root, "dir", "escape")))

	_, err = s.DirEntries(ctx, fspath.New("/dir"))
	assert.True(t, errors.Is(err, fserrors.ErrIllegalSymlink))
}

func TestDirEntriesAllowsSymlinkWithinRoot(t *testing.T) {
	root := t.TempDir()
	s := New(root, nil)
	ctx := t.Context()

	_, err := s.Mkdir(ctx, fspath.New("/dir"), false)
	require.NoError(t, err)

	require.NoError(t, os.Symlink(filepath.Join("..", "actual_file"), filepath.Join(root, "dir", "link")))

	entries, err := s.DirEntries(ctx, fspath.New("/dir"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].IsSymlink())
}
