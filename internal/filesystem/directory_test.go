package filesystem

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silofs/silofs/internal/fsdata"
)

func TestCreateRootIsEmptyDirectory(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)

	entries, err := root.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMkdirAndLookup(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	child, err := root.Mkdir(ctx, "sub", 0o755)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), child.version)

	entries, err := root.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sub", entries[0].Name)
	assert.Equal(t, FileTypeDirectory, entries[0].Type)

	entry, ok := root.Lookup("sub")
	require.True(t, ok)
	assert.Equal(t, fsdata.EntryTypeDirectory, entry.Type)
	assert.Equal(t, child.addr, entry.Address)
}

func TestMkdirExclusiveRejectsDuplicate(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	_, err := root.Mkdir(ctx, "sub", 0o755)
	require.NoError(t, err)

	_, err = root.Mkdir(ctx, "sub", 0o755)
	assert.Error(t, err)
}

func TestCreateFileAndRemove(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	_, err := root.CreateFile(ctx, "f.txt", 0o644)
	require.NoError(t, err)

	_, ok := root.Lookup("f.txt")
	require.True(t, ok)

	require.NoError(t, root.Remove(ctx, "f.txt"))
	_, ok = root.Lookup("f.txt")
	assert.False(t, ok)
}

func TestRemoveNonexistentIsNotExist(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)

	err := root.Remove(context.Background(), "missing")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRenameMovesEntryBetweenDirectories(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	_, err := root.CreateFile(ctx, "a.txt", 0o644)
	require.NoError(t, err)
	dst, err := root.Mkdir(ctx, "dst", 0o755)
	require.NoError(t, err)

	require.NoError(t, root.Rename(ctx, "a.txt", dst, "b.txt"))

	_, ok := root.Lookup("a.txt")
	assert.False(t, ok)
	_, ok = dst.Lookup("b.txt")
	assert.True(t, ok)
}

func TestDirectoryChmodChownAndXattr(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	require.NoError(t, root.Chmod(ctx, 0o700))
	assert.Equal(t, uint32(0o700), root.data.Header.Mode)

	require.NoError(t, root.Chown(ctx, 42, 7))
	assert.Equal(t, uint32(42), root.data.Header.Uid)
	assert.Equal(t, uint32(7), root.data.Header.Gid)

	require.NoError(t, root.SetXattr(ctx, "user.note", []byte("hello")))
	v, ok := root.GetXattr("user.note")
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), v)
	assert.Contains(t, root.ListXattr(), "user.note")

	require.NoError(t, root.RemoveXattr(ctx, "user.note"))
	_, ok = root.GetXattr("user.note")
	assert.False(t, ok)
}

func TestSetInheritAuth(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	assert.False(t, root.data.InheritAuth)
	require.NoError(t, root.SetInheritAuth(ctx, true))
	assert.True(t, root.data.InheritAuth)
}

func TestOpenDirectoryRoundTrips(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	_, err := root.Mkdir(ctx, "sub", 0o755)
	require.NoError(t, err)

	reopened, err := fs.OpenDirectory(ctx, root.Address())
	require.NoError(t, err)
	entries, err := reopened.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "sub", entries[0].Name)
}
