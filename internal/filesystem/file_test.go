package filesystem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileInlineWriteReadRoundTrip(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	f, err := root.CreateFile(ctx, "small.txt", 0o644)
	require.NoError(t, err)

	payload := []byte("hello, silofs")
	n, err := f.WriteAt(ctx, payload, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	require.NoError(t, f.Commit(ctx))

	buf := make([]byte, len(payload))
	n, err = f.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, buf)
}

func TestFileWriteBeyondEmbedUsesChunks(t *testing.T) {
	fs := newTestFilesystem(t)
	fs.cfg.MaxEmbedSize = 16
	fs.cfg.BlockSize = 8
	root := mustRoot(t, fs)
	ctx := context.Background()

	f, err := root.CreateFile(ctx, "big.bin", 0o644)
	require.NoError(t, err)

	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i)
	}
	_, err = f.WriteAt(ctx, data, 0)
	require.NoError(t, err)
	require.NoError(t, f.Commit(ctx))
	assert.NotEmpty(t, f.data.FAT)

	readBack := make([]byte, len(data))
	n, err := f.ReadAt(ctx, readBack, 0)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, data, readBack)
}

func TestFileReadOfHoleReturnsZeros(t *testing.T) {
	fs := newTestFilesystem(t)
	fs.cfg.MaxEmbedSize = 4
	fs.cfg.BlockSize = 4
	root := mustRoot(t, fs)
	ctx := context.Background()

	f, err := root.CreateFile(ctx, "sparse.bin", 0o644)
	require.NoError(t, err)

	// Write only the third chunk (offset 8), leaving the first two holes;
	// the read below covers the second.
	_, err = f.WriteAt(ctx, []byte{1, 2, 3, 4}, 8)
	require.NoError(t, err)
	require.NoError(t, f.Commit(ctx))

	buf := make([]byte, 4)
	_, err = f.ReadAt(ctx, buf, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestFileTruncateShrinkReleasesChunks(t *testing.T) {
	fs := newTestFilesystem(t)
	fs.cfg.MaxEmbedSize = 4
	fs.cfg.BlockSize = 4
	root := mustRoot(t, fs)
	ctx := context.Background()

	f, err := root.CreateFile(ctx, "f.bin", 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, []byte{1, 2, 3, 4, 5, 6, 7, 8}, 0)
	require.NoError(t, err)
	require.NoError(t, f.Commit(ctx))
	require.Len(t, f.data.FAT, 2)

	require.NoError(t, f.Truncate(ctx, 0))
	require.NoError(t, f.Commit(ctx))

	assert.Equal(t, uint64(0), f.data.Size)
	assert.Empty(t, f.data.FAT)
}

func TestFileTruncateGrowLeavesHole(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	f, err := root.CreateFile(ctx, "f.bin", 0o644)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(ctx, 100))
	assert.Equal(t, uint64(100), f.data.Size)

	buf := make([]byte, 10)
	n, err := f.ReadAt(ctx, buf, 50)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, make([]byte, 10), buf)
}

func TestFileChmodPreservesData(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	f, err := root.CreateFile(ctx, "f.txt", 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, []byte("payload"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Commit(ctx))

	require.NoError(t, f.Chmod(ctx, 0o600))
	assert.Equal(t, uint32(0o600), f.data.Header.Mode)

	buf := make([]byte, len("payload"))
	_, err = f.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
}

func TestFileSetAndRemoveXattr(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	f, err := root.CreateFile(ctx, "f.txt", 0o644)
	require.NoError(t, err)

	require.NoError(t, f.SetXattr(ctx, "user.tag", []byte("v1")))
	v, ok := f.GetXattr("user.tag")
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, f.RemoveXattr(ctx, "user.tag"))
	_, ok = f.GetXattr("user.tag")
	assert.False(t, ok)
}

func TestOpenFileRoundTrips(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	f, err := root.CreateFile(ctx, "f.txt", 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt(ctx, []byte("persisted"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Commit(ctx))

	reopened, err := fs.OpenFile(ctx, f.Address())
	require.NoError(t, err)
	buf := make([]byte, len("persisted"))
	_, err = reopened.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "persisted", string(buf))
}
