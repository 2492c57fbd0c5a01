package resolver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/fsdata"
)

func TestDirectoryEditInsertExclusiveFailsOnCollision(t *testing.T) {
	dir := &fsdata.Directory{}
	current := fsdata.EncodeDirectory(dir)

	edit := &DirectoryEdit{Op: OpInsertExclusive, TargetName: "a", TargetType: fsdata.EntryTypeFile}
	next, err := edit.Resolve(current, current)
	require.NoError(t, err)

	_, err = edit.Resolve(current, next)
	require.Error(t, err)
	require.IsType(t, &ErrAlreadyExists{}, err)
}

func TestDirectoryEditUpdateDropsOnConcurrentRemove(t *testing.T) {
	dir := &fsdata.Directory{}
	current := fsdata.EncodeDirectory(dir)

	update := &DirectoryEdit{Op: OpUpdate, TargetName: "gone", TargetType: fsdata.EntryTypeFile}
	next, err := update.Resolve(current, current)
	require.NoError(t, err)

	decoded, err := fsdata.DecodeDirectory(next)
	require.NoError(t, err)
	_, exists := decoded.Find("gone")
	require.False(t, exists, "update of a concurrently-removed name must be dropped, not resurrect it")
}

func TestDirectoryEditSquashableSameName(t *testing.T) {
	a := &DirectoryEdit{Op: OpInsert, TargetName: "x"}
	b := &DirectoryEdit{Op: OpRemove, TargetName: "x"}
	require.Equal(t, AtLastPositionContinue, a.Squashable(b))

	c := &DirectoryEdit{Op: OpInsert, TargetName: "y"}
	require.Equal(t, Skip, a.Squashable(c))
}

func TestInsertIsIdempotent(t *testing.T) {
	payload := []byte("frozen")
	ins := &Insert{Payload: payload}
	out, err := ins.Resolve(nil, []byte("whatever is currently there"))
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestMergeComposesInOrder(t *testing.T) {
	dir := &fsdata.Directory{}
	current := fsdata.EncodeDirectory(dir)

	insertA := &DirectoryEdit{Op: OpInsert, TargetName: "a", TargetAddr: block.Address{}}
	insertB := &DirectoryEdit{Op: OpInsert, TargetName: "b", TargetAddr: block.Address{}}
	merged := &Merge{First: insertA, Second: insertB}

	out, err := merged.Resolve(current, current)
	require.NoError(t, err)

	decoded, err := fsdata.DecodeDirectory(out)
	require.NoError(t, err)
	_, hasA := decoded.Find("a")
	_, hasB := decoded.Find("b")
	require.True(t, hasA)
	require.True(t, hasB)
}
