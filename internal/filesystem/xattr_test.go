package filesystem

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthOthersXattrTogglesWorldPermissionBit(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	require.NoError(t, root.Chmod(ctx, 0o750))
	require.NoError(t, fs.HandleSetXattr(ctx, root, xattrAuthOthers, []byte{1}))
	assert.Equal(t, uint32(0o756), root.data.Header.Mode)

	require.NoError(t, fs.HandleSetXattr(ctx, root, xattrAuthOthers, []byte{0}))
	assert.Equal(t, uint32(0o750), root.data.Header.Mode)
}

func TestAuthSetGrantsEditorAccess(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	editorPub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	hexKey := hex.EncodeToString(editorPub)

	require.NoError(t, fs.HandleSetXattr(ctx, root, "auth.setrw", []byte(hexKey)))

	acl, err := fs.lookupACL(ctx, root.aclRef)
	require.NoError(t, err)
	require.Len(t, acl.Entries, 1)
	assert.Equal(t, []byte(editorPub), []byte(acl.Entries[0].UserKey))
	assert.True(t, acl.Entries[0].Read)
	assert.True(t, acl.Entries[0].Write)

	require.NoError(t, fs.HandleSetXattr(ctx, root, xattrAuthClear, []byte(hexKey)))
	acl, err = fs.lookupACL(ctx, root.aclRef)
	require.NoError(t, err)
	assert.Empty(t, acl.Entries)
}

func TestAuthSetRejectsMalformedKey(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	err := fs.HandleSetXattr(ctx, root, "auth.setr", []byte("not-hex!!"))
	assert.Error(t, err)
}

func TestBlockOfAndFsckXattrIntrospection(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	child, err := root.Mkdir(ctx, "sub", 0o755)
	require.NoError(t, err)

	addr, err := root.BlockOf("sub")
	require.NoError(t, err)
	assert.Equal(t, child.Address().String(), addr)

	isBlockOf, name := ParseXattrIntrospection("blockof.sub")
	assert.True(t, isBlockOf)
	assert.Equal(t, "sub", name)

	report, err := fs.Fsck(ctx, root)
	require.NoError(t, err)
	assert.Empty(t, report.Missing)
}

func TestHandleGetXattrDispatchesIntrospection(t *testing.T) {
	fs := newTestFilesystem(t)
	root := mustRoot(t, fs)
	ctx := context.Background()

	_, err := root.Mkdir(ctx, "sub", 0o755)
	require.NoError(t, err)

	v, ok, err := root.HandleGetXattr(ctx, xattrBlock)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, root.addr.String(), string(v))

	v, ok, err = root.HandleGetXattr(ctx, "blockof.sub")
	require.NoError(t, err)
	require.True(t, ok)
	entry, _ := root.Lookup("sub")
	assert.Equal(t, entry.Address.String(), string(v))
}
