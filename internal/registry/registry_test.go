package registry

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGetNetworkRoundTrips(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	n := &Network{Owner: "alice", Name: "home", Silos: []string{"s1", "s2"}}
	require.NoError(t, r.CreateNetwork(n))

	got, err := r.GetNetwork("alice", "home")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, got.Silos)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestGetNetworkNotFound(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	_, err = r.GetNetwork("alice", "missing")
	assert.Error(t, err)
}

func TestListNetworksReturnsAllOwners(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateNetwork(&Network{Owner: "alice", Name: "home"}))
	require.NoError(t, r.CreateNetwork(&Network{Owner: "bob", Name: "work"}))

	all, err := r.ListNetworks()
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteNetworkRemovesFromIndexAndDisk(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateNetwork(&Network{Owner: "alice", Name: "home"}))
	require.NoError(t, r.DeleteNetwork("alice", "home"))

	_, err = r.GetNetwork("alice", "home")
	assert.Error(t, err)
}

func TestUserFileWrittenAtOwnerOnlyMode(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateUser(&User{Name: "alice", PublicKey: []byte{1, 2, 3}}))

	info, err := os.Stat(userPath(dir, "alice"))
	require.NoError(t, err)
	assert.Equal(t, "-rw-------", info.Mode().String())
}

func TestRebuildRepopulatesIndexFromJSONTree(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, r.CreateNetwork(&Network{Owner: "alice", Name: "home"}))
	require.NoError(t, r.CreatePassport(&Passport{Owner: "alice", Network: "home", User: "bob", IssuedAt: time.Now()}))
	require.NoError(t, r.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	require.NoError(t, reopened.Rebuild())

	n, err := reopened.GetNetwork("alice", "home")
	require.NoError(t, err)
	assert.Equal(t, "home", n.Name)

	p, err := reopened.GetPassport("alice", "home", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", p.User)
}

func TestLinkedNetworkAndCredentialCRUD(t *testing.T) {
	r, err := Open(t.TempDir())
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.CreateLinkedNetwork(&LinkedNetwork{User: "bob", Owner: "alice", Name: "home"}))
	links, err := r.ListLinkedNetworksForUser("bob")
	require.NoError(t, err)
	assert.Len(t, links, 1)

	require.NoError(t, r.CreateCredential(&Credential{Service: "s3", UID: "bob", Data: map[string]string{"key": "secret"}}))
	cred, err := r.GetCredential("s3", "bob")
	require.NoError(t, err)
	assert.Equal(t, "secret", cred.Data["key"])

	require.NoError(t, r.DeleteCredential("s3", "bob"))
	_, err = r.GetCredential("s3", "bob")
	assert.Error(t, err)
}
