package registry

import (
	"path/filepath"
	"strconv"
)

// Paths below mirror the on-disk layout exactly: one JSON file per entity,
// rooted under the registry's data root.

func networkPath(root, owner, name string) string {
	return filepath.Join(root, "networks", owner, name)
}

func linkedNetworkPath(root, user, owner, name string) string {
	return filepath.Join(root, "linked_networks", user, owner, name)
}

func passportPath(root, owner, network, user string) string {
	return filepath.Join(root, "passports", owner, network, user)
}

func userPath(root, name string) string {
	return filepath.Join(root, "users", name)
}

func siloPath(root, name string) string {
	return filepath.Join(root, "silos", name)
}

func volumePath(root, name string) string {
	return filepath.Join(root, "volumes", name)
}

func drivePath(root, name string) string {
	return filepath.Join(root, "drives", name)
}

func credentialPath(root, service, uid string) string {
	return filepath.Join(root, "credentials", service, uid)
}

func kvsPath(root, name string) string {
	return filepath.Join(root, "kvs", name)
}

// AsyncWritesDir returns the directory the async journal for network
// should spill pending writes under, for wiring into
// consensus.StackConfig.JournalDir.
func AsyncWritesDir(root, network string) string {
	return filepath.Join(root, "asynchronous-writes", network)
}

// AsyncWritePath returns the path of the n'th async-write journal entry
// for network. Entries are binary and named by a monotonically
// increasing index, matching internal/consensus's own journal spill
// file naming.
func AsyncWritePath(root, network string, n uint64) string {
	return filepath.Join(AsyncWritesDir(root, network), strconv.FormatUint(n, 10))
}

// BlockPath returns the path of a filesystem-silo blob for silo, keyed
// by its hex-encoded address. This is the layout internal/silo.FileSilo
// expects when rooted at filepath.Join(root, "blocks", silo).
func BlockPath(root, silo, addrHex string) string {
	return filepath.Join(root, "blocks", silo, addrHex)
}

// BlocksDir returns the root internal/silo.NewFileSilo should open for
// the named silo.
func BlocksDir(root, silo string) string {
	return filepath.Join(root, "blocks", silo)
}
