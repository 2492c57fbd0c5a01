package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

func networkKey(owner, name string) string { return owner + "/" + name }

// CreateNetwork writes a new network descriptor. CreatedAt is stamped if
// zero.
func (r *Registry) CreateNetwork(n *Network) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	if err := writeJSON(networkPath(r.root, n.Owner, n.Name), n, 0o644); err != nil {
		return err
	}
	return r.indexPut(bucketNetworks, networkKey(n.Owner, n.Name), n)
}

// GetNetwork returns the network descriptor for owner/name, consulting
// the index first and falling back to the JSON file if the index
// lookup misses (e.g. index was rebuilt concurrently with a write).
func (r *Registry) GetNetwork(owner, name string) (*Network, error) {
	var n Network
	found, err := r.indexGet(bucketNetworks, networkKey(owner, name), &n)
	if err != nil {
		return nil, err
	}
	if found {
		return &n, nil
	}
	if err := readJSON(networkPath(r.root, owner, name), &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ListNetworks returns every known network, owned by any user.
func (r *Registry) ListNetworks() ([]*Network, error) {
	var out []*Network
	err := r.indexList(bucketNetworks, func(data []byte) error {
		n := &Network{}
		if err := jsonUnmarshal(data, n); err != nil {
			return err
		}
		out = append(out, n)
		return nil
	})
	return out, err
}

// UpdateNetwork is an alias for CreateNetwork: both are upserts keyed by
// owner/name.
func (r *Registry) UpdateNetwork(n *Network) error { return r.CreateNetwork(n) }

// DeleteNetwork removes a network's descriptor and index entry.
func (r *Registry) DeleteNetwork(owner, name string) error {
	if err := os.Remove(networkPath(r.root, owner, name)); err != nil && !os.IsNotExist(err) {
		return ioErr("delete network", err)
	}
	return r.indexDelete(bucketNetworks, networkKey(owner, name))
}

func (r *Registry) rebuildNetworks() error {
	root := filepath.Join(r.root, "networks")
	return walkLeaves(root, 2, func(rel []string, path string) error {
		var n Network
		if err := readJSON(path, &n); err != nil {
			return fmt.Errorf("rebuild network %s: %w", path, err)
		}
		return r.indexPut(bucketNetworks, networkKey(rel[0], rel[1]), &n)
	})
}
