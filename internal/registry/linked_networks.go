package registry

import (
	"os"
	"path/filepath"
	"time"
)

func linkedNetworkKey(user, owner, name string) string { return user + "/" + owner + "/" + name }

// CreateLinkedNetwork records that user has joined owner/name.
func (r *Registry) CreateLinkedNetwork(ln *LinkedNetwork) error {
	if ln.LinkedAt.IsZero() {
		ln.LinkedAt = time.Now()
	}
	if err := writeJSON(linkedNetworkPath(r.root, ln.User, ln.Owner, ln.Name), ln, 0o644); err != nil {
		return err
	}
	return r.indexPut(bucketLinkedNetworks, linkedNetworkKey(ln.User, ln.Owner, ln.Name), ln)
}

// GetLinkedNetwork returns user's local record of owner/name.
func (r *Registry) GetLinkedNetwork(user, owner, name string) (*LinkedNetwork, error) {
	var ln LinkedNetwork
	found, err := r.indexGet(bucketLinkedNetworks, linkedNetworkKey(user, owner, name), &ln)
	if err != nil {
		return nil, err
	}
	if found {
		return &ln, nil
	}
	if err := readJSON(linkedNetworkPath(r.root, user, owner, name), &ln); err != nil {
		return nil, err
	}
	return &ln, nil
}

// ListLinkedNetworksForUser returns every network user has linked.
func (r *Registry) ListLinkedNetworksForUser(user string) ([]*LinkedNetwork, error) {
	var out []*LinkedNetwork
	err := r.indexList(bucketLinkedNetworks, func(data []byte) error {
		ln := &LinkedNetwork{}
		if err := jsonUnmarshal(data, ln); err != nil {
			return err
		}
		if ln.User == user {
			out = append(out, ln)
		}
		return nil
	})
	return out, err
}

// UpdateLinkedNetwork is an upsert alias for CreateLinkedNetwork.
func (r *Registry) UpdateLinkedNetwork(ln *LinkedNetwork) error { return r.CreateLinkedNetwork(ln) }

// DeleteLinkedNetwork unlinks user from owner/name.
func (r *Registry) DeleteLinkedNetwork(user, owner, name string) error {
	if err := os.Remove(linkedNetworkPath(r.root, user, owner, name)); err != nil && !os.IsNotExist(err) {
		return ioErr("delete linked network", err)
	}
	return r.indexDelete(bucketLinkedNetworks, linkedNetworkKey(user, owner, name))
}

func (r *Registry) rebuildLinkedNetworks() error {
	root := filepath.Join(r.root, "linked_networks")
	return walkLeaves(root, 3, func(rel []string, path string) error {
		var ln LinkedNetwork
		if err := readJSON(path, &ln); err != nil {
			return err
		}
		return r.indexPut(bucketLinkedNetworks, linkedNetworkKey(rel[0], rel[1], rel[2]), &ln)
	})
}
