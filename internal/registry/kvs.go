package registry

import (
	"os"
	"path/filepath"
)

// CreateKVS writes a key-value store configuration.
func (r *Registry) CreateKVS(k *KVS) error {
	if err := writeJSON(kvsPath(r.root, k.Name), k, 0o644); err != nil {
		return err
	}
	return r.indexPut(bucketKVS, k.Name, k)
}

// GetKVS returns the named key-value store configuration.
func (r *Registry) GetKVS(name string) (*KVS, error) {
	var k KVS
	found, err := r.indexGet(bucketKVS, name, &k)
	if err != nil {
		return nil, err
	}
	if found {
		return &k, nil
	}
	if err := readJSON(kvsPath(r.root, name), &k); err != nil {
		return nil, err
	}
	return &k, nil
}

// ListKVS returns every configured key-value store.
func (r *Registry) ListKVS() ([]*KVS, error) {
	var out []*KVS
	err := r.indexList(bucketKVS, func(data []byte) error {
		k := &KVS{}
		if err := jsonUnmarshal(data, k); err != nil {
			return err
		}
		out = append(out, k)
		return nil
	})
	return out, err
}

// UpdateKVS is an upsert alias for CreateKVS.
func (r *Registry) UpdateKVS(k *KVS) error { return r.CreateKVS(k) }

// DeleteKVS removes a key-value store configuration.
func (r *Registry) DeleteKVS(name string) error {
	if err := os.Remove(kvsPath(r.root, name)); err != nil && !os.IsNotExist(err) {
		return ioErr("delete kvs", err)
	}
	return r.indexDelete(bucketKVS, name)
}

func (r *Registry) rebuildKVS() error {
	root := filepath.Join(r.root, "kvs")
	return walkLeaves(root, 1, func(rel []string, path string) error {
		var k KVS
		if err := readJSON(path, &k); err != nil {
			return err
		}
		return r.indexPut(bucketKVS, rel[0], &k)
	})
}
