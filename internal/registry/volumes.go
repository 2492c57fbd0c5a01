package registry

import (
	"os"
	"path/filepath"
)

// CreateVolume writes a volume configuration.
func (r *Registry) CreateVolume(v *Volume) error {
	if err := writeJSON(volumePath(r.root, v.Name), v, 0o644); err != nil {
		return err
	}
	return r.indexPut(bucketVolumes, v.Name, v)
}

// GetVolume returns the named volume's configuration.
func (r *Registry) GetVolume(name string) (*Volume, error) {
	var v Volume
	found, err := r.indexGet(bucketVolumes, name, &v)
	if err != nil {
		return nil, err
	}
	if found {
		return &v, nil
	}
	if err := readJSON(volumePath(r.root, name), &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// ListVolumes returns every configured volume.
func (r *Registry) ListVolumes() ([]*Volume, error) {
	var out []*Volume
	err := r.indexList(bucketVolumes, func(data []byte) error {
		v := &Volume{}
		if err := jsonUnmarshal(data, v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// UpdateVolume is an upsert alias for CreateVolume.
func (r *Registry) UpdateVolume(v *Volume) error { return r.CreateVolume(v) }

// DeleteVolume removes a volume configuration.
func (r *Registry) DeleteVolume(name string) error {
	if err := os.Remove(volumePath(r.root, name)); err != nil && !os.IsNotExist(err) {
		return ioErr("delete volume", err)
	}
	return r.indexDelete(bucketVolumes, name)
}

func (r *Registry) rebuildVolumes() error {
	root := filepath.Join(r.root, "volumes")
	return walkLeaves(root, 1, func(rel []string, path string) error {
		var v Volume
		if err := readJSON(path, &v); err != nil {
			return err
		}
		return r.indexPut(bucketVolumes, rel[0], &v)
	})
}
