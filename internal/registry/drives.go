package registry

import (
	"os"
	"path/filepath"
)

// CreateDrive writes a drive (local mount of a volume).
func (r *Registry) CreateDrive(d *Drive) error {
	if err := writeJSON(drivePath(r.root, d.Name), d, 0o644); err != nil {
		return err
	}
	return r.indexPut(bucketDrives, d.Name, d)
}

// GetDrive returns the named drive.
func (r *Registry) GetDrive(name string) (*Drive, error) {
	var d Drive
	found, err := r.indexGet(bucketDrives, name, &d)
	if err != nil {
		return nil, err
	}
	if found {
		return &d, nil
	}
	if err := readJSON(drivePath(r.root, name), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDrives returns every configured drive.
func (r *Registry) ListDrives() ([]*Drive, error) {
	var out []*Drive
	err := r.indexList(bucketDrives, func(data []byte) error {
		d := &Drive{}
		if err := jsonUnmarshal(data, d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// UpdateDrive is an upsert alias for CreateDrive.
func (r *Registry) UpdateDrive(d *Drive) error { return r.CreateDrive(d) }

// DeleteDrive removes a drive.
func (r *Registry) DeleteDrive(name string) error {
	if err := os.Remove(drivePath(r.root, name)); err != nil && !os.IsNotExist(err) {
		return ioErr("delete drive", err)
	}
	return r.indexDelete(bucketDrives, name)
}

func (r *Registry) rebuildDrives() error {
	root := filepath.Join(r.root, "drives")
	return walkLeaves(root, 1, func(rel []string, path string) error {
		var d Drive
		if err := readJSON(path, &d); err != nil {
			return err
		}
		return r.indexPut(bucketDrives, rel[0], &d)
	})
}
