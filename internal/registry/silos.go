package registry

import (
	"os"
	"path/filepath"
	"time"
)

// CreateSilo writes a silo configuration.
func (r *Registry) CreateSilo(s *SiloConfig) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	if err := writeJSON(siloPath(r.root, s.Name), s, 0o644); err != nil {
		return err
	}
	return r.indexPut(bucketSilos, s.Name, s)
}

// GetSilo returns the configuration for the named silo.
func (r *Registry) GetSilo(name string) (*SiloConfig, error) {
	var s SiloConfig
	found, err := r.indexGet(bucketSilos, name, &s)
	if err != nil {
		return nil, err
	}
	if found {
		return &s, nil
	}
	if err := readJSON(siloPath(r.root, name), &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSilos returns every configured silo.
func (r *Registry) ListSilos() ([]*SiloConfig, error) {
	var out []*SiloConfig
	err := r.indexList(bucketSilos, func(data []byte) error {
		s := &SiloConfig{}
		if err := jsonUnmarshal(data, s); err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

// UpdateSilo is an upsert alias for CreateSilo.
func (r *Registry) UpdateSilo(s *SiloConfig) error { return r.CreateSilo(s) }

// DeleteSilo removes a silo configuration.
func (r *Registry) DeleteSilo(name string) error {
	if err := os.Remove(siloPath(r.root, name)); err != nil && !os.IsNotExist(err) {
		return ioErr("delete silo", err)
	}
	return r.indexDelete(bucketSilos, name)
}

func (r *Registry) rebuildSilos() error {
	root := filepath.Join(r.root, "silos")
	return walkLeaves(root, 1, func(rel []string, path string) error {
		var s SiloConfig
		if err := readJSON(path, &s); err != nil {
			return err
		}
		return r.indexPut(bucketSilos, rel[0], &s)
	})
}
