package registry

import (
	"os"
	"path/filepath"
	"time"
)

func passportKey(owner, network, user string) string { return owner + "/" + network + "/" + user }

// CreatePassport issues (or overwrites) a passport binding user's key to
// owner/network.
func (r *Registry) CreatePassport(p *Passport) error {
	if p.IssuedAt.IsZero() {
		p.IssuedAt = time.Now()
	}
	if err := writeJSON(passportPath(r.root, p.Owner, p.Network, p.User), p, 0o644); err != nil {
		return err
	}
	return r.indexPut(bucketPassports, passportKey(p.Owner, p.Network, p.User), p)
}

// GetPassport returns the passport for user on owner/network.
func (r *Registry) GetPassport(owner, network, user string) (*Passport, error) {
	var p Passport
	found, err := r.indexGet(bucketPassports, passportKey(owner, network, user), &p)
	if err != nil {
		return nil, err
	}
	if found {
		return &p, nil
	}
	if err := readJSON(passportPath(r.root, owner, network, user), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPassportsForNetwork returns every passport issued for owner/network.
func (r *Registry) ListPassportsForNetwork(owner, network string) ([]*Passport, error) {
	var out []*Passport
	err := r.indexList(bucketPassports, func(data []byte) error {
		p := &Passport{}
		if err := jsonUnmarshal(data, p); err != nil {
			return err
		}
		if p.Owner == owner && p.Network == network {
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

// RevokePassport removes user's passport for owner/network.
func (r *Registry) RevokePassport(owner, network, user string) error {
	if err := os.Remove(passportPath(r.root, owner, network, user)); err != nil && !os.IsNotExist(err) {
		return ioErr("revoke passport", err)
	}
	return r.indexDelete(bucketPassports, passportKey(owner, network, user))
}

func (r *Registry) rebuildPassports() error {
	root := filepath.Join(r.root, "passports")
	return walkLeaves(root, 3, func(rel []string, path string) error {
		var p Passport
		if err := readJSON(path, &p); err != nil {
			return err
		}
		return r.indexPut(bucketPassports, passportKey(rel[0], rel[1], rel[2]), &p)
	})
}
