package registry

import (
	"os"
	"path/filepath"
	"time"
)

// CreateUser writes a user identity file at mode 0600, since it may
// carry a private signing key.
func (r *Registry) CreateUser(u *User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	if err := writeJSON(userPath(r.root, u.Name), u, 0o600); err != nil {
		return err
	}
	return r.indexPut(bucketUsers, u.Name, u)
}

// GetUser returns the identity stored under name.
func (r *Registry) GetUser(name string) (*User, error) {
	var u User
	found, err := r.indexGet(bucketUsers, name, &u)
	if err != nil {
		return nil, err
	}
	if found {
		return &u, nil
	}
	if err := readJSON(userPath(r.root, name), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns every known local identity.
func (r *Registry) ListUsers() ([]*User, error) {
	var out []*User
	err := r.indexList(bucketUsers, func(data []byte) error {
		u := &User{}
		if err := jsonUnmarshal(data, u); err != nil {
			return err
		}
		out = append(out, u)
		return nil
	})
	return out, err
}

// UpdateUser is an upsert alias for CreateUser.
func (r *Registry) UpdateUser(u *User) error { return r.CreateUser(u) }

// DeleteUser removes a user identity.
func (r *Registry) DeleteUser(name string) error {
	if err := os.Remove(userPath(r.root, name)); err != nil && !os.IsNotExist(err) {
		return ioErr("delete user", err)
	}
	return r.indexDelete(bucketUsers, name)
}

func (r *Registry) rebuildUsers() error {
	root := filepath.Join(r.root, "users")
	return walkLeaves(root, 1, func(rel []string, path string) error {
		var u User
		if err := readJSON(path, &u); err != nil {
			return err
		}
		return r.indexPut(bucketUsers, rel[0], &u)
	})
}
