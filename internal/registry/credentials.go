package registry

import (
	"os"
	"path/filepath"
)

func credentialKey(service, uid string) string { return service + "/" + uid }

// CreateCredential writes third-party backend credentials at mode 0600.
func (r *Registry) CreateCredential(c *Credential) error {
	if err := writeJSON(credentialPath(r.root, c.Service, c.UID), c, 0o600); err != nil {
		return err
	}
	return r.indexPut(bucketCredentials, credentialKey(c.Service, c.UID), c)
}

// GetCredential returns the credential for service/uid.
func (r *Registry) GetCredential(service, uid string) (*Credential, error) {
	var c Credential
	found, err := r.indexGet(bucketCredentials, credentialKey(service, uid), &c)
	if err != nil {
		return nil, err
	}
	if found {
		return &c, nil
	}
	if err := readJSON(credentialPath(r.root, service, uid), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCredentialsForService returns every credential registered for
// service.
func (r *Registry) ListCredentialsForService(service string) ([]*Credential, error) {
	var out []*Credential
	err := r.indexList(bucketCredentials, func(data []byte) error {
		c := &Credential{}
		if err := jsonUnmarshal(data, c); err != nil {
			return err
		}
		if c.Service == service {
			out = append(out, c)
		}
		return nil
	})
	return out, err
}

// UpdateCredential is an upsert alias for CreateCredential.
func (r *Registry) UpdateCredential(c *Credential) error { return r.CreateCredential(c) }

// DeleteCredential removes a credential.
func (r *Registry) DeleteCredential(service, uid string) error {
	if err := os.Remove(credentialPath(r.root, service, uid)); err != nil && !os.IsNotExist(err) {
		return ioErr("delete credential", err)
	}
	return r.indexDelete(bucketCredentials, credentialKey(service, uid))
}

func (r *Registry) rebuildCredentials() error {
	root := filepath.Join(r.root, "credentials")
	return walkLeaves(root, 2, func(rel []string, path string) error {
		var c Credential
		if err := readJSON(path, &c); err != nil {
			return err
		}
		return r.indexPut(bucketCredentials, credentialKey(rel[0], rel[1]), &c)
	})
}
