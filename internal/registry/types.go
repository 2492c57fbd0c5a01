// Package registry implements the on-disk layout of the platform's
// configuration and identity state: users, networks, linked networks,
// passports, silo/volume/drive configs, third-party credentials, and
// key-value store configs. JSON files under a per-user data root are the
// authoritative format; a bbolt-backed index accelerates lookups and
// listings. Open rebuilds the index from the JSON tree when the index file
// is missing; an existing index is not checked for staleness.
package registry

import "time"

// User is a local identity: a named signing key pair. PrivateKey is only
// populated for identities this data root actually owns; entries copied
// from elsewhere (e.g. a remote owner referenced by a LinkedNetwork) carry
// just the public half.
type User struct {
	Name       string    `json:"name"`
	PublicKey  []byte    `json:"public_key"`
	PrivateKey []byte    `json:"private_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Network is the descriptor an owner publishes for a network they
// control: its member silos and the admin keys consulted in addition to
// per-block ACLs (spec 4.6).
type Network struct {
	Owner          string    `json:"owner"`
	Name           string    `json:"name"`
	Silos          []string  `json:"silos"`
	AdminReadKeys  [][]byte  `json:"admin_read_keys,omitempty"`
	AdminWriteKeys [][]byte  `json:"admin_write_keys,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// LinkedNetwork is a user's local record of a network they've joined,
// including whatever private model (cached ACL state, last-known root
// address, etc.) they've accumulated locally.
type LinkedNetwork struct {
	User     string    `json:"user"`
	Owner    string    `json:"owner"`
	Name     string    `json:"name"`
	Model    []byte    `json:"model,omitempty"`
	LinkedAt time.Time `json:"linked_at"`
}

// Passport is an owner-signed certificate binding a user's key to a
// network (glossary: Passport).
type Passport struct {
	Owner     string    `json:"owner"`
	Network   string    `json:"network"`
	User      string    `json:"user"`
	UserKey   []byte    `json:"user_key"`
	Signature []byte    `json:"signature"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// SiloConfig names a silo kind (local filesystem, S3, Dropbox, GCS, ...)
// and its backend-specific parameters (spec 4.1).
type SiloConfig struct {
	Name      string            `json:"name"`
	Kind      string            `json:"kind"`
	Params    map[string]string `json:"params,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Volume exposes a network as a mountable filesystem rooted at a
// directory-block address.
type Volume struct {
	Name        string `json:"name"`
	Network     string `json:"network"`
	RootAddress string `json:"root_address"`
	ReadOnly    bool   `json:"read_only"`
}

// Drive is a local mount of a volume.
type Drive struct {
	Name       string `json:"name"`
	Volume     string `json:"volume"`
	MountPoint string `json:"mount_point"`
}

// Credential stores third-party backend credentials (S3 keys, Dropbox
// tokens, GCS service accounts) keyed by service and a service-specific
// user ID.
type Credential struct {
	Service string            `json:"service"`
	UID     string            `json:"uid"`
	Data    map[string]string `json:"data"`
}

// KVS is a key-value store configuration, usable as a lightweight
// sidecar store alongside a volume.
type KVS struct {
	Name   string            `json:"name"`
	Config map[string]string `json:"config,omitempty"`
}
