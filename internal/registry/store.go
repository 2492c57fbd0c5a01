package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/silofs/silofs/internal/log"
	pkgerrors "github.com/silofs/silofs/pkg/errors"
)

var buckets = [][]byte{
	bucketNetworks,
	bucketLinkedNetworks,
	bucketPassports,
	bucketUsers,
	bucketSilos,
	bucketVolumes,
	bucketDrives,
	bucketCredentials,
	bucketKVS,
}

var (
	bucketNetworks       = []byte("networks")
	bucketLinkedNetworks = []byte("linked_networks")
	bucketPassports      = []byte("passports")
	bucketUsers          = []byte("users")
	bucketSilos          = []byte("silos")
	bucketVolumes        = []byte("volumes")
	bucketDrives         = []byte("drives")
	bucketCredentials    = []byte("credentials")
	bucketKVS            = []byte("kvs")
)

// Registry is the per-user data root: JSON files under root are the
// authoritative state; db is a derived bbolt index keyed by each
// entity's path (relative to root) for fast lookup and listing without
// a directory walk.
type Registry struct {
	root string
	db   *bolt.DB
}

// Open opens (creating if necessary) the registry rooted at dir, and
// rebuilds its bbolt index from the JSON tree if the index file is
// missing.
func Open(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, ioErr("open", err)
	}

	dbPath := filepath.Join(dir, "index.db")
	_, statErr := os.Stat(dbPath)
	needsRebuild := os.IsNotExist(statErr)

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, ioErr("open index", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, ioErr("create index buckets", err)
	}

	r := &Registry{root: dir, db: db}
	if needsRebuild {
		if err := r.Rebuild(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return r, nil
}

// Close closes the underlying index database. JSON state on disk is
// untouched.
func (r *Registry) Close() error {
	return r.db.Close()
}

// Rebuild repopulates the bbolt index from the JSON tree on disk,
// discarding whatever the index currently holds, since the JSON tree is
// the source of truth. Open calls it when index.db is missing; nothing
// in this package checks whether an existing index is stale.
func (r *Registry) Rebuild() error {
	log.WithComponent("registry").Info().Str("root", r.root).Msg("rebuilding index")

	if err := r.db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if err := tx.DeleteBucket(b); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(b); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return ioErr("reset index buckets", err)
	}

	rebuilders := []func() error{
		r.rebuildNetworks,
		r.rebuildLinkedNetworks,
		r.rebuildPassports,
		r.rebuildUsers,
		r.rebuildSilos,
		r.rebuildVolumes,
		r.rebuildDrives,
		r.rebuildCredentials,
		r.rebuildKVS,
	}
	for _, fn := range rebuilders {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// writeJSON marshals v and writes it to path via write-then-rename, so a
// crash mid-write never leaves a torn JSON file in place (same pattern
// as internal/silo.FileSilo.Set).
func writeJSON(path string, v interface{}, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return ioErr("mkdir", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ioErr("marshal", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return ioErr("create temp", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioErr("write", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return ioErr("sync", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return ioErr("close", err)
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		os.Remove(tmpName)
		return ioErr("chmod", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return ioErr("rename", err)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return pkgerrors.New(pkgerrors.ErrCodeNotFound, fmt.Sprintf("not found: %s", path)).WithComponent("registry")
	}
	if err != nil {
		return ioErr("read", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return ioErr("unmarshal", err)
	}
	return nil
}

func ioErr(op string, cause error) error {
	return pkgerrors.New(pkgerrors.ErrCodeIOError, cause.Error()).WithComponent("registry").WithOperation(op).WithCause(cause)
}

// indexPut upserts the JSON encoding of v into bucket under key.
func (r *Registry) indexPut(bucket []byte, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ioErr("marshal index entry", err)
	}
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (r *Registry) indexDelete(bucket []byte, key string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func (r *Registry) indexGet(bucket []byte, key string, v interface{}) (bool, error) {
	var found bool
	err := r.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

// indexList calls decode with every value stored in bucket, stopping at
// the first error decode returns.
func (r *Registry) indexList(bucket []byte, decode func(data []byte) error) error {
	return r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(_, v []byte) error {
			return decode(v)
		})
	})
}

func jsonUnmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// walkLeaves walks root, which the layout places entity files under at
// exactly depth path components below it (e.g. networks/<owner>/<name>
// has depth 2), and calls fn with those components and the leaf file's
// full path. A missing root is not an error: the bucket is simply left
// empty.
func walkLeaves(root string, depth int, fn func(rel []string, path string) error) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		components := strings.Split(filepath.ToSlash(relPath), "/")
		if len(components) != depth {
			return nil
		}
		return fn(components[:depth], path)
	})
}
