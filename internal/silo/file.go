package silo

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/silofs/silofs/internal/log"
)

// FileSilo is a local-filesystem-backed Silo. Each key is stored as its own
// file under root; writes go to a temp file in the same directory followed
// by a rename, so a crash mid-write never leaves a torn blob in place.
type FileSilo struct {
	root string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewFileSilo opens (creating if necessary) a filesystem silo rooted at dir.
func NewFileSilo(dir string) (*FileSilo, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &FileSilo{
		root:  dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (f *FileSilo) path(key string) string {
	return filepath.Join(f.root, key)
}

func (f *FileSilo) lockFor(key string) *sync.Mutex {
	f.locksMu.Lock()
	defer f.locksMu.Unlock()
	l, ok := f.locks[key]
	if !ok {
		l = &sync.Mutex{}
		f.locks[key] = l
	}
	return l
}

func (f *FileSilo) Get(ctx context.Context, key string) ([]byte, error) {
	l := f.lockFor(key)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(f.path(key))
	if os.IsNotExist(err) {
		return nil, ErrMissingKey
	}
	return data, err
}

func (f *FileSilo) Set(ctx context.Context, key string, data []byte, insert, update bool) (int64, error) {
	if !insert && !update {
		return 0, errInvalidSetFlags()
	}
	l := f.lockFor(key)
	l.Lock()
	defer l.Unlock()

	target := f.path(key)
	prevSize, err := fileSize(target)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	if exists && insert && !update {
		return 0, ErrCollision
	}
	if !exists && update && !insert {
		return 0, ErrMissingKey
	}

	tmp, err := os.CreateTemp(f.root, ".tmp-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return 0, err
	}

	log.WithComponent("silo.file").Debug().Str("key", key).Int("size", len(data)).Msg("blob written")
	return int64(len(data)) - prevSize, nil
}

func (f *FileSilo) Erase(ctx context.Context, key string) (int64, error) {
	l := f.lockFor(key)
	l.Lock()
	defer l.Unlock()

	target := f.path(key)
	size, err := fileSize(target)
	if os.IsNotExist(err) {
		return 0, ErrMissingKey
	}
	if err != nil {
		return 0, err
	}
	if err := os.Remove(target); err != nil {
		return 0, err
	}
	return -size, nil
}

func (f *FileSilo) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if len(name) > 0 && name[0] == '.' {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

func (f *FileSilo) Status(ctx context.Context, key string) Status {
	if _, err := os.Stat(f.path(key)); err != nil {
		if os.IsNotExist(err) {
			return StatusMissing
		}
		return StatusUnknown
	}
	return StatusExists
}

func (f *FileSilo) Capacity(ctx context.Context) (int64, int64, bool) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return 0, 0, false
	}
	var used int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if info, err := e.Info(); err == nil {
			used += info.Size()
		}
	}
	return 0, used, false
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
