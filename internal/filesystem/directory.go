package filesystem

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/consensus"
	"github.com/silofs/silofs/internal/fsdata"
	"github.com/silofs/silofs/internal/resolver"
	"github.com/silofs/silofs/pkg/crypto"
)

// Directory is a handle to one directory's current, locally-cached view.
// Every mutating method commits through Filesystem.applyEdit and updates
// this view to match what was actually stored, so a caller that keeps the
// handle across calls always sees its own writes. Filesystem.cache shares
// a single Directory instance across every caller that opens the same
// address, so mu guards data/version the same way FileBuffer guards its
// own fields.
type Directory struct {
	fs     *Filesystem
	addr   block.Address
	salt   [32]byte
	aclRef block.Address

	mu      sync.Mutex
	version uint32
	data    *fsdata.Directory
}

// Address is the content address of this directory's current ACB.
func (d *Directory) Address() block.Address { return d.addr }

// Stat returns the directory's POSIX metadata.
func (d *Directory) Stat() FileInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	h := d.data.Header
	return FileInfo{
		Mode_:    os.FileMode(h.Mode) | os.ModeDir,
		ModTime_: time.Unix(0, h.Mtime),
		IsDir_:   true,
		Uid:      h.Uid,
		Gid:      h.Gid,
	}
}

// List returns every entry currently in the directory.
func (d *Directory) List(ctx context.Context) ([]DirEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]DirEntry, 0, len(d.data.Entries))
	for _, e := range d.data.Entries {
		out = append(out, DirEntry{Name: e.Name, Type: fsEntryType(e.Type), Address: e.Address.String()})
	}
	return out, nil
}

// Lookup resolves name to its directory entry.
func (d *Directory) Lookup(name string) (fsdata.DirEntry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.data.Find(name)
}

func fsEntryType(t fsdata.EntryType) FileType {
	switch t {
	case fsdata.EntryTypeDirectory:
		return FileTypeDirectory
	case fsdata.EntryTypeSymlink:
		return FileTypeSymlink
	default:
		return FileTypeRegular
	}
}

// Mkdir creates an empty child directory named name, owned by fs's
// identity, and links it into d. Returns ErrExist if name is already
// taken.
func (d *Directory) Mkdir(ctx context.Context, name string, mode uint32) (*Directory, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, ErrIO("mkdir", name, err)
	}
	addr := block.DeriveMutableAddress(d.fs.identity.Public, salt, false)

	aclRef, err := d.fs.storeEmptyACL(ctx)
	if err != nil {
		return nil, ErrIO("mkdir", name, err)
	}

	d.mu.Lock()
	uid, gid := d.data.Header.Uid, d.data.Header.Gid
	d.mu.Unlock()

	now := time.Now().UnixNano()
	child := &fsdata.Directory{Header: fsdata.Header{Uid: uid, Gid: gid, Mode: mode, Atime: now, Mtime: now, Ctime: now}}
	raw, err := d.fs.encodeOwnerACB(addr, salt, 1, aclRef, fsdata.EncodeDirectory(child))
	if err != nil {
		return nil, ErrIO("mkdir", name, err)
	}
	if err := d.fs.cs.Store(ctx, addr, raw, consensus.ModeInsert, nil); err != nil {
		return nil, ErrIO("mkdir", name, err)
	}

	edit := &resolver.DirectoryEdit{Op: resolver.OpInsertExclusive, TargetName: name, TargetType: fsdata.EntryTypeDirectory, TargetAddr: addr}
	if err := d.commit(ctx, edit, name); err != nil {
		return nil, err
	}
	handle := &Directory{fs: d.fs, addr: addr, salt: salt, aclRef: aclRef, version: 1, data: child}
	d.fs.cache.put(addr.String(), handle, int64(len(fsdata.EncodeDirectory(child))))
	return handle, nil
}

// CreateFile creates an empty regular file named name and links it into d.
func (d *Directory) CreateFile(ctx context.Context, name string, mode uint32) (*FileBuffer, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, ErrIO("create", name, err)
	}
	addr := block.DeriveMutableAddress(d.fs.identity.Public, salt, false)

	aclRef, err := d.fs.storeEmptyACL(ctx)
	if err != nil {
		return nil, ErrIO("create", name, err)
	}

	d.mu.Lock()
	uid, gid := d.data.Header.Uid, d.data.Header.Gid
	d.mu.Unlock()

	now := time.Now().UnixNano()
	f := &fsdata.File{Header: fsdata.Header{Uid: uid, Gid: gid, Mode: mode, Atime: now, Mtime: now, Ctime: now}, BlockSize: d.fs.cfg.BlockSize}
	raw, err := d.fs.encodeOwnerACB(addr, salt, 1, aclRef, fsdata.EncodeFile(f))
	if err != nil {
		return nil, ErrIO("create", name, err)
	}
	if err := d.fs.cs.Store(ctx, addr, raw, consensus.ModeInsert, nil); err != nil {
		return nil, ErrIO("create", name, err)
	}

	edit := &resolver.DirectoryEdit{Op: resolver.OpInsertExclusive, TargetName: name, TargetType: fsdata.EntryTypeFile, TargetAddr: addr}
	if err := d.commit(ctx, edit, name); err != nil {
		return nil, err
	}
	fb := newFileBuffer(d.fs, addr, salt, aclRef, 1, f)
	d.fs.cache.put(addr.String(), fb, int64(len(fsdata.EncodeFile(f))))
	return fb, nil
}

// Remove unlinks name from d. It does not recurse into or delete a
// directory's own blocks; callers (the FUSE layer) are expected to refuse
// rmdir on a non-empty directory before calling this.
func (d *Directory) Remove(ctx context.Context, name string) error {
	d.mu.Lock()
	entry, ok := d.data.Find(name)
	d.mu.Unlock()
	if !ok {
		return ErrNotExist("remove", name)
	}
	edit := &resolver.DirectoryEdit{Op: resolver.OpRemove, TargetName: name}
	if err := d.commit(ctx, edit, name); err != nil {
		return err
	}
	d.fs.cache.invalidate(entry.Address.String())
	return nil
}

// Rename moves the entry named oldName in d to newName in dst, replacing
// any existing entry at newName. This is not atomic across the two
// directories: a crash between the two commits can leave the entry linked
// in both places. Nothing reconciles that; the fsck.check xattr (see
// xattr.go) reports only entries whose target block is missing.
func (d *Directory) Rename(ctx context.Context, oldName string, dst *Directory, newName string) error {
	d.mu.Lock()
	entry, ok := d.data.Find(oldName)
	d.mu.Unlock()
	if !ok {
		return ErrNotExist("rename", oldName)
	}
	insert := &resolver.DirectoryEdit{Op: resolver.OpInsert, TargetName: newName, TargetType: entry.Type, TargetAddr: entry.Address}
	if err := dst.commit(ctx, insert, newName); err != nil {
		return err
	}
	remove := &resolver.DirectoryEdit{Op: resolver.OpRemove, TargetName: oldName}
	return d.commit(ctx, remove, oldName)
}

// SetInheritAuth toggles whether children created under d inherit its ACL.
func (d *Directory) SetInheritAuth(ctx context.Context, inherit bool) error {
	edit := &resolver.PermissionsEdit{SetInheritAuth: true, InheritAuth: inherit}
	return d.commit(ctx, edit, "")
}

// Chmod/Chown/Utimens/SetXattr/RemoveXattr all submit a HeaderEdit; see
// internal/resolver/header_edit.go.

func (d *Directory) Chmod(ctx context.Context, mode uint32) error {
	return d.commit(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadDirectory, SetMode: true, Mode: mode}, "")
}

func (d *Directory) Chown(ctx context.Context, uid, gid uint32) error {
	return d.commit(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadDirectory, SetUid: true, Uid: uid, SetGid: true, Gid: gid}, "")
}

func (d *Directory) Utimens(ctx context.Context, atime, mtime int64) error {
	return d.commit(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadDirectory, SetAtime: true, Atime: atime, SetMtime: true, Mtime: mtime}, "")
}

func (d *Directory) SetXattr(ctx context.Context, name string, value []byte) error {
	return d.commit(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadDirectory, SetXattrs: map[string][]byte{name: value}}, name)
}

func (d *Directory) RemoveXattr(ctx context.Context, name string) error {
	return d.commit(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadDirectory, DeleteXattrs: []string{name}}, name)
}

func (d *Directory) GetXattr(name string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.data.Header.Xattrs[name]
	return v, ok
}

func (d *Directory) ListXattr() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.data.Header.Xattrs))
	for k := range d.data.Header.Xattrs {
		names = append(names, k)
	}
	return names
}

// commit applies edit to d's current plaintext, resubmits through the
// filesystem's optimistic-concurrency loop, and refreshes d's cached view
// on success. Held across the whole round trip (including the network
// calls inside applyEdit) so two commits racing on the same shared handle
// serialize instead of interleaving reads of half-updated state.
func (d *Directory) commit(ctx context.Context, edit resolver.Resolver, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	currentPlain := fsdata.EncodeDirectory(d.data)
	newVersion, newPlain, err := d.fs.applyEdit(ctx, d.addr, d.salt, d.aclRef, d.version, currentPlain, edit, path)
	if err != nil {
		return err
	}
	dir, err := fsdata.DecodeDirectory(newPlain)
	if err != nil {
		return ErrIO("commit", path, err)
	}
	d.data = dir
	d.version = newVersion
	return nil
}
