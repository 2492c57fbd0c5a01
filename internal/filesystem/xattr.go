package filesystem

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"strings"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/consensus"
	"github.com/silofs/silofs/internal/fsdata"
)

// Extended attribute names are interpreted specially rather than stored
// verbatim: auth.* and auth_others reach into the node's ACL, block/sync/
// blockof.<name>/fsck.check are read-only introspection pseudo-attributes.
// Anything else is an ordinary user xattr stored in the node's Header.
const (
	xattrPrefixAuthSet = "auth.set" // auth.setr / auth.setw / auth.setrw <hex-pubkey>
	xattrAuthClear     = "auth.clear"
	xattrAuthOthers    = "auth_others"
	xattrBlock         = "block"
	xattrSync          = "sync"
	xattrBlockOfPrefix = "blockof."
	xattrFsckCheck     = "fsck.check"
)

// aclRewriter is implemented by Directory and FileBuffer: anything whose
// permission is governed by an ACBPayload's ACLRef.
type aclRewriter interface {
	currentACLRef() block.Address
	rewriteACLRef(ctx context.Context, newACLRef block.Address) error
}

func (d *Directory) currentACLRef() block.Address { return d.aclRef }

func (d *Directory) rewriteACLRef(ctx context.Context, newACLRef block.Address) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, payload, err := d.fs.fetchACB(ctx, d.addr, nil)
	if err != nil {
		return err
	}
	curPlain, err := d.fs.openACB(payload)
	if err != nil {
		return ErrIO("setxattr", d.addr.String(), err)
	}
	raw, err := d.fs.encodeOwnerACB(d.addr, d.salt, payload.Version+1, newACLRef, curPlain)
	if err != nil {
		return ErrIO("setxattr", d.addr.String(), err)
	}
	if err := d.fs.cs.Store(ctx, d.addr, raw, consensus.ModeUpdate, nil); err != nil {
		return ErrIO("setxattr", d.addr.String(), err)
	}
	dir, err := fsdata.DecodeDirectory(curPlain)
	if err != nil {
		return ErrIO("setxattr", d.addr.String(), err)
	}
	d.data = dir
	d.version = payload.Version + 1
	d.aclRef = newACLRef
	return nil
}

func (fb *FileBuffer) currentACLRef() block.Address { return fb.aclRef }

func (fb *FileBuffer) rewriteACLRef(ctx context.Context, newACLRef block.Address) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	_, payload, err := fb.fs.fetchACB(ctx, fb.addr, nil)
	if err != nil {
		return err
	}
	curPlain, err := fb.fs.openACB(payload)
	if err != nil {
		return ErrIO("setxattr", fb.addr.String(), err)
	}
	raw, err := fb.fs.encodeOwnerACB(fb.addr, fb.salt, payload.Version+1, newACLRef, curPlain)
	if err != nil {
		return ErrIO("setxattr", fb.addr.String(), err)
	}
	if err := fb.fs.cs.Store(ctx, fb.addr, raw, consensus.ModeUpdate, nil); err != nil {
		return ErrIO("setxattr", fb.addr.String(), err)
	}
	f, err := fsdata.DecodeFile(curPlain)
	if err != nil {
		return ErrIO("setxattr", fb.addr.String(), err)
	}
	fb.data = f
	fb.version = payload.Version + 1
	fb.aclRef = newACLRef
	return nil
}

// grantEditor adds or updates node's ACL entry for editorKey with the
// given read/write permission, stores the result as a new ACL block and
// points node at it. The entry's Token is left as it was (empty for a new
// entry); the payload key is not sealed to the editor.
func (fs *Filesystem) grantEditor(ctx context.Context, node aclRewriter, editorKey ed25519.PublicKey, read, write bool) error {
	acl, err := fs.lookupACL(ctx, node.currentACLRef())
	if err != nil {
		return ErrIO("setxattr", "auth", err)
	}
	found := false
	for i, e := range acl.Entries {
		if string(e.UserKey) == string(editorKey) {
			acl.Entries[i].Read = read
			acl.Entries[i].Write = write
			found = true
			break
		}
	}
	if !found {
		acl.Entries = append(acl.Entries, block.ACLEntry{UserKey: editorKey, Read: read, Write: write})
	}
	newRef, err := fs.storeACL(ctx, acl)
	if err != nil {
		return ErrIO("setxattr", "auth", err)
	}
	return node.rewriteACLRef(ctx, newRef)
}

// revokeEditor removes editorKey's ACL entry entirely.
func (fs *Filesystem) revokeEditor(ctx context.Context, node aclRewriter, editorKey ed25519.PublicKey) error {
	acl, err := fs.lookupACL(ctx, node.currentACLRef())
	if err != nil {
		return ErrIO("setxattr", "auth", err)
	}
	kept := acl.Entries[:0]
	for _, e := range acl.Entries {
		if string(e.UserKey) != string(editorKey) {
			kept = append(kept, e)
		}
	}
	acl.Entries = kept
	newRef, err := fs.storeACL(ctx, acl)
	if err != nil {
		return ErrIO("setxattr", "auth", err)
	}
	return node.rewriteACLRef(ctx, newRef)
}

// HandleSetXattr dispatches a setxattr(2) call on node (a *Directory or
// *FileBuffer) for the ACL pseudo-attributes auth.setr, auth.setw,
// auth.setrw and auth.clear, and for auth_others. Any other name,
// including the introspection attributes and ordinary user xattrs, is
// rejected with ErrInvalid; ordinary xattrs are stored through the node's
// own SetXattr.
func (fs *Filesystem) HandleSetXattr(ctx context.Context, node aclRewriter, name string, value []byte) error {
	switch {
	case strings.HasPrefix(name, xattrPrefixAuthSet):
		key, err := hex.DecodeString(strings.TrimSpace(string(value)))
		if err != nil || len(key) != ed25519.PublicKeySize {
			return ErrInvalid("setxattr", name)
		}
		switch name {
		case "auth.setr":
			return fs.grantEditor(ctx, node, ed25519.PublicKey(key), true, false)
		case "auth.setw":
			return fs.grantEditor(ctx, node, ed25519.PublicKey(key), false, true)
		case "auth.setrw":
			return fs.grantEditor(ctx, node, ed25519.PublicKey(key), true, true)
		default:
			return ErrInvalid("setxattr", name)
		}
	case name == xattrAuthClear:
		key, err := hex.DecodeString(strings.TrimSpace(string(value)))
		if err != nil || len(key) != ed25519.PublicKeySize {
			return ErrInvalid("setxattr", name)
		}
		return fs.revokeEditor(ctx, node, ed25519.PublicKey(key))
	case name == xattrAuthOthers:
		// A directory/file's world-readable bit is baked into its
		// content address at creation (block.Address's flagWorldReadable
		// bit), so it cannot be flipped after the fact without changing
		// the address entirely. auth_others is accepted here as a
		// Header.Mode world-permission bit instead, a deliberate
		// simplification from the address-level flag; see DESIGN.md.
		switch v, ok := node.(interface {
			setWorldMode(ctx context.Context, allow bool) error
		}); {
		case ok:
			return v.setWorldMode(ctx, len(value) > 0 && value[0] != 0)
		default:
			return ErrInvalid("setxattr", name)
		}
	default:
		return ErrInvalid("setxattr", name)
	}
}

func (d *Directory) setWorldMode(ctx context.Context, allow bool) error {
	d.mu.Lock()
	mode := d.data.Header.Mode
	d.mu.Unlock()
	if allow {
		mode |= 0o006
	} else {
		mode &^= 0o006
	}
	return d.Chmod(ctx, mode)
}

func (fb *FileBuffer) setWorldMode(ctx context.Context, allow bool) error {
	fb.mu.Lock()
	mode := fb.data.Header.Mode
	fb.mu.Unlock()
	if allow {
		mode |= 0o006
	} else {
		mode &^= 0o006
	}
	return fb.Chmod(ctx, mode)
}

// BlockAddress returns the hex content address of node itself, the
// `block` pseudo-xattr.
func BlockAddress(addr block.Address) string { return addr.String() }

// BlockOf resolves the `blockof.<name>` pseudo-xattr: the hex address of
// the child named name in d.
func (d *Directory) BlockOf(name string) (string, error) {
	d.mu.Lock()
	entry, ok := d.data.Find(name)
	d.mu.Unlock()
	if !ok {
		return "", ErrNotExist("blockof", name)
	}
	return entry.Address.String(), nil
}

// FsckReport is the result of a directory consistency sweep: entries whose
// target address has no replica anywhere.
type FsckReport struct {
	Missing []string
}

// Fsck checks that every entry in d still resolves to a reachable block,
// the `fsck.check` pseudo-xattr's introspection.
func (fs *Filesystem) Fsck(ctx context.Context, d *Directory) (FsckReport, error) {
	d.mu.Lock()
	entries := append([]fsdata.DirEntry(nil), d.data.Entries...)
	d.mu.Unlock()

	var report FsckReport
	for _, e := range entries {
		if _, err := fs.cs.Fetch(ctx, e.Address, nil); err == consensus.ErrNotFound {
			report.Missing = append(report.Missing, e.Name)
		}
	}
	return report, nil
}

// ParseXattrIntrospection reports whether name is a blockof.<name>
// pseudo-attribute and, if so, the child name it carries. Every other
// name, "block" and "sync" included, reports false.
func ParseXattrIntrospection(name string) (isBlockOf bool, childName string) {
	if strings.HasPrefix(name, xattrBlockOfPrefix) {
		return true, strings.TrimPrefix(name, xattrBlockOfPrefix)
	}
	return false, ""
}

// HandleGetXattr resolves a getxattr(2) call on d to one of the
// introspection pseudo-attributes, falling back to an ordinary stored
// xattr. ok is false if name isn't set on d and isn't a recognized
// pseudo-attribute.
func (d *Directory) HandleGetXattr(ctx context.Context, name string) (value []byte, ok bool, err error) {
	switch {
	case name == xattrBlock:
		return []byte(BlockAddress(d.addr)), true, nil
	case name == xattrSync:
		return []byte(d.addr.String()), true, nil
	case name == xattrFsckCheck:
		report, ferr := d.fs.Fsck(ctx, d)
		if ferr != nil {
			return nil, false, ferr
		}
		return []byte(strings.Join(report.Missing, ",")), true, nil
	case strings.HasPrefix(name, xattrBlockOfPrefix):
		_, child := ParseXattrIntrospection(name)
		addr, berr := d.BlockOf(child)
		if berr != nil {
			return nil, false, berr
		}
		return []byte(addr), true, nil
	default:
		v, found := d.GetXattr(name)
		return v, found, nil
	}
}

// HandleGetXattr resolves a getxattr(2) call on fb: the `block` and `sync`
// introspection attributes (both return fb's address) and ordinary stored
// xattrs, since fsck/blockof
// are directory-entry concepts.
func (fb *FileBuffer) HandleGetXattr(name string) (value []byte, ok bool) {
	switch {
	case name == xattrBlock || name == xattrSync:
		return []byte(BlockAddress(fb.addr)), true
	default:
		return fb.GetXattr(name)
	}
}

