/*
Package fuse exposes a silofs volume's directories and files as a POSIX
filesystem via github.com/hanwen/go-fuse/v2.

# Architecture Overview

	┌─────────────────────────────────────────────┐
	│              User Applications              │
	│        (ls, cat, cp, vim, databases)         │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│              Kernel VFS Layer                │
	│           (POSIX System Calls)               │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│          github.com/hanwen/go-fuse/v2        │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│               fuse (this package)            │
	│  DirectoryNode/FileNode/FileHandle translate  │
	│  POSIX calls into Directory/FileBuffer calls  │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│            internal/filesystem               │
	│     directories, files, xattrs over ACBs      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│             internal/consensus                │
	│    journal → cache → replication → overlay    │
	└─────────────────────────────────────────────┘

# Usage

	root, err := core.CreateRoot(ctx) // or OpenDirectory(ctx, addr)
	fsys := fuse.NewFileSystem(core, root, &fuse.Config{MountPoint: mountPoint})
	mgr := fuse.NewMountManager(fsys, &fuse.MountConfig{
		MountPoint: mountPoint,
		Options:    &fuse.MountOptions{FSName: "silofs"}, // Mount reads Options; it must not be nil
	})
	if err := mgr.Mount(ctx); err != nil {
		log.Fatal(err)
	}
	defer mgr.Unmount()

# Error translation

filesystem.Error wraps one of os.ErrNotExist/ErrExist/ErrPermission/
ErrInvalid or an opaque I/O cause; errnoFromError maps not-exist to
ENOENT, exist to EEXIST, permission to EACCES, a timeout to ETIMEDOUT,
and everything else, ErrInvalid included, to EIO.

# Extended attributes

getxattr/setxattr/listxattr/removexattr pass through to the directory
or file header's xattr map, except silofs.inherit_auth, which toggles
whether a directory's children inherit its authorization model rather
than being stored as an ordinary attribute.

# Read-ahead

ReadAheadManager watches each open file's access pattern; once a
sequential run is detected it issues a speculative read at the
predicted next offset to warm internal/consensus's cache layer ahead
of the kernel's own request. There is no write-side equivalent: a
FileBuffer already holds dirty chunks in memory until Commit, so
coalescing writes a second time in this layer would just be a second
buffer that could drift from the first.
*/
package fuse
