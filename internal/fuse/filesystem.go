package fuse

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/silofs/silofs/internal/filesystem"
	"github.com/silofs/silofs/internal/fsdata"
	"github.com/silofs/silofs/internal/log"
)

// FileSystem implements the FUSE filesystem interface over
// internal/filesystem's directory/file abstractions: every POSIX
// operation below translates directly to a Directory/FileBuffer method
// call, which itself resolves through the consensus stack.
type FileSystem struct {
	fs.Inode

	core *filesystem.Filesystem
	root *filesystem.Directory

	config *Config

	mu         sync.RWMutex
	openFiles  map[uint64]*OpenFile
	nextHandle uint64

	stats *Stats

	readAhead *ReadAheadManager
}

// Config represents FUSE filesystem configuration.
type Config struct {
	MountPoint string `yaml:"mount_point"`
	ReadOnly   bool   `yaml:"read_only"`
	AllowOther bool   `yaml:"allow_other"`

	DefaultUID uint32 `yaml:"default_uid"`
	DefaultGID uint32 `yaml:"default_gid"`

	ReadAhead *ReadAheadConfig `yaml:"read_ahead"`
}

// OpenFile is a live file handle: the underlying FileBuffer plus
// whether it has unflushed writes.
type OpenFile struct {
	fb    *filesystem.FileBuffer
	dirty bool
}

// Stats tracks filesystem operation counters.
type Stats struct {
	mu sync.Mutex

	Lookups int64
	Opens   int64
	Reads   int64
	Writes  int64
	Creates int64
	Deletes int64

	BytesRead    int64
	BytesWritten int64

	Errors int64
}

func (s *Stats) inc(counter *int64) {
	atomic.AddInt64(counter, 1)
}

// NewFileSystem creates a FUSE filesystem rooted at root.
func NewFileSystem(core *filesystem.Filesystem, root *filesystem.Directory, config *Config) *FileSystem {
	if config == nil {
		config = &Config{
			DefaultUID: 1000,
			DefaultGID: 1000,
		}
	}

	fsys := &FileSystem{
		core:       core,
		root:       root,
		config:     config,
		openFiles:  make(map[uint64]*OpenFile),
		nextHandle: 1,
		stats:      &Stats{},
	}
	fsys.readAhead = NewReadAheadManager(fsys, config.ReadAhead)
	return fsys
}

// Root returns the root inode.
func (fsys *FileSystem) Root() fs.InodeEmbedder {
	return &DirectoryNode{fsys: fsys, dir: fsys.root}
}

// GetStats returns a snapshot of the operation counters.
func (fsys *FileSystem) GetStats() *Stats {
	return &Stats{
		Lookups:      atomic.LoadInt64(&fsys.stats.Lookups),
		Opens:        atomic.LoadInt64(&fsys.stats.Opens),
		Reads:        atomic.LoadInt64(&fsys.stats.Reads),
		Writes:       atomic.LoadInt64(&fsys.stats.Writes),
		Creates:      atomic.LoadInt64(&fsys.stats.Creates),
		Deletes:      atomic.LoadInt64(&fsys.stats.Deletes),
		BytesRead:    atomic.LoadInt64(&fsys.stats.BytesRead),
		BytesWritten: atomic.LoadInt64(&fsys.stats.BytesWritten),
		Errors:       atomic.LoadInt64(&fsys.stats.Errors),
	}
}

// errnoFromError translates a filesystem.Error (or any error wrapping a
// stdlib POSIX sentinel) to the syscall.Errno FUSE expects.
func errnoFromError(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case os.IsNotExist(err):
		return syscall.ENOENT
	case os.IsExist(err):
		return syscall.EEXIST
	case os.IsPermission(err):
		return syscall.EACCES
	case os.IsTimeout(err):
		return syscall.ETIMEDOUT
	default:
		return syscall.EIO
	}
}

func fillAttr(a *fuse.Attr, info filesystem.FileInfo) {
	a.Mode = uint32(info.Mode())
	a.Size = uint64(info.Size())
	a.Uid = info.Uid
	a.Gid = info.Gid

	mtime := info.ModTime()
	sec := uint64(mtime.Unix())
	a.Mtime = sec
	a.Atime = sec
	a.Ctime = sec
}

// DirectoryNode represents a directory in the filesystem tree.
type DirectoryNode struct {
	fs.Inode
	fsys *FileSystem
	dir  *filesystem.Directory
}

func (n *DirectoryNode) childInode(ctx context.Context, entry fsdata.DirEntry) (*fs.Inode, error) {
	switch entry.Type {
	case fsdata.EntryTypeDirectory:
		childDir, err := n.fsys.core.OpenDirectory(ctx, entry.Address)
		if err != nil {
			return nil, err
		}
		return n.NewInode(ctx, &DirectoryNode{fsys: n.fsys, dir: childDir}, fs.StableAttr{Mode: fuse.S_IFDIR}), nil
	default:
		fb, err := n.fsys.core.OpenFile(ctx, entry.Address)
		if err != nil {
			return nil, err
		}
		return n.NewInode(ctx, &FileNode{fsys: n.fsys, fb: fb}, fs.StableAttr{Mode: fuse.S_IFREG}), nil
	}
}

// Lookup resolves a child name.
func (n *DirectoryNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	n.fsys.stats.inc(&n.fsys.stats.Lookups)

	entry, ok := n.dir.Lookup(name)
	if !ok {
		return nil, syscall.ENOENT
	}

	node, err := n.childInode(ctx, entry)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		log.WithComponent("fuse").Error().Err(err).Str("name", name).Msg("lookup failed")
		return nil, errnoFromError(err)
	}

	switch e := node.Operations().(type) {
	case *DirectoryNode:
		fillAttr(&out.Attr, e.dir.Stat())
	case *FileNode:
		fillAttr(&out.Attr, e.fb.Stat())
	}
	return node, 0
}

// Getattr returns the directory's own metadata.
func (n *DirectoryNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, n.dir.Stat())
	return 0
}

// Readdir lists the directory's entries.
func (n *DirectoryNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	entries, err := n.dir.List(ctx)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, errnoFromError(err)
	}

	out := make([]fuse.DirEntry, 0, len(entries))
	for _, e := range entries {
		mode := uint32(fuse.S_IFREG)
		if e.Type == filesystem.FileTypeDirectory {
			mode = fuse.S_IFDIR
		}
		out = append(out, fuse.DirEntry{Name: e.Name, Mode: mode})
	}
	return fs.NewListDirStream(out), 0
}

// Mkdir creates a new child directory.
func (n *DirectoryNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, syscall.EROFS
	}

	childDir, err := n.dir.Mkdir(ctx, name, mode)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, errnoFromError(err)
	}

	fillAttr(&out.Attr, childDir.Stat())
	return n.NewInode(ctx, &DirectoryNode{fsys: n.fsys, dir: childDir}, fs.StableAttr{Mode: fuse.S_IFDIR}), 0
}

// Rmdir removes a child directory.
func (n *DirectoryNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if err := n.dir.Remove(ctx, name); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return errnoFromError(err)
	}
	n.fsys.stats.inc(&n.fsys.stats.Deletes)
	return 0
}

// Unlink removes a file.
func (n *DirectoryNode) Unlink(ctx context.Context, name string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if err := n.dir.Remove(ctx, name); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return errnoFromError(err)
	}
	n.fsys.stats.inc(&n.fsys.stats.Deletes)
	return 0
}

// Rename moves an entry to newParent under newName.
func (n *DirectoryNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	dst, ok := newParent.(*DirectoryNode)
	if !ok {
		return syscall.EINVAL
	}
	if err := n.dir.Rename(ctx, name, dst.dir, newName); err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return errnoFromError(err)
	}
	return 0
}

// Create creates and opens a new file.
func (n *DirectoryNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (node *fs.Inode, fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	if n.fsys.config.ReadOnly {
		return nil, nil, 0, syscall.EROFS
	}

	fb, err := n.dir.CreateFile(ctx, name, mode)
	if err != nil {
		n.fsys.stats.inc(&n.fsys.stats.Errors)
		return nil, nil, 0, errnoFromError(err)
	}
	n.fsys.stats.inc(&n.fsys.stats.Creates)

	fileNode := &FileNode{fsys: n.fsys, fb: fb}
	inode := n.NewInode(ctx, fileNode, fs.StableAttr{Mode: fuse.S_IFREG})
	fillAttr(&out.Attr, fb.Stat())

	fh, fuseFlags, errno = fileNode.Open(ctx, flags)
	return inode, fh, fuseFlags, errno
}

// Setattr applies chmod/chown/utimens to the directory.
func (n *DirectoryNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if mode, ok := in.GetMode(); ok {
		if err := n.dir.Chmod(ctx, mode); err != nil {
			return errnoFromError(err)
		}
	}
	if uid, ok := in.GetUID(); ok {
		gid, _ := in.GetGID()
		if err := n.dir.Chown(ctx, uid, gid); err != nil {
			return errnoFromError(err)
		}
	}
	if atime, ok := in.GetATime(); ok {
		mtime, _ := in.GetMTime()
		if err := n.dir.Utimens(ctx, atime.UnixNano(), mtime.UnixNano()); err != nil {
			return errnoFromError(err)
		}
	}
	fillAttr(&out.Attr, n.dir.Stat())
	return 0
}

const xattrInheritAuth = "silofs.inherit_auth"

// Getxattr resolves a getxattr(2) call.
func (n *DirectoryNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, ok := n.dir.GetXattr(attr)
	if !ok {
		return 0, syscall.ENODATA
	}
	return copyXattr(dest, value)
}

// Setxattr dispatches a setxattr(2) call; silofs.inherit_auth toggles
// whether a directory's children inherit its authorization model,
// everything else is stored as an ordinary xattr.
func (n *DirectoryNode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if attr == xattrInheritAuth {
		if err := n.dir.SetInheritAuth(ctx, len(data) > 0 && data[0] != 0); err != nil {
			return errnoFromError(err)
		}
		return 0
	}
	if err := n.dir.SetXattr(ctx, attr, data); err != nil {
		return errnoFromError(err)
	}
	return 0
}

func (n *DirectoryNode) Removexattr(ctx context.Context, attr string) syscall.Errno {
	if n.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if err := n.dir.RemoveXattr(ctx, attr); err != nil {
		return errnoFromError(err)
	}
	return 0
}

func (n *DirectoryNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	return copyXattrList(dest, n.dir.ListXattr())
}

// FileNode represents a file in the filesystem tree.
type FileNode struct {
	fs.Inode
	fsys *FileSystem
	fb   *filesystem.FileBuffer
}

// Open opens a file handle.
func (f *FileNode) Open(ctx context.Context, flags uint32) (fh fs.FileHandle, fuseFlags uint32, errno syscall.Errno) {
	f.fsys.stats.inc(&f.fsys.stats.Opens)

	if f.fsys.config.ReadOnly && (flags&(syscall.O_WRONLY|syscall.O_RDWR|syscall.O_CREAT|syscall.O_TRUNC) != 0) {
		return nil, 0, syscall.EROFS
	}

	f.fsys.mu.Lock()
	handle := f.fsys.nextHandle
	f.fsys.nextHandle++
	openFile := &OpenFile{fb: f.fb}
	f.fsys.openFiles[handle] = openFile
	f.fsys.mu.Unlock()

	return &FileHandle{fsys: f.fsys, handle: handle, node: f, open: openFile}, 0, 0
}

// Getattr returns the file's metadata.
func (f *FileNode) Getattr(ctx context.Context, fh fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, f.fb.Stat())
	return 0
}

// Setattr applies chmod/chown/utimens/truncate.
func (f *FileNode) Setattr(ctx context.Context, fh fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if f.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if size, ok := in.GetSize(); ok {
		if err := f.fb.Truncate(ctx, size); err != nil {
			return errnoFromError(err)
		}
		if err := f.fb.Commit(ctx); err != nil {
			return errnoFromError(err)
		}
	}
	if mode, ok := in.GetMode(); ok {
		if err := f.fb.Chmod(ctx, mode); err != nil {
			return errnoFromError(err)
		}
	}
	if uid, ok := in.GetUID(); ok {
		gid, _ := in.GetGID()
		if err := f.fb.Chown(ctx, uid, gid); err != nil {
			return errnoFromError(err)
		}
	}
	if atime, ok := in.GetATime(); ok {
		mtime, _ := in.GetMTime()
		if err := f.fb.Utimens(ctx, atime.UnixNano(), mtime.UnixNano()); err != nil {
			return errnoFromError(err)
		}
	}
	fillAttr(&out.Attr, f.fb.Stat())
	return 0
}

func (f *FileNode) Getxattr(ctx context.Context, attr string, dest []byte) (uint32, syscall.Errno) {
	value, ok := f.fb.GetXattr(attr)
	if !ok {
		return 0, syscall.ENODATA
	}
	return copyXattr(dest, value)
}

func (f *FileNode) Setxattr(ctx context.Context, attr string, data []byte, flags uint32) syscall.Errno {
	if f.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if err := f.fb.SetXattr(ctx, attr, data); err != nil {
		return errnoFromError(err)
	}
	return 0
}

func (f *FileNode) Removexattr(ctx context.Context, attr string) syscall.Errno {
	if f.fsys.config.ReadOnly {
		return syscall.EROFS
	}
	if err := f.fb.RemoveXattr(ctx, attr); err != nil {
		return errnoFromError(err)
	}
	return 0
}

func (f *FileNode) Listxattr(ctx context.Context, dest []byte) (uint32, syscall.Errno) {
	return copyXattrList(dest, f.fb.ListXattr())
}

// FileHandle is an open file descriptor: reads/writes go straight
// through to the shared FileBuffer, which already buffers dirty chunks
// in memory until Commit.
type FileHandle struct {
	fsys   *FileSystem
	handle uint64
	node   *FileNode
	open   *OpenFile
}

func (fh *FileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh.fsys.stats.inc(&fh.fsys.stats.Reads)

	n, err := fh.open.fb.ReadAt(ctx, dest, off)
	if err != nil {
		fh.fsys.stats.inc(&fh.fsys.stats.Errors)
		return nil, errnoFromError(err)
	}
	atomic.AddInt64(&fh.fsys.stats.BytesRead, int64(n))
	fh.fsys.readAhead.OnRead(fh.open.fb, off, int64(n))

	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *FileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	if fh.fsys.config.ReadOnly {
		return 0, syscall.EROFS
	}

	n, err := fh.open.fb.WriteAt(ctx, data, off)
	if err != nil {
		fh.fsys.stats.inc(&fh.fsys.stats.Errors)
		return 0, errnoFromError(err)
	}
	fh.fsys.stats.inc(&fh.fsys.stats.Writes)
	atomic.AddInt64(&fh.fsys.stats.BytesWritten, int64(n))
	fh.open.dirty = true

	return uint32(n), 0
}

func (fh *FileHandle) Flush(ctx context.Context) syscall.Errno {
	if !fh.open.dirty {
		return 0
	}
	if err := fh.open.fb.Commit(ctx); err != nil {
		fh.fsys.stats.inc(&fh.fsys.stats.Errors)
		return errnoFromError(err)
	}
	fh.open.dirty = false
	return 0
}

func (fh *FileHandle) Release(ctx context.Context) syscall.Errno {
	errno := fh.Flush(ctx)

	fh.fsys.mu.Lock()
	delete(fh.fsys.openFiles, fh.handle)
	fh.fsys.mu.Unlock()

	return errno
}

// copyXattr copies value into dest, returning the attribute's length so
// a zero-length probe call (dest == nil) can size the caller's buffer.
func copyXattr(dest []byte, value []byte) (uint32, syscall.Errno) {
	if len(dest) == 0 {
		return uint32(len(value)), 0
	}
	if len(dest) < len(value) {
		return uint32(len(value)), syscall.ERANGE
	}
	return uint32(copy(dest, value)), 0
}

// copyXattrList encodes names as a NUL-separated listxattr(2) buffer.
func copyXattrList(dest []byte, names []string) (uint32, syscall.Errno) {
	var size int
	for _, n := range names {
		size += len(n) + 1
	}
	if len(dest) == 0 {
		return uint32(size), 0
	}
	if len(dest) < size {
		return uint32(size), syscall.ERANGE
	}
	var off int
	for _, n := range names {
		off += copy(dest[off:], n)
		dest[off] = 0
		off++
	}
	return uint32(size), 0
}
