package filesystem

import (
	"container/list"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/consensus"
	"github.com/silofs/silofs/internal/fsdata"
	"github.com/silofs/silofs/internal/resolver"
	"github.com/silofs/silofs/pkg/crypto"
)

// chunkCacheCap bounds the number of decrypted FAT chunks a single
// FileBuffer keeps resident; a streaming read/write touches one or two
// neighbors at a time; a random-access workload falls back to a
// fetch-and-decrypt per chunk, same as a cold cache entry.
const chunkCacheCap = 16

// chunkCache is a small LRU of decrypted chunk plaintexts keyed by FAT
// index, the same container/list eviction shape as consensus.CacheLayer,
// sized down and without that layer's byte-size/TTL bookkeeping since a
// single open file's working set is tiny compared to the block cache.
type chunkCache struct {
	mu    sync.Mutex
	cap   int
	items map[int]*list.Element
	order *list.List
}

type chunkCacheEntry struct {
	index int
	data  []byte
}

func newChunkCache(cap int) *chunkCache {
	return &chunkCache{cap: cap, items: make(map[int]*list.Element), order: list.New()}
}

func (c *chunkCache) get(index int) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[index]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*chunkCacheEntry).data, true
}

func (c *chunkCache) put(index int, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[index]; ok {
		el.Value.(*chunkCacheEntry).data = data
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&chunkCacheEntry{index: index, data: data})
	c.items[index] = el
	for c.order.Len() > c.cap {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*chunkCacheEntry).index)
	}
}

func (c *chunkCache) invalidate(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[index]; ok {
		c.order.Remove(el)
		delete(c.items, index)
	}
}

// FileBuffer is a handle to one file's current layout plus whatever writes
// have been staged since the last commit. A write only touches in-memory
// state (InlineData or a staged chunk); Commit is the only operation that
// talks to consensus, matching the source's fsync-commits-everything model.
type FileBuffer struct {
	fs     *Filesystem
	addr   block.Address
	salt   [32]byte
	aclRef block.Address

	mu      sync.Mutex
	version uint32
	data    *fsdata.File
	chunks  *chunkCache

	dirtyInline bool
	dirtyChunk  map[int][]byte
	staleChunk  map[int]block.Address // old CHB addresses superseded by a pending write, removed after commit
}

func newFileBuffer(fs *Filesystem, addr block.Address, salt [32]byte, aclRef block.Address, version uint32, f *fsdata.File) *FileBuffer {
	return &FileBuffer{
		fs: fs, addr: addr, salt: salt, aclRef: aclRef, version: version, data: f,
		chunks:     newChunkCache(chunkCacheCap),
		dirtyChunk: make(map[int][]byte),
		staleChunk: make(map[int]block.Address),
	}
}

// Address is the content address of this file's current ACB.
func (fb *FileBuffer) Address() block.Address { return fb.addr }

// Stat returns the file's POSIX metadata.
func (fb *FileBuffer) Stat() FileInfo {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	h := fb.data.Header
	return FileInfo{
		Size_:    int64(fb.data.Size),
		Mode_:    os.FileMode(h.Mode),
		ModTime_: time.Unix(0, h.Mtime),
		Uid:      h.Uid,
		Gid:      h.Gid,
	}
}

func (fb *FileBuffer) inlineLimit() uint64 {
	if fb.data.Size <= fb.fs.cfg.MaxEmbedSize {
		return fb.data.Size
	}
	return fb.fs.cfg.FirstBlockDataSize
}

// ReadAt fills buf starting at offset, reading the inline prefix and
// whatever FAT chunks it overlaps; a hole (zero address) reads as zeros
// without a network round trip.
func (fb *FileBuffer) ReadAt(ctx context.Context, buf []byte, offset int64) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if offset < 0 {
		return 0, ErrInvalid("read", fb.addr.String())
	}
	size := int64(fb.data.Size)
	if offset >= size {
		return 0, io.EOF
	}
	if int64(len(buf)) > size-offset {
		buf = buf[:size-offset]
	}

	n := 0
	inlineLimit := int64(fb.inlineLimit())
	for n < len(buf) {
		pos := offset + int64(n)
		if pos < inlineLimit {
			avail := inlineLimit - pos
			k := int64(len(buf) - n)
			if k > avail {
				k = avail
			}
			copy(buf[n:n+int(k)], fb.inlineBytesLocked()[pos:pos+k])
			n += int(k)
			continue
		}

		chunkSize := int64(fb.data.BlockSize)
		rel := pos - inlineLimit
		idx := int(rel / chunkSize)
		chunkOff := rel % chunkSize

		plain, err := fb.loadChunkLocked(ctx, idx)
		if err != nil {
			return n, err
		}
		avail := int64(len(plain)) - chunkOff
		if avail <= 0 {
			break
		}
		k := int64(len(buf) - n)
		if k > avail {
			k = avail
		}
		copy(buf[n:n+int(k)], plain[chunkOff:chunkOff+k])
		n += int(k)
	}
	return n, nil
}

func (fb *FileBuffer) inlineBytesLocked() []byte {
	limit := fb.inlineLimit()
	if uint64(len(fb.data.InlineData)) < limit {
		padded := make([]byte, limit)
		copy(padded, fb.data.InlineData)
		return padded
	}
	return fb.data.InlineData
}

// loadChunkLocked returns the plaintext of FAT chunk idx, decrypting and
// caching it on first access. A hole (no entry, or an entry past the
// current FAT length) reads as a zero-filled chunk.
func (fb *FileBuffer) loadChunkLocked(ctx context.Context, idx int) ([]byte, error) {
	if data, staged := fb.dirtyChunk[idx]; staged {
		return data, nil
	}
	if plain, ok := fb.chunks.get(idx); ok {
		return plain, nil
	}
	if idx >= len(fb.data.FAT) || fb.data.FAT[idx].IsHole() {
		return make([]byte, fb.data.BlockSize), nil
	}
	entry := fb.data.FAT[idx]
	res, err := fb.fs.cs.Fetch(ctx, entry.Address, nil)
	if err != nil {
		return nil, ErrIO("read", fb.addr.String(), err)
	}
	_, payload, err := block.DecodeCHB(res.Raw)
	if err != nil {
		return nil, ErrIO("read", fb.addr.String(), err)
	}
	plain, err := crypto.DecryptChunk(entry.Key, payload.Ciphertext)
	if err != nil {
		return nil, ErrIO("read", fb.addr.String(), err)
	}
	fb.chunks.put(idx, plain)
	return plain, nil
}

// WriteAt stages data at offset into inline or chunk scratch space; no
// block is created or network call made until Commit.
func (fb *FileBuffer) WriteAt(ctx context.Context, data []byte, offset int64) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if offset < 0 {
		return 0, ErrInvalid("write", fb.addr.String())
	}
	end := offset + int64(len(data))
	if uint64(end) > fb.data.Size {
		fb.data.Size = uint64(end)
	}

	n := 0
	inlineLimit := int64(fb.inlineLimit())
	for n < len(data) {
		pos := offset + int64(n)
		if pos < inlineLimit {
			avail := inlineLimit - pos
			k := int64(len(data) - n)
			if k > avail {
				k = avail
			}
			inline := fb.inlineBytesLocked()
			copy(inline[pos:pos+k], data[n:n+int(k)])
			fb.data.InlineData = inline
			fb.dirtyInline = true
			n += int(k)
			continue
		}

		chunkSize := int64(fb.data.BlockSize)
		rel := pos - inlineLimit
		idx := int(rel / chunkSize)
		chunkOff := rel % chunkSize

		plain, err := fb.loadChunkLocked(ctx, idx)
		if err != nil {
			return n, err
		}
		if int64(len(plain)) < chunkSize {
			padded := make([]byte, chunkSize)
			copy(padded, plain)
			plain = padded
		}
		k := int64(len(data) - n)
		if k > chunkSize-chunkOff {
			k = chunkSize - chunkOff
		}
		copy(plain[chunkOff:chunkOff+k], data[n:n+int(k)])
		fb.dirtyChunk[idx] = plain
		fb.chunks.invalidate(idx)
		if idx < len(fb.data.FAT) && !fb.data.FAT[idx].IsHole() {
			fb.staleChunk[idx] = fb.data.FAT[idx].Address
		}
		n += int(k)
	}
	return n, nil
}

// Truncate grows or shrinks the file to size. Growing extends with holes;
// shrinking drops inline bytes and FAT entries past the new size, staging
// their addresses for removal on Commit.
func (fb *FileBuffer) Truncate(ctx context.Context, size uint64) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if size >= fb.data.Size {
		fb.data.Size = size
		return nil
	}

	newInlineLimit := size
	if size > fb.fs.cfg.MaxEmbedSize {
		newInlineLimit = fb.fs.cfg.FirstBlockDataSize
	}
	if uint64(len(fb.data.InlineData)) > newInlineLimit {
		fb.data.InlineData = fb.data.InlineData[:newInlineLimit]
	}

	chunkSize := uint64(fb.data.BlockSize)
	oldInlineLimit := fb.inlineLimit()
	keepChunks := 0
	if size > oldInlineLimit {
		keepChunks = int((size - oldInlineLimit + chunkSize - 1) / chunkSize)
	}
	for idx := keepChunks; idx < len(fb.data.FAT); idx++ {
		if !fb.data.FAT[idx].IsHole() {
			fb.staleChunk[idx] = fb.data.FAT[idx].Address
		}
		delete(fb.dirtyChunk, idx)
		fb.chunks.invalidate(idx)
	}
	if keepChunks < len(fb.data.FAT) {
		fb.data.FAT = fb.data.FAT[:keepChunks]
	}
	fb.data.Size = size
	fb.dirtyInline = true
	return nil
}

// Commit runs the three-step write protocol: encrypt every staged chunk
// as a new CHB and extend the FAT, seal the resulting layout into a new
// ACB version through the filesystem's optimistic-concurrency loop, and
// only then remove the CHBs the new layout superseded. Removal is last so
// a crash between steps leaves old-but-still-readable blocks rather than
// a dangling FAT reference.
func (fb *FileBuffer) Commit(ctx context.Context) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	if !fb.dirtyInline && len(fb.dirtyChunk) == 0 {
		return nil
	}

	for idx, plain := range fb.dirtyChunk {
		key, err := crypto.NewPayloadKey()
		if err != nil {
			return ErrIO("commit", fb.addr.String(), err)
		}
		ciphertext, err := crypto.EncryptChunk(key, plain)
		if err != nil {
			return ErrIO("commit", fb.addr.String(), err)
		}
		salt, err := crypto.NewSalt()
		if err != nil {
			return ErrIO("commit", fb.addr.String(), err)
		}
		chunkAddr := block.DeriveCHBAddress(ciphertext, fb.fs.identity.Public, salt)
		sig := crypto.Sign(fb.fs.identity.Private, block.SignedCHBBytes(chunkAddr, block.CHBPayload{Ciphertext: ciphertext}))
		raw, err := block.EncodeCHB(chunkAddr, fb.fs.identity.Public, salt, block.CHBPayload{Ciphertext: ciphertext}, sig)
		if err != nil {
			return ErrIO("commit", fb.addr.String(), err)
		}
		if err := fb.fs.cs.Store(ctx, chunkAddr, raw, consensus.ModeInsert, nil); err != nil {
			return ErrIO("commit", fb.addr.String(), err)
		}
		for idx >= len(fb.data.FAT) {
			fb.data.FAT = append(fb.data.FAT, fsdata.FATEntry{})
		}
		fb.data.FAT[idx] = fsdata.FATEntry{Address: chunkAddr, Key: key}
		fb.chunks.put(idx, plain)
	}

	edit := &resolver.FileEdit{NewSize: fb.data.Size, NewBlockSize: fb.data.BlockSize, NewInline: fb.data.InlineData, NewFAT: fb.data.FAT}
	currentPlain := fsdata.EncodeFile(fb.data)
	newVersion, newPlain, err := fb.fs.applyEdit(ctx, fb.addr, fb.salt, fb.aclRef, fb.version, currentPlain, edit, fb.addr.String())
	if err != nil {
		return err
	}
	newFile, err := fsdata.DecodeFile(newPlain)
	if err != nil {
		return ErrIO("commit", fb.addr.String(), err)
	}
	fb.data = newFile
	fb.version = newVersion

	toRemove := fb.staleChunk
	fb.staleChunk = make(map[int]block.Address)
	fb.dirtyChunk = make(map[int][]byte)
	fb.dirtyInline = false

	for _, addr := range toRemove {
		sig := crypto.Sign(fb.fs.identity.Private, addr.Bytes())
		_ = fb.fs.cs.Remove(ctx, addr, sig)
	}
	return nil
}

// commitHeader applies a header-only edit (chmod/chown/utimens/xattr),
// bypassing the chunk-commit machinery in Commit since none of these touch
// file data.
func (fb *FileBuffer) commitHeader(ctx context.Context, edit *resolver.HeaderEdit) error {
	fb.mu.Lock()
	currentPlain := fsdata.EncodeFile(fb.data)
	version, salt, aclRef, addr := fb.version, fb.salt, fb.aclRef, fb.addr
	fb.mu.Unlock()

	newVersion, newPlain, err := fb.fs.applyEdit(ctx, addr, salt, aclRef, version, currentPlain, edit, addr.String())
	if err != nil {
		return err
	}
	f, err := fsdata.DecodeFile(newPlain)
	if err != nil {
		return ErrIO("commit", addr.String(), err)
	}
	fb.mu.Lock()
	fb.data = f
	fb.version = newVersion
	fb.mu.Unlock()
	return nil
}

func (fb *FileBuffer) Chmod(ctx context.Context, mode uint32) error {
	return fb.commitHeader(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadFile, SetMode: true, Mode: mode})
}

func (fb *FileBuffer) Chown(ctx context.Context, uid, gid uint32) error {
	return fb.commitHeader(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadFile, SetUid: true, Uid: uid, SetGid: true, Gid: gid})
}

func (fb *FileBuffer) Utimens(ctx context.Context, atime, mtime int64) error {
	return fb.commitHeader(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadFile, SetAtime: true, Atime: atime, SetMtime: true, Mtime: mtime})
}

func (fb *FileBuffer) SetXattr(ctx context.Context, name string, value []byte) error {
	return fb.commitHeader(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadFile, SetXattrs: map[string][]byte{name: value}})
}

func (fb *FileBuffer) RemoveXattr(ctx context.Context, name string) error {
	return fb.commitHeader(ctx, &resolver.HeaderEdit{Payload: resolver.PayloadFile, DeleteXattrs: []string{name}})
}

func (fb *FileBuffer) GetXattr(name string) ([]byte, bool) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	v, ok := fb.data.Header.Xattrs[name]
	return v, ok
}

func (fb *FileBuffer) ListXattr() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	names := make([]string, 0, len(fb.data.Header.Xattrs))
	for k := range fb.data.Header.Xattrs {
		names = append(names, k)
	}
	return names
}
