// Package fsdata defines the on-block payload shapes of directories and
// files — the data that lives inside an ACB's plaintext, once decrypted —
// along with their wire encoding. It sits below both internal/resolver and
// internal/filesystem so resolvers can replay edits without the filesystem
// package needing to depend on resolver internals.
package fsdata

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/silofs/silofs/internal/block"
)

// EntryType discriminates a directory entry's target.
type EntryType uint8

const (
	EntryTypeFile EntryType = iota + 1
	EntryTypeDirectory
	EntryTypeSymlink
)

// DirEntry is one name -> (type, address) mapping inside a directory block.
type DirEntry struct {
	Name    string
	Type    EntryType
	Address block.Address
}

// Directory is the decoded payload of a directory's ACB.
type Directory struct {
	Header      Header
	InheritAuth bool
	Entries     []DirEntry
}

// Find returns the entry with the given name, if present.
func (d *Directory) Find(name string) (DirEntry, bool) {
	for _, e := range d.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return DirEntry{}, false
}

// Upsert inserts or replaces the entry for name.
func (d *Directory) Upsert(e DirEntry) {
	for i, existing := range d.Entries {
		if existing.Name == e.Name {
			d.Entries[i] = e
			return
		}
	}
	d.Entries = append(d.Entries, e)
}

// Remove deletes the entry for name, reporting whether it was present.
func (d *Directory) Remove(name string) bool {
	for i, existing := range d.Entries {
		if existing.Name == name {
			d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe for a resolver to mutate independently of
// the cached original.
func (d *Directory) Clone() *Directory {
	out := &Directory{Header: d.Header.Clone(), InheritAuth: d.InheritAuth, Entries: make([]DirEntry, len(d.Entries))}
	copy(out.Entries, d.Entries)
	return out
}

// EncodeDirectory serializes a Directory in a stable, sorted-by-name order so two
// equivalent directories always produce identical bytes (needed for
// idempotent-insert detection in the async journal).
func EncodeDirectory(d *Directory) []byte {
	sorted := make([]DirEntry, len(d.Entries))
	copy(sorted, d.Entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	encodeHeader(&buf, d.Header)
	if d.InheritAuth {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(sorted)))
	buf.Write(countBuf[:])

	for _, e := range sorted {
		var nameLenBuf [4]byte
		binary.BigEndian.PutUint32(nameLenBuf[:], uint32(len(e.Name)))
		buf.Write(nameLenBuf[:])
		buf.WriteString(e.Name)
		buf.WriteByte(byte(e.Type))
		buf.Write(e.Address.Bytes())
	}
	return buf.Bytes()
}

// DecodeDirectory parses the bytes produced by EncodeDirectory.
func DecodeDirectory(data []byte) (*Directory, error) {
	r := bytes.NewReader(data)
	d := &Directory{}

	h, err := decodeHeaderPayload(r)
	if err != nil {
		return nil, err
	}
	d.Header = h

	inheritByte, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	d.InheritAuth = inheritByte != 0

	var countBuf [4]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return nil, err
	}
	count := binary.BigEndian.Uint32(countBuf[:])

	d.Entries = make([]DirEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		var nameLenBuf [4]byte
		if _, err := io.ReadFull(r, nameLenBuf[:]); err != nil {
			return nil, err
		}
		nameLen := binary.BigEndian.Uint32(nameLenBuf[:])
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(r, nameBuf); err != nil {
			return nil, err
		}
		typeByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		addrBuf := make([]byte, block.AddressSize)
		if _, err := io.ReadFull(r, addrBuf); err != nil {
			return nil, err
		}
		addr, err := block.AddressFromBytes(addrBuf)
		if err != nil {
			return nil, err
		}
		d.Entries = append(d.Entries, DirEntry{
			Name:    string(nameBuf),
			Type:    EntryType(typeByte),
			Address: addr,
		})
	}
	return d, nil
}
