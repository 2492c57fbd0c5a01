package fsdata

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/silofs/silofs/internal/block"
)

// FATEntry is one chunk of a file: the CHB address of its ciphertext and
// the per-chunk symmetric key used to decrypt it. A zero-valued Address
// marks a hole (sparse region), which reads as zeros without a fetch.
type FATEntry struct {
	Address block.Address
	Key     [32]byte
}

// IsHole reports whether this FAT entry is an unmaterialized sparse region.
func (e FATEntry) IsHole() bool {
	return e.Address.Equal(block.Address{})
}

// File is the decoded payload of a regular file's ACB.
type File struct {
	Header      Header
	Size        uint64
	BlockSize   uint32
	InlineData  []byte
	FAT         []FATEntry
}

// EncodeFile serializes a File payload.
func EncodeFile(f *File) []byte {
	var buf bytes.Buffer
	encodeHeader(&buf, f.Header)
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], f.Size)
	buf.Write(sizeBuf[:])

	var blockSizeBuf [4]byte
	binary.BigEndian.PutUint32(blockSizeBuf[:], f.BlockSize)
	buf.Write(blockSizeBuf[:])

	var inlineLenBuf [4]byte
	binary.BigEndian.PutUint32(inlineLenBuf[:], uint32(len(f.InlineData)))
	buf.Write(inlineLenBuf[:])
	buf.Write(f.InlineData)

	var fatLenBuf [4]byte
	binary.BigEndian.PutUint32(fatLenBuf[:], uint32(len(f.FAT)))
	buf.Write(fatLenBuf[:])
	for _, entry := range f.FAT {
		buf.Write(entry.Address.Bytes())
		buf.Write(entry.Key[:])
	}
	return buf.Bytes()
}

// DecodeFile parses the bytes produced by EncodeFile.
func DecodeFile(data []byte) (*File, error) {
	r := bytes.NewReader(data)
	f := &File{}

	h, err := decodeHeaderPayload(r)
	if err != nil {
		return nil, err
	}
	f.Header = h

	var sizeBuf [8]byte
	if _, err := io.ReadFull(r, sizeBuf[:]); err != nil {
		return nil, err
	}
	f.Size = binary.BigEndian.Uint64(sizeBuf[:])

	var blockSizeBuf [4]byte
	if _, err := io.ReadFull(r, blockSizeBuf[:]); err != nil {
		return nil, err
	}
	f.BlockSize = binary.BigEndian.Uint32(blockSizeBuf[:])

	var inlineLenBuf [4]byte
	if _, err := io.ReadFull(r, inlineLenBuf[:]); err != nil {
		return nil, err
	}
	inlineLen := binary.BigEndian.Uint32(inlineLenBuf[:])
	f.InlineData = make([]byte, inlineLen)
	if _, err := io.ReadFull(r, f.InlineData); err != nil {
		return nil, err
	}

	var fatLenBuf [4]byte
	if _, err := io.ReadFull(r, fatLenBuf[:]); err != nil {
		return nil, err
	}
	fatLen := binary.BigEndian.Uint32(fatLenBuf[:])
	f.FAT = make([]FATEntry, fatLen)
	for i := uint32(0); i < fatLen; i++ {
		addrBuf := make([]byte, block.AddressSize)
		if _, err := io.ReadFull(r, addrBuf); err != nil {
			return nil, err
		}
		addr, err := block.AddressFromBytes(addrBuf)
		if err != nil {
			return nil, err
		}
		var key [32]byte
		if _, err := io.ReadFull(r, key[:]); err != nil {
			return nil, err
		}
		f.FAT[i] = FATEntry{Address: addr, Key: key}
	}
	return f, nil
}

// Clone returns a deep copy safe for a resolver or handle to mutate.
func (f *File) Clone() *File {
	out := &File{Header: f.Header.Clone(), Size: f.Size, BlockSize: f.BlockSize}
	out.InlineData = make([]byte, len(f.InlineData))
	copy(out.InlineData, f.InlineData)
	out.FAT = make([]FATEntry, len(f.FAT))
	copy(out.FAT, f.FAT)
	return out
}
