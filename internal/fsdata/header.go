package fsdata

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"
)

// Header is the POSIX-ish metadata carried by both directory and file
// payloads: ownership, mode bits, timestamps, and extended attributes.
// World-readability lives on the block's address (a fast envelope-level
// gate); the world-write bit lives here in Mode, since only the owner's
// ACB envelope can ever change the address, while Mode can be rewritten
// freely across versions.
type Header struct {
	Uid, Gid uint32
	Mode     uint32
	Atime    int64
	Mtime    int64
	Ctime    int64
	Xattrs   map[string][]byte
}

// Clone returns a deep copy of h.
func (h Header) Clone() Header {
	out := h
	if h.Xattrs != nil {
		out.Xattrs = make(map[string][]byte, len(h.Xattrs))
		for k, v := range h.Xattrs {
			cp := make([]byte, len(v))
			copy(cp, v)
			out.Xattrs[k] = cp
		}
	}
	return out
}

func encodeHeader(buf *bytes.Buffer, h Header) {
	var u32 [4]byte
	binary.BigEndian.PutUint32(u32[:], h.Uid)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], h.Gid)
	buf.Write(u32[:])
	binary.BigEndian.PutUint32(u32[:], h.Mode)
	buf.Write(u32[:])

	var i64 [8]byte
	binary.BigEndian.PutUint64(i64[:], uint64(h.Atime))
	buf.Write(i64[:])
	binary.BigEndian.PutUint64(i64[:], uint64(h.Mtime))
	buf.Write(i64[:])
	binary.BigEndian.PutUint64(i64[:], uint64(h.Ctime))
	buf.Write(i64[:])

	keys := make([]string, 0, len(h.Xattrs))
	for k := range h.Xattrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	binary.BigEndian.PutUint32(u32[:], uint32(len(keys)))
	buf.Write(u32[:])
	for _, k := range keys {
		writeUint32PrefixedString(buf, k)
		writeUint32PrefixedBytes(buf, h.Xattrs[k])
	}
}

func decodeHeaderPayload(r *bytes.Reader) (Header, error) {
	var h Header
	var u32 [4]byte
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return h, err
	}
	h.Uid = binary.BigEndian.Uint32(u32[:])
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return h, err
	}
	h.Gid = binary.BigEndian.Uint32(u32[:])
	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return h, err
	}
	h.Mode = binary.BigEndian.Uint32(u32[:])

	var i64 [8]byte
	if _, err := io.ReadFull(r, i64[:]); err != nil {
		return h, err
	}
	h.Atime = int64(binary.BigEndian.Uint64(i64[:]))
	if _, err := io.ReadFull(r, i64[:]); err != nil {
		return h, err
	}
	h.Mtime = int64(binary.BigEndian.Uint64(i64[:]))
	if _, err := io.ReadFull(r, i64[:]); err != nil {
		return h, err
	}
	h.Ctime = int64(binary.BigEndian.Uint64(i64[:]))

	if _, err := io.ReadFull(r, u32[:]); err != nil {
		return h, err
	}
	count := binary.BigEndian.Uint32(u32[:])
	if count > 0 {
		h.Xattrs = make(map[string][]byte, count)
	}
	for i := uint32(0); i < count; i++ {
		k, err := readUint32PrefixedString(r)
		if err != nil {
			return h, err
		}
		v, err := readUint32PrefixedBytes(r)
		if err != nil {
			return h, err
		}
		h.Xattrs[k] = v
	}
	return h, nil
}

func writeUint32PrefixedBytes(buf *bytes.Buffer, b []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func writeUint32PrefixedString(buf *bytes.Buffer, s string) {
	writeUint32PrefixedBytes(buf, []byte(s))
}

func readUint32PrefixedBytes(r *bytes.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}

func readUint32PrefixedString(r *bytes.Reader) (string, error) {
	b, err := readUint32PrefixedBytes(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
