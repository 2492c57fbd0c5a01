package resolver

import (
	"github.com/silofs/silofs/internal/fsdata"
)

// PayloadKind tells HeaderEdit which payload codec to use: directories and
// files share the same leading Header encoding but differ in everything
// after it, so the resolver still needs to know which tail to re-encode.
type PayloadKind uint8

const (
	PayloadDirectory PayloadKind = iota + 1
	PayloadFile
)

// HeaderEdit re-applies ownership, mode, timestamp, and xattr changes on
// top of whatever the current block holds, leaving entries/FAT/inline data
// untouched. This is what chmod/chown/utimens/xattr filesystem operations
// submit, so a concurrent data write to the same address doesn't get
// clobbered by a metadata-only edit or vice versa.
type HeaderEdit struct {
	Payload PayloadKind

	SetUid bool
	Uid    uint32
	SetGid bool
	Gid    uint32
	SetMode bool
	Mode    uint32

	SetAtime bool
	Atime    int64
	SetMtime bool
	Mtime    int64
	SetCtime bool
	Ctime    int64

	SetXattrs    map[string][]byte
	DeleteXattrs []string
}

func (e *HeaderEdit) Kind() Kind { return KindHeaderEdit }

func (e *HeaderEdit) applyTo(h fsdata.Header) fsdata.Header {
	out := h.Clone()
	if e.SetUid {
		out.Uid = e.Uid
	}
	if e.SetGid {
		out.Gid = e.Gid
	}
	if e.SetMode {
		out.Mode = e.Mode
	}
	if e.SetAtime {
		out.Atime = e.Atime
	}
	if e.SetMtime {
		out.Mtime = e.Mtime
	}
	if e.SetCtime {
		out.Ctime = e.Ctime
	}
	if len(e.SetXattrs) > 0 {
		if out.Xattrs == nil {
			out.Xattrs = make(map[string][]byte, len(e.SetXattrs))
		}
		for k, v := range e.SetXattrs {
			out.Xattrs[k] = v
		}
	}
	for _, k := range e.DeleteXattrs {
		delete(out.Xattrs, k)
	}
	return out
}

func (e *HeaderEdit) Resolve(_, currentPayload []byte) ([]byte, error) {
	switch e.Payload {
	case PayloadDirectory:
		dir, err := fsdata.DecodeDirectory(currentPayload)
		if err != nil {
			return nil, err
		}
		dir.Header = e.applyTo(dir.Header)
		return fsdata.EncodeDirectory(dir), nil
	case PayloadFile:
		f, err := fsdata.DecodeFile(currentPayload)
		if err != nil {
			return nil, err
		}
		f.Header = e.applyTo(f.Header)
		return fsdata.EncodeFile(f), nil
	default:
		return nil, errUnknownPayloadKind
	}
}

func (e *HeaderEdit) Squashable(other Resolver) SquashOutcome {
	o, ok := other.(*HeaderEdit)
	if !ok || o.Payload != e.Payload {
		return Stop
	}
	// Later-queued header edit's explicit field sets win; fields it
	// doesn't touch still carry e's values forward via applyTo starting
	// from the already-resolved Header, so a plain Merge (not a custom
	// field-union) is correct here too.
	return AtLastPositionContinue
}
