package resolver

import (
	"encoding/json"
	"fmt"

	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/fsdata"
)

// wireEnvelope is the on-disk/on-journal shape of a Resolver: a kind tag
// plus the kind-specific JSON body. This is what the async journal spills
// to disk so a queued edit survives a restart.
type wireEnvelope struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
}

type directoryEditWire struct {
	Op         DirOp            `json:"op"`
	TargetName string           `json:"target_name"`
	TargetType fsdata.EntryType `json:"target_type"`
	TargetAddr string           `json:"target_addr"`
}

type fileEditWire struct {
	NewSize      uint64 `json:"new_size"`
	NewBlockSize uint32 `json:"new_block_size"`
	NewInline    []byte `json:"new_inline"`
	NewFAT       []struct {
		Address string   `json:"address"`
		Key     [32]byte `json:"key"`
	} `json:"new_fat"`
}

type permissionsEditWire struct {
	SetInheritAuth bool `json:"set_inherit_auth"`
	InheritAuth    bool `json:"inherit_auth"`
}

type headerEditWire struct {
	Payload PayloadKind `json:"payload"`

	SetUid bool   `json:"set_uid"`
	Uid    uint32 `json:"uid"`
	SetGid bool   `json:"set_gid"`
	Gid    uint32 `json:"gid"`
	SetMode bool  `json:"set_mode"`
	Mode    uint32 `json:"mode"`

	SetAtime bool  `json:"set_atime"`
	Atime    int64 `json:"atime"`
	SetMtime bool  `json:"set_mtime"`
	Mtime    int64 `json:"mtime"`
	SetCtime bool  `json:"set_ctime"`
	Ctime    int64 `json:"ctime"`

	SetXattrs    map[string][]byte `json:"set_xattrs,omitempty"`
	DeleteXattrs []string          `json:"delete_xattrs,omitempty"`
}

type insertWire struct {
	Payload []byte `json:"payload"`
}

type mergeWire struct {
	First  wireEnvelope `json:"first"`
	Second wireEnvelope `json:"second"`
}

// Marshal serializes r for journal persistence. Marshaling a Merge whose
// components cannot themselves be marshaled returns an error; callers
// (the async journal) treat that as "squashing disabled for this op" per
// the replay-time deserialization rule.
func Marshal(r Resolver) ([]byte, error) {
	env, err := marshalEnvelope(r)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func marshalEnvelope(r Resolver) (wireEnvelope, error) {
	switch v := r.(type) {
	case *DirectoryEdit:
		body, err := json.Marshal(directoryEditWire{
			Op: v.Op, TargetName: v.TargetName, TargetType: v.TargetType,
			TargetAddr: v.TargetAddr.String(),
		})
		return wireEnvelope{Kind: KindDirectoryEdit, Body: body}, err
	case *FileEdit:
		wire := fileEditWire{NewSize: v.NewSize, NewBlockSize: v.NewBlockSize, NewInline: v.NewInline}
		for _, e := range v.NewFAT {
			wire.NewFAT = append(wire.NewFAT, struct {
				Address string   `json:"address"`
				Key     [32]byte `json:"key"`
			}{Address: e.Address.String(), Key: e.Key})
		}
		body, err := json.Marshal(wire)
		return wireEnvelope{Kind: KindFileEdit, Body: body}, err
	case *PermissionsEdit:
		body, err := json.Marshal(permissionsEditWire{SetInheritAuth: v.SetInheritAuth, InheritAuth: v.InheritAuth})
		return wireEnvelope{Kind: KindPermissionsEdit, Body: body}, err
	case *HeaderEdit:
		body, err := json.Marshal(headerEditWire{
			Payload: v.Payload,
			SetUid: v.SetUid, Uid: v.Uid, SetGid: v.SetGid, Gid: v.Gid,
			SetMode: v.SetMode, Mode: v.Mode,
			SetAtime: v.SetAtime, Atime: v.Atime, SetMtime: v.SetMtime, Mtime: v.Mtime,
			SetCtime: v.SetCtime, Ctime: v.Ctime,
			SetXattrs: v.SetXattrs, DeleteXattrs: v.DeleteXattrs,
		})
		return wireEnvelope{Kind: KindHeaderEdit, Body: body}, err
	case *Insert:
		body, err := json.Marshal(insertWire{Payload: v.Payload})
		return wireEnvelope{Kind: KindInsert, Body: body}, err
	case *Merge:
		firstEnv, err := marshalEnvelope(v.First)
		if err != nil {
			return wireEnvelope{}, err
		}
		secondEnv, err := marshalEnvelope(v.Second)
		if err != nil {
			return wireEnvelope{}, err
		}
		body, err := json.Marshal(mergeWire{First: firstEnv, Second: secondEnv})
		return wireEnvelope{Kind: KindMerge, Body: body}, err
	default:
		return wireEnvelope{}, fmt.Errorf("resolver: unknown resolver type %T", r)
	}
}

// Unmarshal reverses Marshal.
func Unmarshal(data []byte) (Resolver, error) {
	var env wireEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return unmarshalEnvelope(env)
}

func unmarshalEnvelope(env wireEnvelope) (Resolver, error) {
	switch env.Kind {
	case KindDirectoryEdit:
		var w directoryEditWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		addr, err := block.AddressFromHex(w.TargetAddr)
		if err != nil {
			return nil, err
		}
		return &DirectoryEdit{Op: w.Op, TargetName: w.TargetName, TargetType: w.TargetType, TargetAddr: addr}, nil
	case KindFileEdit:
		var w fileEditWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		fe := &FileEdit{NewSize: w.NewSize, NewBlockSize: w.NewBlockSize, NewInline: w.NewInline}
		for _, e := range w.NewFAT {
			addr, err := block.AddressFromHex(e.Address)
			if err != nil {
				return nil, err
			}
			fe.NewFAT = append(fe.NewFAT, fsdata.FATEntry{Address: addr, Key: e.Key})
		}
		return fe, nil
	case KindPermissionsEdit:
		var w permissionsEditWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return &PermissionsEdit{SetInheritAuth: w.SetInheritAuth, InheritAuth: w.InheritAuth}, nil
	case KindHeaderEdit:
		var w headerEditWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return &HeaderEdit{
			Payload: w.Payload,
			SetUid: w.SetUid, Uid: w.Uid, SetGid: w.SetGid, Gid: w.Gid,
			SetMode: w.SetMode, Mode: w.Mode,
			SetAtime: w.SetAtime, Atime: w.Atime, SetMtime: w.SetMtime, Mtime: w.Mtime,
			SetCtime: w.SetCtime, Ctime: w.Ctime,
			SetXattrs: w.SetXattrs, DeleteXattrs: w.DeleteXattrs,
		}, nil
	case KindInsert:
		var w insertWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		return &Insert{Payload: w.Payload}, nil
	case KindMerge:
		var w mergeWire
		if err := json.Unmarshal(env.Body, &w); err != nil {
			return nil, err
		}
		first, err := unmarshalEnvelope(w.First)
		if err != nil {
			return nil, err
		}
		second, err := unmarshalEnvelope(w.Second)
		if err != nil {
			return nil, err
		}
		return &Merge{First: first, Second: second}, nil
	default:
		return nil, fmt.Errorf("resolver: unknown resolver kind %d", env.Kind)
	}
}
