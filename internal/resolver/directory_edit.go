package resolver

import (
	"github.com/silofs/silofs/internal/block"
	"github.com/silofs/silofs/internal/fsdata"
)

// DirOp is the operation a DirectoryEdit replays.
type DirOp int

const (
	OpInsert DirOp = iota
	OpInsertExclusive
	OpUpdate
	OpRemove
)

// DirectoryEdit replays a single named entry change on top of whatever the
// directory currently holds, rather than blindly overwriting it — this is
// what lets two concurrent mkdir calls in the same directory both succeed.
type DirectoryEdit struct {
	Op          DirOp
	TargetName  string
	TargetType  fsdata.EntryType
	TargetAddr  block.Address
}

func (e *DirectoryEdit) Kind() Kind { return KindDirectoryEdit }

func (e *DirectoryEdit) Resolve(_, currentPayload []byte) ([]byte, error) {
	dir, err := fsdata.DecodeDirectory(currentPayload)
	if err != nil {
		return nil, err
	}

	entry := fsdata.DirEntry{Name: e.TargetName, Type: e.TargetType, Address: e.TargetAddr}

	switch e.Op {
	case OpInsert:
		dir.Upsert(entry)
	case OpInsertExclusive:
		if _, exists := dir.Find(e.TargetName); exists {
			return nil, &ErrAlreadyExists{Name: e.TargetName}
		}
		dir.Upsert(entry)
	case OpUpdate:
		if _, exists := dir.Find(e.TargetName); !exists {
			// Concurrent remove raced this update: drop it rather
			// than resurrecting a name nobody asked for.
			return fsdata.EncodeDirectory(dir), nil
		}
		dir.Upsert(entry)
	case OpRemove:
		dir.Remove(e.TargetName)
	}

	return fsdata.EncodeDirectory(dir), nil
}

func (e *DirectoryEdit) Squashable(other Resolver) SquashOutcome {
	o, ok := other.(*DirectoryEdit)
	if !ok {
		return Stop
	}
	if o.TargetName != e.TargetName {
		return Skip
	}
	// Same name: the later-queued edit (other, queued after e) fully
	// determines the outcome, except a remove following an
	// insert_exclusive must still observe the exclusivity failure mode,
	// which only matters at apply time — safe to squash regardless.
	return AtLastPositionContinue
}
