package resolver

import (
	"github.com/silofs/silofs/internal/fsdata"
)

// FileEdit rewrites a file's data layout on top of whatever is currently
// stored, so a concurrent metadata-only change (e.g. a permissions edit)
// racing a write doesn't get clobbered by a blind overwrite.
type FileEdit struct {
	NewSize       uint64
	NewBlockSize  uint32
	NewInline     []byte
	NewFAT        []fsdata.FATEntry
}

func (e *FileEdit) Kind() Kind { return KindFileEdit }

func (e *FileEdit) Resolve(_, currentPayload []byte) ([]byte, error) {
	// The commit protocol always produces NewFAT/NewInline against the
	// chunk layout the writer observed; a conflict here means another
	// writer changed size/layout concurrently, which silofs resolves by
	// taking this writer's data wholesale (last-writer-wins on content,
	// same as the source: file edits don't merge byte ranges). The header
	// (uid/gid/mode/times/xattrs) is a metadata-only concern owned by
	// HeaderEdit, so a data write always carries the current header
	// forward rather than resetting it.
	current, err := fsdata.DecodeFile(currentPayload)
	if err != nil {
		return nil, err
	}
	f := &fsdata.File{
		Header:     current.Header,
		Size:       e.NewSize,
		BlockSize:  e.NewBlockSize,
		InlineData: e.NewInline,
		FAT:        e.NewFAT,
	}
	return fsdata.EncodeFile(f), nil
}

func (e *FileEdit) Squashable(other Resolver) SquashOutcome {
	if _, ok := other.(*FileEdit); !ok {
		return Stop
	}
	// Two queued file edits to the same address: the later one already
	// carries a full replacement layout, so the earlier one is dead.
	return AtLastPositionContinue
}
