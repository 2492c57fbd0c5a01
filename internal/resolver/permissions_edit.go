package resolver

import (
	"github.com/silofs/silofs/internal/fsdata"
)

// PermissionsEdit re-applies world-readable/world-writable bits or the
// inherit-auth flag on top of whatever the current block holds. For a
// directory payload this only touches InheritAuth; for ACL/world bits that
// live in the ACB envelope rather than the decoded payload, the consensus
// layer applies them directly when committing — this resolver exists for
// the directory-payload inherit flag, which does live in the payload.
type PermissionsEdit struct {
	SetInheritAuth bool
	InheritAuth    bool
}

func (e *PermissionsEdit) Kind() Kind { return KindPermissionsEdit }

func (e *PermissionsEdit) Resolve(_, currentPayload []byte) ([]byte, error) {
	dir, err := fsdata.DecodeDirectory(currentPayload)
	if err != nil {
		return nil, err
	}
	if e.SetInheritAuth {
		dir.InheritAuth = e.InheritAuth
	}
	return fsdata.EncodeDirectory(dir), nil
}

func (e *PermissionsEdit) Squashable(other Resolver) SquashOutcome {
	if _, ok := other.(*PermissionsEdit); !ok {
		return Stop
	}
	return AtLastPositionContinue
}
