package block

import (
	stderrors "errors"

	siloerrors "github.com/silofs/silofs/pkg/errors"
)

var (
	errInvalidAddressLength = stderrors.New("block: address must be exactly 32 bytes")
	errUnknownKind          = stderrors.New("block: unknown block kind")
)

// ErrValidation wraps a validation failure with the structured error code
// the consensus layer and filesystem boundary dispatch on.
func ErrValidation(component, reason string) error {
	return siloerrors.New(siloerrors.ErrCodeValidationFailed, reason).WithComponent(component)
}

// ErrInvalidArgument wraps a malformed-input failure.
func ErrInvalidArgument(component, reason string) error {
	return siloerrors.New(siloerrors.ErrCodeInvalidArgument, reason).WithComponent(component)
}
