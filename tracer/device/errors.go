package device

import "errors"

var (
	ErrDeviceLost          = errors.New("device: device lost")
	ErrContextClosed       = errors.New("device: context closed")
	ErrInvalidSize         = errors.New("device: resource size must be greater than zero")
	ErrInvalidState        = errors.New("device: invalid resource state")
	ErrInvalidAccess       = errors.New("device: resource access flags do not allow this usage")
	ErrNotMappable         = errors.New("device: resource is not host visible")
	ErrReleased            = errors.New("device: resource already released")
	ErrOutOfBounds         = errors.New("device: access out of resource bounds")
	ErrMisaligned          = errors.New("device: misaligned offset or stride")
	ErrInvalidAddress      = errors.New("device: address does not reference a live resource")
	ErrListClosed          = errors.New("device: command list is closed")
	ErrListNotClosed       = errors.New("device: command list is still recording")
	ErrListPending         = errors.New("device: command list is pending execution")
	ErrNoPipeline          = errors.New("device: no pipeline state bound")
	ErrUnknownExport       = errors.New("device: unknown shader export")
	ErrUnknownIdentifier   = errors.New("device: shader record references an unknown identifier")
	ErrRecursionDepth      = errors.New("device: maximum trace recursion depth exceeded")
	ErrInvalidDescriptor   = errors.New("device: invalid descriptor")
	ErrInvalidRootArgument = errors.New("device: invalid root argument")
)
