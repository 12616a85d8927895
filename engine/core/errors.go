package core

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrRendererBooting = errors.New("renderer not initialized")

	// Error kinds. Driver and build failures are marked with one of these so
	// callers can classify them with errors.Is.
	ErrOutOfMemory     = errors.New("out of memory")
	ErrDeviceLost      = errors.New("device lost")
	ErrStale           = errors.New("surface stale")
	ErrInvalidArgument = errors.New("invalid argument")
)

// ErrorKind classifies an error returned by the renderer.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindOutOfMemory
	KindDeviceLost
	KindStale
	KindInvalidArgument
)

func (k ErrorKind) String() string {
	switch k {
	case KindOutOfMemory:
		return "OutOfMemory"
	case KindDeviceLost:
		return "DeviceLost"
	case KindStale:
		return "Stale"
	case KindInvalidArgument:
		return "InvalidArgument"
	default:
		return "Unknown"
	}
}

// ResultKind returns the kind err was marked with.
func ResultKind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrOutOfMemory):
		return KindOutOfMemory
	case errors.Is(err, ErrDeviceLost):
		return KindDeviceLost
	case errors.Is(err, ErrStale):
		return KindStale
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	default:
		return KindUnknown
	}
}

// InvariantViolation is the panic value raised by Assertf. It signals a
// programming error in the caller, never a runtime condition.
type InvariantViolation struct {
	Message string
}

func (iv *InvariantViolation) Error() string {
	return "invariant violation: " + iv.Message
}

// Assertf panics with an *InvariantViolation when cond is false.
func Assertf(cond bool, format string, args ...interface{}) {
	if cond {
		return
	}
	iv := &InvariantViolation{Message: fmt.Sprintf(format, args...)}
	LogError(iv.Error())
	panic(iv)
}
