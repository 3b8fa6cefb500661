package tensor

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by every backend. Use errors.Is to classify a failure.
var (
	ErrDeviceInit        = errors.New("device initialization failed")
	ErrOutOfDeviceMemory = errors.New("out of device memory")
	ErrUnimplemented     = errors.New("operation not implemented")
	ErrDeviceMismatch    = errors.New("device mismatch")
	ErrReadbackTimeout   = errors.New("readback timed out")
	ErrMapFailed         = errors.New("buffer mapping failed")
	ErrLayout            = errors.New("invalid layout")
	ErrDType             = errors.New("dtype mismatch")
	ErrReleased          = errors.New("resource released")
)

// BackendError describes a failed backend operation.
type BackendError struct {
	Backend string // Backend name (e.g., "cpu", "webgpu")
	Op      string // Operation name (e.g., "matmul")
	Kind    error  // One of the Err* sentinels
	Err     error  // Underlying cause, may be nil
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v: %v", e.Backend, e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Kind)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *BackendError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// NewBackendError builds a BackendError of the given kind.
func NewBackendError(backend, op string, kind, cause error) *BackendError {
	return &BackendError{Backend: backend, Op: op, Kind: kind, Err: cause}
}

// Unimplemented returns the error a backend reports for an operation it does not provide.
func Unimplemented(backend, op string) error {
	return &BackendError{Backend: backend, Op: op, Kind: ErrUnimplemented}
}

// Mismatch returns a device mismatch error for op.
func Mismatch(backend, op, detail string) error {
	return &BackendError{Backend: backend, Op: op, Kind: ErrDeviceMismatch, Err: errors.New(detail)}
}

// LayoutErrorf returns an ErrLayout-kind error with a formatted detail.
func LayoutErrorf(backend, op, format string, args ...any) error {
	return &BackendError{Backend: backend, Op: op, Kind: ErrLayout, Err: fmt.Errorf(format, args...)}
}

// DTypeErrorf returns an ErrDType-kind error with a formatted detail.
func DTypeErrorf(backend, op, format string, args ...any) error {
	return &BackendError{Backend: backend, Op: op, Kind: ErrDType, Err: fmt.Errorf(format, args...)}
}

// IsUnimplemented reports whether err (or anything it wraps) is ErrUnimplemented.
func IsUnimplemented(err error) bool {
	return errors.Is(err, ErrUnimplemented)
}

// UnimplementedOp extracts the operation name from an unimplemented error.
func UnimplementedOp(err error) (string, bool) {
	var be *BackendError
	if errors.As(err, &be) && errors.Is(be.Kind, ErrUnimplemented) {
		return be.Op, true
	}
	return "", false
}
