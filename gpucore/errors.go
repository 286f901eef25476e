package gpucore

import (
	"errors"
	"fmt"
)

// Error taxonomy sentinels. Every concrete error type below unwraps to one
// of these, so callers can match with errors.Is or errors.As.
var (
	// ErrAllocation is returned when the GPU rejects an allocation or the
	// memory budget would be exceeded.
	ErrAllocation = errors.New("gpucore: allocation failed")

	// ErrStaleHandle is returned when a handle's generation is not live.
	ErrStaleHandle = errors.New("gpucore: stale handle")

	// ErrResourceAccess is returned for malformed access declarations.
	ErrResourceAccess = errors.New("gpucore: invalid resource access")

	// ErrDeviceLost is returned once the device is unusable. It is fatal
	// to the session.
	ErrDeviceLost = errors.New("gpucore: device lost")

	// ErrAudioStream is returned for non-fatal audio stream problems.
	ErrAudioStream = errors.New("gpucore: audio stream")
)

// AllocationError reports a failed resource allocation.
type AllocationError struct {
	Kind  ResourceKind
	Label string
	Size  uint64

	// Err is the backend cause, if any.
	Err error
}

func (e *AllocationError) Error() string {
	msg := fmt.Sprintf("gpucore: allocate %s %q (%d bytes)", e.Kind, e.Label, e.Size)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *AllocationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAllocation}
	}
	return []error{ErrAllocation, e.Err}
}

// StaleHandleError reports use of a released handle.
type StaleHandleError struct {
	Handle Handle

	// Live is the slot's current generation.
	Live uint32
}

func (e *StaleHandleError) Error() string {
	return fmt.Sprintf("gpucore: stale handle %s (live generation %d)", e.Handle, e.Live)
}

func (e *StaleHandleError) Unwrap() error { return ErrStaleHandle }

// ResourceAccessError reports a malformed access declaration or a handle
// that went stale between graph build and recording.
type ResourceAccessError struct {
	Pass   string
	Handle Handle
	Reason string
	Err    error
}

func (e *ResourceAccessError) Error() string {
	msg := fmt.Sprintf("gpucore: pass %q: %s %s", e.Pass, e.Handle, e.Reason)
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *ResourceAccessError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResourceAccess}
	}
	return []error{ErrResourceAccess, e.Err}
}

// DeviceLostError reports an unrecoverable device failure.
type DeviceLostError struct {
	Op  string
	Err error
}

func (e *DeviceLostError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gpucore: device lost during %s: %v", e.Op, e.Err)
	}
	return "gpucore: device lost during " + e.Op
}

func (e *DeviceLostError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDeviceLost}
	}
	return []error{ErrDeviceLost, e.Err}
}

// AudioStreamWarning reports a non-fatal audio problem. The audio resource
// keeps its previous contents.
type AudioStreamWarning struct {
	Reason string
	Err    error
}

func (e *AudioStreamWarning) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gpucore: audio stream %s: %v", e.Reason, e.Err)
	}
	return "gpucore: audio stream " + e.Reason
}

func (e *AudioStreamWarning) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrAudioStream}
	}
	return []error{ErrAudioStream, e.Err}
}

// IsFatal reports whether err terminates the session.
func IsFatal(err error) bool {
	return errors.Is(err, ErrDeviceLost)
}
