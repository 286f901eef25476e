package native

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/shaderbox/gpucore"
)

// Package errors for the native backend.
var (
	// ErrNoAdapter is returned when the backend exposes no GPU adapter.
	ErrNoAdapter = errors.New("native: no GPU adapter available")

	// ErrUnknownObject is returned for an ID the device never created or
	// already destroyed.
	ErrUnknownObject = errors.New("native: unknown object")

	// ErrRecordingDone is returned when a finished or discarded recording
	// is used again.
	ErrRecordingDone = errors.New("native: recording already finished")
)

// wrap annotates a HAL error. Device loss and HAL timeouts become
// gpucore.DeviceLostError so callers can tell them apart from
// recoverable failures.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, hal.ErrDeviceLost) || errors.Is(err, hal.ErrTimeout) {
		return &gpucore.DeviceLostError{Op: op, Err: err}
	}
	return fmt.Errorf("native: %s: %w", op, err)
}

func unknown(kind string, id uint64) error {
	return fmt.Errorf("%w: %s %d", ErrUnknownObject, kind, id)
}
