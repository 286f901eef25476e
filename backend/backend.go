package backend

import (
	"errors"
	"fmt"

	"github.com/gogpu/shaderbox/backend/native"
)

// Backend names accepted by Get and Open.
const (
	// Auto selects the best available backend.
	Auto = "auto"

	// Noop records and submits nothing. Used for tests and dry runs.
	Noop = "noop"

	// Software is the CPU rasterizer backend of gogpu/wgpu.
	Software = "software"

	Vulkan = "vulkan"
	Metal  = "metal"
	DX12   = "dx12"
	GL     = "gl"
)

// Common backend errors.
var (
	// ErrBackendNotAvailable is returned when a requested backend is not available.
	ErrBackendNotAvailable = errors.New("backend: not available")

	// ErrUnknownBackend is returned for a name nobody registered.
	ErrUnknownBackend = errors.New("backend: unknown backend")
)

// Open opens a native device on the named backend.
func Open(name string, cfg native.Config) (*native.Device, error) {
	b, err := Get(name)
	if err != nil {
		return nil, err
	}
	d, err := native.Open(b, cfg)
	if err != nil {
		return nil, fmt.Errorf("backend: open %s: %w", name, err)
	}
	return d, nil
}
