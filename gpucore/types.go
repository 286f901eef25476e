package gpucore

import (
	"fmt"

	"github.com/gogpu/gputypes"
)

// Backend object IDs
//
// These opaque IDs represent backend objects. Each Device implementation
// maintains a mapping between IDs and actual API objects.
// IDs are uint64 to accommodate various backend handle sizes.

// BufferID is an opaque handle to a GPU buffer.
type BufferID uint64

// ImageID is an opaque handle to a GPU image (texture plus its default view).
type ImageID uint64

// ProgramID is an opaque handle to a compiled compute program.
type ProgramID uint64

// FenceID is an opaque handle to a completion fence.
type FenceID uint64

// CommandBuffer is an opaque handle to a finished command buffer.
type CommandBuffer uint64

// InvalidID is the zero value, representing an invalid/null object.
const InvalidID = 0

// ResourceKind distinguishes the two kinds of registry resources.
type ResourceKind uint8

const (
	// KindBuffer is a linear GPU buffer.
	KindBuffer ResourceKind = iota + 1

	// KindImage is a GPU image.
	KindImage
)

// String returns the string representation of ResourceKind.
func (k ResourceKind) String() string {
	switch k {
	case KindBuffer:
		return "Buffer"
	case KindImage:
		return "Image"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Handle is an opaque, copyable reference to a registry resource.
//
// A handle is valid only while its generation matches the live generation
// of its slot. Releasing the resource increments the slot generation, so
// every outstanding copy of the old handle fails to resolve from then on.
// Handles are compared by value. The zero Handle never refers to a
// resource.
type Handle struct {
	index      uint32
	generation uint32
}

// MakeHandle builds a handle from its parts. Host code receives handles from
// the registry; MakeHandle exists for backends and tests.
func MakeHandle(index, generation uint32) Handle {
	return Handle{index: index, generation: generation}
}

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h == Handle{} }

// Index returns the slot index.
func (h Handle) Index() uint32 { return h.index }

// Generation returns the generation the handle was issued with.
func (h Handle) Generation() uint32 { return h.generation }

// String formats the handle as index.generation.
func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.index, h.generation)
}

// BufferDesc describes a buffer to register.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes. Must be non-zero.
	Size uint64

	// Usage is the buffer usage. Storage is added when zero.
	Usage gputypes.BufferUsage
}

// ImageDesc describes a 2D or 3D image to register.
type ImageDesc struct {
	// Label is an optional debug label.
	Label string

	// Width, Height and Depth are the image dimensions in texels.
	// Depth of 0 is treated as 1.
	Width, Height, Depth uint32

	// Format is the texel format.
	Format gputypes.TextureFormat

	// Usage is the image usage. StorageBinding|TextureBinding|CopySrc is
	// used when zero.
	Usage gputypes.TextureUsage
}

// Extent returns the image dimensions with Depth normalized to at least 1.
func (d ImageDesc) Extent() (w, h, depth uint32) {
	depth = d.Depth
	if depth == 0 {
		depth = 1
	}
	return d.Width, d.Height, depth
}

// ProgramDesc describes a compute program.
type ProgramDesc struct {
	// Label is an optional debug label.
	Label string

	// SPIRV is the compiled SPIR-V module. Either SPIRV or WGSL must be set.
	SPIRV []uint32

	// WGSL is the WGSL source, passed through to backends that accept it.
	WGSL string

	// EntryPoint is the compute entry point. Defaults to "main".
	EntryPoint string

	// Constants are pipeline-overridable constants.
	Constants map[string]float64
}

// Entry returns the entry point, defaulting to "main".
func (d ProgramDesc) Entry() string {
	if d.EntryPoint == "" {
		return "main"
	}
	return d.EntryPoint
}

// Limits are the backend capability limits the core checks against.
type Limits struct {
	// MaxBufferSize is the maximum buffer size in bytes.
	MaxBufferSize uint64

	// MaxWorkgroupsPerDimension bounds each dispatch dimension.
	MaxWorkgroupsPerDimension uint32

	// MaxBindings bounds the number of resources one pass may bind.
	MaxBindings uint32
}

// DefaultLimits returns limits derived from gputypes.DefaultLimits.
func DefaultLimits() Limits {
	l := gputypes.DefaultLimits()
	return Limits{
		MaxBufferSize:             l.MaxBufferSize,
		MaxWorkgroupsPerDimension: l.MaxComputeWorkgroupsPerDimension,
		MaxBindings:               l.MaxStorageBuffersPerShaderStage,
	}
}

// BytesPerTexel returns the size of one texel of an uncompressed color
// format, or 0 if the format is unsupported for storage images.
func BytesPerTexel(f gputypes.TextureFormat) uint64 {
	switch f {
	case gputypes.TextureFormatR8Unorm, gputypes.TextureFormatR8Snorm,
		gputypes.TextureFormatR8Uint, gputypes.TextureFormatR8Sint:
		return 1
	case gputypes.TextureFormatR16Float, gputypes.TextureFormatR16Uint,
		gputypes.TextureFormatR16Sint, gputypes.TextureFormatRG8Unorm:
		return 2
	case gputypes.TextureFormatR32Float, gputypes.TextureFormatR32Uint,
		gputypes.TextureFormatR32Sint, gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatRGBA8UnormSrgb, gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatBGRA8UnormSrgb, gputypes.TextureFormatRGBA8Snorm,
		gputypes.TextureFormatRGBA8Uint, gputypes.TextureFormatRGBA8Sint,
		gputypes.TextureFormatRG16Float:
		return 4
	case gputypes.TextureFormatRG32Float, gputypes.TextureFormatRGBA16Float,
		gputypes.TextureFormatRGBA16Uint, gputypes.TextureFormatRGBA16Sint:
		return 8
	case gputypes.TextureFormatRGBA32Float, gputypes.TextureFormatRGBA32Uint,
		gputypes.TextureFormatRGBA32Sint:
		return 16
	default:
		return 0
	}
}
