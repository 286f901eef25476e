package native

import (
	"github.com/gogpu/gputypes"

	"github.com/gogpu/shaderbox/gpucore"
)

// bufferUsage returns the usage a buffer is in after an access. An unknown
// access maps to BufferUsageNone, which backends treat as "anything".
func bufferUsage(s gpucore.AccessState, uniform bool) gputypes.BufferUsage {
	switch s.Stage {
	case gpucore.StageHost:
		if s.Kind.Writes() {
			return gputypes.BufferUsageMapWrite
		}
		return gputypes.BufferUsageMapRead
	case gpucore.StageTransfer:
		if s.Kind.Writes() {
			return gputypes.BufferUsageCopyDst
		}
		return gputypes.BufferUsageCopySrc
	case gpucore.StageCompute:
		if uniform && !s.Kind.Writes() {
			return gputypes.BufferUsageUniform
		}
		return gputypes.BufferUsageStorage
	default:
		return gputypes.BufferUsageNone
	}
}

// textureUsage is bufferUsage for images. Compute passes bind images as
// storage textures.
func textureUsage(s gpucore.AccessState) gputypes.TextureUsage {
	switch s.Stage {
	case gpucore.StageTransfer:
		if s.Kind.Writes() {
			return gputypes.TextureUsageCopyDst
		}
		return gputypes.TextureUsageCopySrc
	case gpucore.StageCompute:
		return gputypes.TextureUsageStorageBinding
	case gpucore.StagePresent:
		return gputypes.TextureUsageCopySrc
	default:
		return gputypes.TextureUsageNone
	}
}

func storageAccess(k gpucore.AccessKind) gputypes.StorageTextureAccess {
	switch k {
	case gpucore.AccessRead:
		return gputypes.StorageTextureAccessReadOnly
	case gpucore.AccessWrite:
		return gputypes.StorageTextureAccessWriteOnly
	default:
		return gputypes.StorageTextureAccessReadWrite
	}
}

func bufferBindingType(b gpucore.Binding) gputypes.BufferBindingType {
	switch {
	case b.Uniform:
		return gputypes.BufferBindingTypeUniform
	case b.Access == gpucore.AccessRead:
		return gputypes.BufferBindingTypeReadOnlyStorage
	default:
		return gputypes.BufferBindingTypeStorage
	}
}

func viewDimension(desc gpucore.ImageDesc) gputypes.TextureViewDimension {
	if desc.Depth > 1 {
		return gputypes.TextureViewDimension3D
	}
	return gputypes.TextureViewDimension2D
}

func textureDimension(desc gpucore.ImageDesc) gputypes.TextureDimension {
	if desc.Depth > 1 {
		return gputypes.TextureDimension3D
	}
	return gputypes.TextureDimension2D
}
