package native

import (
	"fmt"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/shaderbox/gpucore"
)

// copyRowAlignment is the row pitch alignment of texture to buffer copies.
const copyRowAlignment = 256

// ReadBuffer implements gpucore.Reader. Buffers created with MapRead are
// mapped directly; others are copied through a staging buffer first.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	b, err := d.buffer(id)
	if err != nil {
		return nil, err
	}
	if offset+size > b.desc.Size {
		return nil, fmt.Errorf("native: read of %d bytes at %d overflows buffer %q", size, offset, b.desc.Label)
	}
	if size == 0 {
		return []byte{}, nil
	}

	if b.desc.Usage&gputypes.BufferUsageMapRead != 0 {
		if err := d.WaitIdle(); err != nil {
			return nil, err
		}
		return d.mapRead(b.hal, offset, size)
	}

	out, err := d.readThroughStaging(fmt.Sprintf("readback %s", b.desc.Label), size, func(enc hal.CommandEncoder, staging hal.Buffer) {
		enc.CopyBufferToBuffer(b.hal, staging, []hal.BufferCopy{{SrcOffset: offset, Size: size}})
	})
	return out, err
}

// ReadImage implements gpucore.Reader. Rows are returned tightly packed,
// slice after slice for 3D images.
func (d *Device) ReadImage(id gpucore.ImageID) ([]byte, error) {
	img, err := d.image(id)
	if err != nil {
		return nil, err
	}
	bpt := gpucore.BytesPerTexel(img.desc.Format)
	if bpt == 0 {
		return nil, fmt.Errorf("native: image %q: format %v cannot be read back", img.desc.Label, img.desc.Format)
	}
	w, h, depth := img.desc.Extent()
	row := uint64(w) * bpt
	pitch := (row + copyRowAlignment - 1) &^ (copyRowAlignment - 1)
	rows := uint64(h) * uint64(depth)

	padded, err := d.readThroughStaging(fmt.Sprintf("readback %s", img.desc.Label), pitch*rows, func(enc hal.CommandEncoder, staging hal.Buffer) {
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: img.hal,
			Range:   fullRange(),
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageStorageBinding,
				NewUsage: gputypes.TextureUsageCopySrc,
			},
		}})
		enc.CopyTextureToBuffer(img.hal, staging, []hal.BufferTextureCopy{{
			BufferLayout: hal.ImageDataLayout{BytesPerRow: uint32(pitch), RowsPerImage: h},
			TextureBase:  hal.ImageCopyTexture{Texture: img.hal, Aspect: gputypes.TextureAspectAll},
			Size:         hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: depth},
		}})
		enc.TransitionTextures([]hal.TextureBarrier{{
			Texture: img.hal,
			Range:   fullRange(),
			Usage: hal.TextureUsageTransition{
				OldUsage: gputypes.TextureUsageCopySrc,
				NewUsage: gputypes.TextureUsageStorageBinding,
			},
		}})
	})
	if err != nil {
		return nil, err
	}
	if pitch == row {
		return padded, nil
	}
	out := make([]byte, row*rows)
	for y := range rows {
		copy(out[y*row:(y+1)*row], padded[y*pitch:y*pitch+row])
	}
	return out, nil
}

// readThroughStaging records the copy produced by record into a fresh
// MapRead staging buffer, submits it, waits for completion and returns the
// staging contents.
func (d *Device) readThroughStaging(label string, size uint64, record func(hal.CommandEncoder, hal.Buffer)) ([]byte, error) {
	staging, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: label,
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, wrap("create staging buffer", err)
	}
	defer d.device.DestroyBuffer(staging)

	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, wrap("create command encoder", err)
	}
	defer enc.Destroy()
	if err := enc.BeginEncoding(label); err != nil {
		return nil, wrap("begin encoding", err)
	}
	record(enc, staging)
	cb, err := enc.EndEncoding()
	if err != nil {
		return nil, wrap("end encoding", err)
	}
	defer d.device.FreeCommandBuffer(cb)

	sub, err := d.queue.Submit([]hal.CommandBuffer{cb})
	if err != nil {
		return nil, wrap("submit readback", err)
	}
	if err := d.waitSubmission(sub, d.readbackTimeout); err != nil {
		return nil, err
	}
	return d.mapRead(staging, 0, size)
}

func (d *Device) mapRead(buf hal.Buffer, offset, size uint64) ([]byte, error) {
	m, err := d.device.MapBuffer(buf, offset, size)
	if err != nil {
		return nil, wrap("map buffer", err)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(m.Ptr), size))
	if err := d.device.UnmapBuffer(buf); err != nil {
		return nil, wrap("unmap buffer", err)
	}
	return out, nil
}
