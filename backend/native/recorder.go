// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/shaderbox/gpucore"
)

// recorder records one frame into a HAL command encoder.
type recorder struct {
	dev        *Device
	label      string
	encoder    hal.CommandEncoder
	bindGroups []hal.BindGroup
	done       bool
}

// BeginRecording implements gpucore.Device.
func (d *Device) BeginRecording(label string) (gpucore.Recorder, error) {
	enc, err := d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, wrap("create command encoder", err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		enc.Destroy()
		return nil, wrap("begin encoding", err)
	}
	return &recorder{dev: d, label: label, encoder: enc}, nil
}

// Barriers transitions each resource from the usage of its last access to
// the usage of the next one. Unknown objects are skipped: the executor
// resolved them a moment ago, so they can only vanish through a caller bug
// that Dispatch reports.
func (r *recorder) Barriers(cmds []gpucore.BarrierCmd) {
	if r.done || len(cmds) == 0 {
		return
	}
	var bufs []hal.BufferBarrier
	var texs []hal.TextureBarrier
	for _, c := range cmds {
		switch c.Kind {
		case gpucore.KindBuffer:
			b, err := r.dev.buffer(c.Buffer)
			if err != nil {
				continue
			}
			uniform := b.desc.Usage&gputypes.BufferUsageUniform != 0 &&
				b.desc.Usage&gputypes.BufferUsageStorage == 0
			bufs = append(bufs, hal.BufferBarrier{
				Buffer: b.hal,
				Usage: hal.BufferUsageTransition{
					OldUsage: bufferUsage(c.Src, uniform),
					NewUsage: bufferUsage(c.Dst, uniform),
				},
			})
		case gpucore.KindImage:
			img, err := r.dev.image(c.Image)
			if err != nil {
				continue
			}
			texs = append(texs, hal.TextureBarrier{
				Texture: img.hal,
				Range:   fullRange(),
				Usage: hal.TextureUsageTransition{
					OldUsage: textureUsage(c.Src),
					NewUsage: textureUsage(c.Dst),
				},
			})
		}
	}
	if len(bufs) > 0 {
		r.encoder.TransitionBuffers(bufs)
	}
	if len(texs) > 0 {
		r.encoder.TransitionTextures(texs)
	}
}

func fullRange() hal.TextureRange {
	return hal.TextureRange{
		Aspect:          gputypes.TextureAspectAll,
		MipLevelCount:   1,
		ArrayLayerCount: 1,
	}
}

// CopyBuffer implements gpucore.Recorder.
func (r *recorder) CopyBuffer(src, dst gpucore.BufferID, size uint64) {
	if r.done {
		return
	}
	s, err := r.dev.buffer(src)
	if err != nil {
		return
	}
	d, err := r.dev.buffer(dst)
	if err != nil {
		return
	}
	r.encoder.CopyBufferToBuffer(s.hal, d.hal, []hal.BufferCopy{{Size: size}})
}

// Dispatch binds the pass resources in a transient bind group and records
// one compute pass.
func (r *recorder) Dispatch(cmd gpucore.DispatchCmd) error {
	if r.done {
		return ErrRecordingDone
	}
	prog, err := r.dev.program(cmd.Program)
	if err != nil {
		return err
	}

	layout := make([]layoutEntry, len(cmd.Bindings))
	groupEntries := make([]gputypes.BindGroupEntry, len(cmd.Bindings))
	for i, b := range cmd.Bindings {
		switch b.Kind {
		case gpucore.KindBuffer:
			buf, err := r.dev.buffer(b.Buffer)
			if err != nil {
				return fmt.Errorf("pass %q binding %d: %w", cmd.Label, b.Binding, err)
			}
			size := b.Size
			if size == 0 {
				size = buf.desc.Size
			}
			layout[i] = layoutEntry{binding: b.Binding, kind: b.Kind, buffer: bufferBindingType(b)}
			groupEntries[i] = gputypes.BindGroupEntry{
				Binding:  b.Binding,
				Resource: gputypes.BufferBinding{Buffer: buf.hal.NativeHandle(), Size: size},
			}
		case gpucore.KindImage:
			img, err := r.dev.image(b.Image)
			if err != nil {
				return fmt.Errorf("pass %q binding %d: %w", cmd.Label, b.Binding, err)
			}
			layout[i] = layoutEntry{
				binding: b.Binding,
				kind:    b.Kind,
				access:  storageAccess(b.Access),
				format:  img.desc.Format,
				view:    viewDimension(img.desc),
			}
			groupEntries[i] = gputypes.BindGroupEntry{
				Binding:  b.Binding,
				Resource: gputypes.TextureViewBinding{TextureView: img.view.NativeHandle()},
			}
		default:
			return fmt.Errorf("pass %q binding %d: unknown resource kind %s", cmd.Label, b.Binding, b.Kind)
		}
	}

	pipeline, err := r.dev.pipelines.getOrCreate(r.dev.device, cmd.Program, prog, layout)
	if err != nil {
		return err
	}
	group, err := r.dev.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label:   cmd.Label,
		Layout:  pipeline.group,
		Entries: groupEntries,
	})
	if err != nil {
		return wrap(fmt.Sprintf("create bind group for %q", cmd.Label), err)
	}
	r.bindGroups = append(r.bindGroups, group)

	pass := r.encoder.BeginComputePass(&hal.ComputePassDescriptor{Label: cmd.Label})
	pass.SetPipeline(pipeline.pipeline)
	pass.SetBindGroup(0, group, nil)
	pass.Dispatch(cmd.X, cmd.Y, cmd.Z)
	pass.End()
	return nil
}

// Finish implements gpucore.Recorder.
func (r *recorder) Finish() (gpucore.CommandBuffer, error) {
	if r.done {
		return 0, ErrRecordingDone
	}
	r.done = true
	cb, err := r.encoder.EndEncoding()
	if err != nil {
		r.release()
		return 0, wrap("end encoding", err)
	}

	id := gpucore.CommandBuffer(r.dev.newID())
	r.dev.mu.Lock()
	r.dev.cmdBufs[id] = &commandBuffer{hal: cb, encoder: r.encoder, bindGroups: r.bindGroups}
	r.dev.mu.Unlock()
	return id, nil
}

// Discard implements gpucore.Recorder.
func (r *recorder) Discard() {
	if r.done {
		return
	}
	r.done = true
	r.encoder.DiscardEncoding()
	r.release()
}

func (r *recorder) release() {
	for _, bg := range r.bindGroups {
		r.dev.device.DestroyBindGroup(bg)
	}
	r.bindGroups = nil
	r.encoder.Destroy()
}
