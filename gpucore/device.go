// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package gpucore

import "time"

// Device abstracts the graphics backend the core drives.
//
// Implementations must be safe for use from the single driving goroutine
// plus the readback/presentation helpers; the core itself never calls a
// Device concurrently.
//
// Resource lifecycle:
//   - Objects are created via Create* methods
//   - Objects must be explicitly destroyed via Destroy* methods
//   - Destroying an object still referenced by in-flight GPU work is the
//     caller's bug; the registry defers destruction to avoid it
type Device interface {
	// Limits returns the backend capability limits.
	Limits() Limits

	// CreateBuffer allocates a GPU buffer.
	CreateBuffer(desc BufferDesc) (BufferID, error)

	// DestroyBuffer releases a GPU buffer.
	DestroyBuffer(id BufferID)

	// WriteBuffer copies data into a host-visible buffer at offset.
	WriteBuffer(id BufferID, offset uint64, data []byte) error

	// CreateImage allocates a GPU image and its default view.
	CreateImage(desc ImageDesc) (ImageID, error)

	// DestroyImage releases a GPU image.
	DestroyImage(id ImageID)

	// CreateProgram creates a compute program from a compiled module.
	CreateProgram(desc ProgramDesc) (ProgramID, error)

	// DestroyProgram releases a compute program.
	DestroyProgram(id ProgramID)

	// CreateFence creates a completion fence. A fresh fence is signaled.
	CreateFence() (FenceID, error)

	// DestroyFence releases a fence.
	DestroyFence(id FenceID)

	// WaitFence blocks until the work last submitted with the fence has
	// completed, or the timeout expires. It returns false on timeout.
	WaitFence(id FenceID, timeout time.Duration) (bool, error)

	// ResetFence returns the fence to the unsignaled state ahead of a
	// submission.
	ResetFence(id FenceID) error

	// BeginRecording opens a command recorder.
	BeginRecording(label string) (Recorder, error)

	// Submit hands a finished command buffer to the queue. The fence is
	// signaled once the GPU has finished executing it.
	Submit(cb CommandBuffer, fence FenceID) error

	// FreeCommandBuffer releases a command buffer whose fence has signaled.
	FreeCommandBuffer(cb CommandBuffer)

	// WaitIdle blocks until all submitted work has completed.
	WaitIdle() error
}

// Recorder records GPU commands for one frame.
type Recorder interface {
	// Barriers records synchronization barriers.
	Barriers(cmds []BarrierCmd)

	// CopyBuffer records a buffer to buffer copy.
	CopyBuffer(src, dst BufferID, size uint64)

	// Dispatch records one compute dispatch.
	Dispatch(cmd DispatchCmd) error

	// Finish closes the recording and returns the command buffer.
	Finish() (CommandBuffer, error)

	// Discard abandons the recording.
	Discard()
}

// Binding binds one resource to a pass binding slot.
type Binding struct {
	Binding uint32
	Kind    ResourceKind
	Access  AccessKind
	Buffer  BufferID
	Image   ImageID

	// Size is the bound range in bytes for buffers.
	Size uint64

	// Uniform binds a buffer as a uniform buffer instead of storage.
	Uniform bool
}

// DispatchCmd is one compute dispatch with its resolved bindings.
type DispatchCmd struct {
	Label    string
	Program  ProgramID
	Bindings []Binding
	X, Y, Z  uint32
}

// Reader is implemented by devices that can read resources back to the
// host. Readback stalls until the GPU has finished all prior work.
type Reader interface {
	ReadBuffer(id BufferID, offset, size uint64) ([]byte, error)

	// ReadImage returns tightly packed texel rows of the image.
	ReadImage(id ImageID) ([]byte, error)
}
