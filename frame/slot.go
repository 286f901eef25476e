package frame

import (
	"fmt"

	"github.com/gogpu/shaderbox/gpucore"
)

// SlotState is the state of one frame slot.
type SlotState int

const (
	// SlotIdle means the slot holds no work.
	SlotIdle SlotState = iota

	// SlotRecording means commands are being recorded into the slot.
	SlotRecording

	// SlotSubmitted means the slot's work was handed to the GPU and its
	// fence has not been waited on yet.
	SlotSubmitted
)

// String returns the string representation of SlotState.
func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "Idle"
	case SlotRecording:
		return "Recording"
	case SlotSubmitted:
		return "Submitted"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// slot holds the per-frame objects that cycle round-robin.
//
// State Machine:
//
//	Idle -> BeginFrame (after fence wait) -> Recording -> EndFrame -> Submitted
//	Recording -> Abort -> Idle
//	Submitted -> BeginFrame on the same slot (fence signaled) -> Idle -> ...
type slot struct {
	state  SlotState
	fence  gpucore.FenceID
	rec    gpucore.Recorder
	cb     gpucore.CommandBuffer
	hasCB  bool
	serial uint64
}

// FrameHandle identifies the frame being recorded. It is only valid
// between BeginFrame and EndFrame or Abort.
type FrameHandle struct {
	slot   int
	serial uint64
}

// Slot returns the index of the frame slot in use.
func (f FrameHandle) Slot() int { return f.slot }

// Serial returns the frame number, starting at 1.
func (f FrameHandle) Serial() uint64 { return f.serial }
