package gpucore

import "fmt"

// AccessKind describes how a pass touches a resource.
type AccessKind uint8

const (
	// AccessNone means the resource has not been touched yet.
	AccessNone AccessKind = 0

	// AccessRead is a plain read.
	AccessRead AccessKind = 1 << 0

	// AccessWrite is a plain write.
	AccessWrite AccessKind = 1 << 1

	// AccessReadWrite is a declared read-modify-write.
	AccessReadWrite = AccessRead | AccessWrite
)

// Writes reports whether the access modifies the resource.
func (k AccessKind) Writes() bool { return k&AccessWrite != 0 }

// Reads reports whether the access observes the resource contents.
func (k AccessKind) Reads() bool { return k&AccessRead != 0 }

// String returns the string representation of AccessKind.
func (k AccessKind) String() string {
	switch k {
	case AccessNone:
		return "None"
	case AccessRead:
		return "Read"
	case AccessWrite:
		return "Write"
	case AccessReadWrite:
		return "ReadWrite"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Stage is the pipeline stage an access happens in.
type Stage uint8

const (
	// StageNone is the stage of a resource nobody has touched.
	StageNone Stage = iota

	// StageHost is a CPU write into host-visible memory.
	StageHost

	// StageTransfer is a GPU copy.
	StageTransfer

	// StageCompute is a compute shader dispatch.
	StageCompute

	// StagePresent is a read by the presentation collaborator.
	StagePresent

	// StageAll is used when the last access is unknown, e.g. after an
	// aborted frame. Barriers from StageAll wait on everything.
	StageAll
)

// String returns the string representation of Stage.
func (s Stage) String() string {
	switch s {
	case StageNone:
		return "None"
	case StageHost:
		return "Host"
	case StageTransfer:
		return "Transfer"
	case StageCompute:
		return "Compute"
	case StagePresent:
		return "Present"
	case StageAll:
		return "All"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// NoPass marks an access that was not made by a pass (uploads, presentation,
// conservative resets).
const NoPass = -1

// AccessState is the last-known access to a resource.
type AccessState struct {
	Stage Stage
	Kind  AccessKind

	// Pass is the index of the accessing pass within its frame, or NoPass.
	Pass int

	// Frame is the serial of the frame that made the access. Zero outside
	// of any frame.
	Frame uint64
}

// IsZero reports whether the resource has never been accessed.
func (s AccessState) IsZero() bool { return s.Kind == AccessNone }

// String formats the state for logs.
func (s AccessState) String() string {
	if s.Pass == NoPass {
		return fmt.Sprintf("%s/%s", s.Stage, s.Kind)
	}
	return fmt.Sprintf("%s/%s@%d", s.Stage, s.Kind, s.Pass)
}

// NeedsBarrier reports whether moving a resource from prev to next requires
// a synchronization barrier. Read after read never does; any edge with a
// write on either side does. A resource that was never accessed has nothing
// to wait on.
func NeedsBarrier(prev, next AccessState) bool {
	if prev.IsZero() {
		return false
	}
	return prev.Kind.Writes() || next.Kind.Writes()
}

// BarrierCmd is a barrier resolved to backend objects, ready to record.
type BarrierCmd struct {
	Kind   ResourceKind
	Buffer BufferID
	Image  ImageID
	Src    AccessState
	Dst    AccessState
}
