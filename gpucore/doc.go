// Package gpucore defines the shared vocabulary of the shaderbox core.
//
// It holds the types every other package agrees on:
//   - [Handle]: the generational resource handle handed to host code
//   - [AccessKind], [Stage], [AccessState]: per-resource access tracking
//     used to derive synchronization barriers
//   - [Device] and [Recorder]: the backend contract the core drives
//   - the error taxonomy ([AllocationError], [StaleHandleError],
//     [ResourceAccessError], [DeviceLostError], [AudioStreamWarning])
//
// # Architecture
//
// The core never talks to a graphics API directly. It drives a [Device],
// which a backend implements over a concrete API:
//
//	   +----------+   +-----------+   +---------+
//	   | registry |-->| passgraph |-->|  frame  |
//	   +----+-----+   +-----------+   +----+----+
//	        |                              |
//	        +---------------+--------------+
//	                        |
//	               +--------v--------+
//	               | gpucore.Device  |
//	               +--------+--------+
//	                        |
//	         +--------------+--------------+
//	         |                             |
//	+--------v--------+          +--------v--------+
//	| backend/native  |          | gpucore/gputest |
//	|  (wgpu hal)     |          | (scripted fake) |
//	+-----------------+          +-----------------+
//
// # Resource Management
//
// Backend objects are referred to by opaque IDs ([BufferID], [ImageID],
// [ProgramID], [FenceID]). Host code never sees them: it holds [Handle]
// values issued by the registry, which resolve to backend IDs only while
// their generation is live.
package gpucore
