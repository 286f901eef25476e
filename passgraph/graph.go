// Package passgraph builds the per-frame pass graph: the ordered list of
// compute passes plus the synchronization barriers between them.
//
// Passes execute in the order they were added; the builder never reorders
// them. For every resource a pass touches, the builder looks up the
// resource's last access in the registry and emits a barrier when either
// side writes. Pure read chains get no barriers.
package passgraph

import (
	"fmt"

	"github.com/gogpu/shaderbox/gpucore"
)

// Barrier orders one resource's earlier access before a later one.
type Barrier struct {
	Resource gpucore.Handle
	Kind     gpucore.ResourceKind

	// Src is the access being waited on, Dst the access about to happen.
	Src gpucore.AccessState
	Dst gpucore.AccessState

	// BeforePass is the index of the pass the barrier precedes.
	BeforePass int
}

// String formats the barrier for logs.
func (b Barrier) String() string {
	return fmt.Sprintf("%s %s -> %s before pass %d", b.Resource, b.Src, b.Dst, b.BeforePass)
}

// Graph is the ordered passes of one frame with their barriers.
// Barriers are sorted by BeforePass.
type Graph struct {
	Passes   []PassDescriptor
	Barriers []Barrier
}

// BarriersBefore returns the barriers that must be recorded before pass i.
func (g *Graph) BarriersBefore(i int) []Barrier {
	lo := 0
	for lo < len(g.Barriers) && g.Barriers[lo].BeforePass < i {
		lo++
	}
	hi := lo
	for hi < len(g.Barriers) && g.Barriers[hi].BeforePass == i {
		hi++
	}
	return g.Barriers[lo:hi]
}

// BarriersFor returns every barrier that references resource h.
func (g *Graph) BarriersFor(h gpucore.Handle) []Barrier {
	var out []Barrier
	for _, b := range g.Barriers {
		if b.Resource == h {
			out = append(out, b)
		}
	}
	return out
}

// Handles returns each resource the graph touches once, in first-use order.
func (g *Graph) Handles() []gpucore.Handle {
	seen := make(map[gpucore.Handle]bool)
	var out []gpucore.Handle
	for i := range g.Passes {
		for _, a := range g.Passes[i].Accesses() {
			if !seen[a.Handle] {
				seen[a.Handle] = true
				out = append(out, a.Handle)
			}
		}
	}
	return out
}
