package passgraph

import (
	"fmt"

	"github.com/gogpu/shaderbox/gpucore"
)

// PassDescriptor declares one compute dispatch.
//
// A resource is listed in exactly one of Reads, Writes or ReadWrites.
// Read-modify-write access must be declared through ReadWrites; listing the
// same handle in both Reads and Writes is rejected rather than inferred.
//
// Bindings are numbered in declaration order: Reads first, then Writes,
// then ReadWrites, starting at binding 0 of group 0.
type PassDescriptor struct {
	// Name identifies the pass in errors and logs.
	Name string

	// Program is the compiled shader the pass dispatches.
	Program gpucore.ProgramID

	Reads      []gpucore.Handle
	Writes     []gpucore.Handle
	ReadWrites []gpucore.Handle

	// Dispatch is the workgroup count in x, y and z.
	Dispatch [3]uint32
}

// Access is one resource access of a pass.
type Access struct {
	Handle  gpucore.Handle
	Kind    gpucore.AccessKind
	Binding uint32
}

// Accesses returns the pass accesses in binding order.
func (p *PassDescriptor) Accesses() []Access {
	out := make([]Access, 0, len(p.Reads)+len(p.Writes)+len(p.ReadWrites))
	add := func(hs []gpucore.Handle, kind gpucore.AccessKind) {
		for _, h := range hs {
			//nolint:gosec // G115: binding count is bounded by Limits.MaxBindings
			out = append(out, Access{Handle: h, Kind: kind, Binding: uint32(len(out))})
		}
	}
	add(p.Reads, gpucore.AccessRead)
	add(p.Writes, gpucore.AccessWrite)
	add(p.ReadWrites, gpucore.AccessReadWrite)
	return out
}

// Validate checks the declaration shape: a program, a non-zero dispatch
// and each handle listed at most once.
func (p *PassDescriptor) Validate() error {
	if p.Program == gpucore.InvalidID {
		return &gpucore.ResourceAccessError{Pass: p.Name, Reason: "has no program"}
	}
	for i, n := range p.Dispatch {
		if n == 0 {
			return &gpucore.ResourceAccessError{
				Pass: p.Name, Reason: fmt.Sprintf("dispatch dimension %d is zero", i),
			}
		}
	}

	seen := make(map[gpucore.Handle]gpucore.AccessKind, len(p.Reads)+len(p.Writes)+len(p.ReadWrites))
	for _, a := range p.Accesses() {
		if prev, dup := seen[a.Handle]; dup {
			reason := "listed twice"
			if prev != a.Kind {
				reason = fmt.Sprintf("declared as both %s and %s; use ReadWrites for read-modify-write", prev, a.Kind)
			}
			return &gpucore.ResourceAccessError{Pass: p.Name, Handle: a.Handle, Reason: reason}
		}
		seen[a.Handle] = a.Kind
	}
	return nil
}

// clone returns a deep copy so the graph is immune to later caller edits.
func (p PassDescriptor) clone() PassDescriptor {
	p.Reads = append([]gpucore.Handle(nil), p.Reads...)
	p.Writes = append([]gpucore.Handle(nil), p.Writes...)
	p.ReadWrites = append([]gpucore.Handle(nil), p.ReadWrites...)
	return p
}
