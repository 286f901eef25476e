// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package passgraph

import (
	"log/slog"

	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/internal/logging"
	"github.com/gogpu/shaderbox/registry"
)

// Builder accumulates the passes of one frame.
type Builder struct {
	reg    *registry.Registry
	log    *slog.Logger
	passes []PassDescriptor
}

// NewBuilder returns a builder deriving access state from reg.
func NewBuilder(reg *registry.Registry, log *slog.Logger) *Builder {
	return &Builder{reg: reg, log: logging.OrDiscard(log)}
}

// Add appends a pass. The descriptor is copied; later edits by the caller
// do not affect the graph. Only the declaration shape is checked here;
// handles are checked by Build.
func (b *Builder) Add(p PassDescriptor) error {
	if err := p.Validate(); err != nil {
		return err
	}
	b.passes = append(b.passes, p.clone())
	return nil
}

// Len returns the number of passes added since the last Build or Reset.
func (b *Builder) Len() int { return len(b.passes) }

// Reset drops all pending passes.
func (b *Builder) Reset() {
	clear(b.passes)
	b.passes = b.passes[:0]
}

// Build derives the barriers for the pending passes and resets the builder.
//
// Every handle is resolved before any access state is touched: a stale
// handle fails the whole build with a StaleHandleError and leaves the
// registry unchanged, so no part of the frame is recorded.
func (b *Builder) Build() (*Graph, error) {
	passes := b.passes
	b.passes = nil

	for i := range passes {
		for _, a := range passes[i].Accesses() {
			if _, err := b.reg.Resolve(a.Handle); err != nil {
				return nil, err
			}
		}
	}

	g := &Graph{Passes: passes}
	for i := range passes {
		for _, a := range passes[i].Accesses() {
			dst := gpucore.AccessState{Stage: gpucore.StageCompute, Kind: a.Kind, Pass: i}
			prev, err := b.reg.RecordAccess(a.Handle, dst.Stage, dst.Kind, dst.Pass)
			if err != nil {
				return nil, err
			}
			if !gpucore.NeedsBarrier(prev, dst) {
				continue
			}
			rec, _ := b.reg.Resolve(a.Handle)
			dst.Frame = rec.Access.Frame
			g.Barriers = append(g.Barriers, Barrier{
				Resource:   a.Handle,
				Kind:       rec.Kind,
				Src:        prev,
				Dst:        dst,
				BeforePass: i,
			})
		}
	}

	b.log.Debug("passgraph: built", "passes", len(g.Passes), "barriers", len(g.Barriers))
	return g, nil
}
