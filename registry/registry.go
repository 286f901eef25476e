// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package registry owns every GPU-visible resource of a session behind
// generational handles.
//
// The registry is the sole owner of backend memory. Host code and passes
// hold [gpucore.Handle] values, which are non-owning lookup keys: an index
// into the slot table paired with the generation the slot had when the
// handle was issued. Releasing a resource increments the slot generation,
// turning every outstanding copy of the old handle into a deterministic
// [gpucore.StaleHandleError] instead of an alias of reused memory.
//
// The registry also remembers the last access made to each resource. The
// pass graph builder reads and updates that state to derive barriers, and
// because it persists across frames, the first access of a frame is still
// ordered against the last access of the previous one.
//
// A Registry is driven from a single goroutine and does no locking.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/internal/logging"
)

// ErrNotBuffer is returned when a buffer-only operation gets an image.
var ErrNotBuffer = errors.New("registry: resource is not a buffer")

// Config configures a Registry.
type Config struct {
	// MemoryBudget caps the bytes the registry may allocate, staging
	// included. Zero means no cap beyond what the device accepts.
	MemoryBudget uint64

	// Logger receives Debug diagnostics. Nil disables logging.
	Logger *slog.Logger
}

// Record is the registry-internal entry of one resource.
type Record struct {
	Kind  gpucore.ResourceKind
	Label string

	// Buffer is set for KindBuffer, Image for KindImage.
	Buffer gpucore.BufferID
	Image  gpucore.ImageID

	// Size is the allocation size in bytes.
	Size uint64

	BufferUsage gputypes.BufferUsage
	Image2D     gpucore.ImageDesc

	// Access is the last-known access, used for barrier derivation.
	Access gpucore.AccessState

	// Staging holds one host-visible staging buffer per frame slot for
	// CPU-fed resources. The registry owns them.
	Staging []gpucore.BufferID

	lastUse uint64
}

// footprint is the number of budgeted bytes the record holds.
func (r *Record) footprint() uint64 {
	return r.Size * uint64(1+len(r.Staging))
}

type slot struct {
	generation uint32
	rec        *Record
	retired    bool
}

// retiredRecord is a released record whose backend objects are still
// referenced by a frame in flight.
type retiredRecord struct {
	rec     *Record
	lastUse uint64
}

// Registry allocates, tracks and invalidates GPU resources.
type Registry struct {
	dev gpucore.Device
	cfg Config
	log *slog.Logger

	slots []slot
	free  []uint32

	used    uint64
	buffers int
	images  int

	// frame is the serial of the frame being recorded; completed is the
	// newest serial whose GPU work is known to be finished.
	frame     uint64
	completed uint64
	graveyard []retiredRecord
}

// New creates a registry allocating from dev.
func New(dev gpucore.Device, cfg Config) *Registry {
	return &Registry{
		dev: dev,
		cfg: cfg,
		log: logging.OrDiscard(cfg.Logger),
	}
}

// RegisterBuffer allocates a buffer and returns a fresh handle.
// It fails with an AllocationError if the size is invalid, the budget would
// be exceeded, or the device rejects the allocation.
func (r *Registry) RegisterBuffer(desc gpucore.BufferDesc) (gpucore.Handle, error) {
	if desc.Usage == 0 {
		desc.Usage = gputypes.BufferUsageStorage
	}
	if desc.Size == 0 {
		return gpucore.Handle{}, &gpucore.AllocationError{
			Kind: gpucore.KindBuffer, Label: desc.Label, Err: errors.New("zero size"),
		}
	}
	if limit := r.dev.Limits().MaxBufferSize; limit > 0 && desc.Size > limit {
		return gpucore.Handle{}, &gpucore.AllocationError{
			Kind: gpucore.KindBuffer, Label: desc.Label, Size: desc.Size,
			Err: fmt.Errorf("exceeds device limit of %d bytes", limit),
		}
	}
	if err := r.reserve(gpucore.KindBuffer, desc.Label, desc.Size); err != nil {
		return gpucore.Handle{}, err
	}

	id, err := r.dev.CreateBuffer(desc)
	if err != nil {
		return gpucore.Handle{}, &gpucore.AllocationError{
			Kind: gpucore.KindBuffer, Label: desc.Label, Size: desc.Size, Err: err,
		}
	}

	r.used += desc.Size
	r.buffers++
	h := r.insert(&Record{
		Kind:        gpucore.KindBuffer,
		Label:       desc.Label,
		Buffer:      id,
		Size:        desc.Size,
		BufferUsage: desc.Usage,
	})
	r.log.Debug("registry: buffer registered", "handle", h, "label", desc.Label, "size", desc.Size)
	return h, nil
}

// RegisterImage allocates an image and returns a fresh handle.
func (r *Registry) RegisterImage(desc gpucore.ImageDesc) (gpucore.Handle, error) {
	if desc.Usage == 0 {
		desc.Usage = gputypes.TextureUsageStorageBinding |
			gputypes.TextureUsageTextureBinding |
			gputypes.TextureUsageCopySrc
	}
	w, h, d := desc.Extent()
	texel := gpucore.BytesPerTexel(desc.Format)
	size := uint64(w) * uint64(h) * uint64(d) * texel
	if size == 0 {
		reason := "zero extent"
		if texel == 0 {
			reason = "unsupported format " + desc.Format.String()
		}
		return gpucore.Handle{}, &gpucore.AllocationError{
			Kind: gpucore.KindImage, Label: desc.Label, Err: errors.New(reason),
		}
	}
	if err := r.reserve(gpucore.KindImage, desc.Label, size); err != nil {
		return gpucore.Handle{}, err
	}

	id, err := r.dev.CreateImage(desc)
	if err != nil {
		return gpucore.Handle{}, &gpucore.AllocationError{
			Kind: gpucore.KindImage, Label: desc.Label, Size: size, Err: err,
		}
	}

	r.used += size
	r.images++
	handle := r.insert(&Record{
		Kind:    gpucore.KindImage,
		Label:   desc.Label,
		Image:   id,
		Size:    size,
		Image2D: desc,
	})
	r.log.Debug("registry: image registered", "handle", handle, "label", desc.Label,
		"width", w, "height", h, "format", desc.Format.String())
	return handle, nil
}

// reserve checks that size more bytes fit in the budget.
func (r *Registry) reserve(kind gpucore.ResourceKind, label string, size uint64) error {
	if r.cfg.MemoryBudget == 0 || r.used+size <= r.cfg.MemoryBudget {
		return nil
	}
	return &gpucore.AllocationError{
		Kind: kind, Label: label, Size: size,
		Err: fmt.Errorf("memory budget exceeded (%d of %d bytes in use)", r.used, r.cfg.MemoryBudget),
	}
}

// insert stores rec in a free slot, reusing released slots first.
func (r *Registry) insert(rec *Record) gpucore.Handle {
	if n := len(r.free); n > 0 {
		idx := r.free[n-1]
		r.free = r.free[:n-1]
		r.slots[idx].rec = rec
		return gpucore.MakeHandle(idx, r.slots[idx].generation)
	}
	if len(r.slots) == 0 {
		// Slot 0 is never handed out, so the zero Handle resolves to nothing.
		r.slots = append(r.slots, slot{retired: true})
	}
	//nolint:gosec // G115: slot count is bounded by device memory
	idx := uint32(len(r.slots))
	r.slots = append(r.slots, slot{rec: rec})
	return gpucore.MakeHandle(idx, 0)
}

// Resolve returns the record behind h.
// It fails with a StaleHandleError on generation mismatch.
func (r *Registry) Resolve(h gpucore.Handle) (*Record, error) {
	idx := h.Index()
	if int(idx) >= len(r.slots) {
		return nil, &gpucore.StaleHandleError{Handle: h}
	}
	s := &r.slots[idx]
	if s.rec == nil || s.generation != h.Generation() {
		return nil, &gpucore.StaleHandleError{Handle: h, Live: s.generation}
	}
	return s.rec, nil
}

// Release invalidates h and frees its memory. Backend objects still used by
// a frame in flight are destroyed once that frame has completed.
func (r *Registry) Release(h gpucore.Handle) error {
	rec, err := r.Resolve(h)
	if err != nil {
		return err
	}

	s := &r.slots[h.Index()]
	s.rec = nil
	if s.generation == math.MaxUint32 {
		// The generation space of this slot is exhausted; never reuse it.
		s.retired = true
	} else {
		s.generation++
		r.free = append(r.free, h.Index())
	}

	r.used -= rec.footprint()
	switch rec.Kind {
	case gpucore.KindBuffer:
		r.buffers--
	case gpucore.KindImage:
		r.images--
	}

	if rec.lastUse > r.completed {
		r.graveyard = append(r.graveyard, retiredRecord{rec: rec, lastUse: rec.lastUse})
		r.log.Debug("registry: release deferred", "handle", h, "frame", rec.lastUse)
		return nil
	}
	r.destroy(rec)
	r.log.Debug("registry: released", "handle", h, "label", rec.Label)
	return nil
}

func (r *Registry) destroy(rec *Record) {
	switch rec.Kind {
	case gpucore.KindBuffer:
		r.dev.DestroyBuffer(rec.Buffer)
	case gpucore.KindImage:
		r.dev.DestroyImage(rec.Image)
	}
	for _, id := range rec.Staging {
		r.dev.DestroyBuffer(id)
	}
	rec.Staging = nil
}

// RecordAccess stores a new last access for h and returns the previous one.
// It is called by the pass graph builder and the frame executor, never by
// host code.
func (r *Registry) RecordAccess(h gpucore.Handle, stage gpucore.Stage, kind gpucore.AccessKind, pass int) (gpucore.AccessState, error) {
	rec, err := r.Resolve(h)
	if err != nil {
		return gpucore.AccessState{}, err
	}
	prev := rec.Access
	rec.Access = gpucore.AccessState{Stage: stage, Kind: kind, Pass: pass, Frame: r.frame}
	rec.lastUse = r.frame
	return prev, nil
}

// LastAccess returns the last recorded access of h.
func (r *Registry) LastAccess(h gpucore.Handle) (gpucore.AccessState, error) {
	rec, err := r.Resolve(h)
	if err != nil {
		return gpucore.AccessState{}, err
	}
	return rec.Access, nil
}

// MarkUnknown forgets what happened to h, so the next access waits on
// everything. Used after an aborted frame. Stale handles are ignored.
func (r *Registry) MarkUnknown(h gpucore.Handle) {
	rec, err := r.Resolve(h)
	if err != nil {
		return
	}
	rec.Access = gpucore.AccessState{
		Stage: gpucore.StageAll,
		Kind:  gpucore.AccessReadWrite,
		Pass:  gpucore.NoPass,
		Frame: r.frame,
	}
}

// AttachStaging gives the buffer behind h one host-visible staging buffer
// per frame slot. Calling it again with the same count is a no-op.
func (r *Registry) AttachStaging(h gpucore.Handle, slots int) error {
	rec, err := r.Resolve(h)
	if err != nil {
		return err
	}
	if rec.Kind != gpucore.KindBuffer {
		return fmt.Errorf("registry: attach staging to %s: %w", h, ErrNotBuffer)
	}
	if len(rec.Staging) == slots {
		return nil
	}
	if len(rec.Staging) != 0 {
		return fmt.Errorf("registry: %s already has %d staging buffers", h, len(rec.Staging))
	}
	if err := r.reserve(gpucore.KindBuffer, rec.Label+" staging", rec.Size*uint64(slots)); err != nil {
		return err
	}

	staging := make([]gpucore.BufferID, 0, slots)
	for i := range slots {
		id, err := r.dev.CreateBuffer(gpucore.BufferDesc{
			Label: fmt.Sprintf("%s staging %d", rec.Label, i),
			Size:  rec.Size,
			Usage: gputypes.BufferUsageMapWrite | gputypes.BufferUsageCopySrc,
		})
		if err != nil {
			for _, s := range staging {
				r.dev.DestroyBuffer(s)
			}
			return &gpucore.AllocationError{
				Kind: gpucore.KindBuffer, Label: rec.Label + " staging", Size: rec.Size, Err: err,
			}
		}
		staging = append(staging, id)
	}
	rec.Staging = staging
	r.used += rec.Size * uint64(slots)
	return nil
}

// BeginFrame tells the registry which frame accesses belong to.
func (r *Registry) BeginFrame(serial uint64) {
	r.frame = serial
}

// Retire records that all frames up to serial have completed on the GPU
// and destroys released resources they were still using.
func (r *Registry) Retire(serial uint64) {
	if serial > r.completed {
		r.completed = serial
	}
	kept := r.graveyard[:0]
	for _, g := range r.graveyard {
		if g.lastUse <= r.completed {
			r.destroy(g.rec)
			continue
		}
		kept = append(kept, g)
	}
	clear(r.graveyard[len(kept):])
	r.graveyard = kept
}

// Close destroys every live and deferred resource. The device must be idle.
func (r *Registry) Close() {
	for i := range r.slots {
		if rec := r.slots[i].rec; rec != nil {
			r.destroy(rec)
			r.slots[i].rec = nil
		}
	}
	for _, g := range r.graveyard {
		r.destroy(g.rec)
	}
	r.graveyard = nil
	r.free = nil
	r.slots = nil
	r.used, r.buffers, r.images = 0, 0, 0
}
