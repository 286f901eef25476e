// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package frame turns pass graphs into submitted GPU work, one frame at a
// time, with a fixed ring of in-flight frame slots.
//
// Each slot owns a completion fence. BeginFrame waits for the fence of the
// slot's previous use before recording into it again, so the CPU can record
// frame N+1 while the GPU still executes frame N, up to the slot count.
// A fence wait that times out or fails is reported as device loss and is
// fatal: every later call returns the same DeviceLostError.
package frame

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/internal/logging"
	"github.com/gogpu/shaderbox/passgraph"
	"github.com/gogpu/shaderbox/registry"
)

// Executor errors.
var (
	// ErrFrameActive is returned by BeginFrame while a frame is recording.
	ErrFrameActive = errors.New("frame: a frame is already being recorded")

	// ErrNoFrame is returned when no frame is being recorded.
	ErrNoFrame = errors.New("frame: no frame is being recorded")

	// ErrWrongFrame is returned for a handle of a frame that has ended.
	ErrWrongFrame = errors.New("frame: frame handle does not match the active frame")

	// ErrFenceTimeout is the cause of a DeviceLostError raised when a slot
	// fence does not signal within the configured timeout.
	ErrFenceTimeout = errors.New("frame: fence wait timed out")
)

// Stats counts executor activity.
type Stats struct {
	Frames     uint64
	Aborted    uint64
	Barriers   uint64
	Dispatches uint64
	Uploads    uint64
	FenceWaits uint64

	// WaitTime is the total time BeginFrame spent blocked on fences.
	WaitTime time.Duration
}

// Executor records and submits frames.
type Executor struct {
	dev gpucore.Device
	reg *registry.Registry
	cfg Config
	log *slog.Logger

	slots  []slot
	cur    int
	serial uint64
	active bool

	// touched lists resources whose access state the active frame changed
	// outside of the pass graph (uploads).
	touched []gpucore.Handle

	lost  error
	stats Stats
}

// NewExecutor creates an executor with its slot fences.
func NewExecutor(dev gpucore.Device, reg *registry.Registry, cfg Config) (*Executor, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	e := &Executor{
		dev:   dev,
		reg:   reg,
		cfg:   cfg,
		log:   logging.OrDiscard(cfg.Logger),
		slots: make([]slot, cfg.Slots),
	}
	for i := range e.slots {
		f, err := dev.CreateFence()
		if err != nil {
			for _, s := range e.slots[:i] {
				dev.DestroyFence(s.fence)
			}
			return nil, fmt.Errorf("frame: create fence for slot %d: %w", i, err)
		}
		e.slots[i].fence = f
	}
	e.log.Debug("frame: executor created", "slots", cfg.Slots, "fenceTimeout", cfg.FenceTimeout)
	return e, nil
}

// fail marks the session lost and returns the DeviceLostError.
func (e *Executor) fail(op string, err error) error {
	e.lost = &gpucore.DeviceLostError{Op: op, Err: err}
	e.log.Error("frame: device lost", "op", op, "err", err)
	return e.lost
}

// Lost returns the DeviceLostError that ended the session, or nil.
func (e *Executor) Lost() error { return e.lost }

// BeginFrame waits until the next slot's previous frame has completed on
// the GPU, then opens a recording for a new frame.
//
// The wait is bounded by Config.FenceTimeout; expiry is fatal.
func (e *Executor) BeginFrame() (FrameHandle, error) {
	if e.lost != nil {
		return FrameHandle{}, e.lost
	}
	if e.active {
		return FrameHandle{}, ErrFrameActive
	}

	s := &e.slots[e.cur]
	if s.state == SlotSubmitted {
		start := time.Now()
		ok, err := e.dev.WaitFence(s.fence, e.cfg.FenceTimeout)
		e.stats.FenceWaits++
		e.stats.WaitTime += time.Since(start)
		if err != nil {
			return FrameHandle{}, e.fail("fence wait", err)
		}
		if !ok {
			return FrameHandle{}, e.fail("fence wait",
				fmt.Errorf("%w after %v (slot %d, frame %d)", ErrFenceTimeout, e.cfg.FenceTimeout, e.cur, s.serial))
		}
		if s.hasCB {
			e.dev.FreeCommandBuffer(s.cb)
			s.hasCB = false
		}
		// Frames complete in submission order, so everything up to this
		// slot's frame is done.
		e.reg.Retire(s.serial)
		s.state = SlotIdle
	}

	serial := e.serial + 1
	rec, err := e.dev.BeginRecording(fmt.Sprintf("frame %d", serial))
	if err != nil {
		return FrameHandle{}, e.fail("begin recording", err)
	}
	e.serial = serial
	e.reg.BeginFrame(serial)

	s.rec = rec
	s.serial = serial
	s.state = SlotRecording
	e.active = true
	e.touched = e.touched[:0]

	e.log.Debug("frame: begin", "frame", serial, "slot", e.cur)
	return FrameHandle{slot: e.cur, serial: serial}, nil
}

// check validates fh against the active frame.
func (e *Executor) check(fh FrameHandle) (*slot, error) {
	if e.lost != nil {
		return nil, e.lost
	}
	if !e.active {
		return nil, ErrNoFrame
	}
	if fh.slot != e.cur || fh.serial != e.serial {
		return nil, ErrWrongFrame
	}
	return &e.slots[e.cur], nil
}

// Current returns the handle of the frame being recorded.
func (e *Executor) Current() (FrameHandle, error) {
	if e.lost != nil {
		return FrameHandle{}, e.lost
	}
	if !e.active {
		return FrameHandle{}, ErrNoFrame
	}
	return FrameHandle{slot: e.cur, serial: e.serial}, nil
}

// Upload copies data into the host-visible staging buffer of h for the
// current slot and records a transfer into h. The transfer is ordered after
// the previous access of h and before any pass of this frame that uses h.
//
// Staging buffers are attached on first use, one per slot, so an upload for
// frame N+1 never overwrites staging that frame N is still reading.
func (e *Executor) Upload(h gpucore.Handle, data []byte) error {
	fh, err := e.Current()
	if err != nil {
		return err
	}
	s := &e.slots[fh.slot]

	rec, err := e.reg.Resolve(h)
	if err != nil {
		return err
	}
	switch {
	case rec.Kind != gpucore.KindBuffer:
		return &gpucore.ResourceAccessError{Pass: "upload", Handle: h, Reason: "is not a buffer"}
	case rec.BufferUsage&gputypes.BufferUsageCopyDst == 0:
		return &gpucore.ResourceAccessError{Pass: "upload", Handle: h, Reason: "lacks CopyDst usage"}
	case uint64(len(data)) > rec.Size:
		return &gpucore.ResourceAccessError{
			Pass: "upload", Handle: h,
			Reason: fmt.Sprintf("upload of %d bytes exceeds %d byte buffer", len(data), rec.Size),
		}
	case len(data) == 0:
		return nil
	}

	if len(rec.Staging) != len(e.slots) {
		if err := e.reg.AttachStaging(h, len(e.slots)); err != nil {
			return err
		}
	}
	staging := rec.Staging[fh.slot]
	if err := e.dev.WriteBuffer(staging, 0, data); err != nil {
		return fmt.Errorf("frame: upload to %s: %w", h, err)
	}

	dst := gpucore.AccessState{Stage: gpucore.StageTransfer, Kind: gpucore.AccessWrite, Pass: gpucore.NoPass, Frame: fh.serial}
	prev, err := e.reg.RecordAccess(h, dst.Stage, dst.Kind, dst.Pass)
	if err != nil {
		return err
	}
	e.touched = append(e.touched, h)
	if gpucore.NeedsBarrier(prev, dst) {
		s.rec.Barriers([]gpucore.BarrierCmd{{Kind: gpucore.KindBuffer, Buffer: rec.Buffer, Src: prev, Dst: dst}})
		e.stats.Barriers++
	}
	s.rec.CopyBuffer(staging, rec.Buffer, uint64(len(data)))
	e.stats.Uploads++
	return nil
}

// SubmitPassGraph records every pass of g with its barriers.
//
// Handles are revalidated first: a resource released after the graph was
// built fails the frame with a ResourceAccessError wrapping the
// StaleHandleError, before any command of the graph is recorded. The frame
// is then aborted and the caller must begin a new one.
func (e *Executor) SubmitPassGraph(fh FrameHandle, g *passgraph.Graph) error {
	s, err := e.check(fh)
	if err != nil {
		return err
	}

	limits := e.dev.Limits()
	cmds := make([]gpucore.DispatchCmd, len(g.Passes))
	for i := range g.Passes {
		p := &g.Passes[i]
		cmd := gpucore.DispatchCmd{
			Label:   p.Name,
			Program: p.Program,
			X:       p.Dispatch[0],
			Y:       p.Dispatch[1],
			Z:       p.Dispatch[2],
		}
		if limit := limits.MaxWorkgroupsPerDimension; limit > 0 && (cmd.X > limit || cmd.Y > limit || cmd.Z > limit) {
			e.abort(g)
			return &gpucore.ResourceAccessError{
				Pass: p.Name, Reason: fmt.Sprintf("dispatch %v exceeds %d workgroups per dimension", p.Dispatch, limit),
			}
		}
		accesses := p.Accesses()
		if limit := limits.MaxBindings; limit > 0 && len(accesses) > int(limit) {
			e.abort(g)
			return &gpucore.ResourceAccessError{
				Pass: p.Name, Reason: fmt.Sprintf("binds %d resources, device allows %d", len(accesses), limit),
			}
		}
		for _, a := range accesses {
			rec, err := e.reg.Resolve(a.Handle)
			if err != nil {
				e.abort(g)
				return &gpucore.ResourceAccessError{
					Pass: p.Name, Handle: a.Handle, Reason: "was released before recording", Err: err,
				}
			}
			cmd.Bindings = append(cmd.Bindings, binding(rec, a))
		}
		cmds[i] = cmd
	}

	for i := range cmds {
		if bars := g.BarriersBefore(i); len(bars) > 0 {
			s.rec.Barriers(e.resolveBarriers(bars))
			e.stats.Barriers += uint64(len(bars))
		}
		if err := s.rec.Dispatch(cmds[i]); err != nil {
			e.abort(g)
			return fmt.Errorf("frame: record pass %q: %w", cmds[i].Label, err)
		}
		e.stats.Dispatches++
	}

	e.log.Debug("frame: graph recorded", "frame", fh.serial,
		"passes", len(g.Passes), "barriers", len(g.Barriers))
	return nil
}

func binding(rec *registry.Record, a passgraph.Access) gpucore.Binding {
	b := gpucore.Binding{
		Binding: a.Binding,
		Kind:    rec.Kind,
		Access:  a.Kind,
		Buffer:  rec.Buffer,
		Image:   rec.Image,
		Size:    rec.Size,
	}
	if rec.Kind == gpucore.KindBuffer && a.Kind == gpucore.AccessRead &&
		rec.BufferUsage&gputypes.BufferUsageUniform != 0 &&
		rec.BufferUsage&gputypes.BufferUsageStorage == 0 {
		b.Uniform = true
	}
	return b
}

// resolveBarriers maps graph barriers to backend objects. All handles were
// validated by the caller.
func (e *Executor) resolveBarriers(bars []passgraph.Barrier) []gpucore.BarrierCmd {
	out := make([]gpucore.BarrierCmd, 0, len(bars))
	for _, b := range bars {
		rec, err := e.reg.Resolve(b.Resource)
		if err != nil {
			continue
		}
		out = append(out, gpucore.BarrierCmd{
			Kind:   rec.Kind,
			Buffer: rec.Buffer,
			Image:  rec.Image,
			Src:    b.Src,
			Dst:    b.Dst,
		})
	}
	return out
}

// EndFrame submits the frame's command buffer with the slot fence and
// advances to the next slot. A submission failure is fatal.
func (e *Executor) EndFrame(fh FrameHandle) error {
	s, err := e.check(fh)
	if err != nil {
		return err
	}

	cb, err := s.rec.Finish()
	s.rec = nil
	if err != nil {
		return e.fail("finish recording", err)
	}
	if err := e.dev.ResetFence(s.fence); err != nil {
		return e.fail("fence reset", err)
	}
	if err := e.dev.Submit(cb, s.fence); err != nil {
		return e.fail("submit", err)
	}

	s.cb = cb
	s.hasCB = true
	s.state = SlotSubmitted
	e.active = false
	e.cur = (e.cur + 1) % len(e.slots)
	e.stats.Frames++

	e.log.Debug("frame: submitted", "frame", fh.serial, "slot", fh.slot)
	return nil
}

// Abort drops the frame being recorded without submitting it. Resources
// touched by the frame lose their access state, so the next frame orders
// itself conservatively after whatever the GPU last did with them.
func (e *Executor) Abort(fh FrameHandle, g *passgraph.Graph) error {
	if _, err := e.check(fh); err != nil {
		return err
	}
	e.abort(g)
	return nil
}

func (e *Executor) abort(g *passgraph.Graph) {
	s := &e.slots[e.cur]
	if s.rec != nil {
		s.rec.Discard()
		s.rec = nil
	}
	if g != nil {
		for _, h := range g.Handles() {
			e.reg.MarkUnknown(h)
		}
	}
	for _, h := range e.touched {
		e.reg.MarkUnknown(h)
	}
	e.touched = e.touched[:0]
	s.state = SlotIdle
	e.active = false
	e.stats.Aborted++
	e.log.Warn("frame: aborted", "frame", e.serial, "slot", e.cur)
}

// Slots returns the number of frame slots.
func (e *Executor) Slots() int { return len(e.slots) }

// SlotState returns the state of slot i.
func (e *Executor) SlotState(i int) SlotState { return e.slots[i].state }

// Stats returns executor statistics.
func (e *Executor) Stats() Stats { return e.stats }

// Close waits for the GPU to go idle and releases the slot objects. The
// registry is not closed.
func (e *Executor) Close() error {
	if e.active {
		e.abort(nil)
	}
	var err error
	if e.lost == nil {
		if err = e.dev.WaitIdle(); err != nil {
			err = fmt.Errorf("frame: wait idle: %w", err)
		}
		e.reg.Retire(e.serial)
	}
	for i := range e.slots {
		s := &e.slots[i]
		if s.hasCB {
			e.dev.FreeCommandBuffer(s.cb)
			s.hasCB = false
		}
		e.dev.DestroyFence(s.fence)
		s.state = SlotIdle
	}
	return err
}
