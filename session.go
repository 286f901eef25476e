// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package shaderbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/shaderbox/audio"
	"github.com/gogpu/shaderbox/frame"
	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/passgraph"
	"github.com/gogpu/shaderbox/present"
	"github.com/gogpu/shaderbox/registry"
	"github.com/gogpu/shaderbox/shader"
)

// ErrClosed is returned by every method of a closed Session.
var ErrClosed = errors.New("shaderbox: session closed")

// Session is one playground: its resources, programs and frame loop on a
// single device. Sessions are independent; several may share a device.
//
// A Session is driven from one goroutine. Only the shader watcher and the
// audio capture run concurrently, and they hand their results over through
// the shader library and the audio handoff.
type Session struct {
	dev     gpucore.Device
	log     *slog.Logger
	reg     *registry.Registry
	exec    *frame.Executor
	builder *passgraph.Builder
	lib     *shader.Library
	bridge  *audio.Bridge
	present present.Presenter

	watcher *shader.Watcher
	cancel  context.CancelFunc

	fh      frame.FrameHandle
	inFrame bool

	output    gpucore.Handle
	hasOutput bool

	closed bool
}

// New creates a session on dev.
func New(dev gpucore.Device, opts ...Option) (*Session, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	log := o.logger
	if log == nil {
		log = Logger()
	}

	reg := registry.New(dev, registry.Config{MemoryBudget: o.memoryBudget, Logger: log})
	exec, err := frame.NewExecutor(dev, reg, frame.Config{
		Slots:        o.slots,
		FenceTimeout: o.fenceTimeout,
		Logger:       log,
	})
	if err != nil {
		reg.Close()
		return nil, err
	}

	s := &Session{
		dev:     dev,
		log:     log,
		reg:     reg,
		exec:    exec,
		builder: passgraph.NewBuilder(reg, log),
		lib:     shader.NewLibrary(dev, log),
		present: o.presenter,
	}
	s.bridge = audio.NewBridge(exec, audio.Config{
		Window: o.audioWindow,
		Source: o.audioSource,
		Logger: log,
	})
	log.Info("shaderbox: session created", "slots", exec.Slots())
	return s, nil
}

// usable returns the error that makes the session unusable, if any.
func (s *Session) usable() error {
	if s.closed {
		return ErrClosed
	}
	return s.exec.Lost()
}

// RegisterBuffer allocates a buffer and returns its handle.
func (s *Session) RegisterBuffer(desc gpucore.BufferDesc) (gpucore.Handle, error) {
	if err := s.usable(); err != nil {
		return gpucore.Handle{}, err
	}
	return s.reg.RegisterBuffer(desc)
}

// RegisterImage allocates an image and returns its handle.
func (s *Session) RegisterImage(desc gpucore.ImageDesc) (gpucore.Handle, error) {
	if err := s.usable(); err != nil {
		return gpucore.Handle{}, err
	}
	return s.reg.RegisterImage(desc)
}

// Release invalidates h at once. The GPU memory is freed once no frame in
// flight uses it.
func (s *Session) Release(h gpucore.Handle) error {
	if err := s.usable(); err != nil {
		return err
	}
	if err := s.reg.Release(h); err != nil {
		return err
	}
	if s.hasOutput && s.output == h {
		s.hasOutput = false
	}
	return nil
}

// LoadShader compiles the program at src and registers it under name.
func (s *Session) LoadShader(name string, src shader.Source) (gpucore.ProgramID, error) {
	if err := s.usable(); err != nil {
		return gpucore.InvalidID, err
	}
	return s.lib.Load(name, src)
}

// Program returns the current program registered as name. After a hot
// reload the ID changes, so look it up per frame.
func (s *Session) Program(name string) (gpucore.ProgramID, error) {
	return s.lib.Program(name)
}

// Watch recompiles the named shaders whenever their files change. Reloaded
// programs take effect at the next BeginFrame. The watcher stops when ctx
// is done or the session is closed.
func (s *Session) Watch(ctx context.Context, names ...string) error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.watcher == nil {
		w, err := shader.NewWatcher(s.lib, s.log)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(ctx)
		s.watcher, s.cancel = w, cancel
		go func() {
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("shaderbox: shader watcher stopped", "err", err)
			}
		}()
	}
	for _, name := range names {
		if err := s.watcher.Watch(name); err != nil {
			return err
		}
	}
	return nil
}

// BeginFrame starts a frame. It first swaps in hot-reloaded programs, then
// waits for a free frame slot.
func (s *Session) BeginFrame() error {
	if err := s.usable(); err != nil {
		return err
	}
	if s.inFrame {
		return frame.ErrFrameActive
	}
	if s.lib.Pending() {
		names, err := s.lib.ApplyReloads()
		if len(names) > 0 {
			s.log.Info("shaderbox: shaders reloaded", "names", names)
		}
		if err != nil {
			s.log.Warn("shaderbox: shader reload failed", "err", err)
		}
	}

	fh, err := s.exec.BeginFrame()
	if err != nil {
		return err
	}
	s.fh = fh
	s.inFrame = true
	s.builder.Reset()
	return nil
}

// Frame returns the serial of the frame being recorded, or 0.
func (s *Session) Frame() uint64 {
	if !s.inFrame {
		return 0
	}
	return s.fh.Serial()
}

// DeclarePass adds a pass to the current frame. Passes run in declaration
// order.
func (s *Session) DeclarePass(p passgraph.PassDescriptor) error {
	if err := s.usable(); err != nil {
		return err
	}
	if !s.inFrame {
		return frame.ErrNoFrame
	}
	return s.builder.Add(p)
}

// Upload schedules a copy of data into buffer h for the current frame.
func (s *Session) Upload(h gpucore.Handle, data []byte) error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.exec.Upload(h, data)
}

// UpdateAudio pushes samples into the audio window and uploads it into h.
// Stream problems come back as *gpucore.AudioStreamWarning; the frame can
// go on.
func (s *Session) UpdateAudio(h gpucore.Handle, samples []float32) error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.bridge.Update(h, samples)
}

// PumpAudio drains the audio source set with WithAudioSource into h.
func (s *Session) PumpAudio(h gpucore.Handle) error {
	if err := s.usable(); err != nil {
		return err
	}
	return s.bridge.Pump(h)
}

// AudioWindow returns the samples currently exposed to shaders.
func (s *Session) AudioWindow() []float32 { return s.bridge.Window() }

// SetOutput selects the image handed to the presenter after each frame.
func (s *Session) SetOutput(h gpucore.Handle) error {
	if err := s.usable(); err != nil {
		return err
	}
	rec, err := s.reg.Resolve(h)
	if err != nil {
		return err
	}
	if rec.Kind != gpucore.KindImage {
		return &gpucore.ResourceAccessError{Pass: "output", Handle: h, Reason: "is not an image"}
	}
	s.output, s.hasOutput = h, true
	return nil
}

// EndFrame builds the declared passes into a graph, records and submits it,
// and presents the output image.
//
// A pass that fails validation or refers to a released resource aborts the
// frame: nothing is submitted and the error is returned. The next frame
// starts from BeginFrame as usual.
func (s *Session) EndFrame() error {
	if err := s.usable(); err != nil {
		return err
	}
	if !s.inFrame {
		return frame.ErrNoFrame
	}
	s.inFrame = false
	fh := s.fh

	g, err := s.builder.Build()
	if err != nil {
		_ = s.exec.Abort(fh, nil)
		return err
	}
	if err := s.exec.SubmitPassGraph(fh, g); err != nil {
		return err
	}
	if err := s.exec.EndFrame(fh); err != nil {
		return err
	}
	return s.presentFrame(fh.Serial())
}

// AbortFrame drops the frame being recorded. Nothing declared in it is
// submitted.
func (s *Session) AbortFrame() error {
	if !s.inFrame {
		return frame.ErrNoFrame
	}
	s.inFrame = false
	s.builder.Reset()
	return s.exec.Abort(s.fh, nil)
}

func (s *Session) presentFrame(serial uint64) error {
	if s.present == nil || !s.hasOutput {
		return nil
	}
	rec, err := s.reg.Resolve(s.output)
	if err != nil {
		s.hasOutput = false
		return fmt.Errorf("shaderbox: output: %w", err)
	}
	// The next write to the output must wait for the presenter's read.
	if _, err := s.reg.RecordAccess(s.output, gpucore.StagePresent, gpucore.AccessRead, gpucore.NoPass); err != nil {
		return err
	}
	return s.present.Present(present.Frame{Serial: serial, Image: rec.Image, Desc: rec.Image2D})
}

// Stats returns frame statistics.
func (s *Session) Stats() frame.Stats { return s.exec.Stats() }

// Usage returns the bytes of GPU memory held by live resources.
func (s *Session) Usage() registry.Stats { return s.reg.Stats() }

// Close aborts a frame in progress, waits for the GPU and releases every
// resource and program of the session. The device is not closed.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	var errs []error
	if s.watcher != nil {
		errs = append(errs, s.watcher.Close())
	}
	errs = append(errs, s.exec.Close())
	s.lib.Close()
	s.reg.Close()
	s.log.Info("shaderbox: session closed")
	return errors.Join(errs...)
}
