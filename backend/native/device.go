// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package native implements gpucore.Device on the gogpu/wgpu HAL.
//
// Objects are tracked by ID in per-kind maps so the core never holds HAL
// interfaces. Compute pipelines are built lazily per program and binding
// signature and cached. Completion is tracked with queue submission
// indices: a fence remembers the index of the submission it was attached
// to and is signaled once Queue.PollCompleted reaches it.
package native

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/internal/logging"
)

// Config configures a Device.
type Config struct {
	// Info describes the adapter. Filled in by Open.
	Info gputypes.AdapterInfo

	// Limits are the limits the device was opened with. Nil selects
	// gputypes.DefaultLimits.
	Limits *gputypes.Limits

	// ReadbackTimeout bounds the wait for readback copies. Defaults to 5s.
	ReadbackTimeout time.Duration

	// Logger receives backend diagnostics. Nil disables logging.
	Logger *slog.Logger
}

type buffer struct {
	hal  hal.Buffer
	desc gpucore.BufferDesc
}

type image struct {
	hal  hal.Texture
	view hal.TextureView
	desc gpucore.ImageDesc
}

type program struct {
	module hal.ShaderModule
	desc   gpucore.ProgramDesc
}

type fence struct {
	// submission is the queue index the fence waits for; 0 when the fence
	// was never submitted.
	submission uint64
	reset      bool
}

type commandBuffer struct {
	hal        hal.CommandBuffer
	encoder    hal.CommandEncoder
	bindGroups []hal.BindGroup
}

// Device implements gpucore.Device and gpucore.Reader on a HAL device.
//
// Thread Safety: object creation and destruction are safe for concurrent
// use. A Recorder must be used from one goroutine.
type Device struct {
	mu     sync.RWMutex
	device hal.Device
	queue  hal.Queue

	// Set when the device was opened by Open and is owned by us.
	instance hal.Instance
	adapter  hal.Adapter

	info            gputypes.AdapterInfo
	limits          gputypes.Limits
	readbackTimeout time.Duration
	log             *slog.Logger

	nextID atomic.Uint64

	buffers  map[gpucore.BufferID]*buffer
	images   map[gpucore.ImageID]*image
	programs map[gpucore.ProgramID]*program
	fences   map[gpucore.FenceID]*fence
	cmdBufs  map[gpucore.CommandBuffer]*commandBuffer

	pipelines *pipelineCache
}

var (
	_ gpucore.Device             = (*Device)(nil)
	_ gpucore.Reader             = (*Device)(nil)
	_ gpucontext.DeviceProvider = (*Device)(nil)
)

// New wraps an open HAL device and queue. The caller keeps ownership of
// both; Close does not destroy them.
func New(device hal.Device, queue hal.Queue, cfg Config) *Device {
	limits := gputypes.DefaultLimits()
	if cfg.Limits != nil {
		limits = *cfg.Limits
	}
	if cfg.ReadbackTimeout <= 0 {
		cfg.ReadbackTimeout = 5 * time.Second
	}
	d := &Device{
		device:          device,
		queue:           queue,
		info:            cfg.Info,
		limits:          limits,
		readbackTimeout: cfg.ReadbackTimeout,
		log:             logging.OrDiscard(cfg.Logger),
		buffers:         make(map[gpucore.BufferID]*buffer),
		images:          make(map[gpucore.ImageID]*image),
		programs:        make(map[gpucore.ProgramID]*program),
		fences:          make(map[gpucore.FenceID]*fence),
		cmdBufs:         make(map[gpucore.CommandBuffer]*commandBuffer),
		pipelines:       newPipelineCache(),
	}
	// Start ID generation at 1 (0 is invalid)
	d.nextID.Store(1)
	return d
}

// Open creates an instance of api, picks an adapter (discrete GPUs first)
// and opens a device on it. Close releases everything Open created.
func Open(api hal.Backend, cfg Config) (*Device, error) {
	log := logging.OrDiscard(cfg.Logger)
	instance, err := api.CreateInstance(&hal.InstanceDescriptor{})
	if err != nil {
		return nil, fmt.Errorf("native: create %s instance: %w", api.Variant(), err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("%w (backend %s)", ErrNoAdapter, api.Variant())
	}
	chosen := pickAdapter(adapters)

	limits := gputypes.DefaultLimits()
	open, err := chosen.Adapter.Open(0, limits)
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("native: open %s: %w", chosen.Info.Name, err)
	}
	log.Info("native: adapter selected",
		"backend", api.Variant(), "name", chosen.Info.Name, "type", chosen.Info.DeviceType)

	cfg.Info = chosen.Info
	cfg.Limits = &limits
	d := New(open.Device, open.Queue, cfg)
	d.instance = instance
	d.adapter = chosen.Adapter
	return d, nil
}

func pickAdapter(adapters []hal.ExposedAdapter) hal.ExposedAdapter {
	rank := func(t gputypes.DeviceType) int {
		switch t {
		case gputypes.DeviceTypeDiscreteGPU:
			return 0
		case gputypes.DeviceTypeIntegratedGPU:
			return 1
		case gputypes.DeviceTypeVirtualGPU:
			return 2
		default:
			return 3
		}
	}
	best := adapters[0]
	for _, a := range adapters[1:] {
		if rank(a.Info.DeviceType) < rank(best.Info.DeviceType) {
			best = a
		}
	}
	return best
}

func (d *Device) newID() uint64 {
	return d.nextID.Add(1) - 1
}

// Info returns the adapter description.
func (d *Device) Info() gputypes.AdapterInfo { return d.info }

// Limits implements gpucore.Device.
func (d *Device) Limits() gpucore.Limits {
	return gpucore.Limits{
		MaxBufferSize:             d.limits.MaxBufferSize,
		MaxWorkgroupsPerDimension: d.limits.MaxComputeWorkgroupsPerDimension,
		MaxBindings:               d.limits.MaxBindingsPerBindGroup,
	}
}

// === Buffers ===

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	b, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return gpucore.InvalidID, wrap(fmt.Sprintf("create buffer %q", desc.Label), err)
	}
	id := gpucore.BufferID(d.newID())
	d.mu.Lock()
	d.buffers[id] = &buffer{hal: b, desc: desc}
	d.mu.Unlock()
	return id, nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	b, ok := d.buffers[id]
	delete(d.buffers, id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyBuffer(b.hal)
	}
}

func (d *Device) buffer(id gpucore.BufferID) (*buffer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, unknown("buffer", uint64(id))
	}
	return b, nil
}

// WriteBuffer implements gpucore.Device. Host-visible buffers with a
// coherent mapping are written in place; anything else goes through the
// queue.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	b, err := d.buffer(id)
	if err != nil {
		return err
	}
	if offset+uint64(len(data)) > b.desc.Size {
		return fmt.Errorf("native: write of %d bytes at %d overflows buffer %q", len(data), offset, b.desc.Label)
	}
	if len(data) == 0 {
		return nil
	}

	if b.desc.Usage&gputypes.BufferUsageMapWrite != 0 {
		m, err := d.device.MapBuffer(b.hal, offset, uint64(len(data)))
		if err == nil && m.IsCoherent {
			copy(unsafe.Slice((*byte)(m.Ptr), len(data)), data)
			return wrap("unmap buffer", d.device.UnmapBuffer(b.hal))
		}
		if err == nil {
			_ = d.device.UnmapBuffer(b.hal)
		}
	}
	return wrap("write buffer", d.queue.WriteBuffer(b.hal, offset, data))
}

// === Images ===

// CreateImage implements gpucore.Device. Every image gets a default view
// used for storage bindings.
func (d *Device) CreateImage(desc gpucore.ImageDesc) (gpucore.ImageID, error) {
	w, h, depth := desc.Extent()
	tex, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: depth},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     textureDimension(desc),
		Format:        desc.Format,
		Usage:         desc.Usage,
	})
	if err != nil {
		return gpucore.InvalidID, wrap(fmt.Sprintf("create image %q", desc.Label), err)
	}
	view, err := d.device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         desc.Label,
		Format:        desc.Format,
		Dimension:     viewDimension(desc),
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		d.device.DestroyTexture(tex)
		return gpucore.InvalidID, wrap(fmt.Sprintf("create view of %q", desc.Label), err)
	}

	id := gpucore.ImageID(d.newID())
	d.mu.Lock()
	d.images[id] = &image{hal: tex, view: view, desc: desc}
	d.mu.Unlock()
	return id, nil
}

// DestroyImage implements gpucore.Device.
func (d *Device) DestroyImage(id gpucore.ImageID) {
	d.mu.Lock()
	img, ok := d.images[id]
	delete(d.images, id)
	d.mu.Unlock()
	if ok {
		d.device.DestroyTextureView(img.view)
		d.device.DestroyTexture(img.hal)
	}
}

func (d *Device) image(id gpucore.ImageID) (*image, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	img, ok := d.images[id]
	if !ok {
		return nil, unknown("image", uint64(id))
	}
	return img, nil
}

// === Programs ===

// CreateProgram implements gpucore.Device. SPIR-V is preferred when both
// SPIR-V and WGSL are given.
func (d *Device) CreateProgram(desc gpucore.ProgramDesc) (gpucore.ProgramID, error) {
	src := hal.ShaderSource{SPIRV: desc.SPIRV}
	if len(desc.SPIRV) == 0 {
		if desc.WGSL == "" {
			return gpucore.InvalidID, fmt.Errorf("native: program %q has no code", desc.Label)
		}
		src = hal.ShaderSource{WGSL: desc.WGSL}
	}
	module, err := d.device.CreateShaderModule(&hal.ShaderModuleDescriptor{Label: desc.Label, Source: src})
	if err != nil {
		return gpucore.InvalidID, wrap(fmt.Sprintf("create shader module %q", desc.Label), err)
	}

	id := gpucore.ProgramID(d.newID())
	d.mu.Lock()
	d.programs[id] = &program{module: module, desc: desc}
	d.mu.Unlock()
	d.log.Debug("native: program created", "id", id, "label", desc.Label, "entry", desc.Entry())
	return id, nil
}

// DestroyProgram implements gpucore.Device. Cached pipelines of the
// program are destroyed with it.
func (d *Device) DestroyProgram(id gpucore.ProgramID) {
	d.mu.Lock()
	p, ok := d.programs[id]
	delete(d.programs, id)
	d.mu.Unlock()
	if !ok {
		return
	}
	d.pipelines.dropProgram(d.device, id)
	d.device.DestroyShaderModule(p.module)
}

func (d *Device) program(id gpucore.ProgramID) (*program, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.programs[id]
	if !ok {
		return nil, unknown("program", uint64(id))
	}
	return p, nil
}

// PipelineStats returns pipeline cache hits and misses.
func (d *Device) PipelineStats() (hits, misses uint64) {
	return d.pipelines.stats()
}

// === Synchronization ===

// CreateFence implements gpucore.Device.
func (d *Device) CreateFence() (gpucore.FenceID, error) {
	id := gpucore.FenceID(d.newID())
	d.mu.Lock()
	d.fences[id] = &fence{}
	d.mu.Unlock()
	return id, nil
}

// DestroyFence implements gpucore.Device.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	delete(d.fences, id)
	d.mu.Unlock()
}

// ResetFence implements gpucore.Device.
func (d *Device) ResetFence(id gpucore.FenceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.fences[id]
	if !ok {
		return unknown("fence", uint64(id))
	}
	f.submission = 0
	f.reset = true
	return nil
}

// signaled reports whether the fence's submission has completed.
// A reset fence that was never submitted stays unsignaled.
func (d *Device) signaled(id gpucore.FenceID) (bool, error) {
	d.mu.RLock()
	f, ok := d.fences[id]
	var sub uint64
	var reset bool
	if ok {
		sub, reset = f.submission, f.reset
	}
	d.mu.RUnlock()
	switch {
	case !ok:
		return false, unknown("fence", uint64(id))
	case sub == 0:
		return !reset, nil
	default:
		return d.queue.PollCompleted() >= sub, nil
	}
}

// WaitFence implements gpucore.Device by polling the queue's completed
// submission index with exponential backoff.
func (d *Device) WaitFence(id gpucore.FenceID, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	delay := 50 * time.Microsecond
	for {
		ok, err := d.signaled(id)
		if err != nil || ok {
			return ok, err
		}
		left := time.Until(deadline)
		if left <= 0 {
			return false, nil
		}
		time.Sleep(min(delay, left))
		delay = min(2*delay, 2*time.Millisecond)
	}
}

// waitSubmission blocks until the queue has completed index sub.
func (d *Device) waitSubmission(sub uint64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	delay := 50 * time.Microsecond
	for d.queue.PollCompleted() < sub {
		if time.Now().After(deadline) {
			return &gpucore.DeviceLostError{Op: "readback", Err: hal.ErrTimeout}
		}
		time.Sleep(delay)
		delay = min(2*delay, 2*time.Millisecond)
	}
	return nil
}

// Submit implements gpucore.Device.
func (d *Device) Submit(cb gpucore.CommandBuffer, fenceID gpucore.FenceID) error {
	d.mu.RLock()
	c, ok := d.cmdBufs[cb]
	_, fok := d.fences[fenceID]
	d.mu.RUnlock()
	if !ok {
		return unknown("command buffer", uint64(cb))
	}
	if !fok {
		return unknown("fence", uint64(fenceID))
	}

	sub, err := d.queue.Submit([]hal.CommandBuffer{c.hal})
	if err != nil {
		return wrap("submit", err)
	}

	d.mu.Lock()
	if f, ok := d.fences[fenceID]; ok {
		f.submission = sub
		f.reset = false
	}
	d.mu.Unlock()
	d.log.Debug("native: submitted", "cb", cb, "submission", sub)
	return nil
}

// FreeCommandBuffer implements gpucore.Device. Bind groups created while
// recording are destroyed with the command buffer.
func (d *Device) FreeCommandBuffer(cb gpucore.CommandBuffer) {
	d.mu.Lock()
	c, ok := d.cmdBufs[cb]
	delete(d.cmdBufs, cb)
	d.mu.Unlock()
	if !ok {
		return
	}
	d.device.FreeCommandBuffer(c.hal)
	for _, bg := range c.bindGroups {
		d.device.DestroyBindGroup(bg)
	}
	c.encoder.Destroy()
}

// WaitIdle implements gpucore.Device.
func (d *Device) WaitIdle() error {
	return wrap("wait idle", d.device.WaitIdle())
}

// === gpucontext.DeviceProvider ===

// Device returns the HAL device.
func (d *Device) Device() gpucontext.Device { return d.device }

// Queue returns the HAL queue.
func (d *Device) Queue() gpucontext.Queue { return d.queue }

// SurfaceFormat returns TextureFormatUndefined: the device is headless.
func (d *Device) SurfaceFormat() gputypes.TextureFormat { return gputypes.TextureFormatUndefined }

// Adapter returns the HAL adapter, or nil for a wrapped device.
func (d *Device) Adapter() gpucontext.Adapter {
	if d.adapter == nil {
		return nil
	}
	return d.adapter
}

// AdapterInfo returns the adapter name and type.
func (d *Device) AdapterInfo() gpucontext.AdapterInfo {
	t := gpucontext.AdapterTypeUnknown
	switch d.info.DeviceType {
	case gputypes.DeviceTypeDiscreteGPU:
		t = gpucontext.AdapterTypeDiscrete
	case gputypes.DeviceTypeIntegratedGPU:
		t = gpucontext.AdapterTypeIntegrated
	case gputypes.DeviceTypeCPU:
		t = gpucontext.AdapterTypeSoftware
	}
	return gpucontext.AdapterInfo{Name: d.info.Name, Type: t}
}

// Close waits for the GPU and destroys every object still alive. A device
// opened by Open is destroyed too.
func (d *Device) Close() error {
	err := d.WaitIdle()

	d.mu.RLock()
	pending := make([]gpucore.CommandBuffer, 0, len(d.cmdBufs))
	for id := range d.cmdBufs {
		pending = append(pending, id)
	}
	d.mu.RUnlock()
	for _, id := range pending {
		d.FreeCommandBuffer(id)
	}

	d.pipelines.destroyAll(d.device)

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.programs {
		d.device.DestroyShaderModule(p.module)
		delete(d.programs, id)
	}
	for id, img := range d.images {
		d.device.DestroyTextureView(img.view)
		d.device.DestroyTexture(img.hal)
		delete(d.images, id)
	}
	for id, b := range d.buffers {
		d.device.DestroyBuffer(b.hal)
		delete(d.buffers, id)
	}
	clear(d.fences)

	if d.instance != nil {
		d.device.Destroy()
		d.instance.Destroy()
		d.instance = nil
		d.adapter = nil
	}
	return err
}
