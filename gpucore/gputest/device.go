// Package gputest provides a scriptable in-memory gpucore.Device for tests.
//
// The fake executes nothing on a GPU. It records every command, applies
// buffer copies at submission time so uploads can be observed, and lets the
// test decide when fences signal.
package gputest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gogpu/shaderbox/gpucore"
)

// Op identifies a recorded command.
type Op int

const (
	OpBarrier Op = iota
	OpCopy
	OpDispatch
)

// Command is one recorded command.
type Command struct {
	Op       Op
	Barrier  gpucore.BarrierCmd
	Dispatch gpucore.DispatchCmd
	CopySrc  gpucore.BufferID
	CopyDst  gpucore.BufferID
	CopySize uint64
}

// Submission is one Submit call.
type Submission struct {
	Label    string
	Fence    gpucore.FenceID
	Commands []Command
}

// Buffer is the fake backing store of a buffer.
type Buffer struct {
	Desc gpucore.BufferDesc
	Data []byte
}

type fence struct {
	done chan struct{}
}

type commandList struct {
	label    string
	commands []Command
}

// Device is a fake gpucore.Device. The zero value is not usable; call New.
type Device struct {
	mu sync.Mutex

	limits gpucore.Limits
	nextID uint64

	buffers  map[gpucore.BufferID]*Buffer
	images   map[gpucore.ImageID]gpucore.ImageDesc
	programs map[gpucore.ProgramID]gpucore.ProgramDesc
	fences   map[gpucore.FenceID]*fence
	lists    map[gpucore.CommandBuffer]*commandList

	submissions []Submission
	recordings  []string
	destroyed   []string

	// HoldFences keeps submitted fences unsignaled until Signal is called.
	HoldFences bool

	// FenceDelay signals submitted fences after a delay instead of at once.
	// Ignored when HoldFences is set.
	FenceDelay time.Duration

	// FailAlloc makes CreateBuffer and CreateImage fail with this error.
	FailAlloc error

	// FailSubmit makes Submit fail with this error.
	FailSubmit error

	// FailWait makes WaitFence fail with this error.
	FailWait error
}

// New returns a fake device with default limits.
func New() *Device {
	return &Device{
		limits:   gpucore.DefaultLimits(),
		nextID:   1,
		buffers:  make(map[gpucore.BufferID]*Buffer),
		images:   make(map[gpucore.ImageID]gpucore.ImageDesc),
		programs: make(map[gpucore.ProgramID]gpucore.ProgramDesc),
		fences:   make(map[gpucore.FenceID]*fence),
		lists:    make(map[gpucore.CommandBuffer]*commandList),
	}
}

var _ gpucore.Device = (*Device)(nil)
var _ gpucore.Reader = (*Device)(nil)

func (d *Device) newID() uint64 {
	id := d.nextID
	d.nextID++
	return id
}

// SetLimits overrides the reported limits.
func (d *Device) SetLimits(l gpucore.Limits) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.limits = l
}

// Limits implements gpucore.Device.
func (d *Device) Limits() gpucore.Limits {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.limits
}

// CreateBuffer implements gpucore.Device.
func (d *Device) CreateBuffer(desc gpucore.BufferDesc) (gpucore.BufferID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailAlloc != nil {
		return gpucore.InvalidID, d.FailAlloc
	}
	id := gpucore.BufferID(d.newID())
	d.buffers[id] = &Buffer{Desc: desc, Data: make([]byte, desc.Size)}
	return id, nil
}

// DestroyBuffer implements gpucore.Device.
func (d *Device) DestroyBuffer(id gpucore.BufferID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.buffers, id)
	d.destroyed = append(d.destroyed, fmt.Sprintf("buffer:%d", id))
}

// WriteBuffer implements gpucore.Device.
func (d *Device) WriteBuffer(id gpucore.BufferID, offset uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return fmt.Errorf("gputest: write to unknown buffer %d", id)
	}
	if offset+uint64(len(data)) > uint64(len(b.Data)) {
		return fmt.Errorf("gputest: write of %d bytes at %d overflows buffer %d", len(data), offset, id)
	}
	copy(b.Data[offset:], data)
	return nil
}

// CreateImage implements gpucore.Device.
func (d *Device) CreateImage(desc gpucore.ImageDesc) (gpucore.ImageID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailAlloc != nil {
		return gpucore.InvalidID, d.FailAlloc
	}
	id := gpucore.ImageID(d.newID())
	d.images[id] = desc
	return id, nil
}

// DestroyImage implements gpucore.Device.
func (d *Device) DestroyImage(id gpucore.ImageID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.images, id)
	d.destroyed = append(d.destroyed, fmt.Sprintf("image:%d", id))
}

// CreateProgram implements gpucore.Device.
func (d *Device) CreateProgram(desc gpucore.ProgramDesc) (gpucore.ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(desc.SPIRV) == 0 && desc.WGSL == "" {
		return gpucore.InvalidID, errors.New("gputest: program has no code")
	}
	id := gpucore.ProgramID(d.newID())
	d.programs[id] = desc
	return id, nil
}

// DestroyProgram implements gpucore.Device.
func (d *Device) DestroyProgram(id gpucore.ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.programs, id)
	d.destroyed = append(d.destroyed, fmt.Sprintf("program:%d", id))
}

// CreateFence implements gpucore.Device. Fresh fences are signaled.
func (d *Device) CreateFence() (gpucore.FenceID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := gpucore.FenceID(d.newID())
	done := make(chan struct{})
	close(done)
	d.fences[id] = &fence{done: done}
	return id, nil
}

// DestroyFence implements gpucore.Device.
func (d *Device) DestroyFence(id gpucore.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.fences, id)
}

// WaitFence implements gpucore.Device.
func (d *Device) WaitFence(id gpucore.FenceID, timeout time.Duration) (bool, error) {
	d.mu.Lock()
	if d.FailWait != nil {
		err := d.FailWait
		d.mu.Unlock()
		return false, err
	}
	f, ok := d.fences[id]
	d.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("gputest: wait on unknown fence %d", id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-f.done:
		return true, nil
	case <-timer.C:
		return false, nil
	}
}

// ResetFence implements gpucore.Device.
func (d *Device) ResetFence(id gpucore.FenceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.fences[id]; !ok {
		return fmt.Errorf("gputest: reset of unknown fence %d", id)
	}
	d.fences[id] = &fence{done: make(chan struct{})}
	return nil
}

// Signal signals a held fence. Signaling an already signaled fence is a
// no-op.
func (d *Device) Signal(id gpucore.FenceID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.fences[id]; ok {
		signal(f)
	}
}

// SignalAll signals every pending fence.
func (d *Device) SignalAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, f := range d.fences {
		signal(f)
	}
}

func signal(f *fence) {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}

// FenceSignaled reports whether a fence is currently signaled.
func (d *Device) FenceSignaled(id gpucore.FenceID) bool {
	d.mu.Lock()
	f, ok := d.fences[id]
	d.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// BeginRecording implements gpucore.Device.
func (d *Device) BeginRecording(label string) (gpucore.Recorder, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.recordings = append(d.recordings, label)
	return &recorder{dev: d, list: &commandList{label: label}}, nil
}

// Submit implements gpucore.Device. Buffer copies are applied immediately.
func (d *Device) Submit(cb gpucore.CommandBuffer, fenceID gpucore.FenceID) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailSubmit != nil {
		return d.FailSubmit
	}
	list, ok := d.lists[cb]
	if !ok {
		return fmt.Errorf("gputest: submit of unknown command buffer %d", cb)
	}
	f, ok := d.fences[fenceID]
	if !ok {
		return fmt.Errorf("gputest: submit with unknown fence %d", fenceID)
	}

	for _, c := range list.commands {
		if c.Op != OpCopy {
			continue
		}
		src, dst := d.buffers[c.CopySrc], d.buffers[c.CopyDst]
		if src != nil && dst != nil {
			copy(dst.Data[:c.CopySize], src.Data[:c.CopySize])
		}
	}
	d.submissions = append(d.submissions, Submission{
		Label:    list.label,
		Fence:    fenceID,
		Commands: append([]Command(nil), list.commands...),
	})

	switch {
	case d.HoldFences:
	case d.FenceDelay > 0:
		time.AfterFunc(d.FenceDelay, func() {
			d.mu.Lock()
			defer d.mu.Unlock()
			signal(f)
		})
	default:
		signal(f)
	}
	return nil
}

// FreeCommandBuffer implements gpucore.Device.
func (d *Device) FreeCommandBuffer(cb gpucore.CommandBuffer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.lists, cb)
}

// WaitIdle implements gpucore.Device. Held fences are signaled.
func (d *Device) WaitIdle() error {
	d.SignalAll()
	return nil
}

// ReadBuffer implements gpucore.Reader.
func (d *Device) ReadBuffer(id gpucore.BufferID, offset, size uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	if !ok {
		return nil, fmt.Errorf("gputest: read of unknown buffer %d", id)
	}
	if offset+size > uint64(len(b.Data)) {
		return nil, fmt.Errorf("gputest: read of %d bytes at %d overflows buffer %d", size, offset, id)
	}
	return append([]byte(nil), b.Data[offset:offset+size]...), nil
}

// ReadImage implements gpucore.Reader. Fake images read back as zeros.
func (d *Device) ReadImage(id gpucore.ImageID) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	desc, ok := d.images[id]
	if !ok {
		return nil, fmt.Errorf("gputest: read of unknown image %d", id)
	}
	w, h, depth := desc.Extent()
	return make([]byte, uint64(w)*uint64(h)*uint64(depth)*gpucore.BytesPerTexel(desc.Format)), nil
}

// Buffer returns the fake backing store of a live buffer.
func (d *Device) Buffer(id gpucore.BufferID) (*Buffer, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.buffers[id]
	return b, ok
}

// LiveBuffers returns the number of live buffers.
func (d *Device) LiveBuffers() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.buffers)
}

// LiveImages returns the number of live images.
func (d *Device) LiveImages() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.images)
}

// Program returns the descriptor of a live program.
func (d *Device) Program(id gpucore.ProgramID) (gpucore.ProgramDesc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.programs[id]
	return p, ok
}

// Submissions returns a copy of all submissions so far.
func (d *Device) Submissions() []Submission {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Submission(nil), d.submissions...)
}

// Recordings returns the labels of all recordings begun so far.
func (d *Device) Recordings() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.recordings...)
}

// Destroyed returns the destroyed objects as "kind:id" strings in order.
func (d *Device) Destroyed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.destroyed...)
}

type recorder struct {
	dev  *Device
	list *commandList
	done bool
}

func (r *recorder) Barriers(cmds []gpucore.BarrierCmd) {
	for _, b := range cmds {
		r.list.commands = append(r.list.commands, Command{Op: OpBarrier, Barrier: b})
	}
}

func (r *recorder) CopyBuffer(src, dst gpucore.BufferID, size uint64) {
	r.list.commands = append(r.list.commands, Command{Op: OpCopy, CopySrc: src, CopyDst: dst, CopySize: size})
}

func (r *recorder) Dispatch(cmd gpucore.DispatchCmd) error {
	if cmd.X == 0 || cmd.Y == 0 || cmd.Z == 0 {
		return fmt.Errorf("gputest: dispatch %q has a zero dimension", cmd.Label)
	}
	r.dev.mu.Lock()
	_, ok := r.dev.programs[cmd.Program]
	r.dev.mu.Unlock()
	if !ok {
		return fmt.Errorf("gputest: dispatch %q uses unknown program %d", cmd.Label, cmd.Program)
	}
	r.list.commands = append(r.list.commands, Command{Op: OpDispatch, Dispatch: cmd})
	return nil
}

func (r *recorder) Finish() (gpucore.CommandBuffer, error) {
	if r.done {
		return gpucore.InvalidID, errors.New("gputest: recording already finished")
	}
	r.done = true
	r.dev.mu.Lock()
	defer r.dev.mu.Unlock()
	cb := gpucore.CommandBuffer(r.dev.newID())
	r.dev.lists[cb] = r.list
	return cb, nil
}

func (r *recorder) Discard() {
	r.done = true
	r.list = &commandList{}
}
