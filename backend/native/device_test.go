package native

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/shaderbox/frame"
	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/passgraph"
	"github.com/gogpu/shaderbox/registry"
)

// createNoopDevice creates a noop device and queue for testing.
// Returns the device, queue, and a cleanup function.
func createNoopDevice(t *testing.T) (hal.Device, hal.Queue, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, openDev.Queue, cleanup
}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	device, queue, cleanup := createNoopDevice(t)
	d := New(device, queue, Config{ReadbackTimeout: time.Second})
	t.Cleanup(func() {
		if err := d.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
		cleanup()
	})
	return d
}

var testSPIRV = []uint32{0x07230203, 0x00010500, 0, 1, 0}

func TestOpen(t *testing.T) {
	d, err := Open(noop.API{}, Config{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.Adapter() == nil {
		t.Error("Adapter() = nil for an opened device")
	}
	if d.Device() == nil || d.Queue() == nil {
		t.Error("Device()/Queue() must not be nil")
	}
	if got := d.SurfaceFormat(); got != gputypes.TextureFormatUndefined {
		t.Errorf("SurfaceFormat() = %v, want Undefined", got)
	}
	if d.Limits().MaxWorkgroupsPerDimension == 0 {
		t.Error("Limits().MaxWorkgroupsPerDimension = 0")
	}
	if err := d.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestPickAdapterPrefersDiscrete(t *testing.T) {
	adapters := []hal.ExposedAdapter{
		{Info: gputypes.AdapterInfo{Name: "cpu", DeviceType: gputypes.DeviceTypeCPU}},
		{Info: gputypes.AdapterInfo{Name: "igpu", DeviceType: gputypes.DeviceTypeIntegratedGPU}},
		{Info: gputypes.AdapterInfo{Name: "dgpu", DeviceType: gputypes.DeviceTypeDiscreteGPU}},
	}
	if got := pickAdapter(adapters).Info.Name; got != "dgpu" {
		t.Errorf("pickAdapter = %q, want dgpu", got)
	}
	if got := pickAdapter(adapters[:2]).Info.Name; got != "igpu" {
		t.Errorf("pickAdapter = %q, want igpu", got)
	}
}

func TestBufferWriteRead(t *testing.T) {
	d := newTestDevice(t)
	id, err := d.CreateBuffer(gpucore.BufferDesc{
		Label: "host",
		Size:  16,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageMapWrite,
	})
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}

	if err := d.WriteBuffer(id, 4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	got, err := d.ReadBuffer(id, 0, 16)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	want := []byte{0, 0, 0, 0, 1, 2, 3, 4, 0, 0, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("ReadBuffer = %v, want %v", got, want)
	}

	if err := d.WriteBuffer(id, 14, []byte{1, 2, 3}); err == nil {
		t.Error("WriteBuffer past the end: want error")
	}
	if _, err := d.ReadBuffer(id, 8, 9); err == nil {
		t.Error("ReadBuffer past the end: want error")
	}

	d.DestroyBuffer(id)
	if err := d.WriteBuffer(id, 0, []byte{1}); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("WriteBuffer after destroy = %v, want ErrUnknownObject", err)
	}
}

func TestReadBufferThroughStaging(t *testing.T) {
	d := newTestDevice(t)
	id, err := d.CreateBuffer(gpucore.BufferDesc{
		Label: "storage",
		Size:  64,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst | gputypes.BufferUsageCopySrc,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := d.WriteBuffer(id, 0, []byte{9, 9}); err != nil {
		t.Fatalf("WriteBuffer: %v", err)
	}
	got, err := d.ReadBuffer(id, 16, 32)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if len(got) != 32 {
		t.Errorf("len = %d, want 32", len(got))
	}
}

func TestReadImage(t *testing.T) {
	d := newTestDevice(t)
	id, err := d.CreateImage(gpucore.ImageDesc{
		Label:  "out",
		Width:  3,
		Height: 2,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageStorageBinding | gputypes.TextureUsageCopySrc,
	})
	if err != nil {
		t.Fatalf("CreateImage: %v", err)
	}
	px, err := d.ReadImage(id)
	if err != nil {
		t.Fatalf("ReadImage: %v", err)
	}
	if len(px) != 3*2*4 {
		t.Errorf("len = %d, want %d", len(px), 3*2*4)
	}

	depth, err := d.CreateImage(gpucore.ImageDesc{
		Label: "depth", Width: 4, Height: 4, Format: gputypes.TextureFormatDepth32Float,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.ReadImage(depth); err == nil {
		t.Error("ReadImage of a depth format: want error")
	}
}

func TestCreateProgram(t *testing.T) {
	d := newTestDevice(t)
	if _, err := d.CreateProgram(gpucore.ProgramDesc{Label: "empty"}); err == nil {
		t.Error("CreateProgram without code: want error")
	}
	if _, err := d.CreateProgram(gpucore.ProgramDesc{Label: "wgsl", WGSL: "@compute @workgroup_size(1) fn main() {}"}); err != nil {
		t.Errorf("CreateProgram(WGSL): %v", err)
	}
	if _, err := d.CreateProgram(gpucore.ProgramDesc{Label: "spv", SPIRV: testSPIRV}); err != nil {
		t.Errorf("CreateProgram(SPIRV): %v", err)
	}
}

func TestFenceLifecycle(t *testing.T) {
	d := newTestDevice(t)
	f, err := d.CreateFence()
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := d.WaitFence(f, time.Millisecond); err != nil || !ok {
		t.Fatalf("fresh fence: WaitFence = %v, %v; want signaled", ok, err)
	}

	if err := d.ResetFence(f); err != nil {
		t.Fatal(err)
	}
	start := time.Now()
	if ok, err := d.WaitFence(f, 10*time.Millisecond); err != nil || ok {
		t.Fatalf("reset fence: WaitFence = %v, %v; want timeout", ok, err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("WaitFence returned before the timeout")
	}

	rec, err := d.BeginRecording("fence")
	if err != nil {
		t.Fatal(err)
	}
	cb, err := rec.Finish()
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Submit(cb, f); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if ok, err := d.WaitFence(f, time.Second); err != nil || !ok {
		t.Fatalf("submitted fence: WaitFence = %v, %v; want signaled", ok, err)
	}
	d.FreeCommandBuffer(cb)

	d.DestroyFence(f)
	if _, err := d.WaitFence(f, time.Millisecond); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("WaitFence after destroy = %v, want ErrUnknownObject", err)
	}
}

func TestDispatchCachesPipelines(t *testing.T) {
	d := newTestDevice(t)
	prog, err := d.CreateProgram(gpucore.ProgramDesc{Label: "blur", SPIRV: testSPIRV})
	if err != nil {
		t.Fatal(err)
	}
	buf, _ := d.CreateBuffer(gpucore.BufferDesc{Label: "params", Size: 64, Usage: gputypes.BufferUsageUniform})
	img, _ := d.CreateImage(gpucore.ImageDesc{Label: "out", Width: 8, Height: 8, Format: gputypes.TextureFormatRGBA8Unorm})
	cmd := gpucore.DispatchCmd{
		Label:   "blur",
		Program: prog,
		Bindings: []gpucore.Binding{
			{Binding: 0, Kind: gpucore.KindBuffer, Access: gpucore.AccessRead, Buffer: buf, Uniform: true},
			{Binding: 1, Kind: gpucore.KindImage, Access: gpucore.AccessWrite, Image: img},
		},
		X: 1, Y: 1, Z: 1,
	}

	for range 2 {
		rec, err := d.BeginRecording("frame")
		if err != nil {
			t.Fatal(err)
		}
		rec.Barriers([]gpucore.BarrierCmd{{
			Kind:  gpucore.KindImage,
			Image: img,
			Src:   gpucore.AccessState{Stage: gpucore.StageCompute, Kind: gpucore.AccessWrite},
			Dst:   gpucore.AccessState{Stage: gpucore.StageCompute, Kind: gpucore.AccessWrite},
		}})
		if err := rec.Dispatch(cmd); err != nil {
			t.Fatalf("Dispatch: %v", err)
		}
		cb, err := rec.Finish()
		if err != nil {
			t.Fatal(err)
		}
		d.FreeCommandBuffer(cb)
	}

	if hits, misses := d.PipelineStats(); hits != 1 || misses != 1 {
		t.Errorf("PipelineStats = %d hits, %d misses; want 1, 1", hits, misses)
	}
	if n := d.pipelines.size(); n != 1 {
		t.Errorf("cached pipelines = %d, want 1", n)
	}

	// A different binding layout is a different pipeline.
	cmd.Bindings[1].Access = gpucore.AccessReadWrite
	rec, _ := d.BeginRecording("frame")
	if err := rec.Dispatch(cmd); err != nil {
		t.Fatal(err)
	}
	rec.Discard()
	if n := d.pipelines.size(); n != 2 {
		t.Errorf("cached pipelines = %d, want 2", n)
	}

	d.DestroyProgram(prog)
	if n := d.pipelines.size(); n != 0 {
		t.Errorf("cached pipelines after DestroyProgram = %d, want 0", n)
	}
}

func TestDispatchErrors(t *testing.T) {
	d := newTestDevice(t)
	rec, err := d.BeginRecording("frame")
	if err != nil {
		t.Fatal(err)
	}
	if err := rec.Dispatch(gpucore.DispatchCmd{Label: "x", Program: 42}); !errors.Is(err, ErrUnknownObject) {
		t.Errorf("Dispatch(unknown program) = %v, want ErrUnknownObject", err)
	}

	prog, _ := d.CreateProgram(gpucore.ProgramDesc{SPIRV: testSPIRV})
	err = rec.Dispatch(gpucore.DispatchCmd{
		Label:    "x",
		Program:  prog,
		Bindings: []gpucore.Binding{{Kind: gpucore.KindBuffer, Buffer: 777}},
	})
	if !errors.Is(err, ErrUnknownObject) {
		t.Errorf("Dispatch(unknown buffer) = %v, want ErrUnknownObject", err)
	}

	if _, err := rec.Finish(); err != nil {
		t.Fatal(err)
	}
	if _, err := rec.Finish(); !errors.Is(err, ErrRecordingDone) {
		t.Errorf("second Finish = %v, want ErrRecordingDone", err)
	}
	if err := rec.Dispatch(gpucore.DispatchCmd{Program: prog}); !errors.Is(err, ErrRecordingDone) {
		t.Errorf("Dispatch after Finish = %v, want ErrRecordingDone", err)
	}
	rec.Discard()
}

func TestWrapClassifiesDeviceLoss(t *testing.T) {
	if wrap("x", nil) != nil {
		t.Error("wrap(nil) != nil")
	}
	for _, cause := range []error{hal.ErrDeviceLost, hal.ErrTimeout} {
		err := wrap("submit", cause)
		var lost *gpucore.DeviceLostError
		if !errors.As(err, &lost) || !errors.Is(err, gpucore.ErrDeviceLost) {
			t.Errorf("wrap(%v) = %v, want DeviceLostError", cause, err)
		}
	}
	if err := wrap("create", hal.ErrDeviceOutOfMemory); errors.Is(err, gpucore.ErrDeviceLost) {
		t.Errorf("wrap(OOM) = %v, must not be device loss", err)
	}
}

// TestExecutorOnNoopDevice drives the registry, pass graph and frame
// executor against the HAL device.
func TestExecutorOnNoopDevice(t *testing.T) {
	d := newTestDevice(t)
	reg := registry.New(d, registry.Config{})
	exec, err := frame.NewExecutor(d, reg, frame.Config{Slots: 2})
	if err != nil {
		t.Fatal(err)
	}
	prog, err := d.CreateProgram(gpucore.ProgramDesc{Label: "fill", SPIRV: testSPIRV})
	if err != nil {
		t.Fatal(err)
	}

	params, err := reg.RegisterBuffer(gpucore.BufferDesc{
		Label: "params", Size: 16,
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := reg.RegisterImage(gpucore.ImageDesc{Label: "out", Width: 16, Height: 16, Format: gputypes.TextureFormatRGBA8Unorm})
	if err != nil {
		t.Fatal(err)
	}

	builder := passgraph.NewBuilder(reg, nil)
	for i := range 4 {
		fh, err := exec.BeginFrame()
		if err != nil {
			t.Fatalf("frame %d: BeginFrame: %v", i, err)
		}
		if err := exec.Upload(params, []byte{byte(i), 0, 0, 0}); err != nil {
			t.Fatalf("frame %d: Upload: %v", i, err)
		}
		builder.Reset()
		if err := builder.Add(passgraph.PassDescriptor{
			Name: "fill", Program: prog,
			Reads: []gpucore.Handle{params}, Writes: []gpucore.Handle{out},
			Dispatch: [3]uint32{2, 2, 1},
		}); err != nil {
			t.Fatal(err)
		}
		g, err := builder.Build()
		if err != nil {
			t.Fatal(err)
		}
		if err := exec.SubmitPassGraph(fh, g); err != nil {
			t.Fatalf("frame %d: SubmitPassGraph: %v", i, err)
		}
		if err := exec.EndFrame(fh); err != nil {
			t.Fatalf("frame %d: EndFrame: %v", i, err)
		}
	}

	st := exec.Stats()
	if st.Frames != 4 || st.Dispatches != 4 || st.Uploads != 4 {
		t.Errorf("Stats = %+v, want 4 frames, dispatches and uploads", st)
	}
	if hits, misses := d.PipelineStats(); misses != 1 || hits != 3 {
		t.Errorf("PipelineStats = %d hits, %d misses; want 3, 1", hits, misses)
	}
	if err := exec.Close(); err != nil {
		t.Errorf("executor Close: %v", err)
	}
	reg.Close()
}
