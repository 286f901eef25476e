package registry

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/gpucore/gputest"
)

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *gputest.Device) {
	t.Helper()
	dev := gputest.New()
	return New(dev, cfg), dev
}

func TestRegisterBuffer(t *testing.T) {
	reg, dev := newTestRegistry(t, Config{})

	h, err := reg.RegisterBuffer(gpucore.BufferDesc{Label: "b", Size: 256})
	if err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}
	if h.Generation() != 0 {
		t.Errorf("fresh handle generation = %d, want 0", h.Generation())
	}

	rec, err := reg.Resolve(h)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.Kind != gpucore.KindBuffer || rec.Size != 256 {
		t.Errorf("record = %+v", rec)
	}
	if rec.BufferUsage != gputypes.BufferUsageStorage {
		t.Errorf("default usage = %v, want Storage", rec.BufferUsage)
	}
	if !rec.Access.IsZero() {
		t.Errorf("fresh resource access = %v, want zero", rec.Access)
	}
	if dev.LiveBuffers() != 1 {
		t.Errorf("live buffers = %d, want 1", dev.LiveBuffers())
	}
}

func TestRegisterImage(t *testing.T) {
	reg, dev := newTestRegistry(t, Config{})

	h, err := reg.RegisterImage(gpucore.ImageDesc{
		Label: "out", Width: 64, Height: 32, Format: gputypes.TextureFormatRGBA8Unorm,
	})
	if err != nil {
		t.Fatalf("RegisterImage: %v", err)
	}
	rec, err := reg.Resolve(h)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if rec.Kind != gpucore.KindImage || rec.Size != 64*32*4 {
		t.Errorf("record kind=%v size=%d", rec.Kind, rec.Size)
	}
	if dev.LiveImages() != 1 {
		t.Errorf("live images = %d, want 1", dev.LiveImages())
	}
}

func TestRegisterErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		fail error
		reg  func(r *Registry) error
	}{
		{
			name: "zero size buffer",
			reg: func(r *Registry) error {
				_, err := r.RegisterBuffer(gpucore.BufferDesc{})
				return err
			},
		},
		{
			name: "unsupported image format",
			reg: func(r *Registry) error {
				_, err := r.RegisterImage(gpucore.ImageDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatDepth32Float})
				return err
			},
		},
		{
			name: "budget exceeded",
			cfg:  Config{MemoryBudget: 100},
			reg: func(r *Registry) error {
				_, err := r.RegisterBuffer(gpucore.BufferDesc{Size: 101})
				return err
			},
		},
		{
			name: "device out of memory",
			fail: errors.New("out of device memory"),
			reg: func(r *Registry) error {
				_, err := r.RegisterBuffer(gpucore.BufferDesc{Size: 16})
				return err
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, dev := newTestRegistry(t, tt.cfg)
			dev.FailAlloc = tt.fail

			err := tt.reg(reg)
			var alloc *gpucore.AllocationError
			if !errors.As(err, &alloc) {
				t.Fatalf("err = %v, want AllocationError", err)
			}
			if tt.fail != nil && !errors.Is(err, tt.fail) {
				t.Errorf("err = %v, want cause %v", err, tt.fail)
			}
			if reg.Stats().UsedBytes != 0 {
				t.Errorf("failed allocation leaked %d bytes", reg.Stats().UsedBytes)
			}
		})
	}
}

func TestReleaseInvalidatesHandle(t *testing.T) {
	reg, dev := newTestRegistry(t, Config{})

	h, _ := reg.RegisterBuffer(gpucore.BufferDesc{Size: 64})
	if err := reg.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if dev.LiveBuffers() != 0 {
		t.Errorf("buffer not destroyed on release")
	}

	var stale *gpucore.StaleHandleError
	if _, err := reg.Resolve(h); !errors.As(err, &stale) {
		t.Fatalf("Resolve after release: err = %v, want StaleHandleError", err)
	}
	if stale.Handle != h || stale.Live != 1 {
		t.Errorf("stale = %+v", stale)
	}
	if err := reg.Release(h); !errors.Is(err, gpucore.ErrStaleHandle) {
		t.Errorf("double release: err = %v, want ErrStaleHandle", err)
	}

	// The slot is reused with the next generation; the old handle stays dead.
	h2, _ := reg.RegisterBuffer(gpucore.BufferDesc{Size: 64})
	if h2.Index() != h.Index() || h2.Generation() != h.Generation()+1 {
		t.Errorf("reused handle = %v, want index %d generation %d", h2, h.Index(), h.Generation()+1)
	}
	if _, err := reg.Resolve(h); !errors.Is(err, gpucore.ErrStaleHandle) {
		t.Error("old handle resolved after slot reuse")
	}
	if _, err := reg.Resolve(h2); err != nil {
		t.Errorf("Resolve(new): %v", err)
	}
}

func TestResolveUnknownIndex(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})
	if _, err := reg.Resolve(gpucore.MakeHandle(42, 0)); !errors.Is(err, gpucore.ErrStaleHandle) {
		t.Errorf("err = %v, want ErrStaleHandle", err)
	}
}

func TestZeroHandleNeverResolves(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})
	first, err := reg.RegisterBuffer(gpucore.BufferDesc{Label: "state", Size: 64})
	if err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}
	if first.IsZero() {
		t.Fatal("first handle is the zero Handle")
	}

	_, err = reg.Resolve(gpucore.Handle{})
	var stale *gpucore.StaleHandleError
	if !errors.As(err, &stale) {
		t.Fatalf("Resolve(zero) err = %v, want StaleHandleError", err)
	}
	if err := reg.Release(gpucore.Handle{}); !errors.Is(err, gpucore.ErrStaleHandle) {
		t.Errorf("Release(zero) err = %v, want ErrStaleHandle", err)
	}
	if _, err := reg.Resolve(first); err != nil {
		t.Errorf("first handle no longer resolves: %v", err)
	}

	// Reuse after release must not land on the reserved slot either.
	if err := reg.Release(first); err != nil {
		t.Fatalf("Release: %v", err)
	}
	again, err := reg.RegisterBuffer(gpucore.BufferDesc{Label: "again", Size: 64})
	if err != nil {
		t.Fatalf("RegisterBuffer: %v", err)
	}
	if again.Index() == 0 {
		t.Errorf("reused handle %v took the reserved slot", again)
	}
}

// TestStaleDetectionIsTotal runs random register/release sequences and
// checks that no released handle value ever resolves again.
func TestStaleDetectionIsTotal(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	for run := range 20 {
		reg, _ := newTestRegistry(t, Config{})
		var live, dead []gpucore.Handle

		for range 200 {
			if len(live) == 0 || rng.IntN(3) != 0 {
				h, err := reg.RegisterBuffer(gpucore.BufferDesc{Size: uint64(1 + rng.IntN(512))})
				if err != nil {
					t.Fatalf("run %d: RegisterBuffer: %v", run, err)
				}
				live = append(live, h)
				continue
			}
			i := rng.IntN(len(live))
			h := live[i]
			live = append(live[:i], live[i+1:]...)
			if err := reg.Release(h); err != nil {
				t.Fatalf("run %d: Release(%v): %v", run, h, err)
			}
			dead = append(dead, h)
		}

		for _, h := range dead {
			if _, err := reg.Resolve(h); !errors.Is(err, gpucore.ErrStaleHandle) {
				t.Fatalf("run %d: released handle %v resolved (err=%v)", run, h, err)
			}
		}
		for _, h := range live {
			if _, err := reg.Resolve(h); err != nil {
				t.Fatalf("run %d: live handle %v: %v", run, h, err)
			}
		}
	}
}

func TestRecordAccess(t *testing.T) {
	reg, _ := newTestRegistry(t, Config{})
	h, _ := reg.RegisterBuffer(gpucore.BufferDesc{Size: 16})
	reg.BeginFrame(3)

	prev, err := reg.RecordAccess(h, gpucore.StageCompute, gpucore.AccessWrite, 0)
	if err != nil {
		t.Fatalf("RecordAccess: %v", err)
	}
	if !prev.IsZero() {
		t.Errorf("first access prev = %v, want zero", prev)
	}

	prev, _ = reg.RecordAccess(h, gpucore.StageCompute, gpucore.AccessRead, 1)
	want := gpucore.AccessState{Stage: gpucore.StageCompute, Kind: gpucore.AccessWrite, Pass: 0, Frame: 3}
	if prev != want {
		t.Errorf("prev = %+v, want %+v", prev, want)
	}

	last, _ := reg.LastAccess(h)
	if last.Kind != gpucore.AccessRead || last.Pass != 1 {
		t.Errorf("LastAccess = %+v", last)
	}

	reg.MarkUnknown(h)
	last, _ = reg.LastAccess(h)
	if last.Stage != gpucore.StageAll || !last.Kind.Writes() {
		t.Errorf("after MarkUnknown = %+v", last)
	}

	_ = reg.Release(h)
	if _, err := reg.RecordAccess(h, gpucore.StageCompute, gpucore.AccessRead, 0); !errors.Is(err, gpucore.ErrStaleHandle) {
		t.Errorf("RecordAccess on released handle: err = %v", err)
	}
}

func TestDeferredRelease(t *testing.T) {
	reg, dev := newTestRegistry(t, Config{})
	h, _ := reg.RegisterBuffer(gpucore.BufferDesc{Size: 32})

	reg.BeginFrame(1)
	if _, err := reg.RecordAccess(h, gpucore.StageCompute, gpucore.AccessWrite, 0); err != nil {
		t.Fatal(err)
	}
	if err := reg.Release(h); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if dev.LiveBuffers() != 1 {
		t.Fatal("buffer used by an in-flight frame was destroyed early")
	}
	if reg.Stats().Deferred != 1 {
		t.Errorf("deferred = %d, want 1", reg.Stats().Deferred)
	}
	if _, err := reg.Resolve(h); !errors.Is(err, gpucore.ErrStaleHandle) {
		t.Error("handle must be invalid immediately even when destruction is deferred")
	}

	reg.Retire(1)
	if dev.LiveBuffers() != 0 || reg.Stats().Deferred != 0 {
		t.Errorf("after Retire: live=%d deferred=%d", dev.LiveBuffers(), reg.Stats().Deferred)
	}
}

func TestAttachStaging(t *testing.T) {
	reg, dev := newTestRegistry(t, Config{MemoryBudget: 1024})
	h, _ := reg.RegisterBuffer(gpucore.BufferDesc{Size: 128})

	if err := reg.AttachStaging(h, 2); err != nil {
		t.Fatalf("AttachStaging: %v", err)
	}
	if err := reg.AttachStaging(h, 2); err != nil {
		t.Errorf("repeated AttachStaging: %v", err)
	}
	rec, _ := reg.Resolve(h)
	if len(rec.Staging) != 2 {
		t.Fatalf("staging = %d, want 2", len(rec.Staging))
	}
	if got := reg.Stats().UsedBytes; got != 128*3 {
		t.Errorf("used = %d, want %d", got, 128*3)
	}
	if dev.LiveBuffers() != 3 {
		t.Errorf("live buffers = %d, want 3", dev.LiveBuffers())
	}

	img, _ := reg.RegisterImage(gpucore.ImageDesc{Width: 2, Height: 2, Format: gputypes.TextureFormatR32Float})
	if err := reg.AttachStaging(img, 2); !errors.Is(err, ErrNotBuffer) {
		t.Errorf("staging on image: err = %v", err)
	}

	if err := reg.Release(h); err != nil {
		t.Fatal(err)
	}
	if dev.LiveBuffers() != 0 {
		t.Errorf("staging buffers leaked: %d live", dev.LiveBuffers())
	}
	if got := reg.Stats().UsedBytes; got != 16 {
		t.Errorf("used after release = %d, want 16", got)
	}
}

func TestClose(t *testing.T) {
	reg, dev := newTestRegistry(t, Config{})
	for range 3 {
		if _, err := reg.RegisterBuffer(gpucore.BufferDesc{Size: 8}); err != nil {
			t.Fatal(err)
		}
	}
	reg.Close()
	if dev.LiveBuffers() != 0 {
		t.Errorf("live buffers after Close = %d", dev.LiveBuffers())
	}
	if s := reg.Stats(); s.Buffers != 0 || s.UsedBytes != 0 {
		t.Errorf("stats after Close = %v", s)
	}
}
