package present

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/gogpu/shaderbox/gpucore"
)

func TestChooseFormat(t *testing.T) {
	tests := []struct {
		name      string
		available []gputypes.TextureFormat
		want      gputypes.TextureFormat
	}{
		{"rgba first", []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatRGBA8Unorm}, gputypes.TextureFormatRGBA8Unorm},
		{"srgb rgba", []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb}, gputypes.TextureFormatRGBA8UnormSrgb},
		{"bgra", []gputypes.TextureFormat{gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatBGRA8UnormSrgb}, gputypes.TextureFormatBGRA8UnormSrgb},
		{"first offered", []gputypes.TextureFormat{gputypes.TextureFormatRGBA16Float, gputypes.TextureFormatRGB10A2Unorm}, gputypes.TextureFormatRGBA16Float},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ChooseFormat(tt.available)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ChooseFormat() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := ChooseFormat(nil); !errors.Is(err, ErrNoSurfaceFormat) {
		t.Errorf("ChooseFormat(nil) = %v, want ErrNoSurfaceFormat", err)
	}
}

func TestChoosePresentMode(t *testing.T) {
	if got := ChoosePresentMode([]gputypes.PresentMode{gputypes.PresentModeFifo, gputypes.PresentModeMailbox}); got != gputypes.PresentModeMailbox {
		t.Errorf("with mailbox = %v, want Mailbox", got)
	}
	if got := ChoosePresentMode([]gputypes.PresentMode{gputypes.PresentModeImmediate}); got != gputypes.PresentModeFifo {
		t.Errorf("without mailbox = %v, want Fifo", got)
	}
	if got := ChoosePresentMode(nil); got != gputypes.PresentModeFifo {
		t.Errorf("empty = %v, want Fifo", got)
	}
}

func TestImageCount(t *testing.T) {
	tests := []struct {
		min, max, want uint32
	}{
		{2, 0, 3},
		{2, 8, 3},
		{3, 3, 3},
		{1, 2, 2},
	}
	for _, tt := range tests {
		if got := ImageCount(tt.min, tt.max); got != tt.want {
			t.Errorf("ImageCount(%d, %d) = %d, want %d", tt.min, tt.max, got, tt.want)
		}
	}
}

func TestConfigure(t *testing.T) {
	caps := &hal.SurfaceCapabilities{
		Formats:      []gputypes.TextureFormat{gputypes.TextureFormatBGRA8Unorm},
		PresentModes: []gputypes.PresentMode{gputypes.PresentModeFifo},
	}
	cfg, err := Configure(caps, 640, 480, 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := SurfaceConfig{
		Width: 640, Height: 480,
		Format:      gputypes.TextureFormatBGRA8Unorm,
		PresentMode: gputypes.PresentModeFifo,
		ImageCount:  3,
	}
	if cfg != want {
		t.Errorf("Configure() = %+v, want %+v", cfg, want)
	}
	if _, err := Configure(&hal.SurfaceCapabilities{}, 1, 1, 1, 0); !errors.Is(err, ErrNoSurfaceFormat) {
		t.Errorf("Configure(no formats) = %v", err)
	}
}

// fakeReader returns fixed texels for every image.
type fakeReader struct {
	px    []byte
	err   error
	reads int
}

func (r *fakeReader) ReadBuffer(gpucore.BufferID, uint64, uint64) ([]byte, error) {
	return nil, errors.New("not implemented")
}

func (r *fakeReader) ReadImage(gpucore.ImageID) ([]byte, error) {
	r.reads++
	return r.px, r.err
}

func rgbaDesc(w, h uint32) gpucore.ImageDesc {
	return gpucore.ImageDesc{Label: "out", Width: w, Height: h, Format: gputypes.TextureFormatRGBA8Unorm}
}

func TestFileSinkWritesPNG(t *testing.T) {
	px := []byte{
		255, 0, 0, 255, 0, 255, 0, 255,
		0, 0, 255, 255, 10, 20, 30, 40,
	}
	r := &fakeReader{px: px}
	path := filepath.Join(t.TempDir(), "out.png")
	sink, err := NewFileSink(r, FileSinkConfig{Path: path})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Present(Frame{Serial: 1, Image: 7, Desc: rgbaDesc(2, 2)}); err != nil {
		t.Fatalf("Present: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if img.Bounds() != image.Rect(0, 0, 2, 2) {
		t.Fatalf("bounds = %v", img.Bounds())
	}
	nrgba, ok := img.(*image.NRGBA)
	if !ok {
		t.Fatalf("decoded %T, want *image.NRGBA", img)
	}
	if !bytes.Equal(nrgba.Pix, px) {
		t.Errorf("pixels = %v, want %v", nrgba.Pix, px)
	}
}

func TestFileSinkPatternAndEvery(t *testing.T) {
	dir := t.TempDir()
	r := &fakeReader{px: make([]byte, 4)}
	sink, err := NewFileSink(r, FileSinkConfig{Path: filepath.Join(dir, "frame-%03d.bmp"), Every: 2})
	if err != nil {
		t.Fatal(err)
	}
	for serial := uint64(1); serial <= 5; serial++ {
		if err := sink.Present(Frame{Serial: serial, Desc: rgbaDesc(1, 1)}); err != nil {
			t.Fatal(err)
		}
	}
	if sink.Written() != 2 || r.reads != 2 {
		t.Errorf("written %d, reads %d; want 2, 2", sink.Written(), r.reads)
	}
	for _, name := range []string{"frame-002.bmp", "frame-004.bmp"} {
		f, err := os.Open(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := bmp.Decode(f); err != nil {
			t.Errorf("%s: %v", name, err)
		}
		f.Close()
	}
}

func TestFileSinkErrors(t *testing.T) {
	if _, err := NewFileSink(nil, FileSinkConfig{Path: "x.png"}); err == nil {
		t.Error("nil reader: want error")
	}
	if _, err := NewFileSink(&fakeReader{}, FileSinkConfig{Path: "x.gif"}); err == nil {
		t.Error("gif: want error")
	}
	if _, err := NewFileSink(&fakeReader{}, FileSinkConfig{Path: "noext"}); err == nil {
		t.Error("no extension: want error")
	}

	boom := errors.New("boom")
	sink, err := NewFileSink(&fakeReader{err: boom}, FileSinkConfig{Path: filepath.Join(t.TempDir(), "x.png")})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Present(Frame{Serial: 1, Desc: rgbaDesc(1, 1)}); !errors.Is(err, boom) {
		t.Errorf("Present = %v, want wrapped boom", err)
	}
}

func TestEncodingFor(t *testing.T) {
	tests := map[string]Encoding{
		"a.png":   EncodingPNG,
		"b.PNG":   EncodingPNG,
		"c.bmp":   EncodingBMP,
		"d.tif":   EncodingTIFF,
		"e.tiff":  EncodingTIFF,
		"f/g.png": EncodingPNG,
	}
	for path, want := range tests {
		got, err := EncodingFor(path)
		if err != nil || got != want {
			t.Errorf("EncodingFor(%q) = %v, %v; want %v", path, got, err, want)
		}
	}
}

func f32(vs ...float32) []byte {
	out := make([]byte, 4*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestToImage(t *testing.T) {
	t.Run("bgra", func(t *testing.T) {
		desc := gpucore.ImageDesc{Width: 1, Height: 1, Format: gputypes.TextureFormatBGRA8Unorm}
		img, err := ToImage(desc, []byte{1, 2, 3, 4})
		if err != nil {
			t.Fatal(err)
		}
		if got := img.(*image.NRGBA).Pix; !bytes.Equal(got, []byte{3, 2, 1, 4}) {
			t.Errorf("Pix = %v", got)
		}
	})
	t.Run("r32float", func(t *testing.T) {
		desc := gpucore.ImageDesc{Width: 4, Height: 1, Format: gputypes.TextureFormatR32Float}
		img, err := ToImage(desc, f32(-1, 0.5, 2, float32(math.NaN())))
		if err != nil {
			t.Fatal(err)
		}
		if got := img.(*image.Gray).Pix; !bytes.Equal(got, []byte{0, 128, 255, 0}) {
			t.Errorf("Pix = %v", got)
		}
	})
	t.Run("rgba32float", func(t *testing.T) {
		desc := gpucore.ImageDesc{Width: 1, Height: 1, Format: gputypes.TextureFormatRGBA32Float}
		img, err := ToImage(desc, f32(1, 0, 0.2, 1))
		if err != nil {
			t.Fatal(err)
		}
		if got := img.(*image.NRGBA).Pix; !bytes.Equal(got, []byte{255, 0, 51, 255}) {
			t.Errorf("Pix = %v", got)
		}
	})
	t.Run("short", func(t *testing.T) {
		if _, err := ToImage(rgbaDesc(2, 2), make([]byte, 8)); err == nil {
			t.Error("want error for short data")
		}
	})
	t.Run("unsupported", func(t *testing.T) {
		desc := gpucore.ImageDesc{Width: 1, Height: 1, Format: gputypes.TextureFormatRGBA16Float}
		if _, err := ToImage(desc, make([]byte, 8)); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("ToImage = %v, want ErrUnsupportedFormat", err)
		}
	})
}

func TestEncodeTIFFRoundTrip(t *testing.T) {
	img, err := ToImage(rgbaDesc(2, 1), []byte{1, 2, 3, 255, 4, 5, 6, 255})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Encode(&buf, img, EncodingTIFF); err != nil {
		t.Fatal(err)
	}
	got, err := tiff.Decode(&buf)
	if err != nil {
		t.Fatalf("tiff.Decode: %v", err)
	}
	if got.Bounds() != img.Bounds() {
		t.Errorf("bounds = %v, want %v", got.Bounds(), img.Bounds())
	}
}
