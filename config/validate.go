package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/shader"
)

var formats = map[string]gputypes.TextureFormat{
	"r8unorm":         gputypes.TextureFormatR8Unorm,
	"r32float":        gputypes.TextureFormatR32Float,
	"r32uint":         gputypes.TextureFormatR32Uint,
	"rg32float":       gputypes.TextureFormatRG32Float,
	"rgba8unorm":      gputypes.TextureFormatRGBA8Unorm,
	"rgba8unorm-srgb": gputypes.TextureFormatRGBA8UnormSrgb,
	"bgra8unorm":      gputypes.TextureFormatBGRA8Unorm,
	"rgba16float":     gputypes.TextureFormatRGBA16Float,
	"rgba32float":     gputypes.TextureFormatRGBA32Float,
}

var bufferUsages = map[string]gputypes.BufferUsage{
	"storage":   gputypes.BufferUsageStorage,
	"uniform":   gputypes.BufferUsageUniform,
	"copy_src":  gputypes.BufferUsageCopySrc,
	"copy_dst":  gputypes.BufferUsageCopyDst,
	"map_read":  gputypes.BufferUsageMapRead,
	"map_write": gputypes.BufferUsageMapWrite,
}

// ParseFormat parses a lower-case WebGPU texture format name.
func ParseFormat(s string) (gputypes.TextureFormat, error) {
	f, ok := formats[strings.ToLower(s)]
	if !ok {
		return gputypes.TextureFormatUndefined, fmt.Errorf("unknown image format %q", s)
	}
	return f, nil
}

// ParseBufferUsage parses buffer usage names. An empty list is storage
// plus copy_dst, so the buffer can be fed from the CPU.
func ParseBufferUsage(names []string) (gputypes.BufferUsage, error) {
	if len(names) == 0 {
		return gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst, nil
	}
	var u gputypes.BufferUsage
	for _, n := range names {
		v, ok := bufferUsages[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("unknown buffer usage %q", n)
		}
		u |= v
	}
	return u, nil
}

// Desc returns the registry descriptor of b. It assumes p.Validate passed.
func (b Buffer) Desc() gpucore.BufferDesc {
	u, _ := ParseBufferUsage(b.Usage)
	return gpucore.BufferDesc{Label: b.Name, Size: b.Size, Usage: u}
}

// Desc returns the registry descriptor of img.
func (img Image) Desc() gpucore.ImageDesc {
	f, _ := ParseFormat(img.Format)
	return gpucore.ImageDesc{
		Label:  img.Name,
		Width:  img.Width,
		Height: img.Height,
		Depth:  img.Depth,
		Format: f,
	}
}

// Source returns the shader library source of s.
func (s Shader) Source() shader.Source {
	return shader.Source{Path: s.Path, EntryPoint: s.EntryPoint, Constants: s.Constants}
}

// Validate checks references and value ranges. All problems are reported,
// joined.
func (p *Playground) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if p.Frames.Slots < 1 || p.Frames.Slots > 3 {
		fail("frames.slots must be 1..3, got %d", p.Frames.Slots)
	}
	if p.Frames.Count < 0 {
		fail("frames.count must not be negative")
	}
	if p.Frames.FenceTimeout < 0 {
		fail("frames.fence_timeout must not be negative")
	}

	resources := make(map[string]string)
	declare := func(kind, name string) {
		switch {
		case name == "":
			fail("%s without a name", kind)
		case resources[name] != "":
			fail("duplicate resource %q", name)
		default:
			resources[name] = kind
		}
	}
	for _, b := range p.Buffers {
		declare("buffer", b.Name)
		if b.Size == 0 {
			fail("buffer %q: size must be positive", b.Name)
		}
		if _, err := ParseBufferUsage(b.Usage); err != nil {
			fail("buffer %q: %w", b.Name, err)
		}
	}
	for _, img := range p.Images {
		declare("image", img.Name)
		if img.Width == 0 || img.Height == 0 {
			fail("image %q: width and height must be positive", img.Name)
		}
		if _, err := ParseFormat(img.Format); err != nil {
			fail("image %q: %w", img.Name, err)
		}
	}

	shaders := make(map[string]bool)
	for _, s := range p.Shaders {
		if s.Name == "" {
			fail("shader without a name")
		} else if shaders[s.Name] {
			fail("duplicate shader %q", s.Name)
		}
		shaders[s.Name] = true
		if s.Path == "" {
			fail("shader %q: path is required", s.Name)
		} else if _, err := shader.Kind(s.Path); err != nil {
			fail("shader %q: %w", s.Name, err)
		}
	}

	for _, ps := range p.Passes {
		if ps.Name == "" {
			fail("pass without a name")
		}
		if !shaders[ps.Shader] {
			fail("pass %q: unknown shader %q", ps.Name, ps.Shader)
		}
		for _, list := range [][]string{ps.Reads, ps.Writes, ps.ReadWrites} {
			for _, r := range list {
				if resources[r] == "" {
					fail("pass %q: unknown resource %q", ps.Name, r)
				}
			}
		}
		for i, n := range ps.Dispatch {
			if n == 0 {
				fail("pass %q: dispatch[%d] must be positive", ps.Name, i)
			}
		}
	}

	if a := p.Audio; a != nil {
		if a.Source == "" {
			fail("audio: source is required")
		}
		if a.Window <= 0 {
			fail("audio: window must be positive")
		}
		switch resources[a.Buffer] {
		case "buffer":
			for _, b := range p.Buffers {
				if b.Name != a.Buffer {
					continue
				}
				if b.Size < uint64(a.Window)*4 {
					fail("audio: buffer %q holds %d bytes, window needs %d", b.Name, b.Size, a.Window*4)
				}
				if u, err := ParseBufferUsage(b.Usage); err == nil && u&gputypes.BufferUsageCopyDst == 0 {
					fail("audio: buffer %q needs copy_dst usage", b.Name)
				}
			}
		case "":
			fail("audio: unknown buffer %q", a.Buffer)
		default:
			fail("audio: %q is not a buffer", a.Buffer)
		}
	}

	if o := p.Output; o != nil {
		switch resources[o.Image] {
		case "image":
		case "":
			fail("output: unknown image %q", o.Image)
		default:
			fail("output: %q is not an image", o.Image)
		}
	}
	return errors.Join(errs...)
}
