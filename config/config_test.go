package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
backend: noop
frames:
  count: 30
  fence_timeout: 250ms
memory_budget: 1048576
buffers:
  - name: spectrum
    size: 4096
  - name: params
    size: 64
    usage: [uniform, copy_dst]
images:
  - name: out
    width: 64
    height: 32
    format: rgba8unorm
shaders:
  - name: bars
    path: shaders/bars.wgsl
    constants: {GAIN: 1.5}
    watch: true
passes:
  - name: bars
    shader: bars
    reads: [spectrum, params]
    writes: [out]
    dispatch: [8, 4, 1]
audio:
  source: track.wav
  buffer: spectrum
output:
  image: out
  path: frames/%04d.png
`

func writePlayground(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "playground.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writePlayground(t, sample)
	p, err := Load(path)
	require.NoError(t, err)

	dir := filepath.Dir(path)
	assert.Equal(t, "noop", p.Backend)
	assert.Equal(t, 30, p.Frames.Count)
	assert.Equal(t, DefaultSlots, p.Frames.Slots)
	assert.Equal(t, 250*time.Millisecond, p.Frames.FenceTimeout.Std())
	assert.Equal(t, uint64(1<<20), p.MemoryBudget)
	assert.Equal(t, dir, p.Dir)

	require.Len(t, p.Shaders, 1)
	assert.Equal(t, filepath.Join(dir, "shaders", "bars.wgsl"), p.Shaders[0].Path)
	assert.True(t, p.Shaders[0].Watch)
	assert.Equal(t, map[string]float64{"GAIN": 1.5}, p.Shaders[0].Constants)

	require.NotNil(t, p.Audio)
	assert.Equal(t, filepath.Join(dir, "track.wav"), p.Audio.Source)
	assert.Equal(t, DefaultAudioWindow, p.Audio.Window)

	require.NotNil(t, p.Output)
	assert.Equal(t, filepath.Join(dir, "frames", "%04d.png"), p.Output.Path)
	assert.Equal(t, uint64(1), p.Output.Every)

	require.Len(t, p.Passes, 1)
	assert.Equal(t, [3]uint32{8, 4, 1}, p.Passes[0].Dispatch)
}

func TestDescriptors(t *testing.T) {
	p, err := Load(writePlayground(t, sample))
	require.NoError(t, err)

	spectrum := p.Buffers[0].Desc()
	assert.Equal(t, "spectrum", spectrum.Label)
	assert.Equal(t, gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst, spectrum.Usage)
	assert.Equal(t, gputypes.BufferUsageUniform|gputypes.BufferUsageCopyDst, p.Buffers[1].Desc().Usage)

	out := p.Images[0].Desc()
	assert.Equal(t, gputypes.TextureFormatRGBA8Unorm, out.Format)
	assert.Equal(t, uint32(64), out.Width)

	src := p.Shaders[0].Source()
	assert.Equal(t, p.Shaders[0].Path, src.Path)
	assert.Equal(t, 1.5, src.Constants["GAIN"])
}

func TestDecodeDefaults(t *testing.T) {
	p, err := Decode(strings.NewReader("frames:\n  count: 1\n"))
	require.NoError(t, err)
	assert.Equal(t, DefaultBackend, p.Backend)
	assert.Equal(t, DefaultSlots, p.Frames.Slots)
	assert.Equal(t, DefaultFenceTimeout, p.Frames.FenceTimeout.Std())
	assert.Nil(t, p.Audio)
	assert.Nil(t, p.Output)
	assert.NoError(t, p.Validate())
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty", "", "empty playground"},
		{"unknown key", "frames:\n  count: 1\n  speed: 2\n", "speed"},
		{"bad duration", "frames:\n  fence_timeout: soon\n", "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "too many slots",
			body: "frames:\n  slots: 4\n",
			want: []string{"frames.slots must be 1..3"},
		},
		{
			name: "unknown references",
			body: `
shaders:
  - {name: s, path: s.wgsl}
passes:
  - {name: p, shader: t, reads: [nope], dispatch: [1, 1, 1]}
output: {image: missing}
`,
			want: []string{`unknown shader "t"`, `unknown resource "nope"`, `output: unknown image "missing"`},
		},
		{
			name: "bad resources",
			body: `
buffers:
  - {name: a, size: 0}
  - {name: a, size: 4, usage: [vertex]}
images:
  - {name: i, width: 0, height: 4, format: rgba8unorm}
  - {name: j, width: 4, height: 4, format: rgb565}
`,
			want: []string{"size must be positive", `duplicate resource "a"`, `unknown buffer usage "vertex"`, "width and height", `unknown image format "rgb565"`},
		},
		{
			name: "shader kinds",
			body: `
shaders:
  - {name: g, path: blur.comp}
  - {name: v, path: quad.vert}
`,
			want: []string{"compile it to SPIR-V", "not a compute shader"},
		},
		{
			name: "audio buffer",
			body: `
buffers:
  - {name: small, size: 16}
  - {name: ro, size: 8192, usage: [storage]}
images:
  - {name: img, width: 1, height: 1, format: r32float}
audio: {source: a.wav, buffer: small, window: 8}
output: {image: small}
`,
			want: []string{`"small" holds 16 bytes, window needs 32`, `output: "small" is not an image`},
		},
		{
			name: "audio needs copy_dst",
			body: `
buffers:
  - {name: ro, size: 8192, usage: [storage]}
audio: {source: a.wav, buffer: ro}
`,
			want: []string{`"ro" needs copy_dst`},
		},
		{
			name: "zero dispatch",
			body: `
shaders:
  - {name: s, path: s.spv}
passes:
  - {name: p, shader: s, dispatch: [4, 0, 1]}
`,
			want: []string{"dispatch[1] must be positive"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Decode(strings.NewReader(tt.body))
			require.NoError(t, err)
			err = p.Validate()
			require.Error(t, err)
			for _, w := range tt.want {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("RGBA8Unorm-SRGB")
	require.NoError(t, err)
	assert.Equal(t, gputypes.TextureFormatRGBA8UnormSrgb, f)

	_, err = ParseFormat("depth24plus")
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	p, err := Decode(strings.NewReader(sample))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, p.Save(&buf))
	assert.Contains(t, buf.String(), "fence_timeout: 250ms")

	again, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
