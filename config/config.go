// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

// Package config loads playground descriptions from YAML.
//
// A playground file lists the resources, shaders and passes of a session
// plus the audio source and output sink:
//
//	frames:
//	  count: 600
//	  slots: 2
//	  fence_timeout: 2s
//	buffers:
//	  - name: spectrum
//	    size: 4096
//	images:
//	  - name: out
//	    width: 640
//	    height: 360
//	    format: rgba8unorm
//	shaders:
//	  - name: bars
//	    path: bars.wgsl
//	    constants: {GAIN: 1.5}
//	passes:
//	  - name: bars
//	    shader: bars
//	    reads: [spectrum]
//	    writes: [out]
//	    dispatch: [80, 45, 1]
//	audio:
//	  source: track.wav
//	  buffer: spectrum
//	output:
//	  image: out
//	  path: frames/%04d.png
//
// Relative paths are resolved against the directory of the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load.
const (
	DefaultFrames       = 120
	DefaultSlots        = 2
	DefaultFenceTimeout = 5 * time.Second
	DefaultAudioWindow  = 1024
	DefaultBackend      = "auto"
)

// Playground is a decoded playground file.
type Playground struct {
	Backend      string   `yaml:"backend,omitempty"`
	Frames       Frames   `yaml:"frames"`
	MemoryBudget uint64   `yaml:"memory_budget,omitempty"`
	Buffers      []Buffer `yaml:"buffers"`
	Images       []Image  `yaml:"images"`
	Shaders      []Shader `yaml:"shaders"`
	Passes       []Pass   `yaml:"passes"`
	Audio        *Audio   `yaml:"audio,omitempty"`
	Output       *Output  `yaml:"output,omitempty"`

	// Dir is the directory relative paths were resolved against.
	Dir string `yaml:"-"`
}

// Frames configures frame pacing.
type Frames struct {
	// Count is the number of frames the CLI runs. 0 runs until interrupted.
	Count        int      `yaml:"count"`
	Slots        int      `yaml:"slots,omitempty"`
	FenceTimeout Duration `yaml:"fence_timeout,omitempty"`
}

// Buffer declares a buffer resource.
type Buffer struct {
	Name  string   `yaml:"name"`
	Size  uint64   `yaml:"size"`
	Usage []string `yaml:"usage,omitempty"`
}

// Image declares an image resource.
type Image struct {
	Name   string `yaml:"name"`
	Width  uint32 `yaml:"width"`
	Height uint32 `yaml:"height"`
	Depth  uint32 `yaml:"depth,omitempty"`
	Format string `yaml:"format"`
}

// Shader declares a compute program.
type Shader struct {
	Name       string             `yaml:"name"`
	Path       string             `yaml:"path"`
	EntryPoint string             `yaml:"entry_point,omitempty"`
	Constants  map[string]float64 `yaml:"constants,omitempty"`

	// Watch enables hot reload of the file.
	Watch bool `yaml:"watch,omitempty"`
}

// Pass declares one compute pass.
type Pass struct {
	Name       string    `yaml:"name"`
	Shader     string    `yaml:"shader"`
	Reads      []string  `yaml:"reads,omitempty"`
	Writes     []string  `yaml:"writes,omitempty"`
	ReadWrites []string  `yaml:"read_writes,omitempty"`
	Dispatch   [3]uint32 `yaml:"dispatch"`
}

// Audio configures the audio bridge.
type Audio struct {
	// Source is a WAV file.
	Source string `yaml:"source"`
	Loop   bool   `yaml:"loop,omitempty"`

	// Window is the number of mono samples exposed to shaders.
	Window int `yaml:"window,omitempty"`

	// Buffer names the buffer the window is uploaded to.
	Buffer string `yaml:"buffer"`
}

// Output configures the frame sink.
type Output struct {
	Image string `yaml:"image"`

	// Path is the output file; see present.FileSinkConfig.Path.
	Path  string `yaml:"path,omitempty"`
	Every uint64 `yaml:"every,omitempty"`
}

// Duration is a time.Duration written as a Go duration string ("250ms").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads, defaults and validates the playground file at path.
func Load(path string) (*Playground, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	p, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	p.resolve(abs)
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return p, nil
}

// Decode decodes a playground and applies defaults. Unknown keys are
// errors. Paths are left as written.
func Decode(r io.Reader) (*Playground, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var p Playground
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty playground")
		}
		return nil, err
	}
	p.normalize()
	return &p, nil
}

func (p *Playground) normalize() {
	if p.Backend == "" {
		p.Backend = DefaultBackend
	}
	if p.Frames.Slots == 0 {
		p.Frames.Slots = DefaultSlots
	}
	if p.Frames.FenceTimeout == 0 {
		p.Frames.FenceTimeout = Duration(DefaultFenceTimeout)
	}
	if p.Audio != nil && p.Audio.Window == 0 {
		p.Audio.Window = DefaultAudioWindow
	}
	if p.Output != nil && p.Output.Every == 0 {
		p.Output.Every = 1
	}
}

func (p *Playground) resolve(dir string) {
	p.Dir = dir
	abs := func(s string) string {
		if s == "" || filepath.IsAbs(s) {
			return s
		}
		return filepath.Join(dir, s)
	}
	for i := range p.Shaders {
		p.Shaders[i].Path = abs(p.Shaders[i].Path)
	}
	if p.Audio != nil {
		p.Audio.Source = abs(p.Audio.Source)
	}
	if p.Output != nil {
		p.Output.Path = abs(p.Output.Path)
	}
}

// Save writes p as YAML.
func (p *Playground) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(p); err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	return enc.Close()
}
