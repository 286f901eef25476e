package shaderbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/shaderbox/config"
	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/passgraph"
)

// Playground is a Session populated from a playground file: its resources
// are registered, its shaders loaded, and its passes are declared on every
// frame.
type Playground struct {
	*Session

	cfg     *config.Playground
	handles map[string]gpucore.Handle

	audio    gpucore.Handle
	hasAudio bool
}

// Open builds a playground session on dev. Options given here take
// precedence over the frame settings of the file. cfg is validated first,
// so nothing is allocated for a playground with dangling references.
func Open(dev gpucore.Device, cfg *config.Playground, opts ...Option) (*Playground, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("shaderbox: %w", err)
	}
	base := []Option{
		WithSlots(cfg.Frames.Slots),
		WithFenceTimeout(cfg.Frames.FenceTimeout.Std()),
		WithMemoryBudget(cfg.MemoryBudget),
	}
	if cfg.Audio != nil {
		base = append(base, WithAudioWindow(cfg.Audio.Window))
	}
	s, err := New(dev, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	p := &Playground{Session: s, cfg: cfg, handles: make(map[string]gpucore.Handle)}
	if err := p.setup(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return p, nil
}

func (p *Playground) setup() error {
	for _, b := range p.cfg.Buffers {
		h, err := p.RegisterBuffer(b.Desc())
		if err != nil {
			return fmt.Errorf("buffer %q: %w", b.Name, err)
		}
		p.handles[b.Name] = h
	}
	for _, img := range p.cfg.Images {
		h, err := p.RegisterImage(img.Desc())
		if err != nil {
			return fmt.Errorf("image %q: %w", img.Name, err)
		}
		p.handles[img.Name] = h
	}
	for _, sh := range p.cfg.Shaders {
		if _, err := p.LoadShader(sh.Name, sh.Source()); err != nil {
			return err
		}
	}
	if p.cfg.Audio != nil {
		p.audio, p.hasAudio = p.handles[p.cfg.Audio.Buffer]
	}
	if p.cfg.Output != nil {
		out, ok := p.handles[p.cfg.Output.Image]
		if !ok {
			return fmt.Errorf("output: unknown image %q", p.cfg.Output.Image)
		}
		if err := p.SetOutput(out); err != nil {
			return err
		}
	}
	return nil
}

// Handle returns the handle of the resource declared as name.
func (p *Playground) Handle(name string) (gpucore.Handle, bool) {
	h, ok := p.handles[name]
	return h, ok
}

// WatchShaders starts hot reload for every shader marked watch.
func (p *Playground) WatchShaders(ctx context.Context) error {
	var names []string
	for _, sh := range p.cfg.Shaders {
		if sh.Watch {
			names = append(names, sh.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return p.Watch(ctx, names...)
}

// RunFrame runs one frame: audio is pumped into its buffer, every pass is
// declared in file order, and the frame is submitted and presented.
// Audio stream warnings are logged and do not fail the frame.
func (p *Playground) RunFrame() error {
	if err := p.BeginFrame(); err != nil {
		return err
	}
	if p.hasAudio {
		var warn *gpucore.AudioStreamWarning
		if err := p.PumpAudio(p.audio); err != nil && !errors.As(err, &warn) {
			_ = p.AbortFrame()
			return err
		}
	}
	for _, pc := range p.cfg.Passes {
		desc, err := p.pass(pc)
		if err == nil {
			err = p.DeclarePass(desc)
		}
		if err != nil {
			_ = p.AbortFrame()
			return err
		}
	}
	return p.EndFrame()
}

func (p *Playground) pass(pc config.Pass) (passgraph.PassDescriptor, error) {
	prog, err := p.Program(pc.Shader)
	if err != nil {
		return passgraph.PassDescriptor{}, fmt.Errorf("pass %q: %w", pc.Name, err)
	}
	desc := passgraph.PassDescriptor{Name: pc.Name, Program: prog, Dispatch: pc.Dispatch}
	if desc.Reads, err = p.lookup(pc.Name, pc.Reads); err != nil {
		return passgraph.PassDescriptor{}, err
	}
	if desc.Writes, err = p.lookup(pc.Name, pc.Writes); err != nil {
		return passgraph.PassDescriptor{}, err
	}
	if desc.ReadWrites, err = p.lookup(pc.Name, pc.ReadWrites); err != nil {
		return passgraph.PassDescriptor{}, err
	}
	return desc, nil
}

// lookup maps resource names to handles. A name that was never registered
// is an error rather than the zero Handle.
func (p *Playground) lookup(pass string, names []string) ([]gpucore.Handle, error) {
	if len(names) == 0 {
		return nil, nil
	}
	hs := make([]gpucore.Handle, len(names))
	for i, n := range names {
		h, ok := p.handles[n]
		if !ok {
			return nil, fmt.Errorf("pass %q: unknown resource %q", pass, n)
		}
		hs[i] = h
	}
	return hs, nil
}
