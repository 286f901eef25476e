// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package shader

import (
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/internal/cache"
	"github.com/gogpu/shaderbox/internal/logging"
)

// compiledLimit bounds the number of compiled WGSL modules kept per
// library.
const compiledLimit = 64

// ErrUnknownProgram is returned for a program name that was never loaded.
var ErrUnknownProgram = errors.New("shader: unknown program")

// Source describes where a program comes from.
type Source struct {
	Path       string
	EntryPoint string
	Constants  map[string]float64
}

type program struct {
	src  Source
	id   gpucore.ProgramID
	next *gpucore.ProgramDesc
}

// Library owns the compute programs of a session by name.
//
// Load and ApplyReloads must be called from the render goroutine; Reload
// may be called from any goroutine.
type Library struct {
	dev gpucore.Device
	log *slog.Logger

	mu       sync.Mutex
	programs map[string]*program

	// compiled maps a hash of WGSL source, entry point and constants to
	// SPIR-V, so saving a file without changing it does not recompile.
	compiled *cache.Cache[uint64, []uint32]
}

// NewLibrary creates an empty library creating programs on dev.
func NewLibrary(dev gpucore.Device, log *slog.Logger) *Library {
	return &Library{
		dev:      dev,
		log:      logging.OrDiscard(log),
		programs: make(map[string]*program),
		compiled: cache.New[uint64, []uint32](compiledLimit),
	}
}

// Load compiles the program at src.Path and registers it as name,
// replacing any program already loaded under that name.
func (l *Library) Load(name string, src Source) (gpucore.ProgramID, error) {
	src.Path = filepath.Clean(src.Path)
	desc, err := l.build(name, src)
	if err != nil {
		return gpucore.InvalidID, err
	}
	id, err := l.dev.CreateProgram(desc)
	if err != nil {
		return gpucore.InvalidID, &CompileError{Path: src.Path, Err: err}
	}

	l.mu.Lock()
	old := l.programs[name]
	l.programs[name] = &program{src: src, id: id}
	l.mu.Unlock()

	if old != nil {
		l.dev.DestroyProgram(old.id)
	}
	l.log.Info("shader: program loaded", "name", name, "path", src.Path, "entry", desc.Entry())
	return id, nil
}

// build reads and compiles a program source.
func (l *Library) build(name string, src Source) (gpucore.ProgramDesc, error) {
	kind, err := Kind(src.Path)
	if err != nil {
		return gpucore.ProgramDesc{}, &CompileError{Path: src.Path, Err: err}
	}
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return gpucore.ProgramDesc{}, &CompileError{Path: src.Path, Err: err}
	}

	desc := gpucore.ProgramDesc{
		Label:      name,
		EntryPoint: src.EntryPoint,
		Constants:  maps.Clone(src.Constants),
	}
	switch kind {
	case SourceWGSL:
		desc.WGSL = string(data)
		desc.SPIRV, err = l.compile(desc.WGSL, desc.Entry(), src.Constants)
	case SourceSPIRV:
		if len(src.Constants) > 0 {
			err = errors.New("constants cannot be applied to precompiled SPIR-V")
			break
		}
		desc.SPIRV, err = Words(data)
	}
	if err != nil {
		return gpucore.ProgramDesc{}, &CompileError{Path: src.Path, Err: err}
	}
	return desc, nil
}

// compile is CompileWGSL behind the library's compile cache.
func (l *Library) compile(source, entry string, constants map[string]float64) ([]uint32, error) {
	key := compileKey(source, entry, constants)
	if words, ok := l.compiled.Get(key); ok {
		return words, nil
	}
	words, err := CompileWGSL(source, entry, constants)
	if err != nil {
		return nil, err
	}
	l.compiled.Set(key, words)
	return words, nil
}

func compileKey(source, entry string, constants map[string]float64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, name := range slices.Sorted(maps.Keys(constants)) {
		h.Write([]byte(name))
		bits := math.Float64bits(constants[name])
		for i := range buf {
			buf[i] = byte(bits >> (8 * i))
		}
		h.Write(buf[:])
	}
	h.Write([]byte{0})
	h.Write([]byte(entry))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return h.Sum64()
}

// CacheStats returns statistics of the WGSL compile cache.
func (l *Library) CacheStats() cache.Stats { return l.compiled.Stats() }

// Program returns the current program registered as name.
func (l *Library) Program(name string) (gpucore.ProgramID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.programs[name]
	if !ok {
		return gpucore.InvalidID, fmt.Errorf("%w %q", ErrUnknownProgram, name)
	}
	return p.id, nil
}

// Names returns the loaded program names, sorted.
func (l *Library) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Sorted(maps.Keys(l.programs))
}

// Path returns the source path of name.
func (l *Library) Path(name string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.programs[name]
	if !ok {
		return "", false
	}
	return p.src.Path, true
}

// Reload recompiles name from its source. On success the new program is
// staged and takes effect at the next ApplyReloads; on failure the current
// program stays in use and the CompileError is returned.
func (l *Library) Reload(name string) error {
	l.mu.Lock()
	p, ok := l.programs[name]
	var src Source
	if ok {
		src = p.src
	}
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownProgram, name)
	}

	desc, err := l.build(name, src)
	if err != nil {
		l.log.Warn("shader: reload failed, keeping previous program", "name", name, "err", err)
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.programs[name]; ok && cur == p {
		p.next = &desc
	}
	return nil
}

// Pending reports whether any reload is staged.
func (l *Library) Pending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.programs {
		if p.next != nil {
			return true
		}
	}
	return false
}

// ApplyReloads swaps staged programs in. It waits for the device to go idle
// first, since frames in flight may still use the old programs. It returns
// the names of the programs replaced.
func (l *Library) ApplyReloads() ([]string, error) {
	l.mu.Lock()
	staged := make(map[string]*program)
	for name, p := range l.programs {
		if p.next != nil {
			staged[name] = p
		}
	}
	l.mu.Unlock()
	if len(staged) == 0 {
		return nil, nil
	}

	if err := l.dev.WaitIdle(); err != nil {
		return nil, fmt.Errorf("shader: wait idle before reload: %w", err)
	}

	var swapped []string
	var errs []error
	for _, name := range slices.Sorted(maps.Keys(staged)) {
		p := staged[name]
		l.mu.Lock()
		desc := p.next
		p.next = nil
		l.mu.Unlock()
		if desc == nil {
			continue
		}

		id, err := l.dev.CreateProgram(*desc)
		if err != nil {
			errs = append(errs, &CompileError{Path: p.src.Path, Err: err})
			l.log.Warn("shader: reload failed, keeping previous program", "name", name, "err", err)
			continue
		}
		l.dev.DestroyProgram(p.id)
		l.mu.Lock()
		p.id = id
		l.mu.Unlock()
		swapped = append(swapped, name)
		l.log.Info("shader: program reloaded", "name", name)
	}
	return swapped, errors.Join(errs...)
}

// Close destroys every program.
func (l *Library) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name, p := range l.programs {
		l.dev.DestroyProgram(p.id)
		delete(l.programs, name)
	}
}
