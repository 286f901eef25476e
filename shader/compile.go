// Package shader loads compute programs for passes.
//
// WGSL sources are compiled to SPIR-V with naga; precompiled SPIR-V is
// loaded as is. Programs live in a Library under a name, and a Watcher can
// recompile them when their source changes on disk. Recompiled programs are
// swapped in between frames by Library.ApplyReloads.
package shader

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/spirv"
)

// DefaultEntryPoint is the entry point used when none is given.
const DefaultEntryPoint = "main"

// spirvMagic is the first word of every SPIR-V module.
const spirvMagic = 0x07230203

// Source kinds, derived from the file extension.
const (
	SourceWGSL  = ".wgsl"
	SourceSPIRV = ".spv"
)

// ErrUnsupportedStage is returned for shader files of a non-compute stage
// or an unknown kind.
var ErrUnsupportedStage = errors.New("shader: unsupported shader kind")

// CompileError reports a shader that failed to load or compile.
type CompileError struct {
	Path string
	Err  error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("shader: compile %s: %v", e.Path, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Kind returns the source kind of path from its extension. Only compute
// programs are accepted: .wgsl is compiled, .spv is precompiled SPIR-V.
// GLSL sources (.comp) must be compiled to .spv beforehand.
func Kind(path string) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case SourceWGSL, SourceSPIRV:
		return ext, nil
	case ".comp":
		return "", fmt.Errorf("%w: %s is GLSL; compile it to SPIR-V (.spv) first", ErrUnsupportedStage, filepath.Base(path))
	case ".vert", ".frag", ".geom", ".tesc", ".tese":
		return "", fmt.Errorf("%w: %s is not a compute shader", ErrUnsupportedStage, filepath.Base(path))
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedStage, ext)
	}
}

// Prelude renders constants as WGSL const declarations, sorted by name.
func Prelude(constants map[string]float64) string {
	if len(constants) == 0 {
		return ""
	}
	names := make([]string, 0, len(constants))
	for name := range constants {
		names = append(names, name)
	}
	slices.Sort(names)

	var b strings.Builder
	for _, name := range names {
		v := strconv.FormatFloat(constants[name], 'f', -1, 32)
		if !strings.ContainsAny(v, ".eE") {
			v += ".0"
		}
		fmt.Fprintf(&b, "const %s: f32 = %s;\n", name, v)
	}
	return b.String()
}

// CompileWGSL compiles WGSL source to SPIR-V words. constants are declared
// ahead of the source. The module must define a compute entry point named
// entry.
func CompileWGSL(source, entry string, constants map[string]float64) ([]uint32, error) {
	for name, v := range constants {
		if !validIdent(name) {
			return nil, fmt.Errorf("invalid constant name %q", name)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("constant %s is not finite", name)
		}
	}
	if entry == "" {
		entry = DefaultEntryPoint
	}

	full := Prelude(constants) + source
	ast, err := naga.Parse(full)
	if err != nil {
		return nil, err
	}
	module, err := naga.LowerWithSource(ast, full)
	if err != nil {
		return nil, fmt.Errorf("lowering error: %w", err)
	}
	if err := checkEntry(module, entry); err != nil {
		return nil, err
	}
	problems, err := naga.Validate(module)
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("validation failed: %w", &problems[0])
	}

	code, err := naga.GenerateSPIRV(module, spirv.DefaultOptions())
	if err != nil {
		return nil, err
	}
	return Words(code)
}

// Words converts little-endian SPIR-V bytes into words and checks the
// module header.
func Words(code []byte) ([]uint32, error) {
	if len(code) < 20 || len(code)%4 != 0 {
		return nil, fmt.Errorf("SPIR-V module of %d bytes is truncated", len(code))
	}
	words := make([]uint32, len(code)/4)
	if err := binary.Read(bytes.NewReader(code), binary.LittleEndian, words); err != nil {
		return nil, err
	}
	if words[0] != spirvMagic {
		return nil, fmt.Errorf("bad SPIR-V magic 0x%08x", words[0])
	}
	return words, nil
}

func checkEntry(module *ir.Module, entry string) error {
	for _, ep := range module.EntryPoints {
		if ep.Name != entry {
			continue
		}
		if ep.Stage != ir.StageCompute {
			return fmt.Errorf("%w: entry point %q is not a compute entry point", ErrUnsupportedStage, entry)
		}
		return nil
	}
	return fmt.Errorf("entry point %q not found", entry)
}

func validIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z':
		case i > 0 && '0' <= r && r <= '9':
		default:
			return false
		}
	}
	return true
}
