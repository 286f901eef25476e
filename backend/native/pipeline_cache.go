package native

import (
	"encoding/binary"
	"fmt"
	"hash"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/shaderbox/gpucore"
)

// computePipeline is a compute pipeline together with the layout objects
// it owns.
type computePipeline struct {
	program  gpucore.ProgramID
	group    hal.BindGroupLayout
	layout   hal.PipelineLayout
	pipeline hal.ComputePipeline
}

func (p *computePipeline) destroy(device hal.Device) {
	device.DestroyComputePipeline(p.pipeline)
	device.DestroyPipelineLayout(p.layout)
	device.DestroyBindGroupLayout(p.group)
}

// layoutEntry is the part of a binding that shapes the bind group layout.
type layoutEntry struct {
	binding uint32
	kind    gpucore.ResourceKind
	buffer  gputypes.BufferBindingType
	access  gputypes.StorageTextureAccess
	format  gputypes.TextureFormat
	view    gputypes.TextureViewDimension
}

// pipelineCache caches compute pipelines by program and binding layout.
//
// Building a pipeline compiles the shader for the driver, so a pass graph
// that dispatches the same program every frame must hit the cache.
//
// Thread Safety:
// pipelineCache is safe for concurrent use. It uses RWMutex with
// double-check locking for efficient reads and safe writes.
type pipelineCache struct {
	mu        sync.RWMutex
	pipelines map[uint64]*computePipeline

	hits   atomic.Uint64
	misses atomic.Uint64
}

func newPipelineCache() *pipelineCache {
	return &pipelineCache{pipelines: make(map[uint64]*computePipeline)}
}

// getOrCreate returns the pipeline for prog with the given layout,
// creating it on first use.
func (c *pipelineCache) getOrCreate(device hal.Device, id gpucore.ProgramID, prog *program, entries []layoutEntry) (*computePipeline, error) {
	key := hashLayout(id, entries)

	// Fast path: read lock
	c.mu.RLock()
	if p, ok := c.pipelines[key]; ok {
		c.mu.RUnlock()
		c.hits.Add(1)
		return p, nil
	}
	c.mu.RUnlock()

	// Slow path: write lock with double-check
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pipelines[key]; ok {
		c.hits.Add(1)
		return p, nil
	}

	p, err := createComputePipeline(device, id, prog, entries)
	if err != nil {
		return nil, err
	}
	c.pipelines[key] = p
	c.misses.Add(1)
	return p, nil
}

// dropProgram destroys every pipeline built from the program.
func (c *pipelineCache) dropProgram(device hal.Device, id gpucore.ProgramID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, p := range c.pipelines {
		if p.program == id {
			p.destroy(device)
			delete(c.pipelines, key)
		}
	}
}

func (c *pipelineCache) destroyAll(device hal.Device) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pipelines {
		p.destroy(device)
	}
	c.pipelines = make(map[uint64]*computePipeline)
}

func (c *pipelineCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pipelines)
}

func (c *pipelineCache) stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

func createComputePipeline(device hal.Device, id gpucore.ProgramID, prog *program, entries []layoutEntry) (*computePipeline, error) {
	label := prog.desc.Label
	layoutEntries := make([]gputypes.BindGroupLayoutEntry, len(entries))
	for i, e := range entries {
		le := gputypes.BindGroupLayoutEntry{
			Binding:    e.binding,
			Visibility: gputypes.ShaderStageCompute,
		}
		if e.kind == gpucore.KindBuffer {
			le.Buffer = &gputypes.BufferBindingLayout{Type: e.buffer}
		} else {
			le.StorageTexture = &gputypes.StorageTextureBindingLayout{
				Access:        e.access,
				Format:        e.format,
				ViewDimension: e.view,
			}
		}
		layoutEntries[i] = le
	}

	group, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   label,
		Entries: layoutEntries,
	})
	if err != nil {
		return nil, wrap(fmt.Sprintf("create bind group layout for %q", label), err)
	}
	layout, err := device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            label,
		BindGroupLayouts: []hal.BindGroupLayout{group},
	})
	if err != nil {
		device.DestroyBindGroupLayout(group)
		return nil, wrap(fmt.Sprintf("create pipeline layout for %q", label), err)
	}
	pipeline, err := device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  label,
		Layout: layout,
		Compute: hal.ComputeState{
			Module:     prog.module,
			EntryPoint: prog.desc.Entry(),
		},
	})
	if err != nil {
		device.DestroyPipelineLayout(layout)
		device.DestroyBindGroupLayout(group)
		return nil, wrap(fmt.Sprintf("create compute pipeline %q", label), err)
	}
	return &computePipeline{program: id, group: group, layout: layout, pipeline: pipeline}, nil
}

func hashLayout(id gpucore.ProgramID, entries []layoutEntry) uint64 {
	h := fnv.New64a()
	hashWriteUint64(h, uint64(id))
	hashWriteUint32(h, uint32(len(entries)))
	for _, e := range entries {
		hashWriteUint32(h, e.binding)
		hashWriteUint32(h, uint32(e.kind))
		hashWriteUint32(h, uint32(e.buffer))
		hashWriteUint32(h, uint32(e.access))
		hashWriteUint32(h, uint32(e.format))
		hashWriteUint32(h, uint32(e.view))
	}
	return h.Sum64()
}

func hashWriteUint32(h hash.Hash64, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}

func hashWriteUint64(h hash.Hash64, v uint64) {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	_, _ = h.Write(buf[:])
}
