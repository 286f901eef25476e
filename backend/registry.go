// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package backend

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/gogpu/wgpu/hal/software"
)

// Factory returns the HAL backend registered under a name.
type Factory func() (hal.Backend, error)

// registry holds registered backends.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)
	// Priority order for Auto (first available wins). Noop is never
	// chosen automatically.
	backendPriority = []string{Vulkan, Metal, DX12, GL, Software}
)

func init() {
	Register(Noop, func() (hal.Backend, error) { return noop.API{}, nil })
	Register(Software, func() (hal.Backend, error) { return software.API{}, nil })
	Register(Vulkan, halFactory(gputypes.BackendVulkan))
	Register(Metal, halFactory(gputypes.BackendMetal))
	Register(DX12, halFactory(gputypes.BackendDX12))
	Register(GL, halFactory(gputypes.BackendGL))
}

// halFactory looks the variant up in the HAL backend registry. Platform
// backends register themselves there when the program imports them, for
// example through github.com/gogpu/wgpu/hal/allbackends.
func halFactory(variant gputypes.Backend) Factory {
	return func() (hal.Backend, error) {
		if b, ok := hal.GetBackend(variant); ok {
			return b, nil
		}
		b, err := hal.CreateBackend(variant)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrBackendNotAvailable, variant, err)
		}
		return b, nil
	}
}

// Register adds a backend under name, replacing any previous factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes the backend registered under name.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the registered backend names in sorted order.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	return slices.Sorted(maps.Keys(backends))
}

// IsRegistered reports whether name has a factory.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get returns the HAL backend registered under name. Auto (or "") picks
// the first available backend in priority order.
func Get(name string) (hal.Backend, error) {
	if name == "" || name == Auto {
		return Default()
	}
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownBackend, name, Available())
	}
	return factory()
}

// Default returns the first backend in priority order whose factory
// succeeds: vulkan, metal, dx12, gl, then software.
func Default() (hal.Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range backendPriority {
		factory, ok := backends[name]
		if !ok {
			continue
		}
		if b, err := factory(); err == nil && b != nil {
			return b, nil
		}
	}
	return nil, ErrBackendNotAvailable
}
