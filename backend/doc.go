// Package backend selects the HAL backend a playground runs on.
//
// Backends are registered by name. The noop and software backends are
// always available; vulkan, metal, dx12 and gl resolve through the HAL
// backend registry and therefore need the platform backends linked in:
//
//	import _ "github.com/gogpu/wgpu/hal/allbackends"
//
// # Backend Selection
//
// Use Open to get a ready device, or Get for the raw hal.Backend:
//
//	dev, err := backend.Open(backend.Auto, native.Config{Logger: logger})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer dev.Close()
//
// # Available Backends
//
// - "auto": first available of vulkan, metal, dx12, gl, software
// - "software": CPU implementation of the HAL (always available)
// - "noop": accepts all work and completes it instantly (tests)
package backend
