// Package shaderbox is a playground for GPU compute shaders.
//
// A Session owns the resources, programs and frame loop of one playground
// on a gpucore.Device. Each frame the caller declares compute passes with
// the resources they read and write; the session orders them, inserts the
// barriers their accesses require, and keeps up to three frames in flight
// without the CPU overwriting data the GPU still reads.
//
//	dev, err := backend.Open("auto", native.Config{})
//	...
//	s, err := shaderbox.New(dev, shaderbox.WithSlots(2))
//	state, _ := s.RegisterBuffer(gpucore.BufferDesc{Label: "state", Size: 4096})
//	canvas, _ := s.RegisterImage(gpucore.ImageDesc{Label: "canvas", Width: 512, Height: 512,
//		Format: gputypes.TextureFormatRGBA8Unorm})
//	prog, _ := s.LoadShader("draw", shader.Source{Path: "draw.wgsl"})
//
//	for {
//		s.BeginFrame()
//		s.DeclarePass(passgraph.PassDescriptor{
//			Name: "draw", Program: prog,
//			Reads: []gpucore.Handle{state}, Writes: []gpucore.Handle{canvas},
//			Dispatch: [3]uint32{64, 64, 1},
//		})
//		s.EndFrame()
//	}
//
// Playground files (see package config) describe the same setup in YAML and
// are run with Open and Playground.RunFrame, or with cmd/shaderbox.
//
// # Errors
//
// Errors follow the taxonomy of package gpucore. Allocation, stale handle
// and resource access errors fail one call or one frame; the session stays
// usable. Audio stream warnings are informational. A DeviceLostError is
// fatal: every later call returns it.
//
// # Logging
//
// The library is silent by default. SetLogger installs a *slog.Logger for
// every package, including the HAL backends.
package shaderbox
