// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package audio

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"math"

	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/internal/logging"
)

// DefaultWindow is the default rolling window length in samples.
const DefaultWindow = 1024

// Uploader schedules a host-to-GPU copy into a buffer resource for the
// current frame. *frame.Executor implements it.
type Uploader interface {
	Upload(h gpucore.Handle, data []byte) error
}

// Config configures a Bridge.
type Config struct {
	// Window is the number of samples kept in the GPU buffer. The buffer
	// must hold at least Window*4 bytes. Defaults to DefaultWindow.
	Window int

	// Source is drained by Pump. Optional when samples are passed to
	// Update directly.
	Source *Handoff

	// Logger receives warnings. Nil disables logging.
	Logger *slog.Logger
}

// Bridge keeps a rolling window of the latest samples and uploads it into
// an audio buffer once per frame.
type Bridge struct {
	target Uploader
	src    *Handoff
	log    *slog.Logger

	window  []float32
	scratch []byte

	updates  uint64
	warnings uint64
}

// NewBridge creates a bridge uploading through target.
func NewBridge(target Uploader, cfg Config) *Bridge {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Bridge{
		target:  target,
		src:     cfg.Source,
		log:     logging.OrDiscard(cfg.Logger),
		window:  make([]float32, cfg.Window),
		scratch: make([]byte, 4*cfg.Window),
	}
}

// Window returns a copy of the current rolling window, oldest sample first.
func (b *Bridge) Window() []float32 {
	return append([]float32(nil), b.window...)
}

// Update appends samples to the rolling window and uploads the window into
// the buffer behind h.
//
// An empty delivery is an underrun: nothing is uploaded, the GPU buffer
// keeps its previous contents and an AudioStreamWarning is returned.
// Handle and frame errors are returned as they are.
func (b *Bridge) Update(h gpucore.Handle, samples []float32) error {
	if len(samples) == 0 {
		return b.warn(&gpucore.AudioStreamWarning{Reason: "underrun: no samples delivered this frame"})
	}
	b.push(samples)

	for i, v := range b.window {
		binary.LittleEndian.PutUint32(b.scratch[4*i:], math.Float32bits(v))
	}
	if err := b.target.Upload(h, b.scratch); err != nil {
		return err
	}
	b.updates++
	return nil
}

// push shifts samples into the window, keeping the newest.
func (b *Bridge) push(samples []float32) {
	n := len(b.window)
	if len(samples) >= n {
		copy(b.window, samples[len(samples)-n:])
		return
	}
	copy(b.window, b.window[len(samples):])
	copy(b.window[n-len(samples):], samples)
}

// Pump drains the configured Source and updates h with everything that
// arrived since the previous frame. A closed source is reported as a
// disconnect warning.
func (b *Bridge) Pump(h gpucore.Handle) error {
	if b.src == nil {
		return b.warn(&gpucore.AudioStreamWarning{Reason: "no audio source"})
	}
	chunks, err := b.src.Drain()
	if err != nil {
		reason := "stream disconnected"
		if errors.Is(err, io.EOF) {
			reason = "stream ended"
		}
		return b.warn(&gpucore.AudioStreamWarning{Reason: reason, Err: err})
	}

	var samples []float32
	switch len(chunks) {
	case 0:
	case 1:
		samples = chunks[0]
	default:
		for _, c := range chunks {
			samples = append(samples, c...)
		}
	}
	return b.Update(h, samples)
}

func (b *Bridge) warn(w *gpucore.AudioStreamWarning) error {
	b.warnings++
	b.log.Warn("audio: keeping previous samples", "reason", w.Reason, "err", w.Err)
	return w
}

// Stats returns the number of successful uploads and of warnings.
func (b *Bridge) Stats() (updates, warnings uint64) {
	return b.updates, b.warnings
}
