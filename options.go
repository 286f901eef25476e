package shaderbox

import (
	"log/slog"
	"time"

	"github.com/gogpu/shaderbox/audio"
	"github.com/gogpu/shaderbox/present"
)

// Option configures a Session during creation.
//
// Example:
//
//	s, err := shaderbox.New(dev,
//		shaderbox.WithSlots(3),
//		shaderbox.WithMemoryBudget(512<<20),
//	)
type Option func(*options)

// options holds optional configuration for Session creation.
type options struct {
	slots        int
	fenceTimeout time.Duration
	memoryBudget uint64
	logger       *slog.Logger
	presenter    present.Presenter
	audioWindow  int
	audioSource  *audio.Handoff
}

// WithSlots sets the number of frames in flight (1 to 3, default 2).
func WithSlots(n int) Option {
	return func(o *options) {
		o.slots = n
	}
}

// WithFenceTimeout bounds how long BeginFrame waits for a frame slot.
// Expiry is treated as device loss.
func WithFenceTimeout(d time.Duration) Option {
	return func(o *options) {
		o.fenceTimeout = d
	}
}

// WithMemoryBudget caps the bytes of GPU memory the session's resources
// may occupy. 0 means unlimited.
func WithMemoryBudget(bytes uint64) Option {
	return func(o *options) {
		o.memoryBudget = bytes
	}
}

// WithLogger sets the session logger. Defaults to Logger().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithPresenter sets where finished frames go. Without a presenter the
// output image is only rendered.
func WithPresenter(p present.Presenter) Option {
	return func(o *options) {
		o.presenter = p
	}
}

// WithAudioWindow sets the number of samples the audio bridge keeps.
func WithAudioWindow(n int) Option {
	return func(o *options) {
		o.audioWindow = n
	}
}

// WithAudioSource connects a capture handoff drained by PumpAudio.
func WithAudioSource(h *audio.Handoff) Option {
	return func(o *options) {
		o.audioSource = h
	}
}
