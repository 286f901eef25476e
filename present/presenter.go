package present

import "github.com/gogpu/shaderbox/gpucore"

// Frame is a finished output image, ready to be shown.
type Frame struct {
	// Serial is the frame serial, starting at 1.
	Serial uint64

	// Image is the backend image holding the output.
	Image gpucore.ImageID

	// Desc describes the image.
	Desc gpucore.ImageDesc
}

// Presenter shows finished frames. Present is called once per frame from
// the goroutine driving the session, after the frame has been submitted.
type Presenter interface {
	Present(f Frame) error
}

// Func adapts a function to Presenter.
type Func func(f Frame) error

// Present calls fn(f).
func (fn Func) Present(f Frame) error { return fn(f) }
