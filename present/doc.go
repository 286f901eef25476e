// Package present hands finished frames to whoever shows them.
//
// The playground core produces one output image per frame and never owns a
// display surface. A Presenter receives the image after the frame has been
// submitted. FileSink is the headless presenter: it reads the image back
// and encodes it as PNG, BMP or TIFF.
//
// The surface helpers (ChooseFormat, ChoosePresentMode, ImageCount) pick
// swapchain parameters for windowed presenters from the capabilities the
// surface reports.
package present
