package present

import (
	"errors"
	"slices"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ErrNoSurfaceFormat is returned when a surface offers no formats.
var ErrNoSurfaceFormat = errors.New("present: surface offers no formats")

// preferredFormats is the surface format preference, best first.
var preferredFormats = []gputypes.TextureFormat{
	gputypes.TextureFormatRGBA8Unorm,
	gputypes.TextureFormatRGBA8UnormSrgb,
	gputypes.TextureFormatBGRA8Unorm,
	gputypes.TextureFormatBGRA8UnormSrgb,
}

// ChooseFormat picks the surface format: RGBA8 first, then BGRA8, then
// whatever the surface lists first.
func ChooseFormat(available []gputypes.TextureFormat) (gputypes.TextureFormat, error) {
	if len(available) == 0 {
		return gputypes.TextureFormatUndefined, ErrNoSurfaceFormat
	}
	for _, f := range preferredFormats {
		if slices.Contains(available, f) {
			return f, nil
		}
	}
	return available[0], nil
}

// ChoosePresentMode prefers Mailbox and falls back to Fifo, which every
// surface supports.
func ChoosePresentMode(available []gputypes.PresentMode) gputypes.PresentMode {
	if slices.Contains(available, gputypes.PresentModeMailbox) {
		return gputypes.PresentModeMailbox
	}
	return gputypes.PresentModeFifo
}

// ImageCount returns one image more than the surface minimum, clamped to
// the maximum. A maximum of 0 means unbounded.
func ImageCount(minImages, maxImages uint32) uint32 {
	n := minImages + 1
	if maxImages > 0 && n > maxImages {
		n = maxImages
	}
	return n
}

// SurfaceConfig is the swapchain configuration derived from surface
// capabilities.
type SurfaceConfig struct {
	Width, Height uint32
	Format        gputypes.TextureFormat
	PresentMode   gputypes.PresentMode
	ImageCount    uint32
}

// Configure derives a SurfaceConfig from the capabilities reported by
// hal.Surface.GetCapabilities and the surface image count limits.
func Configure(caps *hal.SurfaceCapabilities, width, height, minImages, maxImages uint32) (SurfaceConfig, error) {
	if caps == nil {
		return SurfaceConfig{}, ErrNoSurfaceFormat
	}
	format, err := ChooseFormat(caps.Formats)
	if err != nil {
		return SurfaceConfig{}, err
	}
	return SurfaceConfig{
		Width:       width,
		Height:      height,
		Format:      format,
		PresentMode: ChoosePresentMode(caps.PresentModes),
		ImageCount:  ImageCount(minImages, maxImages),
	}, nil
}
