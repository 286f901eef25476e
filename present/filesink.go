// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: MIT

package present

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/gputypes"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/internal/logging"
)

// Encoding is an output file encoding.
type Encoding uint8

const (
	EncodingPNG Encoding = iota + 1
	EncodingBMP
	EncodingTIFF
)

// String returns the string representation of Encoding.
func (e Encoding) String() string {
	switch e {
	case EncodingPNG:
		return "png"
	case EncodingBMP:
		return "bmp"
	case EncodingTIFF:
		return "tiff"
	default:
		return fmt.Sprintf("Encoding(%d)", int(e))
	}
}

// ErrUnsupportedFormat is returned for image formats FileSink cannot
// convert to an image.Image.
var ErrUnsupportedFormat = errors.New("present: unsupported image format")

// EncodingFor returns the encoding for a file name extension.
func EncodingFor(path string) (Encoding, error) {
	switch ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")); ext {
	case "png":
		return EncodingPNG, nil
	case "bmp":
		return EncodingBMP, nil
	case "tif", "tiff":
		return EncodingTIFF, nil
	case "":
		return 0, fmt.Errorf("present: %q has no extension", path)
	default:
		return 0, fmt.Errorf("present: extension %q not recognized", ext)
	}
}

// FileSinkConfig configures a FileSink.
type FileSinkConfig struct {
	// Path is the output file. A path containing a verb such as %d or
	// %04d is formatted with the frame serial, producing one file per
	// frame; otherwise each written frame overwrites the file.
	Path string

	// Every writes only frames whose serial is a multiple of Every.
	// 0 and 1 write every frame.
	Every uint64

	// Logger receives a Debug record per written file.
	Logger *slog.Logger
}

// FileSink is a Presenter that reads frames back and writes them to disk.
type FileSink struct {
	reader   gpucore.Reader
	cfg      FileSinkConfig
	encoding Encoding
	log      *slog.Logger
	written  uint64
}

// NewFileSink returns a FileSink reading images through r.
func NewFileSink(r gpucore.Reader, cfg FileSinkConfig) (*FileSink, error) {
	if r == nil {
		return nil, errors.New("present: file sink needs a device that supports readback")
	}
	enc, err := EncodingFor(cfg.Path)
	if err != nil {
		return nil, err
	}
	if cfg.Every == 0 {
		cfg.Every = 1
	}
	return &FileSink{reader: r, cfg: cfg, encoding: enc, log: logging.OrDiscard(cfg.Logger)}, nil
}

// Present implements Presenter.
func (s *FileSink) Present(f Frame) error {
	if f.Serial%s.cfg.Every != 0 {
		return nil
	}
	px, err := s.reader.ReadImage(f.Image)
	if err != nil {
		return fmt.Errorf("present: read frame %d: %w", f.Serial, err)
	}
	img, err := ToImage(f.Desc, px)
	if err != nil {
		return err
	}

	path := s.cfg.Path
	if strings.Contains(path, "%") {
		path = fmt.Sprintf(path, f.Serial)
	}
	if err := writeFile(path, img, s.encoding); err != nil {
		return err
	}
	s.written++
	s.log.Debug("present: frame written", "serial", f.Serial, "path", path)
	return nil
}

// Written returns the number of files written.
func (s *FileSink) Written() uint64 { return s.written }

func writeFile(path string, img image.Image, enc Encoding) (err error) {
	f, err := os.Create(path) //nolint:gosec // path is user-provided intentionally
	if err != nil {
		return fmt.Errorf("present: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("present: %w", cerr)
		}
	}()
	if err := Encode(f, img, enc); err != nil {
		return fmt.Errorf("present: encode %s: %w", path, err)
	}
	return nil
}

// Encode writes img to w in the given encoding.
func Encode(w io.Writer, img image.Image, enc Encoding) error {
	switch enc {
	case EncodingPNG:
		return png.Encode(w, img)
	case EncodingBMP:
		return bmp.Encode(w, img)
	case EncodingTIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		return fmt.Errorf("present: unknown encoding %v", enc)
	}
}

// ToImage converts tightly packed texel rows into an image. Only the first
// slice of a 3D image is converted.
func ToImage(desc gpucore.ImageDesc, px []byte) (image.Image, error) {
	w, h := int(desc.Width), int(desc.Height)
	bpt := int(gpucore.BytesPerTexel(desc.Format))
	if bpt == 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, desc.Format)
	}
	n := w * h
	if len(px) < n*bpt {
		return nil, fmt.Errorf("present: %d bytes for a %dx%d %v image", len(px), w, h, desc.Format)
	}
	rect := image.Rect(0, 0, w, h)

	switch desc.Format {
	case gputypes.TextureFormatRGBA8Unorm, gputypes.TextureFormatRGBA8UnormSrgb:
		img := image.NewNRGBA(rect)
		copy(img.Pix, px[:n*4])
		return img, nil
	case gputypes.TextureFormatBGRA8Unorm, gputypes.TextureFormatBGRA8UnormSrgb:
		img := image.NewNRGBA(rect)
		for i := 0; i < n*4; i += 4 {
			img.Pix[i+0] = px[i+2]
			img.Pix[i+1] = px[i+1]
			img.Pix[i+2] = px[i+0]
			img.Pix[i+3] = px[i+3]
		}
		return img, nil
	case gputypes.TextureFormatR8Unorm:
		img := image.NewGray(rect)
		copy(img.Pix, px[:n])
		return img, nil
	case gputypes.TextureFormatR32Float:
		img := image.NewGray(rect)
		for i := range n {
			img.Pix[i] = unorm8(px[i*4:])
		}
		return img, nil
	case gputypes.TextureFormatRGBA32Float:
		img := image.NewNRGBA(rect)
		for i := range n * 4 {
			img.Pix[i] = unorm8(px[i*4:])
		}
		return img, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, desc.Format)
	}
}

// unorm8 converts a little-endian f32 in [0,1] to 8 bits, clamping.
func unorm8(b []byte) uint8 {
	v := math.Float32frombits(binary.LittleEndian.Uint32(b))
	if math.IsNaN(float64(v)) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
