package audio

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/wav"
)

// ReadMono pulls up to n frames from s and returns them down-mixed to mono.
// ok is false once s is exhausted.
func ReadMono(s beep.Streamer, n int) (samples []float32, ok bool) {
	buf := make([][2]float64, n)
	got, ok := s.Stream(buf)
	if got < 0 {
		got = 0
	}
	samples = make([]float32, got)
	for i, frame := range buf[:got] {
		samples[i] = float32((frame[0] + frame[1]) / 2)
	}
	return samples, ok
}

// Capture streams s into h in chunks of chunk frames, paced at the
// stream's sample rate so a file source behaves like a live one.
//
// Capture returns when ctx is canceled or the stream ends, after closing h
// with the reason.
func Capture(ctx context.Context, s beep.Streamer, format beep.Format, h *Handoff, chunk int) error {
	if chunk <= 0 {
		return fmt.Errorf("audio: invalid chunk size %d", chunk)
	}
	ticker := time.NewTicker(format.SampleRate.D(chunk))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.CloseWithError(ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}

		samples, ok := ReadMono(s, chunk)
		h.Push(samples)
		if !ok {
			err := s.Err()
			h.CloseWithError(err)
			return err
		}
	}
}

// OpenWAV opens a WAV file as a streamer. With loop set the stream repeats
// forever. Closing the returned closer releases the file.
func OpenWAV(path string, loop bool) (beep.Streamer, beep.Format, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, beep.Format{}, nil, fmt.Errorf("audio: %w", err)
	}
	s, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		return nil, beep.Format{}, nil, fmt.Errorf("audio: decode %s: %w", path, err)
	}
	var st beep.Streamer = s
	if loop {
		st = beep.Loop(-1, s)
	}
	if g := fullScale(format.Precision); g != 1 {
		st = &effects.Gain{Streamer: st, Gain: g - 1}
	}
	return st, format, s, nil
}

// fullScale is the factor that brings samples decoded by wav back to [-1, 1].
// The decoder divides 16 and 24 bit PCM by the full unsigned range, which
// halves their amplitude.
func fullScale(precision int) float64 {
	switch precision {
	case 2:
		return (1<<16 - 1) / float64(1<<15)
	case 3:
		return (1<<24 - 1) / float64(1<<23)
	default:
		return 1
	}
}
