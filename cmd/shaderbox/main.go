// Command shaderbox runs a compute-shader playground file.
//
// Usage:
//
//	shaderbox [flags] playground.yaml
//
// Frames are rendered on the selected backend, the output image is written
// to disk when the playground has an output section, and shaders marked
// watch are recompiled whenever their files change.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	// Register the platform HAL backends (Vulkan, Metal, DX12, GL).
	_ "github.com/gogpu/wgpu/hal/allbackends"

	"github.com/gogpu/shaderbox"
	"github.com/gogpu/shaderbox/audio"
	"github.com/gogpu/shaderbox/backend"
	"github.com/gogpu/shaderbox/backend/native"
	"github.com/gogpu/shaderbox/config"
	"github.com/gogpu/shaderbox/gpucore"
	"github.com/gogpu/shaderbox/present"
)

type options struct {
	backend  string
	frames   int
	watch    bool
	verbose  bool
	list     bool
	writeCfg string
}

func main() {
	var o options
	flag.StringVar(&o.backend, "backend", "", "backend to run on (overrides the playground; auto, vulkan, metal, dx12, gl, software, noop)")
	flag.IntVar(&o.frames, "frames", -1, "number of frames to run (overrides the playground; 0 runs until interrupted)")
	flag.BoolVar(&o.watch, "watch", true, "hot reload shaders marked watch")
	flag.BoolVar(&o.verbose, "v", false, "verbose logging")
	flag.BoolVar(&o.list, "list-backends", false, "list registered backends and exit")
	flag.StringVar(&o.writeCfg, "print-config", "", "write the normalized playground to this file (- for stdout) and exit")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] playground.yaml\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	shaderbox.SetLogger(log)

	if o.list {
		for _, name := range backend.Available() {
			fmt.Println(name)
		}
		return
	}
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, log, flag.Arg(0), o); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shaderbox failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, log *slog.Logger, path string, o options) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if o.writeCfg != "" {
		return printConfig(cfg, o.writeCfg)
	}
	if o.backend != "" {
		cfg.Backend = o.backend
	}
	if o.frames >= 0 {
		cfg.Frames.Count = o.frames
	}

	dev, err := backend.Open(cfg.Backend, native.Config{Logger: log})
	if err != nil {
		return err
	}
	defer dev.Close()
	info := dev.Info()
	log.Info("device opened", "adapter", info.Name, "backend", info.Backend)

	var opts []shaderbox.Option
	if cfg.Output != nil && cfg.Output.Path != "" {
		sink, err := present.NewFileSink(dev, present.FileSinkConfig{
			Path:   cfg.Output.Path,
			Every:  cfg.Output.Every,
			Logger: log,
		})
		if err != nil {
			return err
		}
		opts = append(opts, shaderbox.WithPresenter(sink))
	}

	if cfg.Audio != nil {
		src, closer, err := startAudio(ctx, log, cfg.Audio, cfg.Audio.Window)
		if err != nil {
			return err
		}
		defer closer.Close()
		opts = append(opts, shaderbox.WithAudioSource(src))
	}

	p, err := shaderbox.Open(dev, cfg, opts...)
	if err != nil {
		return err
	}
	defer p.Close()

	if o.watch {
		if err := p.WatchShaders(ctx); err != nil {
			return err
		}
	}
	return loop(ctx, log, p, cfg.Frames.Count)
}

// startAudio streams the playground's WAV source into a handoff, one
// window-sized chunk at a time.
func startAudio(ctx context.Context, log *slog.Logger, a *config.Audio, window int) (*audio.Handoff, io.Closer, error) {
	s, format, closer, err := audio.OpenWAV(a.Source, a.Loop)
	if err != nil {
		return nil, nil, err
	}
	h := audio.NewHandoff(0)
	go func() {
		err := audio.Capture(ctx, s, format, h, window)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("audio capture stopped", "err", err)
		}
	}()
	log.Info("audio source opened", "path", a.Source, "rate", int(format.SampleRate), "channels", format.NumChannels)
	return h, closer, nil
}

func loop(ctx context.Context, log *slog.Logger, p *shaderbox.Playground, count int) error {
	var bar *progressbar.ProgressBar
	if count > 0 && term.IsTerminal(int(os.Stderr.Fd())) {
		bar = progressbar.Default(int64(count), "rendering")
	}

	start := time.Now()
	for i := 0; count == 0 || i < count; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		err := p.RunFrame()
		var access *gpucore.ResourceAccessError
		switch {
		case err == nil:
		case errors.As(err, &access), errors.Is(err, gpucore.ErrStaleHandle):
			// The frame was aborted; the next one may succeed after a reload.
			log.Warn("frame dropped", "err", err)
		default:
			return err
		}
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	st := p.Stats()
	elapsed := time.Since(start)
	log.Info("done",
		"frames", st.Frames,
		"aborted", st.Aborted,
		"dispatches", st.Dispatches,
		"barriers", st.Barriers,
		"fence_wait", st.WaitTime,
		"elapsed", elapsed,
		"memory", p.Usage().String())
	return nil
}

func printConfig(cfg *config.Playground, path string) error {
	if path == "-" {
		return cfg.Save(os.Stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := cfg.Save(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
