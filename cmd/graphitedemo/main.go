// Command graphitedemo records a small scene, submits it, reads it back
// asynchronously and saves the result as PNG.
package main

import (
	"context"
	"flag"
	"image"
	"image/color"
	"image/png"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/gputypes"
	_ "github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/graphite"
	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/driver/native"
	"github.com/gogpu/graphite/driver/soft"
	"github.com/gogpu/graphite/internal/config"
)

func main() {
	var (
		width   = flag.Int("width", 640, "image width")
		height  = flag.Int("height", 400, "image height")
		output  = flag.String("output", "graphite.png", "output file")
		cfgPath = flag.String("config", "", "TOML or YAML config file")
		backend = flag.String("backend", "", "device backend (soft, vulkan, metal, noop); overrides the config")
	)
	flag.Parse()

	cfg := config.Default()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.Open(*cfgPath); err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *backend != "" {
		cfg.Backend = *backend
		if err := cfg.Validate(); err != nil {
			log.Fatal(err)
		}
	}

	logger := newLogger(cfg)
	c, err := openContext(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to open %s context: %v", cfg.Backend, err)
	}
	defer c.Close()

	img, err := run(c, *width, *height)
	if err != nil {
		log.Fatalf("Render failed: %v", err)
	}
	if err := savePNG(*output, img); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}

	res, q := c.Stats()
	log.Printf("Saved %s (%dx%d) on %s: %s, %d submissions", *output, *width, *height, c.Backend(), res, q.LastIndex)
}

func newLogger(cfg *config.Config) *slog.Logger {
	lvl, _ := cfg.Level()
	if lvl == config.LevelOff {
		return slog.New(slog.DiscardHandler)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openContext(cfg *config.Config, l *slog.Logger) (*graphite.Context, error) {
	opts := cfg.ContextOptions(l)
	switch cfg.Backend {
	case "metal":
		return graphite.MakeMetal(graphite.MetalBackendContext{}, opts...)
	case "vulkan", "noop":
		b := gputypes.BackendVulkan
		if cfg.Backend == "noop" {
			b = gputypes.BackendEmpty
		}
		dev, err := native.Open(b, cfg.NativeOptions(l)...)
		if err != nil {
			return nil, err
		}
		return graphite.NewContext(dev, opts...)
	default:
		return graphite.NewContext(soft.New(cfg.SoftOptions(l)...), opts...)
	}
}

// run records the scene on two Recorders, inserts both, schedules the
// readback and waits for it.
func run(c *graphite.Context, w, h int) (*image.NRGBA, error) {
	bg, err := c.MakeRecorder(graphite.WithRecorderLabel("background"))
	if err != nil {
		return nil, err
	}
	surf, err := bg.MakeSurface(w, h, graphite.ColorTypeRGBA8888)
	if err != nil {
		bg.Close()
		return nil, err
	}
	defer surf.Release()
	if err := drawBackground(bg, surf.Texture(), w, h); err != nil {
		bg.Close()
		return nil, err
	}
	rec, err := bg.Snapshot()
	if err != nil {
		return nil, err
	}
	if err := c.InsertRecording(graphite.InsertRecordingInfo{
		Recording:       rec,
		FinishedProc:    logFinished,
		FinishedContext: "background",
	}); err != nil {
		rec.Close()
		return nil, err
	}

	fg, err := c.MakeRecorder(graphite.WithRecorderLabel("foreground"), graphite.WithPriority(1))
	if err != nil {
		return nil, err
	}
	if err := drawForeground(fg, surf.Texture(), w, h); err != nil {
		fg.Close()
		return nil, err
	}
	if rec, err = fg.Snapshot(); err != nil {
		return nil, err
	}
	if err := c.InsertRecording(graphite.InsertRecordingInfo{
		Recording:       rec,
		FinishedProc:    logFinished,
		FinishedContext: "foreground",
	}); err != nil {
		rec.Close()
		return nil, err
	}

	var out *image.NRGBA
	snap := surf.MakeImageSnapshot()
	defer snap.Release()
	c.AsyncReadPixels(snap, graphite.ColorTypeRGBA8888, snap.Bounds(), func(_ any, r *graphite.AsyncReadResult) {
		if r == nil {
			return
		}
		out = image.NewNRGBA(image.Rect(0, 0, r.Width, r.Height))
		for y := range r.Height {
			copy(out.Pix[y*out.Stride:][:r.Width*4], r.Pixels[y*r.RowBytes:])
		}
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.Submit(ctx, graphite.SyncToCPUYes); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, graphite.ErrDeviceLost
	}
	return out, nil
}

func logFinished(ctx any, ok bool) {
	log.Printf("Recording %v finished: ok=%v", ctx, ok)
}

func drawBackground(r *graphite.Recorder, t *graphite.Texture, w, h int) error {
	if err := r.Clear(t, color.NRGBA{R: 26, G: 51, B: 102, A: 255}); err != nil {
		return err
	}
	const bands = 32
	for i := range bands {
		f := float64(i) / bands
		c := color.NRGBA{R: uint8(26 + f*100), G: uint8(51 + f*76), B: uint8(102 + f*51), A: 255}
		y0, y1 := h*i/bands, h*(i+1)/bands
		if err := r.FillRect(t, image.Rect(0, y0, w, y1), c); err != nil {
			return err
		}
	}
	return nil
}

func drawForeground(r *graphite.Recorder, t *graphite.Texture, w, h int) error {
	tile, err := r.CreateTexture(w/4, h/4, graphite.ColorTypeRGBA8888)
	if err != nil {
		return err
	}
	defer tile.Release()

	if err := r.DrawImage(tile, checkerboard(8, 8), tile.Bounds(), device.FilterNearest); err != nil {
		return err
	}
	for i, pt := range []image.Point{{w / 8, h / 8}, {w / 2, h / 2}} {
		if err := r.CopyTexture(tile, t, tile.Bounds(), pt); err != nil {
			return err
		}
		c := color.NRGBA{R: 255, G: uint8(80 * i), B: 40, A: 255}
		box := image.Rect(w/2+w/8, h/8, w-w/8, h/8+h/4).Add(image.Pt(0, i*h/3))
		if err := r.FillRect(t, box, c); err != nil {
			return err
		}
	}
	return r.DrawImage(t, checkerboard(4, 4), image.Rect(w/8, h/2+h/8, w/8+h/4, h/2+h/8+h/4), device.FilterLinear)
}

func checkerboard(cols, rows int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, cols, rows))
	for y := range rows {
		for x := range cols {
			c := color.NRGBA{R: 240, G: 240, B: 240, A: 255}
			if (x+y)%2 == 1 {
				c = color.NRGBA{R: 30, G: 30, B: 30, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func savePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
