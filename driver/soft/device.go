// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/parallel"
	"github.com/gogpu/graphite/internal/pixel"
)

// Default limits.
const (
	DefaultMaxTextureDimension = 16384
	DefaultMaxBufferSize       = 1 << 30
)

// Option configures a Device.
type Option func(*options)

type options struct {
	memoryLimit  uint64
	latency      time.Duration
	rowAlignment uint32
	maxDim       uint32
	workers      int
	log          *slog.Logger
}

// WithMemoryLimit caps the bytes of live textures and buffers. Allocations
// past the limit fail with device.ErrOutOfMemory. 0 means unlimited.
func WithMemoryLimit(bytes uint64) Option {
	return func(o *options) { o.memoryLimit = bytes }
}

// WithLatency delays the execution of every submission by d.
func WithLatency(d time.Duration) Option {
	return func(o *options) { o.latency = d }
}

// WithCopyRowAlignment sets Caps.CopyRowAlignment, forcing callers to pad
// readback rows the way hardware queues require.
func WithCopyRowAlignment(n uint32) Option {
	return func(o *options) { o.rowAlignment = n }
}

// WithMaxTextureDimension sets Caps.MaxTextureDimension.
func WithMaxTextureDimension(n uint32) Option {
	return func(o *options) { o.maxDim = n }
}

// WithWorkers runs the workgroups of a dispatch on n goroutines. Kernels
// must then be safe for concurrent calls. n <= 1 runs them in order on the
// timeline goroutine.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLogger sets the logger for timeline events.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

type texture struct {
	desc      device.TextureDesc
	pix       []byte
	stride    int
	destroyed bool
}

func (t *texture) Desc() device.TextureDesc { return t.desc }

func (t *texture) bounds() image.Rectangle {
	return image.Rect(0, 0, int(t.desc.Width), int(t.desc.Height))
}

type buffer struct {
	desc      device.BufferDesc
	data      []byte
	mapped    bool
	destroyed bool
}

func (b *buffer) Desc() device.BufferDesc { return b.desc }

// Device is a CPU implementation of device.Device.
//
// Device is safe for concurrent use.
type Device struct {
	mu   sync.Mutex
	caps device.Caps
	opts options
	log  *slog.Logger

	allocated uint64
	pool      *parallel.Pool

	queue   []*submission
	paused  bool
	lost    bool
	closed  bool
	seq     uint64
	wake    chan struct{}
	stopped chan struct{}
	wg      sync.WaitGroup
}

// New creates a software device and starts its timeline.
func New(opts ...Option) *Device {
	o := options{
		rowAlignment: 1,
		maxDim:       DefaultMaxTextureDimension,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.New(slog.DiscardHandler)
	}

	d := &Device{
		opts: o,
		log:  o.log,
		caps: device.Caps{
			MaxTextureDimension: o.maxDim,
			MaxBufferSize:       DefaultMaxBufferSize,
			CopyRowAlignment:    o.rowAlignment,
			Compute:             true,
			TextureCopy:         true,
			HostTasks:           true,
			PreferredFormat:     gputypes.TextureFormatRGBA8Unorm,
			DeviceName:          "software",
		},
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	if o.workers > 1 {
		d.pool = parallel.NewPool(o.workers)
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Backend implements device.Device.
func (d *Device) Backend() device.BackendAPI { return device.BackendSoftware }

// Caps implements device.Device.
func (d *Device) Caps() device.Caps { return d.caps }

// CreateTexture implements device.Device.
func (d *Device) CreateTexture(desc device.TextureDesc) (device.Texture, error) {
	bpp := pixel.BytesPerPixel(desc.Format)
	if bpp == 0 {
		return nil, fmt.Errorf("soft: texture format %v: %w", desc.Format, device.ErrUnsupported)
	}
	if desc.Width == 0 || desc.Height == 0 || desc.Width > d.caps.MaxTextureDimension || desc.Height > d.caps.MaxTextureDimension {
		return nil, fmt.Errorf("soft: texture size %dx%d out of range", desc.Width, desc.Height)
	}
	size := uint64(desc.Width) * uint64(desc.Height) * uint64(bpp)
	if err := d.reserve(size); err != nil {
		return nil, err
	}
	stride := int(desc.Width) * bpp
	return &texture{desc: desc, pix: make([]byte, stride*int(desc.Height)), stride: stride}, nil
}

// DestroyTexture implements device.Device.
func (d *Device) DestroyTexture(t device.Texture) {
	tex, ok := t.(*texture)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if tex.destroyed {
		return
	}
	tex.destroyed = true
	d.allocated -= uint64(len(tex.pix))
	tex.pix = nil
}

// CreateBuffer implements device.Device.
func (d *Device) CreateBuffer(desc device.BufferDesc) (device.Buffer, error) {
	if desc.Size == 0 || desc.Size > d.caps.MaxBufferSize {
		return nil, fmt.Errorf("soft: buffer size %d out of range", desc.Size)
	}
	if err := d.reserve(desc.Size); err != nil {
		return nil, err
	}
	return &buffer{desc: desc, data: make([]byte, desc.Size)}, nil
}

// DestroyBuffer implements device.Device.
func (d *Device) DestroyBuffer(b device.Buffer) {
	buf, ok := b.(*buffer)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf.destroyed {
		return
	}
	buf.destroyed = true
	d.allocated -= uint64(len(buf.data))
	buf.data = nil
}

func (d *Device) reserve(size uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost || d.closed {
		return device.ErrDeviceLost
	}
	if d.opts.memoryLimit > 0 && d.allocated+size > d.opts.memoryLimit {
		return fmt.Errorf("soft: %d bytes requested, %d of %d in use: %w",
			size, d.allocated, d.opts.memoryLimit, device.ErrOutOfMemory)
	}
	d.allocated += size
	return nil
}

// AllocatedBytes returns the bytes held by live textures and buffers.
func (d *Device) AllocatedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.allocated
}

// MapRead implements device.Device.
func (d *Device) MapRead(b device.Buffer) ([]byte, error) {
	buf, ok := b.(*buffer)
	if !ok {
		return nil, device.ErrInvalidHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.lost:
		return nil, device.ErrDeviceLost
	case buf.destroyed:
		return nil, device.ErrInvalidHandle
	case buf.desc.Usage&gputypes.BufferUsageMapRead == 0:
		return nil, device.ErrNotMappable
	}
	buf.mapped = true
	return buf.data, nil
}

// Unmap implements device.Device.
func (d *Device) Unmap(b device.Buffer) {
	if buf, ok := b.(*buffer); ok {
		d.mu.Lock()
		buf.mapped = false
		d.mu.Unlock()
	}
}

// Wait implements device.Device.
func (d *Device) Wait(ctx context.Context, f device.Fence) error {
	s, ok := f.(*submission)
	if !ok {
		return device.ErrInvalidHandle
	}
	select {
	case <-s.done:
		return s.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll implements device.Device.
func (d *Device) Poll(f device.Fence) (bool, error) {
	s, ok := f.(*submission)
	if !ok {
		return false, device.ErrInvalidHandle
	}
	select {
	case <-s.done:
		return true, s.err
	default:
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost {
		return false, device.ErrDeviceLost
	}
	return false, nil
}

// Pause holds the timeline after the submission it is executing, if any.
// Submissions queue up until Resume.
func (d *Device) Pause() {
	d.mu.Lock()
	d.paused = true
	d.mu.Unlock()
}

// Resume releases a paused timeline.
func (d *Device) Resume() {
	d.mu.Lock()
	d.paused = false
	d.mu.Unlock()
	d.signal()
}

// LoseDevice simulates device loss: queued submissions fail with
// device.ErrDeviceLost and every later call reports it.
func (d *Device) LoseDevice() {
	d.mu.Lock()
	d.lost = true
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	for _, s := range pending {
		s.finish(device.ErrDeviceLost)
	}
	d.log.Warn("soft: device lost", "failed", len(pending))
}

// Destroy implements device.Device. Queued submissions fail with
// device.ErrDeviceLost.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()

	close(d.stopped)
	d.wg.Wait()
	if d.pool != nil {
		d.pool.Close()
	}
	for _, s := range pending {
		s.finish(device.ErrDeviceLost)
	}
}
