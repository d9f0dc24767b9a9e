// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/cache"
	"github.com/gogpu/graphite/internal/pixel"
)

// DefaultPipelineCacheSize is the number of compute pipelines kept alive.
const DefaultPipelineCacheSize = 32

// copyPitchAlignment is the WebGPU BytesPerRow alignment for buffer copies,
// used when the adapter does not report one.
const copyPitchAlignment = 256

// pollInterval is the sleep between fence polls in Wait.
const pollInterval = 500 * time.Microsecond

// Option configures a Device.
type Option func(*options)

type options struct {
	log          *slog.Logger
	cacheSize    int
	backend      device.BackendAPI
	rowAlignment uint32
	name         string
	format       gputypes.TextureFormat
	maxDim       uint32
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithPipelineCacheSize sets the number of cached compute pipelines.
func WithPipelineCacheSize(n int) Option {
	return func(o *options) { o.cacheSize = n }
}

// WithBackendAPI sets the value reported by Backend. It defaults to
// device.BackendDawn for external devices.
func WithBackendAPI(b device.BackendAPI) Option {
	return func(o *options) { o.backend = b }
}

// WithCopyRowAlignment overrides the BytesPerRow alignment of readbacks.
func WithCopyRowAlignment(n uint32) Option {
	return func(o *options) { o.rowAlignment = n }
}

// WithDeviceName sets Caps.DeviceName.
func WithDeviceName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithPreferredFormat sets Caps.PreferredFormat. It defaults to BGRA8Unorm.
func WithPreferredFormat(f gputypes.TextureFormat) Option {
	return func(o *options) { o.format = f }
}

// WithMaxTextureDimension lowers Caps.MaxTextureDimension below the device
// limit.
func WithMaxTextureDimension(n uint32) Option {
	return func(o *options) { o.maxDim = n }
}

type texture struct {
	desc device.TextureDesc
	raw  hal.Texture
}

func (t *texture) Desc() device.TextureDesc { return t.desc }

type buffer struct {
	desc device.BufferDesc
	raw  hal.Buffer
}

func (b *buffer) Desc() device.BufferDesc { return b.desc }

// fence tracks one device.Submit. It signals when the queue has completed
// index, the last HAL submission it made.
type fence struct {
	index    uint64
	encoders []hal.CommandEncoder
	cmdBufs  []hal.CommandBuffer
	signaled bool
}

// release frees the command buffers and encoders of a completed fence.
func (f *fence) release(dev hal.Device) {
	for _, cb := range f.cmdBufs {
		dev.FreeCommandBuffer(cb)
	}
	for _, enc := range f.encoders {
		enc.Destroy()
	}
	f.cmdBufs, f.encoders = nil, nil
}

// Device implements device.Device on a HAL device and queue.
//
// Device is safe for concurrent use.
type Device struct {
	mu       sync.Mutex
	device   hal.Device
	queue    hal.Queue
	instance hal.Instance
	external bool

	caps device.Caps
	opts options
	log  *slog.Logger

	pipelines *cache.Cache[pipelineKey, *pipeline]
	retired   []retiredPipeline
	orphans   []*fence

	lastIndex uint64
	lost      error
	destroyed bool
}

// New wraps an existing HAL device and queue. The device is not destroyed
// by Destroy. A nil limits selects gputypes.DefaultLimits.
func New(dev hal.Device, queue hal.Queue, limits *gputypes.Limits, opts ...Option) *Device {
	lim := gputypes.DefaultLimits()
	if limits != nil {
		lim = *limits
	}
	d := newDevice(dev, queue, lim, opts)
	d.external = true
	return d
}

func newDevice(dev hal.Device, queue hal.Queue, lim gputypes.Limits, opts []Option) *Device {
	o := options{
		cacheSize:    DefaultPipelineCacheSize,
		backend:      device.BackendDawn,
		rowAlignment: copyPitchAlignment,
		format:       gputypes.TextureFormatBGRA8Unorm,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.New(slog.DiscardHandler)
	}
	if o.maxDim != 0 && o.maxDim < lim.MaxTextureDimension2D {
		lim.MaxTextureDimension2D = o.maxDim
	}
	if !pixel.Supported(o.format) {
		o.format = gputypes.TextureFormatBGRA8Unorm
	}

	d := &Device{
		device: dev,
		queue:  queue,
		opts:   o,
		log:    o.log,
		caps: device.Caps{
			MaxTextureDimension: lim.MaxTextureDimension2D,
			MaxBufferSize:       lim.MaxBufferSize,
			CopyRowAlignment:    o.rowAlignment,
			Compute:             true,
			WGSL:                true,
			TextureCopy:         true,
			HostTasks:           false,
			PreferredFormat:     o.format,
			DeviceName:          o.name,
		},
	}
	d.pipelines = cache.New[pipelineKey, *pipeline](o.cacheSize, d.retirePipeline)
	return d
}

// FromProvider wraps the HAL device of a provider exposing
// HalDevice() any and HalQueue() any (gogpu's DeviceProvider does).
func FromProvider(provider any, opts ...Option) (*Device, error) {
	type halProvider interface {
		HalDevice() any
		HalQueue() any
	}
	hp, ok := provider.(halProvider)
	if !ok {
		return nil, fmt.Errorf("native: provider does not expose HAL types")
	}
	dev, ok := hp.HalDevice().(hal.Device)
	if !ok || dev == nil {
		return nil, fmt.Errorf("native: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok || queue == nil {
		return nil, fmt.Errorf("native: provider HalQueue is not hal.Queue")
	}
	return New(dev, queue, nil, opts...), nil
}

// HalDevice returns the underlying HAL device.
func (d *Device) HalDevice() hal.Device { return d.device }

// HalQueue returns the underlying HAL queue.
func (d *Device) HalQueue() hal.Queue { return d.queue }

// Backend implements device.Device.
func (d *Device) Backend() device.BackendAPI { return d.opts.backend }

// Caps implements device.Device.
func (d *Device) Caps() device.Caps { return d.caps }

// CreateTexture implements device.Device.
func (d *Device) CreateTexture(desc device.TextureDesc) (device.Texture, error) {
	if !pixel.Supported(desc.Format) {
		return nil, fmt.Errorf("native: texture format %v: %w", desc.Format, device.ErrUnsupported)
	}
	if err := d.alive(); err != nil {
		return nil, err
	}
	raw, err := d.device.CreateTexture(&hal.TextureDescriptor{
		Label:         desc.Label,
		Size:          hal.Extent3D{Width: desc.Width, Height: desc.Height, DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        desc.Format,
		Usage:         desc.Usage | gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return nil, translate("create texture", err)
	}
	return &texture{desc: desc, raw: raw}, nil
}

// DestroyTexture implements device.Device.
func (d *Device) DestroyTexture(t device.Texture) {
	if tex, ok := t.(*texture); ok && tex.raw != nil {
		d.device.DestroyTexture(tex.raw)
		tex.raw = nil
	}
}

// CreateBuffer implements device.Device.
func (d *Device) CreateBuffer(desc device.BufferDesc) (device.Buffer, error) {
	if err := d.alive(); err != nil {
		return nil, err
	}
	raw, err := d.device.CreateBuffer(&hal.BufferDescriptor{
		Label: desc.Label,
		Size:  desc.Size,
		Usage: desc.Usage,
	})
	if err != nil {
		return nil, translate("create buffer", err)
	}
	return &buffer{desc: desc, raw: raw}, nil
}

// DestroyBuffer implements device.Device.
func (d *Device) DestroyBuffer(b device.Buffer) {
	if buf, ok := b.(*buffer); ok && buf.raw != nil {
		d.device.DestroyBuffer(buf.raw)
		buf.raw = nil
	}
}

// MapRead implements device.Device.
func (d *Device) MapRead(b device.Buffer) ([]byte, error) {
	buf, ok := b.(*buffer)
	if !ok || buf.raw == nil {
		return nil, device.ErrInvalidHandle
	}
	if buf.desc.Usage&gputypes.BufferUsageMapRead == 0 {
		return nil, device.ErrNotMappable
	}
	m, err := d.device.MapBuffer(buf.raw, 0, buf.desc.Size)
	if err != nil {
		return nil, translate("map buffer", err)
	}
	return unsafe.Slice((*byte)(m.Ptr), buf.desc.Size), nil
}

// Unmap implements device.Device.
func (d *Device) Unmap(b device.Buffer) {
	if buf, ok := b.(*buffer); ok && buf.raw != nil {
		if err := d.device.UnmapBuffer(buf.raw); err != nil {
			d.log.Warn("native: unmap failed", "err", err)
		}
	}
}

// Poll implements device.Device.
func (d *Device) Poll(f device.Fence) (bool, error) {
	fc, ok := f.(*fence)
	if !ok {
		return false, device.ErrInvalidHandle
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost != nil {
		return false, d.lost
	}
	return d.pollLocked(fc), nil
}

func (d *Device) pollLocked(fc *fence) bool {
	if fc.signaled {
		return true
	}
	completed := d.queue.PollCompleted()
	if completed < fc.index {
		return false
	}
	fc.signaled = true
	fc.release(d.device)
	d.reapLocked(completed)
	return true
}

// reapLocked releases orphaned fences and retired pipelines that completed.
func (d *Device) reapLocked(completed uint64) {
	kept := d.orphans[:0]
	for _, f := range d.orphans {
		if f.index <= completed {
			f.release(d.device)
		} else {
			kept = append(kept, f)
		}
	}
	d.orphans = kept
	d.destroyRetiredLocked(completed)
}

// Wait implements device.Device.
func (d *Device) Wait(ctx context.Context, f device.Fence) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		done, err := d.Poll(f)
		if err != nil || done {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Destroy implements device.Device. Devices passed to New are left alive.
func (d *Device) Destroy() {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return
	}
	d.destroyed = true
	d.mu.Unlock()

	if d.lost == nil {
		if err := d.device.WaitIdle(); err != nil {
			d.log.Warn("native: wait idle failed", "err", err)
		}
	}
	d.mu.Lock()
	d.pipelines.Clear()
	d.sealRetiredLocked()
	d.reapLocked(^uint64(0))
	d.mu.Unlock()

	if d.external {
		return
	}
	d.device.Destroy()
	if d.instance != nil {
		d.instance.Destroy()
	}
}

func (d *Device) alive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost != nil {
		return d.lost
	}
	if d.destroyed {
		return device.ErrDeviceLost
	}
	return nil
}

func errorsIsLost(err error) bool {
	return errors.Is(err, device.ErrDeviceLost)
}

// translate maps HAL errors onto device errors.
func translate(op string, err error) error {
	switch {
	case errors.Is(err, hal.ErrDeviceLost):
		return fmt.Errorf("native: %s: %w: %w", op, device.ErrDeviceLost, err)
	case errors.Is(err, hal.ErrDeviceOutOfMemory):
		return fmt.Errorf("native: %s: %w: %w", op, device.ErrOutOfMemory, err)
	default:
		return fmt.Errorf("native: %s: %w", op, err)
	}
}
