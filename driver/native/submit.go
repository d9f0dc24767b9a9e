// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"
	"image"
	"image/color"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/pixel"
)

// encoding accumulates the HAL work of one device.Submit.
type encoding struct {
	d     *Device
	label string
	enc   hal.CommandEncoder
	fence *fence
}

// Submit implements device.Device.
func (d *Device) Submit(cmds []device.Command, info device.SubmitInfo) (device.Fence, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lost != nil {
		return nil, d.lost
	}
	if d.destroyed {
		return nil, device.ErrDeviceLost
	}
	for i, cmd := range cmds {
		if err := validate(cmd); err != nil {
			return nil, fmt.Errorf("native: command %d (%s): %w", i, cmd.Type(), err)
		}
	}

	e := &encoding{d: d, label: info.Label, fence: &fence{}}
	defer d.sealRetiredLocked()
	for _, cmd := range cmds {
		if err := e.encode(cmd); err != nil {
			e.abort()
			return nil, d.fail(err)
		}
	}
	if err := e.flush(); err != nil {
		e.abort()
		return nil, d.fail(err)
	}
	if e.fence.index == 0 {
		// Nothing was submitted; an empty submission still orders the fence
		// after everything before it.
		idx, err := d.queue.Submit(nil)
		if err != nil {
			return nil, d.fail(translate("submit", err))
		}
		e.fence.index = idx
	}
	d.lastIndex = max(d.lastIndex, e.fence.index)
	return e.fence, nil
}

// fail records device loss; other errors leave the device usable.
func (d *Device) fail(err error) error {
	if errorsIsLost(err) && d.lost == nil {
		d.lost = err
		d.log.Error("native: device lost", "err", err)
	}
	return err
}

func validate(cmd device.Command) error {
	for _, t := range cmd.Textures() {
		if tex, ok := t.(*texture); !ok || tex.raw == nil {
			return device.ErrInvalidHandle
		}
	}
	switch c := cmd.(type) {
	case device.CopyTextureCommand:
		if c.Src.Desc().Format != c.Dst.Desc().Format {
			return fmt.Errorf("%w: copy between %v and %v", device.ErrUnsupported,
				c.Src.Desc().Format, c.Dst.Desc().Format)
		}
	case device.DispatchCommand:
		if c.WGSL == "" {
			return fmt.Errorf("%w: dispatch without WGSL source", device.ErrUnsupported)
		}
	case device.ReadbackCommand:
		if b, ok := c.Dst.(*buffer); !ok || b.raw == nil {
			return device.ErrInvalidHandle
		}
	case device.HostTaskCommand:
		if c.Fn == nil {
			return fmt.Errorf("%w: host task without function", device.ErrUnsupported)
		}
	}
	return nil
}

func (e *encoding) encode(cmd device.Command) error {
	switch c := cmd.(type) {
	case device.ClearCommand:
		tex := c.Target.(*texture)
		return e.fill(tex, bounds(tex.desc), c.Color)
	case device.FillRectCommand:
		tex := c.Target.(*texture)
		return e.fill(tex, c.Rect, c.Color)
	case device.WritePixelsCommand:
		return e.writePixels(c)
	case device.DrawImageCommand:
		tex := c.Target.(*texture)
		clip := c.DstRect.Intersect(bounds(tex.desc))
		if clip.Empty() {
			return nil
		}
		block := pixel.Rasterize(c.Image, c.DstRect, tex.desc.Format, c.Filter == device.FilterLinear)
		if block == nil {
			return nil
		}
		bpp := pixel.BytesPerPixel(tex.desc.Format)
		off := (clip.Min.Y-c.DstRect.Min.Y)*c.DstRect.Dx()*bpp + (clip.Min.X-c.DstRect.Min.X)*bpp
		return e.write(tex, clip, block[off:], c.DstRect.Dx()*bpp)
	case device.CopyTextureCommand:
		return e.copyTexture(c)
	case device.DispatchCommand:
		return e.dispatch(c)
	case device.HostTaskCommand:
		c.Fn()
		return nil
	case device.ReadbackCommand:
		return e.readback(c)
	default:
		return fmt.Errorf("%w: %T", device.ErrUnsupported, cmd)
	}
}

func (e *encoding) fill(tex *texture, r image.Rectangle, c color.NRGBA) error {
	r = r.Intersect(bounds(tex.desc))
	if r.Empty() {
		return nil
	}
	bpp := pixel.BytesPerPixel(tex.desc.Format)
	return e.write(tex, r, pixel.Solid(tex.desc.Format, r.Dx(), r.Dy(), c), r.Dx()*bpp)
}

func (e *encoding) writePixels(c device.WritePixelsCommand) error {
	tex := c.Target.(*texture)
	clip := c.Rect.Intersect(bounds(tex.desc))
	if clip.Empty() {
		return nil
	}
	bpp := pixel.BytesPerPixel(tex.desc.Format)
	off := (clip.Min.Y-c.Rect.Min.Y)*c.RowBytes + (clip.Min.X-c.Rect.Min.X)*bpp
	if need := off + (clip.Dy()-1)*c.RowBytes + clip.Dx()*bpp; need > len(c.Pixels) {
		return fmt.Errorf("native: write pixels: %d bytes, need %d", len(c.Pixels), need)
	}
	return e.write(tex, clip, c.Pixels[off:], c.RowBytes)
}

// write uploads data (rowBytes per row) into r of tex with Queue.WriteTexture.
func (e *encoding) write(tex *texture, r image.Rectangle, data []byte, rowBytes int) error {
	if err := e.flush(); err != nil {
		return err
	}
	err := e.d.queue.WriteTexture(
		&hal.ImageCopyTexture{
			Texture: tex.raw,
			Origin:  hal.Origin3D{X: uint32(r.Min.X), Y: uint32(r.Min.Y)},
			Aspect:  gputypes.TextureAspectAll,
		},
		data,
		&hal.ImageDataLayout{BytesPerRow: uint32(rowBytes), RowsPerImage: uint32(r.Dy())},
		&hal.Extent3D{Width: uint32(r.Dx()), Height: uint32(r.Dy()), DepthOrArrayLayers: 1},
	)
	if err != nil {
		return translate("write texture", err)
	}
	return nil
}

func (e *encoding) copyTexture(c device.CopyTextureCommand) error {
	src, dst := c.Src.(*texture), c.Dst.(*texture)
	off := c.DstPoint.Sub(c.SrcRect.Min)
	dr := c.SrcRect.Intersect(bounds(src.desc)).Add(off).Intersect(bounds(dst.desc))
	if dr.Empty() {
		return nil
	}
	sp := dr.Min.Sub(off)
	enc, err := e.encoder()
	if err != nil {
		return err
	}
	enc.CopyTextureToTexture(src.raw, dst.raw, []hal.TextureCopy{{
		SrcBase: hal.ImageCopyTexture{
			Texture: src.raw,
			Origin:  hal.Origin3D{X: uint32(sp.X), Y: uint32(sp.Y)},
			Aspect:  gputypes.TextureAspectAll,
		},
		DstBase: hal.ImageCopyTexture{
			Texture: dst.raw,
			Origin:  hal.Origin3D{X: uint32(dr.Min.X), Y: uint32(dr.Min.Y)},
			Aspect:  gputypes.TextureAspectAll,
		},
		Size: hal.Extent3D{Width: uint32(dr.Dx()), Height: uint32(dr.Dy()), DepthOrArrayLayers: 1},
	}})
	return nil
}

func (e *encoding) readback(c device.ReadbackCommand) error {
	src, dst := c.Src.(*texture), c.Dst.(*buffer)
	if !c.Rect.In(bounds(src.desc)) || c.Rect.Empty() {
		return fmt.Errorf("native: readback rect %v outside %dx%d", c.Rect, src.desc.Width, src.desc.Height)
	}
	need := uint64(c.BytesPerRow)*uint64(c.Rect.Dy()-1) + uint64(c.Rect.Dx()*pixel.BytesPerPixel(src.desc.Format))
	if need > dst.desc.Size {
		return fmt.Errorf("native: readback needs %d bytes, buffer holds %d", need, dst.desc.Size)
	}
	enc, err := e.encoder()
	if err != nil {
		return err
	}
	enc.TransitionTextures([]hal.TextureBarrier{{
		Texture: src.raw,
		Range:   hal.TextureRange{Aspect: gputypes.TextureAspectAll},
		Usage: hal.TextureUsageTransition{
			OldUsage: gputypes.TextureUsageCopyDst,
			NewUsage: gputypes.TextureUsageCopySrc,
		},
	}})
	enc.CopyTextureToBuffer(src.raw, dst.raw, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{
			BytesPerRow:  c.BytesPerRow,
			RowsPerImage: uint32(c.Rect.Dy()),
		},
		TextureBase: hal.ImageCopyTexture{
			Texture: src.raw,
			Origin:  hal.Origin3D{X: uint32(c.Rect.Min.X), Y: uint32(c.Rect.Min.Y)},
			Aspect:  gputypes.TextureAspectAll,
		},
		Size: hal.Extent3D{Width: uint32(c.Rect.Dx()), Height: uint32(c.Rect.Dy()), DepthOrArrayLayers: 1},
	}})
	return nil
}

func (e *encoding) dispatch(c device.DispatchCommand) error {
	p, err := e.d.pipeline(c)
	if err != nil {
		return err
	}
	enc, err := e.encoder()
	if err != nil {
		return err
	}
	pass := enc.BeginComputePass(&hal.ComputePassDescriptor{Label: c.Label})
	pass.SetPipeline(p.raw)
	pass.Dispatch(max(c.Groups[0], 1), max(c.Groups[1], 1), max(c.Groups[2], 1))
	pass.End()
	return nil
}

// encoder returns the open command encoder, beginning one if needed.
func (e *encoding) encoder() (hal.CommandEncoder, error) {
	if e.enc != nil {
		return e.enc, nil
	}
	enc, err := e.d.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: e.label})
	if err != nil {
		return nil, translate("create command encoder", err)
	}
	if err := enc.BeginEncoding(e.label); err != nil {
		enc.Destroy()
		return nil, translate("begin encoding", err)
	}
	e.enc = enc
	return enc, nil
}

// flush ends the open encoder, if any, and submits its command buffer.
func (e *encoding) flush() error {
	if e.enc == nil {
		return nil
	}
	enc := e.enc
	e.enc = nil
	cb, err := enc.EndEncoding()
	if err != nil {
		enc.Destroy()
		return translate("end encoding", err)
	}
	e.fence.encoders = append(e.fence.encoders, enc)
	e.fence.cmdBufs = append(e.fence.cmdBufs, cb)
	idx, err := e.d.queue.Submit([]hal.CommandBuffer{cb})
	if err != nil {
		return translate("submit", err)
	}
	e.fence.index = idx
	e.d.lastIndex = max(e.d.lastIndex, idx)
	return nil
}

// abort discards unsubmitted encoding state. Command buffers already
// submitted by the failed call are released once the queue passes them.
func (e *encoding) abort() {
	if e.enc != nil {
		e.enc.DiscardEncoding()
		e.enc.Destroy()
		e.enc = nil
	}
	if len(e.fence.cmdBufs) > 0 {
		e.d.orphans = append(e.d.orphans, e.fence)
	}
}

func bounds(desc device.TextureDesc) image.Rectangle {
	return image.Rect(0, 0, int(desc.Width), int(desc.Height))
}
