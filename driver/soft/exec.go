// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"fmt"
	"image"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/pixel"
)

// execute runs cmds in order on the timeline goroutine.
func (d *Device) execute(cmds []device.Command) error {
	for i, c := range cmds {
		if err := d.exec(c); err != nil {
			return fmt.Errorf("soft: command %d (%v): %w", i, c.Type(), err)
		}
	}
	return nil
}

func (d *Device) exec(c device.Command) error {
	switch c := c.(type) {
	case device.ClearCommand:
		t := c.Target.(*texture)
		pixel.Fill(t.pix, t.stride, t.bounds(), t.desc.Format, t.bounds(), c.Color)

	case device.FillRectCommand:
		t := c.Target.(*texture)
		pixel.Fill(t.pix, t.stride, t.bounds(), t.desc.Format, c.Rect, c.Color)

	case device.WritePixelsCommand:
		t := c.Target.(*texture)
		clip := c.Rect.Intersect(t.bounds())
		if clip.Empty() {
			return nil
		}
		bpp := pixel.BytesPerPixel(t.desc.Format)
		if len(c.Pixels) < (c.Rect.Dy()-1)*c.RowBytes+c.Rect.Dx()*bpp {
			return fmt.Errorf("%w: pixel data too short for %v", device.ErrInvalidCommand, c.Rect)
		}
		pixel.CopyRect(t.pix, t.stride, clip.Min, c.Pixels, c.RowBytes, clip.Min.Sub(c.Rect.Min), clip.Dx(), clip.Dy(), bpp)

	case device.CopyTextureCommand:
		src, dst := c.Src.(*texture), c.Dst.(*texture)
		off := c.DstPoint.Sub(c.SrcRect.Min)
		dr := c.SrcRect.Intersect(src.bounds()).Add(off).Intersect(dst.bounds())
		if dr.Empty() {
			return nil
		}
		srcPt := dr.Min.Sub(off)
		bpp := pixel.BytesPerPixel(src.desc.Format)
		pixel.CopyRect(dst.pix, dst.stride, dr.Min, src.pix, src.stride, srcPt, dr.Dx(), dr.Dy(), bpp)

	case device.DrawImageCommand:
		t := c.Target.(*texture)
		pixel.DrawImage(t.pix, t.stride, t.bounds(), t.desc.Format, c.Image, c.DstRect, c.Filter == device.FilterLinear)

	case device.DispatchCommand:
		d.dispatch(c)

	case device.HostTaskCommand:
		if c.Fn != nil {
			c.Fn()
		}

	case device.ReadbackCommand:
		t := c.Src.(*texture)
		b := c.Dst.(*buffer)
		if !c.Rect.In(t.bounds()) {
			return fmt.Errorf("%w: readback rect %v outside %v", device.ErrInvalidCommand, c.Rect, t.bounds())
		}
		bpp := pixel.BytesPerPixel(t.desc.Format)
		need := uint64(c.Rect.Dy()-1)*uint64(c.BytesPerRow) + uint64(c.Rect.Dx()*bpp)
		if need > uint64(len(b.data)) {
			return fmt.Errorf("%w: readback needs %d bytes, buffer has %d", device.ErrInvalidCommand, need, len(b.data))
		}
		pixel.CopyRect(b.data, int(c.BytesPerRow), image.Point{}, t.pix, t.stride, c.Rect.Min, c.Rect.Dx(), c.Rect.Dy(), bpp)

	default:
		return device.ErrUnsupported
	}
	return nil
}

// dispatch calls the kernel once per workgroup. Groups of 0 in y or z count
// as 1.
func (d *Device) dispatch(c device.DispatchCommand) {
	gx, gy, gz := c.Groups[0], max(c.Groups[1], 1), max(c.Groups[2], 1)
	if d.pool == nil {
		for z := range gz {
			for y := range gy {
				for x := range gx {
					c.Kernel(x, y, z)
				}
			}
		}
		return
	}
	n := int(gx * gy * gz)
	d.pool.For(n, func(i int) {
		x := uint32(i) % gx
		y := uint32(i) / gx % gy
		z := uint32(i) / (gx * gy)
		c.Kernel(x, y, z)
	})
}
