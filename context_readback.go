package graphite

import (
	"fmt"
	"image"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/mapped"
	"github.com/gogpu/graphite/internal/queue"
	"github.com/gogpu/graphite/internal/resource"
)

// AsyncReadResult holds the pixels of a completed readback. Pixels is only
// valid during the callback; copy it to keep it.
type AsyncReadResult struct {
	Pixels    []byte
	RowBytes  int
	Width     int
	Height    int
	ColorType ColorType
}

// ReadPixelsCallback receives the result of an async readback together
// with the caller's context value. r is nil when the readback failed:
// invalid arguments, a device error, or Context teardown.
type ReadPixelsCallback func(ctx any, r *AsyncReadResult)

// AsyncReadPixels reads srcRect of img, converted to dst, and passes it to
// cb once the GPU has produced it. It never blocks.
//
// The copy is ordered after every submitted or pending write to img. cb is
// called exactly once, from CheckAsyncWorkCompletion, Submit or Close, or
// right away on a closed Context.
// Invalid arguments are reported to cb (with nil) on the next poll.
func (c *Context) AsyncReadPixels(img *Image, dst ColorType, srcRect image.Rectangle, cb ReadPixelsCallback, cbCtx any) {
	defer c.owner.Enter("AsyncReadPixels")()
	if cb == nil {
		return
	}
	var tex *Texture
	if img != nil {
		tex = img.tex
	}
	c.readPixels(tex, dst, srcRect, cb, cbCtx)
}

// AsyncReadSurfacePixels is AsyncReadPixels on the texture of s.
func (c *Context) AsyncReadSurfacePixels(s *Surface, dst ColorType, srcRect image.Rectangle, cb ReadPixelsCallback, cbCtx any) {
	defer c.owner.Enter("AsyncReadSurfacePixels")()
	if cb == nil {
		return
	}
	var tex *Texture
	if s != nil {
		tex = s.tex
	}
	c.readPixels(tex, dst, srcRect, cb, cbCtx)
}

func (c *Context) readPixels(tex *Texture, dst ColorType, srcRect image.Rectangle, cb ReadPixelsCallback, cbCtx any) {
	if c.closed {
		cb(cbCtx, nil)
		return
	}
	if err := c.checkReadback(tex, dst, srcRect); err != nil {
		c.log.Warn("graphite: readback rejected", "rect", srcRect, "err", err)
		c.mapped.Reject(func(*mapped.Result) { cb(cbCtx, nil) })
		return
	}

	src := tex.res
	rowBytes := c.shared.caps.AlignedRowBytes(uint32(srcRect.Dx() * tex.ct.BytesPerPixel()))
	staging, err := c.prov.FindOrCreateScratchBuffer(device.BufferDesc{
		Label: "readback",
		Size:  uint64(rowBytes) * uint64(srcRect.Dy()),
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		c.log.Warn("graphite: readback staging allocation failed", "err", err)
		c.mapped.Reject(func(*mapped.Result) { cb(cbCtx, nil) })
		return
	}

	req := &mapped.Request{
		SrcFormat:   tex.ct.Format(),
		DstFormat:   dst.Format(),
		Rect:        srcRect,
		Staging:     staging,
		BytesPerRow: rowBytes,
		Callback: func(r *mapped.Result) {
			if r == nil {
				cb(cbCtx, nil)
				return
			}
			cb(cbCtx, &AsyncReadResult{
				Pixels:    r.Pixels,
				RowBytes:  r.RowBytes,
				Width:     r.Width,
				Height:    r.Height,
				ColorType: dst,
			})
		},
	}
	c.mapped.Register(req)

	w := &queue.Work{
		Label: "readback",
		Commands: []device.Command{device.ReadbackCommand{
			Src:         src.Texture(),
			Rect:        srcRect,
			Dst:         staging.Buffer(),
			BytesPerRow: rowBytes,
		}},
		Resources: []*resource.Resource{src, staging},
		Finished: []queue.FinishedProc{func(ok bool) {
			c.mapped.Complete(req, ok)
			if ok {
				c.mapped.Process()
			}
		}},
	}

	// A pending write to the source must execute first: join the pending
	// batch. Otherwise the copy only depends on dispatched work, which the
	// device runs in order, and can go out on its own. A failed dispatch
	// leaves the request failed until the next Process.
	var idx uint64
	if c.queue.Touches(src.Texture()) {
		idx, err = c.queue.Add(w)
	} else {
		idx, err = c.queue.SubmitDetached(w)
	}
	req.Index = idx
	if err != nil {
		c.log.Warn("graphite: readback dispatch failed", "err", err)
		c.mapped.Complete(req, false)
		return
	}
	c.log.Debug("graphite: readback scheduled",
		"request", req.ID(), "index", idx, "rect", srcRect, "rowBytes", rowBytes)
}

func (c *Context) checkReadback(tex *Texture, dst ColorType, srcRect image.Rectangle) error {
	if err := tex.check(c.id); err != nil {
		return err
	}
	if !dst.IsValid() {
		return fmt.Errorf("%w: color type %v", ErrInvalidArgument, dst)
	}
	if srcRect.Empty() || !srcRect.In(tex.Bounds()) {
		return fmt.Errorf("%w: rect %v outside %v", ErrInvalidArgument, srcRect, tex.Bounds())
	}
	if c.queue.Lost() {
		return ErrDeviceLost
	}
	return nil
}
