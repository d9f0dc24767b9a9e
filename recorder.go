package graphite

import (
	"fmt"
	"image"
	"image/color"
	"slices"
	"sync/atomic"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/owner"
	"github.com/gogpu/graphite/internal/resource"
)

// textureUsage is the usage of textures made by a Recorder.
const textureUsage = gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst |
	gputypes.TextureUsageTextureBinding | gputypes.TextureUsageRenderAttachment

var lastRecorderID atomic.Uint32

// Recorder captures device commands into a [Recording].
//
// A Recorder produces at most one Recording: after Snapshot (or Close)
// every mutating method fails with ErrRecorderFinalized.
//
// The Recorder is not safe for concurrent use. Different Recorders of the
// same Context may be used from different goroutines. Builds with
// -tags graphitedebug panic when two goroutines use one Recorder at once.
type Recorder struct {
	owner  owner.Guard
	id     uint32
	ctxID  ContextID
	prov   *resource.Provider
	shared *SharedContext
	caps   device.Caps
	opts   recorderOptions

	commands  []device.Command
	resources []*resource.Resource
	seen      map[*resource.Resource]struct{}
	finalized bool
}

func newRecorder(c *Context, opts recorderOptions) *Recorder {
	return &Recorder{
		id:       lastRecorderID.Add(1),
		ctxID:    c.id,
		prov:     c.prov,
		shared:   c.shared.ref(),
		caps:     c.shared.caps,
		opts:     opts,
		commands: make([]device.Command, 0, opts.capacity),
		seen:     make(map[*resource.Resource]struct{}),
	}
}

// ID returns the unique recorder ID.
func (r *Recorder) ID() uint32 { return r.id }

// Len returns the number of recorded commands.
func (r *Recorder) Len() int { return len(r.commands) }

// Caps returns the device capability table.
func (r *Recorder) Caps() device.Caps { return r.caps }

// Record appends cmd. Every texture and buffer the command references must
// belong to the Recorder's Context, and the command must be one the device
// can execute: commands failing that are rejected here, not at submission.
func (r *Recorder) Record(cmd device.Command) error {
	defer r.owner.Enter("Record")()
	if r.finalized {
		return ErrRecorderFinalized
	}
	if cmd == nil {
		return fmt.Errorf("%w: nil command", ErrInvalidArgument)
	}
	res, err := r.resolve(cmd)
	if err != nil {
		return err
	}
	if err := r.validate(cmd); err != nil {
		return err
	}
	for _, x := range res {
		if _, ok := r.seen[x]; ok {
			continue
		}
		r.seen[x] = struct{}{}
		r.prov.Ref(x)
		r.resources = append(r.resources, x)
	}
	r.commands = append(r.commands, cmd)
	return nil
}

// validate checks cmd against the device caps and its targets. Handles are
// already resolved.
func (r *Recorder) validate(cmd device.Command) error {
	caps := r.caps
	switch c := cmd.(type) {
	case device.ClearCommand, device.FillRectCommand:

	case device.WritePixelsCommand:
		bpp := ColorTypeOf(c.Target.Desc().Format).BytesPerPixel()
		if c.Rect.Empty() || c.RowBytes < c.Rect.Dx()*bpp ||
			len(c.Pixels) < (c.Rect.Dy()-1)*c.RowBytes+c.Rect.Dx()*bpp {
			return fmt.Errorf("%w: %d bytes for %v at %d bytes per row",
				ErrInvalidArgument, len(c.Pixels), c.Rect, c.RowBytes)
		}

	case device.CopyTextureCommand:
		if !caps.TextureCopy {
			return fmt.Errorf("%w: texture copies", ErrUnsupported)
		}
		if sf, df := c.Src.Desc().Format, c.Dst.Desc().Format; sf != df {
			return fmt.Errorf("%w: copy from %v to %v", ErrUnsupported, sf, df)
		}

	case device.DrawImageCommand:
		if c.Image == nil {
			return fmt.Errorf("%w: nil image", ErrInvalidArgument)
		}

	case device.DispatchCommand:
		switch {
		case !caps.Compute:
			return fmt.Errorf("%w: compute dispatch", ErrUnsupported)
		case caps.WGSL && c.WGSL == "":
			return fmt.Errorf("%w: dispatch without WGSL source", ErrInvalidArgument)
		case !caps.WGSL && c.Kernel == nil:
			return fmt.Errorf("%w: dispatch without kernel on %v", ErrInvalidArgument, r.shared.backend)
		}

	case device.HostTaskCommand:
		if c.Fn == nil {
			return fmt.Errorf("%w: nil host task", ErrInvalidArgument)
		}

	case device.ReadbackCommand:
		bounds := image.Rect(0, 0, int(c.Src.Desc().Width), int(c.Src.Desc().Height))
		if c.Rect.Empty() || !c.Rect.In(bounds) {
			return fmt.Errorf("%w: readback rect %v outside %v", ErrInvalidArgument, c.Rect, bounds)
		}
		rowBytes := uint64(c.Rect.Dx() * ColorTypeOf(c.Src.Desc().Format).BytesPerPixel())
		need := uint64(c.Rect.Dy()-1)*uint64(c.BytesPerRow) + rowBytes
		if uint64(c.BytesPerRow) < rowBytes || need > c.Dst.Desc().Size {
			return fmt.Errorf("%w: readback needs %d bytes at %d bytes per row, buffer has %d",
				ErrInvalidArgument, need, c.BytesPerRow, c.Dst.Desc().Size)
		}

	default:
		return fmt.Errorf("%w: command %T", ErrUnsupported, cmd)
	}
	return nil
}

// resolve maps the command's device handles to provider resources.
func (r *Recorder) resolve(cmd device.Command) ([]*resource.Resource, error) {
	var out []*resource.Resource
	for _, t := range cmd.Textures() {
		if t == nil {
			return nil, fmt.Errorf("%w: %s with nil texture", ErrInvalidArgument, cmd.Type())
		}
		res, ok := r.prov.LookupTexture(t)
		if !ok {
			return nil, fmt.Errorf("%w: %s texture", ErrForeignResource, cmd.Type())
		}
		out = append(out, res)
	}
	if rb, ok := cmd.(device.ReadbackCommand); ok {
		if rb.Dst == nil {
			return nil, fmt.Errorf("%w: readback without buffer", ErrInvalidArgument)
		}
		res, ok := r.prov.LookupBuffer(rb.Dst)
		if !ok {
			return nil, fmt.Errorf("%w: readback buffer", ErrForeignResource)
		}
		out = append(out, res)
	}
	return out, nil
}

// CreateResource returns a texture for desc, reusing an idle cached one
// when possible. The texture can be used by this and later Recorders of the
// same Context.
func (r *Recorder) CreateResource(desc device.TextureDesc) (*Texture, error) {
	defer r.owner.Enter("CreateResource")()
	if r.finalized {
		return nil, ErrRecorderFinalized
	}
	if err := r.checkSize(int(desc.Width), int(desc.Height)); err != nil {
		return nil, err
	}
	if ColorTypeOf(desc.Format) == ColorTypeUnknown {
		return nil, fmt.Errorf("%w: texture format %v", ErrUnsupported, desc.Format)
	}
	res, err := r.prov.FindOrCreateScratchTexture(desc)
	if err != nil {
		return nil, fmt.Errorf("graphite: create texture: %w", err)
	}
	return newTexture(res, r.ctxID), nil
}

// CreateTexture returns a w×h texture of color type ct.
func (r *Recorder) CreateTexture(w, h int, ct ColorType) (*Texture, error) {
	if !ct.IsValid() {
		return nil, fmt.Errorf("%w: color type %v", ErrInvalidArgument, ct)
	}
	return r.CreateResource(device.TextureDesc{
		Width:  uint32(max(w, 0)),
		Height: uint32(max(h, 0)),
		Format: ct.Format(),
		Usage:  textureUsage,
	})
}

// CreateBuffer returns a buffer for desc, reusing an idle cached one when
// possible.
func (r *Recorder) CreateBuffer(desc device.BufferDesc) (*Buffer, error) {
	defer r.owner.Enter("CreateBuffer")()
	if r.finalized {
		return nil, ErrRecorderFinalized
	}
	if desc.Size == 0 || desc.Size > r.caps.MaxBufferSize {
		return nil, fmt.Errorf("%w: buffer size %d", ErrInvalidArgument, desc.Size)
	}
	res, err := r.prov.FindOrCreateScratchBuffer(desc)
	if err != nil {
		return nil, fmt.Errorf("graphite: create buffer: %w", err)
	}
	return &Buffer{res: res, ctxID: r.ctxID}, nil
}

// MakeSurface returns a w×h render target.
func (r *Recorder) MakeSurface(w, h int, ct ColorType) (*Surface, error) {
	t, err := r.CreateTexture(w, h, ct)
	if err != nil {
		return nil, err
	}
	return &Surface{tex: t}, nil
}

// CreateBackendTexture creates a client-owned texture that is never
// recycled. Release it with [Context.DeleteBackendTexture].
func (r *Recorder) CreateBackendTexture(w, h int, ct ColorType) (BackendTexture, error) {
	defer r.owner.Enter("CreateBackendTexture")()
	if r.finalized {
		return BackendTexture{}, ErrRecorderFinalized
	}
	if !ct.IsValid() {
		return BackendTexture{}, fmt.Errorf("%w: color type %v", ErrInvalidArgument, ct)
	}
	if err := r.checkSize(w, h); err != nil {
		return BackendTexture{}, err
	}
	res, err := r.prov.CreateTexture(device.TextureDesc{
		Label:  "backend",
		Width:  uint32(w),
		Height: uint32(h),
		Format: ct.Format(),
		Usage:  textureUsage,
	}, false)
	if err != nil {
		return BackendTexture{}, fmt.Errorf("graphite: create backend texture: %w", err)
	}
	return BackendTexture{h: &backendHandle{
		res:     res,
		ctxID:   r.ctxID,
		backend: r.shared.backend,
		ct:      ct,
	}}, nil
}

// WrapBackendTexture returns a Texture handle on bt for use in commands.
// The handle holds its own reference.
func (r *Recorder) WrapBackendTexture(bt BackendTexture) (*Texture, error) {
	defer r.owner.Enter("WrapBackendTexture")()
	if r.finalized {
		return nil, ErrRecorderFinalized
	}
	if !bt.IsValid() {
		return nil, fmt.Errorf("%w: backend texture", ErrInvalidArgument)
	}
	if bt.h.ctxID != r.ctxID {
		return nil, ErrForeignResource
	}
	r.prov.Ref(bt.h.res)
	return newTexture(bt.h.res, r.ctxID), nil
}

func (r *Recorder) checkSize(w, h int) error {
	maxDim := int(r.caps.MaxTextureDimension)
	if w <= 0 || h <= 0 || w > maxDim || h > maxDim {
		return fmt.Errorf("%w: texture size %dx%d (max %d)", ErrInvalidArgument, w, h, maxDim)
	}
	return nil
}

func (r *Recorder) texture(t *Texture) (device.Texture, error) {
	if err := t.check(r.ctxID); err != nil {
		return nil, err
	}
	return t.DeviceTexture(), nil
}

// Clear fills t with c.
func (r *Recorder) Clear(t *Texture, c color.Color) error {
	dt, err := r.texture(t)
	if err != nil {
		return err
	}
	return r.Record(device.ClearCommand{Target: dt, Color: toNRGBA(c)})
}

// FillRect fills rect, clipped to t, with c.
func (r *Recorder) FillRect(t *Texture, rect image.Rectangle, c color.Color) error {
	dt, err := r.texture(t)
	if err != nil {
		return err
	}
	return r.Record(device.FillRectCommand{Target: dt, Rect: rect, Color: toNRGBA(c)})
}

// WritePixels uploads pixels, in t's color type with rowBytes bytes per
// row, into rect of t. The pixels are copied.
func (r *Recorder) WritePixels(t *Texture, rect image.Rectangle, pixels []byte, rowBytes int) error {
	dt, err := r.texture(t)
	if err != nil {
		return err
	}
	bpp := t.ct.BytesPerPixel()
	if rect.Empty() || rowBytes < rect.Dx()*bpp || len(pixels) < (rect.Dy()-1)*rowBytes+rect.Dx()*bpp {
		return fmt.Errorf("%w: %d bytes for %v at %d bytes per row", ErrInvalidArgument, len(pixels), rect, rowBytes)
	}
	return r.Record(device.WritePixelsCommand{
		Target:   dt,
		Rect:     rect,
		Pixels:   slices.Clone(pixels),
		RowBytes: rowBytes,
	})
}

// CopyTexture copies srcRect of src to dstPt in dst. Both must have the
// same color type. It fails with ErrUnsupported on devices without texture
// copies.
func (r *Recorder) CopyTexture(src, dst *Texture, srcRect image.Rectangle, dstPt image.Point) error {
	s, err := r.texture(src)
	if err != nil {
		return err
	}
	d, err := r.texture(dst)
	if err != nil {
		return err
	}
	if src.ct != dst.ct {
		return fmt.Errorf("%w: copy from %v to %v", ErrUnsupported, src.ct, dst.ct)
	}
	return r.Record(device.CopyTextureCommand{Src: s, Dst: d, SrcRect: srcRect, DstPoint: dstPt})
}

// DrawImage draws img scaled into dstRect of t. img is captured as is and
// must not be modified afterwards.
func (r *Recorder) DrawImage(t *Texture, img image.Image, dstRect image.Rectangle, filter device.Filter) error {
	dt, err := r.texture(t)
	if err != nil {
		return err
	}
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidArgument)
	}
	return r.Record(device.DrawImageCommand{Target: dt, Image: img, DstRect: dstRect, Filter: filter})
}

// Dispatch records a compute dispatch. HAL devices run cmd.WGSL, the
// software device calls cmd.Kernel.
func (r *Recorder) Dispatch(cmd device.DispatchCommand) error {
	return r.Record(cmd)
}

// HostTask records fn to run in command order.
func (r *Recorder) HostTask(fn func()) error {
	if fn == nil {
		return fmt.Errorf("%w: nil host task", ErrInvalidArgument)
	}
	return r.Record(device.HostTaskCommand{Fn: fn})
}

// Snapshot finalizes the Recorder and returns its Recording.
func (r *Recorder) Snapshot() (*Recording, error) {
	defer r.owner.Enter("Snapshot")()
	if r.finalized {
		return nil, ErrRecorderFinalized
	}
	r.finalized = true
	rec := &Recording{
		shared:     r.shared,
		ctxID:      r.ctxID,
		recorderID: r.id,
		commands:   r.commands,
		resources:  r.resources,
		priority:   r.opts.priority,
		label:      r.opts.label,
	}
	r.shared = nil
	r.commands, r.resources, r.seen = nil, nil, nil
	return rec, nil
}

// Close finalizes the Recorder without producing a Recording and releases
// everything it references. It is a no-op after Snapshot.
func (r *Recorder) Close() {
	defer r.owner.Enter("Close")()
	if r.finalized {
		return
	}
	r.finalized = true
	for _, x := range r.resources {
		r.prov.Unref(x)
	}
	r.commands, r.resources, r.seen = nil, nil, nil
	r.shared.unref()
	r.shared = nil
}

func toNRGBA(c color.Color) color.NRGBA {
	if c == nil {
		return color.NRGBA{}
	}
	return color.NRGBAModel.Convert(c).(color.NRGBA)
}
