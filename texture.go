package graphite

import (
	"image"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/resource"
)

// Texture is a handle to a device texture owned by a Context. It holds one
// reference on the texture; the texture returns to the Context's cache (or
// is destroyed) once every handle is released and no submission uses it.
//
// Texture is not safe for concurrent use.
type Texture struct {
	res      *resource.Resource
	ctxID    ContextID
	ct       ColorType
	released bool
}

func newTexture(res *resource.Resource, id ContextID) *Texture {
	return &Texture{res: res, ctxID: id, ct: ColorTypeOf(res.Texture().Desc().Format)}
}

// share returns a second handle on the same texture.
func (t *Texture) share() *Texture {
	t.res.Provider().Ref(t.res)
	return &Texture{res: t.res, ctxID: t.ctxID, ct: t.ct}
}

// Width returns the texture width in pixels.
func (t *Texture) Width() int { return int(t.res.Texture().Desc().Width) }

// Height returns the texture height in pixels.
func (t *Texture) Height() int { return int(t.res.Texture().Desc().Height) }

// Bounds returns the texture rectangle.
func (t *Texture) Bounds() image.Rectangle { return image.Rect(0, 0, t.Width(), t.Height()) }

// ColorType returns the pixel layout.
func (t *Texture) ColorType() ColorType { return t.ct }

// DeviceTexture returns the device handle for building commands.
func (t *Texture) DeviceTexture() device.Texture { return t.res.Texture() }

// ContextID returns the ID of the owning Context.
func (t *Texture) ContextID() ContextID { return t.ctxID }

// Release drops the handle's reference. Further use of the handle fails
// with ErrInvalidArgument.
func (t *Texture) Release() {
	if t == nil || t.released {
		return
	}
	t.released = true
	t.res.Provider().Unref(t.res)
}

// check returns an error unless t is usable by the Context with the given ID.
func (t *Texture) check(id ContextID) error {
	switch {
	case t == nil || t.released || t.res.Destroyed():
		return ErrInvalidArgument
	case t.ctxID != id:
		return ErrForeignResource
	}
	return nil
}

// Image is a read-only view of a texture, the source of reads and draws.
type Image struct {
	tex *Texture
}

// Texture returns the underlying texture handle.
func (i *Image) Texture() *Texture { return i.tex }

// Width returns the image width.
func (i *Image) Width() int { return i.tex.Width() }

// Height returns the image height.
func (i *Image) Height() int { return i.tex.Height() }

// Bounds returns the image rectangle.
func (i *Image) Bounds() image.Rectangle { return i.tex.Bounds() }

// ColorType returns the pixel layout.
func (i *Image) ColorType() ColorType { return i.tex.ct }

// Release drops the image's texture reference.
func (i *Image) Release() { i.tex.Release() }

// Surface is a render target.
type Surface struct {
	tex *Texture
}

// Texture returns the render target texture.
func (s *Surface) Texture() *Texture { return s.tex }

// Width returns the surface width.
func (s *Surface) Width() int { return s.tex.Width() }

// Height returns the surface height.
func (s *Surface) Height() int { return s.tex.Height() }

// Bounds returns the surface rectangle.
func (s *Surface) Bounds() image.Rectangle { return s.tex.Bounds() }

// ColorType returns the pixel layout.
func (s *Surface) ColorType() ColorType { return s.tex.ct }

// MakeImageSnapshot returns an Image of the surface's current texture. The
// Image shares the texture and holds its own reference.
func (s *Surface) MakeImageSnapshot() *Image {
	return &Image{tex: s.tex.share()}
}

// Release drops the surface's texture reference.
func (s *Surface) Release() { s.tex.Release() }

// Buffer is a handle to a device buffer owned by a Context.
type Buffer struct {
	res      *resource.Resource
	ctxID    ContextID
	released bool
}

// Size returns the buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.res.Size() }

// DeviceBuffer returns the device handle for building commands.
func (b *Buffer) DeviceBuffer() device.Buffer { return b.res.Buffer() }

// Release drops the handle's reference.
func (b *Buffer) Release() {
	if b == nil || b.released {
		return
	}
	b.released = true
	b.res.Provider().Unref(b.res)
}

// BackendTexture is a client-owned texture that is never recycled by the
// resource cache. Copies of a BackendTexture share its state, so deleting
// through one invalidates all.
type BackendTexture struct {
	h *backendHandle
}

type backendHandle struct {
	res     *resource.Resource
	ctxID   ContextID
	backend device.BackendAPI
	ct      ColorType
	deleted bool
}

// IsValid reports whether the texture exists and has not been deleted.
func (b BackendTexture) IsValid() bool {
	return b.h != nil && !b.h.deleted && !b.h.res.Destroyed()
}

// Backend returns the backend that created the texture.
func (b BackendTexture) Backend() device.BackendAPI {
	if b.h == nil {
		return 0
	}
	return b.h.backend
}

// Width returns the texture width, or 0 for an invalid texture.
func (b BackendTexture) Width() int {
	if !b.IsValid() {
		return 0
	}
	return int(b.h.res.Texture().Desc().Width)
}

// Height returns the texture height, or 0 for an invalid texture.
func (b BackendTexture) Height() int {
	if !b.IsValid() {
		return 0
	}
	return int(b.h.res.Texture().Desc().Height)
}

// ColorType returns the pixel layout.
func (b BackendTexture) ColorType() ColorType {
	if b.h == nil {
		return ColorTypeUnknown
	}
	return b.h.ct
}
