package resource

import (
	"container/list"
	"fmt"
	"time"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/pixel"
)

// Kind is the resource type.
type Kind uint8

const (
	// KindTexture is a 2D texture.
	KindTexture Kind = iota
	// KindBuffer is a linear buffer.
	KindBuffer
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTexture:
		return "texture"
	case KindBuffer:
		return "buffer"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Key identifies interchangeable scratch resources.
type Key struct {
	Kind    Kind
	Texture device.TextureDesc
	Buffer  device.BufferDesc
}

// TextureKey returns the scratch key for desc. Labels do not take part.
func TextureKey(desc device.TextureDesc) Key {
	desc.Label = ""
	return Key{Kind: KindTexture, Texture: desc}
}

// BufferKey returns the scratch key for desc. Labels do not take part.
func BufferKey(desc device.BufferDesc) Key {
	desc.Label = ""
	return Key{Kind: KindBuffer, Buffer: desc}
}

// Resource is a device texture or buffer owned by a Provider.
//
// All fields are guarded by the owning provider's mutex.
type Resource struct {
	id       uint64
	provider *Provider
	key      Key
	tex      device.Texture
	buf      device.Buffer
	size     uint64
	scratch  bool
	budgeted bool

	usageRefs   int
	commandRefs int

	idle      *list.Element
	idleSince time.Time
	destroyed bool
}

// ID returns the provider-unique resource id.
func (r *Resource) ID() uint64 { return r.id }

// Kind returns the resource type.
func (r *Resource) Kind() Kind { return r.key.Kind }

// Key returns the scratch key.
func (r *Resource) Key() Key { return r.key }

// Texture returns the device texture, or nil for buffers.
func (r *Resource) Texture() device.Texture { return r.tex }

// Buffer returns the device buffer, or nil for textures.
func (r *Resource) Buffer() device.Buffer { return r.buf }

// Size returns the size in bytes counted against the budget.
func (r *Resource) Size() uint64 { return r.size }

// Scratch reports whether the resource returns to the cache when idle.
func (r *Resource) Scratch() bool { return r.scratch }

// Budgeted reports whether the resource counts against the budget.
func (r *Resource) Budgeted() bool { return r.budgeted }

// Provider returns the owning provider.
func (r *Resource) Provider() *Provider { return r.provider }

// UsageRefs returns the number of usage references.
func (r *Resource) UsageRefs() int {
	r.provider.mu.Lock()
	defer r.provider.mu.Unlock()
	return r.usageRefs
}

// CommandRefs returns the number of pending or in-flight submissions that
// reference the resource.
func (r *Resource) CommandRefs() int {
	r.provider.mu.Lock()
	defer r.provider.mu.Unlock()
	return r.commandRefs
}

// Destroyed reports whether the device object has been released.
func (r *Resource) Destroyed() bool {
	r.provider.mu.Lock()
	defer r.provider.mu.Unlock()
	return r.destroyed
}

// String returns a short description for logs.
func (r *Resource) String() string {
	switch r.key.Kind {
	case KindTexture:
		d := r.key.Texture
		return fmt.Sprintf("texture#%d[%dx%d %v]", r.id, d.Width, d.Height, d.Format)
	default:
		return fmt.Sprintf("buffer#%d[%d bytes]", r.id, r.key.Buffer.Size)
	}
}

func textureBytes(desc device.TextureDesc) uint64 {
	bpp := pixel.BytesPerPixel(desc.Format)
	if bpp == 0 {
		bpp = 4
	}
	return uint64(desc.Width) * uint64(desc.Height) * uint64(bpp)
}
