// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package device

import (
	"context"
	"errors"
	"fmt"

	"github.com/gogpu/gputypes"
)

// Device errors.
var (
	// ErrDeviceLost is returned once the device has been lost or entered an
	// unrecoverable state. Every later call returns it too.
	ErrDeviceLost = errors.New("device: device lost")

	// ErrOutOfMemory is returned when the device cannot allocate a resource.
	ErrOutOfMemory = errors.New("device: out of device memory")

	// ErrUnsupported is returned for commands the device cannot execute.
	ErrUnsupported = errors.New("device: unsupported command")

	// ErrInvalidHandle is returned for handles the device did not create or
	// has already destroyed.
	ErrInvalidHandle = errors.New("device: invalid handle")

	// ErrNotMappable is returned by MapRead for buffers without MapRead usage.
	ErrNotMappable = errors.New("device: buffer is not mappable for reading")

	// ErrInvalidCommand is returned for commands whose arguments do not fit
	// their targets.
	ErrInvalidCommand = errors.New("device: invalid command")
)

// IsRejection reports whether err rejects a single submission and leaves
// the device usable. Any other error from Submit, Poll or Wait is fatal.
func IsRejection(err error) bool {
	if err == nil || errors.Is(err, ErrDeviceLost) {
		return false
	}
	return errors.Is(err, ErrInvalidCommand) ||
		errors.Is(err, ErrInvalidHandle) ||
		errors.Is(err, ErrUnsupported)
}

// BackendAPI identifies the native graphics API behind a Device.
type BackendAPI uint8

const (
	// BackendDawn is WebGPU through Dawn (or any WebGPU provider).
	BackendDawn BackendAPI = iota + 1
	// BackendMetal is Apple Metal.
	BackendMetal
	// BackendVulkan is Khronos Vulkan.
	BackendVulkan
	// BackendSoftware is the CPU device.
	BackendSoftware
)

// String returns the backend name.
func (b BackendAPI) String() string {
	switch b {
	case BackendDawn:
		return "Dawn"
	case BackendMetal:
		return "Metal"
	case BackendVulkan:
		return "Vulkan"
	case BackendSoftware:
		return "Software"
	default:
		return fmt.Sprintf("Unknown(%d)", int(b))
	}
}

// Caps is the capability table of a device. It is computed once when the
// device is opened and never changes.
type Caps struct {
	// MaxTextureDimension is the largest width or height of a 2D texture.
	MaxTextureDimension uint32

	// MaxBufferSize is the largest buffer in bytes.
	MaxBufferSize uint64

	// CopyRowAlignment is the required alignment of BytesPerRow for
	// texture-to-buffer copies. 1 means no alignment requirement.
	CopyRowAlignment uint32

	// Compute reports whether DispatchCommand is supported.
	Compute bool

	// WGSL reports whether dispatches run DispatchCommand.WGSL. When false
	// the device calls DispatchCommand.Kernel instead.
	WGSL bool

	// TextureCopy reports whether CopyTextureCommand is supported.
	TextureCopy bool

	// HostTasks reports whether HostTaskCommand runs on the device timeline.
	// When false the device runs host tasks at submission time.
	HostTasks bool

	// PreferredFormat is the format used for surfaces when the caller does
	// not ask for one.
	PreferredFormat gputypes.TextureFormat

	// DeviceName is a human readable adapter name, if known.
	DeviceName string
}

// AlignedRowBytes rounds rowBytes up to CopyRowAlignment.
func (c Caps) AlignedRowBytes(rowBytes uint32) uint32 {
	a := c.CopyRowAlignment
	if a <= 1 {
		return rowBytes
	}
	return (rowBytes + a - 1) / a * a
}

// TextureDesc describes a 2D texture.
type TextureDesc struct {
	// Label is an optional debug label.
	Label string

	// Width and Height are the texture dimensions in pixels.
	Width, Height uint32

	// Format is the pixel format.
	Format gputypes.TextureFormat

	// Usage specifies how the texture will be used.
	Usage gputypes.TextureUsage
}

// BufferDesc describes a buffer.
type BufferDesc struct {
	// Label is an optional debug label.
	Label string

	// Size is the buffer size in bytes.
	Size uint64

	// Usage specifies how the buffer will be used.
	Usage gputypes.BufferUsage
}

// Texture is an opaque device texture handle. Implementations must be
// comparable (typically a pointer).
type Texture interface {
	// Desc returns the descriptor the texture was created with.
	Desc() TextureDesc
}

// Buffer is an opaque device buffer handle. Implementations must be
// comparable (typically a pointer).
type Buffer interface {
	// Desc returns the descriptor the buffer was created with.
	Desc() BufferDesc
}

// Fence signals completion of one submission. It is opaque to callers.
type Fence interface{}

// SubmitInfo carries per-submission hints.
type SubmitInfo struct {
	// Label is an optional debug label.
	Label string

	// Priority is a scheduling hint. Devices may ignore it; it never changes
	// the relative order of submissions.
	Priority int
}

// Device is the abstract device-operations interface.
//
// Except for Wait, no method blocks on GPU completion. Devices are driven
// from a single goroutine (the Context owner); implementations need not be
// safe for concurrent use unless documented otherwise.
type Device interface {
	// Backend returns the native API behind this device.
	Backend() BackendAPI

	// Caps returns the capability table.
	Caps() Caps

	// CreateTexture allocates a texture.
	// Returns ErrOutOfMemory if the allocation cannot be satisfied.
	CreateTexture(desc TextureDesc) (Texture, error)

	// DestroyTexture releases a texture. The caller guarantees that no
	// in-flight submission references it.
	DestroyTexture(t Texture)

	// CreateBuffer allocates a buffer.
	// Returns ErrOutOfMemory if the allocation cannot be satisfied.
	CreateBuffer(desc BufferDesc) (Buffer, error)

	// DestroyBuffer releases a buffer. The caller guarantees that no
	// in-flight submission references it.
	DestroyBuffer(b Buffer)

	// Submit dispatches commands for execution in order and returns the
	// fence that signals their completion. An empty command list is valid
	// and produces a fence ordered after all earlier submissions.
	Submit(cmds []Command, info SubmitInfo) (Fence, error)

	// Poll reports whether the fence has signaled. It never blocks.
	Poll(f Fence) (bool, error)

	// Wait blocks until the fence signals, the device fails, or ctx is done.
	Wait(ctx context.Context, f Fence) error

	// MapRead maps a MapRead buffer for reading. The returned slice is valid
	// until Unmap. The caller guarantees that writes to the buffer have
	// completed.
	MapRead(b Buffer) ([]byte, error)

	// Unmap ends a mapping started by MapRead.
	Unmap(b Buffer)

	// Destroy releases the device. Using the device afterwards is an error.
	Destroy()
}
