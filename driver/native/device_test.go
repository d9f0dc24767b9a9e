// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/graphite/device"
)

const testShader = `
@compute @workgroup_size(1)
fn main() {}
`

// createNoopDevice opens a device on the noop backend.
func createNoopDevice(t *testing.T, opts ...Option) *Device {
	t.Helper()
	d, err := Open(gputypes.BackendEmpty, opts...)
	require.NoError(t, err)
	t.Cleanup(d.Destroy)
	return d
}

func newTexture(t *testing.T, d *Device, w, h uint32) device.Texture {
	t.Helper()
	tex, err := d.CreateTexture(device.TextureDesc{
		Label: "test", Width: w, Height: h,
		Format: gputypes.TextureFormatRGBA8Unorm,
	})
	require.NoError(t, err)
	return tex
}

func TestOpenNoop(t *testing.T) {
	d := createNoopDevice(t)

	caps := d.Caps()
	assert.Equal(t, "Noop Adapter", caps.DeviceName)
	assert.Equal(t, uint32(256), caps.CopyRowAlignment)
	assert.Equal(t, gputypes.DefaultLimits().MaxTextureDimension2D, caps.MaxTextureDimension)
	assert.True(t, caps.TextureCopy)
	assert.False(t, caps.HostTasks)
	assert.Equal(t, device.BackendDawn, d.Backend())
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(gputypes.Backend(200))
	assert.Error(t, err)
}

func TestSubmitSignalsFence(t *testing.T) {
	d := createNoopDevice(t)
	tex := newTexture(t, d, 16, 16)
	buf, err := d.CreateBuffer(device.BufferDesc{
		Size:  256 * 16,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	require.NoError(t, err)

	f, err := d.Submit([]device.Command{
		device.ClearCommand{Target: tex, Color: color.NRGBA{R: 255, A: 255}},
		device.FillRectCommand{Target: tex, Rect: image.Rect(2, 2, 40, 40), Color: color.NRGBA{B: 255, A: 255}},
		device.ReadbackCommand{Src: tex, Rect: image.Rect(0, 0, 16, 16), Dst: buf, BytesPerRow: 256},
	}, device.SubmitInfo{Label: "frame"})
	require.NoError(t, err)

	done, err := d.Poll(f)
	require.NoError(t, err)
	assert.True(t, done)
	require.NoError(t, d.Wait(context.Background(), f))

	data, err := d.MapRead(buf)
	require.NoError(t, err)
	assert.Len(t, data, 256*16)
	d.Unmap(buf)
}

func TestFenceOrder(t *testing.T) {
	d := createNoopDevice(t)

	f1, err := d.Submit(nil, device.SubmitInfo{})
	require.NoError(t, err)
	f2, err := d.Submit(nil, device.SubmitInfo{})
	require.NoError(t, err)

	assert.Less(t, f1.(*fence).index, f2.(*fence).index)
}

func TestCopyAndHostTask(t *testing.T) {
	d := createNoopDevice(t)
	src := newTexture(t, d, 8, 8)
	dst := newTexture(t, d, 8, 8)

	ran := false
	f, err := d.Submit([]device.Command{
		device.CopyTextureCommand{Src: src, Dst: dst, SrcRect: image.Rect(0, 0, 8, 8), DstPoint: image.Pt(4, 4)},
		device.HostTaskCommand{Fn: func() { ran = true }},
	}, device.SubmitInfo{})
	require.NoError(t, err)
	assert.True(t, ran, "host task runs at submission")
	require.NoError(t, d.Wait(context.Background(), f))
	assert.Empty(t, f.(*fence).cmdBufs, "command buffers freed on completion")
}

func TestCopyFormatMismatch(t *testing.T) {
	d := createNoopDevice(t)
	src := newTexture(t, d, 4, 4)
	dst, err := d.CreateTexture(device.TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatR8Unorm})
	require.NoError(t, err)

	_, err = d.Submit([]device.Command{
		device.CopyTextureCommand{Src: src, Dst: dst, SrcRect: image.Rect(0, 0, 4, 4)},
	}, device.SubmitInfo{})
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

func TestDispatchCachesPipeline(t *testing.T) {
	d := createNoopDevice(t, WithPipelineCacheSize(1))

	cmd := device.DispatchCommand{Label: "k", WGSL: testShader, EntryPoint: "main", Groups: [3]uint32{4, 1, 1}}
	_, err := d.Submit([]device.Command{cmd, cmd}, device.SubmitInfo{})
	require.NoError(t, err)
	assert.Equal(t, 1, d.pipelines.Len())
	assert.Equal(t, uint64(1), d.pipelines.Stats().Hits)

	other := cmd
	other.WGSL = testShader + "\n"
	f, err := d.Submit([]device.Command{other}, device.SubmitInfo{})
	require.NoError(t, err)
	require.Len(t, d.retired, 1)

	require.NoError(t, d.Wait(context.Background(), f))
	assert.Empty(t, d.retired, "evicted pipeline destroyed after completion")
}

func TestDispatchInvalidShader(t *testing.T) {
	d := createNoopDevice(t)
	_, err := d.Submit([]device.Command{
		device.DispatchCommand{WGSL: "not wgsl", Groups: [3]uint32{1, 1, 1}},
	}, device.SubmitInfo{})
	assert.ErrorIs(t, err, device.ErrUnsupported)

	// The device stays usable.
	_, err = d.Submit(nil, device.SubmitInfo{})
	assert.NoError(t, err)
}

func TestMapReadRequiresUsage(t *testing.T) {
	d := createNoopDevice(t)
	buf, err := d.CreateBuffer(device.BufferDesc{Size: 64, Usage: gputypes.BufferUsageCopyDst})
	require.NoError(t, err)
	_, err = d.MapRead(buf)
	assert.ErrorIs(t, err, device.ErrNotMappable)
}

func TestDestroyedHandles(t *testing.T) {
	d := createNoopDevice(t)
	tex := newTexture(t, d, 4, 4)
	d.DestroyTexture(tex)

	_, err := d.Submit([]device.Command{device.ClearCommand{Target: tex}}, device.SubmitInfo{})
	assert.ErrorIs(t, err, device.ErrInvalidHandle)
}

func TestUnsupportedTextureFormat(t *testing.T) {
	d := createNoopDevice(t)
	_, err := d.CreateTexture(device.TextureDesc{Width: 4, Height: 4, Format: gputypes.TextureFormatUndefined})
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

// lostQueue reports device loss on every submission.
type lostQueue struct {
	hal.Queue
}

func (lostQueue) Submit([]hal.CommandBuffer) (uint64, error) {
	return 0, hal.ErrDeviceLost
}

func TestDeviceLost(t *testing.T) {
	inst, err := noop.API{}.CreateInstance(nil)
	require.NoError(t, err)
	open, err := inst.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	require.NoError(t, err)

	d := New(open.Device, lostQueue{open.Queue}, nil)
	defer d.Destroy()

	_, err = d.Submit(nil, device.SubmitInfo{})
	require.ErrorIs(t, err, device.ErrDeviceLost)

	_, err = d.CreateTexture(device.TextureDesc{Width: 1, Height: 1, Format: gputypes.TextureFormatRGBA8Unorm})
	assert.ErrorIs(t, err, device.ErrDeviceLost)
	_, err = d.Submit(nil, device.SubmitInfo{})
	assert.ErrorIs(t, err, device.ErrDeviceLost)
	assert.True(t, errors.Is(err, hal.ErrDeviceLost))
}

type provider struct {
	dev   hal.Device
	queue hal.Queue
}

func (p provider) HalDevice() any { return p.dev }
func (p provider) HalQueue() any  { return p.queue }

func TestFromProvider(t *testing.T) {
	inst, err := noop.API{}.CreateInstance(nil)
	require.NoError(t, err)
	open, err := inst.EnumerateAdapters(nil)[0].Adapter.Open(0, gputypes.DefaultLimits())
	require.NoError(t, err)

	d, err := FromProvider(provider{open.Device, open.Queue})
	require.NoError(t, err)
	assert.True(t, d.external)
	d.Destroy()

	_, err = FromProvider(struct{}{})
	assert.Error(t, err)
}
