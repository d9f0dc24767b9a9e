// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package soft

import (
	"context"
	"image"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gogpu/gputypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/graphite/device"
)

var _ device.Device = (*Device)(nil)

func newTexture(t *testing.T, d *Device, w, h uint32) device.Texture {
	t.Helper()
	tex, err := d.CreateTexture(device.TextureDesc{
		Width: w, Height: h,
		Format: gputypes.TextureFormatRGBA8Unorm,
		Usage:  gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst,
	})
	require.NoError(t, err)
	return tex
}

func newReadBuffer(t *testing.T, d *Device, size uint64) device.Buffer {
	t.Helper()
	buf, err := d.CreateBuffer(device.BufferDesc{
		Size:  size,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	require.NoError(t, err)
	return buf
}

func TestSubmitFillAndReadback(t *testing.T) {
	d := New()
	defer d.Destroy()

	tex := newTexture(t, d, 4, 4)
	buf := newReadBuffer(t, d, 4*4*4)
	red := color.NRGBA{R: 255, A: 255}

	f, err := d.Submit([]device.Command{
		device.ClearCommand{Target: tex, Color: color.NRGBA{A: 255}},
		device.FillRectCommand{Target: tex, Rect: image.Rect(1, 1, 3, 3), Color: red},
		device.ReadbackCommand{Src: tex, Rect: image.Rect(0, 0, 4, 4), Dst: buf, BytesPerRow: 16},
	}, device.SubmitInfo{Label: "fill"})
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background(), f))

	data, err := d.MapRead(buf)
	require.NoError(t, err)
	defer d.Unmap(buf)

	at := func(x, y int) []byte { return data[y*16+x*4 : y*16+x*4+4] }
	assert.Equal(t, []byte{255, 0, 0, 255}, at(1, 1))
	assert.Equal(t, []byte{255, 0, 0, 255}, at(2, 2))
	assert.Equal(t, []byte{0, 0, 0, 255}, at(0, 0))
	assert.Equal(t, []byte{0, 0, 0, 255}, at(3, 3))
}

func TestSubmissionsExecuteInOrder(t *testing.T) {
	d := New()
	defer d.Destroy()

	var order []int
	var fences []device.Fence
	for i := 0; i < 5; i++ {
		i := i
		f, err := d.Submit([]device.Command{device.HostTaskCommand{Fn: func() { order = append(order, i) }}}, device.SubmitInfo{})
		require.NoError(t, err)
		fences = append(fences, f)
	}
	require.NoError(t, d.Wait(context.Background(), fences[len(fences)-1]))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPauseHoldsFences(t *testing.T) {
	d := New()
	defer d.Destroy()

	d.Pause()
	var ran atomic.Bool
	f, err := d.Submit([]device.Command{device.HostTaskCommand{Fn: func() { ran.Store(true) }}}, device.SubmitInfo{})
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	done, err := d.Poll(f)
	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, ran.Load())

	d.Resume()
	require.NoError(t, d.Wait(context.Background(), f))
	assert.True(t, ran.Load())
}

func TestEmptySubmitSignals(t *testing.T) {
	d := New()
	defer d.Destroy()

	f, err := d.Submit(nil, device.SubmitInfo{})
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background(), f))
}

func TestLoseDeviceFailsQueued(t *testing.T) {
	d := New()
	defer d.Destroy()

	d.Pause()
	f, err := d.Submit(nil, device.SubmitInfo{})
	require.NoError(t, err)

	d.LoseDevice()
	err = d.Wait(context.Background(), f)
	assert.ErrorIs(t, err, device.ErrDeviceLost)

	_, err = d.Submit(nil, device.SubmitInfo{})
	assert.ErrorIs(t, err, device.ErrDeviceLost)
	_, err = d.CreateBuffer(device.BufferDesc{Size: 16})
	assert.ErrorIs(t, err, device.ErrDeviceLost)
}

func TestWaitHonorsContext(t *testing.T) {
	d := New()
	defer d.Destroy()

	d.Pause()
	f, err := d.Submit(nil, device.SubmitInfo{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Wait(ctx, f), context.DeadlineExceeded)
	d.Resume()
}

func TestMemoryLimit(t *testing.T) {
	d := New(WithMemoryLimit(64))
	defer d.Destroy()

	tex := newTexture(t, d, 4, 4) // 64 bytes
	_, err := d.CreateBuffer(device.BufferDesc{Size: 1})
	assert.ErrorIs(t, err, device.ErrOutOfMemory)

	d.DestroyTexture(tex)
	assert.Zero(t, d.AllocatedBytes())
	_, err = d.CreateBuffer(device.BufferDesc{Size: 1})
	assert.NoError(t, err)
}

func TestSubmitRejectsDestroyedHandles(t *testing.T) {
	d := New()
	defer d.Destroy()

	tex := newTexture(t, d, 2, 2)
	d.DestroyTexture(tex)
	_, err := d.Submit([]device.Command{device.ClearCommand{Target: tex}}, device.SubmitInfo{})
	assert.ErrorIs(t, err, device.ErrInvalidHandle)
}

func TestInvalidCommandFailsOnlyItsSubmission(t *testing.T) {
	d := New()
	defer d.Destroy()

	_, err := d.Submit([]device.Command{device.DispatchCommand{WGSL: "@compute fn main() {}"}}, device.SubmitInfo{})
	assert.ErrorIs(t, err, device.ErrUnsupported)
	assert.True(t, device.IsRejection(err))

	tex := newTexture(t, d, 2, 2)
	bad, err := d.Submit([]device.Command{device.WritePixelsCommand{
		Target: tex, Rect: image.Rect(0, 0, 2, 2), Pixels: make([]byte, 4), RowBytes: 8,
	}}, device.SubmitInfo{})
	require.NoError(t, err)
	err = d.Wait(context.Background(), bad)
	assert.ErrorIs(t, err, device.ErrInvalidCommand)
	assert.True(t, device.IsRejection(err))

	good, err := d.Submit([]device.Command{device.ClearCommand{Target: tex}}, device.SubmitInfo{})
	require.NoError(t, err)
	assert.NoError(t, d.Wait(context.Background(), good))
}

func TestMapReadRequiresUsage(t *testing.T) {
	d := New()
	defer d.Destroy()

	buf, err := d.CreateBuffer(device.BufferDesc{Size: 16, Usage: gputypes.BufferUsageCopyDst})
	require.NoError(t, err)
	_, err = d.MapRead(buf)
	assert.ErrorIs(t, err, device.ErrNotMappable)
}

func TestCopyTextureAndWritePixels(t *testing.T) {
	d := New()
	defer d.Destroy()

	src := newTexture(t, d, 2, 2)
	dst := newTexture(t, d, 4, 4)
	buf := newReadBuffer(t, d, 4*4*4)

	px := []byte{
		1, 2, 3, 4, 5, 6, 7, 8,
		9, 10, 11, 12, 13, 14, 15, 16,
	}
	f, err := d.Submit([]device.Command{
		device.WritePixelsCommand{Target: src, Rect: image.Rect(0, 0, 2, 2), Pixels: px, RowBytes: 8},
		device.CopyTextureCommand{Src: src, Dst: dst, SrcRect: image.Rect(0, 0, 2, 2), DstPoint: image.Pt(3, 3)},
		device.ReadbackCommand{Src: dst, Rect: image.Rect(0, 0, 4, 4), Dst: buf, BytesPerRow: 16},
	}, device.SubmitInfo{})
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background(), f))

	data, err := d.MapRead(buf)
	require.NoError(t, err)
	// Only the top-left source pixel lands inside dst at (3,3).
	assert.Equal(t, []byte{1, 2, 3, 4}, data[3*16+3*4:3*16+4*4])
	assert.Equal(t, []byte{0, 0, 0, 0}, data[2*16+3*4:2*16+4*4])
}

func TestDispatchRunsKernel(t *testing.T) {
	d := New()
	defer d.Destroy()

	var n atomic.Int32
	f, err := d.Submit([]device.Command{device.DispatchCommand{
		Groups: [3]uint32{4, 2, 1},
		Kernel: func(x, y, z uint32) { n.Add(1) },
	}}, device.SubmitInfo{})
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background(), f))
	assert.EqualValues(t, 8, n.Load())

	_, err = d.Submit([]device.Command{device.DispatchCommand{Groups: [3]uint32{1, 1, 1}}}, device.SubmitInfo{})
	assert.ErrorIs(t, err, device.ErrUnsupported)
}

func TestDispatchOnWorkers(t *testing.T) {
	d := New(WithWorkers(4))
	defer d.Destroy()

	const gx, gy, gz = 5, 3, 2
	var seen [gx * gy * gz]atomic.Int32
	f, err := d.Submit([]device.Command{device.DispatchCommand{
		Groups: [3]uint32{gx, gy, gz},
		Kernel: func(x, y, z uint32) { seen[(z*gy+y)*gx+x].Add(1) },
	}}, device.SubmitInfo{})
	require.NoError(t, err)
	require.NoError(t, d.Wait(context.Background(), f))
	for i := range seen {
		assert.EqualValues(t, 1, seen[i].Load(), "workgroup %d", i)
	}
}

func TestRowAlignmentCaps(t *testing.T) {
	d := New(WithCopyRowAlignment(256))
	defer d.Destroy()
	assert.EqualValues(t, 256, d.Caps().AlignedRowBytes(12))
	assert.Equal(t, device.BackendSoftware, d.Backend())
}
