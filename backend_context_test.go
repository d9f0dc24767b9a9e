package graphite

import (
	"context"
	"image"
	"testing"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/graphite/device"
)

// halProvider is a gpucontext.DeviceProvider backed by the noop HAL.
type halProvider struct {
	dev   hal.Device
	queue hal.Queue
}

func (p halProvider) Device() gpucontext.Device { return p.dev }
func (p halProvider) Queue() gpucontext.Queue   { return p.queue }
func (p halProvider) Adapter() gpucontext.Adapter {
	return nil
}
func (p halProvider) SurfaceFormat() gputypes.TextureFormat {
	return gputypes.TextureFormatRGBA8Unorm
}
func (p halProvider) AdapterInfo() gpucontext.AdapterInfo {
	return gpucontext.AdapterInfo{Name: "noop"}
}
func (p halProvider) HalDevice() any { return p.dev }
func (p halProvider) HalQueue() any  { return p.queue }

func newHalProvider(t *testing.T) halProvider {
	t.Helper()
	inst, err := noop.API{}.CreateInstance(nil)
	require.NoError(t, err)
	adapters := inst.EnumerateAdapters(nil)
	require.NotEmpty(t, adapters)
	open, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	require.NoError(t, err)
	return halProvider{dev: open.Device, queue: open.Queue}
}

func TestMakeDawn(t *testing.T) {
	c, err := MakeDawn(DawnBackendContext{Provider: newHalProvider(t)})
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, device.BackendDawn, c.Backend())
	caps := c.Caps()
	assert.Equal(t, "noop", caps.DeviceName)
	assert.Equal(t, gputypes.TextureFormatRGBA8Unorm, caps.PreferredFormat)

	var surf *Surface
	rec := record(t, c, func(r *Recorder) {
		var err error
		surf, err = r.MakeSurface(4, 4, ColorTypeRGBA8888)
		require.NoError(t, err)
		require.NoError(t, r.Clear(surf.Texture(), red))
	})
	finished := false
	require.NoError(t, c.InsertRecording(InsertRecordingInfo{
		Recording:    rec,
		FinishedProc: func(_ any, ok bool) { finished = ok },
	}))

	// The noop HAL drops texture contents; only delivery is checked.
	var res *AsyncReadResult
	c.AsyncReadSurfacePixels(surf, ColorTypeBGRA8888, image.Rect(0, 0, 2, 2), func(_ any, r *AsyncReadResult) {
		res = r
	}, nil)
	require.NoError(t, c.Submit(context.Background(), SyncToCPUYes))

	assert.True(t, finished)
	require.NotNil(t, res)
	assert.Equal(t, 2, res.Width)
	assert.Equal(t, 8, res.RowBytes)
	surf.Release()
}

func TestMakeDawnRejectsProvider(t *testing.T) {
	_, err := MakeDawn(DawnBackendContext{})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = MakeMetal(MetalBackendContext{Provider: struct{}{}})
	assert.Error(t, err)
}

func TestNewContextNilDevice(t *testing.T) {
	_, err := NewContext(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
