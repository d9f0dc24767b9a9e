package graphite

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/driver/native"
)

// DawnBackendContext connects a Context to a WebGPU device.
//
// Provider must also implement HalDevice() any and HalQueue() any returning
// the gogpu/wgpu HAL device and queue, as gogpu's windows do.
type DawnBackendContext struct {
	Provider gpucontext.DeviceProvider
}

// MetalBackendContext connects a Context to a Metal device. Provider is a
// HAL provider as in DawnBackendContext, or nil to open the system Metal
// device.
type MetalBackendContext struct {
	Provider any
}

// MakeDawn creates a Context on the device of bc.Provider. The provider
// keeps ownership of its device.
func MakeDawn(bc DawnBackendContext, opts ...ContextOption) (*Context, error) {
	if bc.Provider == nil {
		return nil, fmt.Errorf("%w: DawnBackendContext without provider", ErrInvalidArgument)
	}
	info := bc.Provider.AdapterInfo()
	nopts := []native.Option{
		native.WithBackendAPI(device.BackendDawn),
		native.WithDeviceName(info.Name),
		native.WithLogger(contextLogger(opts)),
	}
	if f := bc.Provider.SurfaceFormat(); f != gputypes.TextureFormatUndefined {
		nopts = append(nopts, native.WithPreferredFormat(f))
	}
	dev, err := native.FromProvider(bc.Provider, nopts...)
	if err != nil {
		return nil, fmt.Errorf("graphite: dawn: %w", err)
	}
	return NewContext(dev, opts...)
}

// MakeMetal creates a Context on a Metal device.
func MakeMetal(bc MetalBackendContext, opts ...ContextOption) (*Context, error) {
	nopts := []native.Option{
		native.WithBackendAPI(device.BackendMetal),
		native.WithLogger(contextLogger(opts)),
	}
	dev, err := openNative(bc.Provider, gputypes.BackendMetal, nopts)
	if err != nil {
		return nil, fmt.Errorf("graphite: metal: %w", err)
	}
	return NewContext(dev, opts...)
}

// openNative wraps provider's HAL device, or opens backend when provider is
// nil.
func openNative(provider any, backend gputypes.Backend, opts []native.Option) (*native.Device, error) {
	if provider != nil {
		return native.FromProvider(provider, opts...)
	}
	return native.Open(backend, opts...)
}

// contextLogger returns the logger the options would give the Context.
func contextLogger(opts []ContextOption) *slog.Logger {
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		return Logger()
	}
	return o.log
}
