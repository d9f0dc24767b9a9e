// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	"fmt"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/graphite/device"
)

// Open creates an instance of the registered HAL backend, selects an adapter
// (discrete or integrated GPUs first) and opens a device on it. The returned
// Device owns the instance and device.
func Open(backend gputypes.Backend, opts ...Option) (*Device, error) {
	b, ok := hal.GetBackend(backend)
	if !ok {
		return nil, fmt.Errorf("native: %v backend not available", backend)
	}
	instance, err := b.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("native: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("native: no GPU adapters found")
	}
	selected := selectAdapter(adapters)

	open, err := selected.Adapter.Open(gputypes.Features(0), selected.Capabilities.Limits)
	if err != nil {
		instance.Destroy()
		return nil, translate("open device", err)
	}

	pre := []Option{
		WithBackendAPI(backendAPI(backend)),
		WithDeviceName(selected.Info.Name),
	}
	if pitch := selected.Capabilities.AlignmentsMask.BufferCopyPitch; pitch > 0 {
		pre = append(pre, WithCopyRowAlignment(uint32(pitch)))
	}
	d := newDevice(open.Device, open.Queue, selected.Capabilities.Limits, append(pre, opts...))
	d.instance = instance
	d.log.Info("native: device opened",
		"adapter", selected.Info.Name,
		"type", selected.Info.DeviceType,
		"backend", backend)
	return d, nil
}

func selectAdapter(adapters []hal.ExposedAdapter) *hal.ExposedAdapter {
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			return &adapters[i]
		}
	}
	return &adapters[0]
}

func backendAPI(b gputypes.Backend) device.BackendAPI {
	switch b {
	case gputypes.BackendVulkan:
		return device.BackendVulkan
	case gputypes.BackendMetal:
		return device.BackendMetal
	default:
		return device.BackendDawn
	}
}
