//go:build !novulkan

package graphite

import (
	"fmt"

	"github.com/gogpu/gputypes"
	vk "github.com/vulkan-go/vulkan"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/driver/native"
)

// minVulkanAPIVersion is the oldest Vulkan API accepted by MakeVulkan.
var minVulkanAPIVersion = uint32(vk.MakeVersion(1, 1, 0))

// VulkanBackendContext connects a Context to a Vulkan device.
//
// The vulkan-go handles describe the client's device; vulkan-go must be
// initialized for Instance. When PhysicalDevice is set, its properties
// bound the capability table. Work is executed through Provider, a HAL
// provider as in DawnBackendContext, or through a HAL Vulkan device opened
// by MakeVulkan when Provider is nil.
type VulkanBackendContext struct {
	Instance           vk.Instance
	PhysicalDevice     vk.PhysicalDevice
	Device             vk.Device
	Queue              vk.Queue
	GraphicsQueueIndex uint32

	// MaxAPIVersion is the highest API version the client uses. 0 means
	// unknown.
	MaxAPIVersion uint32

	Provider any
}

// MakeVulkan creates a Context on a Vulkan device.
func MakeVulkan(bc VulkanBackendContext, opts ...ContextOption) (*Context, error) {
	if bc.MaxAPIVersion != 0 && bc.MaxAPIVersion < minVulkanAPIVersion {
		return nil, fmt.Errorf("%w: Vulkan API version %#x", ErrUnsupported, bc.MaxAPIVersion)
	}

	log := contextLogger(opts)
	nopts := []native.Option{
		native.WithBackendAPI(device.BackendVulkan),
		native.WithLogger(log),
	}
	if bc.PhysicalDevice != nil {
		var props vk.PhysicalDeviceProperties
		vk.GetPhysicalDeviceProperties(bc.PhysicalDevice, &props)
		props.Deref()
		props.Limits.Deref()

		name := vk.ToString(props.DeviceName[:])
		nopts = append(nopts,
			native.WithDeviceName(name),
			native.WithMaxTextureDimension(props.Limits.MaxImageDimension2D))
		if pitch := uint32(props.Limits.OptimalBufferCopyRowPitchAlignment); pitch > 1 {
			nopts = append(nopts, native.WithCopyRowAlignment(max(pitch, 256)))
		}
		log.Info("graphite: vulkan physical device",
			"name", name,
			"apiVersion", props.ApiVersion,
			"queueFamily", bc.GraphicsQueueIndex)
	}

	dev, err := openNative(bc.Provider, gputypes.BackendVulkan, nopts)
	if err != nil {
		return nil, fmt.Errorf("graphite: vulkan: %w", err)
	}
	return NewContext(dev, opts...)
}
