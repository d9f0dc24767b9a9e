// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package device defines the abstract device-operations interface that the
// graphite scheduling core is written against.
//
// The core never depends on a concrete backend. Each backend (the software
// device in driver/soft, the gogpu/wgpu HAL device in driver/hal, or a user
// implementation) is resolved once when the SharedContext is created and is
// then only reached through [Device].
//
// # Architecture
//
//	       +---------------------------+
//	       |  graphite.Context         |
//	       |  QueueManager, Provider   |
//	       +-------------+-------------+
//	                     |  device.Device
//	         +-----------+-----------+
//	         |                       |
//	+--------v--------+     +--------v--------+
//	|   driver/soft   |     |   driver/hal    |
//	| (CPU timeline)  |     | (hal.Device)    |
//	+-----------------+     +--------+--------+
//	                                 |
//	                        Vulkan / Metal / Dawn
//
// # Resource Management
//
// Textures and buffers are opaque handles ([Texture], [Buffer]) created and
// destroyed through the Device. Handles must be comparable; the resource
// provider keys its bookkeeping on them.
//
// # Submission
//
// [Device.Submit] hands an ordered command list to the device and returns a
// [Fence] immediately. Completion is observed with [Device.Poll] (never
// blocks) or [Device.Wait] (blocks until the fence signals or the context is
// done). A device that returns [ErrDeviceLost] from any of these is dead;
// callers must not submit to it again.
package device
