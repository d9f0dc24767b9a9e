// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package native

import (
	// Register the Vulkan backend with the HAL registry.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)
