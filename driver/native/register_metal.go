// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

//go:build darwin

package native

import (
	// Register the Metal backend with the HAL registry.
	_ "github.com/gogpu/wgpu/hal/metal"
)
