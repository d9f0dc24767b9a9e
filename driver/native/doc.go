// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package native implements device.Device on a gogpu/wgpu HAL device
// (Vulkan, Metal, DX12, GLES or the noop test backend).
//
// # Command translation
//
// Copies (CopyTexture, Readback) and compute dispatches are encoded into a
// HAL command buffer. Pixel writes (Clear, FillRect, WritePixels and
// DrawImage, which is rasterized on the CPU) go through Queue.WriteTexture;
// any open command buffer is submitted first so the write stays ordered
// after the commands recorded before it.
//
// Host tasks run when the submission is encoded, not on the GPU timeline
// (Caps.HostTasks is false).
//
// # Fences
//
// Every HAL submission returns a monotonically increasing index. A
// device.Fence records the last index of its submission and is signaled once
// Queue.PollCompleted reaches it. Command buffers are freed when their fence
// signals.
//
// # Compute
//
// DispatchCommand.WGSL is compiled to SPIR-V with naga. Pipelines are cached
// by source and entry point; evicted pipelines are destroyed only after every
// submission that could reference them has completed.
package native
