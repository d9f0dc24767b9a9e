// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package soft implements device.Device on the CPU.
//
// Textures and buffers are plain byte slices. Submissions are queued to a
// timeline goroutine that executes them strictly in order and signals a
// fence per submission, the same way a GPU queue signals a fence when a
// command buffer retires. Submit never blocks.
//
// The device exposes hooks for exercising asynchronous behavior
// deterministically:
//
//   - [Device.Pause] and [Device.Resume] hold the timeline so submissions stay
//     in flight;
//   - [Device.LoseDevice] fails every queued submission with
//     device.ErrDeviceLost and refuses further work;
//   - [WithMemoryLimit] makes allocations fail with device.ErrOutOfMemory.
//
// Compute dispatches run DispatchCommand.Kernel once per workgroup; WGSL
// sources are ignored.
package soft
