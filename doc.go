// Package graphite schedules GPU work recorded against an abstract device and
// delivers its results asynchronously.
//
// The package is built around three steps:
//
//   - Record: a [Recorder] captures device commands and the resources they
//     reference, then snapshots them into an immutable [Recording].
//   - Submit: [Context.InsertRecording] appends Recordings to the pending
//     batch in call order, and [Context.Submit] dispatches the batch to the
//     device queue as one submission.
//   - Read back: [Context.AsyncReadPixels] copies texture pixels into a
//     staging buffer ordered after the work that produced them, and hands
//     them to a callback once the device reports completion.
//
// # Basic Usage
//
//	ctx, err := graphite.NewContext(soft.New())
//	if err != nil {
//		return err
//	}
//	defer ctx.Close()
//
//	rec, _ := ctx.MakeRecorder()
//	surf, _ := rec.MakeSurface(256, 256, graphite.ColorTypeRGBA8888)
//	_ = rec.Clear(surf.Texture(), color.White)
//	recording, _ := rec.Snapshot()
//
//	_ = ctx.InsertRecording(graphite.InsertRecordingInfo{Recording: recording})
//	_ = ctx.Submit(context.Background(), graphite.SyncToCPUNo)
//
//	ctx.AsyncReadSurfacePixels(surf, graphite.ColorTypeRGBA8888, surf.Bounds(),
//		func(_ any, r *graphite.AsyncReadResult) {
//			if r != nil {
//				// r.Pixels is valid until the callback returns.
//			}
//		}, nil)
//	_ = ctx.Submit(context.Background(), graphite.SyncToCPUYes)
//
// # Threading
//
// A Context is owned by one goroutine. Recorders may live on other
// goroutines, one goroutine per Recorder. Finished procs and readback
// callbacks only run inside [Context.CheckAsyncWorkCompletion],
// [Context.Submit] and [Context.Close], on the calling goroutine. Build with
// -tags graphitedebug to panic on concurrent use of a Context.
//
// # Backends
//
// [NewContext] accepts any [device.Device]: the software device in
// driver/soft, or a gogpu/wgpu HAL device from driver/native. [MakeDawn],
// [MakeMetal] and [MakeVulkan] build the HAL device from backend connection
// structs.
package graphite
