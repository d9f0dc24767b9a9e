package graphite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/mapped"
	"github.com/gogpu/graphite/internal/owner"
	"github.com/gogpu/graphite/internal/queue"
	"github.com/gogpu/graphite/internal/resource"
)

// SyncToCPU selects whether Submit waits for the GPU.
type SyncToCPU bool

const (
	// SyncToCPUNo returns as soon as the work is dispatched.
	SyncToCPUNo SyncToCPU = false
	// SyncToCPUYes waits for all submitted work and delivers its callbacks.
	SyncToCPUYes SyncToCPU = true
)

// InsertRecordingInfo describes one InsertRecording call.
type InsertRecordingInfo struct {
	// Recording is consumed by a successful insertion.
	Recording *Recording

	// SyncToCPU makes the next Submit wait for the submission carrying the
	// Recording, even with SyncToCPUNo.
	SyncToCPU bool

	// FinishedProc, if set, is called exactly once with FinishedContext:
	// ok is true when the submission completed, false when it failed or the
	// insertion was rejected.
	FinishedProc func(ctx any, ok bool)

	// FinishedContext is passed to FinishedProc.
	FinishedContext any
}

// Context is the entry point for scheduling GPU work on one device.
//
// A Context is owned by a single goroutine: every method must be called
// from it (or from callbacks it delivers). Builds with -tags graphitedebug
// panic when two goroutines use a Context at the same time.
type Context struct {
	id     ContextID
	shared *SharedContext
	prov   *resource.Provider
	queue  *queue.Manager
	mapped *mapped.Manager
	owner  owner.Guard
	log    *slog.Logger
	opts   contextOptions
	closed bool
}

// NewContext creates a Context that takes ownership of dev. The device is
// destroyed once the Context and every Recorder and Recording made from it
// are released.
func NewContext(dev device.Device, opts ...ContextOption) (*Context, error) {
	if dev == nil {
		return nil, fmt.Errorf("%w: nil device", ErrInvalidArgument)
	}
	o := defaultContextOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = Logger()
	}

	id := NextContextID()
	log := o.log.With("context", uint32(id))
	c := &Context{
		id:     id,
		shared: newSharedContext(dev, log),
		log:    log,
		opts:   o,
	}
	c.prov = resource.NewProvider(dev, o.budget, log)
	c.queue = queue.NewManager(dev, c.prov, log)
	c.mapped = mapped.NewManager(dev, c.prov, log)

	caps := c.shared.caps
	log.Info("graphite: context created",
		"backend", c.shared.backend,
		"device", caps.DeviceName,
		"maxTextureDimension", caps.MaxTextureDimension)
	return c, nil
}

// ID returns the Context ID. It stays the same after Close.
func (c *Context) ID() ContextID { return c.id }

// Backend returns the native API of the device.
func (c *Context) Backend() device.BackendAPI { return c.shared.backend }

// Caps returns the device capability table.
func (c *Context) Caps() device.Caps { return c.shared.caps }

// IsDeviceLost reports whether the device failed. A Context with a lost
// device refuses new work; it must be closed and recreated.
func (c *Context) IsDeviceLost() bool {
	defer c.owner.Enter("IsDeviceLost")()
	return !c.closed && c.queue.Lost()
}

// MakeRecorder returns a new Recorder for this Context.
func (c *Context) MakeRecorder(opts ...RecorderOption) (*Recorder, error) {
	defer c.owner.Enter("MakeRecorder")()
	if c.closed {
		return nil, ErrInvalidContext
	}
	o := recorderOptions{capacity: 16}
	for _, opt := range opts {
		opt(&o)
	}
	return newRecorder(c, o), nil
}

// InsertRecording appends info.Recording to the pending batch. Recordings
// execute in insertion order.
//
// On failure nothing is inserted, the Recording stays with the caller and
// info.FinishedProc is called with ok=false by the next
// CheckAsyncWorkCompletion or Submit (immediately on a closed Context).
func (c *Context) InsertRecording(info InsertRecordingInfo) error {
	defer c.owner.Enter("InsertRecording")()

	var proc queue.FinishedProc
	if info.FinishedProc != nil {
		proc = func(ok bool) { info.FinishedProc(info.FinishedContext, ok) }
	}

	if err := c.checkInsert(info.Recording); err != nil {
		c.log.Warn("graphite: insert rejected", "err", err)
		if proc != nil {
			if c.closed {
				proc(false)
			} else {
				c.queue.Defer(proc)
			}
		}
		return err
	}

	rec := info.Recording
	w := &queue.Work{
		Label:     rec.label,
		Commands:  rec.commands,
		Resources: rec.resources,
		Priority:  rec.priority,
		SyncToCPU: info.SyncToCPU,
		Release:   rec.release,
	}
	if proc != nil {
		w.Finished = []queue.FinishedProc{proc}
	}
	if _, err := c.queue.Add(w); err != nil {
		if proc != nil {
			c.queue.Defer(proc)
		}
		return err
	}
	rec.state = recordingInserted
	c.log.Debug("graphite: recording inserted",
		"recorder", rec.recorderID, "commands", len(rec.commands), "sync", info.SyncToCPU)
	return nil
}

func (c *Context) checkInsert(rec *Recording) error {
	switch {
	case c.closed:
		return ErrInvalidContext
	case rec == nil:
		return ErrInvalidRecording
	case rec.state == recordingInserted:
		return ErrRecordingInserted
	case rec.state == recordingReleased:
		return ErrInvalidRecording
	case rec.shared != c.shared:
		return ErrForeignRecording
	case c.queue.Lost():
		return ErrDeviceLost
	}
	return nil
}

// Submit dispatches the pending batch, which may be empty, as a new
// submission. With SyncToCPUYes it then waits for every submission issued
// so far; otherwise it only waits for submissions carrying a Recording
// inserted with SyncToCPU. Completed work has its finished procs and
// readback callbacks delivered before Submit returns.
//
// Waiting stops early when ctx is done; the submission stays in flight.
//
// When the device rejects the batch (for example a command it cannot
// execute) Submit returns that error, the batch's finished procs fire with
// ok=false like those of a rejected insertion, and the Context stays
// usable.
func (c *Context) Submit(ctx context.Context, sync SyncToCPU) error {
	defer c.owner.Enter("Submit")()
	if c.closed {
		return ErrInvalidContext
	}

	_, submitErr := c.queue.Submit(c.opts.label)
	if submitErr != nil && !device.IsRejection(submitErr) {
		c.mapped.Process()
		return c.deviceError(submitErr)
	}
	if submitErr != nil {
		c.log.Warn("graphite: submission rejected", "err", submitErr)
	}

	var err error
	if sync {
		err = c.queue.WaitAll(ctx)
	} else {
		err = c.queue.WaitSync(ctx)
	}
	c.mapped.Process()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return err
		}
		return c.deviceError(err)
	}
	return submitErr
}

// CheckAsyncWorkCompletion delivers the finished procs and readback
// callbacks of submissions that completed, oldest first. It never blocks.
func (c *Context) CheckAsyncWorkCompletion() {
	defer c.owner.Enter("CheckAsyncWorkCompletion")()
	if c.closed {
		return
	}
	if err := c.queue.Poll(); err != nil {
		_ = c.deviceError(err)
	}
	c.mapped.Process()
}

func (c *Context) deviceError(err error) error {
	c.log.Warn("graphite: device error", "err", err)
	if !errors.Is(err, ErrDeviceLost) {
		return fmt.Errorf("%w: %w", ErrDeviceLost, err)
	}
	return err
}

// DeleteBackendTexture releases a texture made by
// [Recorder.CreateBackendTexture] and invalidates bt. The device texture is
// destroyed once no submission uses it. Invalid textures and textures of
// other Contexts or backends are ignored.
func (c *Context) DeleteBackendTexture(bt *BackendTexture) {
	defer c.owner.Enter("DeleteBackendTexture")()
	if bt == nil || !bt.IsValid() {
		return
	}
	h := bt.h
	if h.ctxID != c.id || h.backend != c.shared.backend {
		return
	}
	h.deleted = true
	c.prov.Unref(h.res)
	*bt = BackendTexture{}
}

// FreeGPUResources destroys every idle cached resource.
func (c *Context) FreeGPUResources() {
	defer c.owner.Enter("FreeGPUResources")()
	if c.closed {
		return
	}
	n := c.prov.Purge()
	c.log.Debug("graphite: freed idle resources", "count", n)
}

// PerformDeferredCleanup destroys cached resources idle for longer than
// age.
func (c *Context) PerformDeferredCleanup(age time.Duration) {
	defer c.owner.Enter("PerformDeferredCleanup")()
	if c.closed {
		return
	}
	c.CheckAsyncWorkCompletion()
	c.prov.PurgeOlderThan(age)
}

// MaxBudgetedBytes returns the byte budget of the resource cache.
func (c *Context) MaxBudgetedBytes() uint64 {
	return c.prov.MaxBudgetedBytes()
}

// SetMaxBudgetedBytes changes the byte budget, evicting idle resources to
// fit.
func (c *Context) SetMaxBudgetedBytes(n uint64) {
	defer c.owner.Enter("SetMaxBudgetedBytes")()
	c.prov.SetMaxBudgetedBytes(n)
}

// CurrentBudgetedBytes returns the bytes of budgeted resources, in use or
// idle.
func (c *Context) CurrentBudgetedBytes() uint64 {
	return c.prov.CurrentBudgetedBytes()
}

// Stats returns resource and queue statistics.
func (c *Context) Stats() (resource.Stats, queue.Stats) {
	defer c.owner.Enter("Stats")()
	return c.prov.Stats(), c.queue.Stats()
}

// Close waits (up to the teardown timeout) for in-flight work, fails
// everything else, and releases the Context's resources. Every outstanding
// finished proc and readback callback has been called when Close returns.
//
// Work the device is still executing when the timeout expires keeps its
// resources alive; they are released, and the device destroyed, once the
// device finishes it. Otherwise the device is destroyed once no Recorder or
// Recording of this Context is left. Close is idempotent.
func (c *Context) Close() error {
	defer c.owner.Enter("Close")()
	if c.closed {
		return nil
	}
	c.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.teardownTimeout)
	defer cancel()
	c.queue.Teardown(ctx)
	c.mapped.FailAll()

	st := c.prov.Stats()
	c.prov.Close()
	c.log.Info("graphite: context closed", "live", st.Live, "idle", st.Idle)

	drain := c.queue.TakeAbandoned()
	if drain == nil {
		c.shared.unref()
		return nil
	}
	c.log.Warn("graphite: device still running failed work, releasing it in the background")
	shared := c.shared
	go func() {
		drain(context.Background())
		shared.unref()
	}()
	return nil
}
