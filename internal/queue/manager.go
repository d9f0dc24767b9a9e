package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/resource"
)

// ErrDiscarded is reported for Works dropped by Teardown before dispatch.
var ErrDiscarded = errors.New("queue: work discarded")

// Stats contains queue statistics.
type Stats struct {
	// Pending is the number of Works in the pending batch.
	Pending int
	// InFlight is the number of dispatched, not yet completed submissions.
	InFlight int
	// LastIndex is the index of the most recent submission.
	LastIndex uint64
	// CompletedIndex is the index of the most recent completed submission.
	CompletedIndex uint64
	// Abandoned is the number of failed submissions the device may still
	// be executing. Their resources stay alive until the device is done.
	Abandoned int
	// Lost reports whether the manager is in the terminal failure state.
	Lost bool
}

// Manager orders Works into submissions and tracks their fences.
type Manager struct {
	dev  device.Device
	prov *resource.Provider
	log  *slog.Logger

	pending  []*Work
	touched  map[device.Texture]struct{}
	inflight []*submission

	lastIndex      uint64
	completedIndex uint64

	deferred  []FinishedProc
	rejected  []*submission
	abandoned []*submission

	lost    bool
	lostErr error
}

// NewManager creates a queue manager. prov receives the command refs.
func NewManager(dev device.Device, prov *resource.Provider, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		dev:     dev,
		prov:    prov,
		log:     log,
		touched: make(map[device.Texture]struct{}),
	}
}

// Add appends w to the pending batch and takes its command refs. It
// returns the index the batch will be dispatched with. After device loss
// it returns device.ErrDeviceLost and takes no refs.
func (m *Manager) Add(w *Work) (uint64, error) {
	if m.lost {
		return 0, m.lostErr
	}
	for _, r := range w.Resources {
		m.prov.RefCommand(r)
	}
	for _, t := range w.textures() {
		m.touched[t] = struct{}{}
	}
	w.state = StatePending
	m.pending = append(m.pending, w)
	return m.lastIndex + 1, nil
}

// Touches reports whether the pending batch references t.
func (m *Manager) Touches(t device.Texture) bool {
	_, ok := m.touched[t]
	return ok
}

// Submit dispatches the pending batch, which may be empty, as a new
// submission and returns its index.
func (m *Manager) Submit(label string) (uint64, error) {
	if m.lost {
		return 0, m.lostErr
	}
	works := m.pending
	m.pending = nil
	m.touched = make(map[device.Texture]struct{})
	return m.dispatch(works, label)
}

// SubmitDetached dispatches w as its own submission without flushing the
// pending batch. The caller guarantees that w does not depend on pending
// work.
func (m *Manager) SubmitDetached(w *Work) (uint64, error) {
	if m.lost {
		return 0, m.lostErr
	}
	for _, r := range w.Resources {
		m.prov.RefCommand(r)
	}
	return m.dispatch([]*Work{w}, w.Label)
}

func (m *Manager) dispatch(works []*Work, label string) (uint64, error) {
	var (
		cmds     []device.Command
		priority int
		sync     bool
	)
	for i, w := range works {
		cmds = append(cmds, w.Commands...)
		if i == 0 || w.Priority > priority {
			priority = w.Priority
		}
		sync = sync || w.SyncToCPU
	}

	m.lastIndex++
	s := &submission{index: m.lastIndex, works: works, syncToCPU: sync}
	for _, w := range works {
		w.index = s.index
	}

	fence, err := m.dev.Submit(cmds, device.SubmitInfo{Label: label, Priority: priority})
	if device.IsRejection(err) {
		m.log.Warn("queue: submission rejected", "index", s.index, "err", err)
		m.rejected = append(m.rejected, s)
		return s.index, fmt.Errorf("queue: submission %d: %w", s.index, err)
	}
	if err != nil {
		m.log.Warn("queue: submit failed", "index", s.index, "err", err)
		m.inflight = append(m.inflight, s)
		m.fail(err)
		return s.index, m.lostErr
	}

	s.fence = fence
	for _, w := range works {
		w.state = StateDispatched
	}
	m.inflight = append(m.inflight, s)
	m.log.Debug("queue: dispatched", "index", s.index, "works", len(works), "commands", len(cmds))
	return s.index, nil
}

// Poll promotes completed submissions oldest first and fires their
// finished procs. It never blocks. Deferred procs fire first.
//
// A submission the device rejected fails alone; any other device error
// fails everything.
func (m *Manager) Poll() error {
	m.fireDeferred()
	m.reap()
	for len(m.inflight) > 0 {
		s := m.inflight[0]
		done, err := m.dev.Poll(s.fence)
		switch {
		case device.IsRejection(err):
			m.inflight = m.inflight[1:]
			m.reject(s, done, err)
		case err != nil:
			m.fail(err)
			return m.lostErr
		case !done:
			return nil
		default:
			m.inflight = m.inflight[1:]
			m.complete(s)
		}
	}
	return nil
}

// WaitAll blocks until every dispatched submission completes, then
// promotes them.
func (m *Manager) WaitAll(ctx context.Context) error {
	return m.waitThrough(ctx, m.lastIndex)
}

// WaitSync blocks until the newest dispatched submission flagged SyncToCPU
// (and everything before it) completes. It returns immediately when no such
// submission is in flight.
func (m *Manager) WaitSync(ctx context.Context) error {
	var target uint64
	for _, s := range m.inflight {
		if s.syncToCPU {
			target = s.index
		}
	}
	if target == 0 {
		return nil
	}
	return m.waitThrough(ctx, target)
}

func (m *Manager) waitThrough(ctx context.Context, index uint64) error {
	m.fireDeferred()
	for len(m.inflight) > 0 && m.inflight[0].index <= index {
		s := m.inflight[0]
		err := m.dev.Wait(ctx, s.fence)
		switch {
		case err == nil:
			m.inflight = m.inflight[1:]
			m.complete(s)
		case ctx.Err() != nil && errors.Is(err, ctx.Err()):
			return err
		case device.IsRejection(err):
			m.inflight = m.inflight[1:]
			done, _ := m.dev.Poll(s.fence)
			m.reject(s, done, err)
		default:
			m.fail(err)
			return m.lostErr
		}
	}
	return nil
}

// Defer schedules proc to fire with ok=false on the next Poll or Wait.
func (m *Manager) Defer(proc FinishedProc) {
	if proc != nil {
		m.deferred = append(m.deferred, proc)
	}
}

// Fail moves every pending and in-flight Work to Failed, fires their procs
// with ok=false and refuses further work with device.ErrDeviceLost.
func (m *Manager) Fail(cause error) {
	m.fail(cause)
}

func (m *Manager) fail(cause error) {
	if !m.lost {
		m.lost = true
		m.lostErr = fmt.Errorf("%w: %w", device.ErrDeviceLost, cause)
		if errors.Is(cause, device.ErrDeviceLost) {
			m.lostErr = cause
		}
		m.log.Warn("queue: device failure, failing outstanding work",
			"inflight", len(m.inflight), "pending", len(m.pending), "err", cause)
	}

	inflight := m.inflight
	m.inflight = nil
	pending := m.pending
	m.pending = nil
	m.touched = make(map[device.Texture]struct{})

	m.fireDeferred()
	for _, s := range inflight {
		m.abandonOrRetire(s)
	}
	if len(pending) > 0 {
		m.retire(&submission{works: pending}, false)
	}
}

// Teardown discards the pending batch, waits for in-flight submissions
// until ctx is done, and fails whatever has not completed by then. Every
// finished proc has fired when Teardown returns. Submissions the device is
// still executing keep their command refs; see TakeAbandoned.
func (m *Manager) Teardown(ctx context.Context) {
	pending := m.pending
	m.pending = nil
	m.touched = make(map[device.Texture]struct{})
	m.fireDeferred()

	for len(m.inflight) > 0 {
		s := m.inflight[0]
		m.inflight = m.inflight[1:]
		if !m.lost && m.dev.Wait(ctx, s.fence) == nil {
			m.complete(s)
			continue
		}
		if done, err := m.dev.Poll(s.fence); done && err == nil && !m.lost {
			m.complete(s)
			continue
		}
		m.abandonOrRetire(s)
	}
	if len(pending) > 0 {
		m.log.Debug("queue: discarding pending work", "works", len(pending))
		m.retire(&submission{works: pending}, false)
	}
	if !m.lost {
		m.lost = true
		m.lostErr = fmt.Errorf("%w: %w", device.ErrDeviceLost, ErrDiscarded)
	}
}

func (m *Manager) complete(s *submission) {
	m.completedIndex = s.index
	m.log.Debug("queue: complete", "index", s.index)
	m.retire(s, true)
}

// reject fails s alone. The device is still usable.
func (m *Manager) reject(s *submission, done bool, err error) {
	m.log.Warn("queue: submission failed", "index", s.index, "err", err)
	if done {
		m.completedIndex = s.index
		m.retire(s, false)
		return
	}
	m.abandon(s)
}

// abandonOrRetire fails s, keeping its command refs while the device may
// still execute it.
func (m *Manager) abandonOrRetire(s *submission) {
	if s.fence != nil {
		if done, _ := m.dev.Poll(s.fence); !done {
			m.abandon(s)
			return
		}
	}
	m.retire(s, false)
}

// retire drops refs and fires procs for every Work of s.
func (m *Manager) retire(s *submission, ok bool) {
	m.unrefCommands(s)
	m.finish(s, ok)
}

// abandon fires the procs of s with ok=false but keeps its command refs
// until the device reports the fence done.
func (m *Manager) abandon(s *submission) {
	m.log.Debug("queue: abandoning unfinished submission", "index", s.index)
	m.abandoned = append(m.abandoned, s)
	m.finish(s, false)
}

func (m *Manager) finish(s *submission, ok bool) {
	state := StateComplete
	if !ok {
		state = StateFailed
	}
	for _, w := range s.works {
		w.state = state
		if w.Release != nil {
			w.Release()
			w.Release = nil
		}
	}
	for _, w := range s.works {
		procs := w.Finished
		w.Finished = nil
		for _, p := range procs {
			p(ok)
		}
	}
}

// reap drops the command refs of abandoned submissions whose fence is done.
func (m *Manager) reap() {
	kept := m.abandoned[:0]
	for _, s := range m.abandoned {
		if done, _ := m.dev.Poll(s.fence); done {
			m.unrefCommands(s)
			continue
		}
		kept = append(kept, s)
	}
	clear(m.abandoned[len(kept):])
	m.abandoned = kept
}

func (m *Manager) unrefCommands(s *submission) {
	for _, w := range s.works {
		for _, r := range w.Resources {
			m.prov.UnrefCommand(r)
		}
	}
}

// TakeAbandoned hands over the submissions that failed while the device
// was still executing them. The returned func blocks until the device is
// done with each of them or ctx is done, dropping their command refs as
// they finish. It may run on any goroutine. It returns nil when nothing was
// abandoned.
func (m *Manager) TakeAbandoned() func(ctx context.Context) {
	m.reap()
	subs := m.abandoned
	m.abandoned = nil
	if len(subs) == 0 {
		return nil
	}
	dev, prov := m.dev, m.prov
	return func(ctx context.Context) {
		for _, s := range subs {
			err := dev.Wait(ctx, s.fence)
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return
			}
			for _, w := range s.works {
				for _, r := range w.Resources {
					prov.UnrefCommand(r)
				}
			}
		}
	}
}

func (m *Manager) fireDeferred() {
	for len(m.deferred) > 0 || len(m.rejected) > 0 {
		procs := m.deferred
		m.deferred = nil
		for _, p := range procs {
			p(false)
		}
		rejected := m.rejected
		m.rejected = nil
		for _, s := range rejected {
			m.retire(s, false)
		}
	}
}

// Lost reports whether the manager is in the terminal failure state.
func (m *Manager) Lost() bool { return m.lost }

// Stats returns queue statistics.
func (m *Manager) Stats() Stats {
	return Stats{
		Pending:        len(m.pending),
		InFlight:       len(m.inflight),
		LastIndex:      m.lastIndex,
		CompletedIndex: m.completedIndex,
		Abandoned:      len(m.abandoned),
		Lost:           m.lost,
	}
}
