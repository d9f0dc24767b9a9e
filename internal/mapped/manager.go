// Package mapped implements the ClientMappedBufferManager: it holds async
// readback requests until the submission that fills their staging buffer
// completes, then maps the buffer and hands the pixels to the request's
// callback.
//
// Requests become ready in the order their submissions complete and are
// delivered in that order by Process. Every request is delivered exactly
// once: with data on success, with nil on device failure, rejection or
// teardown.
package mapped

import (
	"cmp"
	"image"
	"log/slog"
	"slices"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/pixel"
	"github.com/gogpu/graphite/internal/resource"
)

// Result is the pixel data handed to a callback. Pixels is only valid for
// the duration of the callback.
type Result struct {
	Pixels   []byte
	RowBytes int
	Width    int
	Height   int
	Format   gputypes.TextureFormat
}

// Callback receives the readback result, or nil on failure.
type Callback func(r *Result)

type state uint8

const (
	stateWaiting state = iota
	stateReady
	stateFailed
	stateDelivered
)

// Request is one async readback.
type Request struct {
	// SrcFormat is the format of the source texture and staging rows.
	SrcFormat gputypes.TextureFormat
	// DstFormat is the format handed to the callback.
	DstFormat gputypes.TextureFormat
	// Rect is the source rectangle.
	Rect image.Rectangle
	// Staging is the MapRead buffer the device copies into. The request
	// owns one usage ref on it.
	Staging *resource.Resource
	// BytesPerRow is the staging row pitch.
	BytesPerRow uint32
	// Index is the submission the request depends on.
	Index uint64
	// Callback receives the result.
	Callback Callback

	id    uint64
	state state
}

// ID returns the manager-assigned request id.
func (r *Request) ID() uint64 { return r.id }

// Manager tracks readback requests. It is owned by the Context goroutine.
type Manager struct {
	dev  device.Device
	prov *resource.Provider
	log  *slog.Logger

	nextID  uint64
	waiting map[uint64]*Request
	ready   []*Request
	scratch []byte
	depth   int
}

// NewManager creates a manager that maps buffers on dev and returns
// staging buffers to prov.
func NewManager(dev device.Device, prov *resource.Provider, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		dev:     dev,
		prov:    prov,
		log:     log,
		waiting: make(map[uint64]*Request),
	}
}

// Register starts tracking req until Complete is called for it.
func (m *Manager) Register(req *Request) {
	m.nextID++
	req.id = m.nextID
	req.state = stateWaiting
	m.waiting[req.id] = req
}

// Complete marks req ready (ok) or failed. It is the finished proc of the
// submission req depends on.
func (m *Manager) Complete(req *Request, ok bool) {
	if req.state != stateWaiting {
		return
	}
	delete(m.waiting, req.id)
	if ok {
		req.state = stateReady
	} else {
		req.state = stateFailed
	}
	m.ready = append(m.ready, req)
}

// Reject queues cb for delivery with nil on the next Process, for requests
// that failed validation.
func (m *Manager) Reject(cb Callback) {
	m.nextID++
	m.ready = append(m.ready, &Request{id: m.nextID, state: stateFailed, Callback: cb})
}

// Process delivers every ready request in completion order. Callbacks
// registered during delivery are delivered by a later Process.
func (m *Manager) Process() {
	ready := m.ready
	m.ready = nil
	for _, req := range ready {
		m.deliver(req, req.state == stateReady)
	}
}

// FailAll delivers nil to every outstanding request, ready ones included.
func (m *Manager) FailAll() {
	ready := m.ready
	m.ready = nil

	waiting := make([]*Request, 0, len(m.waiting))
	for _, req := range m.waiting {
		waiting = append(waiting, req)
	}
	clear(m.waiting)
	slices.SortFunc(waiting, func(a, b *Request) int { return cmp.Compare(a.id, b.id) })

	if n := len(ready) + len(waiting); n > 0 {
		m.log.Debug("mapped: failing outstanding readbacks", "count", n)
	}
	for _, req := range append(ready, waiting...) {
		m.deliver(req, false)
	}
}

// Outstanding returns the number of requests not yet delivered.
func (m *Manager) Outstanding() int {
	return len(m.waiting) + len(m.ready)
}

func (m *Manager) deliver(req *Request, ok bool) {
	if req.state == stateDelivered {
		return
	}
	req.state = stateDelivered
	defer m.release(req)

	if !ok {
		m.invoke(req, nil)
		return
	}

	buf := req.Staging.Buffer()
	data, err := m.dev.MapRead(buf)
	if err != nil {
		m.log.Warn("mapped: map failed", "request", req.id, "err", err)
		m.invoke(req, nil)
		return
	}
	defer m.dev.Unmap(buf)

	w, h := req.Rect.Dx(), req.Rect.Dy()
	rowBytes := w * pixel.BytesPerPixel(req.DstFormat)
	out := m.output(rowBytes * h)
	m.depth++
	defer func() { m.depth-- }()

	if err := pixel.Convert(out, rowBytes, req.DstFormat, data, int(req.BytesPerRow), req.SrcFormat, w, h); err != nil {
		m.log.Warn("mapped: convert failed", "request", req.id, "err", err)
		m.invoke(req, nil)
		return
	}
	m.invoke(req, &Result{Pixels: out, RowBytes: rowBytes, Width: w, Height: h, Format: req.DstFormat})
}

// output returns the conversion buffer. A callback that triggers a nested
// delivery still owns the shared scratch, so nested deliveries allocate.
func (m *Manager) output(n int) []byte {
	if m.depth > 0 {
		return make([]byte, n)
	}
	if cap(m.scratch) < n {
		m.scratch = make([]byte, n)
	}
	return m.scratch[:n]
}

func (m *Manager) invoke(req *Request, r *Result) {
	if req.Callback != nil {
		req.Callback(r)
	}
}

func (m *Manager) release(req *Request) {
	if req.Staging != nil {
		m.prov.Unref(req.Staging)
		req.Staging = nil
	}
}
