package graphite

import (
	"slices"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/resource"
)

type recordingState uint8

const (
	recordingOpen recordingState = iota
	recordingInserted
	recordingReleased
)

// Recording is an immutable, ordered unit of GPU work produced by
// [Recorder.Snapshot].
//
// The caller owns a Recording until it is passed to
// [Context.InsertRecording]; from then on the Context owns it and releases
// it when its submission completes or fails. A Recording that is never
// inserted must be released with Close.
type Recording struct {
	shared     *SharedContext
	ctxID      ContextID
	recorderID uint32
	commands   []device.Command
	resources  []*resource.Resource
	priority   int
	label      string
	state      recordingState
}

// RecorderID returns the unique ID of the Recorder that produced r.
func (r *Recording) RecorderID() uint32 { return r.recorderID }

// ContextID returns the ID of the Context whose Recorder produced r.
func (r *Recording) ContextID() ContextID { return r.ctxID }

// Len returns the number of commands.
func (r *Recording) Len() int { return len(r.commands) }

// Commands returns a copy of the command list.
func (r *Recording) Commands() []device.Command { return slices.Clone(r.commands) }

// Priority returns the scheduling hint set with WithPriority.
func (r *Recording) Priority() int { return r.priority }

// Label returns the debug label set with WithRecorderLabel.
func (r *Recording) Label() string { return r.label }

// Close releases a Recording that was never inserted. It is a no-op for
// inserted or already released Recordings.
func (r *Recording) Close() {
	if r == nil || r.state != recordingOpen {
		return
	}
	r.release()
}

// release drops the resource refs and the SharedContext ref.
func (r *Recording) release() {
	if r.state == recordingReleased {
		return
	}
	r.state = recordingReleased
	for _, res := range r.resources {
		res.Provider().Unref(res)
	}
	r.resources = nil
	r.commands = nil
	r.shared.unref()
}
