package queue

import (
	"fmt"

	"github.com/gogpu/graphite/device"
	"github.com/gogpu/graphite/internal/resource"
)

// State is the lifecycle state of a submission.
type State uint8

const (
	// StatePending means the work is in the pending batch.
	StatePending State = iota
	// StateDispatched means the device accepted the submission and a fence
	// was allocated.
	StateDispatched
	// StateComplete means the fence signaled without error.
	StateComplete
	// StateFailed is terminal: the device was lost or the work was discarded.
	StateFailed
)

var stateNames = [...]string{
	StatePending:    "Pending",
	StateDispatched: "Dispatched",
	StateComplete:   "Complete",
	StateFailed:     "Failed",
}

// String returns the state name.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FinishedProc is called exactly once when the submission carrying a Work
// completes (ok) or fails.
type FinishedProc func(ok bool)

// Work is one unit of the pending batch: an inserted Recording or an
// internal readback copy.
type Work struct {
	// Label is a debug label.
	Label string

	// Commands execute in order after every command of earlier Works.
	Commands []device.Command

	// Resources are the provider resources the commands touch. The manager
	// holds a command ref on each while the Work is pending or in flight.
	Resources []*resource.Resource

	// Priority is forwarded to the device as a scheduling hint.
	Priority int

	// SyncToCPU makes the next Submit wait for this Work's submission.
	SyncToCPU bool

	// Finished procs fire in order when the submission retires.
	Finished []FinishedProc

	// Release runs once, after the command refs are dropped and before the
	// finished procs.
	Release func()

	state State
	index uint64
}

// State returns the Work's lifecycle state.
func (w *Work) State() State { return w.state }

// Index returns the submission index, or 0 while pending.
func (w *Work) Index() uint64 { return w.index }

// textures returns every texture the Work's commands touch.
func (w *Work) textures() []device.Texture {
	var out []device.Texture
	for _, c := range w.Commands {
		out = append(out, c.Textures()...)
	}
	return out
}

// submission is a dispatched batch.
type submission struct {
	index     uint64
	works     []*Work
	fence     device.Fence
	syncToCPU bool
}
