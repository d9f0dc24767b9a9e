package graphite

import (
	"strconv"
	"sync/atomic"
)

// ContextID identifies a Context. IDs are unique within the process and
// never reused. The zero value is the invalid ID.
type ContextID uint32

// InvalidContextID is the ID of no Context.
const InvalidContextID ContextID = 0

var lastContextID atomic.Uint32

// NextContextID returns a new valid ID.
func NextContextID() ContextID {
	for {
		if id := ContextID(lastContextID.Add(1)); id.IsValid() {
			return id
		}
	}
}

// IsValid reports whether id identifies a Context.
func (id ContextID) IsValid() bool { return id != InvalidContextID }

// MakeInvalid resets id to InvalidContextID.
func (id *ContextID) MakeInvalid() { *id = InvalidContextID }

func (id ContextID) String() string {
	if !id.IsValid() {
		return "ContextID(invalid)"
	}
	return "ContextID(" + strconv.FormatUint(uint64(id), 10) + ")"
}
