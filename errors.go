package graphite

import (
	"errors"

	"github.com/gogpu/graphite/device"
)

// Errors returned by Context, Recorder and Recording methods. Test with
// errors.Is; returned errors may wrap additional detail.
var (
	// ErrInvalidContext is returned by methods of a closed Context.
	ErrInvalidContext = errors.New("graphite: invalid context")

	// ErrRecorderFinalized is returned by Recorder methods after Snapshot
	// or Close.
	ErrRecorderFinalized = errors.New("graphite: recorder already finalized")

	// ErrForeignResource is returned when a command references a texture
	// or buffer that does not belong to the Recorder's Context.
	ErrForeignResource = errors.New("graphite: resource belongs to another context")

	// ErrInvalidRecording is returned when inserting a nil or released
	// Recording.
	ErrInvalidRecording = errors.New("graphite: invalid recording")

	// ErrForeignRecording is returned when inserting a Recording made by a
	// Recorder of another Context.
	ErrForeignRecording = errors.New("graphite: recording belongs to another context")

	// ErrRecordingInserted is returned when inserting a Recording twice.
	ErrRecordingInserted = errors.New("graphite: recording already inserted")

	// ErrInvalidArgument is returned for out-of-range sizes, rectangles and
	// nil or released handles.
	ErrInvalidArgument = errors.New("graphite: invalid argument")

	// ErrUnsupported is returned for operations the device cannot perform.
	ErrUnsupported = device.ErrUnsupported

	// ErrDeviceLost is returned after the device failed. The Context must be
	// closed and recreated.
	ErrDeviceLost = device.ErrDeviceLost
)
