// Package queue implements the QueueManager: the pending batch, dispatch to
// the device, fence tracking and completion.
//
// Each submission moves strictly forward through
//
//	Pending -> Dispatched -> Complete
//
// or ends in Failed when the device reports an error. Dispatched
// submissions are kept in dispatch order and Poll promotes them oldest
// first, stopping at the first fence that has not signaled, so completion is
// observed monotonically.
//
// A Work holds command refs on every resource it touches from the moment it
// enters the pending batch until its submission completes or fails. This is
// what keeps the resource provider from recycling a texture that is still in
// flight.
//
// Manager is owned by a single goroutine (the Context owner) and is not safe
// for concurrent use. Finished procs run synchronously inside Poll, Wait,
// Fail and Teardown, never on a background goroutine.
package queue
