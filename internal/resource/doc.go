// Package resource implements the ResourceProvider: device textures and
// buffers with two reference counts and a budgeted cache of idle scratch
// resources.
//
// # Reference counts
//
// Every [Resource] carries a usage count (client handles, Recorders and
// Recordings that name it) and a command count (pending and in-flight
// submissions that execute commands touching it). The QueueManager takes a
// command ref when a Recording enters the pending batch and drops it only
// when the submission completes or fails. A resource becomes reusable, or is
// destroyed, only when both counts reach zero.
//
// # Scratch cache
//
// Scratch resources are keyed by descriptor. When idle they move to an LRU
// list; FindOrCreate reuses the most recently idled match. The provider
// tracks the bytes of every live budgeted resource and trims idle entries,
// least recently used first, whenever that total exceeds the budget.
// Resources in use are never evicted, so the budget may be exceeded
// temporarily.
//
// Allocation failures with device.ErrOutOfMemory purge the idle cache and
// retry once before surfacing the error.
package resource
