// Package owner provides the single-owner guard used by Context and Recorder.
//
// Both objects are single-owner: exactly one goroutine may drive them at a
// time, and both enter the guard in every method that changes them. In
// release builds the guard compiles to nothing. Building with the
// graphitedebug tag turns it into a checker that panics when a second
// goroutine enters while another is inside. Nested calls from callbacks on
// the owning goroutine are allowed.
//
// Usage:
//
//	func (c *Context) Submit(...) {
//		defer c.owner.Enter("Submit")()
//		...
//	}
package owner
